package workflow

import (
	"context"
	"errors"
	"testing"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StatePending, false},
		{StateApproved, true},
		{StateRejected, true},
		{StateCancelled, true},
		{State("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"pending", StatePending, true},
		{"cancelled", StateCancelled, true},
		{"upper case is not a state", State("PENDING"), false},
		{"empty state", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuilder_ConfigurePanicsOnInvalidState(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Configure() should panic on invalid state")
		}
	}()

	NewBuilder().Configure(State("INVALID"))
}

func TestBuilder_BuildPanicsOnInvalidInitialState(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Build() should panic on invalid initial state")
		}
	}()

	NewBuilder().Build(State("INVALID"))
}

func TestStateConfiguration_PermitIf_GuardFails(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StatePending).
		PermitIf(TriggerApprove, StateApproved, func(ctx context.Context) bool {
			return false
		})

	machine := builder.Build(StatePending)

	if machine.CanFire(context.Background(), TriggerApprove) {
		t.Error("CanFire() should be false when the only guard fails")
	}

	err := machine.Fire(context.Background(), TriggerApprove)
	if !errors.Is(err, ErrGuardFailed) {
		t.Errorf("Fire() error = %v, want %v", err, ErrGuardFailed)
	}
	if machine.State() != StatePending {
		t.Errorf("State should remain %v after failed Fire(), got %v", StatePending, machine.State())
	}
}

func TestStateMachine_Fire_InvalidTransition(t *testing.T) {
	machine := NewLifecycle(StateRejected, func() bool { return false })

	err := machine.Fire(context.Background(), TriggerApprove)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fire() error = %v, want %v", err, ErrInvalidTransition)
	}
	if machine.State() != StateRejected {
		t.Errorf("State should remain %v, got %v", StateRejected, machine.State())
	}
}

func TestStateMachine_Immutability(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StatePending).Permit(TriggerCancel, StateCancelled)

	machine1 := builder.Build(StatePending)
	machine2 := builder.Build(StatePending)

	// configuring after Build must not leak into built machines
	builder.Configure(StatePending).Permit(TriggerReject, StateRejected)

	if err := machine1.Fire(context.Background(), TriggerCancel); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if machine2.State() != StatePending {
		t.Errorf("machine2 state = %v, want %v", machine2.State(), StatePending)
	}
	if machine2.CanFire(context.Background(), TriggerReject) {
		t.Error("machine2 should not see transitions configured after Build")
	}
}

func TestStateMachine_PermittedTriggersSorted(t *testing.T) {
	machine := NewLifecycle(StatePending, func() bool { return true })

	got := machine.PermittedTriggers()
	want := []Trigger{TriggerAdvance, TriggerApprove, TriggerCancel, TriggerReject}
	if len(got) != len(want) {
		t.Fatalf("PermittedTriggers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("PermittedTriggers()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLifecycle_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		hasNext bool
		trigger Trigger
		want    State
		wantErr error
	}{
		{"advance with next step", true, TriggerAdvance, StatePending, nil},
		{"advance on last step", false, TriggerAdvance, StatePending, ErrGuardFailed},
		{"approve on last step", false, TriggerApprove, StateApproved, nil},
		{"approve before last step", true, TriggerApprove, StatePending, ErrGuardFailed},
		{"reject", true, TriggerReject, StateRejected, nil},
		{"cancel", false, TriggerCancel, StateCancelled, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			machine := NewLifecycle(StatePending, func() bool { return tt.hasNext })
			err := machine.Fire(context.Background(), tt.trigger)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Fire() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Errorf("Fire() unexpected error: %v", err)
			}
			if machine.State() != tt.want {
				t.Errorf("State() = %v, want %v", machine.State(), tt.want)
			}
		})
	}
}

func TestLifecycle_TerminalStatesAreAbsorbing(t *testing.T) {
	for _, terminal := range []State{StateApproved, StateRejected, StateCancelled} {
		machine := NewLifecycle(terminal, func() bool { return true })
		for _, trigger := range []Trigger{TriggerAdvance, TriggerApprove, TriggerReject, TriggerCancel} {
			if err := machine.Fire(context.Background(), trigger); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s --%s--> error = %v, want %v", terminal, trigger, err, ErrInvalidTransition)
			}
		}
		if len(machine.PermittedTriggers()) != 0 {
			t.Errorf("%s should permit no triggers", terminal)
		}
	}
}
