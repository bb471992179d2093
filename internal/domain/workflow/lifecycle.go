package workflow

import "context"

// NewLifecycle builds the instance state machine.
//
//	pending --ADVANCE [has next step]--> pending
//	pending --APPROVE [on last step]---> approved
//	pending --REJECT-------------------> rejected
//	pending --CANCEL-------------------> cancelled
//
// approved, rejected and cancelled have no outgoing transitions.
func NewLifecycle(initial State, hasNextStep func() bool) StateMachine {
	hasNext := func(context.Context) bool { return hasNextStep() }
	isLast := func(context.Context) bool { return !hasNextStep() }

	builder := NewBuilder()
	builder.Configure(StatePending).
		PermitIf(TriggerAdvance, StatePending, hasNext).
		PermitIf(TriggerApprove, StateApproved, isLast).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerCancel, StateCancelled)

	return builder.Build(initial)
}
