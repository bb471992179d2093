package workflow

import "context"

// StateMachine tracks the current state and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire reports whether the trigger has a transition whose guard passes
	CanFire(ctx context.Context, trigger Trigger) bool

	// Fire executes the trigger, transitioning to the new state if allowed
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns the configured triggers of the current state, sorted
	PermittedTriggers() []Trigger
}
