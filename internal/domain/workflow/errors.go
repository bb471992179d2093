package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when no transition is configured for a trigger
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrGuardFailed is returned when every guard for a trigger rejected it
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrMissingStep is returned when an instance or ledger references a step the template lacks
	ErrMissingStep = errors.New("step not defined in template")
)
