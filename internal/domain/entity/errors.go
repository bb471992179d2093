package entity

import (
	"errors"
	"fmt"
)

// Error kinds. Every error produced by the workflow layers wraps exactly one of these.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
)

// Error carries a kind and a caller-facing message
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap lets errors.Is match the kind
func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewValidationError reports a malformed request
func NewValidationError(format string, args ...interface{}) *Error {
	return newError(ErrValidation, format, args...)
}

// NewNotFoundError reports an unknown template or instance
func NewNotFoundError(resource, id string) *Error {
	return newError(ErrNotFound, "%s %s not found", resource, id)
}

// NewUnauthorizedError reports a caller who may not act on the current step
func NewUnauthorizedError(userID string) *Error {
	return newError(ErrUnauthorized, "you are not an approver for this step (user %s)", userID)
}

// NewInvalidStateError reports a decision against a stale or terminal step
func NewInvalidStateError(format string, args ...interface{}) *Error {
	return newError(ErrInvalidState, format, args...)
}

// NewStepResolvedError is the InvalidState error for stale decisions
func NewStepResolvedError(instanceID string, step int) *Error {
	return newError(ErrInvalidState, "this step has already been resolved (instance %s, step %d)", instanceID, step)
}

// NewConflictError reports a lost compare-and-swap; reload and retry
func NewConflictError(instanceID string) *Error {
	return newError(ErrConflict, "instance %s was modified concurrently, reload and retry", instanceID)
}

// ErrorKind returns the taxonomy kind of err, or nil for foreign errors
func ErrorKind(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrUnauthorized, ErrInvalidState, ErrConflict} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// NewForbiddenError reports a caller who may not perform an action on an instance
func NewForbiddenError(format string, args ...interface{}) *Error {
	return newError(ErrUnauthorized, format, args...)
}
