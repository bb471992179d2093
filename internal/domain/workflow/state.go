package workflow

import "github.com/garyjia/bi-workflow/internal/domain/entity"

// State represents an instance state in the approval lifecycle.
// The current step index travels alongside the state; it is not part of it.
type State string

const (
	StatePending   State = State(entity.StatusPending)
	StateApproved  State = State(entity.StatusApproved)
	StateRejected  State = State(entity.StatusRejected)
	StateCancelled State = State(entity.StatusCancelled)
)

var validStates = map[State]bool{
	StatePending:   true,
	StateApproved:  true,
	StateRejected:  true,
	StateCancelled: true,
}

// IsTerminal returns true if no further transitions are allowed
func (s State) IsTerminal() bool {
	return s.IsValid() && s != StatePending
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid workflow state
func (s State) IsValid() bool {
	return validStates[s]
}

// Status converts the state to the persisted instance status
func (s State) Status() entity.Status {
	return entity.Status(s)
}
