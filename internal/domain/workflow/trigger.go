package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	// TriggerAdvance moves a pending instance to its next step
	TriggerAdvance Trigger = "ADVANCE"
	// TriggerApprove completes an instance whose last step was approved
	TriggerApprove Trigger = "APPROVE"
	TriggerReject  Trigger = "REJECT"
	TriggerCancel  Trigger = "CANCEL"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
