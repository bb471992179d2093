package event

// Type identifies the type of domain event
type Type string

const (
	TypeInstanceInitiated Type = "workflow.initiated"
	TypeDecisionRecorded  Type = "workflow.decision_recorded"
	TypeStepAdvanced      Type = "workflow.step_advanced"
	TypeInstanceApproved  Type = "workflow.approved"
	TypeInstanceRejected  Type = "workflow.rejected"
	TypeInstanceCancelled Type = "workflow.cancelled"
	TypeStepUnassigned    Type = "workflow.step_unassigned"
	TypeSLABreached       Type = "workflow.sla_breached"
	TypeTemplatePublished Type = "template.published"
)

// AllTypes lists every event type in dispatch-table order
var AllTypes = []Type{
	TypeInstanceInitiated,
	TypeDecisionRecorded,
	TypeStepAdvanced,
	TypeInstanceApproved,
	TypeInstanceRejected,
	TypeInstanceCancelled,
	TypeStepUnassigned,
	TypeSLABreached,
	TypeTemplatePublished,
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the event marks the end of an instance
func (t Type) IsTerminal() bool {
	return t == TypeInstanceApproved || t == TypeInstanceRejected || t == TypeInstanceCancelled
}
