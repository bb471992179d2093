package entity

import "time"

// WorkflowInstance is one running approval request for a business entity
type WorkflowInstance struct {
	ID              string                 `json:"id"`
	Code            string                 `json:"code"`
	TemplateID      string                 `json:"template_id"`
	TemplateVersion int                    `json:"template_version"`
	EntityType      string                 `json:"entity_type"`
	EntityID        string                 `json:"entity_id"`
	CurrentStep     int                    `json:"current_step"`
	Status          Status                 `json:"status"`
	Priority        Priority               `json:"priority"`
	RequesterID     string                 `json:"requester_id"`
	RequestedAt     time.Time              `json:"requested_at"`
	StepEnteredAt   time.Time              `json:"step_entered_at"`
	Assignments     []StepAssignment       `json:"assignments"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Notes           string                 `json:"notes,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	CompletedBy     string                 `json:"completed_by,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// StepAssignment is the approver set resolved when a step was entered
type StepAssignment struct {
	StepIndex int       `json:"step_index"`
	Approvers []string  `json:"approvers"`
	EnteredAt time.Time `json:"entered_at"`
}

// AssignmentFor returns the assignment recorded for step
func (i *WorkflowInstance) AssignmentFor(step int) (StepAssignment, bool) {
	for _, a := range i.Assignments {
		if a.StepIndex == step {
			return a, true
		}
	}
	return StepAssignment{}, false
}

// CurrentApprovers returns the resolved approvers of the current step
func (i *WorkflowInstance) CurrentApprovers() []string {
	a, _ := i.AssignmentFor(i.CurrentStep)
	return a.Approvers
}

// IsApprover reports whether userID belongs to the current step's approver set
func (i *WorkflowInstance) IsApprover(userID string) bool {
	for _, id := range i.CurrentApprovers() {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a copy safe to hand out of a store
func (i *WorkflowInstance) Clone() *WorkflowInstance {
	c := *i
	c.Assignments = make([]StepAssignment, len(i.Assignments))
	for n, a := range i.Assignments {
		a.Approvers = append([]string(nil), a.Approvers...)
		c.Assignments[n] = a
	}
	if i.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(i.Metadata))
		for k, v := range i.Metadata {
			c.Metadata[k] = v
		}
	}
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// StateUpdate is a compare-and-swap on the (status, current step) pair
type StateUpdate struct {
	InstanceID     string
	ExpectedStatus Status
	ExpectedStep   int
	NewStatus      Status
	NewStep        int
	// Assignment is appended when a new step is entered
	Assignment  *StepAssignment
	CompletedBy string
	At          time.Time
}

// InstanceFilter narrows instance listings
type InstanceFilter struct {
	Status      Status
	EntityType  string
	RequesterID string
	Limit       int
	Offset      int
}

// Listing limits
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Normalize clamps pagination to sane bounds
func (f InstanceFilter) Normalize() InstanceFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// InstancePage is one page of instances plus the unpaged total
type InstancePage struct {
	Items []*WorkflowInstance `json:"items"`
	Total int                 `json:"total"`
}
