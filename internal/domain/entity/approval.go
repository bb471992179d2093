package entity

import "time"

// StepApproval is one immutable ledger entry: an approver's decision on a step
type StepApproval struct {
	ID         string    `json:"id"`
	Seq        int64     `json:"seq"`
	InstanceID string    `json:"instance_id"`
	StepIndex  int       `json:"step_index"`
	ApproverID string    `json:"approver_id"`
	Decision   Decision  `json:"decision"`
	Comments   string    `json:"comments,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// PendingApproval is a derived row of a user's pending approvals feed
type PendingApproval struct {
	Instance      *WorkflowInstance `json:"instance"`
	StepIndex     int               `json:"step_index"`
	StepName      string            `json:"step_name"`
	StepNameAr    string            `json:"step_name_ar,omitempty"`
	Approvers     []string          `json:"approvers"`
	Policy        ApprovalPolicy    `json:"policy"`
	ApprovedCount int               `json:"approved_count"`
	Required      int               `json:"required"`
}

// Stats counts instances by status
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Approved  int `json:"approved"`
	Rejected  int `json:"rejected"`
	Cancelled int `json:"cancelled"`
}

// StaleInstance is a pending instance whose current step exceeded its SLA
type StaleInstance struct {
	Instance   *WorkflowInstance `json:"instance"`
	StepName   string            `json:"step_name"`
	PendingFor time.Duration     `json:"pending_for"`
	SLA        time.Duration     `json:"sla"`
}

// InstanceDetail joins an instance with its template snapshot and ledger
type InstanceDetail struct {
	Instance  *WorkflowInstance `json:"instance"`
	Template  *WorkflowTemplate `json:"template"`
	Approvals []*StepApproval   `json:"approvals"`
}

// VerifyResult compares stored state with the ledger replay
type VerifyResult struct {
	InstanceID     string `json:"instance_id"`
	StoredStatus   Status `json:"stored_status"`
	StoredStep     int    `json:"stored_step"`
	ReplayedStatus Status `json:"replayed_status"`
	ReplayedStep   int    `json:"replayed_step"`
	Advances       int    `json:"advances"`
	Consistent     bool   `json:"consistent"`
}
