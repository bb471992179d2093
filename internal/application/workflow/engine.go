package workflow

import (
	"context"

	"github.com/garyjia/bi-workflow/internal/domain/entity"
)

// ApprovalEngine is the only component that changes instance state
type ApprovalEngine interface {
	// Initiate creates an instance at pending(0) and resolves step 0's approvers
	Initiate(ctx context.Context, req InitiateRequest) (*entity.WorkflowInstance, error)

	// Decide records an approver's decision and applies any resulting transition
	Decide(ctx context.Context, req DecideRequest) (*DecideResult, error)

	// Cancel moves a pending instance to cancelled
	Cancel(ctx context.Context, req CancelRequest) (*entity.WorkflowInstance, error)

	// Resume re-evaluates the current step from the ledger and applies a
	// transition that a failed Decide left behind
	Resume(ctx context.Context, instanceID string) (*DecideResult, error)
}

// InitiateRequest starts an approval flow for a business entity
type InitiateRequest struct {
	EntityType  string                 `json:"entity_type"`
	EntityID    string                 `json:"entity_id"`
	RequesterID string                 `json:"requester_id"`
	Priority    entity.Priority        `json:"priority"`
	TemplateID  string                 `json:"template_id,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Notes       string                 `json:"notes,omitempty"`
}

// DecideRequest is one approver's verdict on one step
type DecideRequest struct {
	InstanceID string          `json:"instance_id"`
	StepIndex  int             `json:"step_index"`
	ApproverID string          `json:"approver_id"`
	Decision   entity.Decision `json:"decision"`
	Comments   string          `json:"comments,omitempty"`
}

// CancelRequest withdraws a pending instance
type CancelRequest struct {
	InstanceID string `json:"instance_id"`
	ByUserID   string `json:"by_user_id"`
	Reason     string `json:"reason,omitempty"`
}

// Outcome describes what a decision did to its instance
type Outcome string

const (
	// OutcomeRecorded means the ledger entry was written and the step is still open
	OutcomeRecorded  Outcome = "recorded"
	OutcomeAdvanced  Outcome = "advanced"
	OutcomeApproved  Outcome = "approved"
	OutcomeRejected  Outcome = "rejected"
	OutcomeCancelled Outcome = "cancelled"
)

// DecideResult reports the ledger entry and the instance state after a decision
type DecideResult struct {
	Instance  *entity.WorkflowInstance `json:"instance"`
	Approval  *entity.StepApproval     `json:"approval,omitempty"`
	Outcome   Outcome                  `json:"outcome"`
	Approvals int                      `json:"approvals"`
	Required  int                      `json:"required"`
}
