package port

import (
	"context"

	"github.com/garyjia/bi-workflow/internal/domain/entity"
)

// TemplateRepository persists versioned workflow templates.
// A (ID, Version) row is never updated except for its active flag.
type TemplateRepository interface {
	// Create stores version 1 of a new template
	Create(ctx context.Context, tpl *entity.WorkflowTemplate) error

	// CreateVersion stores tpl as the next version of an existing template
	CreateVersion(ctx context.Context, tpl *entity.WorkflowTemplate) error

	// Get returns the latest version of a template
	Get(ctx context.Context, id string) (*entity.WorkflowTemplate, error)

	// GetVersion returns a specific version of a template
	GetVersion(ctx context.Context, id string, version int) (*entity.WorkflowTemplate, error)

	// GetByCode returns the latest version of the template with the given code
	GetByCode(ctx context.Context, code string) (*entity.WorkflowTemplate, error)

	// FindApplicable returns the latest active version of every template for an entity type
	FindApplicable(ctx context.Context, entityType string) ([]*entity.WorkflowTemplate, error)

	// List returns the latest version of each template matching the filter
	List(ctx context.Context, filter entity.TemplateFilter) ([]*entity.WorkflowTemplate, error)

	// Deactivate clears the active flag on every version of a template
	Deactivate(ctx context.Context, id string) error
}

// InstanceRepository persists workflow instances.
// UpdateState is the only mutation after Create.
type InstanceRepository interface {
	Create(ctx context.Context, instance *entity.WorkflowInstance) error
	Get(ctx context.Context, id string) (*entity.WorkflowInstance, error)
	GetByCode(ctx context.Context, code string) (*entity.WorkflowInstance, error)
	List(ctx context.Context, filter entity.InstanceFilter) (*entity.InstancePage, error)
	ListPending(ctx context.Context) ([]*entity.WorkflowInstance, error)
	CountByStatus(ctx context.Context) (map[entity.Status]int, error)

	// UpdateState applies the update only if the stored (status, step) still
	// equals the expected pair. It returns ErrConflict when it does not and
	// ErrNotFound when the instance is absent.
	UpdateState(ctx context.Context, update entity.StateUpdate) (*entity.WorkflowInstance, error)
}

// ApprovalRepository is the append-only step ledger
type ApprovalRepository interface {
	// Append records a decision. It fails with ErrInvalidState unless the
	// instance is pending at approval.StepIndex, or when the approver has
	// already decided that step. Seq is assigned on success.
	Append(ctx context.Context, approval *entity.StepApproval) error

	// ListByInstance returns the instance's ledger in ledger order
	ListByInstance(ctx context.Context, instanceID string) ([]*entity.StepApproval, error)

	// ListByStep returns one step's ledger in ledger order
	ListByStep(ctx context.Context, instanceID string, step int) ([]*entity.StepApproval, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
