package port

import (
	"context"

	"github.com/garyjia/bi-workflow/internal/domain/entity"
	"github.com/garyjia/bi-workflow/internal/domain/event"
)

// Directory is the identity/org directory collaborator
type Directory interface {
	// UsersWithRole returns the users currently holding role
	UsersWithRole(ctx context.Context, role string) ([]string, error)

	// ManagerOf returns the direct manager of userID, or "" when there is none
	ManagerOf(ctx context.Context, userID string) (string, error)
}

// ResolveContext is what a resolver may inspect when a step is entered
type ResolveContext struct {
	InstanceID  string
	EntityType  string
	EntityID    string
	RequesterID string
	StepIndex   int
	Metadata    map[string]interface{}
}

// ApproverResolver turns an approver rule into concrete user IDs.
// It is called once per step entry, never cached across steps.
type ApproverResolver interface {
	Resolve(ctx context.Context, rule entity.ApproverRule, rc ResolveContext) ([]string, error)
}

// EventPublisher forwards domain events to an external broker
type EventPublisher interface {
	Publish(ctx context.Context, evt *event.Event) error
	Close() error
}
