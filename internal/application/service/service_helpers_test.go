package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/garyjia/bi-workflow/internal/domain/entity"
	"github.com/garyjia/bi-workflow/internal/infrastructure/persistence/memory"
)

type mockLogger struct {
	mu    sync.Mutex
	warns []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}
func (m *mockLogger) Warn(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warns = append(m.warns, msg)
}

var epoch = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func purchaseTemplate() *entity.WorkflowTemplate {
	return &entity.WorkflowTemplate{
		ID:         "tpl-po",
		Code:       "WFT-PO",
		Name:       "Purchase order",
		EntityType: entity.EntityTypePurchase,
		IsActive:   true,
		Steps: []entity.StepDefinition{
			{Index: 0, Name: "manager", Approver: entity.ApproverRule{Type: entity.RuleTypeUser, Users: []string{"mgr"}}, Policy: entity.ApprovalPolicy{Mode: entity.PolicyAny}, SLAHours: 4},
			{Index: 1, Name: "finance", Approver: entity.ApproverRule{Type: entity.RuleTypeRole, Role: "finance"}, Policy: entity.ApprovalPolicy{Mode: entity.PolicyAll}},
		},
	}
}

// seedPending stores a pending instance at step 0 assigned to approvers
func seedPending(t *testing.T, store *memory.Store, id string, priority entity.Priority, requested time.Time, approvers ...string) *entity.WorkflowInstance {
	t.Helper()
	inst := &entity.WorkflowInstance{
		ID:              id,
		Code:            "WF-" + id,
		TemplateID:      "tpl-po",
		TemplateVersion: 1,
		EntityType:      entity.EntityTypePurchase,
		EntityID:        "PO-" + id,
		Status:          entity.StatusPending,
		Priority:        priority,
		RequesterID:     "alice",
		RequestedAt:     requested,
		StepEnteredAt:   requested,
		Assignments:     []entity.StepAssignment{{StepIndex: 0, Approvers: approvers, EnteredAt: requested}},
		CreatedAt:       requested,
		UpdatedAt:       requested,
	}
	require.NoError(t, store.Instances().Create(context.Background(), inst))
	return inst
}

func appendDecision(t *testing.T, store *memory.Store, instanceID string, step int, approver string, d entity.Decision) {
	t.Helper()
	require.NoError(t, store.Approvals().Append(context.Background(), &entity.StepApproval{
		ID:         instanceID + "-" + approver,
		InstanceID: instanceID,
		StepIndex:  step,
		ApproverID: approver,
		Decision:   d,
		DecidedAt:  epoch,
	}))
}

func advance(t *testing.T, store *memory.Store, instanceID string, from int, to entity.Status, approvers ...string) {
	t.Helper()
	u := entity.StateUpdate{
		InstanceID:     instanceID,
		ExpectedStatus: entity.StatusPending,
		ExpectedStep:   from,
		NewStatus:      to,
		NewStep:        from,
		At:             epoch,
	}
	if to == entity.StatusPending {
		u.NewStep = from + 1
		u.Assignment = &entity.StepAssignment{StepIndex: from + 1, Approvers: approvers, EnteredAt: epoch}
	}
	_, err := store.Instances().UpdateState(context.Background(), u)
	require.NoError(t, err)
}
