package entity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func validTemplate() *WorkflowTemplate {
	return &WorkflowTemplate{
		Name:       "Expense approval",
		EntityType: EntityTypeExpense,
		Steps: []StepDefinition{
			{Index: 0, Name: "manager", Approver: ApproverRule{Type: RuleTypeDynamic, Resolver: "requester_manager"}, Policy: ApprovalPolicy{Mode: PolicyAny}},
			{Index: 1, Name: "finance", Approver: ApproverRule{Type: RuleTypeRole, Role: "finance"}, Policy: ApprovalPolicy{Mode: PolicyQuorum, Quorum: 2}},
		},
	}
}

func TestWorkflowTemplate_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*WorkflowTemplate)
		wantErr bool
	}{
		{"valid", func(*WorkflowTemplate) {}, false},
		{"missing name", func(t *WorkflowTemplate) { t.Name = " " }, true},
		{"missing entity type", func(t *WorkflowTemplate) { t.EntityType = "" }, true},
		{"zero steps", func(t *WorkflowTemplate) { t.Steps = nil }, true},
		{"gap in indexes", func(t *WorkflowTemplate) { t.Steps[1].Index = 2 }, true},
		{"unnamed step", func(t *WorkflowTemplate) { t.Steps[0].Name = "" }, true},
		{"user rule without users", func(t *WorkflowTemplate) { t.Steps[0].Approver = ApproverRule{Type: RuleTypeUser} }, true},
		{"user rule with blank id", func(t *WorkflowTemplate) { t.Steps[0].Approver = ApproverRule{Type: RuleTypeUser, Users: []string{""}} }, true},
		{"role rule without role", func(t *WorkflowTemplate) { t.Steps[1].Approver.Role = "" }, true},
		{"dynamic rule without resolver", func(t *WorkflowTemplate) { t.Steps[0].Approver.Resolver = "" }, true},
		{"unknown rule type", func(t *WorkflowTemplate) { t.Steps[0].Approver.Type = "group" }, true},
		{"quorum of zero", func(t *WorkflowTemplate) { t.Steps[1].Policy.Quorum = 0 }, true},
		{"unknown policy", func(t *WorkflowTemplate) { t.Steps[1].Policy.Mode = "majority" }, true},
		{"negative sla", func(t *WorkflowTemplate) { t.Steps[1].SLAHours = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := validTemplate()
			tt.mutate(tpl)
			err := tpl.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrValidation), "want validation error, got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWorkflowTemplate_Normalize(t *testing.T) {
	tpl := &WorkflowTemplate{Steps: []StepDefinition{{Name: "a"}, {Name: "b"}, {Name: "c"}}}

	tpl.Normalize()

	for i, s := range tpl.Steps {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, PolicyAny, s.Policy.Mode)
	}
}

func TestApprovalPolicy_Required(t *testing.T) {
	tests := []struct {
		policy ApprovalPolicy
		n      int
		want   int
	}{
		{ApprovalPolicy{Mode: PolicyAny}, 3, 1},
		{ApprovalPolicy{Mode: PolicyAll}, 3, 3},
		{ApprovalPolicy{Mode: PolicyQuorum, Quorum: 2}, 3, 2},
		{ApprovalPolicy{Mode: PolicyQuorum, Quorum: 4}, 3, 3},
		{ApprovalPolicy{Mode: PolicyAll}, 0, 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.policy.Required(tt.n), "%s/%d of %d", tt.policy.Mode, tt.policy.Quorum, tt.n)
	}
}

func TestWorkflowTemplate_Step(t *testing.T) {
	tpl := validTemplate()

	step, ok := tpl.Step(1)
	assert.True(t, ok)
	assert.Equal(t, "finance", step.Name)
	assert.True(t, tpl.IsLastStep(1))

	_, ok = tpl.Step(2)
	assert.False(t, ok)
	_, ok = tpl.Step(-1)
	assert.False(t, ok)
}
