package entity

import (
	"strings"
	"time"
)

// WorkflowTemplate is an immutable (per version) chain of approval steps
type WorkflowTemplate struct {
	ID          string           `json:"id" yaml:"id"`
	Code        string           `json:"code" yaml:"code"`
	Version     int              `json:"version" yaml:"version"`
	Name        string           `json:"name" yaml:"name"`
	NameAr      string           `json:"name_ar,omitempty" yaml:"name_ar"`
	Description string           `json:"description,omitempty" yaml:"description"`
	EntityType  string           `json:"entity_type" yaml:"entity_type"`
	Steps       []StepDefinition `json:"steps" yaml:"steps"`
	IsActive    bool             `json:"is_active" yaml:"is_active"`
	CreatedBy   string           `json:"created_by,omitempty" yaml:"created_by"`
	CreatedAt   time.Time        `json:"created_at" yaml:"-"`
}

// StepDefinition is one stage of a template
type StepDefinition struct {
	Index    int            `json:"index" yaml:"index"`
	Name     string         `json:"name" yaml:"name"`
	NameAr   string         `json:"name_ar,omitempty" yaml:"name_ar"`
	Approver ApproverRule   `json:"approver" yaml:"approver"`
	Policy   ApprovalPolicy `json:"policy" yaml:"policy"`
	SLAHours int            `json:"sla_hours,omitempty" yaml:"sla_hours"`
}

// ApproverRule selects who decides a step: named users, a role, or a dynamic resolver
type ApproverRule struct {
	Type     string   `json:"type" yaml:"type"`
	Users    []string `json:"users,omitempty" yaml:"users"`
	Role     string   `json:"role,omitempty" yaml:"role"`
	Resolver string   `json:"resolver,omitempty" yaml:"resolver"`
}

// ApprovalPolicy decides when a step counts as approved
type ApprovalPolicy struct {
	Mode   string `json:"mode" yaml:"mode"`
	Quorum int    `json:"quorum,omitempty" yaml:"quorum"`
}

// Step returns the definition at index, or false when out of range
func (t *WorkflowTemplate) Step(index int) (StepDefinition, bool) {
	if index < 0 || index >= len(t.Steps) {
		return StepDefinition{}, false
	}
	return t.Steps[index], true
}

// IsLastStep reports whether index is the final step
func (t *WorkflowTemplate) IsLastStep(index int) bool {
	return index == len(t.Steps)-1
}

// Validate checks the structural invariants of a template
func (t *WorkflowTemplate) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return NewValidationError("template name is required")
	}
	if strings.TrimSpace(t.EntityType) == "" {
		return NewValidationError("template entity type is required")
	}
	if len(t.Steps) == 0 {
		return NewValidationError("template %q must have at least one step", t.Name)
	}
	for i, step := range t.Steps {
		if step.Index != i {
			return NewValidationError("step %d has index %d, steps must be ordered 0..%d", i, step.Index, len(t.Steps)-1)
		}
		if strings.TrimSpace(step.Name) == "" {
			return NewValidationError("step %d name is required", i)
		}
		if err := step.Approver.Validate(); err != nil {
			return NewValidationError("step %d: %s", i, err.Error())
		}
		if err := step.Policy.Validate(); err != nil {
			return NewValidationError("step %d: %s", i, err.Error())
		}
		if step.SLAHours < 0 {
			return NewValidationError("step %d: sla_hours must not be negative", i)
		}
	}
	return nil
}

// Normalize fills policy defaults and reindexes unindexed steps
func (t *WorkflowTemplate) Normalize() {
	allZero := true
	for _, s := range t.Steps {
		if s.Index != 0 {
			allZero = false
			break
		}
	}
	for i := range t.Steps {
		if allZero {
			t.Steps[i].Index = i
		}
		if t.Steps[i].Policy.Mode == "" {
			t.Steps[i].Policy.Mode = PolicyAny
		}
	}
}

// Validate checks the rule is well formed
func (r ApproverRule) Validate() error {
	switch r.Type {
	case RuleTypeUser:
		if len(r.Users) == 0 {
			return NewValidationError("user rule needs at least one user")
		}
		for _, u := range r.Users {
			if strings.TrimSpace(u) == "" {
				return NewValidationError("user rule contains an empty user id")
			}
		}
	case RuleTypeRole:
		if strings.TrimSpace(r.Role) == "" {
			return NewValidationError("role rule needs a role")
		}
	case RuleTypeDynamic:
		if strings.TrimSpace(r.Resolver) == "" {
			return NewValidationError("dynamic rule needs a resolver name")
		}
	default:
		return NewValidationError("unknown approver rule type %q", r.Type)
	}
	return nil
}

// Validate checks the policy is well formed
func (p ApprovalPolicy) Validate() error {
	switch p.Mode {
	case PolicyAny, PolicyAll:
		return nil
	case PolicyQuorum:
		if p.Quorum < 1 {
			return NewValidationError("quorum policy needs quorum >= 1")
		}
		return nil
	default:
		return NewValidationError("unknown approval policy %q", p.Mode)
	}
}

// Required returns the number of distinct approvals needed from an approver set of size n
func (p ApprovalPolicy) Required(n int) int {
	if n == 0 {
		return 1
	}
	switch p.Mode {
	case PolicyAll:
		return n
	case PolicyQuorum:
		if p.Quorum > n {
			return n
		}
		return p.Quorum
	default:
		return 1
	}
}

// TemplateFilter narrows template listings
type TemplateFilter struct {
	EntityType string
	ActiveOnly bool
}
