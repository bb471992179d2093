package directory

import (
	"context"
	"fmt"

	"github.com/garyjia/bi-workflow/internal/application/port"
	"github.com/garyjia/bi-workflow/internal/domain/entity"
)

// Names of the built-in dynamic resolvers
const (
	ResolverRequesterManager   = "requester_manager"
	ResolverSecondLevelManager = "second_level_manager"
)

// DynamicFunc computes an approver set from the instance being routed
type DynamicFunc func(ctx context.Context, dir port.Directory, rc port.ResolveContext) ([]string, error)

// RuleResolver implements port.ApproverResolver by dispatching on the rule type
type RuleResolver struct {
	dir     port.Directory
	dynamic map[string]DynamicFunc
}

// NewRuleResolver creates a resolver with the built-in dynamic resolvers registered
func NewRuleResolver(dir port.Directory) *RuleResolver {
	r := &RuleResolver{
		dir:     dir,
		dynamic: make(map[string]DynamicFunc),
	}
	r.Register(ResolverRequesterManager, requesterManager)
	r.Register(ResolverSecondLevelManager, secondLevelManager)
	return r
}

// Register adds or replaces a named dynamic resolver
func (r *RuleResolver) Register(name string, fn DynamicFunc) {
	r.dynamic[name] = fn
}

// Resolve returns the user IDs selected by rule. An empty result is not an
// error; the engine decides what an unassigned step means.
func (r *RuleResolver) Resolve(ctx context.Context, rule entity.ApproverRule, rc port.ResolveContext) ([]string, error) {
	switch rule.Type {
	case entity.RuleTypeUser:
		return append([]string(nil), rule.Users...), nil
	case entity.RuleTypeRole:
		return r.dir.UsersWithRole(ctx, rule.Role)
	case entity.RuleTypeDynamic:
		fn, ok := r.dynamic[rule.Resolver]
		if !ok {
			return nil, entity.NewValidationError("unknown approver resolver %q", rule.Resolver)
		}
		return fn(ctx, r.dir, rc)
	default:
		return nil, entity.NewValidationError("unknown approver rule type %q", rule.Type)
	}
}

func requesterManager(ctx context.Context, dir port.Directory, rc port.ResolveContext) ([]string, error) {
	mgr, err := dir.ManagerOf(ctx, rc.RequesterID)
	if err != nil {
		return nil, fmt.Errorf("manager of %s: %w", rc.RequesterID, err)
	}
	if mgr == "" {
		return nil, nil
	}
	return []string{mgr}, nil
}

func secondLevelManager(ctx context.Context, dir port.Directory, rc port.ResolveContext) ([]string, error) {
	first, err := requesterManager(ctx, dir, rc)
	if err != nil || len(first) == 0 {
		return nil, err
	}
	mgr, err := dir.ManagerOf(ctx, first[0])
	if err != nil {
		return nil, fmt.Errorf("manager of %s: %w", first[0], err)
	}
	if mgr == "" {
		return nil, nil
	}
	return []string{mgr}, nil
}

var _ port.ApproverResolver = (*RuleResolver)(nil)
