// Package directory resolves approvers against the organization directory.
package directory

import (
	"context"
	"fmt"
	"sort"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"go.uber.org/zap"

	"github.com/garyjia/bi-workflow/internal/application/port"
)

// orgModel declares role membership (g) and the reporting line (g2).
// The request/policy sections exist because Casbin requires them; no
// permission checks are made against this model.
const orgModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _
g2 = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// CasbinDirectory reads roles and managers from a Casbin policy.
//
//	g, fin1, finance     fin1 holds the finance role
//	g2, alice, mgr       mgr is alice's direct manager
type CasbinDirectory struct {
	enforcer *casbin.SyncedEnforcer
	logger   *zap.Logger
}

// NewCasbinDirectory loads the directory from a CSV policy file.
// An empty path yields an empty directory that can be filled with AddRole and SetManager.
func NewCasbinDirectory(policyPath string, logger *zap.Logger) (*CasbinDirectory, error) {
	m, err := model.NewModelFromString(orgModel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse directory model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	if policyPath == "" {
		enforcer, err = casbin.NewSyncedEnforcer(m)
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(policyPath))
	}
	if err != nil {
		logger.Error("Failed to create directory enforcer", zap.String("policy_path", policyPath), zap.Error(err))
		return nil, fmt.Errorf("failed to create directory enforcer: %w", err)
	}

	d := &CasbinDirectory{enforcer: enforcer, logger: logger}
	roles, managers := d.size()
	logger.Info("Directory loaded",
		zap.String("policy_path", policyPath),
		zap.Int("role_assignments", roles),
		zap.Int("reporting_lines", managers))
	return d, nil
}

// Reload re-reads the policy file
func (d *CasbinDirectory) Reload() error {
	if err := d.enforcer.LoadPolicy(); err != nil {
		return fmt.Errorf("failed to reload directory: %w", err)
	}
	roles, managers := d.size()
	d.logger.Info("Directory reloaded", zap.Int("role_assignments", roles), zap.Int("reporting_lines", managers))
	return nil
}

// UsersWithRole returns the users directly holding role, sorted
func (d *CasbinDirectory) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	users, err := d.enforcer.GetUsersForRole(role)
	if err != nil {
		return nil, fmt.Errorf("failed to read role %s: %w", role, err)
	}
	out := append([]string(nil), users...)
	sort.Strings(out)
	return out, nil
}

// ManagerOf returns the direct manager of userID, or "" when none is recorded
func (d *CasbinDirectory) ManagerOf(ctx context.Context, userID string) (string, error) {
	rules, err := d.enforcer.GetFilteredNamedGroupingPolicy("g2", 0, userID)
	if err != nil {
		return "", fmt.Errorf("failed to read manager of %s: %w", userID, err)
	}
	if len(rules) == 0 {
		return "", nil
	}
	return rules[0][1], nil
}

// AddRole grants role to userID
func (d *CasbinDirectory) AddRole(userID, role string) error {
	_, err := d.enforcer.AddGroupingPolicy(userID, role)
	return err
}

// SetManager records managerID as the direct manager of userID
func (d *CasbinDirectory) SetManager(userID, managerID string) error {
	existing, err := d.enforcer.GetFilteredNamedGroupingPolicy("g2", 0, userID)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if _, err := d.enforcer.RemoveNamedGroupingPolicy("g2", rule[0], rule[1]); err != nil {
			return err
		}
	}
	_, err = d.enforcer.AddNamedGroupingPolicy("g2", userID, managerID)
	return err
}

func (d *CasbinDirectory) size() (roles, managers int) {
	if g, err := d.enforcer.GetNamedGroupingPolicy("g"); err == nil {
		roles = len(g)
	}
	if g2, err := d.enforcer.GetNamedGroupingPolicy("g2"); err == nil {
		managers = len(g2)
	}
	return roles, managers
}

var _ port.Directory = (*CasbinDirectory)(nil)
