// Package memory holds mutex-guarded implementations of the workflow stores.
// They share one lock so the ledger guard and the instance CAS see a single
// consistent view, the same guarantee SQLite gives the persistent stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/bi-workflow/internal/application/port"
	"github.com/garyjia/bi-workflow/internal/domain/entity"
)

// Store is an in-memory backing for templates, instances and the ledger
type Store struct {
	mu        sync.RWMutex
	templates map[string][]*entity.WorkflowTemplate // versions in ascending order
	instances map[string]*entity.WorkflowInstance
	ledger    []*entity.StepApproval
	seq       int64
	now       func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		templates: make(map[string][]*entity.WorkflowTemplate),
		instances: make(map[string]*entity.WorkflowInstance),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Templates returns the template repository view
func (s *Store) Templates() port.TemplateRepository { return &templateRepo{s} }

// Instances returns the instance repository view
func (s *Store) Instances() port.InstanceRepository { return &instanceRepo{s} }

// Approvals returns the step ledger view
func (s *Store) Approvals() port.ApprovalRepository { return &approvalRepo{s} }

// TxManager returns a transaction manager that simply runs fn
func (s *Store) TxManager() port.TransactionManager { return txManager{} }

type txManager struct{}

func (txManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func cloneTemplate(t *entity.WorkflowTemplate) *entity.WorkflowTemplate {
	c := *t
	c.Steps = make([]entity.StepDefinition, len(t.Steps))
	for i, st := range t.Steps {
		st.Approver.Users = append([]string(nil), st.Approver.Users...)
		c.Steps[i] = st
	}
	return &c
}

func cloneApproval(a *entity.StepApproval) *entity.StepApproval {
	c := *a
	return &c
}

// ---- templates ----

type templateRepo struct{ s *Store }

func (r *templateRepo) Create(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.templates[tpl.ID]; exists {
		return entity.NewValidationError("template %s already exists", tpl.ID)
	}
	for _, versions := range r.s.templates {
		if versions[0].Code == tpl.Code {
			return entity.NewValidationError("template code %s already exists", tpl.Code)
		}
	}
	tpl.Version = 1
	r.s.templates[tpl.ID] = []*entity.WorkflowTemplate{cloneTemplate(tpl)}
	return nil
}

func (r *templateRepo) CreateVersion(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	versions, ok := r.s.templates[tpl.ID]
	if !ok {
		return entity.NewNotFoundError("template", tpl.ID)
	}
	latest := versions[len(versions)-1]
	tpl.Version = latest.Version + 1
	tpl.Code = latest.Code
	r.s.templates[tpl.ID] = append(versions, cloneTemplate(tpl))
	return nil
}

func (r *templateRepo) Get(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	versions, ok := r.s.templates[id]
	if !ok {
		return nil, entity.NewNotFoundError("template", id)
	}
	return cloneTemplate(versions[len(versions)-1]), nil
}

func (r *templateRepo) GetVersion(ctx context.Context, id string, version int) (*entity.WorkflowTemplate, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, t := range r.s.templates[id] {
		if t.Version == version {
			return cloneTemplate(t), nil
		}
	}
	return nil, entity.NewNotFoundError("template version", id)
}

func (r *templateRepo) GetByCode(ctx context.Context, code string) (*entity.WorkflowTemplate, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, versions := range r.s.templates {
		if versions[0].Code == code {
			return cloneTemplate(versions[len(versions)-1]), nil
		}
	}
	return nil, entity.NewNotFoundError("template", code)
}

func (r *templateRepo) FindApplicable(ctx context.Context, entityType string) ([]*entity.WorkflowTemplate, error) {
	return r.List(ctx, entity.TemplateFilter{EntityType: entityType, ActiveOnly: true})
}

func (r *templateRepo) List(ctx context.Context, filter entity.TemplateFilter) ([]*entity.WorkflowTemplate, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*entity.WorkflowTemplate, 0)
	for _, versions := range r.s.templates {
		latest := versions[len(versions)-1]
		if filter.EntityType != "" && latest.EntityType != filter.EntityType {
			continue
		}
		if filter.ActiveOnly && !latest.IsActive {
			continue
		}
		out = append(out, cloneTemplate(latest))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *templateRepo) Deactivate(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	versions, ok := r.s.templates[id]
	if !ok {
		return entity.NewNotFoundError("template", id)
	}
	for _, t := range versions {
		t.IsActive = false
	}
	return nil
}

// ---- instances ----

type instanceRepo struct{ s *Store }

func (r *instanceRepo) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.instances[inst.ID]; exists {
		return entity.NewValidationError("instance %s already exists", inst.ID)
	}
	r.s.instances[inst.ID] = inst.Clone()
	return nil
}

func (r *instanceRepo) Get(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	inst, ok := r.s.instances[id]
	if !ok {
		return nil, entity.NewNotFoundError("instance", id)
	}
	return inst.Clone(), nil
}

func (r *instanceRepo) GetByCode(ctx context.Context, code string) (*entity.WorkflowInstance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, inst := range r.s.instances {
		if inst.Code == code {
			return inst.Clone(), nil
		}
	}
	return nil, entity.NewNotFoundError("instance", code)
}

// sortedLocked returns instances newest first; callers hold the lock
func (r *instanceRepo) sortedLocked() []*entity.WorkflowInstance {
	all := make([]*entity.WorkflowInstance, 0, len(r.s.instances))
	for _, inst := range r.s.instances {
		all = append(all, inst)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	return all
}

func (r *instanceRepo) List(ctx context.Context, filter entity.InstanceFilter) (*entity.InstancePage, error) {
	filter = filter.Normalize()

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	matched := make([]*entity.WorkflowInstance, 0)
	for _, inst := range r.sortedLocked() {
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		if filter.EntityType != "" && inst.EntityType != filter.EntityType {
			continue
		}
		if filter.RequesterID != "" && inst.RequesterID != filter.RequesterID {
			continue
		}
		matched = append(matched, inst)
	}

	page := &entity.InstancePage{Items: []*entity.WorkflowInstance{}, Total: len(matched)}
	for i := filter.Offset; i < len(matched) && i < filter.Offset+filter.Limit; i++ {
		page.Items = append(page.Items, matched[i].Clone())
	}
	return page, nil
}

func (r *instanceRepo) ListPending(ctx context.Context) ([]*entity.WorkflowInstance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*entity.WorkflowInstance, 0)
	for _, inst := range r.sortedLocked() {
		if inst.Status == entity.StatusPending {
			out = append(out, inst.Clone())
		}
	}
	return out, nil
}

func (r *instanceRepo) CountByStatus(ctx context.Context) (map[entity.Status]int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	counts := make(map[entity.Status]int)
	for _, inst := range r.s.instances {
		counts[inst.Status]++
	}
	return counts, nil
}

func (r *instanceRepo) UpdateState(ctx context.Context, u entity.StateUpdate) (*entity.WorkflowInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	inst, ok := r.s.instances[u.InstanceID]
	if !ok {
		return nil, entity.NewNotFoundError("instance", u.InstanceID)
	}
	if inst.Status != u.ExpectedStatus || inst.CurrentStep != u.ExpectedStep {
		return nil, entity.NewConflictError(u.InstanceID)
	}

	at := u.At
	if at.IsZero() {
		at = r.s.now()
	}
	inst.Status = u.NewStatus
	inst.CurrentStep = u.NewStep
	inst.UpdatedAt = at
	if u.Assignment != nil {
		a := *u.Assignment
		a.Approvers = append([]string(nil), a.Approvers...)
		inst.Assignments = append(inst.Assignments, a)
		inst.StepEnteredAt = a.EnteredAt
	}
	if u.NewStatus.IsTerminal() {
		inst.CompletedAt = &at
		inst.CompletedBy = u.CompletedBy
	}
	return inst.Clone(), nil
}

// ---- ledger ----

type approvalRepo struct{ s *Store }

func (r *approvalRepo) Append(ctx context.Context, a *entity.StepApproval) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	inst, ok := r.s.instances[a.InstanceID]
	if !ok {
		return entity.NewNotFoundError("instance", a.InstanceID)
	}
	if inst.Status != entity.StatusPending || inst.CurrentStep != a.StepIndex {
		return entity.NewStepResolvedError(a.InstanceID, a.StepIndex)
	}
	for _, e := range r.s.ledger {
		if e.InstanceID == a.InstanceID && e.StepIndex == a.StepIndex && e.ApproverID == a.ApproverID {
			return entity.NewInvalidStateError("approver %s has already decided step %d", a.ApproverID, a.StepIndex)
		}
	}

	r.s.seq++
	a.Seq = r.s.seq
	r.s.ledger = append(r.s.ledger, cloneApproval(a))
	return nil
}

func (r *approvalRepo) ListByInstance(ctx context.Context, instanceID string) ([]*entity.StepApproval, error) {
	return r.filter(func(e *entity.StepApproval) bool { return e.InstanceID == instanceID }), nil
}

func (r *approvalRepo) ListByStep(ctx context.Context, instanceID string, step int) ([]*entity.StepApproval, error) {
	return r.filter(func(e *entity.StepApproval) bool {
		return e.InstanceID == instanceID && e.StepIndex == step
	}), nil
}

// filter returns matches in ledger order, which is append order
func (r *approvalRepo) filter(keep func(*entity.StepApproval) bool) []*entity.StepApproval {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*entity.StepApproval, 0)
	for _, e := range r.s.ledger {
		if keep(e) {
			out = append(out, cloneApproval(e))
		}
	}
	return out
}
