package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/garyjia/bi-workflow/internal/application/port"
	"github.com/garyjia/bi-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/bi-workflow/internal/domain/workflow"
)

// DefaultSLA applies to steps that do not set SLAHours
const DefaultSLA = 48 * time.Hour

// QueryService serves read-only views over the workflow stores.
// Every call recomputes from the stores; nothing is cached.
type QueryService interface {
	// PendingFor lists the steps userID can still decide, most urgent first
	PendingFor(ctx context.Context, userID string) ([]*entity.PendingApproval, error)
	Stats(ctx context.Context) (*entity.Stats, error)
	ListByStatus(ctx context.Context, filter entity.InstanceFilter) (*entity.InstancePage, error)
	Detail(ctx context.Context, instanceID string) (*entity.InstanceDetail, error)
	History(ctx context.Context, instanceID string) ([]*entity.StepApproval, error)
	// StaleInstances reports pending instances whose current step exceeded its SLA at now
	StaleInstances(ctx context.Context, now time.Time) ([]*entity.StaleInstance, error)
	// Verify replays the ledger and compares the result with the stored state
	Verify(ctx context.Context, instanceID string) (*entity.VerifyResult, error)
}

type queryServiceImpl struct {
	templates  port.TemplateRepository
	instances  port.InstanceRepository
	approvals  port.ApprovalRepository
	logger     Logger
	defaultSLA time.Duration
}

// NewQueryService creates a new QueryService. A non-positive defaultSLA uses DefaultSLA.
func NewQueryService(
	templates port.TemplateRepository,
	instances port.InstanceRepository,
	approvals port.ApprovalRepository,
	logger Logger,
	defaultSLA time.Duration,
) QueryService {
	if defaultSLA <= 0 {
		defaultSLA = DefaultSLA
	}
	return &queryServiceImpl{
		templates:  templates,
		instances:  instances,
		approvals:  approvals,
		logger:     logger,
		defaultSLA: defaultSLA,
	}
}

// PendingFor joins the live pending instances against their current step's
// resolved approvers. Approvers who already decided the step are left out.
func (s *queryServiceImpl) PendingFor(ctx context.Context, userID string) ([]*entity.PendingApproval, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, entity.NewValidationError("user id is required")
	}

	pending, err := s.instances.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending instances: %w", err)
	}

	snapshots := newTemplateCache(s.templates)
	views := make([]*entity.PendingApproval, 0)
	for _, inst := range pending {
		if !inst.IsApprover(userID) {
			continue
		}
		tpl, err := snapshots.get(ctx, inst.TemplateID, inst.TemplateVersion)
		if err != nil {
			return nil, err
		}
		def, ok := tpl.Step(inst.CurrentStep)
		if !ok {
			s.logger.Warn("Instance points past its template", "instance_id", inst.ID, "step_index", inst.CurrentStep)
			continue
		}

		entries, err := s.approvals.ListByStep(ctx, inst.ID, inst.CurrentStep)
		if err != nil {
			return nil, fmt.Errorf("load step ledger: %w", err)
		}
		if hasDecided(entries, userID) {
			continue
		}
		res := domainwf.EvaluateStep(def.Policy, inst.CurrentApprovers(), entries)
		if res.Outcome != domainwf.OutcomeOpen {
			// resolved in the ledger, transition not yet applied
			continue
		}

		views = append(views, &entity.PendingApproval{
			Instance:      inst,
			StepIndex:     inst.CurrentStep,
			StepName:      def.Name,
			StepNameAr:    def.NameAr,
			Approvers:     inst.CurrentApprovers(),
			Policy:        def.Policy,
			ApprovedCount: res.Approvals,
			Required:      res.Required,
		})
	}

	sort.SliceStable(views, func(i, j int) bool {
		wi, wj := views[i].Instance.Priority.Weight(), views[j].Instance.Priority.Weight()
		if wi != wj {
			return wi > wj
		}
		return views[i].Instance.RequestedAt.Before(views[j].Instance.RequestedAt)
	})
	return views, nil
}

// Stats counts instances by status
func (s *queryServiceImpl) Stats(ctx context.Context) (*entity.Stats, error) {
	counts, err := s.instances.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count instances: %w", err)
	}
	stats := &entity.Stats{
		Pending:   counts[entity.StatusPending],
		Approved:  counts[entity.StatusApproved],
		Rejected:  counts[entity.StatusRejected],
		Cancelled: counts[entity.StatusCancelled],
	}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

// ListByStatus returns one page of instances
func (s *queryServiceImpl) ListByStatus(ctx context.Context, filter entity.InstanceFilter) (*entity.InstancePage, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, entity.NewValidationError("unknown status %q", filter.Status)
	}
	return s.instances.List(ctx, filter)
}

// Detail returns the instance with its template snapshot and ledger
func (s *queryServiceImpl) Detail(ctx context.Context, instanceID string) (*entity.InstanceDetail, error) {
	inst, err := s.instances.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	tpl, err := s.templates.GetVersion(ctx, inst.TemplateID, inst.TemplateVersion)
	if err != nil {
		return nil, err
	}
	entries, err := s.approvals.ListByInstance(ctx, inst.ID)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return &entity.InstanceDetail{Instance: inst, Template: tpl, Approvals: entries}, nil
}

// History returns the full ledger of an instance
func (s *queryServiceImpl) History(ctx context.Context, instanceID string) ([]*entity.StepApproval, error) {
	if _, err := s.instances.Get(ctx, instanceID); err != nil {
		return nil, err
	}
	return s.approvals.ListByInstance(ctx, instanceID)
}

// StaleInstances flags pending instances over their step SLA, longest waiting first
func (s *queryServiceImpl) StaleInstances(ctx context.Context, now time.Time) ([]*entity.StaleInstance, error) {
	pending, err := s.instances.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending instances: %w", err)
	}

	snapshots := newTemplateCache(s.templates)
	stale := make([]*entity.StaleInstance, 0)
	for _, inst := range pending {
		tpl, err := snapshots.get(ctx, inst.TemplateID, inst.TemplateVersion)
		if err != nil {
			return nil, err
		}
		def, _ := tpl.Step(inst.CurrentStep)
		sla := s.defaultSLA
		if def.SLAHours > 0 {
			sla = time.Duration(def.SLAHours) * time.Hour
		}
		waited := now.Sub(inst.StepEnteredAt)
		if waited <= sla {
			continue
		}
		stale = append(stale, &entity.StaleInstance{
			Instance:   inst,
			StepName:   def.Name,
			PendingFor: waited,
			SLA:        sla,
		})
	}

	sort.SliceStable(stale, func(i, j int) bool {
		return stale[i].PendingFor > stale[j].PendingFor
	})
	return stale, nil
}

// Verify replays the ledger through a fresh state machine
func (s *queryServiceImpl) Verify(ctx context.Context, instanceID string) (*entity.VerifyResult, error) {
	detail, err := s.Detail(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	inst := detail.Instance

	replayed, err := domainwf.Replay(ctx, detail.Template, inst.Assignments, detail.Approvals)
	if err != nil {
		return nil, fmt.Errorf("replay instance %s: %w", inst.ID, err)
	}

	result := &entity.VerifyResult{
		InstanceID:     inst.ID,
		StoredStatus:   inst.Status,
		StoredStep:     inst.CurrentStep,
		ReplayedStatus: replayed.State.Status(),
		ReplayedStep:   replayed.Step,
		Advances:       replayed.Advances,
	}

	// cancellation lives outside the ledger
	expected := inst.Status
	if expected == entity.StatusCancelled {
		expected = entity.StatusPending
	}
	result.Consistent = result.ReplayedStatus == expected && result.ReplayedStep == inst.CurrentStep
	if !result.Consistent {
		s.logger.Warn("Instance state diverges from ledger",
			"instance_id", inst.ID,
			"stored_status", inst.Status,
			"stored_step", inst.CurrentStep,
			"replayed_status", result.ReplayedStatus,
			"replayed_step", result.ReplayedStep)
	}
	return result, nil
}

func hasDecided(entries []*entity.StepApproval, userID string) bool {
	for _, e := range entries {
		if e.ApproverID == userID {
			return true
		}
	}
	return false
}

// templateCache memoizes template snapshots for the duration of one query
type templateCache struct {
	repo  port.TemplateRepository
	cache map[string]*entity.WorkflowTemplate
}

func newTemplateCache(repo port.TemplateRepository) *templateCache {
	return &templateCache{repo: repo, cache: make(map[string]*entity.WorkflowTemplate)}
}

func (c *templateCache) get(ctx context.Context, id string, version int) (*entity.WorkflowTemplate, error) {
	key := fmt.Sprintf("%s@%d", id, version)
	if tpl, ok := c.cache[key]; ok {
		return tpl, nil
	}
	tpl, err := c.repo.GetVersion(ctx, id, version)
	if err != nil {
		return nil, fmt.Errorf("load template snapshot: %w", err)
	}
	c.cache[key] = tpl
	return tpl, nil
}
