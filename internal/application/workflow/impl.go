package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/bi-workflow/internal/application/dispatcher"
	"github.com/garyjia/bi-workflow/internal/application/port"
	"github.com/garyjia/bi-workflow/internal/domain/entity"
	"github.com/garyjia/bi-workflow/internal/domain/event"
	domainwf "github.com/garyjia/bi-workflow/internal/domain/workflow"
	"github.com/garyjia/bi-workflow/pkg/utils"
)

// DefaultSystemActor is the caller id business modules use to cancel on behalf of an entity
const DefaultSystemActor = "system"

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type engineImpl struct {
	templates port.TemplateRepository
	instances port.InstanceRepository
	approvals port.ApprovalRepository
	resolver  port.ApproverResolver
	txManager port.TransactionManager
	logger    Logger

	dispatcher  dispatcher.Dispatcher
	systemActor string
	now         func() time.Time
}

// EngineOption configures the approval engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithSystemActor sets the caller id allowed to cancel any instance
func WithSystemActor(actor string) EngineOption {
	return func(e *engineImpl) {
		if actor != "" {
			e.systemActor = actor
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new approval engine
func NewEngine(
	templates port.TemplateRepository,
	instances port.InstanceRepository,
	approvals port.ApprovalRepository,
	resolver port.ApproverResolver,
	txManager port.TransactionManager,
	logger Logger,
	opts ...EngineOption,
) ApprovalEngine {
	e := &engineImpl{
		templates:   templates,
		instances:   instances,
		approvals:   approvals,
		resolver:    resolver,
		txManager:   txManager,
		logger:      logger,
		systemActor: DefaultSystemActor,
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Initiate creates an instance at pending(0)
func (e *engineImpl) Initiate(ctx context.Context, req InitiateRequest) (*entity.WorkflowInstance, error) {
	if err := validateInitiate(&req); err != nil {
		return nil, err
	}

	tpl, err := e.selectTemplate(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(tpl.Steps) == 0 {
		return nil, entity.NewValidationError("template %s has no steps", tpl.ID)
	}

	now := e.now()
	inst := &entity.WorkflowInstance{
		ID:              utils.NewID(),
		Code:            utils.NewCode(entity.InstanceCodePrefix, now),
		TemplateID:      tpl.ID,
		TemplateVersion: tpl.Version,
		EntityType:      req.EntityType,
		EntityID:        req.EntityID,
		CurrentStep:     0,
		Status:          entity.StatusPending,
		Priority:        req.Priority,
		RequesterID:     req.RequesterID,
		RequestedAt:     now,
		StepEnteredAt:   now,
		Metadata:        req.Metadata,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	approvers, err := e.resolveStep(ctx, inst, tpl, 0)
	if err != nil {
		return nil, err
	}
	if len(approvers) == 0 {
		return nil, entity.NewValidationError("no approvers could be resolved for step %q of template %s", tpl.Steps[0].Name, tpl.ID)
	}
	inst.Assignments = []entity.StepAssignment{{StepIndex: 0, Approvers: approvers, EnteredAt: now}}

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.instances.Create(txCtx, inst); err != nil {
			return fmt.Errorf("create instance: %w", err)
		}
		return nil
	})
	if err != nil {
		e.logger.Error("Failed to initiate workflow", "error", err, "entity_type", req.EntityType, "entity_id", req.EntityID)
		return nil, err
	}

	e.logger.Info("Workflow initiated",
		"instance_id", inst.ID,
		"code", inst.Code,
		"template_id", tpl.ID,
		"template_version", tpl.Version,
		"entity_type", inst.EntityType,
		"entity_id", inst.EntityID,
		"approvers", approvers,
	)
	e.emit(ctx, inst, event.TypeInstanceInitiated, map[string]interface{}{
		"code":         inst.Code,
		"template_id":  tpl.ID,
		"step_index":   0,
		"step_name":    tpl.Steps[0].Name,
		"approvers":    approvers,
		"priority":     string(inst.Priority),
		"requester_id": inst.RequesterID,
	})

	return inst, nil
}

// Decide validates the decision, appends it to the ledger and settles the step
func (e *engineImpl) Decide(ctx context.Context, req DecideRequest) (*DecideResult, error) {
	if strings.TrimSpace(req.InstanceID) == "" || strings.TrimSpace(req.ApproverID) == "" {
		return nil, entity.NewValidationError("instance id and approver id are required")
	}
	if !req.Decision.IsValid() {
		return nil, entity.NewValidationError("decision must be %q or %q, got %q", entity.DecisionApproved, entity.DecisionRejected, req.Decision)
	}

	inst, err := e.instances.Get(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != entity.StatusPending || req.StepIndex != inst.CurrentStep {
		return nil, entity.NewStepResolvedError(inst.ID, req.StepIndex)
	}
	if !inst.IsApprover(req.ApproverID) {
		return nil, entity.NewUnauthorizedError(req.ApproverID)
	}

	tpl, err := e.templates.GetVersion(ctx, inst.TemplateID, inst.TemplateVersion)
	if err != nil {
		return nil, fmt.Errorf("load template snapshot: %w", err)
	}

	approval := &entity.StepApproval{
		ID:         utils.NewID(),
		InstanceID: inst.ID,
		StepIndex:  req.StepIndex,
		ApproverID: req.ApproverID,
		Decision:   req.Decision,
		Comments:   req.Comments,
		DecidedAt:  e.now(),
	}
	if err := e.approvals.Append(ctx, approval); err != nil {
		return nil, err
	}

	e.logger.Info("Decision recorded",
		"instance_id", inst.ID,
		"step_index", approval.StepIndex,
		"approver_id", approval.ApproverID,
		"decision", approval.Decision,
		"seq", approval.Seq,
	)
	e.emit(ctx, inst, event.TypeDecisionRecorded, map[string]interface{}{
		"step_index":  approval.StepIndex,
		"approver_id": approval.ApproverID,
		"decision":    string(approval.Decision),
	})

	result, err := e.settle(ctx, inst, tpl)
	if err != nil {
		return nil, err
	}
	result.Approval = approval
	return result, nil
}

// Resume settles the current step of a pending instance
func (e *engineImpl) Resume(ctx context.Context, instanceID string) (*DecideResult, error) {
	inst, err := e.instances.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != entity.StatusPending {
		return &DecideResult{Instance: inst, Outcome: Outcome(inst.Status)}, nil
	}

	tpl, err := e.templates.GetVersion(ctx, inst.TemplateID, inst.TemplateVersion)
	if err != nil {
		return nil, fmt.Errorf("load template snapshot: %w", err)
	}
	return e.settle(ctx, inst, tpl)
}

// settle evaluates the current step's ledger and, when the step is resolved,
// applies the transition with a CAS against the observed (pending, step)
func (e *engineImpl) settle(ctx context.Context, inst *entity.WorkflowInstance, tpl *entity.WorkflowTemplate) (*DecideResult, error) {
	step := inst.CurrentStep
	def, ok := tpl.Step(step)
	if !ok {
		return nil, fmt.Errorf("%w: instance %s is on step %d", domainwf.ErrMissingStep, inst.ID, step)
	}

	entries, err := e.approvals.ListByStep(ctx, inst.ID, step)
	if err != nil {
		return nil, fmt.Errorf("load step ledger: %w", err)
	}
	res := domainwf.EvaluateStep(def.Policy, inst.CurrentApprovers(), entries)

	result := &DecideResult{
		Instance:  inst,
		Outcome:   OutcomeRecorded,
		Approvals: res.Approvals,
		Required:  res.Required,
	}
	if res.Outcome == domainwf.OutcomeOpen {
		return result, nil
	}

	trigger := triggerFor(res.Outcome, tpl.IsLastStep(step))
	machine := buildInstanceStateMachine(inst, tpl)
	if err := machine.Fire(ctx, trigger); err != nil {
		return nil, entity.NewInvalidStateError("cannot %s instance %s: %v", strings.ToLower(trigger.String()), inst.ID, err)
	}

	now := e.now()
	update := entity.StateUpdate{
		InstanceID:     inst.ID,
		ExpectedStatus: entity.StatusPending,
		ExpectedStep:   step,
		NewStatus:      machine.State().Status(),
		NewStep:        step,
		CompletedBy:    res.DecidedBy.ApproverID,
		At:             now,
	}

	var nextApprovers []string
	if trigger == domainwf.TriggerAdvance {
		update.NewStep = step + 1
		nextApprovers, err = e.resolveStep(ctx, inst, tpl, step+1)
		if err != nil {
			return nil, err
		}
		update.Assignment = &entity.StepAssignment{StepIndex: step + 1, Approvers: nextApprovers, EnteredAt: now}
	}

	updated, err := e.instances.UpdateState(ctx, update)
	if err != nil {
		e.logger.Warn("State transition lost", "instance_id", inst.ID, "step_index", step, "trigger", trigger, "error", err)
		return nil, err
	}
	result.Instance = updated

	switch trigger {
	case domainwf.TriggerAdvance:
		result.Outcome = OutcomeAdvanced
		next := tpl.Steps[step+1]
		e.logger.Info("Workflow advanced", "instance_id", inst.ID, "from_step", step, "to_step", step+1, "approvers", nextApprovers)
		e.emit(ctx, updated, event.TypeStepAdvanced, map[string]interface{}{
			"from_step":  step,
			"step_index": step + 1,
			"step_name":  next.Name,
			"approvers":  nextApprovers,
			"priority":   string(updated.Priority),
		})
		if len(nextApprovers) == 0 {
			e.logger.Warn("Step has no approvers", "instance_id", inst.ID, "step_index", step+1, "rule_type", next.Approver.Type)
			e.emit(ctx, updated, event.TypeStepUnassigned, map[string]interface{}{
				"step_index": step + 1,
				"step_name":  next.Name,
			})
		}
	case domainwf.TriggerApprove:
		result.Outcome = OutcomeApproved
		e.logger.Info("Workflow approved", "instance_id", inst.ID, "final_step", step, "by", update.CompletedBy)
		e.emit(ctx, updated, event.TypeInstanceApproved, map[string]interface{}{
			"step_index":   step,
			"completed_by": update.CompletedBy,
			"requester_id": updated.RequesterID,
		})
	case domainwf.TriggerReject:
		result.Outcome = OutcomeRejected
		e.logger.Info("Workflow rejected", "instance_id", inst.ID, "step_index", step, "by", update.CompletedBy)
		e.emit(ctx, updated, event.TypeInstanceRejected, map[string]interface{}{
			"step_index":   step,
			"completed_by": update.CompletedBy,
			"requester_id": updated.RequesterID,
			"comments":     res.DecidedBy.Comments,
		})
	}

	return result, nil
}

// Cancel moves a pending instance to cancelled
func (e *engineImpl) Cancel(ctx context.Context, req CancelRequest) (*entity.WorkflowInstance, error) {
	if strings.TrimSpace(req.InstanceID) == "" || strings.TrimSpace(req.ByUserID) == "" {
		return nil, entity.NewValidationError("instance id and cancelling user are required")
	}

	inst, err := e.instances.Get(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != entity.StatusPending {
		return nil, entity.NewInvalidStateError("instance %s is already %s", inst.ID, inst.Status)
	}
	if req.ByUserID != inst.RequesterID && req.ByUserID != e.systemActor {
		return nil, entity.NewForbiddenError("only the requester can cancel instance %s", inst.ID)
	}

	tpl, err := e.templates.GetVersion(ctx, inst.TemplateID, inst.TemplateVersion)
	if err != nil {
		return nil, fmt.Errorf("load template snapshot: %w", err)
	}
	machine := buildInstanceStateMachine(inst, tpl)
	if err := machine.Fire(ctx, domainwf.TriggerCancel); err != nil {
		return nil, entity.NewInvalidStateError("cannot cancel instance %s: %v", inst.ID, err)
	}

	updated, err := e.instances.UpdateState(ctx, entity.StateUpdate{
		InstanceID:     inst.ID,
		ExpectedStatus: entity.StatusPending,
		ExpectedStep:   inst.CurrentStep,
		NewStatus:      machine.State().Status(),
		NewStep:        inst.CurrentStep,
		CompletedBy:    req.ByUserID,
		At:             e.now(),
	})
	if err != nil {
		e.logger.Warn("Cancel lost", "instance_id", inst.ID, "error", err)
		return nil, err
	}

	e.logger.Info("Workflow cancelled", "instance_id", inst.ID, "by", req.ByUserID, "reason", req.Reason)
	e.emit(ctx, updated, event.TypeInstanceCancelled, map[string]interface{}{
		"step_index":   updated.CurrentStep,
		"completed_by": req.ByUserID,
		"reason":       req.Reason,
	})

	return updated, nil
}

func validateInitiate(req *InitiateRequest) error {
	req.EntityType = strings.TrimSpace(req.EntityType)
	req.EntityID = strings.TrimSpace(req.EntityID)
	req.RequesterID = strings.TrimSpace(req.RequesterID)

	if req.EntityType == "" || req.EntityID == "" {
		return entity.NewValidationError("entity type and entity id are required")
	}
	if req.RequesterID == "" {
		return entity.NewValidationError("requester id is required")
	}
	if req.Priority == "" {
		req.Priority = entity.PriorityNormal
	}
	if !req.Priority.IsValid() {
		return entity.NewValidationError("unknown priority %q", req.Priority)
	}
	return nil
}

// selectTemplate picks the explicit template or the first applicable one
func (e *engineImpl) selectTemplate(ctx context.Context, req InitiateRequest) (*entity.WorkflowTemplate, error) {
	if req.TemplateID != "" {
		tpl, err := e.templates.Get(ctx, req.TemplateID)
		if err != nil {
			return nil, err
		}
		if !tpl.IsActive {
			return nil, entity.NewValidationError("template %s is not active", tpl.ID)
		}
		if tpl.EntityType != req.EntityType {
			return nil, entity.NewValidationError("template %s applies to %q, not %q", tpl.ID, tpl.EntityType, req.EntityType)
		}
		return tpl, nil
	}

	candidates, err := e.templates.FindApplicable(ctx, req.EntityType)
	if err != nil {
		return nil, fmt.Errorf("find templates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, entity.NewValidationError("no active workflow template for entity type %q", req.EntityType)
	}
	return candidates[0], nil
}

// resolveStep evaluates the approver rule of step against current org data
func (e *engineImpl) resolveStep(ctx context.Context, inst *entity.WorkflowInstance, tpl *entity.WorkflowTemplate, step int) ([]string, error) {
	def, ok := tpl.Step(step)
	if !ok {
		return nil, fmt.Errorf("%w: step %d", domainwf.ErrMissingStep, step)
	}

	approvers, err := e.resolver.Resolve(ctx, def.Approver, port.ResolveContext{
		InstanceID:  inst.ID,
		EntityType:  inst.EntityType,
		EntityID:    inst.EntityID,
		RequesterID: inst.RequesterID,
		StepIndex:   step,
		Metadata:    inst.Metadata,
	})
	if err != nil {
		e.logger.Error("Failed to resolve approvers", "instance_id", inst.ID, "step_index", step, "error", err)
		return nil, fmt.Errorf("resolve approvers for step %d: %w", step, err)
	}
	return dedupe(approvers), nil
}

func (e *engineImpl) emit(ctx context.Context, inst *entity.WorkflowInstance, typ event.Type, payload map[string]interface{}) {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.DispatchAsync(ctx, event.NewEvent(typ, inst.ID, payload).ForEntity(inst.EntityType, inst.EntityID))
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
