package service

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/garyjia/bi-workflow/internal/application/dispatcher"
	"github.com/garyjia/bi-workflow/internal/application/port"
	"github.com/garyjia/bi-workflow/internal/domain/entity"
	"github.com/garyjia/bi-workflow/internal/domain/event"
	"github.com/garyjia/bi-workflow/pkg/utils"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// TemplateRequest is the editable part of a template
type TemplateRequest struct {
	Code        string                  `json:"code,omitempty"`
	Name        string                  `json:"name"`
	NameAr      string                  `json:"name_ar,omitempty"`
	Description string                  `json:"description,omitempty"`
	EntityType  string                  `json:"entity_type"`
	Steps       []entity.StepDefinition `json:"steps"`
	CreatedBy   string                  `json:"created_by,omitempty"`
}

// SeedResult counts what Seed did per template code
type SeedResult struct {
	Created   []string `json:"created"`
	Revised   []string `json:"revised"`
	Unchanged []string `json:"unchanged"`
}

// TemplateService manages versioned workflow templates
type TemplateService interface {
	Create(ctx context.Context, req TemplateRequest) (*entity.WorkflowTemplate, error)
	// Revise publishes a new version; running instances keep their snapshot
	Revise(ctx context.Context, templateID string, req TemplateRequest) (*entity.WorkflowTemplate, error)
	Deactivate(ctx context.Context, templateID string) error
	Get(ctx context.Context, templateID string) (*entity.WorkflowTemplate, error)
	GetVersion(ctx context.Context, templateID string, version int) (*entity.WorkflowTemplate, error)
	List(ctx context.Context, filter entity.TemplateFilter) ([]*entity.WorkflowTemplate, error)
	FindApplicable(ctx context.Context, entityType string) ([]*entity.WorkflowTemplate, error)
	// Seed creates or revises templates by code and skips unchanged ones
	Seed(ctx context.Context, templates []*entity.WorkflowTemplate) (*SeedResult, error)
}

type templateServiceImpl struct {
	repo       port.TemplateRepository
	txManager  port.TransactionManager
	logger     Logger
	dispatcher dispatcher.Dispatcher
	now        func() time.Time
}

// NewTemplateService creates a new TemplateService. dispatcher may be nil.
func NewTemplateService(
	repo port.TemplateRepository,
	txManager port.TransactionManager,
	logger Logger,
	d dispatcher.Dispatcher,
) TemplateService {
	return &templateServiceImpl{
		repo:       repo,
		txManager:  txManager,
		logger:     logger,
		dispatcher: d,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create publishes version 1 of a new template
func (s *templateServiceImpl) Create(ctx context.Context, req TemplateRequest) (*entity.WorkflowTemplate, error) {
	now := s.now()
	tpl := &entity.WorkflowTemplate{
		ID:          utils.NewID(),
		Code:        strings.TrimSpace(req.Code),
		Name:        strings.TrimSpace(req.Name),
		NameAr:      req.NameAr,
		Description: req.Description,
		EntityType:  strings.TrimSpace(req.EntityType),
		Steps:       copySteps(req.Steps),
		IsActive:    true,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   now,
	}
	if tpl.Code == "" {
		tpl.Code = utils.NewCode(entity.TemplateCodePrefix, now)
	}
	tpl.Normalize()
	if err := tpl.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, tpl); err != nil {
		s.logger.Error("Failed to create template", "code", tpl.Code, "error", err)
		return nil, err
	}

	s.logger.Info("Template created", "template_id", tpl.ID, "code", tpl.Code, "entity_type", tpl.EntityType, "steps", len(tpl.Steps))
	s.publish(ctx, tpl)
	return tpl, nil
}

// Revise stores req as the next version of templateID
func (s *templateServiceImpl) Revise(ctx context.Context, templateID string, req TemplateRequest) (*entity.WorkflowTemplate, error) {
	var revised *entity.WorkflowTemplate
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := s.repo.Get(txCtx, templateID)
		if err != nil {
			return err
		}

		next := &entity.WorkflowTemplate{
			ID:          current.ID,
			Code:        current.Code,
			Name:        firstNonEmpty(strings.TrimSpace(req.Name), current.Name),
			NameAr:      firstNonEmpty(req.NameAr, current.NameAr),
			Description: firstNonEmpty(req.Description, current.Description),
			EntityType:  firstNonEmpty(strings.TrimSpace(req.EntityType), current.EntityType),
			Steps:       copySteps(req.Steps),
			IsActive:    current.IsActive,
			CreatedBy:   firstNonEmpty(req.CreatedBy, current.CreatedBy),
			CreatedAt:   s.now(),
		}
		if len(next.Steps) == 0 {
			next.Steps = copySteps(current.Steps)
		}
		next.Normalize()
		if err := next.Validate(); err != nil {
			return err
		}
		if err := s.repo.CreateVersion(txCtx, next); err != nil {
			return err
		}
		revised = next
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to revise template", "template_id", templateID, "error", err)
		return nil, err
	}

	s.logger.Info("Template revised", "template_id", revised.ID, "code", revised.Code, "version", revised.Version)
	s.publish(ctx, revised)
	return revised, nil
}

// Deactivate stops a template from matching new instances
func (s *templateServiceImpl) Deactivate(ctx context.Context, templateID string) error {
	if err := s.repo.Deactivate(ctx, templateID); err != nil {
		return err
	}
	s.logger.Info("Template deactivated", "template_id", templateID)
	return nil
}

func (s *templateServiceImpl) Get(ctx context.Context, templateID string) (*entity.WorkflowTemplate, error) {
	return s.repo.Get(ctx, templateID)
}

func (s *templateServiceImpl) GetVersion(ctx context.Context, templateID string, version int) (*entity.WorkflowTemplate, error) {
	return s.repo.GetVersion(ctx, templateID, version)
}

func (s *templateServiceImpl) List(ctx context.Context, filter entity.TemplateFilter) ([]*entity.WorkflowTemplate, error) {
	return s.repo.List(ctx, filter)
}

func (s *templateServiceImpl) FindApplicable(ctx context.Context, entityType string) ([]*entity.WorkflowTemplate, error) {
	if strings.TrimSpace(entityType) == "" {
		return nil, entity.NewValidationError("entity type is required")
	}
	return s.repo.FindApplicable(ctx, entityType)
}

// Seed loads templates keyed by code. A template whose content differs from
// the stored latest version is published as a new version.
func (s *templateServiceImpl) Seed(ctx context.Context, templates []*entity.WorkflowTemplate) (*SeedResult, error) {
	result := &SeedResult{Created: []string{}, Revised: []string{}, Unchanged: []string{}}

	for _, seed := range templates {
		if strings.TrimSpace(seed.Code) == "" {
			return result, entity.NewValidationError("seed template %q has no code", seed.Name)
		}
		seed.Normalize()
		if err := seed.Validate(); err != nil {
			return result, fmt.Errorf("seed template %s: %w", seed.Code, err)
		}

		existing, err := s.repo.GetByCode(ctx, seed.Code)
		switch {
		case entity.ErrorKind(err) == entity.ErrNotFound:
			req := requestFrom(seed)
			if _, err := s.Create(ctx, req); err != nil {
				return result, fmt.Errorf("seed template %s: %w", seed.Code, err)
			}
			result.Created = append(result.Created, seed.Code)
		case err != nil:
			return result, fmt.Errorf("seed template %s: %w", seed.Code, err)
		case sameContent(existing, seed):
			result.Unchanged = append(result.Unchanged, seed.Code)
		default:
			if _, err := s.Revise(ctx, existing.ID, requestFrom(seed)); err != nil {
				return result, fmt.Errorf("seed template %s: %w", seed.Code, err)
			}
			result.Revised = append(result.Revised, seed.Code)
		}
	}

	s.logger.Info("Templates seeded",
		"created", len(result.Created),
		"revised", len(result.Revised),
		"unchanged", len(result.Unchanged))
	return result, nil
}

func (s *templateServiceImpl) publish(ctx context.Context, tpl *entity.WorkflowTemplate) {
	if s.dispatcher == nil {
		return
	}
	evt := event.NewEvent(event.TypeTemplatePublished, "", map[string]interface{}{
		"template_id": tpl.ID,
		"code":        tpl.Code,
		"version":     tpl.Version,
		"entity_type": tpl.EntityType,
	})
	evt.CorrelationID = tpl.ID
	s.dispatcher.DispatchAsync(ctx, evt)
}

func requestFrom(tpl *entity.WorkflowTemplate) TemplateRequest {
	return TemplateRequest{
		Code:        tpl.Code,
		Name:        tpl.Name,
		NameAr:      tpl.NameAr,
		Description: tpl.Description,
		EntityType:  tpl.EntityType,
		Steps:       tpl.Steps,
		CreatedBy:   firstNonEmpty(tpl.CreatedBy, "seed"),
	}
}

func sameContent(a, b *entity.WorkflowTemplate) bool {
	return a.Name == b.Name &&
		a.NameAr == b.NameAr &&
		a.Description == b.Description &&
		a.EntityType == b.EntityType &&
		reflect.DeepEqual(normalizeSteps(a.Steps), normalizeSteps(b.Steps))
}

// normalizeSteps maps nil and empty user lists to the same value
func normalizeSteps(steps []entity.StepDefinition) []entity.StepDefinition {
	out := copySteps(steps)
	for i := range out {
		if len(out[i].Approver.Users) == 0 {
			out[i].Approver.Users = nil
		}
	}
	return out
}

func copySteps(steps []entity.StepDefinition) []entity.StepDefinition {
	out := make([]entity.StepDefinition, len(steps))
	for i, st := range steps {
		st.Approver.Users = append([]string(nil), st.Approver.Users...)
		out[i] = st
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
