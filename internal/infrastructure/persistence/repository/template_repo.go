package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/bi-workflow/internal/application/port"
	"github.com/garyjia/bi-workflow/internal/domain/entity"
	"github.com/garyjia/bi-workflow/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const templateColumns = `id, version, code, name, name_ar, description, entity_type,
	steps, is_active, created_by, created_at`

// TemplateRepository implements port.TemplateRepository
type TemplateRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *sqlite.DB, logger *zap.Logger) port.TemplateRepository {
	return &TemplateRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores version 1 of a new template
func (r *TemplateRepository) Create(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		var n int
		err := r.db.Executor(ctx).QueryRowContext(ctx,
			`SELECT COUNT(*) FROM workflow_templates WHERE id = ? OR code = ?`, tpl.ID, tpl.Code,
		).Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to check template uniqueness: %w", err)
		}
		if n > 0 {
			return entity.NewValidationError("template %s (%s) already exists", tpl.ID, tpl.Code)
		}

		tpl.Version = 1
		return r.insert(ctx, tpl)
	})
}

// CreateVersion stores tpl as the next version of an existing template
func (r *TemplateRepository) CreateVersion(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		var (
			latest int
			code   string
		)
		err := r.db.Executor(ctx).QueryRowContext(ctx,
			`SELECT version, code FROM workflow_templates WHERE id = ? ORDER BY version DESC LIMIT 1`, tpl.ID,
		).Scan(&latest, &code)
		if errors.Is(err, sql.ErrNoRows) {
			return entity.NewNotFoundError("template", tpl.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to load latest template version: %w", err)
		}

		tpl.Version = latest + 1
		tpl.Code = code
		return r.insert(ctx, tpl)
	})
}

func (r *TemplateRepository) insert(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	steps, err := json.Marshal(tpl.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal template steps: %w", err)
	}

	query := `
		INSERT INTO workflow_templates (` + templateColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Executor(ctx).ExecContext(ctx, query,
		tpl.ID,
		tpl.Version,
		tpl.Code,
		tpl.Name,
		tpl.NameAr,
		tpl.Description,
		tpl.EntityType,
		string(steps),
		tpl.IsActive,
		tpl.CreatedBy,
		tpl.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to insert template",
			zap.String("template_id", tpl.ID),
			zap.Int("version", tpl.Version),
			zap.Error(err))
		return fmt.Errorf("failed to insert template: %w", err)
	}
	return nil
}

// Get returns the latest version of a template
func (r *TemplateRepository) Get(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM workflow_templates
		WHERE id = ? ORDER BY version DESC LIMIT 1`
	tpl, err := r.scanOne(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NewNotFoundError("template", id)
	}
	return tpl, err
}

// GetVersion returns a specific version of a template
func (r *TemplateRepository) GetVersion(ctx context.Context, id string, version int) (*entity.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM workflow_templates WHERE id = ? AND version = ?`
	tpl, err := r.scanOne(r.db.Executor(ctx).QueryRowContext(ctx, query, id, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NewNotFoundError("template version", fmt.Sprintf("%s@%d", id, version))
	}
	return tpl, err
}

// GetByCode returns the latest version of the template with the given code
func (r *TemplateRepository) GetByCode(ctx context.Context, code string) (*entity.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM workflow_templates
		WHERE code = ? ORDER BY version DESC LIMIT 1`
	tpl, err := r.scanOne(r.db.Executor(ctx).QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NewNotFoundError("template", code)
	}
	return tpl, err
}

// FindApplicable returns the latest active version of every template for an entity type
func (r *TemplateRepository) FindApplicable(ctx context.Context, entityType string) ([]*entity.WorkflowTemplate, error) {
	return r.List(ctx, entity.TemplateFilter{EntityType: entityType, ActiveOnly: true})
}

// List returns the latest version of each template matching the filter
func (r *TemplateRepository) List(ctx context.Context, filter entity.TemplateFilter) ([]*entity.WorkflowTemplate, error) {
	conds := []string{`t.version = (SELECT MAX(version) FROM workflow_templates WHERE id = t.id)`}
	args := []interface{}{}
	if filter.EntityType != "" {
		conds = append(conds, "t.entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.ActiveOnly {
		conds = append(conds, "t.is_active = 1")
	}

	query := `SELECT ` + templateColumns + ` FROM workflow_templates t
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY t.created_at ASC, t.id ASC`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list templates", zap.Error(err))
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	templates := make([]*entity.WorkflowTemplate, 0)
	for rows.Next() {
		tpl, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

// Deactivate clears the active flag on every version of a template
func (r *TemplateRepository) Deactivate(ctx context.Context, id string) error {
	result, err := r.db.Executor(ctx).ExecContext(ctx,
		`UPDATE workflow_templates SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		r.logger.Error("Failed to deactivate template", zap.String("template_id", id), zap.Error(err))
		return fmt.Errorf("failed to deactivate template: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return entity.NewNotFoundError("template", id)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *TemplateRepository) scanOne(row rowScanner) (*entity.WorkflowTemplate, error) {
	var (
		tpl   entity.WorkflowTemplate
		steps string
	)
	err := row.Scan(
		&tpl.ID,
		&tpl.Version,
		&tpl.Code,
		&tpl.Name,
		&tpl.NameAr,
		&tpl.Description,
		&tpl.EntityType,
		&steps,
		&tpl.IsActive,
		&tpl.CreatedBy,
		&tpl.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan template: %w", err)
	}
	if err := json.Unmarshal([]byte(steps), &tpl.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps of template %s: %w", tpl.ID, err)
	}
	return &tpl, nil
}
