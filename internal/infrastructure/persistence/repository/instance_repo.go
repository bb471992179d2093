package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/bi-workflow/internal/application/port"
	"github.com/garyjia/bi-workflow/internal/domain/entity"
	"github.com/garyjia/bi-workflow/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const instanceColumns = `id, code, template_id, template_version, entity_type, entity_id,
	current_step, status, priority, requester_id, requested_at, step_entered_at,
	assignments, metadata, notes, completed_at, completed_by, created_at, updated_at`

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sqlite.DB, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new workflow instance
func (r *InstanceRepository) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	assignments, err := json.Marshal(nonNilAssignments(instance.Assignments))
	if err != nil {
		return fmt.Errorf("failed to marshal assignments: %w", err)
	}
	metadata, err := marshalMetadata(instance.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_instances (` + instanceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Executor(ctx).ExecContext(ctx, query,
		instance.ID,
		instance.Code,
		instance.TemplateID,
		instance.TemplateVersion,
		instance.EntityType,
		instance.EntityID,
		instance.CurrentStep,
		instance.Status,
		instance.Priority,
		instance.RequesterID,
		instance.RequestedAt.UTC(),
		instance.StepEnteredAt.UTC(),
		string(assignments),
		metadata,
		instance.Notes,
		nullTime(instance.CompletedAt),
		instance.CompletedBy,
		instance.CreatedAt.UTC(),
		instance.UpdatedAt.UTC(),
	)
	if err != nil {
		if sqlite.IsUniqueViolation(err) {
			return entity.NewValidationError("instance %s already exists", instance.ID)
		}
		r.logger.Error("Failed to create instance", zap.String("instance_id", instance.ID), zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// Get retrieves an instance by ID
func (r *InstanceRepository) Get(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = ?`
	instance, err := scanInstance(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NewNotFoundError("instance", id)
	}
	return instance, err
}

// GetByCode retrieves an instance by its human-readable code
func (r *InstanceRepository) GetByCode(ctx context.Context, code string) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE code = ?`
	instance, err := scanInstance(r.db.Executor(ctx).QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NewNotFoundError("instance", code)
	}
	return instance, err
}

// List returns one page of instances, newest first
func (r *InstanceRepository) List(ctx context.Context, filter entity.InstanceFilter) (*entity.InstancePage, error) {
	filter = filter.Normalize()

	var (
		conds []string
		args  []interface{}
	)
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.EntityType != "" {
		conds = append(conds, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.RequesterID != "" {
		conds = append(conds, "requester_id = ?")
		args = append(args, filter.RequesterID)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	page := &entity.InstancePage{Items: []*entity.WorkflowInstance{}}
	err := r.db.Executor(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflow_instances`+where, args...).Scan(&page.Total)
	if err != nil {
		return nil, fmt.Errorf("failed to count instances: %w", err)
	}

	query := `SELECT ` + instanceColumns + ` FROM workflow_instances` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	items, err := r.query(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, err
	}
	page.Items = items
	return page, nil
}

// ListPending returns every pending instance, newest first
func (r *InstanceRepository) ListPending(ctx context.Context) ([]*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances
		WHERE status = ? ORDER BY created_at DESC, id DESC`
	return r.query(ctx, query, entity.StatusPending)
}

// CountByStatus counts instances grouped by status
func (r *InstanceRepository) CountByStatus(ctx context.Context) (map[entity.Status]int, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx,
		`SELECT status, COUNT(*) FROM workflow_instances GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count instances by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[entity.Status]int)
	for rows.Next() {
		var (
			status entity.Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// UpdateState applies a compare-and-swap on (status, current_step)
func (r *InstanceRepository) UpdateState(ctx context.Context, u entity.StateUpdate) (*entity.WorkflowInstance, error) {
	at := u.At
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	var (
		assignment interface{}
		enteredAt  interface{}
		completed  interface{}
	)
	if u.Assignment != nil {
		a := *u.Assignment
		a.EnteredAt = a.EnteredAt.UTC()
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal assignment: %w", err)
		}
		assignment = string(raw)
		enteredAt = a.EnteredAt
	}
	if u.NewStatus.IsTerminal() {
		completed = at
	}

	var updated *entity.WorkflowInstance
	err := r.db.WithTransaction(ctx, func(ctx context.Context) error {
		query := `
			UPDATE workflow_instances SET
				status = ?,
				current_step = ?,
				assignments = CASE WHEN ? IS NULL THEN assignments ELSE json_insert(assignments, '$[#]', json(?)) END,
				step_entered_at = COALESCE(?, step_entered_at),
				completed_at = COALESCE(?, completed_at),
				completed_by = CASE WHEN ? IS NULL THEN completed_by ELSE ? END,
				updated_at = ?
			WHERE id = ? AND status = ? AND current_step = ?
		`
		result, err := r.db.Executor(ctx).ExecContext(ctx, query,
			u.NewStatus,
			u.NewStep,
			assignment, assignment,
			enteredAt,
			completed,
			completed, u.CompletedBy,
			at,
			u.InstanceID, u.ExpectedStatus, u.ExpectedStep,
		)
		if err != nil {
			r.logger.Error("Failed to update instance state",
				zap.String("instance_id", u.InstanceID),
				zap.Error(err))
			return fmt.Errorf("failed to update instance state: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			if _, err := r.Get(ctx, u.InstanceID); err != nil {
				return err
			}
			return entity.NewConflictError(u.InstanceID)
		}

		updated, err = r.Get(ctx, u.InstanceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *InstanceRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.WorkflowInstance, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query instances", zap.Error(err))
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer rows.Close()

	instances := make([]*entity.WorkflowInstance, 0)
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

func scanInstance(row rowScanner) (*entity.WorkflowInstance, error) {
	var (
		instance    entity.WorkflowInstance
		assignments string
		metadata    string
		completedAt sql.NullTime
	)
	err := row.Scan(
		&instance.ID,
		&instance.Code,
		&instance.TemplateID,
		&instance.TemplateVersion,
		&instance.EntityType,
		&instance.EntityID,
		&instance.CurrentStep,
		&instance.Status,
		&instance.Priority,
		&instance.RequesterID,
		&instance.RequestedAt,
		&instance.StepEnteredAt,
		&assignments,
		&metadata,
		&instance.Notes,
		&completedAt,
		&instance.CompletedBy,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	if err := json.Unmarshal([]byte(assignments), &instance.Assignments); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assignments of instance %s: %w", instance.ID, err)
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &instance.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata of instance %s: %w", instance.ID, err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		instance.CompletedAt = &t
	}
	return &instance, nil
}

func nonNilAssignments(a []entity.StepAssignment) []entity.StepAssignment {
	if a == nil {
		return []entity.StepAssignment{}
	}
	out := make([]entity.StepAssignment, len(a))
	for i, as := range a {
		as.EnteredAt = as.EnteredAt.UTC()
		out[i] = as
	}
	return out
}

func marshalMetadata(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(raw), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
