package repository

import (
	"context"
	"fmt"

	"github.com/garyjia/bi-workflow/internal/application/port"
	"github.com/garyjia/bi-workflow/internal/domain/entity"
	"github.com/garyjia/bi-workflow/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// ApprovalRepository implements port.ApprovalRepository on the step_approvals ledger
type ApprovalRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewApprovalRepository creates a new ledger repository
func NewApprovalRepository(db *sqlite.DB, logger *zap.Logger) port.ApprovalRepository {
	return &ApprovalRepository{
		db:     db,
		logger: logger,
	}
}

// Append inserts a decision only while the instance is pending at that step.
// The guard and the insert are one statement, so a step resolved by a
// concurrent writer can never gain a late entry.
func (r *ApprovalRepository) Append(ctx context.Context, a *entity.StepApproval) error {
	query := `
		INSERT INTO step_approvals (id, instance_id, step_index, approver_id, decision, comments, decided_at)
		SELECT ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (
			SELECT 1 FROM workflow_instances
			WHERE id = ? AND status = ? AND current_step = ?
		)
	`
	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		a.ID,
		a.InstanceID,
		a.StepIndex,
		a.ApproverID,
		a.Decision,
		a.Comments,
		a.DecidedAt.UTC(),
		a.InstanceID, entity.StatusPending, a.StepIndex,
	)
	if err != nil {
		if sqlite.IsUniqueViolation(err) {
			return entity.NewInvalidStateError("approver %s has already decided step %d", a.ApproverID, a.StepIndex)
		}
		r.logger.Error("Failed to append step approval",
			zap.String("instance_id", a.InstanceID),
			zap.Int("step", a.StepIndex),
			zap.Error(err))
		return fmt.Errorf("failed to append step approval: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		var n int
		err := r.db.Executor(ctx).QueryRowContext(ctx,
			`SELECT COUNT(*) FROM workflow_instances WHERE id = ?`, a.InstanceID).Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to check instance: %w", err)
		}
		if n == 0 {
			return entity.NewNotFoundError("instance", a.InstanceID)
		}
		return entity.NewStepResolvedError(a.InstanceID, a.StepIndex)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get ledger sequence: %w", err)
	}
	a.Seq = seq
	return nil
}

// ListByInstance returns the instance's ledger in ledger order
func (r *ApprovalRepository) ListByInstance(ctx context.Context, instanceID string) ([]*entity.StepApproval, error) {
	query := `
		SELECT seq, id, instance_id, step_index, approver_id, decision, comments, decided_at
		FROM step_approvals
		WHERE instance_id = ?
		ORDER BY seq ASC
	`
	return r.query(ctx, query, instanceID)
}

// ListByStep returns one step's ledger in ledger order
func (r *ApprovalRepository) ListByStep(ctx context.Context, instanceID string, step int) ([]*entity.StepApproval, error) {
	query := `
		SELECT seq, id, instance_id, step_index, approver_id, decision, comments, decided_at
		FROM step_approvals
		WHERE instance_id = ? AND step_index = ?
		ORDER BY seq ASC
	`
	return r.query(ctx, query, instanceID, step)
}

func (r *ApprovalRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.StepApproval, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query step approvals", zap.Error(err))
		return nil, fmt.Errorf("failed to query step approvals: %w", err)
	}
	defer rows.Close()

	approvals := make([]*entity.StepApproval, 0)
	for rows.Next() {
		var a entity.StepApproval
		if err := rows.Scan(
			&a.Seq,
			&a.ID,
			&a.InstanceID,
			&a.StepIndex,
			&a.ApproverID,
			&a.Decision,
			&a.Comments,
			&a.DecidedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan step approval: %w", err)
		}
		approvals = append(approvals, &a)
	}
	return approvals, rows.Err()
}
