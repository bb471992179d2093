package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garyjia/bi-workflow/internal/application/port"
)

type txKey struct{}

const (
	defaultBusyRetries = 3
	busyBackoff        = 20 * time.Millisecond
)

// DB hands repositories the executor for the current context and runs
// units of work (ledger append + CAS) in one transaction
type DB struct {
	*sql.DB
	logger      *zap.Logger
	busyRetries int
}

// NewDB wraps an open pool
func NewDB(sqlDB *sql.DB, logger *zap.Logger) *DB {
	return &DB{
		DB:          sqlDB,
		logger:      logger,
		busyRetries: defaultBusyRetries,
	}
}

// WithTransaction runs fn inside a transaction carried by the context passed
// to fn. A transaction already carried by ctx is joined, not nested. When the
// outermost attempt fails because the database is busy the whole unit is
// retried; domain errors returned by fn are never retried.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if extractTx(ctx) != nil {
		return fn(ctx)
	}

	var err error
	for attempt := 0; attempt <= db.busyRetries; attempt++ {
		if attempt > 0 {
			db.logger.Warn("Database busy, retrying transaction", zap.Int("attempt", attempt), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * busyBackoff):
			}
		}
		err = db.runOnce(ctx, fn)
		if !IsBusy(err) {
			return err
		}
	}
	return err
}

func (db *DB) runOnce(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			db.logger.Error("Transaction panicked, rolled back", zap.Any("panic", p))
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			db.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// InTransaction reports whether ctx carries an open transaction
func InTransaction(ctx context.Context) bool {
	return extractTx(ctx) != nil
}

func extractTx(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// Executor returns the transaction carried by ctx, or the pool itself
func (db *DB) Executor(ctx context.Context) Execer {
	if tx := extractTx(ctx); tx != nil {
		return tx
	}
	return db.DB
}

// Execer covers both *sql.DB and *sql.Tx
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// IsUniqueViolation reports a UNIQUE or PRIMARY KEY constraint failure
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// IsBusy reports SQLITE_BUSY or SQLITE_LOCKED
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

var _ port.TransactionManager = (*DB)(nil)
