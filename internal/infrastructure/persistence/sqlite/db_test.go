package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/bi-workflow/pkg/database"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	raw, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "tx.db"),
		MaxOpenConns: 2,
		MaxIdleConns: 2,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	_, err = raw.Exec("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT UNIQUE)")
	require.NoError(t, err)
	return NewDB(raw.DB, zap.NewNop())
}

func count(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM items").Scan(&n))
	return n
}

func TestWithTransaction_CommitAndRollback(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.WithTransaction(ctx, func(ctx context.Context) error {
		assert.True(t, InTransaction(ctx))
		_, err := db.Executor(ctx).ExecContext(ctx, "INSERT INTO items (name) VALUES ('a')")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, db))

	boom := errors.New("boom")
	err = db.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := db.Executor(ctx).ExecContext(ctx, "INSERT INTO items (name) VALUES ('b')"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, count(t, db))
}

func TestWithTransaction_JoinsOuterTransaction(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.WithTransaction(ctx, func(outer context.Context) error {
		if err := db.WithTransaction(outer, func(inner context.Context) error {
			_, err := db.Executor(inner).ExecContext(inner, "INSERT INTO items (name) VALUES ('nested')")
			return err
		}); err != nil {
			return err
		}
		return errors.New("abort outer")
	})
	require.Error(t, err)
	assert.Equal(t, 0, count(t, db))
}

func TestWithTransaction_PanicRollsBack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = db.WithTransaction(ctx, func(ctx context.Context) error {
			_, _ = db.Executor(ctx).ExecContext(ctx, "INSERT INTO items (name) VALUES ('p')")
			panic("handler bug")
		})
	})
	assert.Equal(t, 0, count(t, db))
	assert.False(t, InTransaction(ctx))
}

func TestErrorClassification(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "INSERT INTO items (name) VALUES ('dup')")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO items (name) VALUES ('dup')")
	require.Error(t, err)

	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsBusy(err))
	assert.False(t, IsUniqueViolation(errors.New("plain")))
	assert.False(t, IsBusy(nil))
}
