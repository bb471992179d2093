package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/bi-workflow/internal/application/workflow"
	"github.com/garyjia/bi-workflow/internal/domain/entity"
)

const seedYAML = `
templates:
  - code: WFT-EXPENSE
    name: Expense approval
    entity_type: expense
    steps:
      - name: manager
        approver:
          type: dynamic
          resolver: requester_manager
      - name: finance
        approver:
          type: role
          role: finance
        policy:
          mode: all
`

const orgPolicy = `g, fin-1, finance
g2, alice, mgr
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func testConfig(t *testing.T, driver string) *Config {
	t.Helper()
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Database.Driver = driver
	cfg.Database.Path = filepath.Join(dir, "db", "workflow.db")
	cfg.Workflow.SeedFile = writeFile(t, dir, "templates.yaml", seedYAML)
	cfg.Directory.PolicyPath = writeFile(t, dir, "org.csv", orgPolicy)
	cfg.Workflow.SLAScanCron = "@every 1h"
	return cfg
}

func TestNewContainer_Validation(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewContainer(DefaultConfig(), nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Database.Driver = "postgres"
	_, err = NewContainer(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestContainer_Lifecycle(t *testing.T) {
	for _, driver := range []string{"memory", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			c, err := NewContainer(testConfig(t, driver), zap.NewNop())
			require.NoError(t, err)

			ctx := context.Background()
			require.NoError(t, c.Start(ctx))
			assert.True(t, c.Ready())
			assert.Error(t, c.Start(ctx))

			health := c.Health()
			assert.True(t, health.Overall, "%+v", health.Components)
			assert.Equal(t, 1, c.Workers().WorkerCount())
			assert.NotNil(t, c.MetricsHandler())

			templates, err := c.Services().Templates.FindApplicable(ctx, entity.EntityTypeExpense)
			require.NoError(t, err)
			require.Len(t, templates, 1)
			assert.Equal(t, "WFT-EXPENSE", templates[0].Code)

			inst, err := c.Engine().Initiate(ctx, workflow.InitiateRequest{
				EntityType:  entity.EntityTypeExpense,
				EntityID:    "EXP-1",
				RequesterID: "alice",
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"mgr"}, inst.CurrentApprovers())

			result, err := c.Engine().Decide(ctx, workflow.DecideRequest{
				InstanceID: inst.ID,
				StepIndex:  0,
				ApproverID: "mgr",
				Decision:   entity.DecisionApproved,
			})
			require.NoError(t, err)
			assert.Equal(t, workflow.OutcomeAdvanced, result.Outcome)
			assert.Equal(t, []string{"fin-1"}, result.Instance.CurrentApprovers())

			verify, err := c.Services().Queries.Verify(ctx, inst.ID)
			require.NoError(t, err)
			assert.True(t, verify.Consistent)

			require.NoError(t, c.Close())
			assert.False(t, c.Ready())
			assert.Error(t, c.Close())
			assert.Error(t, c.Start(ctx))
		})
	}
}

func TestContainer_SeedIsIdempotentAcrossRestarts(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	cfg.DisableWorkers = true
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		c, err := NewContainer(cfg, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, c.Start(ctx))
		assert.Nil(t, c.Workers())

		tpl, err := c.Repositories().Templates.GetByCode(ctx, "WFT-EXPENSE")
		require.NoError(t, err)
		assert.Equal(t, 1, tpl.Version)
		require.NoError(t, c.Close())
	}
}

func TestContainer_MetricsDisabled(t *testing.T) {
	cfg := testConfig(t, "memory")
	cfg.Metrics.Enabled = false
	cfg.DisableWorkers = true

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	assert.Nil(t, c.MetricsHandler())
	assert.Equal(t, 48*time.Hour, c.Config().Workflow.DefaultSLA)
}

func TestContainer_FailedStartReleasesComponents(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	cfg.Workflow.SeedFile = filepath.Join(t.TempDir(), "missing.yaml")

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)

	err = c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed")
	assert.False(t, c.Ready())

	health := c.Health()
	assert.False(t, health.Components["database"].Healthy, "database is closed after a failed start")
	assert.Error(t, c.Start(context.Background()), "a failed container cannot be restarted")
	assert.Error(t, c.Close(), "already closed")
}
