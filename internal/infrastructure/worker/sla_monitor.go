package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/garyjia/bi-workflow/internal/application/dispatcher"
	"github.com/garyjia/bi-workflow/internal/domain/entity"
	"github.com/garyjia/bi-workflow/internal/domain/event"
)

// DefaultSLASchedule scans for stale instances every fifteen minutes
const DefaultSLASchedule = "*/15 * * * *"

// StaleFinder is the query the monitor runs on every tick
type StaleFinder interface {
	StaleInstances(ctx context.Context, now time.Time) ([]*entity.StaleInstance, error)
}

// SLAMonitor reports steps that stay pending past their SLA. It only emits
// events; it never changes instance state. Each (instance, step) is reported
// once per process.
type SLAMonitor struct {
	finder     StaleFinder
	dispatcher dispatcher.Dispatcher
	schedule   string
	logger     *zap.Logger
	now        func() time.Time

	mu        sync.Mutex
	scheduler *cron.Cron
	reported  map[string]bool
	ctx       context.Context
}

// NewSLAMonitor creates a monitor running on a standard five-field cron schedule
func NewSLAMonitor(finder StaleFinder, d dispatcher.Dispatcher, schedule string, logger *zap.Logger) (*SLAMonitor, error) {
	if schedule == "" {
		schedule = DefaultSLASchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sla scan schedule %q: %w", schedule, err)
	}
	return &SLAMonitor{
		finder:     finder,
		dispatcher: d,
		schedule:   schedule,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		reported:   make(map[string]bool),
	}, nil
}

// Name implements Worker
func (m *SLAMonitor) Name() string { return "sla-monitor" }

// Start implements Worker
func (m *SLAMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.scheduler != nil {
		return fmt.Errorf("sla monitor already started")
	}

	m.ctx = ctx
	m.scheduler = cron.New(cron.WithLocation(time.UTC))
	if _, err := m.scheduler.AddFunc(m.schedule, m.tick); err != nil {
		m.scheduler = nil
		return fmt.Errorf("failed to schedule sla scan: %w", err)
	}
	m.scheduler.Start()
	m.logger.Info("SLA monitor scheduled", zap.String("schedule", m.schedule))
	return nil
}

// Stop implements Worker and waits for a running scan to finish
func (m *SLAMonitor) Stop() error {
	m.mu.Lock()
	scheduler := m.scheduler
	m.scheduler = nil
	m.mu.Unlock()

	if scheduler == nil {
		return nil
	}
	<-scheduler.Stop().Done()
	return nil
}

func (m *SLAMonitor) tick() {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := m.Scan(ctx); err != nil {
		m.logger.Error("SLA scan failed", zap.Error(err))
	}
}

// Scan runs one pass and returns the breaches reported for the first time
func (m *SLAMonitor) Scan(ctx context.Context) ([]*entity.StaleInstance, error) {
	stale, err := m.finder.StaleInstances(ctx, m.now())
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	current := make(map[string]bool, len(stale))
	fresh := make([]*entity.StaleInstance, 0)
	for _, s := range stale {
		key := fmt.Sprintf("%s@%d", s.Instance.ID, s.Instance.CurrentStep)
		current[key] = true
		if !m.reported[key] {
			fresh = append(fresh, s)
		}
	}
	// forget steps that resolved so the set does not grow without bound
	m.reported = current
	m.mu.Unlock()

	for _, s := range fresh {
		inst := s.Instance
		m.logger.Warn("Step past SLA",
			zap.String("instance_id", inst.ID),
			zap.String("code", inst.Code),
			zap.Int("step_index", inst.CurrentStep),
			zap.Duration("pending_for", s.PendingFor),
			zap.Duration("sla", s.SLA))
		if m.dispatcher == nil {
			continue
		}
		m.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeSLABreached, inst.ID, map[string]interface{}{
			"code":          inst.Code,
			"step_index":    inst.CurrentStep,
			"step_name":     s.StepName,
			"approvers":     inst.CurrentApprovers(),
			"pending_hours": s.PendingFor.Hours(),
			"sla_hours":     s.SLA.Hours(),
		}).ForEntity(inst.EntityType, inst.EntityID))
	}

	if len(stale) > 0 {
		m.logger.Info("SLA scan complete", zap.Int("stale", len(stale)), zap.Int("newly_reported", len(fresh)))
	}
	return fresh, nil
}
