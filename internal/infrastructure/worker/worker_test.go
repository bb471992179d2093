package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/bi-workflow/internal/application/dispatcher"
	"github.com/garyjia/bi-workflow/internal/domain/entity"
	"github.com/garyjia/bi-workflow/internal/domain/event"
)

type fakeWorker struct {
	name     string
	startErr error
	stopErr  error
	stops    *[]string

	mu      sync.Mutex
	started bool
	stopped bool
}

func (w *fakeWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.startErr != nil {
		return w.startErr
	}
	w.started = true
	return nil
}

func (w *fakeWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.stops != nil {
		*w.stops = append(*w.stops, w.name)
	}
	return w.stopErr
}

func (w *fakeWorker) Name() string { return w.name }

func TestManager_Lifecycle(t *testing.T) {
	m := NewManager(zap.NewNop())
	ok := &fakeWorker{name: "ok"}
	broken := &fakeWorker{name: "broken", startErr: errors.New("boom")}
	require.NoError(t, m.Register(ok))
	require.NoError(t, m.Register(broken))
	assert.Error(t, m.Register(&fakeWorker{name: "ok"}), "duplicate name")
	assert.Equal(t, 2, m.WorkerCount())

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.True(t, ok.started)
	assert.False(t, broken.started)
	assert.Equal(t, map[string]bool{"ok": true, "broken": false}, m.Status())

	assert.Error(t, m.StartAll(context.Background()))

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
	assert.True(t, ok.stopped)
	assert.False(t, broken.stopped, "a worker that never started is not stopped")
	assert.Equal(t, map[string]bool{"ok": false, "broken": false}, m.Status())

	// stopping twice is a no-op
	assert.NoError(t, m.StopAll())
}

func TestManager_StartAllFailsWhenNothingStarts(t *testing.T) {
	m := NewManager(zap.NewNop())
	require.NoError(t, m.Register(&fakeWorker{name: "broken", startErr: errors.New("bad cron")}))

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad cron")
	assert.False(t, m.IsRunning())
}

func TestManager_StopAllReverseOrderJoinsErrors(t *testing.T) {
	var stops []string
	m := NewManager(zap.NewNop())
	require.NoError(t, m.Register(&fakeWorker{name: "a", stopErr: errors.New("a failed"), stops: &stops}))
	require.NoError(t, m.Register(&fakeWorker{name: "b", stops: &stops}))

	require.NoError(t, m.StartAll(context.Background()))
	err := m.StopAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a failed")
	assert.Equal(t, []string{"b", "a"}, stops)
}

type stubFinder struct {
	mu    sync.Mutex
	stale []*entity.StaleInstance
	err   error
	calls int
}

func (f *stubFinder) StaleInstances(ctx context.Context, now time.Time) ([]*entity.StaleInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.stale, f.err
}

func (f *stubFinder) set(stale ...*entity.StaleInstance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stale = stale
}

func staleAt(id string, step int) *entity.StaleInstance {
	return &entity.StaleInstance{
		Instance: &entity.WorkflowInstance{
			ID:          id,
			Code:        "WF-" + id,
			EntityType:  "purchase_order",
			EntityID:    "po-" + id,
			Status:      entity.StatusPending,
			CurrentStep: step,
		},
		StepName:   "Manager review",
		PendingFor: 6 * time.Hour,
		SLA:        4 * time.Hour,
	}
}

type recorder struct {
	mu     sync.Mutex
	events []*event.Event
}

func (r *recorder) handle(ctx context.Context, evt *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) snapshot() []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*event.Event(nil), r.events...)
}

func TestNewSLAMonitor_Schedule(t *testing.T) {
	m, err := NewSLAMonitor(&stubFinder{}, nil, "", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, DefaultSLASchedule, m.schedule)
	assert.Equal(t, "sla-monitor", m.Name())

	_, err = NewSLAMonitor(&stubFinder{}, nil, "every tuesday", zap.NewNop())
	assert.Error(t, err)
}

func TestSLAMonitor_ScanReportsOncePerStep(t *testing.T) {
	finder := &stubFinder{}
	d := dispatcher.NewDispatcher()
	rec := &recorder{}
	d.Subscribe(event.TypeSLABreached, rec.handle)

	m, err := NewSLAMonitor(finder, d, DefaultSLASchedule, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	finder.set(staleAt("i1", 0), staleAt("i2", 1))
	fresh, err := m.Scan(ctx)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)

	fresh, err = m.Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	// i1 advanced to its next step and breached again
	finder.set(staleAt("i1", 1), staleAt("i2", 1))
	fresh, err = m.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "i1", fresh[0].Instance.ID)
	assert.Equal(t, 1, fresh[0].Instance.CurrentStep)

	require.NoError(t, d.Close())
	events := rec.snapshot()
	require.Len(t, events, 3)
	for _, evt := range events {
		assert.Equal(t, "purchase_order", evt.EntityType)
		assert.Equal(t, 4.0, evt.Payload["sla_hours"])
		assert.Equal(t, 6.0, evt.Payload["pending_hours"])
	}
}

func TestSLAMonitor_ScanError(t *testing.T) {
	finder := &stubFinder{err: errors.New("db down")}
	m, err := NewSLAMonitor(finder, nil, DefaultSLASchedule, zap.NewNop())
	require.NoError(t, err)

	_, err = m.Scan(context.Background())
	assert.EqualError(t, err, "db down")
}

func TestSLAMonitor_StartStop(t *testing.T) {
	m, err := NewSLAMonitor(&stubFinder{}, nil, "@every 1h", zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()))
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
}
