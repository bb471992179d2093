package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker is a background job with an explicit lifecycle
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// Manager starts and stops the registered workers as a group
type Manager struct {
	logger *zap.Logger

	mu      sync.RWMutex
	workers []Worker
	started map[string]bool
	running bool
	cancel  context.CancelFunc
}

// NewManager creates a new worker manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:  logger,
		started: make(map[string]bool),
	}
}

// Register adds a worker. Names must be unique.
func (m *Manager) Register(w Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.workers {
		if existing.Name() == w.Name() {
			return fmt.Errorf("worker %q already registered", w.Name())
		}
	}
	m.workers = append(m.workers, w)
	m.logger.Info("Worker registered", zap.String("worker_name", w.Name()))
	return nil
}

// StartAll starts every registered worker under a context cancelled by
// StopAll. A worker that fails to start is logged and left out; StartAll
// fails only when no worker could start.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("workers already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	var errs []error
	for _, w := range m.workers {
		if err := w.Start(runCtx); err != nil {
			m.logger.Error("Failed to start worker", zap.String("worker_name", w.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
			continue
		}
		m.started[w.Name()] = true
	}

	if len(m.workers) > 0 && len(m.started) == 0 {
		cancel()
		return fmt.Errorf("no worker started: %w", errors.Join(errs...))
	}

	m.running = true
	m.cancel = cancel
	m.logger.Info("Workers started", zap.Int("started", len(m.started)), zap.Int("registered", len(m.workers)))
	return nil
}

// StopAll stops the started workers in reverse start order and joins their errors
func (m *Manager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.cancel()

	var errs []error
	for i := len(m.workers) - 1; i >= 0; i-- {
		w := m.workers[i]
		if !m.started[w.Name()] {
			continue
		}
		if err := w.Stop(); err != nil {
			m.logger.Error("Failed to stop worker", zap.String("worker_name", w.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
		}
		delete(m.started, w.Name())
	}

	m.running = false
	m.cancel = nil
	if len(errs) > 0 {
		return fmt.Errorf("failed to stop %d worker(s): %w", len(errs), errors.Join(errs...))
	}
	m.logger.Info("Workers stopped")
	return nil
}

// Status reports, per registered worker, whether it is running
func (m *Manager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]bool, len(m.workers))
	for _, w := range m.workers {
		status[w.Name()] = m.started[w.Name()]
	}
	return status
}

// WorkerCount returns the number of registered workers
func (m *Manager) WorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}

// IsRunning returns whether StartAll has succeeded and StopAll not yet run
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}
