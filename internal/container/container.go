package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/bi-workflow/internal/application/dispatcher"
	"github.com/garyjia/bi-workflow/internal/application/port"
	"github.com/garyjia/bi-workflow/internal/application/service"
	"github.com/garyjia/bi-workflow/internal/application/workflow"
	"github.com/garyjia/bi-workflow/internal/infrastructure/directory"
	"github.com/garyjia/bi-workflow/internal/infrastructure/metrics"
	"github.com/garyjia/bi-workflow/internal/infrastructure/seed"
	"github.com/garyjia/bi-workflow/internal/infrastructure/worker"
	"github.com/garyjia/bi-workflow/pkg/database"
	"github.com/garyjia/bi-workflow/pkg/utils"
)

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and close in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	raw          *database.DB
	txManager    port.TransactionManager
	repositories *RepositoryBundle

	// Infrastructure - Directory
	directory *directory.CasbinDirectory
	resolver  port.ApproverResolver

	// Events
	dispatcher dispatcher.Dispatcher
	publisher  port.EventPublisher
	metrics    *metrics.Collector

	// Application
	engine   workflow.ApprovalEngine
	services *ServiceBundle

	// Workers
	workers *worker.Manager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups the three workflow stores.
type RepositoryBundle struct {
	Templates port.TemplateRepository
	Instances port.InstanceRepository
	Approvals port.ApprovalRepository
}

// ServiceBundle groups the application services.
type ServiceBundle struct {
	Templates service.TemplateService
	Queries   service.QueryService
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components in dependency order:
// 1. Database and repositories
// 2. Org directory and approver resolver
// 3. Event dispatcher, metrics and Kafka forwarding
// 4. Approval engine and services
// 5. Template seed
// 6. Workers
func (c *Container) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	defer func() {
		if err != nil {
			c.logger.Error("Container start failed, releasing components", zap.Error(err))
			if closeErr := c.closeLocked(); closeErr != nil {
				err = errors.Join(err, closeErr)
			}
		}
	}()

	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized", zap.String("driver", c.config.Database.Driver))

	if err := c.initDirectory(); err != nil {
		return fmt.Errorf("failed to initialize directory: %w", err)
	}
	c.logger.Info("Org directory initialized")

	if err := c.initEvents(); err != nil {
		return fmt.Errorf("failed to initialize events: %w", err)
	}
	c.logger.Info("Dispatcher initialized")

	if err := c.initServices(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Approval engine and services initialized")

	if err := c.seedTemplates(); err != nil {
		return fmt.Errorf("failed to seed templates: %w", err)
	}

	if !c.config.DisableWorkers {
		if err := c.initWorkers(); err != nil {
			return fmt.Errorf("failed to initialize workers: %w", err)
		}
		c.logger.Info("Workers initialized and started")
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close shuts down all components in reverse start order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}
	c.logger.Info("Closing container")
	if err := c.closeLocked(); err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed successfully")
	return nil
}

// closeLocked releases whatever Start managed to open. Callers hold c.mu.
func (c *Container) closeLocked() error {
	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	// Drain queued events before the publisher goes away
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
	}

	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}

	if c.raw != nil {
		if err := c.raw.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)
	return errors.Join(errs...)
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	mark := func(name string, healthy bool, message string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: message}
		if !healthy {
			status.Overall = false
		}
	}

	switch {
	case c.raw != nil:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := c.raw.Health(ctx)
		cancel()
		if err != nil {
			mark("database", false, err.Error())
		} else {
			mark("database", true, "")
		}
	case c.repositories != nil:
		mark("database", true, "in-memory")
	default:
		mark("database", false, "not initialized")
	}

	if c.workers != nil {
		mark("workers", c.workers.IsRunning(), fmt.Sprintf("worker count: %d", c.workers.WorkerCount()))
		for name, running := range c.workers.Status() {
			mark("worker:"+name, running, "")
		}
	} else if !c.config.DisableWorkers {
		mark("workers", false, "not initialized")
	}

	mark("dispatcher", c.dispatcher != nil, "")
	mark("engine", c.engine != nil, "")

	return status
}

func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.raw = bundle.Raw
	c.txManager = bundle.TxManager
	c.repositories = bundle.Repositories
	return nil
}

func (c *Container) initDirectory() error {
	dir, resolver, err := ProvideResolver(&c.config.Directory, c.logger)
	if err != nil {
		return err
	}
	c.directory = dir
	c.resolver = resolver
	return nil
}

func (c *Container) initEvents() error {
	bundle := ProvideEvents(c.config, c.logger)
	c.dispatcher = bundle.Dispatcher
	c.publisher = bundle.Publisher
	c.metrics = bundle.Metrics

	return c.metrics.RegisterPendingGauge(pendingGauge(c.repositories.Instances, c.logger))
}

func (c *Container) initServices() error {
	engine, services, err := ProvideServices(&ServiceDeps{
		Repos:      c.repositories,
		TxManager:  c.txManager,
		Resolver:   c.resolver,
		Dispatcher: c.dispatcher,
		Workflow:   &c.config.Workflow,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}

	c.engine = engine
	c.services = services
	return nil
}

func (c *Container) seedTemplates() error {
	if c.config.Workflow.SeedFile == "" {
		return nil
	}

	templates, err := seed.LoadFile(c.config.Workflow.SeedFile)
	if err != nil {
		return err
	}
	result, err := c.services.Templates.Seed(c.ctx, templates)
	if err != nil {
		return err
	}

	c.logger.Info("Templates seeded",
		zap.String("file", c.config.Workflow.SeedFile),
		zap.Strings("created", result.Created),
		zap.Strings("revised", result.Revised),
		zap.Int("unchanged", len(result.Unchanged)))
	return nil
}

func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&c.config.Workflow, c.services.Queries, c.dispatcher, c.logger)
	if err != nil {
		return err
	}
	c.workers = workers

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	return nil
}

// Engine returns the approval engine.
func (c *Container) Engine() workflow.ApprovalEngine {
	return c.engine
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Directory returns the org directory.
func (c *Container) Directory() *directory.CasbinDirectory {
	return c.directory
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Metrics returns the Prometheus collector.
func (c *Container) Metrics() *metrics.Collector {
	return c.metrics
}

// MetricsHandler returns the scrape handler, or nil when metrics are disabled.
func (c *Container) MetricsHandler() http.Handler {
	if !c.config.Metrics.Enabled || c.metrics == nil {
		return nil
	}
	return c.metrics.Handler()
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// AppLogger returns the key-value logger the application layer uses.
func (c *Container) AppLogger() *utils.SugaredAdapter {
	return utils.NewSugaredAdapter(c.logger)
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
