package container

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/garyjia/bi-workflow/internal/application/dispatcher"
	"github.com/garyjia/bi-workflow/internal/application/port"
	"github.com/garyjia/bi-workflow/internal/application/service"
	"github.com/garyjia/bi-workflow/internal/application/workflow"
	"github.com/garyjia/bi-workflow/internal/domain/entity"
	"github.com/garyjia/bi-workflow/internal/infrastructure/directory"
	"github.com/garyjia/bi-workflow/internal/infrastructure/external/kafka"
	"github.com/garyjia/bi-workflow/internal/infrastructure/metrics"
	"github.com/garyjia/bi-workflow/internal/infrastructure/persistence/memory"
	"github.com/garyjia/bi-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/bi-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/bi-workflow/internal/infrastructure/worker"
	"github.com/garyjia/bi-workflow/pkg/database"
	"github.com/garyjia/bi-workflow/pkg/utils"
)

// DatabaseBundle holds database-related components. Raw is nil for the memory driver.
type DatabaseBundle struct {
	Raw          *database.DB
	TxManager    port.TransactionManager
	Repositories *RepositoryBundle
}

// EventBundle holds the dispatcher and its subscribers.
type EventBundle struct {
	Dispatcher dispatcher.Dispatcher
	Publisher  port.EventPublisher
	Metrics    *metrics.Collector
}

// ProvideDatabase opens the store selected by cfg.Driver. SQLite databases
// are migrated before use.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if cfg.Driver == "memory" {
		logger.Warn("Using in-memory store, state is lost on exit")
		store := memory.NewStore()
		return &DatabaseBundle{
			TxManager: store.TxManager(),
			Repositories: &RepositoryBundle{
				Templates: store.Templates(),
				Instances: store.Instances(),
				Approvals: store.Approvals(),
			},
		}, nil
	}

	raw, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	migrations := database.Migrations()
	if cfg.MigrationsDir != "" {
		migrations = os.DirFS(cfg.MigrationsDir)
	}
	if _, err := database.NewMigrator(raw, logger).RunMigrations(migrations); err != nil {
		raw.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db := sqlite.NewDB(raw.DB, logger)
	return &DatabaseBundle{
		Raw:       raw,
		TxManager: db,
		Repositories: &RepositoryBundle{
			Templates: repository.NewTemplateRepository(db, logger),
			Instances: repository.NewInstanceRepository(db, logger),
			Approvals: repository.NewApprovalRepository(db, logger),
		},
	}, nil
}

// ProvideResolver loads the org directory and builds the approver resolver.
func ProvideResolver(cfg *DirectoryConfig, logger *zap.Logger) (*directory.CasbinDirectory, *directory.RuleResolver, error) {
	dir, err := directory.NewCasbinDirectory(cfg.PolicyPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load org directory: %w", err)
	}
	return dir, directory.NewRuleResolver(dir), nil
}

// ProvideEvents creates the dispatcher and subscribes metrics and the Kafka forwarder.
func ProvideEvents(cfg *Config, logger *zap.Logger) *EventBundle {
	disp := dispatcher.NewDispatcher(dispatcher.WithLogger(utils.NewSugaredAdapter(logger)))

	publisher := kafka.NewPublisher(cfg.Kafka, logger)
	kafka.Forward(disp, publisher)

	collector := metrics.NewCollector()
	collector.Subscribe(disp)
	if err := collector.RegisterQueueGauge(func() float64 { return float64(disp.QueueDepth()) }); err != nil {
		logger.Warn("Failed to register event queue gauge", zap.Error(err))
	}

	for typ, names := range disp.Subscriptions() {
		logger.Info("Event subscribers", zap.String("event_type", string(typ)), zap.Strings("handlers", names))
	}

	return &EventBundle{
		Dispatcher: disp,
		Publisher:  publisher,
		Metrics:    collector,
	}
}

// ServiceDeps holds what ProvideServices needs.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Resolver   port.ApproverResolver
	Dispatcher dispatcher.Dispatcher
	Workflow   *WorkflowConfig
	Logger     *zap.Logger
}

// ProvideServices creates the approval engine and the application services.
func ProvideServices(deps *ServiceDeps) (workflow.ApprovalEngine, *ServiceBundle, error) {
	if deps.Repos == nil || deps.TxManager == nil || deps.Resolver == nil {
		return nil, nil, fmt.Errorf("repositories, transaction manager and resolver are required")
	}
	logger := utils.NewSugaredAdapter(deps.Logger)

	engine := workflow.NewEngine(
		deps.Repos.Templates,
		deps.Repos.Instances,
		deps.Repos.Approvals,
		deps.Resolver,
		deps.TxManager,
		logger,
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithSystemActor(deps.Workflow.SystemActor),
	)

	services := &ServiceBundle{
		Templates: service.NewTemplateService(deps.Repos.Templates, deps.TxManager, logger, deps.Dispatcher),
		Queries: service.NewQueryService(
			deps.Repos.Templates,
			deps.Repos.Instances,
			deps.Repos.Approvals,
			logger,
			deps.Workflow.DefaultSLA,
		),
	}
	return engine, services, nil
}

// ProvideWorkers registers the SLA monitor with a worker manager.
func ProvideWorkers(cfg *WorkflowConfig, queries service.QueryService, disp dispatcher.Dispatcher, logger *zap.Logger) (*worker.Manager, error) {
	monitor, err := worker.NewSLAMonitor(queries, disp, cfg.SLAScanCron, logger)
	if err != nil {
		return nil, err
	}

	manager := worker.NewManager(logger)
	if err := manager.Register(monitor); err != nil {
		return nil, err
	}
	return manager, nil
}

// pendingGauge reads the current pending count for the metrics gauge
func pendingGauge(instances port.InstanceRepository, logger *zap.Logger) func() float64 {
	return func() float64 {
		counts, err := instances.CountByStatus(context.Background())
		if err != nil {
			logger.Warn("Failed to count pending instances", zap.Error(err))
			return 0
		}
		return float64(counts[entity.StatusPending])
	}
}
