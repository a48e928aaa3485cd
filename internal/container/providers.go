package container

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/application/committee"
	"github.com/garyjia/loan-workflow/internal/application/dispatcher"
	"github.com/garyjia/loan-workflow/internal/application/integration"
	"github.com/garyjia/loan-workflow/internal/application/port"
	"github.com/garyjia/loan-workflow/internal/application/workflow"
	"github.com/garyjia/loan-workflow/internal/domain/event"
	domainwf "github.com/garyjia/loan-workflow/internal/domain/workflow"
	"github.com/garyjia/loan-workflow/internal/infrastructure/definition"
	"github.com/garyjia/loan-workflow/internal/infrastructure/messaging"
	"github.com/garyjia/loan-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/loan-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/loan-workflow/internal/infrastructure/worker"
	"github.com/garyjia/loan-workflow/internal/metrics"
	"github.com/garyjia/loan-workflow/pkg/database"
	"github.com/garyjia/loan-workflow/pkg/utils"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Conn           *database.DB
	TransactionMgr *sqlite.DB
}

// EventBusBundle holds the NATS connection and the bridge over it.
type EventBusBundle struct {
	Conn   *nats.Conn
	Bridge *messaging.Bridge
}

// ProvideDatabase opens the SQLite database and applies the embedded migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	conn, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	migrator := database.NewMigrator(conn, logger)
	if err := migrator.RunMigrationsFS(sqlite.Migrations, sqlite.MigrationsDir); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		Conn:           conn,
		TransactionMgr: sqlite.NewDB(conn.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories over one transaction manager.
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Definition: repository.NewDefinitionRepository(db, logger),
		Instance:   repository.NewInstanceRepository(db, logger),
		Review:     repository.NewReviewRepository(db, logger),
		LoanTerms:  repository.NewLoanTermsRepository(db, logger),
	}, nil
}

// ProvideDefinitions loads workflow definitions from cfg.DefinitionsDir, or
// the built-in seeds when it is empty. Any invalid definition fails the load.
func ProvideDefinitions(cfg *WorkflowConfig) ([]*domainwf.Definition, error) {
	if cfg.DefinitionsDir != "" {
		return definition.LoadDir(cfg.DefinitionsDir)
	}
	return definition.Seeds()
}

// ProvideDispatcher creates the in-process event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(utils.NewKeyValueLogger(logger.Named("dispatcher"))),
	), nil
}

// WorkflowDeps holds dependencies for the workflow engine and committee service.
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Metrics    *metrics.Metrics
	Config     *Config
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the workflow engine.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.Engine, error) {
	if deps.Repos == nil || deps.TxManager == nil {
		return nil, fmt.Errorf("repositories and transaction manager are required")
	}

	return workflow.NewEngine(
		deps.Repos.Definition,
		deps.Repos.Instance,
		deps.TxManager,
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithLogger(deps.Logger.Named("workflow")),
		workflow.WithMetrics(deps.Metrics),
		workflow.WithAdminRole(deps.Config.Workflow.AdminRole),
	), nil
}

// ProvideCommitteeService creates the committee review service.
func ProvideCommitteeService(deps *WorkflowDeps) (committee.Service, error) {
	if deps.Repos == nil || deps.TxManager == nil {
		return nil, fmt.Errorf("repositories and transaction manager are required")
	}

	return committee.NewService(
		deps.Repos.Review,
		deps.TxManager,
		committee.WithDispatcher(deps.Dispatcher),
		committee.WithLogger(deps.Logger.Named("committee")),
		committee.WithMetrics(deps.Metrics),
		committee.WithDefaultDeadlineHours(deps.Config.Committee.DefaultDeadlineHours),
	), nil
}

// RegisterIntegrations subscribes the decision and credit-check handlers.
func RegisterIntegrations(deps *WorkflowDeps, engine workflow.Engine) {
	cfg := integration.Config{
		SystemActor: deps.Config.Workflow.SystemActor,
		SystemRole:  deps.Config.Workflow.SystemRole,
		MaxAttempts: deps.Config.Workflow.MaxAttempts,
	}
	logger := deps.Logger.Named("integration")

	integration.NewDecisionHandler(engine, deps.Repos.LoanTerms, cfg,
		integration.WithLogger(logger),
		integration.WithMetrics(deps.Metrics),
	).Register(deps.Dispatcher)

	integration.NewCreditChecksHandler(engine, cfg,
		integration.WithLogger(logger),
		integration.WithMetrics(deps.Metrics),
	).Register(deps.Dispatcher)
}

// ProvideEventBus connects to NATS, publishes outbound events and relays
// inbound credit-check completions. It returns nil when no URL is configured.
func ProvideEventBus(ctx context.Context, cfg *NATSConfig, d dispatcher.Dispatcher, m *metrics.Metrics, logger *zap.Logger) (*EventBusBundle, error) {
	if cfg.URL == "" {
		logger.Info("NATS not configured, events stay in-process")
		return nil, nil
	}

	mcfg := messaging.Config{
		URL:           cfg.URL,
		SubjectPrefix: cfg.SubjectPrefix,
		Timeout:       cfg.Timeout,
	}

	conn, err := messaging.Connect(mcfg, logger)
	if err != nil {
		return nil, err
	}

	bridge := messaging.NewBridge(conn, mcfg, logger.Named("nats"), m)
	bridge.Register(d)
	if err := bridge.SubscribeInbound(ctx, d, event.TypeCreditChecksCompleted); err != nil {
		conn.Close()
		return nil, err
	}

	return &EventBusBundle{Conn: conn, Bridge: bridge}, nil
}

// ProvideWorkers creates the worker manager and registers the SLA sweeper
// when it is enabled.
func ProvideWorkers(cfg *Config, engine worker.SLAEngine, m *metrics.Metrics, logger *zap.Logger) (*worker.WorkerManager, error) {
	manager := worker.NewWorkerManager(logger.Named("workers"))

	if cfg.SLA.Enabled {
		manager.Register(worker.NewSLASweeper(SweeperConfig(cfg), engine, logger.Named("sla"),
			worker.WithSweeperMetrics(m),
		))
	}

	return manager, nil
}

// SweeperConfig maps the SLA section onto the sweeper's configuration.
func SweeperConfig(cfg *Config) worker.SLASweeperConfig {
	return worker.SLASweeperConfig{
		PollInterval:       cfg.SLA.PollInterval,
		BatchSize:          cfg.SLA.BatchSize,
		EscalateAfter:      cfg.SLA.EscalateAfter,
		MaxEscalationLevel: cfg.SLA.MaxEscalationLevel,
		ActorUserID:        cfg.Workflow.SystemActor,
	}
}
