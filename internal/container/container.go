package container

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/application/committee"
	"github.com/garyjia/loan-workflow/internal/application/dispatcher"
	"github.com/garyjia/loan-workflow/internal/application/port"
	"github.com/garyjia/loan-workflow/internal/application/workflow"
	"github.com/garyjia/loan-workflow/internal/domain/event"
	domainwf "github.com/garyjia/loan-workflow/internal/domain/workflow"
	"github.com/garyjia/loan-workflow/internal/infrastructure/definition"
	"github.com/garyjia/loan-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/loan-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/loan-workflow/internal/infrastructure/worker"
	"github.com/garyjia/loan-workflow/internal/metrics"
	"github.com/garyjia/loan-workflow/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components initialize in dependency order and tear down in reverse.
type Container struct {
	config  *Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	// Infrastructure - Data
	conn         *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle
	definitions  []*domainwf.Definition

	// Application
	dispatcher dispatcher.Dispatcher
	workflow   workflow.Engine
	committee  committee.Service

	// Infrastructure - Messaging
	eventBus *EventBusBundle

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.Mutex
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Definition *repository.DefinitionRepository
	Instance   *repository.InstanceRepository
	Review     *repository.ReviewRepository
	LoanTerms  *repository.LoanTermsRepository
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

// Option configures a Container
type Option func(*Container)

// WithMetrics sets the metrics recorder shared by every component
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Container) {
		c.metrics = m
	}
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Container{
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database and repositories
// 2. Workflow definitions (loaded, then seeded when configured)
// 3. Event dispatcher, workflow engine, committee service and integration handlers
// 4. NATS event bus
// 5. Workers
// A failed step releases whatever the earlier steps opened.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.logger.Info("Starting container initialization")

	steps := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"database", c.initDatabase},
		{"definitions", c.initDefinitions},
		{"application", c.initApplication},
		{"event bus", c.initEventBus},
		{"workers", c.initWorkers},
	}

	for _, step := range steps {
		if err := step.fn(runCtx); err != nil {
			c.logger.Error("Container initialization failed", zap.String("step", step.name), zap.Error(err))
			c.shutdown()
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		c.logger.Info("Container step initialized", zap.String("step", step.name))
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	errs := c.shutdown()
	c.closed.Store(true)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors: %w", len(errs), errs[0])
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// shutdown releases every initialized component, newest first. Inbound
// subscriptions close before the dispatcher drains so no new work arrives;
// the NATS connection closes after it so pending publishes still go out.
func (c *Container) shutdown() []error {
	var errs []error
	c.ready.Store(false)

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
		c.workers = nil
	}

	if c.eventBus != nil {
		if err := c.eventBus.Bridge.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event bridge: %w", err))
		}
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
		c.dispatcher = nil
	}

	if c.eventBus != nil {
		if err := c.eventBus.Conn.Drain(); err != nil {
			c.logger.Warn("Failed to drain NATS connection", zap.Error(err))
			c.eventBus.Conn.Close()
		}
		c.eventBus = nil
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		c.conn = nil
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	switch {
	case c.conn == nil:
		set("database", false, "not initialized")
	default:
		if err := c.conn.PingContext(ctx); err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, "")
		}
	}

	if c.dispatcher != nil {
		set("dispatcher", true, handlerSummary(c.dispatcher, event.TypeCreditChecksCompleted, event.TypeCommitteeDecisionRecorded))
	} else {
		set("dispatcher", false, "not initialized")
	}

	if c.eventBus != nil {
		set("nats", c.eventBus.Conn.IsConnected(), c.eventBus.Conn.Status().String())
	}

	if c.workers != nil {
		set("workers", c.workers.IsRunning(), fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()))
	} else {
		set("workers", false, "not initialized")
	}

	return status
}

// initDatabase initializes the database and all repositories using providers.
func (c *Container) initDatabase(ctx context.Context) error {
	bundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.conn = bundle.Conn
	c.db = bundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		return err
	}
	c.repositories = repos
	return nil
}

// initDefinitions validates every configured definition and seeds changed ones.
func (c *Container) initDefinitions(ctx context.Context) error {
	defs, err := ProvideDefinitions(&c.config.Workflow)
	if err != nil {
		return err
	}
	c.definitions = defs

	if !c.config.Workflow.SeedOnStart {
		return nil
	}

	saved, err := definition.Seed(ctx, c.repositories.Definition, defs, c.logger.Named("definitions"))
	if err != nil {
		return err
	}
	c.logger.Info("Workflow definitions seeded",
		zap.Int("loaded", len(defs)),
		zap.Int("saved", saved))
	return nil
}

// initApplication builds the dispatcher and the services that emit into it,
// then subscribes the integration handlers.
func (c *Container) initApplication(ctx context.Context) error {
	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp

	deps := &WorkflowDeps{
		Repos:      c.repositories,
		TxManager:  c.db,
		Dispatcher: c.dispatcher,
		Metrics:    c.metrics,
		Config:     c.config,
		Logger:     c.logger,
	}

	engine, err := ProvideWorkflowEngine(deps)
	if err != nil {
		return err
	}
	c.workflow = engine

	svc, err := ProvideCommitteeService(deps)
	if err != nil {
		return err
	}
	c.committee = svc

	RegisterIntegrations(deps, engine)
	return nil
}

// initEventBus connects the optional NATS bridge.
func (c *Container) initEventBus(ctx context.Context) error {
	bus, err := ProvideEventBus(ctx, &c.config.NATS, c.dispatcher, c.metrics, c.logger)
	if err != nil {
		return err
	}
	c.eventBus = bus
	return nil
}

// initWorkers initializes and starts all background workers using providers.
func (c *Container) initWorkers(ctx context.Context) error {
	workers, err := ProvideWorkers(c.config, c.workflow, c.metrics, c.logger)
	if err != nil {
		return err
	}
	c.workers = workers

	if err := c.workers.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	return nil
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Definitions returns the definitions loaded at start.
func (c *Container) Definitions() []*domainwf.Definition {
	return c.definitions
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.Engine {
	return c.workflow
}

// Committee returns the committee review service.
func (c *Container) Committee() committee.Service {
	return c.committee
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// handlerSummary reports delivery counts of the handlers bound to types.
// Failures are business outcomes here and do not mark the dispatcher unhealthy.
func handlerSummary(d dispatcher.Dispatcher, types ...event.Type) string {
	var parts []string
	for _, t := range types {
		for _, h := range d.ListHandlers(t) {
			parts = append(parts, fmt.Sprintf("%s: %d delivered, %d failed", h.Name, h.Delivered, h.Failed))
		}
	}
	return strings.Join(parts, "; ")
}
