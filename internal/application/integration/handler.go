package integration

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/application/port"
	appwf "github.com/garyjia/loan-workflow/internal/application/workflow"
	domainwf "github.com/garyjia/loan-workflow/internal/domain/workflow"
	"github.com/garyjia/loan-workflow/internal/metrics"
)

// ErrIntegrationFailed marks a follow-on transition that could not be applied.
// The triggering fact (a recorded decision, completed checks) stands, so the
// loan application is now out of step with it and needs investigation.
var ErrIntegrationFailed = errors.New("integration failed")

const defaultMaxAttempts = 3

// WorkflowEngine is the part of the workflow engine the handlers drive
type WorkflowEngine interface {
	GetByLoanApplication(ctx context.Context, loanApplicationID string) (*domainwf.Instance, error)
	Transition(ctx context.Context, req appwf.TransitionRequest) (*domainwf.Instance, error)
}

// Config identifies the system actor handlers transition as
type Config struct {
	SystemActor string
	SystemRole  string

	// MaxAttempts bounds re-reads after a lost concurrency race
	MaxAttempts int
}

// Option configures a handler
type Option func(*handlerBase)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(h *handlerBase) {
		h.logger = logger
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *handlerBase) {
		h.metrics = m
	}
}

type handlerBase struct {
	engine  WorkflowEngine
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func newHandlerBase(engine WorkflowEngine, cfg Config, opts []Option) handlerBase {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	h := handlerBase{
		engine: engine,
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&h)
	}
	return h
}

// worthRetrying reports whether a fresh read may change the outcome: either a
// concurrent writer won the race or the instance may have moved between read
// and write.
func worthRetrying(err error) bool {
	return port.IsRetryable(err) || errors.Is(err, domainwf.ErrNoSuchTransition)
}

// sameMiss reports whether retrying would repeat an attempt that found no
// edge: the re-read shows the status that attempt already saw
func sameMiss(prevErr error, seen, current domainwf.Status) bool {
	return errors.Is(prevErr, domainwf.ErrNoSuchTransition) && seen == current
}
