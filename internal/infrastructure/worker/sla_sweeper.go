package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/application/port"
	domainwf "github.com/garyjia/loan-workflow/internal/domain/workflow"
	"github.com/garyjia/loan-workflow/internal/metrics"
)

// SLAEngine is the part of the workflow engine the sweeper drives
type SLAEngine interface {
	ListSlaDue(ctx context.Context, maxEscalationLevel, limit int) ([]*domainwf.Instance, error)
	MarkSlaBreached(ctx context.Context, instanceID string) (*domainwf.Instance, error)
	EscalateOverdue(ctx context.Context, instanceID string, visit domainwf.StageVisit, actorUserID, reason string) (*domainwf.Instance, error)
}

// SLASweeperConfig holds configuration for the SLA sweeper
type SLASweeperConfig struct {
	PollInterval       time.Duration
	BatchSize          int
	EscalateAfter      time.Duration // 0 disables escalation
	MaxEscalationLevel int
	ActorUserID        string
}

// DefaultSLASweeperConfig returns default configuration
func DefaultSLASweeperConfig() SLASweeperConfig {
	return SLASweeperConfig{
		PollInterval:       time.Minute,
		BatchSize:          100,
		EscalateAfter:      4 * time.Hour,
		MaxEscalationLevel: 3,
		ActorUserID:        "system",
	}
}

// SweepResult summarises one sweep
type SweepResult struct {
	Scanned   int
	Breached  int
	Escalated int
	Skipped   int
	Failed    int
}

// SLASweeper polls instances past their stage deadline, flags fresh breaches
// and escalates once per EscalateAfter of lateness
type SLASweeper struct {
	config  SLASweeperConfig
	engine  SLAEngine
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
	lastSweep SweepResult
}

// SweeperOption configures an SLASweeper
type SweeperOption func(*SLASweeper)

// WithSweeperMetrics sets the metrics sink
func WithSweeperMetrics(m *metrics.Metrics) SweeperOption {
	return func(s *SLASweeper) { s.metrics = m }
}

// WithSweeperClock overrides the clock used to measure lateness
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *SLASweeper) { s.now = now }
}

// NewSLASweeper creates a new SLA sweeper
func NewSLASweeper(config SLASweeperConfig, engine SLAEngine, logger *zap.Logger, opts ...SweeperOption) *SLASweeper {
	defaults := DefaultSLASweeperConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.ActorUserID == "" {
		config.ActorUserID = defaults.ActorUserID
	}

	s := &SLASweeper{
		config: config,
		engine: engine,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the worker name for identification
func (s *SLASweeper) Name() string {
	return "SLASweeper"
}

// Start begins the sweep loop. The first sweep runs immediately.
func (s *SLASweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("sla sweeper already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.isRunning = true

	s.logger.Info("SLASweeper started",
		zap.Duration("poll_interval", s.config.PollInterval),
		zap.Int("batch_size", s.config.BatchSize),
		zap.Duration("escalate_after", s.config.EscalateAfter),
		zap.Int("max_escalation_level", s.config.MaxEscalationLevel))

	go s.loop(runCtx, s.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to finish
func (s *SLASweeper) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.logger.Info("SLASweeper stopped")
	return nil
}

// LastSweep returns the result of the most recent sweep
func (s *SLASweeper) LastSweep() SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSweep
}

func (s *SLASweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.sweepLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Sweep loop context cancelled")
			return
		case <-ticker.C:
			s.sweepLogged(ctx)
		}
	}
}

func (s *SLASweeper) sweepLogged(ctx context.Context) {
	if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("SLA sweep failed", zap.Error(err))
	}
}

// SweepOnce runs a single pass over one batch of due instances. Per-instance
// failures are counted and logged; only a failed listing returns an error.
func (s *SLASweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(start).Seconds()) }()

	var result SweepResult

	due, err := s.engine.ListSlaDue(ctx, s.maxLevel(), s.config.BatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list sla due instances: %w", err)
	}
	result.Scanned = len(due)

	for _, inst := range due {
		if ctx.Err() != nil {
			break
		}
		s.sweepInstance(ctx, inst, &result)
	}

	s.mu.Lock()
	s.lastSweep = result
	s.mu.Unlock()

	if result.Breached > 0 || result.Escalated > 0 || result.Failed > 0 {
		s.logger.Info("SLA sweep completed",
			zap.Int("scanned", result.Scanned),
			zap.Int("breached", result.Breached),
			zap.Int("escalated", result.Escalated),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed),
			zap.Duration("elapsed", time.Since(start)))
	}
	return result, nil
}

func (s *SLASweeper) sweepInstance(ctx context.Context, inst *domainwf.Instance, result *SweepResult) {
	if !inst.IsSLABreached {
		updated, err := s.engine.MarkSlaBreached(ctx, inst.ID)
		if err != nil {
			s.recordFailure(inst, "mark_breached", err, result)
			return
		}
		result.Breached++
		inst = updated
	}

	target := s.escalationTarget(inst)
	if inst.EscalationLevel >= target {
		return
	}

	overdue := s.now().Sub(*inst.SLADueAt).Truncate(time.Minute)
	reason := fmt.Sprintf("SLA overdue by %s at stage %s", overdue, inst.CurrentStatus)
	if _, err := s.engine.EscalateOverdue(ctx, inst.ID, inst.Visit(), s.config.ActorUserID, reason); err != nil {
		s.recordFailure(inst, "escalate", err, result)
		return
	}
	result.Escalated++
}

// maxLevel is the highest level the sweeper escalates to; 0 when escalation is off
func (s *SLASweeper) maxLevel() int {
	if s.config.EscalateAfter <= 0 {
		return 0
	}
	return s.config.MaxEscalationLevel
}

// escalationTarget is the level an instance should have reached: one per
// full EscalateAfter past the deadline, capped at MaxEscalationLevel
func (s *SLASweeper) escalationTarget(inst *domainwf.Instance) int {
	if s.config.EscalateAfter <= 0 || inst.SLADueAt == nil {
		return 0
	}
	overdue := s.now().Sub(*inst.SLADueAt)
	if overdue <= 0 {
		return 0
	}
	target := int(overdue / s.config.EscalateAfter)
	if target > s.config.MaxEscalationLevel {
		target = s.config.MaxEscalationLevel
	}
	return target
}

// recordFailure treats a lost race, or an instance that completed or changed
// stage since listing, as a skip; the next sweep sees fresh state
func (s *SLASweeper) recordFailure(inst *domainwf.Instance, step string, err error, result *SweepResult) {
	if port.IsRetryable(err) ||
		errors.Is(err, domainwf.ErrAlreadyCompleted) ||
		errors.Is(err, domainwf.ErrStageChanged) ||
		errors.Is(err, domainwf.ErrSLANotDue) {
		result.Skipped++
		s.logger.Debug("SLA sweep skipped instance",
			zap.String("instance_id", inst.ID),
			zap.String("step", step),
			zap.Error(err))
		return
	}

	result.Failed++
	s.logger.Error("SLA sweep failed for instance",
		zap.String("instance_id", inst.ID),
		zap.String("loan_application_id", inst.LoanApplicationID),
		zap.String("step", step),
		zap.Error(err))
}
