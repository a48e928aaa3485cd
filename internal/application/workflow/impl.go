package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/application/dispatcher"
	"github.com/garyjia/loan-workflow/internal/application/port"
	"github.com/garyjia/loan-workflow/internal/domain/event"
	domainwf "github.com/garyjia/loan-workflow/internal/domain/workflow"
	"github.com/garyjia/loan-workflow/internal/metrics"
)

// errUnchanged aborts a mutation that left the instance as it was
var errUnchanged = errors.New("instance unchanged")

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	definitions port.DefinitionRepository
	instances   port.InstanceRepository
	txManager   port.TransactionManager
	dispatcher  dispatcher.Dispatcher
	logger      *zap.Logger
	metrics     *metrics.Metrics
	adminRole   string
	now         func() time.Time

	// Definitions are immutable per version, so they are cached by ID without expiry
	mu    sync.RWMutex
	cache map[string]*domainwf.Definition
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *engineImpl) {
		e.metrics = m
	}
}

// WithAdminRole sets the role exempt from edge role checks
func WithAdminRole(role string) EngineOption {
	return func(e *engineImpl) {
		e.adminRole = role
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	definitions port.DefinitionRepository,
	instances port.InstanceRepository,
	txManager port.TransactionManager,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		definitions: definitions,
		instances:   instances,
		txManager:   txManager,
		logger:      zap.NewNop(),
		now:         func() time.Time { return time.Now().UTC() },
		cache:       make(map[string]*domainwf.Definition),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Initialize creates the workflow instance for a loan application
func (e *engineImpl) Initialize(ctx context.Context, req InitializeRequest) (*domainwf.Instance, error) {
	if req.LoanApplicationID == "" {
		return nil, fmt.Errorf("loan application id is required")
	}

	var inst *domainwf.Instance
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := e.instances.GetByLoanApplication(txCtx, req.LoanApplicationID)
		if err != nil {
			return fmt.Errorf("failed to look up instance: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("%w: loan application %s has instance %s",
				domainwf.ErrInstanceExists, req.LoanApplicationID, existing.ID)
		}

		def, err := e.definitions.GetActive(txCtx, req.ApplicationType)
		if err != nil {
			return fmt.Errorf("failed to load active definition: %w", err)
		}
		if def == nil {
			return fmt.Errorf("%w: application type %q", domainwf.ErrNoActiveDefinition, req.ApplicationType)
		}
		e.remember(def)

		inst, err = domainwf.NewInstance(def, req.LoanApplicationID, req.InitialStatus, req.InitiatorUserID, e.now())
		if err != nil {
			return err
		}

		if err := e.instances.Create(txCtx, inst); err != nil {
			return fmt.Errorf("failed to create instance: %w", err)
		}
		return nil
	})
	if err != nil {
		e.logger.Warn("Workflow initialization rejected",
			zap.String("loan_application_id", req.LoanApplicationID),
			zap.String("application_type", req.ApplicationType),
			zap.Error(err))
		return nil, err
	}

	e.metrics.RecordInstanceCreated(inst.ApplicationType)
	e.logger.Info("Workflow instance created",
		zap.String("instance_id", inst.ID),
		zap.String("loan_application_id", inst.LoanApplicationID),
		zap.String("definition_id", inst.DefinitionID),
		zap.Int("definition_version", inst.DefinitionVersion),
		zap.String("status", inst.CurrentStatus.String()))

	e.emit(ctx, inst, event.TypeWorkflowInstanceCreated, map[string]interface{}{
		event.KeyApplicationType: inst.ApplicationType,
		event.KeyDefinitionID:    inst.DefinitionID,
		event.KeyToStatus:        inst.CurrentStatus.String(),
		event.KeyActorUserID:     req.InitiatorUserID,
		event.KeySLADueAt:        inst.SLADueAt,
	})

	return inst, nil
}

// Transition moves an instance along an edge of its bound definition
func (e *engineImpl) Transition(ctx context.Context, req TransitionRequest) (*domainwf.Instance, error) {
	var (
		from       domainwf.Status
		stageStart time.Time
	)

	inst, err := e.mutate(ctx, req.InstanceID, func(inst *domainwf.Instance, def *domainwf.Definition, now time.Time) error {
		from = inst.CurrentStatus
		stageStart = inst.EnteredCurrentStageAt

		_, err := inst.Transition(def, domainwf.TransitionRequest{
			ToStatus:    req.ToStatus,
			Action:      req.Action,
			ActorUserID: req.ActorUserID,
			ActorRole:   req.ActorRole,
			Comment:     req.Comment,
			AdminRole:   e.adminRole,
		}, now)
		return err
	})
	if err != nil {
		e.metrics.RecordTransitionFailure(req.Action.String(), failureReason(err))
		e.logger.Warn("Workflow transition rejected",
			zap.String("instance_id", req.InstanceID),
			zap.String("to_status", req.ToStatus.String()),
			zap.String("action", req.Action.String()),
			zap.String("actor_user_id", req.ActorUserID),
			zap.String("actor_role", req.ActorRole),
			zap.Error(err))
		return nil, err
	}

	e.metrics.RecordTransition(inst.ApplicationType, from.String(), inst.CurrentStatus.String(),
		req.Action.String(), inst.EnteredCurrentStageAt.Sub(stageStart).Seconds())
	e.logger.Info("Workflow transitioned",
		zap.String("instance_id", inst.ID),
		zap.String("loan_application_id", inst.LoanApplicationID),
		zap.String("from_status", from.String()),
		zap.String("to_status", inst.CurrentStatus.String()),
		zap.String("action", req.Action.String()),
		zap.String("actor_user_id", req.ActorUserID))

	payload := map[string]interface{}{
		event.KeyFromStatus:  from.String(),
		event.KeyToStatus:    inst.CurrentStatus.String(),
		event.KeyAction:      req.Action.String(),
		event.KeyActorUserID: req.ActorUserID,
		event.KeyActorRole:   req.ActorRole,
		event.KeyComment:     req.Comment,
	}

	if inst.IsCompleted {
		payload[event.KeyFinalStatus] = inst.FinalStatus.String()
		e.metrics.RecordCompletion(inst.ApplicationType, inst.FinalStatus.String())
		e.emit(ctx, inst, event.TypeWorkflowInstanceCompleted, payload)
	} else {
		payload[event.KeySLADueAt] = inst.SLADueAt
		e.emit(ctx, inst, event.TypeWorkflowTransitioned, payload)
	}

	return inst, nil
}

// AssignToUser hands the current stage to a user
func (e *engineImpl) AssignToUser(ctx context.Context, instanceID, userID, actorUserID string) (*domainwf.Instance, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	inst, err := e.mutate(ctx, instanceID, func(inst *domainwf.Instance, _ *domainwf.Definition, now time.Time) error {
		return inst.Assign(userID, actorUserID, now)
	})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, inst, event.TypeWorkflowAssigned, map[string]interface{}{
		event.KeyToStatus:       inst.CurrentStatus.String(),
		event.KeyAssignedToUser: userID,
		event.KeyActorUserID:    actorUserID,
	})
	return inst, nil
}

// Unassign clears the current user assignment. It is published as an
// assignment to nobody.
func (e *engineImpl) Unassign(ctx context.Context, instanceID, actorUserID string) (*domainwf.Instance, error) {
	inst, err := e.mutate(ctx, instanceID, func(inst *domainwf.Instance, _ *domainwf.Definition, now time.Time) error {
		return inst.Unassign(actorUserID, now)
	})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, inst, event.TypeWorkflowAssigned, map[string]interface{}{
		event.KeyToStatus:       inst.CurrentStatus.String(),
		event.KeyAssignedToUser: "",
		event.KeyActorUserID:    actorUserID,
	})
	return inst, nil
}

// MarkSlaBreached flags the current stage as breached
func (e *engineImpl) MarkSlaBreached(ctx context.Context, instanceID string) (*domainwf.Instance, error) {
	fresh := false
	inst, err := e.mutate(ctx, instanceID, func(inst *domainwf.Instance, _ *domainwf.Definition, now time.Time) error {
		changed, err := inst.MarkSLABreached(now)
		if err != nil {
			return err
		}
		if !changed {
			return errUnchanged
		}
		fresh = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !fresh {
		return inst, nil
	}

	e.metrics.RecordSLABreach(inst.ApplicationType, inst.CurrentStatus.String())
	e.logger.Warn("Workflow SLA breached",
		zap.String("instance_id", inst.ID),
		zap.String("loan_application_id", inst.LoanApplicationID),
		zap.String("status", inst.CurrentStatus.String()),
		zap.Timep("sla_due_at", inst.SLADueAt))

	e.emit(ctx, inst, event.TypeWorkflowSlaBreached, map[string]interface{}{
		event.KeyToStatus: inst.CurrentStatus.String(),
		event.KeySLADueAt: inst.SLADueAt,
	})
	return inst, nil
}

// Escalate raises the escalation level of the current stage
func (e *engineImpl) Escalate(ctx context.Context, instanceID, actorUserID, reason string) (*domainwf.Instance, error) {
	var level int
	inst, err := e.mutate(ctx, instanceID, func(inst *domainwf.Instance, _ *domainwf.Definition, now time.Time) error {
		var err error
		level, err = inst.Escalate(actorUserID, reason, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.escalated(ctx, inst, level, actorUserID, reason)
	return inst, nil
}

// EscalateOverdue escalates only if the instance is still in visit and that
// stage is past its deadline
func (e *engineImpl) EscalateOverdue(ctx context.Context, instanceID string, visit domainwf.StageVisit, actorUserID, reason string) (*domainwf.Instance, error) {
	var level int
	inst, err := e.mutate(ctx, instanceID, func(inst *domainwf.Instance, _ *domainwf.Definition, now time.Time) error {
		var err error
		level, err = inst.EscalateOverdue(visit, actorUserID, reason, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.escalated(ctx, inst, level, actorUserID, reason)
	return inst, nil
}

func (e *engineImpl) escalated(ctx context.Context, inst *domainwf.Instance, level int, actorUserID, reason string) {
	e.metrics.RecordEscalation(inst.ApplicationType, inst.CurrentStatus.String())
	e.logger.Info("Workflow escalated",
		zap.String("instance_id", inst.ID),
		zap.String("status", inst.CurrentStatus.String()),
		zap.Int("level", level),
		zap.String("reason", reason))

	e.emit(ctx, inst, event.TypeWorkflowEscalated, map[string]interface{}{
		event.KeyToStatus:        inst.CurrentStatus.String(),
		event.KeyEscalationLevel: level,
		event.KeyReason:          reason,
		event.KeyActorUserID:     actorUserID,
	})
}

// GetInstance returns an instance with its history
func (e *engineImpl) GetInstance(ctx context.Context, instanceID string) (*domainwf.Instance, error) {
	inst, err := e.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: %s", domainwf.ErrInstanceNotFound, instanceID)
	}
	return inst, nil
}

// GetByLoanApplication returns the instance bound to a loan application
func (e *engineImpl) GetByLoanApplication(ctx context.Context, loanApplicationID string) (*domainwf.Instance, error) {
	inst, err := e.instances.GetByLoanApplication(ctx, loanApplicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: loan application %s", domainwf.ErrInstanceNotFound, loanApplicationID)
	}
	return inst, nil
}

// History returns the transition log of an instance in insertion order
func (e *engineImpl) History(ctx context.Context, instanceID string) ([]domainwf.TransitionLog, error) {
	inst, err := e.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return inst.Logs, nil
}

// PermittedTransitions returns the edges role may fire from the instance's current stage
func (e *engineImpl) PermittedTransitions(ctx context.Context, instanceID, role string) ([]domainwf.Transition, error) {
	inst, err := e.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.IsCompleted {
		return nil, nil
	}

	def, err := e.definition(ctx, inst.DefinitionID)
	if err != nil {
		return nil, err
	}

	var out []domainwf.Transition
	for _, t := range def.TransitionsFrom(inst.CurrentStatus) {
		if t.Authorizes(role, e.adminRole) {
			out = append(out, t)
		}
	}
	return out, nil
}

// SLAStatus reports whether the stage deadline has passed and the time left
func (e *engineImpl) SLAStatus(ctx context.Context, instanceID string) (SLAStatus, error) {
	inst, err := e.GetInstance(ctx, instanceID)
	if err != nil {
		return SLAStatus{}, err
	}

	now := e.now()
	return SLAStatus{
		DueAt:     inst.SLADueAt,
		IsDue:     inst.IsSLADue(now),
		Remaining: inst.RemainingTime(now),
		Breached:  inst.IsSLABreached,
		Level:     inst.EscalationLevel,
	}, nil
}

// ListSlaDue returns open instances past their stage deadline that are not
// breached yet or sit below maxEscalationLevel
func (e *engineImpl) ListSlaDue(ctx context.Context, maxEscalationLevel, limit int) ([]*domainwf.Instance, error) {
	due, err := e.instances.ListSlaDue(ctx, e.now(), maxEscalationLevel, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sla due instances: %w", err)
	}
	return due, nil
}

// mutate loads the instance and its definition, applies fn and persists the
// result inside one transaction. fn returning errUnchanged skips the write and
// yields the loaded instance.
func (e *engineImpl) mutate(
	ctx context.Context,
	instanceID string,
	fn func(inst *domainwf.Instance, def *domainwf.Definition, now time.Time) error,
) (*domainwf.Instance, error) {
	var result *domainwf.Instance

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		inst, err := e.instances.GetByID(txCtx, instanceID)
		if err != nil {
			return fmt.Errorf("failed to load instance: %w", err)
		}
		if inst == nil {
			return fmt.Errorf("%w: %s", domainwf.ErrInstanceNotFound, instanceID)
		}

		def, err := e.definition(txCtx, inst.DefinitionID)
		if err != nil {
			return err
		}

		if err := fn(inst, def, e.now()); err != nil {
			if errors.Is(err, errUnchanged) {
				result = inst
				return nil
			}
			return err
		}

		if err := e.instances.Update(txCtx, inst); err != nil {
			if port.IsRetryable(err) {
				e.metrics.RecordConcurrencyConflict()
			}
			return fmt.Errorf("failed to update instance: %w", err)
		}

		result = inst
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// definition returns the definition version an instance is bound to
func (e *engineImpl) definition(ctx context.Context, id string) (*domainwf.Definition, error) {
	e.mu.RLock()
	def, ok := e.cache[id]
	e.mu.RUnlock()
	if ok {
		return def, nil
	}

	def, err := e.definitions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition %s: %w", id, err)
	}
	if def == nil {
		return nil, fmt.Errorf("%w: definition %s", domainwf.ErrNoActiveDefinition, id)
	}

	e.remember(def)
	return def, nil
}

func (e *engineImpl) remember(def *domainwf.Definition) {
	e.mu.Lock()
	e.cache[def.ID] = def
	e.mu.Unlock()
}

// emit fires the event asynchronously if a dispatcher is configured
func (e *engineImpl) emit(ctx context.Context, inst *domainwf.Instance, eventType event.Type, payload map[string]interface{}) {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.DispatchAsync(ctx, event.NewEvent(eventType, inst.ID, inst.LoanApplicationID, payload))
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domainwf.ErrNoSuchTransition):
		return "no_such_transition"
	case errors.Is(err, domainwf.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domainwf.ErrCommentRequired):
		return "comment_required"
	case errors.Is(err, domainwf.ErrAlreadyCompleted):
		return "already_completed"
	case errors.Is(err, domainwf.ErrInstanceNotFound):
		return "not_found"
	case port.IsRetryable(err):
		return "concurrency_conflict"
	default:
		return "error"
	}
}
