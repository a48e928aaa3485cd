package workflow

import (
	"context"
	"time"

	domainwf "github.com/garyjia/loan-workflow/internal/domain/workflow"
)

// Engine interprets workflow definitions against workflow instances.
// Every mutation runs as one transaction: load, validate, mutate, append log, persist.
// Events are dispatched after commit.
type Engine interface {
	// Initialize creates the workflow instance for a loan application
	Initialize(ctx context.Context, req InitializeRequest) (*domainwf.Instance, error)

	// Transition moves an instance along an edge of its bound definition
	Transition(ctx context.Context, req TransitionRequest) (*domainwf.Instance, error)

	// AssignToUser hands the current stage to a user
	AssignToUser(ctx context.Context, instanceID, userID, actorUserID string) (*domainwf.Instance, error)

	// Unassign clears the current user assignment
	Unassign(ctx context.Context, instanceID, actorUserID string) (*domainwf.Instance, error)

	// MarkSlaBreached flags the current stage as breached; repeated calls are no-ops
	MarkSlaBreached(ctx context.Context, instanceID string) (*domainwf.Instance, error)

	// Escalate raises the escalation level of the current stage
	Escalate(ctx context.Context, instanceID, actorUserID, reason string) (*domainwf.Instance, error)

	// EscalateOverdue escalates only while the instance is still in visit and
	// the stage is past its deadline; otherwise it fails with
	// ErrStageChanged or ErrSLANotDue
	EscalateOverdue(ctx context.Context, instanceID string, visit domainwf.StageVisit, actorUserID, reason string) (*domainwf.Instance, error)

	// GetInstance returns an instance with its history
	GetInstance(ctx context.Context, instanceID string) (*domainwf.Instance, error)

	// GetByLoanApplication returns the instance bound to a loan application
	GetByLoanApplication(ctx context.Context, loanApplicationID string) (*domainwf.Instance, error)

	// History returns the transition log of an instance in insertion order
	History(ctx context.Context, instanceID string) ([]domainwf.TransitionLog, error)

	// PermittedTransitions returns the edges role may fire from the instance's current stage
	PermittedTransitions(ctx context.Context, instanceID, role string) ([]domainwf.Transition, error)

	// SLAStatus reports whether the stage deadline has passed and the time left
	SLAStatus(ctx context.Context, instanceID string) (SLAStatus, error)

	// ListSlaDue returns open instances past their stage deadline that still
	// need attention: not breached yet, or below maxEscalationLevel
	ListSlaDue(ctx context.Context, maxEscalationLevel, limit int) ([]*domainwf.Instance, error)
}

// InitializeRequest creates an instance for a loan application
type InitializeRequest struct {
	LoanApplicationID string
	ApplicationType   string
	InitialStatus     domainwf.Status
	InitiatorUserID   string
}

// TransitionRequest asks the engine to fire one edge
type TransitionRequest struct {
	InstanceID  string
	ToStatus    domainwf.Status
	Action      domainwf.Action
	ActorUserID string
	ActorRole   string
	Comment     string
}

// SLAStatus is the on-demand SLA view of an instance
type SLAStatus struct {
	DueAt     *time.Time    `json:"due_at,omitempty"`
	IsDue     bool          `json:"is_due"`
	Remaining time.Duration `json:"remaining"`
	Breached  bool          `json:"breached"`
	Level     int           `json:"escalation_level"`
}
