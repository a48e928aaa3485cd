package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Instance is the runtime state machine of one loan application.
// It is mutated only through its methods; once IsCompleted is set every
// mutating method fails with ErrAlreadyCompleted.
type Instance struct {
	ID                      string     `json:"id"`
	LoanApplicationID       string     `json:"loan_application_id"`
	ApplicationType         string     `json:"application_type"`
	DefinitionID            string     `json:"definition_id"`
	DefinitionVersion       int        `json:"definition_version"`
	CurrentStatus           Status     `json:"current_status"`
	CurrentStageDisplayName string     `json:"current_stage_display_name"`
	AssignedRole            string     `json:"assigned_role"`
	AssignedToUser          string     `json:"assigned_to_user,omitempty"`
	AssignedAt              *time.Time `json:"assigned_at,omitempty"`
	EnteredCurrentStageAt   time.Time  `json:"entered_current_stage_at"`
	SLADueAt                *time.Time `json:"sla_due_at,omitempty"`
	IsSLABreached           bool       `json:"is_sla_breached"`
	EscalationLevel         int        `json:"escalation_level"`
	IsCompleted             bool       `json:"is_completed"`
	CompletedAt             *time.Time `json:"completed_at,omitempty"`
	FinalStatus             Status     `json:"final_status,omitempty"`

	// Version is the optimistic concurrency token checked by the repository
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Logs is append-only and ordered by Sequence
	Logs []TransitionLog `json:"logs"`
}

// TransitionLog records one transition or side action.
// Assign, Unassign, Escalate and the initial Create entry are zero-width:
// FromStatus equals ToStatus.
type TransitionLog struct {
	ID          string    `json:"id"`
	InstanceID  string    `json:"instance_id"`
	Sequence    int       `json:"sequence"`
	FromStatus  Status    `json:"from_status"`
	ToStatus    Status    `json:"to_status"`
	Action      Action    `json:"action"`
	ActorUserID string    `json:"actor_user_id"`
	ActorRole   string    `json:"actor_role,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsZeroWidth reports whether the entry left the status unchanged
func (l TransitionLog) IsZeroWidth() bool {
	return l.FromStatus == l.ToStatus
}

// TransitionRequest carries one transition attempt
type TransitionRequest struct {
	ToStatus    Status
	Action      Action
	ActorUserID string
	ActorRole   string
	Comment     string

	// AdminRole is exempt from the edge's role check when non-empty
	AdminRole string
}

// NewInstance seats a new instance at the stage matching initialStatus
func NewInstance(def *Definition, loanApplicationID string, initialStatus Status, initiatorUserID string, now time.Time) (*Instance, error) {
	stage, ok := def.Stage(initialStatus)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no stage %s", ErrStageNotFound, def.Name, initialStatus)
	}

	inst := &Instance{
		ID:                uuid.NewString(),
		LoanApplicationID: loanApplicationID,
		ApplicationType:   def.ApplicationType,
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	inst.enterStage(stage, now)
	inst.appendLog(initialStatus, initialStatus, ActionCreate, initiatorUserID, "", "", now)

	return inst, nil
}

// Transition moves the instance along the edge (current, req.ToStatus, req.Action).
// Checks run in order: completion, edge existence, role, comment. Nothing is
// mutated unless every check passes.
func (i *Instance) Transition(def *Definition, req TransitionRequest, now time.Time) (Transition, error) {
	if i.IsCompleted {
		return Transition{}, fmt.Errorf("%w: instance %s finished at %s", ErrAlreadyCompleted, i.ID, i.FinalStatus)
	}

	edge, ok := def.Transition(i.CurrentStatus, req.ToStatus, req.Action)
	if !ok {
		return Transition{}, fmt.Errorf("%w: %s -[%s]-> %s", ErrNoSuchTransition, i.CurrentStatus, req.Action, req.ToStatus)
	}

	if !edge.Authorizes(req.ActorRole, req.AdminRole) {
		return Transition{}, fmt.Errorf("%w: role %q cannot %s from %s (requires %q)",
			ErrUnauthorized, req.ActorRole, req.Action, i.CurrentStatus, edge.RequiredRole)
	}

	next, ok := def.Stage(req.ToStatus)
	if !ok {
		return Transition{}, fmt.Errorf("%w: %s", ErrStageNotFound, req.ToStatus)
	}

	if (edge.RequiresComment || next.RequiresComment) && req.Comment == "" {
		return Transition{}, fmt.Errorf("%w: %s to %s", ErrCommentRequired, req.Action, req.ToStatus)
	}

	from := i.CurrentStatus
	i.appendLog(from, next.Status, req.Action, req.ActorUserID, req.ActorRole, req.Comment, now)
	i.enterStage(next, now)

	return edge, nil
}

// Assign hands the current stage to a user
func (i *Instance) Assign(userID, actorUserID string, now time.Time) error {
	if i.IsCompleted {
		return fmt.Errorf("%w: cannot assign instance %s", ErrAlreadyCompleted, i.ID)
	}

	i.AssignedToUser = userID
	i.AssignedAt = &now
	i.appendLog(i.CurrentStatus, i.CurrentStatus, ActionAssign, actorUserID, "", "assigned to "+userID, now)
	return nil
}

// Unassign clears the current user assignment
func (i *Instance) Unassign(actorUserID string, now time.Time) error {
	if i.IsCompleted {
		return fmt.Errorf("%w: cannot unassign instance %s", ErrAlreadyCompleted, i.ID)
	}
	if i.AssignedToUser == "" {
		return fmt.Errorf("%w: instance %s", ErrNotAssigned, i.ID)
	}

	previous := i.AssignedToUser
	i.AssignedToUser = ""
	i.AssignedAt = nil
	i.appendLog(i.CurrentStatus, i.CurrentStatus, ActionUnassign, actorUserID, "", "unassigned "+previous, now)
	return nil
}

// MarkSLABreached sets the breach flag. It returns false when the flag was
// already set, so callers emit the breach event once per breach. A stage
// whose deadline has not passed cannot be breached.
func (i *Instance) MarkSLABreached(now time.Time) (bool, error) {
	if i.IsCompleted {
		return false, fmt.Errorf("%w: cannot mark sla breach on instance %s", ErrAlreadyCompleted, i.ID)
	}
	if i.IsSLABreached {
		return false, nil
	}
	if !i.IsSLADue(now) {
		return false, fmt.Errorf("%w: stage %s of instance %s", ErrSLANotDue, i.CurrentStatus, i.ID)
	}

	i.IsSLABreached = true
	i.UpdatedAt = now
	return true, nil
}

// Escalate raises the escalation level and returns the new level
func (i *Instance) Escalate(actorUserID, reason string, now time.Time) (int, error) {
	if i.IsCompleted {
		return 0, fmt.Errorf("%w: cannot escalate instance %s", ErrAlreadyCompleted, i.ID)
	}

	i.EscalationLevel++
	i.appendLog(i.CurrentStatus, i.CurrentStatus, ActionEscalate, actorUserID, "", reason, now)
	return i.EscalationLevel, nil
}

// EscalateOverdue escalates only while the instance still sits in visit and
// that stage is past its deadline
func (i *Instance) EscalateOverdue(visit StageVisit, actorUserID, reason string, now time.Time) (int, error) {
	if i.IsCompleted {
		return 0, fmt.Errorf("%w: cannot escalate instance %s", ErrAlreadyCompleted, i.ID)
	}
	if current := i.Visit(); !current.Same(visit) {
		return 0, fmt.Errorf("%w: instance %s moved from %s to %s", ErrStageChanged, i.ID, visit.Status, current.Status)
	}
	if !i.IsSLADue(now) {
		return 0, fmt.Errorf("%w: stage %s of instance %s", ErrSLANotDue, i.CurrentStatus, i.ID)
	}
	return i.Escalate(actorUserID, reason, now)
}

// StageVisit identifies one stay of an instance in a stage. Re-entering the
// same status is a new visit.
type StageVisit struct {
	Status    Status
	EnteredAt time.Time
}

// Same reports whether both values name the same visit
func (v StageVisit) Same(other StageVisit) bool {
	return v.Status == other.Status && v.EnteredAt.Equal(other.EnteredAt)
}

// Visit returns the stage visit the instance is in now
func (i *Instance) Visit() StageVisit {
	return StageVisit{Status: i.CurrentStatus, EnteredAt: i.EnteredCurrentStageAt}
}

// IsSLADue reports whether the stage deadline has passed
func (i *Instance) IsSLADue(now time.Time) bool {
	return !i.IsCompleted && i.SLADueAt != nil && now.After(*i.SLADueAt)
}

// RemainingTime returns the time left before the stage deadline, never negative.
// Stages without an SLA report zero.
func (i *Instance) RemainingTime(now time.Time) time.Duration {
	if i.SLADueAt == nil {
		return 0
	}
	remaining := i.SLADueAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// LastLog returns the most recent log entry
func (i *Instance) LastLog() (TransitionLog, bool) {
	if len(i.Logs) == 0 {
		return TransitionLog{}, false
	}
	return i.Logs[len(i.Logs)-1], true
}

// enterStage resets every per-stage field. SLA deadline, breach flag,
// escalation level and assignment never carry over between stages.
func (i *Instance) enterStage(stage Stage, now time.Time) {
	i.CurrentStatus = stage.Status
	i.CurrentStageDisplayName = stage.DisplayName
	i.AssignedRole = stage.AssignedRole
	i.AssignedToUser = ""
	i.AssignedAt = nil
	i.EnteredCurrentStageAt = now
	i.IsSLABreached = false
	i.EscalationLevel = 0
	i.SLADueAt = nil
	if stage.SLAHours > 0 {
		due := now.Add(stage.SLA())
		i.SLADueAt = &due
	}
	if stage.IsTerminal {
		i.IsCompleted = true
		i.CompletedAt = &now
		i.FinalStatus = stage.Status
	}
	i.UpdatedAt = now
}

func (i *Instance) appendLog(from, to Status, action Action, actorUserID, actorRole, comment string, now time.Time) {
	i.Logs = append(i.Logs, TransitionLog{
		ID:          uuid.NewString(),
		InstanceID:  i.ID,
		Sequence:    len(i.Logs) + 1,
		FromStatus:  from,
		ToStatus:    to,
		Action:      action,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		Comment:     comment,
		CreatedAt:   now,
	})
	i.UpdatedAt = now
}
