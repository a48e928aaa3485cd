package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/application/port"
	"github.com/garyjia/loan-workflow/internal/domain/workflow"
	"github.com/garyjia/loan-workflow/internal/infrastructure/persistence/sqlite"
)

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sqlite.DB, logger *zap.Logger) *InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

const instanceColumns = `
	id, loan_application_id, application_type, definition_id, definition_version,
	current_status, current_stage_display_name, assigned_role, assigned_to_user, assigned_at,
	entered_current_stage_at, sla_due_at, is_sla_breached, escalation_level,
	is_completed, completed_at, final_status, version, created_at, updated_at`

// Create creates a new workflow instance together with its initial log entries
func (r *InstanceRepository) Create(ctx context.Context, inst *workflow.Instance) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		conn := sqlite.Conn(ctx, r.db.DB)

		_, err := conn.ExecContext(ctx, `
			INSERT INTO workflow_instances (`+instanceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			inst.ID, inst.LoanApplicationID, inst.ApplicationType, inst.DefinitionID, inst.DefinitionVersion,
			inst.CurrentStatus, inst.CurrentStageDisplayName, inst.AssignedRole, inst.AssignedToUser, nullTime(inst.AssignedAt),
			utc(inst.EnteredCurrentStageAt), nullTime(inst.SLADueAt), inst.IsSLABreached, inst.EscalationLevel,
			inst.IsCompleted, nullTime(inst.CompletedAt), inst.FinalStatus, utc(inst.CreatedAt), utc(inst.UpdatedAt),
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: loan application %s", workflow.ErrInstanceExists, inst.LoanApplicationID)
		}
		if err != nil {
			r.logger.Error("Failed to create instance",
				zap.String("loan_application_id", inst.LoanApplicationID),
				zap.Error(err))
			return fmt.Errorf("failed to create instance: %w", err)
		}

		if err := r.insertLogs(ctx, conn, inst.Logs); err != nil {
			return err
		}

		inst.Version = 1
		return nil
	})
}

// GetByID retrieves a workflow instance with its logs
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*workflow.Instance, error) {
	return r.getOne(ctx, `WHERE id = ?`, id)
}

// GetByLoanApplication retrieves the workflow instance of a loan application
func (r *InstanceRepository) GetByLoanApplication(ctx context.Context, loanApplicationID string) (*workflow.Instance, error) {
	return r.getOne(ctx, `WHERE loan_application_id = ?`, loanApplicationID)
}

// Update writes inst back if nobody else has since the read, then appends new log entries
func (r *InstanceRepository) Update(ctx context.Context, inst *workflow.Instance) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		conn := sqlite.Conn(ctx, r.db.DB)

		result, err := conn.ExecContext(ctx, `
			UPDATE workflow_instances SET
				current_status = ?, current_stage_display_name = ?, assigned_role = ?,
				assigned_to_user = ?, assigned_at = ?, entered_current_stage_at = ?,
				sla_due_at = ?, is_sla_breached = ?, escalation_level = ?,
				is_completed = ?, completed_at = ?, final_status = ?,
				version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`,
			inst.CurrentStatus, inst.CurrentStageDisplayName, inst.AssignedRole,
			inst.AssignedToUser, nullTime(inst.AssignedAt), utc(inst.EnteredCurrentStageAt),
			nullTime(inst.SLADueAt), inst.IsSLABreached, inst.EscalationLevel,
			inst.IsCompleted, nullTime(inst.CompletedAt), inst.FinalStatus,
			utc(inst.UpdatedAt),
			inst.ID, inst.Version,
		)
		if err != nil {
			r.logger.Error("Failed to update instance", zap.String("instance_id", inst.ID), zap.Error(err))
			return fmt.Errorf("failed to update instance: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			r.logger.Warn("Instance version conflict",
				zap.String("instance_id", inst.ID),
				zap.Int64("version", inst.Version))
			return fmt.Errorf("%w: instance %s at version %d", port.ErrConcurrencyConflict, inst.ID, inst.Version)
		}

		var stored int
		if err := conn.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sequence), 0) FROM workflow_transition_logs WHERE instance_id = ?`,
			inst.ID,
		).Scan(&stored); err != nil {
			return fmt.Errorf("failed to read log sequence: %w", err)
		}

		var fresh []workflow.TransitionLog
		for _, l := range inst.Logs {
			if l.Sequence > stored {
				fresh = append(fresh, l)
			}
		}
		if err := r.insertLogs(ctx, conn, fresh); err != nil {
			return err
		}

		inst.Version++
		return nil
	})
}

// ListSlaDue returns open instances past their stage deadline, oldest deadline
// first. Breached instances already at maxEscalationLevel need no more work and
// are left out so they cannot crowd newer breaches out of the batch.
func (r *InstanceRepository) ListSlaDue(ctx context.Context, now time.Time, maxEscalationLevel, limit int) ([]*workflow.Instance, error) {
	rows, err := sqlite.Conn(ctx, r.db.DB).QueryContext(ctx, `
		SELECT `+instanceColumns+`
		FROM workflow_instances
		WHERE is_completed = 0 AND sla_due_at IS NOT NULL AND sla_due_at < ?
		  AND (is_sla_breached = 0 OR escalation_level < ?)
		ORDER BY sla_due_at
		LIMIT ?`, utc(now), maxEscalationLevel, limit)
	if err != nil {
		r.logger.Error("Failed to list SLA-due instances", zap.Error(err))
		return nil, fmt.Errorf("failed to list sla due instances: %w", err)
	}
	defer rows.Close()

	var instances []*workflow.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, inst)
	}

	return instances, rows.Err()
}

func (r *InstanceRepository) getOne(ctx context.Context, where string, arg string) (*workflow.Instance, error) {
	conn := sqlite.Conn(ctx, r.db.DB)

	inst, err := scanInstance(conn.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances `+where, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance", zap.String("key", arg), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	if inst.Logs, err = loadLogs(ctx, conn, inst.ID); err != nil {
		return nil, err
	}
	return inst, nil
}

func (r *InstanceRepository) insertLogs(ctx context.Context, conn sqlite.Executor, logs []workflow.TransitionLog) error {
	for _, l := range logs {
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO workflow_transition_logs (
				id, instance_id, sequence, from_status, to_status, action,
				actor_user_id, actor_role, comment, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, l.InstanceID, l.Sequence, l.FromStatus, l.ToStatus, l.Action,
			l.ActorUserID, l.ActorRole, l.Comment, utc(l.CreatedAt),
		); err != nil {
			r.logger.Error("Failed to append transition log",
				zap.String("instance_id", l.InstanceID),
				zap.Int("sequence", l.Sequence),
				zap.Error(err))
			return fmt.Errorf("failed to insert transition log: %w", err)
		}
	}
	return nil
}

func loadLogs(ctx context.Context, conn sqlite.Executor, instanceID string) ([]workflow.TransitionLog, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT id, instance_id, sequence, from_status, to_status, action,
			actor_user_id, actor_role, comment, created_at
		FROM workflow_transition_logs
		WHERE instance_id = ?
		ORDER BY sequence`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transition logs: %w", err)
	}
	defer rows.Close()

	var logs []workflow.TransitionLog
	for rows.Next() {
		var l workflow.TransitionLog
		if err := rows.Scan(&l.ID, &l.InstanceID, &l.Sequence, &l.FromStatus, &l.ToStatus, &l.Action,
			&l.ActorUserID, &l.ActorRole, &l.Comment, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transition log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func scanInstance(s rowScanner) (*workflow.Instance, error) {
	var inst workflow.Instance
	var assignedAt, slaDueAt, completedAt sql.NullTime

	err := s.Scan(
		&inst.ID, &inst.LoanApplicationID, &inst.ApplicationType, &inst.DefinitionID, &inst.DefinitionVersion,
		&inst.CurrentStatus, &inst.CurrentStageDisplayName, &inst.AssignedRole, &inst.AssignedToUser, &assignedAt,
		&inst.EnteredCurrentStageAt, &slaDueAt, &inst.IsSLABreached, &inst.EscalationLevel,
		&inst.IsCompleted, &completedAt, &inst.FinalStatus, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inst.AssignedAt = timePtr(assignedAt)
	inst.SLADueAt = timePtr(slaDueAt)
	inst.CompletedAt = timePtr(completedAt)
	return &inst, nil
}

// Verify interface compliance
var _ port.InstanceRepository = (*InstanceRepository)(nil)
