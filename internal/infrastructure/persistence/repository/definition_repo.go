package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/application/port"
	"github.com/garyjia/loan-workflow/internal/domain/workflow"
	"github.com/garyjia/loan-workflow/internal/infrastructure/persistence/sqlite"
)

// DefinitionRepository implements port.DefinitionRepository.
// Stages and transitions are stored in their own tables keyed by definition id.
type DefinitionRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewDefinitionRepository creates a new definition repository
func NewDefinitionRepository(db *sqlite.DB, logger *zap.Logger) *DefinitionRepository {
	return &DefinitionRepository{
		db:     db,
		logger: logger,
	}
}

// Save stores def as the next version of its application type and makes it
// the only active one
func (r *DefinitionRepository) Save(ctx context.Context, def *workflow.Definition) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		conn := sqlite.Conn(ctx, r.db.DB)

		var latest int
		err := conn.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM workflow_definitions WHERE application_type = ?`,
			def.ApplicationType,
		).Scan(&latest)
		if err != nil {
			return fmt.Errorf("failed to read latest definition version: %w", err)
		}

		if _, err := conn.ExecContext(ctx,
			`UPDATE workflow_definitions SET is_active = 0 WHERE application_type = ? AND is_active = 1`,
			def.ApplicationType,
		); err != nil {
			return fmt.Errorf("failed to deactivate previous definition: %w", err)
		}

		if def.ID == "" {
			def.ID = uuid.NewString()
		}
		if def.CreatedAt.IsZero() {
			def.CreatedAt = time.Now()
		}
		def.Version = latest + 1
		def.IsActive = true

		if _, err := conn.ExecContext(ctx, `
			INSERT INTO workflow_definitions (id, name, application_type, version, is_active, created_at)
			VALUES (?, ?, ?, ?, 1, ?)`,
			def.ID, def.Name, def.ApplicationType, def.Version, utc(def.CreatedAt),
		); err != nil {
			r.logger.Error("Failed to insert definition",
				zap.String("application_type", def.ApplicationType),
				zap.Int("version", def.Version),
				zap.Error(err))
			return fmt.Errorf("failed to insert definition: %w", err)
		}

		for _, s := range def.Stages() {
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO workflow_stages (
					definition_id, status, display_name, description, assigned_role,
					sla_hours, sort_order, requires_comment, is_terminal
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				def.ID, s.Status, s.DisplayName, s.Description, s.AssignedRole,
				s.SLAHours, s.SortOrder, s.RequiresComment, s.IsTerminal,
			); err != nil {
				return fmt.Errorf("failed to insert stage %s: %w", s.Status, err)
			}
		}

		for i, t := range def.Transitions() {
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO workflow_transitions (
					definition_id, position, from_status, to_status, action,
					required_role, requires_comment, condition_expr
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				def.ID, i, t.FromStatus, t.ToStatus, t.Action,
				t.RequiredRole, t.RequiresComment, t.Condition,
			); err != nil {
				return fmt.Errorf("failed to insert transition %s -[%s]-> %s: %w", t.FromStatus, t.Action, t.ToStatus, err)
			}
		}

		r.logger.Info("Workflow definition saved",
			zap.String("definition_id", def.ID),
			zap.String("application_type", def.ApplicationType),
			zap.Int("version", def.Version))
		return nil
	})
}

// GetActive returns the active definition for an application type
func (r *DefinitionRepository) GetActive(ctx context.Context, applicationType string) (*workflow.Definition, error) {
	return r.getOne(ctx, `WHERE application_type = ? AND is_active = 1`, applicationType)
}

// GetByID returns a definition version by ID
func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*workflow.Definition, error) {
	return r.getOne(ctx, `WHERE id = ?`, id)
}

// ListActive returns the active definition of every application type
func (r *DefinitionRepository) ListActive(ctx context.Context) ([]*workflow.Definition, error) {
	conn := sqlite.Conn(ctx, r.db.DB)

	rows, err := conn.QueryContext(ctx, `
		SELECT id, name, application_type, version, is_active, created_at
		FROM workflow_definitions
		WHERE is_active = 1
		ORDER BY application_type`)
	if err != nil {
		r.logger.Error("Failed to list active definitions", zap.Error(err))
		return nil, fmt.Errorf("failed to list active definitions: %w", err)
	}

	var headers []definitionHeader
	for rows.Next() {
		h, err := scanDefinitionHeader(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		headers = append(headers, h)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	defs := make([]*workflow.Definition, 0, len(headers))
	for _, h := range headers {
		def, err := r.assemble(ctx, conn, h)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

type definitionHeader struct {
	id, name, applicationType string
	version                   int
	isActive                  bool
	createdAt                 time.Time
}

func scanDefinitionHeader(s rowScanner) (definitionHeader, error) {
	var h definitionHeader
	err := s.Scan(&h.id, &h.name, &h.applicationType, &h.version, &h.isActive, &h.createdAt)
	return h, err
}

func (r *DefinitionRepository) getOne(ctx context.Context, where string, arg interface{}) (*workflow.Definition, error) {
	conn := sqlite.Conn(ctx, r.db.DB)

	h, err := scanDefinitionHeader(conn.QueryRowContext(ctx, `
		SELECT id, name, application_type, version, is_active, created_at
		FROM workflow_definitions `+where, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get definition", zap.Any("key", arg), zap.Error(err))
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}

	return r.assemble(ctx, conn, h)
}

// assemble loads stages and transitions and rebuilds the indexed definition.
// Each result set is closed before the next query; the pool may hold one connection.
func (r *DefinitionRepository) assemble(ctx context.Context, conn sqlite.Executor, h definitionHeader) (*workflow.Definition, error) {
	stages, err := loadStages(ctx, conn, h.id)
	if err != nil {
		return nil, err
	}
	transitions, err := loadTransitions(ctx, conn, h.id)
	if err != nil {
		return nil, err
	}

	def, err := workflow.NewDefinition(h.id, h.name, h.applicationType, h.version, stages, transitions)
	if err != nil {
		r.logger.Error("Stored definition failed validation",
			zap.String("definition_id", h.id),
			zap.Error(err))
		return nil, err
	}
	def.IsActive = h.isActive
	def.CreatedAt = h.createdAt
	return def, nil
}

func loadStages(ctx context.Context, conn sqlite.Executor, definitionID string) ([]workflow.Stage, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT status, display_name, description, assigned_role,
			sla_hours, sort_order, requires_comment, is_terminal
		FROM workflow_stages
		WHERE definition_id = ?
		ORDER BY sort_order, status`, definitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stages: %w", err)
	}
	defer rows.Close()

	var stages []workflow.Stage
	for rows.Next() {
		var s workflow.Stage
		if err := rows.Scan(&s.Status, &s.DisplayName, &s.Description, &s.AssignedRole,
			&s.SLAHours, &s.SortOrder, &s.RequiresComment, &s.IsTerminal); err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

func loadTransitions(ctx context.Context, conn sqlite.Executor, definitionID string) ([]workflow.Transition, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT from_status, to_status, action, required_role, requires_comment, condition_expr
		FROM workflow_transitions
		WHERE definition_id = ?
		ORDER BY position`, definitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var transitions []workflow.Transition
	for rows.Next() {
		var t workflow.Transition
		if err := rows.Scan(&t.FromStatus, &t.ToStatus, &t.Action,
			&t.RequiredRole, &t.RequiresComment, &t.Condition); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

// Verify interface compliance
var _ port.DefinitionRepository = (*DefinitionRepository)(nil)
