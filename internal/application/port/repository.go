package port

import (
	"context"
	"time"

	"github.com/garyjia/loan-workflow/internal/domain/committee"
	"github.com/garyjia/loan-workflow/internal/domain/workflow"
)

// DefinitionRepository defines persistence operations for workflow definitions.
// Definitions are immutable once saved; a change is saved as a new version.
type DefinitionRepository interface {
	// Save stores def as the next version for its application type, marks it
	// active and deactivates the previously active version. It sets def.ID
	// when empty, def.Version, def.IsActive and def.CreatedAt.
	Save(ctx context.Context, def *workflow.Definition) error

	// GetActive returns the active definition for an application type, nil when none
	GetActive(ctx context.Context, applicationType string) (*workflow.Definition, error)

	// GetByID returns any definition version, nil when not found
	GetByID(ctx context.Context, id string) (*workflow.Definition, error)

	// ListActive returns the active definition of every application type
	ListActive(ctx context.Context) ([]*workflow.Definition, error)
}

// InstanceRepository defines persistence operations for workflow instances and their logs
type InstanceRepository interface {
	// Create inserts the instance and its logs with Version 1
	Create(ctx context.Context, inst *workflow.Instance) error

	// GetByID returns the instance with its logs, nil when not found
	GetByID(ctx context.Context, id string) (*workflow.Instance, error)

	// GetByLoanApplication returns the instance for a loan application, nil when not found
	GetByLoanApplication(ctx context.Context, loanApplicationID string) (*workflow.Instance, error)

	// Update persists inst if its Version still matches the stored row, appends
	// logs not yet stored and increments inst.Version. A stale Version fails with
	// ErrConcurrencyConflict.
	Update(ctx context.Context, inst *workflow.Instance) error

	// ListSlaDue returns open instances whose SLA deadline is before now and
	// that are either not breached yet or below maxEscalationLevel, oldest
	// deadline first, without logs
	ListSlaDue(ctx context.Context, now time.Time, maxEscalationLevel, limit int) ([]*workflow.Instance, error)
}

// ReviewRepository defines persistence operations for committee reviews
type ReviewRepository interface {
	// Create inserts the review with its members and comments with Version 1
	Create(ctx context.Context, review *committee.Review) error

	// GetByID returns the review with members and comments, nil when not found
	GetByID(ctx context.Context, id string) (*committee.Review, error)

	// ListByLoanApplication returns every review for a loan application, newest first
	ListByLoanApplication(ctx context.Context, loanApplicationID string) ([]*committee.Review, error)

	// Update persists the review, members and comments under the same
	// version check as InstanceRepository.Update
	Update(ctx context.Context, review *committee.Review) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
