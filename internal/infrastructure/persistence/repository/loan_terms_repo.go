package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/application/port"
	"github.com/garyjia/loan-workflow/internal/domain/committee"
	"github.com/garyjia/loan-workflow/internal/infrastructure/persistence/sqlite"
)

// LoanTermsRepository stores the committee-approved terms of each loan
// application. It is the local stand-in for the loan application store.
type LoanTermsRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewLoanTermsRepository creates a new loan terms repository
func NewLoanTermsRepository(db *sqlite.DB, logger *zap.Logger) *LoanTermsRepository {
	return &LoanTermsRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// UpdateApprovedTerms implements port.LoanApplicationUpdater. Writing the
// same terms twice leaves one row.
func (r *LoanTermsRepository) UpdateApprovedTerms(ctx context.Context, loanApplicationID string, terms committee.ApprovedTerms) error {
	_, err := sqlite.Conn(ctx, r.db.DB).ExecContext(ctx, `
		INSERT INTO loan_approved_terms (
			loan_application_id, approved_amount, approved_tenor_months, approved_rate, conditions, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(loan_application_id) DO UPDATE SET
			approved_amount = excluded.approved_amount,
			approved_tenor_months = excluded.approved_tenor_months,
			approved_rate = excluded.approved_rate,
			conditions = excluded.conditions,
			updated_at = excluded.updated_at`,
		loanApplicationID, terms.Amount, terms.TenorMonths, terms.InterestRate, terms.Conditions, utc(r.now()),
	)
	if err != nil {
		r.logger.Error("Failed to store approved terms",
			zap.String("loan_application_id", loanApplicationID),
			zap.Error(err))
		return fmt.Errorf("failed to store approved terms: %w", err)
	}

	r.logger.Info("Approved terms stored",
		zap.String("loan_application_id", loanApplicationID),
		zap.Float64("amount", terms.Amount),
		zap.Int("tenor_months", terms.TenorMonths),
		zap.Float64("interest_rate", terms.InterestRate))
	return nil
}

// Get returns the approved terms of a loan application, nil when none are recorded
func (r *LoanTermsRepository) Get(ctx context.Context, loanApplicationID string) (*committee.ApprovedTerms, error) {
	var terms committee.ApprovedTerms
	err := sqlite.Conn(ctx, r.db.DB).QueryRowContext(ctx, `
		SELECT approved_amount, approved_tenor_months, approved_rate, conditions
		FROM loan_approved_terms
		WHERE loan_application_id = ?`, loanApplicationID,
	).Scan(&terms.Amount, &terms.TenorMonths, &terms.InterestRate, &terms.Conditions)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approved terms: %w", err)
	}
	return &terms, nil
}

// Verify interface compliance
var _ port.LoanApplicationUpdater = (*LoanTermsRepository)(nil)
