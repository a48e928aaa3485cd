package port

import (
	"context"

	"github.com/garyjia/loan-workflow/internal/domain/committee"
)

// LoanApplicationUpdater is the loan-application collaborator that receives
// committee-approved terms. The loan application itself lives outside this module.
type LoanApplicationUpdater interface {
	UpdateApprovedTerms(ctx context.Context, loanApplicationID string, terms committee.ApprovedTerms) error
}
