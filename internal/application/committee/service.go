package committee

import (
	"context"

	domain "github.com/garyjia/loan-workflow/internal/domain/committee"
)

// Service runs committee reviews. Each command is one transaction over the
// review aggregate; events are dispatched after commit.
type Service interface {
	CreateReview(ctx context.Context, req CreateReviewRequest) (*domain.Review, error)
	AddMember(ctx context.Context, reviewID string, req AddMemberRequest) (*domain.Review, error)
	RemoveMember(ctx context.Context, reviewID, userID string) (*domain.Review, error)
	StartVoting(ctx context.Context, reviewID string) (*domain.Review, error)
	CastVote(ctx context.Context, reviewID, userID string, vote domain.Vote, comment string) (*domain.Review, error)
	RecordView(ctx context.Context, reviewID, userID string) (*domain.Review, error)
	AddComment(ctx context.Context, reviewID string, req AddCommentRequest) (*domain.Comment, error)
	EditComment(ctx context.Context, reviewID, commentID, editorID, content string) (*domain.Review, error)
	RecordDecision(ctx context.Context, reviewID, actorUserID string, in domain.DecisionInput) (*domain.Review, error)
	Close(ctx context.Context, reviewID, actorUserID string) (*domain.Review, error)
	GetReview(ctx context.Context, reviewID string) (*domain.Review, error)
	ListByLoanApplication(ctx context.Context, loanApplicationID string) ([]*domain.Review, error)
}

// CreateReviewRequest opens a review. DeadlineHours of 0 uses the configured default.
type CreateReviewRequest struct {
	LoanApplicationID    string
	CommitteeType        string
	RequiredVotes        int
	MinimumApprovalVotes int
	DeadlineHours        int
	CreatedBy            string
}

// AddMemberRequest seats a member
type AddMemberRequest struct {
	UserID        string
	DisplayName   string
	Role          string
	IsChairperson bool
}

// AddCommentRequest attaches a comment
type AddCommentRequest struct {
	AuthorID   string
	AuthorName string
	Content    string
	Visibility domain.Visibility
}
