package committee

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/application/dispatcher"
	"github.com/garyjia/loan-workflow/internal/application/port"
	domain "github.com/garyjia/loan-workflow/internal/domain/committee"
	"github.com/garyjia/loan-workflow/internal/domain/event"
	"github.com/garyjia/loan-workflow/internal/metrics"
)

const defaultDeadlineHours = 72

type serviceImpl struct {
	reviews       port.ReviewRepository
	txManager     port.TransactionManager
	dispatcher    dispatcher.Dispatcher
	logger        *zap.Logger
	metrics       *metrics.Metrics
	deadlineHours int
	now           func() time.Time
}

// Option configures the committee service
type Option func(*serviceImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(s *serviceImpl) {
		s.dispatcher = d
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *serviceImpl) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *serviceImpl) {
		s.metrics = m
	}
}

// WithDefaultDeadlineHours sets the deadline used when a request omits one
func WithDefaultDeadlineHours(hours int) Option {
	return func(s *serviceImpl) {
		if hours > 0 {
			s.deadlineHours = hours
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *serviceImpl) {
		s.now = now
	}
}

// NewService creates a new committee Service
func NewService(reviews port.ReviewRepository, txManager port.TransactionManager, opts ...Option) Service {
	s := &serviceImpl{
		reviews:       reviews,
		txManager:     txManager,
		logger:        zap.NewNop(),
		deadlineHours: defaultDeadlineHours,
		now:           func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CreateReview opens a pending review
func (s *serviceImpl) CreateReview(ctx context.Context, req CreateReviewRequest) (*domain.Review, error) {
	hours := req.DeadlineHours
	if hours == 0 {
		hours = s.deadlineHours
	}

	review, err := domain.NewReview(req.LoanApplicationID, req.CommitteeType,
		req.RequiredVotes, req.MinimumApprovalVotes, hours, req.CreatedBy, s.now())
	if err != nil {
		return nil, err
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.reviews.Create(txCtx, review); err != nil {
			return fmt.Errorf("create review: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create committee review",
			zap.String("loan_application_id", req.LoanApplicationID),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Committee review created",
		zap.String("review_id", review.ID),
		zap.String("loan_application_id", review.LoanApplicationID),
		zap.String("committee_type", review.CommitteeType),
		zap.Int("required_votes", review.RequiredVotes),
		zap.Int("minimum_approval_votes", review.MinimumApprovalVotes))

	s.emit(ctx, review, event.TypeCommitteeReviewCreated, map[string]interface{}{
		event.KeyCommitteeType: review.CommitteeType,
		event.KeyDeadline:      review.Deadline,
		event.KeyActorUserID:   review.CreatedBy,
	})
	return review, nil
}

// AddMember seats a member while the review is pending
func (s *serviceImpl) AddMember(ctx context.Context, reviewID string, req AddMemberRequest) (*domain.Review, error) {
	review, err := s.mutate(ctx, reviewID, func(r *domain.Review, now time.Time) error {
		_, err := r.AddMember(req.UserID, req.DisplayName, req.Role, req.IsChairperson, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, review, event.TypeCommitteeMemberAdded, map[string]interface{}{
		event.KeyUserID:        req.UserID,
		event.KeyIsChairperson: req.IsChairperson,
	})
	return review, nil
}

// RemoveMember removes a member while the review is pending
func (s *serviceImpl) RemoveMember(ctx context.Context, reviewID, userID string) (*domain.Review, error) {
	return s.mutate(ctx, reviewID, func(r *domain.Review, now time.Time) error {
		return r.RemoveMember(userID, now)
	})
}

// StartVoting opens the ballot
func (s *serviceImpl) StartVoting(ctx context.Context, reviewID string) (*domain.Review, error) {
	review, err := s.mutate(ctx, reviewID, func(r *domain.Review, now time.Time) error {
		return r.StartVoting(now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Committee voting started",
		zap.String("review_id", review.ID),
		zap.Int("members", len(review.Members)),
		zap.Time("deadline", review.Deadline))

	s.emit(ctx, review, event.TypeCommitteeVotingStarted, map[string]interface{}{
		event.KeyDeadline: review.Deadline,
	})
	return review, nil
}

// CastVote records a ballot. The completion check runs in the same write as
// the vote, so exactly one vote raises CommitteeVotingCompleted.
func (s *serviceImpl) CastVote(ctx context.Context, reviewID, userID string, vote domain.Vote, comment string) (*domain.Review, error) {
	var completed bool
	review, err := s.mutate(ctx, reviewID, func(r *domain.Review, now time.Time) error {
		var err error
		completed, err = r.CastVote(userID, vote, comment, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordVote(review.CommitteeType, string(vote), completed)
	s.emit(ctx, review, event.TypeCommitteeVoteCast, map[string]interface{}{
		event.KeyUserID:  userID,
		event.KeyVote:    string(vote),
		event.KeyComment: comment,
	})

	if completed {
		s.logger.Info("Committee voting completed",
			zap.String("review_id", review.ID),
			zap.Int("approvals", review.ApprovalCount()),
			zap.Int("rejections", review.RejectionCount()),
			zap.Int("abstentions", review.AbstainCount()),
			zap.Bool("majority_approval", review.HasMajorityApproval()))

		s.emit(ctx, review, event.TypeCommitteeVotingCompleted, map[string]interface{}{
			event.KeyApprovalCount:  review.ApprovalCount(),
			event.KeyRejectionCount: review.RejectionCount(),
			event.KeyAbstainCount:   review.AbstainCount(),
		})
	}
	return review, nil
}

// RecordView tracks a member opening the review
func (s *serviceImpl) RecordView(ctx context.Context, reviewID, userID string) (*domain.Review, error) {
	return s.mutate(ctx, reviewID, func(r *domain.Review, now time.Time) error {
		return r.RecordView(userID, now)
	})
}

// AddComment attaches a comment to the review
func (s *serviceImpl) AddComment(ctx context.Context, reviewID string, req AddCommentRequest) (*domain.Comment, error) {
	var comment domain.Comment
	review, err := s.mutate(ctx, reviewID, func(r *domain.Review, now time.Time) error {
		var err error
		comment, err = r.AddComment(req.AuthorID, req.AuthorName, req.Content, req.Visibility, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, review, event.TypeCommitteeCommentAdded, map[string]interface{}{
		event.KeyCommentID:  comment.ID,
		event.KeyUserID:     comment.AuthorID,
		event.KeyVisibility: string(comment.Visibility),
	})
	return &comment, nil
}

// EditComment replaces a comment's content; only the author may edit
func (s *serviceImpl) EditComment(ctx context.Context, reviewID, commentID, editorID, content string) (*domain.Review, error) {
	return s.mutate(ctx, reviewID, func(r *domain.Review, now time.Time) error {
		return r.EditComment(commentID, editorID, content, now)
	})
}

// RecordDecision sets the review's final outcome
func (s *serviceImpl) RecordDecision(ctx context.Context, reviewID, actorUserID string, in domain.DecisionInput) (*domain.Review, error) {
	var record domain.DecisionRecord
	review, err := s.mutate(ctx, reviewID, func(r *domain.Review, now time.Time) error {
		var err error
		record, err = r.RecordDecision(actorUserID, in, now)
		return err
	})
	if err != nil {
		s.logger.Warn("Committee decision rejected",
			zap.String("review_id", reviewID),
			zap.String("actor_user_id", actorUserID),
			zap.String("decision", string(in.Decision)),
			zap.Error(err))
		return nil, err
	}

	s.metrics.RecordDecision(review.CommitteeType, string(record.Decision))
	s.logger.Info("Committee decision recorded",
		zap.String("review_id", review.ID),
		zap.String("loan_application_id", review.LoanApplicationID),
		zap.String("decision", string(record.Decision)),
		zap.String("decided_by", record.DecidedBy))

	s.emit(ctx, review, event.TypeCommitteeDecisionRecorded, decisionPayload(record))
	return review, nil
}

// Close finishes a decided review
func (s *serviceImpl) Close(ctx context.Context, reviewID, actorUserID string) (*domain.Review, error) {
	review, err := s.mutate(ctx, reviewID, func(r *domain.Review, now time.Time) error {
		return r.Close(actorUserID, now)
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, review, event.TypeCommitteeReviewClosed, map[string]interface{}{
		event.KeyActorUserID: actorUserID,
	})
	return review, nil
}

// GetReview returns a review with members and comments
func (s *serviceImpl) GetReview(ctx context.Context, reviewID string) (*domain.Review, error) {
	review, err := s.reviews.GetByID(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	if review == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrReviewNotFound, reviewID)
	}
	return review, nil
}

// ListByLoanApplication returns every review of a loan application
func (s *serviceImpl) ListByLoanApplication(ctx context.Context, loanApplicationID string) ([]*domain.Review, error) {
	reviews, err := s.reviews.ListByLoanApplication(ctx, loanApplicationID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return reviews, nil
}

// mutate loads the review, applies fn and persists it inside one transaction
func (s *serviceImpl) mutate(ctx context.Context, reviewID string, fn func(r *domain.Review, now time.Time) error) (*domain.Review, error) {
	var result *domain.Review

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		review, err := s.reviews.GetByID(txCtx, reviewID)
		if err != nil {
			return fmt.Errorf("get review: %w", err)
		}
		if review == nil {
			return fmt.Errorf("%w: %s", domain.ErrReviewNotFound, reviewID)
		}

		if err := fn(review, s.now()); err != nil {
			return err
		}

		if err := s.reviews.Update(txCtx, review); err != nil {
			if port.IsRetryable(err) {
				s.metrics.RecordConcurrencyConflict()
			}
			return fmt.Errorf("update review: %w", err)
		}

		result = review
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *serviceImpl) emit(ctx context.Context, review *domain.Review, eventType event.Type, payload map[string]interface{}) {
	if s.dispatcher == nil {
		return
	}
	payload[event.KeyReviewID] = review.ID
	s.dispatcher.DispatchAsync(ctx, event.NewEvent(eventType, review.ID, review.LoanApplicationID, payload))
}

// decisionPayload flattens a decision into event payload keys. Terms are
// present only for approvals.
func decisionPayload(record domain.DecisionRecord) map[string]interface{} {
	payload := map[string]interface{}{
		event.KeyDecision:  string(record.Decision),
		event.KeyRationale: record.Rationale,
		event.KeyDecidedBy: record.DecidedBy,
	}
	if record.Terms != nil {
		payload[event.KeyApprovedAmount] = record.Terms.Amount
		payload[event.KeyApprovedTenor] = record.Terms.TenorMonths
		payload[event.KeyApprovedRate] = record.Terms.InterestRate
		payload[event.KeyConditions] = record.Terms.Conditions
	}
	return payload
}
