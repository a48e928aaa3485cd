package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/application/port"
	"github.com/garyjia/loan-workflow/internal/domain/committee"
	"github.com/garyjia/loan-workflow/internal/infrastructure/persistence/sqlite"
)

// ReviewRepository implements port.ReviewRepository.
// Members and comments are rewritten with the review on every update.
type ReviewRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewReviewRepository creates a new committee review repository
func NewReviewRepository(db *sqlite.DB, logger *zap.Logger) *ReviewRepository {
	return &ReviewRepository{
		db:     db,
		logger: logger,
	}
}

const reviewColumns = `
	id, loan_application_id, committee_type, status, required_votes, minimum_approval_votes,
	deadline, decision, decision_rationale, decided_by, decided_at,
	approved_amount, approved_tenor_months, approved_rate, approved_conditions,
	voting_started_at, voting_completed_at, closed_at, closed_by, created_by,
	version, created_at, updated_at`

// Create inserts a review with its members and comments
func (r *ReviewRepository) Create(ctx context.Context, review *committee.Review) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		conn := sqlite.Conn(ctx, r.db.DB)

		d := decisionColumns(review.Decision)
		_, err := conn.ExecContext(ctx, `
			INSERT INTO committee_reviews (`+reviewColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			review.ID, review.LoanApplicationID, review.CommitteeType, review.Status,
			review.RequiredVotes, review.MinimumApprovalVotes, utc(review.Deadline),
			d.decision, d.rationale, d.decidedBy, d.decidedAt,
			d.amount, d.tenor, d.rate, d.conditions,
			nullTime(review.VotingStartedAt), nullTime(review.VotingCompletedAt),
			nullTime(review.ClosedAt), review.ClosedBy, review.CreatedBy,
			utc(review.CreatedAt), utc(review.UpdatedAt),
		)
		if err != nil {
			r.logger.Error("Failed to create review",
				zap.String("loan_application_id", review.LoanApplicationID),
				zap.Error(err))
			return fmt.Errorf("failed to create review: %w", err)
		}

		if err := r.writeChildren(ctx, conn, review); err != nil {
			return err
		}

		review.Version = 1
		return nil
	})
}

// GetByID retrieves a review with members and comments
func (r *ReviewRepository) GetByID(ctx context.Context, id string) (*committee.Review, error) {
	conn := sqlite.Conn(ctx, r.db.DB)

	review, err := scanReview(conn.QueryRowContext(ctx,
		`SELECT `+reviewColumns+` FROM committee_reviews WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get review", zap.String("review_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get review: %w", err)
	}

	if err := loadReviewChildren(ctx, conn, review); err != nil {
		return nil, err
	}
	return review, nil
}

// ListByLoanApplication returns every review of a loan application, newest first
func (r *ReviewRepository) ListByLoanApplication(ctx context.Context, loanApplicationID string) ([]*committee.Review, error) {
	conn := sqlite.Conn(ctx, r.db.DB)

	rows, err := conn.QueryContext(ctx, `
		SELECT `+reviewColumns+`
		FROM committee_reviews
		WHERE loan_application_id = ?
		ORDER BY created_at DESC, id`, loanApplicationID)
	if err != nil {
		r.logger.Error("Failed to list reviews",
			zap.String("loan_application_id", loanApplicationID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}

	var reviews []*committee.Review
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, review)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, review := range reviews {
		if err := loadReviewChildren(ctx, conn, review); err != nil {
			return nil, err
		}
	}
	return reviews, nil
}

// Update writes the review back under the version check
func (r *ReviewRepository) Update(ctx context.Context, review *committee.Review) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		conn := sqlite.Conn(ctx, r.db.DB)

		d := decisionColumns(review.Decision)
		result, err := conn.ExecContext(ctx, `
			UPDATE committee_reviews SET
				committee_type = ?, status = ?, required_votes = ?, minimum_approval_votes = ?,
				deadline = ?, decision = ?, decision_rationale = ?, decided_by = ?, decided_at = ?,
				approved_amount = ?, approved_tenor_months = ?, approved_rate = ?, approved_conditions = ?,
				voting_started_at = ?, voting_completed_at = ?, closed_at = ?, closed_by = ?,
				version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`,
			review.CommitteeType, review.Status, review.RequiredVotes, review.MinimumApprovalVotes,
			utc(review.Deadline), d.decision, d.rationale, d.decidedBy, d.decidedAt,
			d.amount, d.tenor, d.rate, d.conditions,
			nullTime(review.VotingStartedAt), nullTime(review.VotingCompletedAt),
			nullTime(review.ClosedAt), review.ClosedBy,
			utc(review.UpdatedAt),
			review.ID, review.Version,
		)
		if err != nil {
			r.logger.Error("Failed to update review", zap.String("review_id", review.ID), zap.Error(err))
			return fmt.Errorf("failed to update review: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			r.logger.Warn("Review version conflict",
				zap.String("review_id", review.ID),
				zap.Int64("version", review.Version))
			return fmt.Errorf("%w: review %s at version %d", port.ErrConcurrencyConflict, review.ID, review.Version)
		}

		for _, table := range []string{"committee_members", "committee_comments"} {
			if _, err := conn.ExecContext(ctx, `DELETE FROM `+table+` WHERE review_id = ?`, review.ID); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		if err := r.writeChildren(ctx, conn, review); err != nil {
			return err
		}

		review.Version++
		return nil
	})
}

func (r *ReviewRepository) writeChildren(ctx context.Context, conn sqlite.Executor, review *committee.Review) error {
	for i, m := range review.Members {
		var vote sql.NullString
		if m.Vote != nil {
			vote = sql.NullString{String: string(*m.Vote), Valid: true}
		}
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO committee_members (
				id, review_id, user_id, display_name, role, is_chairperson,
				vote, voted_at, vote_comment, first_viewed_at, last_viewed_at, view_count,
				added_at, position
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, review.ID, m.UserID, m.DisplayName, m.Role, m.IsChairperson,
			vote, nullTime(m.VotedAt), m.VoteComment, nullTime(m.FirstViewedAt), nullTime(m.LastViewedAt), m.ViewCount,
			utc(m.AddedAt), i,
		); err != nil {
			r.logger.Error("Failed to write committee member",
				zap.String("review_id", review.ID),
				zap.String("user_id", m.UserID),
				zap.Error(err))
			return fmt.Errorf("failed to insert member %s: %w", m.UserID, err)
		}
	}

	for i, c := range review.Comments {
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO committee_comments (
				id, review_id, author_id, author_name, content, visibility,
				is_edited, edited_at, created_at, position
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, review.ID, c.AuthorID, c.AuthorName, c.Content, c.Visibility,
			c.IsEdited, nullTime(c.EditedAt), utc(c.CreatedAt), i,
		); err != nil {
			return fmt.Errorf("failed to insert comment %s: %w", c.ID, err)
		}
	}
	return nil
}

type decisionRow struct {
	decision, rationale, decidedBy, conditions string
	decidedAt                                  sql.NullTime
	amount, rate                               sql.NullFloat64
	tenor                                      sql.NullInt64
}

func decisionColumns(d *committee.DecisionRecord) decisionRow {
	var row decisionRow
	if d == nil {
		return row
	}
	row.decision = string(d.Decision)
	row.rationale = d.Rationale
	row.decidedBy = d.DecidedBy
	row.decidedAt = nullTime(&d.DecidedAt)
	if d.Terms != nil {
		row.amount = sql.NullFloat64{Float64: d.Terms.Amount, Valid: true}
		row.tenor = sql.NullInt64{Int64: int64(d.Terms.TenorMonths), Valid: true}
		row.rate = sql.NullFloat64{Float64: d.Terms.InterestRate, Valid: true}
		row.conditions = d.Terms.Conditions
	}
	return row
}

func scanReview(s rowScanner) (*committee.Review, error) {
	var review committee.Review
	var d decisionRow
	var votingStartedAt, votingCompletedAt, closedAt sql.NullTime

	err := s.Scan(
		&review.ID, &review.LoanApplicationID, &review.CommitteeType, &review.Status,
		&review.RequiredVotes, &review.MinimumApprovalVotes,
		&review.Deadline, &d.decision, &d.rationale, &d.decidedBy, &d.decidedAt,
		&d.amount, &d.tenor, &d.rate, &d.conditions,
		&votingStartedAt, &votingCompletedAt, &closedAt, &review.ClosedBy, &review.CreatedBy,
		&review.Version, &review.CreatedAt, &review.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	review.VotingStartedAt = timePtr(votingStartedAt)
	review.VotingCompletedAt = timePtr(votingCompletedAt)
	review.ClosedAt = timePtr(closedAt)

	if d.decision != "" {
		record := &committee.DecisionRecord{
			Decision:  committee.Decision(d.decision),
			Rationale: d.rationale,
			DecidedBy: d.decidedBy,
			DecidedAt: d.decidedAt.Time,
		}
		if d.amount.Valid {
			record.Terms = &committee.ApprovedTerms{
				Amount:       d.amount.Float64,
				TenorMonths:  int(d.tenor.Int64),
				InterestRate: d.rate.Float64,
				Conditions:   d.conditions,
			}
		}
		review.Decision = record
	}
	return &review, nil
}

func loadReviewChildren(ctx context.Context, conn sqlite.Executor, review *committee.Review) error {
	members, err := loadMembers(ctx, conn, review.ID)
	if err != nil {
		return err
	}
	comments, err := loadComments(ctx, conn, review.ID)
	if err != nil {
		return err
	}
	review.Members = members
	review.Comments = comments
	return nil
}

func loadMembers(ctx context.Context, conn sqlite.Executor, reviewID string) ([]committee.Member, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT id, review_id, user_id, display_name, role, is_chairperson,
			vote, voted_at, vote_comment, first_viewed_at, last_viewed_at, view_count, added_at
		FROM committee_members
		WHERE review_id = ?
		ORDER BY position`, reviewID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []committee.Member
	for rows.Next() {
		var m committee.Member
		var vote sql.NullString
		var votedAt, firstViewedAt, lastViewedAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.ReviewID, &m.UserID, &m.DisplayName, &m.Role, &m.IsChairperson,
			&vote, &votedAt, &m.VoteComment, &firstViewedAt, &lastViewedAt, &m.ViewCount, &m.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		if vote.Valid {
			v := committee.Vote(vote.String)
			m.Vote = &v
		}
		m.VotedAt = timePtr(votedAt)
		m.FirstViewedAt = timePtr(firstViewedAt)
		m.LastViewedAt = timePtr(lastViewedAt)
		members = append(members, m)
	}
	return members, rows.Err()
}

func loadComments(ctx context.Context, conn sqlite.Executor, reviewID string) ([]committee.Comment, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT id, review_id, author_id, author_name, content, visibility, is_edited, edited_at, created_at
		FROM committee_comments
		WHERE review_id = ?
		ORDER BY position`, reviewID)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	var comments []committee.Comment
	for rows.Next() {
		var c committee.Comment
		var editedAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.ReviewID, &c.AuthorID, &c.AuthorName, &c.Content, &c.Visibility,
			&c.IsEdited, &editedAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		c.EditedAt = timePtr(editedAt)
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// Verify interface compliance
var _ port.ReviewRepository = (*ReviewRepository)(nil)
