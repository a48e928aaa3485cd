package committee

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ApprovedTerms are the terms a committee attaches to an approval
type ApprovedTerms struct {
	Amount       float64 `json:"amount"`
	TenorMonths  int     `json:"tenor_months"`
	InterestRate float64 `json:"interest_rate"`
	Conditions   string  `json:"conditions,omitempty"`
}

// DecisionRecord is the committee's final, authoritative outcome
type DecisionRecord struct {
	Decision  Decision       `json:"decision"`
	Rationale string         `json:"rationale"`
	DecidedBy string         `json:"decided_by"`
	DecidedAt time.Time      `json:"decided_at"`
	Terms     *ApprovedTerms `json:"terms,omitempty"`
}

// DecisionInput is a decision request. Terms are optional and only
// required, and only kept, for DecisionApproved.
type DecisionInput struct {
	Decision       Decision
	Rationale      string
	ApprovedAmount *float64
	ApprovedTenor  *int
	ApprovedRate   *float64
	Conditions     string
}

// Review is a quorum vote on a loan application.
// Status moves Pending -> InProgress -> VotingComplete -> Decided -> Closed and never back.
type Review struct {
	ID                   string          `json:"id"`
	LoanApplicationID    string          `json:"loan_application_id"`
	CommitteeType        string          `json:"committee_type"`
	Status               ReviewStatus    `json:"status"`
	RequiredVotes        int             `json:"required_votes"`
	MinimumApprovalVotes int             `json:"minimum_approval_votes"`
	Deadline             time.Time       `json:"deadline"`
	Members              []Member        `json:"members"`
	Comments             []Comment       `json:"comments"`
	Decision             *DecisionRecord `json:"decision,omitempty"`
	VotingStartedAt      *time.Time      `json:"voting_started_at,omitempty"`
	VotingCompletedAt    *time.Time      `json:"voting_completed_at,omitempty"`
	ClosedAt             *time.Time      `json:"closed_at,omitempty"`
	ClosedBy             string          `json:"closed_by,omitempty"`
	CreatedBy            string          `json:"created_by"`

	// Version is the optimistic concurrency token checked by the repository
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewReview opens a pending review with a deadline deadlineHours from now
func NewReview(loanApplicationID, committeeType string, requiredVotes, minimumApprovalVotes, deadlineHours int, createdBy string, now time.Time) (*Review, error) {
	if loanApplicationID == "" {
		return nil, fmt.Errorf("%w: loan application id is required", ErrInvalidReview)
	}
	if requiredVotes <= 0 {
		return nil, fmt.Errorf("%w: required votes must be > 0, got %d", ErrInvalidReview, requiredVotes)
	}
	if minimumApprovalVotes < 1 || minimumApprovalVotes > requiredVotes {
		return nil, fmt.Errorf("%w: minimum approval votes must be between 1 and %d, got %d",
			ErrInvalidReview, requiredVotes, minimumApprovalVotes)
	}
	if deadlineHours <= 0 {
		return nil, fmt.Errorf("%w: deadline hours must be > 0, got %d", ErrInvalidReview, deadlineHours)
	}

	return &Review{
		ID:                   uuid.NewString(),
		LoanApplicationID:    loanApplicationID,
		CommitteeType:        committeeType,
		Status:               StatusPending,
		RequiredVotes:        requiredVotes,
		MinimumApprovalVotes: minimumApprovalVotes,
		Deadline:             now.Add(time.Duration(deadlineHours) * time.Hour),
		CreatedBy:            createdBy,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// AddMember seats a user on the committee. Only while Pending; one chairperson per review.
func (r *Review) AddMember(userID, displayName, role string, isChairperson bool, now time.Time) (Member, error) {
	if r.Status != StatusPending {
		return Member{}, fmt.Errorf("%w: cannot add members while %s", ErrInvalidState, r.Status)
	}
	if userID == "" {
		return Member{}, fmt.Errorf("%w: user id is required", ErrInvalidReview)
	}
	if _, ok := r.member(userID); ok {
		return Member{}, fmt.Errorf("%w: %s", ErrDuplicateMember, userID)
	}
	if isChairperson {
		if chair, ok := r.Chairperson(); ok {
			return Member{}, fmt.Errorf("%w: %s already chairs this review", ErrInvalidReview, chair.UserID)
		}
	}

	m := Member{
		ID:            uuid.NewString(),
		ReviewID:      r.ID,
		UserID:        userID,
		DisplayName:   displayName,
		Role:          role,
		IsChairperson: isChairperson,
		AddedAt:       now,
	}
	r.Members = append(r.Members, m)
	r.UpdatedAt = now
	return m, nil
}

// RemoveMember removes a seat. Only while Pending.
func (r *Review) RemoveMember(userID string, now time.Time) error {
	if r.Status != StatusPending {
		return fmt.Errorf("%w: cannot remove members while %s", ErrInvalidState, r.Status)
	}
	i, ok := r.member(userID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotMember, userID)
	}

	r.Members = append(r.Members[:i], r.Members[i+1:]...)
	r.UpdatedAt = now
	return nil
}

// StartVoting opens the ballot once enough members are seated
func (r *Review) StartVoting(now time.Time) error {
	if r.Status != StatusPending {
		return fmt.Errorf("%w: cannot start voting while %s", ErrInvalidState, r.Status)
	}
	if len(r.Members) < r.RequiredVotes {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientMembers, len(r.Members), r.RequiredVotes)
	}

	r.Status = StatusInProgress
	r.VotingStartedAt = &now
	r.UpdatedAt = now
	return nil
}

// CastVote records a member's ballot. When this ballot is the last one
// outstanding the review moves to VotingComplete and completed is true; the
// check happens in the same mutation as the vote write.
func (r *Review) CastVote(userID string, vote Vote, comment string, now time.Time) (completed bool, err error) {
	if r.Status != StatusInProgress {
		return false, fmt.Errorf("%w: cannot vote while %s", ErrInvalidState, r.Status)
	}
	if !vote.IsValid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidVote, vote)
	}
	i, ok := r.member(userID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotMember, userID)
	}
	if r.Members[i].HasVoted() {
		return false, fmt.Errorf("%w: %s voted %s", ErrAlreadyVoted, userID, *r.Members[i].Vote)
	}

	v := vote
	r.Members[i].Vote = &v
	r.Members[i].VotedAt = &now
	r.Members[i].VoteComment = comment
	r.UpdatedAt = now

	if r.PendingVotes() == 0 {
		r.Status = StatusVotingComplete
		r.VotingCompletedAt = &now
		return true, nil
	}
	return false, nil
}

// RecordView tracks a member opening the review
func (r *Review) RecordView(userID string, now time.Time) error {
	i, ok := r.member(userID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotMember, userID)
	}

	m := &r.Members[i]
	if m.FirstViewedAt == nil {
		m.FirstViewedAt = &now
	}
	m.LastViewedAt = &now
	m.ViewCount++
	return nil
}

// AddComment attaches a comment. Allowed in every status except Closed.
func (r *Review) AddComment(authorID, authorName, content string, visibility Visibility, now time.Time) (Comment, error) {
	if r.Status == StatusClosed {
		return Comment{}, fmt.Errorf("%w: cannot comment on a closed review", ErrInvalidState)
	}
	if authorID == "" {
		return Comment{}, fmt.Errorf("%w: author is required", ErrInvalidComment)
	}
	if !visibility.IsValid() {
		return Comment{}, fmt.Errorf("%w: unknown visibility %q", ErrInvalidComment, visibility)
	}
	if err := validateContent(content); err != nil {
		return Comment{}, err
	}

	c := Comment{
		ID:         uuid.NewString(),
		ReviewID:   r.ID,
		AuthorID:   authorID,
		AuthorName: authorName,
		Content:    content,
		Visibility: visibility,
		CreatedAt:  now,
	}
	r.Comments = append(r.Comments, c)
	r.UpdatedAt = now
	return c, nil
}

// EditComment replaces a comment's content. Only the author may edit.
func (r *Review) EditComment(commentID, editorID, content string, now time.Time) error {
	if r.Status == StatusClosed {
		return fmt.Errorf("%w: cannot edit comments on a closed review", ErrInvalidState)
	}
	for i := range r.Comments {
		c := &r.Comments[i]
		if c.ID != commentID {
			continue
		}
		if c.AuthorID != editorID {
			return fmt.Errorf("%w: comment %s", ErrNotCommentAuthor, commentID)
		}
		if err := validateContent(content); err != nil {
			return err
		}
		c.Content = content
		c.IsEdited = true
		c.EditedAt = &now
		r.UpdatedAt = now
		return nil
	}
	return fmt.Errorf("%w: %s", ErrCommentNotFound, commentID)
}

// RecordDecision sets the final outcome. From VotingComplete anyone may
// decide; from InProgress only the chairperson may. Once set, the decision
// is authoritative and cannot be replaced.
func (r *Review) RecordDecision(actorUserID string, in DecisionInput, now time.Time) (DecisionRecord, error) {
	switch r.Status {
	case StatusVotingComplete:
	case StatusInProgress:
		chair, ok := r.Chairperson()
		if !ok || chair.UserID != actorUserID {
			return DecisionRecord{}, fmt.Errorf("%w: %s", ErrNotChairperson, actorUserID)
		}
	default:
		return DecisionRecord{}, fmt.Errorf("%w: cannot decide while %s", ErrInvalidState, r.Status)
	}

	if !in.Decision.IsValid() {
		return DecisionRecord{}, fmt.Errorf("%w: unknown decision %q", ErrInvalidReview, in.Decision)
	}

	record := DecisionRecord{
		Decision:  in.Decision,
		Rationale: in.Rationale,
		DecidedBy: actorUserID,
		DecidedAt: now,
	}

	if in.Decision == DecisionApproved {
		terms, err := approvedTerms(in)
		if err != nil {
			return DecisionRecord{}, err
		}
		record.Terms = terms
	}

	r.Decision = &record
	r.Status = StatusDecided
	r.UpdatedAt = now
	return record, nil
}

// Close finishes a decided review
func (r *Review) Close(actorUserID string, now time.Time) error {
	if r.Status != StatusDecided {
		return fmt.Errorf("%w: cannot close while %s", ErrInvalidState, r.Status)
	}

	r.Status = StatusClosed
	r.ClosedAt = &now
	r.ClosedBy = actorUserID
	r.UpdatedAt = now
	return nil
}

// Chairperson returns the chairing member, if any
func (r *Review) Chairperson() (Member, bool) {
	for _, m := range r.Members {
		if m.IsChairperson {
			return m, true
		}
	}
	return Member{}, false
}

// Member returns the seat held by userID
func (r *Review) Member(userID string) (Member, bool) {
	i, ok := r.member(userID)
	if !ok {
		return Member{}, false
	}
	return r.Members[i], true
}

func (r *Review) member(userID string) (int, bool) {
	for i, m := range r.Members {
		if m.UserID == userID {
			return i, true
		}
	}
	return -1, false
}

func approvedTerms(in DecisionInput) (*ApprovedTerms, error) {
	var missing []string
	if in.ApprovedAmount == nil || *in.ApprovedAmount <= 0 {
		missing = append(missing, "amount")
	}
	if in.ApprovedTenor == nil || *in.ApprovedTenor <= 0 {
		missing = append(missing, "tenor")
	}
	if in.ApprovedRate == nil || *in.ApprovedRate <= 0 {
		missing = append(missing, "rate")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: approval needs positive %s", ErrInvalidTerms, strings.Join(missing, ", "))
	}

	return &ApprovedTerms{
		Amount:       *in.ApprovedAmount,
		TenorMonths:  *in.ApprovedTenor,
		InterestRate: *in.ApprovedRate,
		Conditions:   in.Conditions,
	}, nil
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content is empty", ErrInvalidComment)
	}
	if n := utf8.RuneCountInString(content); n > MaxCommentLength {
		return fmt.Errorf("%w: content has %d characters, limit is %d", ErrInvalidComment, n, MaxCommentLength)
	}
	return nil
}
