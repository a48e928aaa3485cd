package committee

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func ptrFloat(v float64) *float64 { return &v }
func ptrInt(v int) *int           { return &v }

// newVotingReview returns a review with three members in voting; u1 chairs.
func newVotingReview(t *testing.T) *Review {
	t.Helper()

	r, err := NewReview("loan-1", "Credit", 3, 2, 48, "secretary", t0)
	require.NoError(t, err)

	_, err = r.AddMember("u1", "Ada", "CreditCommittee", true, t0)
	require.NoError(t, err)
	_, err = r.AddMember("u2", "Bola", "CreditCommittee", false, t0)
	require.NoError(t, err)
	_, err = r.AddMember("u3", "Chidi", "CreditCommittee", false, t0)
	require.NoError(t, err)

	require.NoError(t, r.StartVoting(t0.Add(time.Hour)))
	return r
}

func TestNewReview_Validation(t *testing.T) {
	tests := []struct {
		name     string
		required int
		minimum  int
		hours    int
		wantErr  bool
	}{
		{"valid", 3, 2, 48, false},
		{"minimum equals required", 3, 3, 48, false},
		{"zero required", 0, 0, 48, true},
		{"minimum zero", 3, 0, 48, true},
		{"minimum above required", 3, 4, 48, true},
		{"no deadline", 3, 2, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewReview("loan-1", "Credit", tt.required, tt.minimum, tt.hours, "secretary", t0)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidReview)
				assert.Nil(t, r)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusPending, r.Status)
			assert.Equal(t, t0.Add(time.Duration(tt.hours)*time.Hour), r.Deadline)
			assert.NotEmpty(t, r.ID)
		})
	}
}

func TestReview_Members(t *testing.T) {
	r, err := NewReview("loan-1", "Credit", 2, 1, 24, "secretary", t0)
	require.NoError(t, err)

	_, err = r.AddMember("u1", "Ada", "CreditCommittee", true, t0)
	require.NoError(t, err)

	_, err = r.AddMember("u1", "Ada", "CreditCommittee", false, t0)
	assert.ErrorIs(t, err, ErrDuplicateMember)

	_, err = r.AddMember("u2", "Bola", "CreditCommittee", true, t0)
	assert.ErrorIs(t, err, ErrInvalidReview, "second chairperson")

	err = r.StartVoting(t0)
	assert.ErrorIs(t, err, ErrInsufficientMembers)

	_, err = r.AddMember("u2", "Bola", "CreditCommittee", false, t0)
	require.NoError(t, err)

	require.NoError(t, r.RemoveMember("u2", t0))
	assert.ErrorIs(t, r.RemoveMember("u2", t0), ErrNotMember)
	assert.Len(t, r.Members, 1)

	_, err = r.AddMember("u2", "Bola", "CreditCommittee", false, t0)
	require.NoError(t, err)
	require.NoError(t, r.StartVoting(t0))

	_, err = r.AddMember("u3", "Chidi", "CreditCommittee", false, t0)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, r.RemoveMember("u1", t0), ErrInvalidState)
	assert.ErrorIs(t, r.StartVoting(t0), ErrInvalidState)
}

func TestReview_ScenarioMajorityApproval(t *testing.T) {
	r := newVotingReview(t)

	completed, err := r.CastVote("u1", VoteApprove, "", t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, completed)

	completed, err = r.CastVote("u2", VoteApprove, "strong cash flow", t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.False(t, completed)
	assert.Equal(t, 1, r.PendingVotes())

	completed, err = r.CastVote("u3", VoteReject, "collateral thin", t0.Add(4*time.Hour))
	require.NoError(t, err)
	assert.True(t, completed)

	assert.Equal(t, StatusVotingComplete, r.Status)
	assert.True(t, r.HasMajorityApproval())
	assert.True(t, r.HasQuorum())
	assert.Equal(t, 2, r.ApprovalCount())
	assert.Equal(t, 1, r.RejectionCount())
	assert.Equal(t, 0, r.AbstainCount())
	assert.Equal(t, 0, r.PendingVotes())
	require.NotNil(t, r.VotingCompletedAt)
	assert.Equal(t, t0.Add(4*time.Hour), *r.VotingCompletedAt)
}

func TestReview_CastVoteIsWriteOnce(t *testing.T) {
	r := newVotingReview(t)

	_, err := r.CastVote("u2", VoteReject, "", t0)
	require.NoError(t, err)

	_, err = r.CastVote("u2", VoteApprove, "changed my mind", t0)
	assert.ErrorIs(t, err, ErrAlreadyVoted)

	m, ok := r.Member("u2")
	require.True(t, ok)
	require.NotNil(t, m.Vote)
	assert.Equal(t, VoteReject, *m.Vote)
	assert.Empty(t, m.VoteComment)
}

func TestReview_CastVoteRejections(t *testing.T) {
	pending, err := NewReview("loan-1", "Credit", 1, 1, 24, "secretary", t0)
	require.NoError(t, err)
	_, err = pending.AddMember("u1", "Ada", "CreditCommittee", false, t0)
	require.NoError(t, err)

	_, err = pending.CastVote("u1", VoteApprove, "", t0)
	assert.ErrorIs(t, err, ErrInvalidState)

	r := newVotingReview(t)
	_, err = r.CastVote("outsider", VoteApprove, "", t0)
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = r.CastVote("u1", Vote("Maybe"), "", t0)
	assert.ErrorIs(t, err, ErrInvalidVote)
}

func TestReview_VotingCompletesOnce(t *testing.T) {
	r := newVotingReview(t)

	var completions int
	for _, u := range []string{"u1", "u2", "u3"} {
		done, err := r.CastVote(u, VoteAbstain, "", t0)
		require.NoError(t, err)
		if done {
			completions++
		}
	}
	assert.Equal(t, 1, completions)
	assert.Equal(t, 3, r.AbstainCount())
	assert.True(t, r.HasQuorum())
	assert.False(t, r.HasMajorityApproval())

	_, err := r.CastVote("u1", VoteApprove, "", t0)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestReview_RecordDecision(t *testing.T) {
	t.Run("not while pending", func(t *testing.T) {
		r, err := NewReview("loan-1", "Credit", 1, 1, 24, "secretary", t0)
		require.NoError(t, err)
		_, err = r.RecordDecision("u1", DecisionInput{Decision: DecisionRejected}, t0)
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Nil(t, r.Decision)
	})

	t.Run("early decision is chairperson only", func(t *testing.T) {
		r := newVotingReview(t)
		_, err := r.RecordDecision("u2", DecisionInput{Decision: DecisionDeferred}, t0)
		assert.ErrorIs(t, err, ErrNotChairperson)
		assert.Equal(t, StatusInProgress, r.Status)

		rec, err := r.RecordDecision("u1", DecisionInput{Decision: DecisionDeferred, Rationale: "need audited accounts"}, t0)
		require.NoError(t, err)
		assert.Equal(t, StatusDecided, r.Status)
		assert.Equal(t, "u1", rec.DecidedBy)
		assert.Nil(t, rec.Terms)
	})

	t.Run("approval requires positive terms", func(t *testing.T) {
		tests := []struct {
			name  string
			input DecisionInput
		}{
			{"no terms", DecisionInput{Decision: DecisionApproved}},
			{"zero amount", DecisionInput{Decision: DecisionApproved, ApprovedAmount: ptrFloat(0), ApprovedTenor: ptrInt(36), ApprovedRate: ptrFloat(18.5)}},
			{"missing tenor", DecisionInput{Decision: DecisionApproved, ApprovedAmount: ptrFloat(5_000_000), ApprovedRate: ptrFloat(18.5)}},
			{"negative rate", DecisionInput{Decision: DecisionApproved, ApprovedAmount: ptrFloat(5_000_000), ApprovedTenor: ptrInt(36), ApprovedRate: ptrFloat(-1)}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				r := newVotingReview(t)
				_, err := r.RecordDecision("u1", tt.input, t0)
				assert.ErrorIs(t, err, ErrInvalidTerms)
				assert.Equal(t, StatusInProgress, r.Status)
			})
		}
	})

	t.Run("anyone decides after voting completes", func(t *testing.T) {
		r := newVotingReview(t)
		for _, u := range []string{"u1", "u2", "u3"} {
			_, err := r.CastVote(u, VoteApprove, "", t0)
			require.NoError(t, err)
		}

		rec, err := r.RecordDecision("secretary", DecisionInput{
			Decision:       DecisionApproved,
			Rationale:      "unanimous",
			ApprovedAmount: ptrFloat(5_000_000),
			ApprovedTenor:  ptrInt(36),
			ApprovedRate:   ptrFloat(18.5),
			Conditions:     "quarterly management accounts",
		}, t0.Add(time.Hour))
		require.NoError(t, err)
		require.NotNil(t, rec.Terms)
		assert.Equal(t, 5_000_000.0, rec.Terms.Amount)
		assert.Equal(t, 36, rec.Terms.TenorMonths)
		assert.Equal(t, 18.5, rec.Terms.InterestRate)
		assert.Equal(t, "quarterly management accounts", rec.Terms.Conditions)

		_, err = r.RecordDecision("u1", DecisionInput{Decision: DecisionRejected}, t0)
		assert.ErrorIs(t, err, ErrInvalidState, "decision is final once recorded")
		assert.Equal(t, DecisionApproved, r.Decision.Decision)
	})

	t.Run("rejected ignores terms", func(t *testing.T) {
		r := newVotingReview(t)
		rec, err := r.RecordDecision("u1", DecisionInput{Decision: DecisionRejected, ApprovedAmount: ptrFloat(1)}, t0)
		require.NoError(t, err)
		assert.Nil(t, rec.Terms)
	})
}

func TestReview_Close(t *testing.T) {
	r := newVotingReview(t)
	assert.ErrorIs(t, r.Close("u1", t0), ErrInvalidState)

	_, err := r.RecordDecision("u1", DecisionInput{Decision: DecisionRejected}, t0)
	require.NoError(t, err)

	require.NoError(t, r.Close("u1", t0.Add(time.Hour)))
	assert.Equal(t, StatusClosed, r.Status)
	assert.Equal(t, "u1", r.ClosedBy)
	assert.ErrorIs(t, r.Close("u1", t0), ErrInvalidState)
}

func TestReview_Comments(t *testing.T) {
	r := newVotingReview(t)

	c, err := r.AddComment("u2", "Bola", "Please confirm the guarantor.", VisibilityCommittee, t0)
	require.NoError(t, err)
	assert.False(t, c.IsEdited)

	_, err = r.AddComment("u2", "Bola", "   ", VisibilityCommittee, t0)
	assert.ErrorIs(t, err, ErrInvalidComment)

	_, err = r.AddComment("u2", "Bola", strings.Repeat("x", MaxCommentLength+1), VisibilityCommittee, t0)
	assert.ErrorIs(t, err, ErrInvalidComment)

	_, err = r.AddComment("u2", "Bola", strings.Repeat("é", MaxCommentLength), VisibilityInternal, t0)
	assert.NoError(t, err, "limit counts characters")

	_, err = r.AddComment("u2", "Bola", "hello", Visibility("Public"), t0)
	assert.ErrorIs(t, err, ErrInvalidComment)

	assert.ErrorIs(t, r.EditComment(c.ID, "u3", "hijack", t0), ErrNotCommentAuthor)
	assert.ErrorIs(t, r.EditComment("missing", "u2", "x", t0), ErrCommentNotFound)

	require.NoError(t, r.EditComment(c.ID, "u2", "Guarantor confirmed.", t0.Add(time.Minute)))
	assert.Equal(t, "Guarantor confirmed.", r.Comments[0].Content)
	assert.True(t, r.Comments[0].IsEdited)
	require.NotNil(t, r.Comments[0].EditedAt)

	_, err = r.RecordDecision("u1", DecisionInput{Decision: DecisionRejected}, t0)
	require.NoError(t, err)
	require.NoError(t, r.Close("u1", t0))

	_, err = r.AddComment("u2", "Bola", "late", VisibilityCommittee, t0)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestReview_RecordViewAndOverdue(t *testing.T) {
	r := newVotingReview(t)

	require.NoError(t, r.RecordView("u3", t0.Add(time.Hour)))
	require.NoError(t, r.RecordView("u3", t0.Add(2*time.Hour)))
	assert.ErrorIs(t, r.RecordView("outsider", t0), ErrNotMember)

	m, _ := r.Member("u3")
	assert.True(t, m.HasViewed())
	assert.Equal(t, 2, m.ViewCount)
	assert.Equal(t, t0.Add(time.Hour), *m.FirstViewedAt)
	assert.Equal(t, t0.Add(2*time.Hour), *m.LastViewedAt)

	assert.False(t, r.IsOverdue(r.Deadline))
	assert.True(t, r.IsOverdue(r.Deadline.Add(time.Second)))
}
