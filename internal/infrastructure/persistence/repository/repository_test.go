package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/application/port"
	"github.com/garyjia/loan-workflow/internal/domain/committee"
	"github.com/garyjia/loan-workflow/internal/domain/workflow"
	"github.com/garyjia/loan-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/loan-workflow/pkg/database"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "loanflow.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunMigrationsFS(sqlite.Migrations, sqlite.MigrationsDir))
	return sqlite.NewDB(db.DB, logger)
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testDefinition(t *testing.T, name string) *workflow.Definition {
	t.Helper()
	b := workflow.NewDefinitionBuilder(name, "CorporateLoan").
		Stage(workflow.Stage{Status: workflow.StatusSubmitted, DisplayName: "Submitted", AssignedRole: "LoanOfficer", SLAHours: 24}).
		Stage(workflow.Stage{Status: workflow.StatusCreditAnalysis, DisplayName: "Credit Analysis", AssignedRole: "CreditAnalyst", SLAHours: 48}).
		Stage(workflow.Stage{Status: workflow.StatusRejected, DisplayName: "Rejected", IsTerminal: true})
	b.Configure(workflow.StatusSubmitted).
		Permit(workflow.ActionMoveToNextStage, workflow.StatusCreditAnalysis, "LoanOfficer").
		PermitWithComment(workflow.ActionReject, workflow.StatusRejected, "LoanOfficer")
	b.Configure(workflow.StatusCreditAnalysis).
		PermitIf(workflow.ActionReject, workflow.StatusRejected, "CreditAnalyst", "score < 400")

	def, err := b.Build("", 0)
	require.NoError(t, err)
	def.CreatedAt = t0
	return def
}

func TestDefinitionRepository_SaveVersionsAndActivates(t *testing.T) {
	ctx := context.Background()
	repo := NewDefinitionRepository(newTestDB(t), zap.NewNop())

	v1 := testDefinition(t, "Corporate Loan")
	require.NoError(t, repo.Save(ctx, v1))
	assert.NotEmpty(t, v1.ID)
	assert.Equal(t, 1, v1.Version)

	v2 := testDefinition(t, "Corporate Loan v2")
	require.NoError(t, repo.Save(ctx, v2))
	assert.Equal(t, 2, v2.Version)

	active, err := repo.GetActive(ctx, "CorporateLoan")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, v2.ID, active.ID)
	assert.True(t, active.IsActive)

	old, err := repo.GetByID(ctx, v1.ID)
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.False(t, old.IsActive)
	assert.Equal(t, 1, old.Version)

	edge, ok := old.Transition(workflow.StatusCreditAnalysis, workflow.StatusRejected, workflow.ActionReject)
	require.True(t, ok)
	assert.Equal(t, "score < 400", edge.Condition)
	edge, ok = old.Transition(workflow.StatusSubmitted, workflow.StatusRejected, workflow.ActionReject)
	require.True(t, ok)
	assert.True(t, edge.RequiresComment)

	stages := old.Stages()
	require.Len(t, stages, 3)
	assert.Equal(t, workflow.StatusSubmitted, stages[0].Status)
	assert.Equal(t, 48, stages[1].SLAHours)
	assert.True(t, stages[2].IsTerminal)

	list, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	missing, err := repo.GetActive(ctx, "Mortgage")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func newStoredInstance(t *testing.T, db *sqlite.DB, loanAppID string) (*workflow.Definition, *workflow.Instance, *InstanceRepository) {
	t.Helper()
	ctx := context.Background()

	def := testDefinition(t, "Corporate Loan")
	require.NoError(t, NewDefinitionRepository(db, zap.NewNop()).Save(ctx, def))

	inst, err := workflow.NewInstance(def, loanAppID, workflow.StatusSubmitted, "officer-1", t0)
	require.NoError(t, err)

	repo := NewInstanceRepository(db, zap.NewNop())
	require.NoError(t, repo.Create(ctx, inst))
	return def, inst, repo
}

func TestInstanceRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	def, inst, repo := newStoredInstance(t, db, "loan-1")

	assert.Equal(t, int64(1), inst.Version)

	got, err := repo.GetByLoanApplication(ctx, "loan-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, inst.ID, got.ID)
	assert.Equal(t, def.ID, got.DefinitionID)
	assert.Equal(t, workflow.StatusSubmitted, got.CurrentStatus)
	assert.Equal(t, "LoanOfficer", got.AssignedRole)
	require.NotNil(t, got.SLADueAt)
	assert.True(t, got.SLADueAt.Equal(t0.Add(24*time.Hour)))
	assert.Nil(t, got.CompletedAt)
	require.Len(t, got.Logs, 1)
	assert.Equal(t, workflow.ActionCreate, got.Logs[0].Action)
	assert.True(t, got.Logs[0].IsZeroWidth())

	dup, err := workflow.NewInstance(def, "loan-1", workflow.StatusSubmitted, "officer-2", t0)
	require.NoError(t, err)
	err = repo.Create(ctx, dup)
	assert.ErrorIs(t, err, workflow.ErrInstanceExists)

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInstanceRepository_UpdateAppendsLogsAndChecksVersion(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	def, inst, repo := newStoredInstance(t, db, "loan-1")

	stale, err := repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)

	_, err = inst.Transition(def, workflow.TransitionRequest{
		ToStatus: workflow.StatusCreditAnalysis, Action: workflow.ActionMoveToNextStage,
		ActorUserID: "officer-1", ActorRole: "LoanOfficer",
	}, t0.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, inst))
	assert.Equal(t, int64(2), inst.Version)

	_, err = stale.Transition(def, workflow.TransitionRequest{
		ToStatus: workflow.StatusRejected, Action: workflow.ActionReject,
		ActorUserID: "officer-2", ActorRole: "LoanOfficer", Comment: "duplicate",
	}, t0.Add(2*time.Hour))
	require.NoError(t, err)
	err = repo.Update(ctx, stale)
	assert.True(t, errors.Is(err, port.ErrConcurrencyConflict))
	assert.True(t, port.IsRetryable(err))

	got, err := repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCreditAnalysis, got.CurrentStatus)
	assert.Equal(t, int64(2), got.Version)
	require.Len(t, got.Logs, 2)
	assert.Equal(t, 2, got.Logs[1].Sequence)
	assert.Equal(t, workflow.StatusSubmitted, got.Logs[1].FromStatus)
	assert.Equal(t, "LoanOfficer", got.Logs[1].ActorRole)

	_, err = got.Transition(def, workflow.TransitionRequest{
		ToStatus: workflow.StatusRejected, Action: workflow.ActionReject,
		ActorUserID: "analyst-1", ActorRole: "CreditAnalyst",
	}, t0.Add(3*time.Hour))
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, got))

	final, err := repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.True(t, final.IsCompleted)
	assert.Equal(t, workflow.StatusRejected, final.FinalStatus)
	assert.Nil(t, final.SLADueAt)
	assert.Len(t, final.Logs, 3)
}

func TestInstanceRepository_ConcurrentWritersOneWins(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	def, inst, repo := newStoredInstance(t, db, "loan-1")

	const writers = 5
	copies := make([]*workflow.Instance, writers)
	for i := range copies {
		c, err := repo.GetByID(ctx, inst.ID)
		require.NoError(t, err)
		copies[i] = c
	}

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := copies[i]
			if _, err := c.Transition(def, workflow.TransitionRequest{
				ToStatus: workflow.StatusCreditAnalysis, Action: workflow.ActionMoveToNextStage,
				ActorUserID: "officer", ActorRole: "LoanOfficer",
			}, t0.Add(time.Hour)); err != nil {
				errs[i] = err
				return
			}
			errs[i] = repo.Update(ctx, c)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, port.ErrConcurrencyConflict)
	}
	assert.Equal(t, 1, succeeded)

	got, err := repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, got.Logs, 2)
}

func TestInstanceRepository_ListSlaDue(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	_, first, repo := newStoredInstance(t, db, "loan-1")

	def, err := NewDefinitionRepository(db, zap.NewNop()).GetActive(ctx, "CorporateLoan")
	require.NoError(t, err)
	later, err := workflow.NewInstance(def, "loan-2", workflow.StatusCreditAnalysis, "officer", t0)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, later))

	due, err := repo.ListSlaDue(ctx, t0.Add(25*time.Hour), 3, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, first.ID, due[0].ID)
	assert.Empty(t, due[0].Logs)

	due, err = repo.ListSlaDue(ctx, t0.Add(49*time.Hour), 3, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, first.ID, due[0].ID)

	due, err = repo.ListSlaDue(ctx, t0.Add(49*time.Hour), 3, 1)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	due, err = repo.ListSlaDue(ctx, t0, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestInstanceRepository_ListSlaDueSkipsFullyEscalated(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	_, capped, repo := newStoredInstance(t, db, "loan-1")

	def, err := NewDefinitionRepository(db, zap.NewNop()).GetActive(ctx, "CorporateLoan")
	require.NoError(t, err)
	newer, err := workflow.NewInstance(def, "loan-2", workflow.StatusCreditAnalysis, "officer", t0)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, newer))

	late := t0.Add(49 * time.Hour)
	stored, err := repo.GetByID(ctx, capped.ID)
	require.NoError(t, err)
	_, err = stored.MarkSLABreached(late)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = stored.Escalate("system", "overdue", late)
		require.NoError(t, err)
	}
	require.NoError(t, repo.Update(ctx, stored))

	// the older deadline sits at the cap and no longer takes the only slot
	due, err := repo.ListSlaDue(ctx, late, 2, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, newer.ID, due[0].ID)

	due, err = repo.ListSlaDue(ctx, late, 3, 10)
	require.NoError(t, err)
	assert.Len(t, due, 2)

	// with escalation off only unbreached instances are listed
	due, err = repo.ListSlaDue(ctx, late, 0, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, newer.ID, due[0].ID)
}

func TestInstanceRepository_JoinsOuterTransaction(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	def := testDefinition(t, "Corporate Loan")
	require.NoError(t, NewDefinitionRepository(db, zap.NewNop()).Save(ctx, def))
	repo := NewInstanceRepository(db, zap.NewNop())

	boom := errors.New("boom")
	err := db.WithTransaction(ctx, func(txCtx context.Context) error {
		inst, err := workflow.NewInstance(def, "loan-tx", workflow.StatusSubmitted, "officer", t0)
		require.NoError(t, err)
		require.NoError(t, repo.Create(txCtx, inst))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.GetByLoanApplication(ctx, "loan-tx")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func decidedReview(t *testing.T) *committee.Review {
	t.Helper()
	review, err := committee.NewReview("loan-1", "Credit", 2, 2, 72, "secretary", t0)
	require.NoError(t, err)

	_, err = review.AddMember("u1", "Ada", "CreditCommittee", true, t0)
	require.NoError(t, err)
	_, err = review.AddMember("u2", "Bola", "CreditCommittee", false, t0)
	require.NoError(t, err)
	require.NoError(t, review.StartVoting(t0))
	require.NoError(t, review.RecordView("u2", t0.Add(time.Minute)))

	_, err = review.CastVote("u1", committee.VoteApprove, "", t0.Add(time.Hour))
	require.NoError(t, err)
	_, err = review.CastVote("u2", committee.VoteApprove, "fine", t0.Add(2*time.Hour))
	require.NoError(t, err)

	_, err = review.AddComment("u2", "Bola", "Collateral verified.", committee.VisibilityInternal, t0.Add(3*time.Hour))
	require.NoError(t, err)

	amount, tenor, rate := 5_000_000.0, 36, 18.5
	_, err = review.RecordDecision("u1", committee.DecisionInput{
		Decision: committee.DecisionApproved, Rationale: "strong cash flow",
		ApprovedAmount: &amount, ApprovedTenor: &tenor, ApprovedRate: &rate, Conditions: "quarterly reporting",
	}, t0.Add(4*time.Hour))
	require.NoError(t, err)
	return review
}

func TestReviewRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewReviewRepository(newTestDB(t), zap.NewNop())

	review, err := committee.NewReview("loan-1", "Credit", 2, 2, 72, "secretary", t0)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, review))
	assert.Equal(t, int64(1), review.Version)

	full := decidedReview(t)
	full.ID = review.ID
	full.Version = review.Version
	require.NoError(t, repo.Update(ctx, full))
	assert.Equal(t, int64(2), full.Version)

	got, err := repo.GetByID(ctx, review.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, committee.StatusDecided, got.Status)
	require.Len(t, got.Members, 2)
	assert.True(t, got.Members[0].IsChairperson)
	require.NotNil(t, got.Members[1].Vote)
	assert.Equal(t, committee.VoteApprove, *got.Members[1].Vote)
	assert.Equal(t, "fine", got.Members[1].VoteComment)
	assert.Equal(t, 1, got.Members[1].ViewCount)
	assert.Equal(t, 2, got.ApprovalCount())
	assert.True(t, got.HasQuorum())

	require.Len(t, got.Comments, 1)
	assert.Equal(t, committee.VisibilityInternal, got.Comments[0].Visibility)

	require.NotNil(t, got.Decision)
	assert.Equal(t, committee.DecisionApproved, got.Decision.Decision)
	require.NotNil(t, got.Decision.Terms)
	assert.Equal(t, committee.ApprovedTerms{
		Amount: 5_000_000, TenorMonths: 36, InterestRate: 18.5, Conditions: "quarterly reporting",
	}, *got.Decision.Terms)

	// a writer holding the version-1 copy loses
	review.Status = committee.StatusClosed
	assert.ErrorIs(t, repo.Update(ctx, review), port.ErrConcurrencyConflict)

	list, err := repo.ListByLoanApplication(ctx, "loan-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Members, 2)

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLoanTermsRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	repo := NewLoanTermsRepository(newTestDB(t), zap.NewNop())

	none, err := repo.Get(ctx, "loan-1")
	require.NoError(t, err)
	assert.Nil(t, none)

	terms := committee.ApprovedTerms{Amount: 5_000_000, TenorMonths: 36, InterestRate: 18.5}
	require.NoError(t, repo.UpdateApprovedTerms(ctx, "loan-1", terms))
	require.NoError(t, repo.UpdateApprovedTerms(ctx, "loan-1", terms))

	got, err := repo.Get(ctx, "loan-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, terms, *got)

	terms.Amount = 4_000_000
	require.NoError(t, repo.UpdateApprovedTerms(ctx, "loan-1", terms))
	got, err = repo.Get(ctx, "loan-1")
	require.NoError(t, err)
	assert.Equal(t, 4_000_000.0, got.Amount)
}
