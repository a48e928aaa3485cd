package container

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appcommittee "github.com/garyjia/loan-workflow/internal/application/committee"
	"github.com/garyjia/loan-workflow/internal/application/workflow"
	domaincommittee "github.com/garyjia/loan-workflow/internal/domain/committee"
	"github.com/garyjia/loan-workflow/internal/domain/event"
	domainwf "github.com/garyjia/loan-workflow/internal/domain/workflow"
)

func testConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "loanflow.db")
	cfg.SLA.PollInterval = time.Hour
	return cfg
}

func startContainer(t *testing.T, cfg *Config) *Container {
	t.Helper()
	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() {
		if !c.closed.Load() {
			_ = c.Close()
		}
	})
	return c
}

func TestNewContainer_Validation(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewContainer(DefaultConfig(), nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Workflow.SystemRole = ""
	_, err = NewContainer(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestContainer_Lifecycle(t *testing.T) {
	cfg := testConfig(t)
	c := startContainer(t, cfg)

	assert.True(t, c.Ready())
	assert.Error(t, c.Start(context.Background()))
	require.Len(t, c.Definitions(), 1)

	health := c.Health(context.Background())
	assert.True(t, health.Overall, "%+v", health.Components)
	assert.Equal(t, 1, c.Workers().GetWorkerCount())

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close())
	assert.Error(t, c.Start(context.Background()))
}

func TestContainer_SeedIsIdempotentAcrossRestarts(t *testing.T) {
	cfg := testConfig(t)

	first := startContainer(t, cfg)
	def, err := first.Repositories().Definition.GetActive(context.Background(), "CorporateLoan")
	require.NoError(t, err)
	require.NotNil(t, def)
	require.NoError(t, first.Close())

	second := startContainer(t, cfg)
	again, err := second.Repositories().Definition.GetActive(context.Background(), "CorporateLoan")
	require.NoError(t, err)
	assert.Equal(t, def.ID, again.ID)
	assert.Equal(t, 1, again.Version)
}

// TestContainer_CommitteeDecisionDrivesWorkflow walks a corporate loan from
// submission to committee approval through the wired dispatcher
func TestContainer_CommitteeDecisionDrivesWorkflow(t *testing.T) {
	cfg := testConfig(t)
	cfg.SLA.Enabled = false
	c := startContainer(t, cfg)

	ctx := context.Background()
	engine := c.WorkflowEngine()
	const loanID = "loan-42"

	inst, err := engine.Initialize(ctx, workflow.InitializeRequest{
		LoanApplicationID: loanID,
		ApplicationType:   "CorporateLoan",
		InitialStatus:     domainwf.StatusSubmitted,
		InitiatorUserID:   "officer-1",
	})
	require.NoError(t, err)

	move := func(to domainwf.Status, action domainwf.Action, role string) {
		t.Helper()
		_, err := engine.Transition(ctx, workflow.TransitionRequest{
			InstanceID:  inst.ID,
			ToStatus:    to,
			Action:      action,
			ActorUserID: "user-" + role,
			ActorRole:   role,
		})
		require.NoError(t, err, "to %s", to)
	}

	move(domainwf.StatusDataGathering, domainwf.ActionMoveToNextStage, "LoanOfficer")
	move(domainwf.StatusCreditAnalysis, domainwf.ActionMoveToNextStage, "LoanOfficer")

	// credit checks arrive from outside and fire the system edge
	require.NoError(t, c.Dispatcher().Dispatch(ctx, event.NewEvent(event.TypeCreditChecksCompleted, loanID, loanID, nil)))
	got, err := engine.GetByLoanApplication(ctx, loanID)
	require.NoError(t, err)
	require.Equal(t, domainwf.StatusHOReview, got.CurrentStatus)
	assert.Contains(t, c.Health(ctx).Components["dispatcher"].Message, "credit-checks: 1 delivered, 0 failed")

	move(domainwf.StatusRegionalReview, domainwf.ActionMoveToNextStage, "HOReviewer")
	move(domainwf.StatusCommitteeCirculation, domainwf.ActionApprove, "RegionalManager")

	svc := c.Committee()
	review, err := svc.CreateReview(ctx, appcommittee.CreateReviewRequest{
		LoanApplicationID:    loanID,
		CommitteeType:        "Credit",
		RequiredVotes:        3,
		MinimumApprovalVotes: 2,
		CreatedBy:            "secretary",
	})
	require.NoError(t, err)
	for i, u := range []string{"m1", "m2", "m3"} {
		_, err := svc.AddMember(ctx, review.ID, appcommittee.AddMemberRequest{
			UserID: u, DisplayName: u, Role: "CreditCommittee", IsChairperson: i == 0,
		})
		require.NoError(t, err)
	}
	_, err = svc.StartVoting(ctx, review.ID)
	require.NoError(t, err)
	for _, u := range []string{"m1", "m2", "m3"} {
		_, err := svc.CastVote(ctx, review.ID, u, domaincommittee.VoteApprove, "")
		require.NoError(t, err)
	}

	amount, tenor, rate := 2_500_000.0, 48, 12.75
	_, err = svc.RecordDecision(ctx, review.ID, "m1", domaincommittee.DecisionInput{
		Decision:       domaincommittee.DecisionApproved,
		Rationale:      "strong cash flows",
		ApprovedAmount: &amount,
		ApprovedTenor:  &tenor,
		ApprovedRate:   &rate,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := engine.GetByLoanApplication(ctx, loanID)
		return err == nil && got.CurrentStatus == domainwf.StatusCommitteeApproved
	}, 5*time.Second, 20*time.Millisecond)

	terms, err := c.Repositories().LoanTerms.Get(ctx, loanID)
	require.NoError(t, err)
	require.NotNil(t, terms)
	assert.Equal(t, 2_500_000.0, terms.Amount)
	assert.Equal(t, 48, terms.TenorMonths)
	assert.Equal(t, 12.75, terms.InterestRate)

	history, err := engine.History(ctx, inst.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, domainwf.StatusCommitteeApproved, last.ToStatus)
	assert.Equal(t, cfg.Workflow.SystemActor, last.ActorUserID)
	assert.Contains(t, last.Comment, "Committee decision: Approved")
}
