package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/application/port"
	domainwf "github.com/garyjia/loan-workflow/internal/domain/workflow"
)

var sweepNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

// mockSLAEngine keeps instances in memory, applies the domain rules at
// sweepNow and records every escalation reason
type mockSLAEngine struct {
	mu        sync.Mutex
	instances map[string]*domainwf.Instance
	order     []string
	reasons   []string

	listErr     error
	breachErr   map[string]error
	escalateErr map[string]error
	afterList   func()
}

func newMockSLAEngine() *mockSLAEngine {
	return &mockSLAEngine{
		instances:   make(map[string]*domainwf.Instance),
		breachErr:   make(map[string]error),
		escalateErr: make(map[string]error),
	}
}

func (m *mockSLAEngine) add(id string, overdue time.Duration, breached bool, level int) {
	due := sweepNow.Add(-overdue)
	m.instances[id] = &domainwf.Instance{
		ID:                    id,
		LoanApplicationID:     "loan-" + id,
		CurrentStatus:         domainwf.StatusBranchReview,
		EnteredCurrentStageAt: due.Add(-24 * time.Hour),
		SLADueAt:              &due,
		IsSLABreached:         breached,
		EscalationLevel:       level,
	}
	m.order = append(m.order, id)
}

// move simulates a transition committed by someone else
func (m *mockSLAEngine) move(id string, to domainwf.Status, slaHours int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst := m.instances[id]
	due := sweepNow.Add(time.Duration(slaHours) * time.Hour)
	inst.CurrentStatus = to
	inst.EnteredCurrentStageAt = sweepNow
	inst.SLADueAt = &due
	inst.IsSLABreached = false
	inst.EscalationLevel = 0
}

func (m *mockSLAEngine) ListSlaDue(ctx context.Context, maxEscalationLevel, limit int) ([]*domainwf.Instance, error) {
	m.mu.Lock()
	if m.listErr != nil {
		m.mu.Unlock()
		return nil, m.listErr
	}
	var out []*domainwf.Instance
	for _, id := range m.order {
		if len(out) == limit {
			break
		}
		inst := m.instances[id]
		if !inst.IsSLADue(sweepNow) || (inst.IsSLABreached && inst.EscalationLevel >= maxEscalationLevel) {
			continue
		}
		cp := *inst
		out = append(out, &cp)
	}
	m.mu.Unlock()

	if m.afterList != nil {
		m.afterList()
	}
	return out, nil
}

func (m *mockSLAEngine) MarkSlaBreached(ctx context.Context, instanceID string) (*domainwf.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.breachErr[instanceID]; err != nil {
		return nil, err
	}
	inst := m.instances[instanceID]
	if _, err := inst.MarkSLABreached(sweepNow); err != nil {
		return nil, err
	}
	cp := *inst
	return &cp, nil
}

func (m *mockSLAEngine) EscalateOverdue(ctx context.Context, instanceID string, visit domainwf.StageVisit, actorUserID, reason string) (*domainwf.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.escalateErr[instanceID]; err != nil {
		return nil, err
	}
	inst := m.instances[instanceID]
	if _, err := inst.EscalateOverdue(visit, actorUserID, reason, sweepNow); err != nil {
		return nil, err
	}
	m.reasons = append(m.reasons, actorUserID+": "+reason)
	cp := *inst
	return &cp, nil
}

func (m *mockSLAEngine) get(id string) domainwf.Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.instances[id]
}

func newTestSweeper(engine SLAEngine) *SLASweeper {
	return NewSLASweeper(SLASweeperConfig{
		PollInterval:       time.Hour,
		BatchSize:          10,
		EscalateAfter:      4 * time.Hour,
		MaxEscalationLevel: 2,
		ActorUserID:        "sla-bot",
	}, engine, zap.NewNop(), WithSweeperClock(func() time.Time { return sweepNow }))
}

func TestSweepOnce_BreachAndEscalationPolicy(t *testing.T) {
	engine := newMockSLAEngine()
	engine.add("fresh", time.Minute, false, 0)
	engine.add("late", 5*time.Hour, false, 0)
	engine.add("very-late", 30*time.Hour, true, 1)
	engine.add("capped", 30*time.Hour, true, 2)

	s := newTestSweeper(engine)
	result, err := s.SweepOnce(context.Background())
	require.NoError(t, err)

	// capped is breached at the max level and not listed
	assert.Equal(t, SweepResult{Scanned: 3, Breached: 2, Escalated: 2}, result)
	assert.Equal(t, result, s.LastSweep())

	fresh := engine.get("fresh")
	assert.True(t, fresh.IsSLABreached)
	assert.Equal(t, 0, fresh.EscalationLevel)

	late := engine.get("late")
	assert.True(t, late.IsSLABreached)
	assert.Equal(t, 1, late.EscalationLevel)

	assert.Equal(t, 2, engine.get("very-late").EscalationLevel)
	assert.Equal(t, 2, engine.get("capped").EscalationLevel)

	require.Len(t, engine.reasons, 2)
	assert.Equal(t, "sla-bot: SLA overdue by 5h0m0s at stage BranchReview", engine.reasons[0])
}

func TestSweepOnce_IsIdempotentWithinAWindow(t *testing.T) {
	engine := newMockSLAEngine()
	engine.add("late", 5*time.Hour, false, 0)

	s := newTestSweeper(engine)
	_, err := s.SweepOnce(context.Background())
	require.NoError(t, err)

	result, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 1}, result)
	assert.Equal(t, 1, engine.get("late").EscalationLevel)
}

func TestSweepOnce_EscalationDisabled(t *testing.T) {
	engine := newMockSLAEngine()
	engine.add("late", 50*time.Hour, false, 0)

	s := NewSLASweeper(SLASweeperConfig{MaxEscalationLevel: 5}, engine, zap.NewNop(),
		WithSweeperClock(func() time.Time { return sweepNow }))

	result, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Breached)
	assert.Equal(t, 0, result.Escalated)
}

func TestSweepOnce_PerInstanceErrors(t *testing.T) {
	engine := newMockSLAEngine()
	engine.add("raced", 5*time.Hour, false, 0)
	engine.add("closed", 5*time.Hour, true, 0)
	engine.add("broken", 5*time.Hour, false, 0)
	engine.add("ok", 5*time.Hour, false, 0)

	engine.breachErr["raced"] = fmt.Errorf("update: %w", port.ErrConcurrencyConflict)
	engine.escalateErr["closed"] = domainwf.ErrAlreadyCompleted
	engine.breachErr["broken"] = errors.New("disk full")

	s := newTestSweeper(engine)
	result, err := s.SweepOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SweepResult{Scanned: 4, Breached: 1, Escalated: 1, Skipped: 2, Failed: 1}, result)
	assert.Equal(t, 1, engine.get("ok").EscalationLevel)
}

func TestSweepOnce_InstanceMovedAfterListing(t *testing.T) {
	engine := newMockSLAEngine()
	engine.add("unflagged", 5*time.Hour, false, 0)
	engine.add("flagged", 5*time.Hour, true, 0)
	engine.afterList = func() {
		engine.move("unflagged", domainwf.StatusCreditAnalysis, 8)
		engine.move("flagged", domainwf.StatusHOReview, 24)
	}

	result, err := newTestSweeper(engine).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 2, Skipped: 2}, result)

	for _, id := range []string{"unflagged", "flagged"} {
		inst := engine.get(id)
		assert.False(t, inst.IsSLABreached, id)
		assert.Equal(t, 0, inst.EscalationLevel, id)
		assert.Empty(t, inst.Logs, id)
	}
	assert.Empty(t, engine.reasons)
}

func TestSweepOnce_BacklogAtCapDoesNotStarveNewBreaches(t *testing.T) {
	engine := newMockSLAEngine()
	for i := 0; i < 10; i++ {
		engine.add(fmt.Sprintf("capped-%02d", i), 40*time.Hour, true, 2)
	}
	engine.add("newest", time.Minute, false, 0)

	result, err := newTestSweeper(engine).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 1, Breached: 1}, result)
	assert.True(t, engine.get("newest").IsSLABreached)
}

func TestSweepOnce_ListError(t *testing.T) {
	engine := newMockSLAEngine()
	engine.listErr = errors.New("database is locked")

	_, err := newTestSweeper(engine).SweepOnce(context.Background())
	assert.Error(t, err)
}

func TestSweepOnce_RespectsBatchSize(t *testing.T) {
	engine := newMockSLAEngine()
	for i := 0; i < 15; i++ {
		engine.add(fmt.Sprintf("inst-%02d", i), time.Hour, false, 0)
	}

	result, err := newTestSweeper(engine).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, result.Scanned)
	assert.False(t, engine.get("inst-14").IsSLABreached)
}

func TestSLASweeper_StartStop(t *testing.T) {
	engine := newMockSLAEngine()
	engine.add("late", 5*time.Hour, false, 0)

	s := newTestSweeper(engine)
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	// first sweep runs immediately
	require.Eventually(t, func() bool {
		return engine.get("late").EscalationLevel == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestWorkerManager(t *testing.T) {
	engine := newMockSLAEngine()
	m := NewWorkerManager(zap.NewNop())
	m.Register(newTestSweeper(engine))
	assert.Equal(t, 1, m.GetWorkerCount())

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Error(t, m.StartAll(context.Background()))

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
	require.NoError(t, m.StopAll())
}
