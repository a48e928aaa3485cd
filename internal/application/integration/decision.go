package integration

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/application/dispatcher"
	"github.com/garyjia/loan-workflow/internal/application/port"
	appwf "github.com/garyjia/loan-workflow/internal/application/workflow"
	"github.com/garyjia/loan-workflow/internal/domain/committee"
	"github.com/garyjia/loan-workflow/internal/domain/event"
	domainwf "github.com/garyjia/loan-workflow/internal/domain/workflow"
)

const decisionHandlerName = "committee-decision"

type decisionTarget struct {
	status domainwf.Status
	action domainwf.Action
}

// decisionTargets maps each committee decision to exactly one workflow edge
var decisionTargets = map[committee.Decision]decisionTarget{
	committee.DecisionApproved: {status: domainwf.StatusCommitteeApproved, action: domainwf.ActionApprove},
	committee.DecisionRejected: {status: domainwf.StatusCommitteeRejected, action: domainwf.ActionReject},
	committee.DecisionDeferred: {status: domainwf.StatusHOReview, action: domainwf.ActionReturn},
}

// DecisionHandler turns CommitteeDecisionRecorded into a workflow transition
type DecisionHandler struct {
	handlerBase
	loans port.LoanApplicationUpdater
}

// NewDecisionHandler creates the committee decision handler
func NewDecisionHandler(engine WorkflowEngine, loans port.LoanApplicationUpdater, cfg Config, opts ...Option) *DecisionHandler {
	return &DecisionHandler{
		handlerBase: newHandlerBase(engine, cfg, opts),
		loans:       loans,
	}
}

// Register subscribes the handler to decision events
func (h *DecisionHandler) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeCommitteeDecisionRecorded, decisionHandlerName, h.Handle)
}

// Handle applies one decision. Approved terms are written to the loan
// application before the transition. A redelivered event whose transition
// already happened is skipped.
func (h *DecisionHandler) Handle(ctx context.Context, evt *event.Event) error {
	decision := committee.Decision(evt.GetPayloadString(event.KeyDecision))
	target, ok := decisionTargets[decision]
	if !ok {
		return h.fail(evt, decision, fmt.Errorf("unknown decision %q", decision))
	}

	var terms *committee.ApprovedTerms
	if decision == committee.DecisionApproved {
		var err error
		if terms, err = termsFromEvent(evt); err != nil {
			return h.fail(evt, decision, err)
		}
	}

	termsApplied := false
	var (
		lastErr error
		seen    domainwf.Status
	)
	for attempt := 1; attempt <= h.cfg.MaxAttempts; attempt++ {
		inst, err := h.engine.GetByLoanApplication(ctx, evt.LoanApplicationID)
		if err != nil {
			return h.fail(evt, decision, err)
		}

		if inst.CurrentStatus == target.status {
			h.logger.Info("Committee decision already applied, skipping",
				zap.String("event_id", evt.ID),
				zap.String("loan_application_id", evt.LoanApplicationID),
				zap.String("decision", string(decision)),
				zap.String("status", inst.CurrentStatus.String()))
			h.metrics.RecordIntegration(decisionHandlerName, "skipped")
			return nil
		}

		if sameMiss(lastErr, seen, inst.CurrentStatus) {
			break
		}
		seen = inst.CurrentStatus

		if terms != nil && !termsApplied {
			if err := h.loans.UpdateApprovedTerms(ctx, evt.LoanApplicationID, *terms); err != nil {
				return h.fail(evt, decision, fmt.Errorf("update approved terms: %w", err))
			}
			termsApplied = true
		}

		_, err = h.engine.Transition(ctx, appwf.TransitionRequest{
			InstanceID:  inst.ID,
			ToStatus:    target.status,
			Action:      target.action,
			ActorUserID: h.cfg.SystemActor,
			ActorRole:   h.cfg.SystemRole,
			Comment:     decisionComment(decision, evt.GetPayloadString(event.KeyRationale)),
		})
		if err == nil {
			h.logger.Info("Committee decision applied",
				zap.String("event_id", evt.ID),
				zap.String("loan_application_id", evt.LoanApplicationID),
				zap.String("decision", string(decision)),
				zap.String("from_status", inst.CurrentStatus.String()),
				zap.String("to_status", target.status.String()))
			h.metrics.RecordIntegration(decisionHandlerName, "applied")
			return nil
		}

		lastErr = err
		if !worthRetrying(err) {
			break
		}
	}

	return h.fail(evt, decision, lastErr)
}

func (h *DecisionHandler) fail(evt *event.Event, decision committee.Decision, err error) error {
	h.logger.Error("Committee decision could not be applied to workflow",
		zap.String("event_id", evt.ID),
		zap.String("review_id", evt.GetPayloadString(event.KeyReviewID)),
		zap.String("loan_application_id", evt.LoanApplicationID),
		zap.String("decision", string(decision)),
		zap.Error(err))
	h.metrics.RecordIntegration(decisionHandlerName, "failed")
	return fmt.Errorf("%w: decision %q for loan application %s: %w",
		ErrIntegrationFailed, decision, evt.LoanApplicationID, err)
}

// termsFromEvent reads approved terms; all three figures must be present and positive
func termsFromEvent(evt *event.Event) (*committee.ApprovedTerms, error) {
	for _, key := range []string{event.KeyApprovedAmount, event.KeyApprovedTenor, event.KeyApprovedRate} {
		if !evt.HasPayload(key) {
			return nil, fmt.Errorf("approved decision without %s", key)
		}
	}

	terms := &committee.ApprovedTerms{
		Amount:       evt.GetPayloadFloat(event.KeyApprovedAmount),
		TenorMonths:  int(evt.GetPayloadInt(event.KeyApprovedTenor)),
		InterestRate: evt.GetPayloadFloat(event.KeyApprovedRate),
		Conditions:   evt.GetPayloadString(event.KeyConditions),
	}
	if terms.Amount <= 0 || terms.TenorMonths <= 0 || terms.InterestRate <= 0 {
		return nil, fmt.Errorf("approved terms must be positive: amount=%v tenor=%d rate=%v",
			terms.Amount, terms.TenorMonths, terms.InterestRate)
	}
	return terms, nil
}

func decisionComment(decision committee.Decision, rationale string) string {
	if rationale == "" {
		return "Committee decision: " + string(decision)
	}
	return "Committee decision: " + string(decision) + ". " + rationale
}
