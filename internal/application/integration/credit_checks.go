package integration

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/application/dispatcher"
	appwf "github.com/garyjia/loan-workflow/internal/application/workflow"
	"github.com/garyjia/loan-workflow/internal/domain/event"
	domainwf "github.com/garyjia/loan-workflow/internal/domain/workflow"
)

const creditChecksHandlerName = "credit-checks"

// CreditChecksHandler advances CreditAnalysis to HOReview once every credit
// check on the loan application is complete
type CreditChecksHandler struct {
	handlerBase
}

// NewCreditChecksHandler creates the credit checks handler
func NewCreditChecksHandler(engine WorkflowEngine, cfg Config, opts ...Option) *CreditChecksHandler {
	return &CreditChecksHandler{handlerBase: newHandlerBase(engine, cfg, opts)}
}

// Register subscribes the handler to credit check completion events
func (h *CreditChecksHandler) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeCreditChecksCompleted, creditChecksHandlerName, h.Handle)
}

// Handle fires CreditAnalysis -[MoveToNextStage]-> HOReview. An instance that
// is not at CreditAnalysis has been moved by someone else; that is a skip.
func (h *CreditChecksHandler) Handle(ctx context.Context, evt *event.Event) error {
	var (
		lastErr error
		seen    domainwf.Status
	)
	for attempt := 1; attempt <= h.cfg.MaxAttempts; attempt++ {
		inst, err := h.engine.GetByLoanApplication(ctx, evt.LoanApplicationID)
		if errors.Is(err, domainwf.ErrInstanceNotFound) {
			h.skip(evt, "no workflow instance")
			return nil
		}
		if err != nil {
			return h.fail(evt, err)
		}

		if inst.CurrentStatus != domainwf.StatusCreditAnalysis {
			h.skip(evt, "instance at "+inst.CurrentStatus.String())
			return nil
		}

		if sameMiss(lastErr, seen, inst.CurrentStatus) {
			break
		}
		seen = inst.CurrentStatus

		_, err = h.engine.Transition(ctx, appwf.TransitionRequest{
			InstanceID:  inst.ID,
			ToStatus:    domainwf.StatusHOReview,
			Action:      domainwf.ActionMoveToNextStage,
			ActorUserID: h.cfg.SystemActor,
			ActorRole:   h.cfg.SystemRole,
			Comment:     "All credit checks completed",
		})
		if err == nil {
			h.logger.Info("Credit checks completed, moved to HO review",
				zap.String("event_id", evt.ID),
				zap.String("loan_application_id", evt.LoanApplicationID),
				zap.String("instance_id", inst.ID))
			h.metrics.RecordIntegration(creditChecksHandlerName, "applied")
			return nil
		}

		lastErr = err
		if !worthRetrying(err) {
			break
		}
	}

	return h.fail(evt, lastErr)
}

func (h *CreditChecksHandler) skip(evt *event.Event, reason string) {
	h.logger.Info("Credit checks event skipped",
		zap.String("event_id", evt.ID),
		zap.String("loan_application_id", evt.LoanApplicationID),
		zap.String("reason", reason))
	h.metrics.RecordIntegration(creditChecksHandlerName, "skipped")
}

func (h *CreditChecksHandler) fail(evt *event.Event, err error) error {
	h.logger.Error("Credit checks event could not be applied to workflow",
		zap.String("event_id", evt.ID),
		zap.String("loan_application_id", evt.LoanApplicationID),
		zap.Error(err))
	h.metrics.RecordIntegration(creditChecksHandlerName, "failed")
	return fmt.Errorf("%w: credit checks for loan application %s: %w",
		ErrIntegrationFailed, evt.LoanApplicationID, err)
}
