package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the loan workflow engine.
// Record methods are safe on a nil *Metrics so components can run without metrics.
type Metrics struct {
	// Workflow metrics
	InstancesCreated   *prometheus.CounterVec
	Transitions        *prometheus.CounterVec
	TransitionFailures *prometheus.CounterVec
	InstancesCompleted *prometheus.CounterVec
	SLABreaches        *prometheus.CounterVec
	Escalations        *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec

	// Committee metrics
	VotesCast        *prometheus.CounterVec
	Decisions        *prometheus.CounterVec
	ReviewsCompleted prometheus.Counter

	// Integration metrics
	IntegrationEvents   *prometheus.CounterVec
	IntegrationFailures *prometheus.CounterVec

	// System metrics
	EventsPublished     *prometheus.CounterVec
	ConcurrencyConflict prometheus.Counter
	SweepDuration       prometheus.Histogram
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			InstancesCreated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loanflow_instances_created_total",
					Help: "Total number of workflow instances created",
				},
				[]string{"application_type"},
			),
			Transitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loanflow_transitions_total",
					Help: "Total number of successful workflow transitions",
				},
				[]string{"application_type", "from_status", "to_status", "action"},
			),
			TransitionFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loanflow_transition_failures_total",
					Help: "Total number of rejected workflow transitions",
				},
				[]string{"action", "reason"},
			),
			InstancesCompleted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loanflow_instances_completed_total",
					Help: "Total number of workflow instances reaching a terminal stage",
				},
				[]string{"application_type", "final_status"},
			),
			SLABreaches: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loanflow_sla_breaches_total",
					Help: "Total number of stage SLA breaches",
				},
				[]string{"application_type", "status"},
			),
			Escalations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loanflow_escalations_total",
					Help: "Total number of escalations",
				},
				[]string{"application_type", "status"},
			),
			StageDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "loanflow_stage_duration_seconds",
					Help:    "Time an instance spent in a stage before leaving it",
					Buckets: prometheus.ExponentialBuckets(60, 2, 14), // 1min to ~5.7 days
				},
				[]string{"application_type", "status"},
			),

			VotesCast: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loanflow_committee_votes_total",
					Help: "Total number of committee votes cast",
				},
				[]string{"committee_type", "vote"},
			),
			Decisions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loanflow_committee_decisions_total",
					Help: "Total number of committee decisions recorded",
				},
				[]string{"committee_type", "decision"},
			),
			ReviewsCompleted: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "loanflow_committee_voting_completed_total",
					Help: "Total number of reviews whose voting completed",
				},
			),

			IntegrationEvents: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loanflow_integration_events_total",
					Help: "Integration handler outcomes",
				},
				[]string{"handler", "result"}, // result: applied, skipped, failed
			),
			IntegrationFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loanflow_integration_failures_total",
					Help: "Integration failures that need operational attention",
				},
				[]string{"handler"},
			),

			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loanflow_events_published_total",
					Help: "Total number of events published to the message bus",
				},
				[]string{"event_type", "success"},
			),
			ConcurrencyConflict: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "loanflow_concurrency_conflicts_total",
					Help: "Total number of optimistic concurrency conflicts",
				},
			),
			SweepDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "loanflow_sla_sweep_duration_seconds",
					Help:    "Duration of one SLA sweep",
					Buckets: prometheus.DefBuckets,
				},
			),
		}
	})

	return sharedMetrics
}

// RecordTransition records a successful transition and how long the instance sat in the stage it left
func (m *Metrics) RecordTransition(applicationType, fromStatus, toStatus, action string, stageSeconds float64) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(applicationType, fromStatus, toStatus, action).Inc()
	m.StageDuration.WithLabelValues(applicationType, fromStatus).Observe(stageSeconds)
}

// RecordTransitionFailure records a rejected transition
func (m *Metrics) RecordTransitionFailure(action, reason string) {
	if m == nil {
		return
	}
	m.TransitionFailures.WithLabelValues(action, reason).Inc()
}

// RecordInstanceCreated records a new workflow instance
func (m *Metrics) RecordInstanceCreated(applicationType string) {
	if m == nil {
		return
	}
	m.InstancesCreated.WithLabelValues(applicationType).Inc()
}

// RecordCompletion records an instance reaching a terminal stage
func (m *Metrics) RecordCompletion(applicationType, finalStatus string) {
	if m == nil {
		return
	}
	m.InstancesCompleted.WithLabelValues(applicationType, finalStatus).Inc()
}

// RecordSLABreach records a fresh SLA breach
func (m *Metrics) RecordSLABreach(applicationType, status string) {
	if m == nil {
		return
	}
	m.SLABreaches.WithLabelValues(applicationType, status).Inc()
}

// RecordEscalation records an escalation
func (m *Metrics) RecordEscalation(applicationType, status string) {
	if m == nil {
		return
	}
	m.Escalations.WithLabelValues(applicationType, status).Inc()
}

// RecordVote records a committee ballot
func (m *Metrics) RecordVote(committeeType, vote string, votingCompleted bool) {
	if m == nil {
		return
	}
	m.VotesCast.WithLabelValues(committeeType, vote).Inc()
	if votingCompleted {
		m.ReviewsCompleted.Inc()
	}
}

// RecordDecision records a committee decision
func (m *Metrics) RecordDecision(committeeType, decision string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(committeeType, decision).Inc()
}

// RecordIntegration records an integration handler outcome
func (m *Metrics) RecordIntegration(handler, result string) {
	if m == nil {
		return
	}
	m.IntegrationEvents.WithLabelValues(handler, result).Inc()
	if result == "failed" {
		m.IntegrationFailures.WithLabelValues(handler).Inc()
	}
}

// RecordEventPublished records a message bus publish attempt
func (m *Metrics) RecordEventPublished(eventType string, success bool) {
	if m == nil {
		return
	}
	successStr := "false"
	if success {
		successStr = "true"
	}
	m.EventsPublished.WithLabelValues(eventType, successStr).Inc()
}

// RecordConcurrencyConflict records a lost optimistic concurrency race
func (m *Metrics) RecordConcurrencyConflict() {
	if m == nil {
		return
	}
	m.ConcurrencyConflict.Inc()
}

// ObserveSweep records the duration of one SLA sweep
func (m *Metrics) ObserveSweep(seconds float64) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(seconds)
}
