package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the newsletter engine
type Metrics struct {
	// Recipient resolution
	InvalidAddressesTotal prometheus.Counter

	// Campaign delivery
	CampaignsDispatchedTotal prometheus.Counter
	RecipientsSentTotal      prometheus.Counter
	RecipientsFailedTotal    prometheus.Counter

	// A/B testing
	ABEvaluationsTotal *prometheus.CounterVec

	// Workflows
	WorkflowRunsStartedTotal prometheus.Counter
	WorkflowStepsTotal       *prometheus.CounterVec

	// Scheduler
	SchedulerTicksTotal prometheus.Counter
	ClaimConflictsTotal *prometheus.CounterVec

	// Event ingestion
	EventsIngestedTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		InvalidAddressesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "newsletter_invalid_addresses_total",
				Help: "Total number of manually entered addresses dropped during recipient resolution",
			},
		),
		CampaignsDispatchedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "newsletter_campaigns_dispatched_total",
				Help: "Total number of campaign dispatches started",
			},
		),
		RecipientsSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "newsletter_recipients_sent_total",
				Help: "Total number of per-recipient deliveries that succeeded",
			},
		),
		RecipientsFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "newsletter_recipients_failed_total",
				Help: "Total number of per-recipient deliveries that failed",
			},
		),
		ABEvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletter_ab_evaluations_total",
				Help: "Total number of A/B winner evaluations",
			},
			[]string{"winner"},
		),
		WorkflowRunsStartedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "newsletter_workflow_runs_started_total",
				Help: "Total number of workflow runs triggered",
			},
		),
		WorkflowStepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletter_workflow_steps_total",
				Help: "Total number of workflow steps executed",
			},
			[]string{"action", "outcome"},
		),
		SchedulerTicksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "newsletter_scheduler_ticks_total",
				Help: "Total number of scheduler ticks",
			},
		),
		ClaimConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletter_claim_conflicts_total",
				Help: "Total number of due items lost to a concurrent claim and skipped",
			},
			[]string{"kind"},
		),
		EventsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletter_events_ingested_total",
				Help: "Total number of engagement events ingested",
			},
			[]string{"kind"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.InvalidAddressesTotal,
		m.CampaignsDispatchedTotal,
		m.RecipientsSentTotal,
		m.RecipientsFailedTotal,
		m.ABEvaluationsTotal,
		m.WorkflowRunsStartedTotal,
		m.WorkflowStepsTotal,
		m.SchedulerTicksTotal,
		m.ClaimConflictsTotal,
		m.EventsIngestedTotal,
	)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
