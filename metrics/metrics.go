package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the membership engine.
// Tracks lifecycle transitions, invoices, claim decisions, notification
// delivery and scheduled job runs. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Transitions        *prometheus.CounterVec
	InvoicesCreated    *prometheus.CounterVec
	ClaimDecisions     *prometheus.CounterVec
	NotificationsSent  *prometheus.CounterVec
	NotificationErrors *prometheus.CounterVec
	JobRuns            *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
}

// New registers all metrics on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_transitions_total",
			Help: "Member status transitions by target status",
		}, []string{"to"}),
		InvoicesCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_invoices_created_total",
			Help: "Invoices posted to accounting by kind (initial, annual)",
		}, []string{"kind"}),
		ClaimDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_claim_decisions_total",
			Help: "Medical assistance claim decisions by outcome",
		}, []string{"outcome"}),
		NotificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_notifications_sent_total",
			Help: "Notifications delivered by template",
		}, []string{"template"}),
		NotificationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_notification_errors_total",
			Help: "Notifications that failed to deliver by template",
		}, []string{"template"}),
		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_job_runs_total",
			Help: "Scheduled job executions by job and status",
		}, []string{"job", "status"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "membership_job_duration_seconds",
			Help:    "Duration of scheduled job executions",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"job"}),
	}
}

func (m *Metrics) IncTransition(to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) IncInvoice(kind string) {
	if m == nil {
		return
	}
	m.InvoicesCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncClaimDecision(outcome string) {
	if m == nil {
		return
	}
	m.ClaimDecisions.WithLabelValues(outcome).Inc()
}

// ObserveNotification records a delivery attempt.
func (m *Metrics) ObserveNotification(template string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.NotificationErrors.WithLabelValues(template).Inc()
		return
	}
	m.NotificationsSent.WithLabelValues(template).Inc()
}

// ObserveJob records a job run. Call with time.Now() at the start of the run.
func (m *Metrics) ObserveJob(job, status string, start time.Time) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job, status).Inc()
	m.JobDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
}
