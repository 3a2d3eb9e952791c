// Package metrics holds the Prometheus collectors for email dispatch and research runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeSuccess     = "success"
	OutcomeConfigError = "config_error"
	OutcomeTransport   = "transport_error"
	OutcomeFailed      = "failed"
)

var (
	// EmailSendTotal counts dispatch attempts by transport and outcome.
	EmailSendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_mailer_email_send_total",
			Help: "Total number of email dispatch attempts",
		},
		[]string{"transport", "outcome"},
	)

	// EmailSendDuration observes the time spent in the transport.
	EmailSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_mailer_email_send_duration_seconds",
			Help:    "Email transport call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"transport"},
	)

	// ResearchRunsTotal counts research runs relayed to the UI.
	ResearchRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_mailer_research_runs_total",
			Help: "Total number of research runs",
		},
		[]string{"outcome"},
	)
)

// RecordEmailSend records one dispatch attempt. A zero duration means the
// transport was never called and no latency is observed.
func RecordEmailSend(transport, outcome string, duration time.Duration) {
	EmailSendTotal.WithLabelValues(transport, outcome).Inc()
	if duration > 0 {
		EmailSendDuration.WithLabelValues(transport).Observe(duration.Seconds())
	}
}

// RecordResearchRun records the outcome of one research run.
func RecordResearchRun(outcome string) {
	ResearchRunsTotal.WithLabelValues(outcome).Inc()
}
