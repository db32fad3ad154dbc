package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_deliveries_total",
			Help: "Delivery ledger transitions by resulting status",
		},
		[]string{"status"}, // pending|sent|failed
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_jobs_total",
			Help: "Processed queue jobs by queue and outcome",
		},
		[]string{"queue", "outcome"}, // completed|retried|dead
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsletter_job_duration_seconds",
			Help:    "Handler latency per queue",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	ProviderBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "newsletter_provider_breaker_state",
			Help: "Circuit breaker state per email provider (0 closed, 1 half-open, 2 open)",
		},
		[]string{"provider"},
	)

	PostsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_posts_total",
			Help: "Created posts by publish mode",
		},
		[]string{"mode"}, // immediate|scheduled
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		DeliveriesTotal,
		JobsTotal,
		JobDuration,
		ProviderBreakerState,
		PostsTotal,
	)
}
