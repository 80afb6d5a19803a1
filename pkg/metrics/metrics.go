// Package metrics exposes the Prometheus instrumentation surfaced at
// "Observability": queue depth, provider health, quota
// utilization, and per-stage durations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth reports the number of jobs currently PENDING.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "complianceengine_queue_depth",
		Help: "Number of jobs waiting to be claimed by a worker.",
	})

	// ActiveJobs reports the number of jobs currently RUNNING.
	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "complianceengine_active_jobs",
		Help: "Number of jobs currently being processed.",
	})

	// JobsCompletedTotal counts terminal job outcomes by status.
	JobsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "complianceengine_jobs_completed_total",
		Help: "Total jobs reaching a terminal state, labeled by outcome.",
	}, []string{"status"})

	// JobRetriesTotal counts task-level retries scheduled via worker.max_retries.
	JobRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "complianceengine_job_retries_total",
		Help: "Total number of whole-task retries scheduled after a retryable failure.",
	})

	// OrphansReclaimedTotal counts jobs reclaimed by the orphan sweep.
	OrphansReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "complianceengine_orphans_reclaimed_total",
		Help: "Total jobs returned to PENDING after their owning worker stopped heartbeating.",
	})

	// StageDuration records how long each pipeline stage takes
	//.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "complianceengine_stage_duration_seconds",
		Help:    "Duration of one pipeline stage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	// ProviderCallsTotal counts provider calls by outcome (
	// error taxonomy).
	ProviderCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "complianceengine_provider_calls_total",
		Help: "Total provider calls, labeled by provider id and outcome.",
	}, []string{"provider", "outcome"})

	// ProviderCircuitState reports each provider's breaker state as a
	// gauge (0=closed, 1=half-open, 2=open), mirroring gobreaker.State.
	ProviderCircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "complianceengine_provider_circuit_state",
		Help: "Current circuit breaker state per provider (0=closed, 1=half-open, 2=open).",
	}, []string{"provider"})

	// QuotaUtilization reports each provider's usage ratio against its
	// configured limit.
	QuotaUtilization = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "complianceengine_quota_utilization_ratio",
		Help: "Fraction of the configured quota consumed, labeled by provider and period.",
	}, []string{"provider", "period"})

	// StreamSubscribersActive reports the number of live event-stream
	// subscribers.
	StreamSubscribersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "complianceengine_stream_subscribers_active",
		Help: "Number of currently connected event stream subscribers.",
	})
)

// RecordJobCompleted increments JobsCompletedTotal for the given terminal
// status ("completed", "failed", "cancelled").
func RecordJobCompleted(status string) {
	JobsCompletedTotal.WithLabelValues(status).Inc()
}

// RecordJobRetry increments JobRetriesTotal.
func RecordJobRetry() {
	JobRetriesTotal.Inc()
}

// RecordOrphanReclaimed increments OrphansReclaimedTotal by n.
func RecordOrphanReclaimed(n int64) {
	if n <= 0 {
		return
	}
	OrphansReclaimedTotal.Add(float64(n))
}

// RecordStageDuration observes d against the named stage's histogram.
func RecordStageDuration(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordProviderCall increments ProviderCallsTotal for provider/outcome.
func RecordProviderCall(provider, outcome string) {
	ProviderCallsTotal.WithLabelValues(provider, outcome).Inc()
}

// SetProviderCircuitState records a breaker transition as a numeric gauge.
func SetProviderCircuitState(provider string, state int) {
	ProviderCircuitState.WithLabelValues(provider).Set(float64(state))
}

// SetQuotaUtilization records provider's usage ratio for period
// ("daily" or "hourly").
func SetQuotaUtilization(provider, period string, ratio float64) {
	QuotaUtilization.WithLabelValues(provider, period).Set(ratio)
}
