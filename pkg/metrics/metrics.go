// Package metrics exposes the orchestrator's Prometheus collectors:
// package-level metrics registered against the default registry, and
// a small HTTP server (pkg/metrics/server.go) to expose them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeploymentsStartedTotal counts every call to Orchestrator.Deploy
	// that was accepted, regardless of eventual outcome.
	DeploymentsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deployments_started_total",
		Help: "Total number of deployments accepted by the orchestrator.",
	})

	// DeploymentsTotal counts deployments by terminal status.
	DeploymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deployments_total",
		Help: "Total number of deployments reaching a terminal status, by status.",
	}, []string{"status"})

	// PhaseDurationSeconds observes how long each named phase of a
	// strategy takes to run, independent of deployment outcome.
	PhaseDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "phase_duration_seconds",
		Help:    "Duration of a single deployment phase, in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy", "phase"})

	// CircuitBreakerStateGauge reports the current breaker state per
	// deployment: 0=Closed, 1=Half-Open, 2=Open.
	CircuitBreakerStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Current circuit breaker state per deployment (0=closed, 1=half-open, 2=open).",
	}, []string{"deployment"})

	// ProbeResultsTotal counts probe executions by plugin, probe name,
	// and outcome.
	ProbeResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "probe_results_total",
		Help: "Total number of probe executions, by plugin, probe, and status.",
	}, []string{"plugin", "probe", "status"})

	// DowntimeEventsTotal counts detected downtime windows by plugin
	// and impact classification.
	DowntimeEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "downtime_events_total",
		Help: "Total number of detected downtime events, by plugin and impact.",
	}, []string{"plugin", "impact"})

	// ResourceRecommendationsTotal counts recommendations emitted by
	// the Resource Advisor, by recommendation kind.
	ResourceRecommendationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resource_recommendations_total",
		Help: "Total number of resource recommendations emitted, by kind.",
	}, []string{"kind"})

	// AuditEventsDroppedTotal counts audit events dropped because the
	// buffered sink's queue was full.
	AuditEventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_events_dropped_total",
		Help: "Total number of audit events dropped due to a full buffer.",
	})
)

// RecordDeploymentStarted increments DeploymentsStartedTotal.
func RecordDeploymentStarted() {
	DeploymentsStartedTotal.Inc()
}

// RecordDeploymentTerminal increments DeploymentsTotal for status.
func RecordDeploymentTerminal(status string) {
	DeploymentsTotal.WithLabelValues(status).Inc()
}

// RecordPhaseDuration observes the duration of one phase run.
func RecordPhaseDuration(strategy, phase string, d time.Duration) {
	PhaseDurationSeconds.WithLabelValues(strategy, phase).Observe(d.Seconds())
}

// SetCircuitBreakerState sets the breaker state gauge for deployment.
// state must be 0 (closed), 1 (half-open), or 2 (open).
func SetCircuitBreakerState(deployment string, state float64) {
	CircuitBreakerStateGauge.WithLabelValues(deployment).Set(state)
}

// RecordProbeResult increments ProbeResultsTotal.
func RecordProbeResult(plugin, probe, status string) {
	ProbeResultsTotal.WithLabelValues(plugin, probe, status).Inc()
}

// RecordDowntimeEvent increments DowntimeEventsTotal.
func RecordDowntimeEvent(plugin, impact string) {
	DowntimeEventsTotal.WithLabelValues(plugin, impact).Inc()
}

// RecordResourceRecommendation increments ResourceRecommendationsTotal.
func RecordResourceRecommendation(kind string) {
	ResourceRecommendationsTotal.WithLabelValues(kind).Inc()
}

// RecordAuditEventDropped increments AuditEventsDroppedTotal.
func RecordAuditEventDropped() {
	AuditEventsDroppedTotal.Inc()
}

// Timer measures elapsed wall time for a single phase run, mirroring
// the teacher's metrics.Timer convenience type.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the Timer was created.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// RecordPhase records the Timer's elapsed duration against
// PhaseDurationSeconds for strategy/phase.
func (t *Timer) RecordPhase(strategy, phase string) {
	RecordPhaseDuration(strategy, phase, t.Elapsed())
}
