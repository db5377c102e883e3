// Package health implements the Health Monitor (§4.3): per-plugin
// probe aggregation, downtime accounting, and SLA reporting. The
// Health Monitor holds no reference to any Deployment, only per-plugin
// state keyed by PluginIdentity, read by other components only through
// the read-only snapshots this package returns.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	internalerrors "github.com/pluginforge/orchestrator/internal/errors"
	"github.com/pluginforge/orchestrator/pkg/domain"
	"github.com/pluginforge/orchestrator/pkg/probe"
	sharedmath "github.com/pluginforge/orchestrator/pkg/shared/math"
)

var tracer trace.Tracer = otel.Tracer("github.com/pluginforge/orchestrator/pkg/health")

// ProbeConfig pairs a probe descriptor with its own run period.
type ProbeConfig struct {
	Descriptor probe.Descriptor
	Period     time.Duration
}

// SLATarget is the set of targets an SLAReport is measured against.
// HardFactor defines how far past target counts as critical rather
// than warning.
type SLATarget struct {
	Availability    float64
	ResponseTimeP95 time.Duration
	ErrorRate       float64
	HardFactor      float64
}

// Config is the per-plugin monitoring configuration passed to Start.
type Config struct {
	Probes    []ProbeConfig
	SLATarget SLATarget
}

// Period enumerates the windows SLAReport can be computed over.
type Period string

const (
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

func (p Period) duration() time.Duration {
	switch p {
	case PeriodHour:
		return time.Hour
	case PeriodDay:
		return 24 * time.Hour
	case PeriodWeek:
		return 7 * 24 * time.Hour
	case PeriodMonth:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// SLASeverity classifies how far a measured value crossed its target.
type SLASeverity string

const (
	SLAWarning  SLASeverity = "warning"
	SLACritical SLASeverity = "critical"
)

// SLAViolation records one metric crossing its configured target.
type SLAViolation struct {
	Metric   string
	Target   float64
	Observed float64
	Severity SLASeverity
}

// SLAMetrics is the SLAReport result.
type SLAMetrics struct {
	Period          Period
	Availability    float64
	ResponseTimeP95 time.Duration
	ErrorRate       float64
	Violations      []SLAViolation
}

const defaultRetention = 24 * time.Hour

// Filter bounds a Logs/Traces/Metrics query to a time range. A zero
// Since or Until leaves that bound open.
type Filter struct {
	Since time.Time
	Until time.Time
}

func (f Filter) includes(t time.Time) bool {
	if !f.Since.IsZero() && t.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && t.After(f.Until) {
		return false
	}
	return true
}

// LogEntry is one probe observation recorded for later retrieval
// through Logs.
type LogEntry struct {
	ObservedAt time.Time
	Level      string
	Message    string
}

// TraceRecord is one probe execution's span summary, recorded
// alongside the OTel span emitted for the same run.
type TraceRecord struct {
	Name      string
	StartedAt time.Time
	Duration  time.Duration
	Status    domain.ProbeStatus
}

type pluginState struct {
	mu         sync.RWMutex
	config     Config
	cancel     context.CancelFunc
	probeCount int

	lastProbes map[string]domain.ProbeResult
	overall    domain.HealthOverall

	downtimeEvents []domain.DowntimeEvent

	samples []domain.MetricSnapshot
	logs    []LogEntry
	traces  []TraceRecord
}

// Monitor is the Health Monitor. One instance serves every plugin.
type Monitor struct {
	executor *probe.Executor
	log      *logrus.Entry

	mu     sync.RWMutex
	states map[domain.PluginIdentity]*pluginState
}

// New builds a Monitor.
func New(executor *probe.Executor, log *logrus.Entry) *Monitor {
	return &Monitor{
		executor: executor,
		log:      log,
		states:   make(map[domain.PluginIdentity]*pluginState),
	}
}

// Start begins periodic probing and metric sampling for plugin. It is
// idempotent only in the sense of rejecting a second Start without an
// intervening Stop — re-starting after Stop begins fresh state.
func (m *Monitor) Start(plugin domain.PluginIdentity, config Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.states[plugin]; exists {
		return internalerrors.New(internalerrors.ErrorTypeConflict, "plugin is already monitored").
			WithDetails("plugin: " + plugin.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	state := &pluginState{
		config:     config,
		cancel:     cancel,
		probeCount: len(config.Probes),
		lastProbes: make(map[string]domain.ProbeResult),
		overall:    domain.HealthUnknown,
	}
	m.states[plugin] = state

	for _, pc := range config.Probes {
		go m.runProbeLoop(ctx, plugin, state, pc)
	}
	return nil
}

// Stop cancels every task for plugin and drops its state. Idempotent.
func (m *Monitor) Stop(plugin domain.PluginIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.states[plugin]
	if !exists {
		return
	}
	state.cancel()
	delete(m.states, plugin)
}

func (m *Monitor) runProbeLoop(ctx context.Context, plugin domain.PluginIdentity, state *pluginState, pc ProbeConfig) {
	period := pc.Period
	if period <= 0 {
		period = 30 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, span := tracer.Start(ctx, "health.probe."+pc.Descriptor.Name)
			result := m.executor.Run(probeCtx, pc.Descriptor)
			span.End()
			m.recordProbeResult(plugin, state, pc.Descriptor.Name, result)
		}
	}
}

func (m *Monitor) recordProbeResult(plugin domain.PluginIdentity, state *pluginState, probeName string, result domain.ProbeResult) {
	state.mu.Lock()
	state.lastProbes[probeName] = result
	previous := state.overall
	overall := recomputeOverall(state.lastProbes, state.probeCount)
	state.overall = overall

	state.logs = appendTrimmed(state.logs, LogEntry{
		ObservedAt: result.ObservedAt,
		Level:      logLevelFor(result.Status),
		Message:    probeName + ": " + result.Message,
	}, func(e LogEntry) time.Time { return e.ObservedAt })
	state.traces = appendTrimmed(state.traces, TraceRecord{
		Name:      probeName,
		StartedAt: result.ObservedAt,
		Duration:  result.ResponseTime,
		Status:    result.Status,
	}, func(t TraceRecord) time.Time { return t.StartedAt })

	var opened, closed *domain.DowntimeEvent
	if previous != domain.HealthUnhealthy && overall == domain.HealthUnhealthy {
		state.downtimeEvents = append(state.downtimeEvents, domain.DowntimeEvent{
			StartedAt: result.ObservedAt,
			Reason:    "probe " + probeName + ": " + result.Message,
		})
		opened = &state.downtimeEvents[len(state.downtimeEvents)-1]
	} else if previous == domain.HealthUnhealthy && overall == domain.HealthHealthy {
		for i := len(state.downtimeEvents) - 1; i >= 0; i-- {
			if !state.downtimeEvents[i].Resolved {
				state.downtimeEvents[i].EndedAt = result.ObservedAt
				state.downtimeEvents[i].Resolved = true
				state.downtimeEvents[i].Impact = impactOf(state.lastProbes)
				closed = &state.downtimeEvents[i]
				break
			}
		}
	}
	state.mu.Unlock()

	if m.log != nil && (opened != nil || closed != nil) {
		entry := m.log.WithField("plugin", plugin.String())
		if opened != nil {
			entry.Warn("plugin entered unhealthy state, downtime event opened")
		}
		if closed != nil {
			entry.Info("plugin recovered, downtime event closed")
		}
	}
}

// recomputeOverall implements §4.3's algorithm: any fail is
// unhealthy, else any warn is degraded, else healthy once every probe
// has reported, else unknown.
func recomputeOverall(results map[string]domain.ProbeResult, expected int) domain.HealthOverall {
	if len(results) == 0 {
		return domain.HealthUnknown
	}
	anyFail, anyWarn := false, false
	for _, r := range results {
		switch r.Status {
		case domain.ProbeFail:
			anyFail = true
		case domain.ProbeWarn:
			anyWarn = true
		}
	}
	switch {
	case anyFail:
		return domain.HealthUnhealthy
	case anyWarn:
		return domain.HealthDegraded
	case len(results) < expected:
		return domain.HealthUnknown
	default:
		return domain.HealthHealthy
	}
}

func logLevelFor(status domain.ProbeStatus) string {
	switch status {
	case domain.ProbeFail:
		return "error"
	case domain.ProbeWarn:
		return "warn"
	default:
		return "info"
	}
}

// appendTrimmed appends item to history and drops everything older
// than defaultRetention, mirroring RecordPluginSample's trimming of
// state.samples.
func appendTrimmed[T any](history []T, item T, at func(T) time.Time) []T {
	history = append(history, item)
	cutoff := time.Now().Add(-defaultRetention)
	trimmed := history[:0]
	for _, h := range history {
		if at(h).After(cutoff) {
			trimmed = append(trimmed, h)
		}
	}
	return trimmed
}

func impactOf(results map[string]domain.ProbeResult) domain.DowntimeImpact {
	failing, total := 0, 0
	for _, r := range results {
		total++
		if r.Status == domain.ProbeFail {
			failing++
		}
	}
	if total > 0 && failing == total {
		return domain.ImpactTotal
	}
	return domain.ImpactPartial
}

// Status returns the latest per-plugin snapshot.
func (m *Monitor) Status(plugin domain.PluginIdentity) domain.HealthStatus {
	m.mu.RLock()
	state, exists := m.states[plugin]
	m.mu.RUnlock()
	if !exists {
		return domain.HealthStatus{Plugin: plugin, Overall: domain.HealthUnknown}
	}

	state.mu.RLock()
	defer state.mu.RUnlock()

	probes := make(map[string]domain.ProbeResult, len(state.lastProbes))
	for k, v := range state.lastProbes {
		probes[k] = v
	}
	events := make([]domain.DowntimeEvent, len(state.downtimeEvents))
	copy(events, state.downtimeEvents)

	return domain.HealthStatus{
		Plugin:         plugin,
		Overall:        state.overall,
		LastProbes:     probes,
		DowntimeEvents: events,
	}
}

// IsHealthy implements phase.HealthChecker: a plugin with no monitor
// state yet (never started, or Stop'd) is treated as healthy so the
// Phase Runner's observe step doesn't block on monitoring setup order.
func (m *Monitor) IsHealthy(plugin domain.PluginIdentity) bool {
	status := m.Status(plugin)
	return status.Overall != domain.HealthUnhealthy
}

// RecordPluginSample implements sampler.PluginSink, feeding the
// Metric Sampler's per-tick observation into the plugin's rolling
// history for SLA computation.
func (m *Monitor) RecordPluginSample(plugin domain.PluginIdentity, snapshot domain.MetricSnapshot) {
	m.mu.RLock()
	state, exists := m.states[plugin]
	m.mu.RUnlock()
	if !exists {
		return
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	history := append(state.samples, snapshot)
	cutoff := time.Now().Add(-defaultRetention)
	trimmed := history[:0]
	for _, s := range history {
		if s.ObservedAt.After(cutoff) {
			trimmed = append(trimmed, s)
		}
	}
	state.samples = trimmed
}

// Logs returns plugin's recorded probe observations matching filter,
// oldest first. Unknown plugins yield an empty slice.
func (m *Monitor) Logs(plugin domain.PluginIdentity, filter Filter) []LogEntry {
	m.mu.RLock()
	state, exists := m.states[plugin]
	m.mu.RUnlock()
	if !exists {
		return nil
	}

	state.mu.RLock()
	defer state.mu.RUnlock()

	var out []LogEntry
	for _, e := range state.logs {
		if filter.includes(e.ObservedAt) {
			out = append(out, e)
		}
	}
	return out
}

// Traces returns plugin's recorded probe spans matching filter,
// oldest first. Unknown plugins yield an empty slice.
func (m *Monitor) Traces(plugin domain.PluginIdentity, filter Filter) []TraceRecord {
	m.mu.RLock()
	state, exists := m.states[plugin]
	m.mu.RUnlock()
	if !exists {
		return nil
	}

	state.mu.RLock()
	defer state.mu.RUnlock()

	var out []TraceRecord
	for _, t := range state.traces {
		if filter.includes(t.StartedAt) {
			out = append(out, t)
		}
	}
	return out
}

// Metrics returns plugin's sampled metric history matching filter,
// oldest first. Unknown plugins yield an empty slice.
func (m *Monitor) Metrics(plugin domain.PluginIdentity, filter Filter) []domain.MetricSnapshot {
	m.mu.RLock()
	state, exists := m.states[plugin]
	m.mu.RUnlock()
	if !exists {
		return nil
	}

	state.mu.RLock()
	defer state.mu.RUnlock()

	var out []domain.MetricSnapshot
	for _, s := range state.samples {
		if filter.includes(s.ObservedAt) {
			out = append(out, s)
		}
	}
	return out
}

// SLAReport computes SLAMetrics for plugin over period.
func (m *Monitor) SLAReport(plugin domain.PluginIdentity, period Period) SLAMetrics {
	m.mu.RLock()
	state, exists := m.states[plugin]
	m.mu.RUnlock()
	if !exists {
		return SLAMetrics{Period: period}
	}

	state.mu.RLock()
	windowStart := time.Now().Add(-period.duration())
	var errorRates []float64
	var latencies []float64
	for _, s := range state.samples {
		if s.ObservedAt.Before(windowStart) {
			continue
		}
		errorRates = append(errorRates, s.ErrorRate)
		latencies = append(latencies, float64(s.LatencyP95))
	}
	var downtime time.Duration
	for _, e := range state.downtimeEvents {
		if e.StartedAt.Before(windowStart) {
			continue
		}
		downtime += e.Duration()
	}
	target := state.config.SLATarget
	state.mu.RUnlock()

	windowDuration := period.duration()
	availability := 1.0
	if windowDuration > 0 {
		availability = 1.0 - float64(downtime)/float64(windowDuration)
	}
	errorRate := sharedmath.Mean(errorRates)
	p95 := time.Duration(sharedmath.Percentile(latencies, 95))

	report := SLAMetrics{
		Period:          period,
		Availability:    availability,
		ResponseTimeP95: p95,
		ErrorRate:       errorRate,
	}

	if target.Availability > 0 && availability < target.Availability {
		report.Violations = append(report.Violations, violation("availability", target.Availability, availability, target.HardFactor, true))
	}
	if target.ResponseTimeP95 > 0 && p95 > target.ResponseTimeP95 {
		report.Violations = append(report.Violations, violation("response_time_p95", float64(target.ResponseTimeP95), float64(p95), target.HardFactor, false))
	}
	if target.ErrorRate > 0 && errorRate > target.ErrorRate {
		report.Violations = append(report.Violations, violation("error_rate", target.ErrorRate, errorRate, target.HardFactor, false))
	}
	return report
}

// violation classifies severity by how far observed crossed target.
// lowerIsBad means crossing by going below target (availability);
// otherwise crossing means going above it.
func violation(metric string, target, observed, hardFactor float64, lowerIsBad bool) SLAViolation {
	if hardFactor <= 0 {
		hardFactor = 1.5
	}
	severity := SLAWarning
	if lowerIsBad {
		if target > 0 && observed < target/hardFactor {
			severity = SLACritical
		}
	} else if observed > target*hardFactor {
		severity = SLACritical
	}
	return SLAViolation{Metric: metric, Target: target, Observed: observed, Severity: severity}
}
