// Package resourceadvisor implements the Resource Advisor (§4.8): a
// coarse-cadence background tick that inspects each registered
// plugin's rolling CPU/memory usage history and emits rightsizing or
// autoscaler recommendations drawn from a closed set, handing each to
// a collaborators.ResourceWriter to apply.
package resourceadvisor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pluginforge/orchestrator/pkg/collaborators"
	"github.com/pluginforge/orchestrator/pkg/domain"
	sharedmath "github.com/pluginforge/orchestrator/pkg/shared/math"
)

// UsageSample is one observed CPU/memory usage-versus-request reading
// for a plugin's managed workload.
type UsageSample struct {
	ObservedAt         time.Time
	CPUUsageCores      float64
	CPURequestCores    float64
	MemoryUsageBytes   float64
	MemoryRequestBytes float64
	Replicas           int
}

// UsageSource is the sole input to the Resource Advisor: a rolling
// window of usage samples for one plugin's managed workload.
type UsageSource interface {
	Usage(ctx context.Context, plugin domain.PluginIdentity) ([]UsageSample, error)
}

// Thresholds parametrizes the recommendation rules of spec.md §4.8.
// Defaults match the table literally; internal/config.ResourceAdvisorConfig
// overrides the CPU/memory "high" cutoffs at startup.
type Thresholds struct {
	CPULowUtilization       float64
	CPULowWindowFraction    float64
	CPUHighUtilization      float64
	CPUHighWindowFraction   float64
	MemoryLowUtilization    float64
	MemoryLowWindowFraction float64
	MemoryHighUtilization   float64
	// CPUVolatilityCoefficient is the coefficient-of-variation
	// (stddev/mean) above which a single-replica plugin's CPU usage is
	// considered volatile enough to warrant autoscaling.
	CPUVolatilityCoefficient float64
}

// DefaultThresholds returns the literal cutoffs from spec.md §4.8's
// table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPULowUtilization:        0.20,
		CPULowWindowFraction:     0.80,
		CPUHighUtilization:       0.80,
		CPUHighWindowFraction:    0.20,
		MemoryLowUtilization:     0.30,
		MemoryLowWindowFraction:  0.80,
		MemoryHighUtilization:    0.90,
		CPUVolatilityCoefficient: 0.30,
	}
}

const (
	minCPURequestCores      = 0.1
	minMemoryRequestBytes   = 64 * 1024 * 1024
	autoscalerMinReplicas   = 1
	autoscalerMaxReplicas   = 5
	autoscalerTargetPercent = 70.0
)

// Advisor ticks on a coarse cadence, evaluating every registered
// plugin's usage history and handing any recommendation to a
// ResourceWriter, mirroring the Metric Sampler's registration and
// ticker-loop shape (pkg/sampler) at a slower cadence.
type Advisor struct {
	source     UsageSource
	writer     collaborators.ResourceWriter
	thresholds Thresholds
	interval   time.Duration
	log        *logrus.Entry

	mu            sync.Mutex
	registrations map[domain.PluginIdentity]bool
	onRecommend   func(domain.Recommendation)
}

// New builds an Advisor. onRecommend, if non-nil, is invoked with
// every recommendation right after it has been handed to writer —
// tests and the metrics exporter use this to observe output without
// re-deriving it from the writer's side effects.
func New(source UsageSource, writer collaborators.ResourceWriter, thresholds Thresholds, interval time.Duration, log *logrus.Entry, onRecommend func(domain.Recommendation)) *Advisor {
	return &Advisor{
		source:        source,
		writer:        writer,
		thresholds:    thresholds,
		interval:      interval,
		log:           log,
		registrations: make(map[domain.PluginIdentity]bool),
		onRecommend:   onRecommend,
	}
}

// Register adds plugin to the set the Advisor evaluates on each tick.
func (a *Advisor) Register(plugin domain.PluginIdentity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.registrations[plugin] = true
}

// Unregister removes plugin from the evaluated set.
func (a *Advisor) Unregister(plugin domain.PluginIdentity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.registrations, plugin)
}

// Run ticks at Advisor's configured interval until ctx is cancelled.
func (a *Advisor) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Advisor) tick(ctx context.Context) {
	a.mu.Lock()
	plugins := make([]domain.PluginIdentity, 0, len(a.registrations))
	for p := range a.registrations {
		plugins = append(plugins, p)
	}
	a.mu.Unlock()

	for _, plugin := range plugins {
		samples, err := a.source.Usage(ctx, plugin)
		if err != nil {
			if a.log != nil {
				a.log.WithError(err).WithField("plugin", plugin.String()).Warn("resource advisor: usage lookup failed")
			}
			continue
		}
		for _, rec := range Evaluate(plugin, samples, a.thresholds) {
			if err := a.writer.ApplyRecommendation(ctx, rec); err != nil && a.log != nil {
				a.log.WithError(err).WithField("plugin", plugin.String()).Warn("resource advisor: failed to apply recommendation")
			}
			if a.onRecommend != nil {
				a.onRecommend(rec)
			}
		}
	}
}

// Evaluate applies the recommendation rules of spec.md §4.8 to one
// plugin's usage window, returning the closed set of recommendations
// that apply. Order is CPU reduce/raise, memory reduce/raise,
// autoscaler — stable regardless of which conditions fire.
func Evaluate(plugin domain.PluginIdentity, samples []UsageSample, t Thresholds) []domain.Recommendation {
	if len(samples) == 0 {
		return nil
	}
	now := samples[len(samples)-1].ObservedAt

	var cpuUtil, memUtil, cpuUsage, memUsage []float64
	for _, s := range samples {
		if s.CPURequestCores > 0 {
			cpuUtil = append(cpuUtil, s.CPUUsageCores/s.CPURequestCores)
			cpuUsage = append(cpuUsage, s.CPUUsageCores)
		}
		if s.MemoryRequestBytes > 0 {
			memUtil = append(memUtil, s.MemoryUsageBytes/s.MemoryRequestBytes)
			memUsage = append(memUsage, s.MemoryUsageBytes)
		}
	}

	var out []domain.Recommendation

	if frac := fractionBelow(cpuUtil, t.CPULowUtilization); frac >= t.CPULowWindowFraction {
		usage := sharedmath.Mean(cpuUsage)
		recommended := usage * 1.2
		if recommended < minCPURequestCores {
			recommended = minCPURequestCores
		}
		out = append(out, domain.Recommendation{
			Plugin: plugin, Kind: domain.RecommendationReduceCPU,
			CurrentValue: samples[len(samples)-1].CPURequestCores, RecommendedValue: recommended,
			ProjectedCostDelta: (recommended - samples[len(samples)-1].CPURequestCores) * cpuCoreHourlyCost,
			Severity:           domain.SeverityInfo,
			Reason:             "CPU utilization stayed below 20% for most of the observation window",
			GeneratedAt:        now,
		})
	}

	if frac := fractionAbove(cpuUtil, t.CPUHighUtilization); frac >= t.CPUHighWindowFraction {
		usage := sharedmath.Mean(cpuUsage)
		severity := domain.SeverityWarning
		if frac >= 0.5 {
			severity = domain.SeverityCritical
		}
		out = append(out, domain.Recommendation{
			Plugin: plugin, Kind: domain.RecommendationRaiseCPU,
			CurrentValue: samples[len(samples)-1].CPURequestCores, RecommendedValue: usage * 1.5,
			ProjectedCostDelta: (usage*1.5 - samples[len(samples)-1].CPURequestCores) * cpuCoreHourlyCost,
			Severity:           severity,
			Reason:             "CPU utilization exceeded 80% for a significant share of the observation window",
			GeneratedAt:        now,
		})
	}

	if frac := fractionBelow(memUtil, t.MemoryLowUtilization); frac >= t.MemoryLowWindowFraction {
		usage := sharedmath.Mean(memUsage)
		recommended := usage * 1.3
		if recommended < minMemoryRequestBytes {
			recommended = minMemoryRequestBytes
		}
		out = append(out, domain.Recommendation{
			Plugin: plugin, Kind: domain.RecommendationReduceMemory,
			CurrentValue: samples[len(samples)-1].MemoryRequestBytes, RecommendedValue: recommended,
			ProjectedCostDelta: (recommended - samples[len(samples)-1].MemoryRequestBytes) * memoryByteHourlyCost,
			Severity:           domain.SeverityInfo,
			Reason:             "Memory utilization stayed below 30% for most of the observation window",
			GeneratedAt:        now,
		})
	}

	if anyAbove(memUtil, t.MemoryHighUtilization) {
		usage := sharedmath.Max(memUsage)
		out = append(out, domain.Recommendation{
			Plugin: plugin, Kind: domain.RecommendationRaiseMemory,
			CurrentValue: samples[len(samples)-1].MemoryRequestBytes, RecommendedValue: usage * 1.5,
			ProjectedCostDelta: (usage*1.5 - samples[len(samples)-1].MemoryRequestBytes) * memoryByteHourlyCost,
			Severity:           domain.SeverityCritical,
			Reason:             "Memory utilization briefly exceeded 90%, risking an OOM kill",
			GeneratedAt:        now,
		})
	}

	if isVolatile(cpuUtil, t.CPUVolatilityCoefficient) && samples[len(samples)-1].Replicas == 1 {
		out = append(out, domain.Recommendation{
			Plugin: plugin, Kind: domain.RecommendationEnableAutoscaler,
			AutoscalerMin: autoscalerMinReplicas, AutoscalerMax: autoscalerMaxReplicas, AutoscalerTarget: autoscalerTargetPercent,
			Severity:    domain.SeverityWarning,
			Reason:      "single-replica deployment with volatile CPU usage",
			GeneratedAt: now,
		})
	}

	return out
}

// cpuCoreHourlyCost and memoryByteHourlyCost are illustrative unit
// costs used only to project ProjectedCostDelta; the real figures
// belong to the cost-reporting collaborator, out of scope here.
const (
	cpuCoreHourlyCost    = 0.03
	memoryByteHourlyCost = 0.000000004
)

func fractionBelow(values []float64, cutoff float64) float64 {
	if len(values) == 0 {
		return 0
	}
	n := 0
	for _, v := range values {
		if v < cutoff {
			n++
		}
	}
	return float64(n) / float64(len(values))
}

func fractionAbove(values []float64, cutoff float64) float64 {
	if len(values) == 0 {
		return 0
	}
	n := 0
	for _, v := range values {
		if v > cutoff {
			n++
		}
	}
	return float64(n) / float64(len(values))
}

func anyAbove(values []float64, cutoff float64) bool {
	for _, v := range values {
		if v > cutoff {
			return true
		}
	}
	return false
}

func isVolatile(values []float64, coefficient float64) bool {
	mean := sharedmath.Mean(values)
	if mean <= 0 {
		return false
	}
	return sharedmath.StandardDeviation(values)/mean > coefficient
}
