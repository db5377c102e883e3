// Package collaborators defines the four external interfaces the core
// consumes (§6) and a factory that wires either stub or production
// implementations behind them, the same stub/production split the
// teacher's pkg/platform/monitoring.ClientFactory uses for its alert
// and metrics clients.
package collaborators

import (
	"context"
	"time"

	"github.com/pluginforge/orchestrator/pkg/domain"
)

// WorkloadOrchestrator creates/updates/deletes the running plugin
// instances on the underlying substrate. apply is idempotent;
// readHealth is side-effect-free; deleteScope tolerates absence.
type WorkloadOrchestrator interface {
	EnsureIsolatedScope(ctx context.Context, name string) error
	Apply(ctx context.Context, spec WorkloadSpec) error
	Rollout(ctx context.Context, workload WorkloadIdentity, strategyHint domain.Strategy) error
	ReadHealth(ctx context.Context, workload WorkloadIdentity) (WorkloadHealth, error)
	DeleteScope(ctx context.Context, name string) error
}

// WorkloadSpec is the minimal shape Apply needs to create or update a
// plugin's managed workload.
type WorkloadSpec struct {
	Scope    string
	Name     string
	Image    string
	Replicas int
	Region   string
}

// WorkloadIdentity addresses one running workload within a scope.
type WorkloadIdentity struct {
	Scope string
	Name  string
}

// WorkloadHealth is the desired/ready replica pair Rollout polls for.
type WorkloadHealth struct {
	Desired int
	Ready   int
}

// Healthy reports whether every desired replica is ready.
func (h WorkloadHealth) Healthy() bool {
	return h.Desired > 0 && h.Ready >= h.Desired
}

// TrafficRouter shifts traffic between deployment variants.
// Percentages across all variants of a service must sum to 100.
type TrafficRouter interface {
	SetSplit(ctx context.Context, service, variant string, percentage int) error
}

// ObservabilityCollector is the sole source of error-rate, latency and
// throughput samples, and of plugin up/responseTime status.
type ObservabilityCollector interface {
	Sample(ctx context.Context, deploymentID string) (domain.MetricSnapshot, error)
	Status(ctx context.Context, plugin domain.PluginIdentity) (ProbeTargetStatus, error)
}

// ProbeTargetStatus is a lightweight up/responseTime reading distinct
// from a full ProbeResult, used by collaborators that can answer
// "is it up" cheaply without running a full probe.
type ProbeTargetStatus struct {
	Up           bool
	ResponseTime time.Duration
}

// ResourceWriter applies a Resource Advisor recommendation to the
// underlying substrate (resize a container, enable an autoscaler).
type ResourceWriter interface {
	ApplyRecommendation(ctx context.Context, rec domain.Recommendation) error
}
