// Package domain defines the core data model of the deployment
// orchestrator: plugin identity, the Deployment aggregate and its
// phases, region status, circuit breaker state, health status, and
// downtime events. Ownership follows a single rule: the Deployment
// owns its Phases; the Health Monitor holds no reference back to any
// Deployment, only per-plugin state keyed by PluginIdentity.
package domain

import "time"

// PluginIdentity is a (name, version) pair. Names are DNS-label safe.
// Identity is immutable once a Deployment has been admitted for it.
type PluginIdentity struct {
	Name    string `validate:"required,hostname_rfc1123"`
	Version string `validate:"required"`
}

func (p PluginIdentity) String() string {
	return p.Name + "@" + p.Version
}

// Strategy enumerates the rollout strategies the Strategy Engine can
// expand into a phase sequence.
type Strategy string

const (
	StrategyBlueGreen Strategy = "blue-green"
	StrategyCanary    Strategy = "canary"
	StrategyRolling   Strategy = "rolling"
	StrategyAB        Strategy = "a-b"
)

// RegionMode controls how the Phase Runner sequences multi-region
// rollout within a single phase.
type RegionMode string

const (
	RegionModeParallel        RegionMode = "parallel"
	RegionModeSequential      RegionMode = "sequential"
	RegionModeCanaryPerRegion RegionMode = "canary-per-region"
)

// DeploymentStatus is the Deployment's overall lattice position. It
// may only move forward: preparing -> deploying -> (monitoring ->
// completed) | (rolling-back -> rolled-back) | failed.
type DeploymentStatus string

const (
	DeploymentPreparing   DeploymentStatus = "preparing"
	DeploymentDeploying   DeploymentStatus = "deploying"
	DeploymentMonitoring  DeploymentStatus = "monitoring"
	DeploymentCompleted   DeploymentStatus = "completed"
	DeploymentFailed      DeploymentStatus = "failed"
	DeploymentRollingBack DeploymentStatus = "rolling-back"
	DeploymentRolledBack  DeploymentStatus = "rolled-back"
)

// IsTerminal reports whether s is one of the statuses a Deployment
// never leaves once reached.
func (s DeploymentStatus) IsTerminal() bool {
	switch s {
	case DeploymentCompleted, DeploymentFailed, DeploymentRolledBack:
		return true
	default:
		return false
	}
}

var forwardEdges = map[DeploymentStatus][]DeploymentStatus{
	DeploymentPreparing:   {DeploymentDeploying},
	DeploymentDeploying:   {DeploymentMonitoring, DeploymentRollingBack, DeploymentFailed},
	DeploymentMonitoring:  {DeploymentCompleted, DeploymentRollingBack, DeploymentFailed},
	DeploymentRollingBack: {DeploymentRolledBack, DeploymentFailed},
}

// CanTransition reports whether the lattice permits moving from from
// to to. Terminal statuses permit no further transition.
func CanTransition(from, to DeploymentStatus) bool {
	if from.IsTerminal() {
		return false
	}
	for _, allowed := range forwardEdges[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// PhaseStatus is one Phase's lifecycle position.
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in-progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
	PhaseRolledBack PhaseStatus = "rolled-back"
)

// MetricSnapshot is an observed-metrics sample, written by the Metric
// Sampler into both a Phase and the Health Monitor.
type MetricSnapshot struct {
	ErrorRate  float64
	LatencyP50 time.Duration
	LatencyP95 time.Duration
	LatencyP99 time.Duration
	Throughput float64
	ObservedAt time.Time
}

// Phase is one step of a strategy. It is owned exclusively by its
// Deployment and holds only a DeploymentID back-reference, never a
// pointer to the Deployment itself.
type Phase struct {
	Name          string
	DeploymentID  string
	Status        PhaseStatus
	Region        string
	Percentage    int
	HasPercentage bool
	Metrics       []MetricSnapshot
	StartedAt     time.Time
	EndedAt       time.Time
}

// RegionStatusKind is a single region's rollout state within a phase.
type RegionStatusKind string

const (
	RegionPending   RegionStatusKind = "pending"
	RegionDeploying RegionStatusKind = "deploying"
	RegionHealthy   RegionStatusKind = "healthy"
	RegionUnhealthy RegionStatusKind = "unhealthy"
	RegionFailed    RegionStatusKind = "failed"
)

// RegionStatus tracks one region's rollout progress.
type RegionStatus struct {
	Region          string
	Status          RegionStatusKind
	DesiredReplicas int
	HealthyReplicas int
	ErrorLog        []string
}

// BreakerState is the Closed/Open/HalfOpen position of a per-deployment
// circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// CircuitBreakerState is the tuple §3 assigns to every Deployment. It
// lives inside the Deployment and is mutated only by the breaker task
// bound to that deployment.
type CircuitBreakerState struct {
	State             BreakerState
	FailureCount      int
	LastFailureAt     time.Time
	NextAttemptAt     time.Time
	HalfOpenAttempts  int
	HalfOpenSuccesses int
}

// HealthOverall is a plugin's aggregate health, recomputed after every
// probe completion.
type HealthOverall string

const (
	HealthHealthy   HealthOverall = "healthy"
	HealthDegraded  HealthOverall = "degraded"
	HealthUnhealthy HealthOverall = "unhealthy"
	HealthUnknown   HealthOverall = "unknown"
)

// DowntimeImpact classifies how much of a plugin's probe set was
// failing when a downtime event closed.
type DowntimeImpact string

const (
	ImpactPartial DowntimeImpact = "partial"
	ImpactTotal   DowntimeImpact = "total"
)

// DowntimeEvent is an open-ended interval record. At most one event
// per plugin may have Resolved == false at a time.
type DowntimeEvent struct {
	StartedAt time.Time
	EndedAt   time.Time
	Reason    string
	Impact    DowntimeImpact
	Resolved  bool
}

// Duration returns EndedAt - StartedAt; zero until the event resolves.
func (d DowntimeEvent) Duration() time.Duration {
	if !d.Resolved {
		return 0
	}
	return d.EndedAt.Sub(d.StartedAt)
}

// HealthStatus is the Health Monitor's per-plugin snapshot.
type HealthStatus struct {
	Plugin         PluginIdentity
	Overall        HealthOverall
	LastProbes     map[string]ProbeResult
	DowntimeEvents []DowntimeEvent
}

// ProbeStatus classifies a single probe outcome. Probes never raise —
// they classify.
type ProbeStatus string

const (
	ProbePass ProbeStatus = "pass"
	ProbeFail ProbeStatus = "fail"
	ProbeWarn ProbeStatus = "warn"
)

// ProbeResult is the outcome of one Probe Executor run.
type ProbeResult struct {
	Status       ProbeStatus
	ResponseTime time.Duration
	Message      string
	ObservedAt   time.Time
}

// CircuitBreakerConfig is the per-deployment breaker configuration
// carried on a DeploymentRequest (§6).
// FailureThreshold and SuccessThreshold are sample counts, not error
// rates: the number of consecutive bad (Closed/Open) or good
// (HalfOpen) samples required to transition. See pkg/breaker for the
// error-rate cutoff used to classify a single sample as bad or good.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	MonitoringWindow time.Duration
	HalfOpenMaxCalls int
}

// DeploymentRequest is the payload admitted to Orchestrator.Deploy.
type DeploymentRequest struct {
	Plugin                  PluginIdentity `validate:"required"`
	Strategy                Strategy       `validate:"required,oneof=blue-green canary rolling a-b"`
	Regions                 []string   `validate:"required,min=1"`
	RegionMode              RegionMode `validate:"omitempty,oneof=parallel sequential canary-per-region"`
	RolloutPercentages      []int      `validate:"omitempty,monotonic_to_100,dive,gt=0,lte=100"`
	MaxUnavailable          string
	MaxSurge                string
	ProgressDeadlineSeconds int
	MinReadySeconds         int
	CircuitBreaker          CircuitBreakerConfig
}

// Deployment is the run-time object created per rollout.
type Deployment struct {
	ID             string
	Plugin         PluginIdentity
	Strategy       Strategy
	Regions        []string
	Status         DeploymentStatus
	Phases         []*Phase
	CurrentPhase   int // index into Phases, -1 when none in-progress
	RegionStatuses map[string]*RegionStatus
	Breaker        CircuitBreakerState
	StartedAt      time.Time
	EndedAt        time.Time
	ErrorLog       []string
}

// CurrentPhaseName returns the name of the in-progress phase, or "" if
// none is currently in progress.
func (d *Deployment) CurrentPhaseName() string {
	if d.CurrentPhase < 0 || d.CurrentPhase >= len(d.Phases) {
		return ""
	}
	return d.Phases[d.CurrentPhase].Name
}

// IsTerminal reports whether the Deployment has reached one of the
// statuses it can never leave.
func (d *Deployment) IsTerminal() bool {
	return d.Status.IsTerminal()
}

// RecommendationKind enumerates the closed set of actions the
// Resource Advisor may emit (§4.8). Adding a kind is adding one case,
// not a string switch.
type RecommendationKind string

const (
	RecommendationReduceCPU        RecommendationKind = "reduce-cpu"
	RecommendationRaiseCPU         RecommendationKind = "raise-cpu"
	RecommendationReduceMemory     RecommendationKind = "reduce-memory"
	RecommendationRaiseMemory      RecommendationKind = "raise-memory"
	RecommendationEnableAutoscaler RecommendationKind = "enable-autoscaler"
)

// RecommendationSeverity classifies how urgently a recommendation
// should be applied.
type RecommendationSeverity string

const (
	SeverityInfo     RecommendationSeverity = "info"
	SeverityWarning  RecommendationSeverity = "warning"
	SeverityCritical RecommendationSeverity = "critical"
)

// Recommendation is one Resource Advisor output, ready to be handed to
// a ResourceWriter collaborator.
type Recommendation struct {
	Plugin             PluginIdentity
	Kind               RecommendationKind
	CurrentValue       float64
	RecommendedValue   float64
	AutoscalerMin      int
	AutoscalerMax      int
	AutoscalerTarget   float64
	ProjectedCostDelta float64
	Severity           RecommendationSeverity
	Reason             string
	GeneratedAt        time.Time
}
