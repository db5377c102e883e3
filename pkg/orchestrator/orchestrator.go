// Package orchestrator implements the top-level Orchestrator (§4.7):
// the single entry point that admits a DeploymentRequest, wires up a
// per-deployment Circuit Breaker, Phase Runner, and Strategy Engine,
// registers the deployment with the shared Metric Sampler, Health
// Monitor, and Resource Advisor, and drives it to completion on a
// background goroutine.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	internalerrors "github.com/pluginforge/orchestrator/internal/errors"
	"github.com/pluginforge/orchestrator/pkg/audit"
	"github.com/pluginforge/orchestrator/pkg/breaker"
	"github.com/pluginforge/orchestrator/pkg/collaborators"
	"github.com/pluginforge/orchestrator/pkg/domain"
	"github.com/pluginforge/orchestrator/pkg/health"
	"github.com/pluginforge/orchestrator/pkg/metrics"
	"github.com/pluginforge/orchestrator/pkg/phase"
	"github.com/pluginforge/orchestrator/pkg/resourceadvisor"
	"github.com/pluginforge/orchestrator/pkg/sampler"
	"github.com/pluginforge/orchestrator/pkg/shared/logging"
	"github.com/pluginforge/orchestrator/pkg/strategy"
)

// forcedDrainGrace bounds how long Shutdown waits for driving
// goroutines to notice rootCtx cancellation and stamp their
// deployment's terminal state before giving up and returning.
const forcedDrainGrace = 5 * time.Second

// Defaults carries the fallback values applied to a DeploymentRequest
// that leaves them unset, sourced from internal/config at startup.
type Defaults struct {
	Breaker          domain.CircuitBreakerConfig
	Stabilization    time.Duration
	ObservePoll      time.Duration
	RegionMode       domain.RegionMode
	ProbeConfig      health.Config
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
}

// entry is the Orchestrator's bookkeeping for one active deployment.
type entry struct {
	deployment *domain.Deployment
	breaker    *breaker.Breaker
	mu         sync.Mutex // guards deployment field mutation from the sampler and the driving goroutine
}

// RecordSample implements sampler.DeploymentSink: write the sample
// into the deployment's current phase and feed the breaker.
func (e *entry) RecordSample(_ string, snapshot domain.MetricSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx := e.deployment.CurrentPhase; idx >= 0 && idx < len(e.deployment.Phases) {
		e.deployment.Phases[idx].Metrics = append(e.deployment.Phases[idx].Metrics, snapshot)
	}
	e.breaker.Sample(snapshot.ErrorRate, snapshot.ObservedAt)
}

// Orchestrator is the single point of entry for starting, inspecting,
// and draining deployments.
type Orchestrator struct {
	collabs   collaborators.Set
	sampler   *sampler.Sampler
	health    *health.Monitor
	advisor   *resourceadvisor.Advisor
	auditSink audit.Sink
	defaults  Defaults
	validate  *validator.Validate
	log       *logrus.Entry

	mu            sync.RWMutex
	entries       map[string]*entry
	activePlugins map[domain.PluginIdentity]string // plugin -> ID of its one non-terminal deployment
	shuttingDown  bool
	inFlight      sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

// New builds an Orchestrator. Callers are expected to have already
// started sampler.Run, advisor.Run, and any other background workers
// on their own contexts; Orchestrator only registers/unregisters with
// them.
func New(collabs collaborators.Set, smp *sampler.Sampler, mon *health.Monitor, advisor *resourceadvisor.Advisor, auditSink audit.Sink, defaults Defaults, log *logrus.Entry) *Orchestrator {
	v := validator.New()
	_ = v.RegisterValidation("monotonic_to_100", validateMonotonicTo100)

	rootCtx, rootCancel := context.WithCancel(context.Background())

	return &Orchestrator{
		collabs:       collabs,
		sampler:       smp,
		health:        mon,
		advisor:       advisor,
		auditSink:     auditSink,
		defaults:      defaults,
		validate:      v,
		log:           log,
		entries:       make(map[string]*entry),
		activePlugins: make(map[domain.PluginIdentity]string),
		rootCtx:       rootCtx,
		rootCancel:    rootCancel,
	}
}

// validateMonotonicTo100 enforces that a non-empty RolloutPercentages
// sequence is strictly ascending and ends at 100, the same rule
// internal/config.validate applies to DefaultCanaryPercentages.
func validateMonotonicTo100(fl validator.FieldLevel) bool {
	percentages, ok := fl.Field().Interface().([]int)
	if !ok || len(percentages) == 0 {
		return true
	}
	prev := 0
	for _, p := range percentages {
		if p <= prev {
			return false
		}
		prev = p
	}
	return prev == 100
}

// Deploy admits req, builds the Deployment aggregate, and starts
// driving it to completion on a background goroutine. It returns as
// soon as the Deployment is registered, not once it finishes.
//
// Deploy is rejected with an Admission error (never creating any
// state) if the orchestrator is shutting down, or if plugin already
// has a non-terminal deployment in flight.
func (o *Orchestrator) Deploy(ctx context.Context, req domain.DeploymentRequest) (*domain.Deployment, error) {
	if err := o.validate.Struct(req); err != nil {
		return nil, internalerrors.Wrap(err, internalerrors.ErrorTypeValidation, "invalid deployment request")
	}

	req = applyDefaults(req, o.defaults)

	deployment := &domain.Deployment{
		ID:           uuid.NewString(),
		Plugin:       req.Plugin,
		Strategy:     req.Strategy,
		Regions:      req.Regions,
		Status:       domain.DeploymentPreparing,
		Phases:       strategy.Expand(req),
		CurrentPhase: -1,
		StartedAt:    time.Now(),
		Breaker:      domain.CircuitBreakerState{State: domain.BreakerClosed},
	}
	if len(deployment.Phases) == 0 {
		return nil, internalerrors.New(internalerrors.ErrorTypeValidation, "unknown strategy").
			WithDetailsf("strategy: %s", req.Strategy)
	}

	brk := breaker.New(deployment.ID, req.CircuitBreaker, o.log)
	runner := phase.New(o.health, brk)
	engine := strategy.New(o.collabs, runner, brk, o.log)
	e := &entry{deployment: deployment, breaker: brk}

	o.mu.Lock()
	if o.shuttingDown {
		o.mu.Unlock()
		return nil, internalerrors.New(internalerrors.ErrorTypeAdmission, "orchestrator is shutting down, no new deployments are admitted")
	}
	if existing, ok := o.activePlugins[req.Plugin]; ok {
		o.mu.Unlock()
		return nil, internalerrors.New(internalerrors.ErrorTypeAdmission, "plugin already has a non-terminal deployment").
			WithDetailsf("plugin: %s, active deployment: %s", req.Plugin, existing)
	}
	o.activePlugins[req.Plugin] = deployment.ID
	o.entries[deployment.ID] = e
	o.mu.Unlock()

	if o.sampler != nil {
		o.sampler.Register(deployment.ID, req.Plugin)
	}
	if o.health != nil {
		_ = o.health.Start(req.Plugin, o.defaults.ProbeConfig) // already-monitored is not an error here
	}
	if o.advisor != nil {
		o.advisor.Register(req.Plugin)
	}

	metrics.RecordDeploymentStarted()
	o.record(ctx, deployment, "deployment-started", "", "starting rollout")

	deployment.Status = domain.DeploymentDeploying

	opts := phase.Options{
		Regions:          req.Regions,
		RegionMode:       req.RegionMode,
		Stabilization:    o.defaults.Stabilization + time.Duration(req.MinReadySeconds)*time.Second,
		ObservePoll:      o.defaults.ObservePoll,
		RetryMaxAttempts: o.defaults.RetryMaxAttempts,
		RetryBaseDelay:   o.defaults.RetryBaseDelay,
		PhaseBudget:      time.Duration(req.ProgressDeadlineSeconds) * time.Second,
	}

	o.inFlight.Add(1)
	go o.drive(o.rootCtx, e, engine, req, opts)

	return deployment, nil
}

func (o *Orchestrator) drive(ctx context.Context, e *entry, engine *strategy.Engine, req domain.DeploymentRequest, opts phase.Options) {
	defer o.inFlight.Done()
	defer o.releaseActive(e.deployment.Plugin)
	defer func() {
		if o.sampler != nil {
			o.sampler.Unregister(e.deployment.ID)
		}
	}()
	defer func() {
		if o.advisor != nil {
			o.advisor.Unregister(e.deployment.Plugin)
		}
	}()

	err := engine.Drive(ctx, e.deployment, req, opts)

	if err != nil && ctx.Err() != nil {
		// The engine was cut short by Shutdown's forced cancellation,
		// not by an ordinary phase/rollback failure. e.deployment is
		// only ever mutated from this single driving goroutine once
		// engine.Drive has returned, so no lock is needed for the
		// status fields themselves, only for the slice RecordSample
		// may still be appending to concurrently.
		overrideErr := internalerrors.New(internalerrors.ErrorTypeShutdownOverride, "deployment forcibly terminated: graceful shutdown deadline elapsed").
			WithDetailsf("last phase: %s", e.deployment.CurrentPhaseName())
		e.mu.Lock()
		e.deployment.Status = domain.DeploymentFailed
		e.deployment.CurrentPhase = -1
		e.deployment.EndedAt = time.Now()
		e.deployment.ErrorLog = append(e.deployment.ErrorLog, overrideErr.Error())
		e.mu.Unlock()
		err = overrideErr
	}

	e.mu.Lock()
	status := e.deployment.Status
	e.mu.Unlock()

	// Once rootCtx has been cancelled by Shutdown the caller's own ctx
	// is gone too; fall back to a background context so the terminal
	// audit event still gets recorded.
	recordCtx := ctx
	if ctx.Err() != nil {
		recordCtx = context.Background()
	}

	metrics.RecordDeploymentTerminal(string(status))
	if err != nil {
		o.record(recordCtx, e.deployment, "deployment-failed", e.deployment.CurrentPhaseName(), err.Error())
		if o.log != nil {
			o.log.WithFields(logging.NewFields().Component("orchestrator").
				DeploymentID(e.deployment.ID).Error(err).ToLogrus()).
				Warn("deployment ended with error")
		}
		return
	}
	o.record(recordCtx, e.deployment, "deployment-completed", "", "rollout finished successfully")
}

func (o *Orchestrator) releaseActive(plugin domain.PluginIdentity) {
	o.mu.Lock()
	delete(o.activePlugins, plugin)
	o.mu.Unlock()
}

func (o *Orchestrator) record(ctx context.Context, d *domain.Deployment, kind, phaseName, detail string) {
	if o.auditSink == nil {
		return
	}
	_ = o.auditSink.Record(ctx, audit.Event{
		DeploymentID: d.ID,
		Plugin:       d.Plugin,
		Kind:         kind,
		Phase:        phaseName,
		Status:       d.Status,
		Detail:       detail,
		OccurredAt:   time.Now(),
	})
}

// RecordSample implements sampler.DeploymentSink, dispatching the
// global sampler's per-tick sample to the entry matching deploymentID.
// Wire it in with Sampler.SetDeploymentSink once both the Sampler and
// the Orchestrator exist.
func (o *Orchestrator) RecordSample(deploymentID string, snapshot domain.MetricSnapshot) {
	o.mu.RLock()
	e, ok := o.entries[deploymentID]
	o.mu.RUnlock()
	if !ok {
		return
	}
	e.RecordSample(deploymentID, snapshot)
}

// Get returns the deployment registered under id, if any.
func (o *Orchestrator) Get(id string) (*domain.Deployment, bool) {
	o.mu.RLock()
	e, ok := o.entries[id]
	o.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.deployment, true
}

// Shutdown stops admitting new deployments immediately, then waits for
// every in-flight Deploy's driving goroutine to finish, up to ctx's
// deadline. If deployments are still in flight when ctx expires,
// Shutdown cancels the orchestrator's root context — forcing every
// driver to abandon its engine.Drive call — and waits a short, bounded
// grace period for the drivers to stamp their deployments
// shutdown-override before returning. Calling Shutdown twice is
// equivalent to calling it once.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.shuttingDown = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	o.rootCancel()

	select {
	case <-done:
	case <-time.After(forcedDrainGrace):
	}
	return internalerrors.New(internalerrors.ErrorTypeShutdownOverride, "graceful shutdown deadline exceeded with deployments still in flight")
}

func applyDefaults(req domain.DeploymentRequest, d Defaults) domain.DeploymentRequest {
	if req.CircuitBreaker == (domain.CircuitBreakerConfig{}) {
		req.CircuitBreaker = d.Breaker
	}
	if req.RegionMode == "" {
		req.RegionMode = d.RegionMode
	}
	return req
}
