// Package strategy implements the Strategy Engine (§4.6): one
// instance per Deployment, expanding its chosen strategy into an
// ordered phase list, driving the Phase Runner through it, and
// performing the strategy-specific rollback on failure or breaker
// Open.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	internalerrors "github.com/pluginforge/orchestrator/internal/errors"
	"github.com/pluginforge/orchestrator/pkg/collaborators"
	"github.com/pluginforge/orchestrator/pkg/domain"
	"github.com/pluginforge/orchestrator/pkg/phase"
	"github.com/pluginforge/orchestrator/pkg/shared/logging"
)

const rollbackPhaseName = "automatic-rollback"

// BreakerGate is the subset of pkg/breaker.Breaker the Engine needs:
// whether rollout progress is still permitted.
type BreakerGate interface {
	AllowsProgress() bool
}

// Engine drives one Deployment through its strategy's phase sequence.
type Engine struct {
	collabs collaborators.Set
	runner  *phase.Runner
	breaker BreakerGate
	log     *logrus.Entry
}

// New builds an Engine bound to one deployment's collaborators,
// Phase Runner, and circuit breaker.
func New(collabs collaborators.Set, runner *phase.Runner, brk BreakerGate, log *logrus.Entry) *Engine {
	return &Engine{collabs: collabs, runner: runner, breaker: brk, log: log}
}

// Expand builds the ordered phase list for req.Strategy per §4.6.
func Expand(req domain.DeploymentRequest) []*domain.Phase {
	switch req.Strategy {
	case domain.StrategyBlueGreen:
		return phasesNamed("prepare-green", "deploy-green", "validate-green", "switch-traffic", "cleanup-blue")
	case domain.StrategyCanary:
		percentages := req.RolloutPercentages
		if len(percentages) == 0 {
			percentages = []int{10, 25, 50, 100}
		}
		phases := make([]*domain.Phase, len(percentages))
		for i, pct := range percentages {
			phases[i] = &domain.Phase{
				Name:          fmt.Sprintf("canary-%d%%", pct),
				Status:        domain.PhasePending,
				Percentage:    pct,
				HasPercentage: true,
			}
		}
		return phases
	case domain.StrategyRolling:
		return phasesNamed("prepare-rolling", "execute-rolling", "verify")
	case domain.StrategyAB:
		return phasesNamed("deploy-A", "deploy-B", "split-traffic", "monitor", "analyze", "promote-winner")
	default:
		return nil
	}
}

func phasesNamed(names ...string) []*domain.Phase {
	phases := make([]*domain.Phase, len(names))
	for i, n := range names {
		phases[i] = &domain.Phase{Name: n, Status: domain.PhasePending}
	}
	return phases
}

// Drive runs deployment through its full phase sequence, handling
// rollback automatically on phase failure or breaker Open. Re-issuing
// Drive on an already-terminal deployment is a no-op, matching the
// idempotence required of re-submitted phases and rollbacks.
func (e *Engine) Drive(ctx context.Context, deployment *domain.Deployment, req domain.DeploymentRequest, opts phase.Options) error {
	if deployment.IsTerminal() {
		return nil
	}

	for i, ph := range deployment.Phases {
		ph.DeploymentID = deployment.ID

		if ph.Status == domain.PhaseCompleted {
			continue // re-issuing a completed phase is a no-op
		}

		if e.breaker != nil && !e.breaker.AllowsProgress() {
			return e.rollback(ctx, deployment, req, fmt.Errorf("circuit breaker open before phase %s", ph.Name))
		}

		deployment.CurrentPhase = i

		exec := e.executorFor(req, ph)
		if err := e.runner.Run(ctx, deployment, ph, deployment.Plugin, opts, exec); err != nil {
			return e.rollback(ctx, deployment, req, err)
		}
		if e.breaker != nil && !e.breaker.AllowsProgress() {
			return e.rollback(ctx, deployment, req, fmt.Errorf("circuit breaker opened during phase %s", ph.Name))
		}
	}

	deployment.CurrentPhase = -1
	if domain.CanTransition(deployment.Status, domain.DeploymentMonitoring) {
		deployment.Status = domain.DeploymentMonitoring
	}
	if domain.CanTransition(deployment.Status, domain.DeploymentCompleted) {
		deployment.Status = domain.DeploymentCompleted
	}
	deployment.EndedAt = time.Now()
	return nil
}

// rollback stamps the deployment rolling-back, appends the synthetic
// rollback phase, and performs the strategy-specific reversal. It is
// a no-op if the deployment has already rolled back.
func (e *Engine) rollback(ctx context.Context, deployment *domain.Deployment, req domain.DeploymentRequest, cause error) error {
	if deployment.Status == domain.DeploymentRolledBack {
		return nil
	}

	if e.log != nil {
		e.log.WithFields(logging.NewFields().Component("strategy").
			DeploymentID(deployment.ID).Error(cause).ToLogrus()).
			Warn("rolling back deployment")
	}

	if domain.CanTransition(deployment.Status, domain.DeploymentRollingBack) {
		deployment.Status = domain.DeploymentRollingBack
	}
	deployment.ErrorLog = append(deployment.ErrorLog, cause.Error())

	rollbackPhase := &domain.Phase{
		Name:         rollbackPhaseName,
		DeploymentID: deployment.ID,
		Status:       domain.PhaseInProgress,
	}
	deployment.Phases = append(deployment.Phases, rollbackPhase)
	deployment.CurrentPhase = len(deployment.Phases) - 1

	if err := e.rollbackFor(ctx, req, deployment); err != nil {
		rollbackPhase.Status = domain.PhaseFailed
		deployment.Status = domain.DeploymentFailed
		wrapped := internalerrors.Wrap(internalerrors.Chain(cause, err), internalerrors.ErrorTypeRollbackFailure, "rollback failed after phase failure").
			WithDetailsf("phase failure: %s; rollback failure: %s", cause.Error(), err.Error())
		deployment.ErrorLog = append(deployment.ErrorLog, wrapped.Error())
		deployment.CurrentPhase = -1
		return wrapped
	}

	rollbackPhase.Status = domain.PhaseCompleted
	deployment.Status = domain.DeploymentRolledBack
	deployment.CurrentPhase = -1
	return cause
}

// executorFor builds the RegionExecutor for one phase, wiring the
// strategy-appropriate collaborator calls.
func (e *Engine) executorFor(req domain.DeploymentRequest, ph *domain.Phase) phase.RegionExecutor {
	scope := func(variant string) string { return req.Plugin.Name + "-" + variant }

	switch {
	case req.Strategy == domain.StrategyBlueGreen:
		return e.blueGreenExecutor(req, ph, scope)
	case req.Strategy == domain.StrategyCanary:
		return e.canaryExecutor(req, ph)
	case req.Strategy == domain.StrategyRolling:
		return e.rollingExecutor(req, ph)
	case req.Strategy == domain.StrategyAB:
		return e.abExecutor(req, ph, scope)
	default:
		return phase.RegionExecutor{}
	}
}

func (e *Engine) blueGreenExecutor(req domain.DeploymentRequest, ph *domain.Phase, scope func(string) string) phase.RegionExecutor {
	service := req.Plugin.Name
	switch ph.Name {
	case "prepare-green":
		return phase.RegionExecutor{Prepare: func(ctx context.Context, region string) error {
			return e.collabs.Workload.EnsureIsolatedScope(ctx, scope("green"))
		}}
	case "deploy-green":
		return phase.RegionExecutor{Act: func(ctx context.Context, region string) error {
			return e.collabs.Workload.Apply(ctx, collaborators.WorkloadSpec{Scope: scope("green"), Name: service, Region: region, Replicas: 1})
		}}
	case "validate-green":
		return phase.RegionExecutor{Act: func(ctx context.Context, region string) error {
			health, err := e.collabs.Workload.ReadHealth(ctx, collaborators.WorkloadIdentity{Scope: scope("green"), Name: service})
			if err != nil {
				return err
			}
			if !health.Healthy() {
				return fmt.Errorf("green scope not healthy: %d/%d ready", health.Ready, health.Desired)
			}
			return nil
		}}
	case "switch-traffic":
		return phase.RegionExecutor{Act: func(ctx context.Context, region string) error {
			if err := e.collabs.Traffic.SetSplit(ctx, service, "green", 100); err != nil {
				return err
			}
			return e.collabs.Traffic.SetSplit(ctx, service, "blue", 0)
		}}
	case "cleanup-blue":
		return phase.RegionExecutor{Act: func(ctx context.Context, region string) error {
			return e.collabs.Workload.DeleteScope(ctx, scope("blue"))
		}}
	default:
		return phase.RegionExecutor{}
	}
}

func (e *Engine) canaryExecutor(req domain.DeploymentRequest, ph *domain.Phase) phase.RegionExecutor {
	service := req.Plugin.Name
	return phase.RegionExecutor{Act: func(ctx context.Context, region string) error {
		if err := e.collabs.Traffic.SetSplit(ctx, service, "canary", ph.Percentage); err != nil {
			return err
		}
		return e.collabs.Traffic.SetSplit(ctx, service, "stable", 100-ph.Percentage)
	}}
}

func (e *Engine) rollingExecutor(req domain.DeploymentRequest, ph *domain.Phase) phase.RegionExecutor {
	service := req.Plugin.Name
	switch ph.Name {
	case "prepare-rolling":
		return phase.RegionExecutor{Prepare: func(ctx context.Context, region string) error {
			return e.collabs.Workload.EnsureIsolatedScope(ctx, service)
		}}
	case "execute-rolling":
		return phase.RegionExecutor{Act: func(ctx context.Context, region string) error {
			if err := e.collabs.Workload.Apply(ctx, collaborators.WorkloadSpec{Scope: service, Name: service, Region: region, Replicas: 1}); err != nil {
				return err
			}
			return e.collabs.Workload.Rollout(ctx, collaborators.WorkloadIdentity{Scope: service, Name: service}, domain.StrategyRolling)
		}}
	case "verify":
		return phase.RegionExecutor{Act: func(ctx context.Context, region string) error {
			health, err := e.collabs.Workload.ReadHealth(ctx, collaborators.WorkloadIdentity{Scope: service, Name: service})
			if err != nil {
				return err
			}
			if !health.Healthy() {
				return fmt.Errorf("rolling update not healthy: %d/%d ready", health.Ready, health.Desired)
			}
			return nil
		}}
	default:
		return phase.RegionExecutor{}
	}
}

func (e *Engine) abExecutor(req domain.DeploymentRequest, ph *domain.Phase, scope func(string) string) phase.RegionExecutor {
	service := req.Plugin.Name
	switch ph.Name {
	case "deploy-A":
		return phase.RegionExecutor{Act: func(ctx context.Context, region string) error {
			return e.collabs.Workload.Apply(ctx, collaborators.WorkloadSpec{Scope: scope("a"), Name: service, Region: region, Replicas: 1})
		}}
	case "deploy-B":
		return phase.RegionExecutor{Act: func(ctx context.Context, region string) error {
			return e.collabs.Workload.Apply(ctx, collaborators.WorkloadSpec{Scope: scope("b"), Name: service, Region: region, Replicas: 1})
		}}
	case "split-traffic":
		return phase.RegionExecutor{Act: func(ctx context.Context, region string) error {
			if err := e.collabs.Traffic.SetSplit(ctx, service, "a", 50); err != nil {
				return err
			}
			return e.collabs.Traffic.SetSplit(ctx, service, "b", 50)
		}}
	case "monitor", "analyze":
		// Both are placeholder observation windows: the source leaves
		// whether they persist experiment data or derive it live from
		// the sampler unspecified. This engine derives it live — no
		// separate experiment store exists — so these phases have no
		// additional action beyond the Phase Runner's own observe step.
		return phase.RegionExecutor{}
	case "promote-winner":
		return phase.RegionExecutor{Act: func(ctx context.Context, region string) error {
			return e.collabs.Traffic.SetSplit(ctx, service, "a", 100)
		}}
	default:
		return phase.RegionExecutor{}
	}
}

// rollbackFor performs the strategy-specific reversal described in
// §4.6: B/G reverts traffic to blue; canary shifts traffic back to
// 0%; rolling requests a rollback of the managed workload; A/B
// promotes the incumbent.
func (e *Engine) rollbackFor(ctx context.Context, req domain.DeploymentRequest, deployment *domain.Deployment) error {
	service := req.Plugin.Name
	scope := func(variant string) string { return service + "-" + variant }

	switch req.Strategy {
	case domain.StrategyBlueGreen:
		if err := e.collabs.Traffic.SetSplit(ctx, service, "blue", 100); err != nil {
			return err
		}
		if err := e.collabs.Traffic.SetSplit(ctx, service, "green", 0); err != nil {
			return err
		}
		return e.collabs.Workload.DeleteScope(ctx, scope("green"))
	case domain.StrategyCanary:
		if err := e.collabs.Traffic.SetSplit(ctx, service, "canary", 0); err != nil {
			return err
		}
		return e.collabs.Traffic.SetSplit(ctx, service, "stable", 100)
	case domain.StrategyRolling:
		return e.collabs.Workload.Rollout(ctx, collaborators.WorkloadIdentity{Scope: service, Name: service}, "rollback")
	case domain.StrategyAB:
		if err := e.collabs.Traffic.SetSplit(ctx, service, "a", 100); err != nil {
			return err
		}
		return e.collabs.Traffic.SetSplit(ctx, service, "b", 0)
	default:
		return nil
	}
}
