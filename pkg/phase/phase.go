// Package phase implements the Phase Runner (§4.5): executes one
// phase of a strategy as four ordered steps — prepare, act, observe,
// commit — across the phase's configured regions, consulting the
// Health Monitor and Circuit Breaker throughout the observe step, and
// retrying a transient collaborator failure within the phase's own
// budget before giving up.
package phase

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	internalerrors "github.com/pluginforge/orchestrator/internal/errors"
	"github.com/pluginforge/orchestrator/pkg/domain"
	sharederrors "github.com/pluginforge/orchestrator/pkg/shared/errors"
)

// Step is one strategy-specific action (prepare or act) run against a
// single region. An empty region string means the strategy has no
// region concept for this step.
type Step func(ctx context.Context, region string) error

// RegionExecutor supplies the strategy-specific prepare/act actions a
// Runner invokes per region; observe and commit are generic and owned
// by the Runner itself.
type RegionExecutor struct {
	Prepare Step
	Act     Step
}

// HealthChecker reports whether a plugin is currently not-unhealthy,
// consulted throughout observe.
type HealthChecker interface {
	IsHealthy(plugin domain.PluginIdentity) bool
}

// BreakerChecker reports whether the deployment's circuit breaker
// still allows rollout progress.
type BreakerChecker interface {
	AllowsProgress() bool
}

// Options configures one Run call.
type Options struct {
	Regions       []string
	RegionMode    domain.RegionMode
	Stabilization time.Duration
	ObservePoll   time.Duration

	// RetryMaxAttempts bounds how many times a single prepare/act Step
	// is attempted before its error becomes authoritative. <= 1 means
	// no retry.
	RetryMaxAttempts int
	// RetryBaseDelay is the initial exponential-backoff interval
	// between retry attempts.
	RetryBaseDelay time.Duration
	// PhaseBudget, if positive, bounds the entire Run call — sourced
	// from DeploymentRequest.ProgressDeadlineSeconds — independently
	// of any per-step retry budget.
	PhaseBudget time.Duration
}

const defaultRetryBaseDelay = 100 * time.Millisecond

var tracer = otel.Tracer("github.com/pluginforge/orchestrator/pkg/phase")

// Runner executes phases.
type Runner struct {
	health  HealthChecker
	breaker BreakerChecker
}

// New builds a Runner bound to one deployment's health checker and
// circuit breaker.
func New(health HealthChecker, breaker BreakerChecker) *Runner {
	return &Runner{health: health, breaker: breaker}
}

// Run executes ph's four steps against deployment, using exec for the
// strategy-specific prepare/act actions. It mutates ph and deployment
// in place and returns the first authoritative failure, if any.
func (r *Runner) Run(ctx context.Context, deployment *domain.Deployment, ph *domain.Phase, plugin domain.PluginIdentity, opts Options, exec RegionExecutor) error {
	ctx, span := tracer.Start(ctx, "phase."+ph.Name)
	defer span.End()

	if opts.PhaseBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.PhaseBudget)
		defer cancel()
	}

	ph.Status = domain.PhaseInProgress
	ph.StartedAt = time.Now()

	regions := opts.Regions
	if len(regions) == 0 {
		regions = []string{""}
	}

	var runErr error
	switch opts.RegionMode {
	case domain.RegionModeParallel:
		runErr = r.runParallel(ctx, deployment, regions, opts, exec)
	default:
		// sequential and canary-per-region share the same per-region
		// ordering contract: a region commits before the next begins.
		// canary-per-region additionally applies the phase's own
		// Percentage within each region before moving on, which
		// runSequential already does via exec — there is no separate
		// per-region percentage schedule to expand.
		runErr = r.runSequential(ctx, deployment, regions, opts, exec)
	}

	if runErr != nil {
		ph.Status = domain.PhaseFailed
		ph.EndedAt = time.Now()
		wrapped := internalerrors.Wrap(runErr, internalerrors.ErrorTypePhaseFailure, fmt.Sprintf("phase %s failed", ph.Name)).
			WithDetails(runErr.Error())
		deployment.ErrorLog = append(deployment.ErrorLog, wrapped.Error())
		return wrapped
	}

	if err := r.observe(ctx, plugin, opts); err != nil {
		ph.Status = domain.PhaseFailed
		ph.EndedAt = time.Now()
		wrapped := internalerrors.Wrap(err, internalerrors.ErrorTypePhaseFailure, fmt.Sprintf("phase %s failed during observe", ph.Name)).
			WithDetails(err.Error())
		deployment.ErrorLog = append(deployment.ErrorLog, wrapped.Error())
		return wrapped
	}

	ph.Status = domain.PhaseCompleted
	ph.EndedAt = time.Now()
	return nil
}

// runWithRetry runs step once, retrying with exponential backoff while
// the failure is sharederrors.IsRetryable, up to opts.RetryMaxAttempts
// attempts total. A non-retryable error or a nil step short-circuits
// immediately.
func (r *Runner) runWithRetry(ctx context.Context, opts Options, step Step, region string) error {
	if step == nil {
		return nil
	}

	maxAttempts := opts.RetryMaxAttempts
	if maxAttempts <= 1 {
		return step(ctx, region)
	}

	baseDelay := opts.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultRetryBaseDelay
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = baseDelay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		stepErr := step(ctx, region)
		if stepErr == nil {
			return struct{}{}, nil
		}
		if !sharederrors.IsRetryable(stepErr) {
			return struct{}{}, backoff.Permanent(stepErr)
		}
		return struct{}{}, stepErr
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(maxAttempts)))

	return err
}

func (r *Runner) runParallel(ctx context.Context, deployment *domain.Deployment, regions []string, opts Options, exec RegionExecutor) error {
	if err := r.runStepParallel(ctx, deployment, regions, opts, exec.Prepare, "prepare"); err != nil {
		return err
	}
	return r.runStepParallel(ctx, deployment, regions, opts, exec.Act, "act")
}

// runStepParallel runs step concurrently across regions. The first
// region to fail, in configured region order, is the authoritative
// failure; later failures accumulate into the Deployment's error log
// rather than being discarded.
func (r *Runner) runStepParallel(ctx context.Context, deployment *domain.Deployment, regions []string, opts Options, step Step, name string) error {
	if step == nil {
		return nil
	}
	errs := make([]error, len(regions))
	g, gctx := errgroup.WithContext(ctx)
	for i, region := range regions {
		i, region := i, region
		g.Go(func() error {
			errs[i] = r.runWithRetry(gctx, opts, step, region)
			return nil
		})
	}
	_ = g.Wait()

	var authoritative error
	for i, err := range errs {
		if err == nil {
			continue
		}
		if authoritative == nil {
			authoritative = fmt.Errorf("%s region %q: %w", name, regions[i], err)
			continue
		}
		deployment.ErrorLog = append(deployment.ErrorLog,
			fmt.Sprintf("%s region %q: %s", name, regions[i], err.Error()))
	}
	return authoritative
}

func (r *Runner) runSequential(ctx context.Context, deployment *domain.Deployment, regions []string, opts Options, exec RegionExecutor) error {
	for _, region := range regions {
		if deployment.RegionStatuses == nil {
			deployment.RegionStatuses = make(map[string]*domain.RegionStatus)
		}
		status, ok := deployment.RegionStatuses[region]
		if !ok {
			status = &domain.RegionStatus{Region: region, Status: domain.RegionPending}
			deployment.RegionStatuses[region] = status
		}
		status.Status = domain.RegionDeploying

		if err := r.runWithRetry(ctx, opts, exec.Prepare, region); err != nil {
			status.Status = domain.RegionFailed
			status.ErrorLog = append(status.ErrorLog, err.Error())
			return fmt.Errorf("prepare region %q: %w", region, err)
		}
		if err := r.runWithRetry(ctx, opts, exec.Act, region); err != nil {
			status.Status = domain.RegionFailed
			status.ErrorLog = append(status.ErrorLog, err.Error())
			return fmt.Errorf("act region %q: %w", region, err)
		}
		status.Status = domain.RegionHealthy
	}
	return nil
}

// observe runs for at least Stabilization, polling health and breaker
// state, and fails the moment either goes bad.
func (r *Runner) observe(ctx context.Context, plugin domain.PluginIdentity, opts Options) error {
	poll := opts.ObservePoll
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	deadline := time.Now().Add(opts.Stabilization)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	check := func() error {
		if r.health != nil && !r.health.IsHealthy(plugin) {
			return fmt.Errorf("plugin %s became unhealthy during observe", plugin)
		}
		if r.breaker != nil && !r.breaker.AllowsProgress() {
			return fmt.Errorf("circuit breaker opened during observe")
		}
		return nil
	}

	if err := check(); err != nil {
		return err
	}

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := check(); err != nil {
				return err
			}
		}
	}
	return nil
}
