// Package breaker implements the per-deployment circuit breaker of
// §4.4: a Closed/Open/HalfOpen FSM driven by periodic error-rate
// samples from the Metric Sampler rather than by guarded function
// calls. sony/gobreaker supplies the underlying Closed/Open timing and
// trip-counting primitives; Breaker layers on top of it the
// monitoring-window staleness rule and the HalfOpen success-threshold
// semantics of §4.4, which gobreaker's call-oriented API doesn't
// express directly.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pluginforge/orchestrator/pkg/domain"
	"github.com/pluginforge/orchestrator/pkg/shared/logging"
	"github.com/sirupsen/logrus"
)

var errSampleBad = errors.New("sample exceeded the bad-sample error rate cutoff")

// badSampleErrorRate is the error rate above which a single sample
// counts as bad. The deployment-request breaker config (§6) only
// carries failureThreshold/successThreshold as consecutive-sample
// counts, not a rate — a sample-level classifier has to live
// somewhere, and 10% error rate is the conventional SLO cutoff this
// orchestrator standardizes on for every deployment.
const badSampleErrorRate = 0.10

// Breaker is one Deployment's circuit breaker instance.
type Breaker struct {
	deploymentID string
	cfg          domain.CircuitBreakerConfig
	log          *logrus.Entry

	gb *gobreaker.CircuitBreaker

	mu                sync.Mutex
	state             domain.CircuitBreakerState
	halfOpenCallsUsed int
}

// New builds a Breaker for one Deployment, starting Closed.
func New(deploymentID string, cfg domain.CircuitBreakerConfig, log *logrus.Entry) *Breaker {
	b := &Breaker{
		deploymentID: deploymentID,
		cfg:          cfg,
		log:          log,
		state: domain.CircuitBreakerState{
			State: domain.BreakerClosed,
		},
	}

	settings := gobreaker.Settings{
		Name:        deploymentID,
		MaxRequests: uint32(atLeastOne(cfg.SuccessThreshold)),
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(atLeastOne(cfg.FailureThreshold))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.onGobreakerStateChange(to)
		},
	}
	b.gb = gobreaker.NewCircuitBreaker(settings)
	return b
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func (b *Breaker) onGobreakerStateChange(to gobreaker.State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch to {
	case gobreaker.StateOpen:
		b.state.State = domain.BreakerOpen
		b.state.NextAttemptAt = time.Now().Add(b.cfg.Timeout)
		b.halfOpenCallsUsed = 0
	case gobreaker.StateHalfOpen:
		b.state.State = domain.BreakerHalfOpen
		b.state.HalfOpenAttempts = 0
		b.state.HalfOpenSuccesses = 0
		b.halfOpenCallsUsed = 0
	case gobreaker.StateClosed:
		b.state.State = domain.BreakerClosed
		b.state.FailureCount = 0
		b.state.HalfOpenAttempts = 0
		b.state.HalfOpenSuccesses = 0
	}

	if b.log != nil {
		b.log.WithFields(logging.BreakerFields(b.deploymentID, string(b.state.State)).ToLogrus()).
			Info("circuit breaker transitioned")
	}
}

// Sample feeds one error-rate observation into the breaker. Samples
// older than the configured monitoring window never cause a
// transition — the caller passes observedAt so a sample that arrives
// late (e.g. queued behind a slow collaborator call) can be recognized
// as stale at the point of application, not at the point of send.
func (b *Breaker) Sample(errorRate float64, observedAt time.Time) {
	if b.cfg.MonitoringWindow > 0 && time.Since(observedAt) > b.cfg.MonitoringWindow {
		return
	}

	bad := errorRate > badSampleErrorRate

	b.mu.Lock()
	state := b.state.State
	halfOpenExhausted := state == domain.BreakerHalfOpen && b.halfOpenCallsUsed >= b.cfg.HalfOpenMaxCalls
	if state == domain.BreakerHalfOpen {
		b.halfOpenCallsUsed++
		b.state.HalfOpenAttempts = b.halfOpenCallsUsed
		if !bad {
			b.state.HalfOpenSuccesses++
		} else {
			b.state.HalfOpenSuccesses = 0
		}
	}
	b.mu.Unlock()

	// The half-open trial budget is exhausted without reaching the
	// required consecutive successes: force the breaker back open by
	// feeding gobreaker a failure regardless of this sample's outcome.
	if halfOpenExhausted {
		bad = true
	}

	_, _ = b.gb.Execute(func() (interface{}, error) {
		if bad {
			return nil, errSampleBad
		}
		return nil, nil
	})

	b.mu.Lock()
	if b.state.State == domain.BreakerClosed {
		if bad {
			b.state.FailureCount++
			b.state.LastFailureAt = observedAt
		} else if b.state.FailureCount > 0 {
			b.state.FailureCount--
		}
	}
	b.mu.Unlock()
}

// State returns a snapshot of the breaker's current state, suitable
// for embedding into the owning Deployment.
func (b *Breaker) State() domain.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// AllowsProgress reports whether the Strategy Engine may advance the
// Deployment: false only while the breaker is Open.
func (b *Breaker) AllowsProgress() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.State != domain.BreakerOpen
}
