package collaborators

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pluginforge/orchestrator/pkg/domain"
)

// StubWorkloadOrchestrator is an in-memory WorkloadOrchestrator used
// when no production substrate client is configured, or in tests. It
// remembers scopes and workloads it has seen so ReadHealth can answer
// consistently across calls.
type StubWorkloadOrchestrator struct {
	log *logrus.Entry

	mu     sync.Mutex
	scopes map[string]bool
	ready  map[WorkloadIdentity]WorkloadHealth
}

// NewStubWorkloadOrchestrator builds a StubWorkloadOrchestrator that
// reports every applied workload as immediately healthy.
func NewStubWorkloadOrchestrator(log *logrus.Entry) *StubWorkloadOrchestrator {
	return &StubWorkloadOrchestrator{
		log:    log,
		scopes: make(map[string]bool),
		ready:  make(map[WorkloadIdentity]WorkloadHealth),
	}
}

func (s *StubWorkloadOrchestrator) EnsureIsolatedScope(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[name] = true
	return nil
}

func (s *StubWorkloadOrchestrator) Apply(ctx context.Context, spec WorkloadSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := WorkloadIdentity{Scope: spec.Scope, Name: spec.Name}
	s.ready[id] = WorkloadHealth{Desired: spec.Replicas, Ready: spec.Replicas}
	return nil
}

func (s *StubWorkloadOrchestrator) Rollout(ctx context.Context, workload WorkloadIdentity, strategyHint domain.Strategy) error {
	return nil
}

func (s *StubWorkloadOrchestrator) ReadHealth(ctx context.Context, workload WorkloadIdentity) (WorkloadHealth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.ready[workload]
	if !ok {
		return WorkloadHealth{}, nil
	}
	return h, nil
}

func (s *StubWorkloadOrchestrator) DeleteScope(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scopes, name)
	return nil
}

// StubTrafficRouter records the last percentage set per (service,
// variant) pair without talking to any mesh control plane.
type StubTrafficRouter struct {
	mu     sync.Mutex
	splits map[string]int
}

func NewStubTrafficRouter() *StubTrafficRouter {
	return &StubTrafficRouter{splits: make(map[string]int)}
}

func (s *StubTrafficRouter) SetSplit(ctx context.Context, service, variant string, percentage int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.splits[service+"/"+variant] = percentage
	return nil
}

// Split returns the last percentage recorded for (service, variant),
// useful for asserting on final traffic state in tests.
func (s *StubTrafficRouter) Split(service, variant string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.splits[service+"/"+variant]
}

// StubObservabilityCollector returns a fixed, configurable sample on
// every call, letting tests script error-rate sequences (e.g. the S2
// scenario's three consecutive 0.25 windows) without a real collector.
type StubObservabilityCollector struct {
	mu       sync.Mutex
	samples  map[string][]domain.MetricSnapshot
	cursor   map[string]int
	fallback domain.MetricSnapshot
}

func NewStubObservabilityCollector() *StubObservabilityCollector {
	return &StubObservabilityCollector{
		samples: make(map[string][]domain.MetricSnapshot),
		cursor:  make(map[string]int),
		fallback: domain.MetricSnapshot{
			ErrorRate:  0.0,
			Throughput: 100,
			ObservedAt: time.Now(),
		},
	}
}

// ScriptSamples queues a sequence of samples to return for a
// deployment id, one per Sample call; once exhausted, the last queued
// sample repeats.
func (s *StubObservabilityCollector) ScriptSamples(deploymentID string, samples ...domain.MetricSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[deploymentID] = samples
	s.cursor[deploymentID] = 0
}

func (s *StubObservabilityCollector) Sample(ctx context.Context, deploymentID string) (domain.MetricSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.samples[deploymentID]
	if len(queue) == 0 {
		snap := s.fallback
		snap.ObservedAt = time.Now()
		return snap, nil
	}
	i := s.cursor[deploymentID]
	if i >= len(queue) {
		i = len(queue) - 1
	} else {
		s.cursor[deploymentID] = i + 1
	}
	snap := queue[i]
	if snap.ObservedAt.IsZero() {
		snap.ObservedAt = time.Now()
	}
	return snap, nil
}

func (s *StubObservabilityCollector) Status(ctx context.Context, plugin domain.PluginIdentity) (ProbeTargetStatus, error) {
	return ProbeTargetStatus{Up: true, ResponseTime: 10 * time.Millisecond}, nil
}

// StubResourceWriter just records the recommendations it was asked to
// apply.
type StubResourceWriter struct {
	mu      sync.Mutex
	applied []domain.Recommendation
}

func NewStubResourceWriter() *StubResourceWriter {
	return &StubResourceWriter{}
}

func (s *StubResourceWriter) ApplyRecommendation(ctx context.Context, rec domain.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, rec)
	return nil
}

func (s *StubResourceWriter) Applied() []domain.Recommendation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Recommendation, len(s.applied))
	copy(out, s.applied)
	return out
}
