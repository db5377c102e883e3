// Package sampler implements the Metric Sampler (§4.2): a single
// global background tick that, for every active deployment, queries
// the Observability Collector and writes the resulting sample into
// both the owning Deployment's current phase and the Health Monitor.
// Samples are the sole input to the Circuit Breaker.
package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pluginforge/orchestrator/pkg/collaborators"
	"github.com/pluginforge/orchestrator/pkg/domain"
	"github.com/pluginforge/orchestrator/pkg/shared/logging"
)

// DeploymentSink receives one metric sample per tick for a registered
// deployment. The Orchestrator implements it, writing the sample into
// the deployment's current phase and feeding its circuit breaker.
type DeploymentSink interface {
	RecordSample(deploymentID string, snapshot domain.MetricSnapshot)
}

// PluginSink receives the same sample keyed by plugin identity, feeding
// the Health Monitor's rolling window.
type PluginSink interface {
	RecordPluginSample(plugin domain.PluginIdentity, snapshot domain.MetricSnapshot)
}

// defaultRetention bounds how long per-plugin history is kept before
// the sampler trims it, per §4.2.
const defaultRetention = 24 * time.Hour

type registration struct {
	deploymentID string
	plugin       domain.PluginIdentity
}

// Sampler runs the single global sampling tick.
type Sampler struct {
	collector collaborators.ObservabilityCollector
	deployCnk DeploymentSink
	pluginCnk PluginSink
	log       *logrus.Entry
	interval  time.Duration
	retention time.Duration

	mu            sync.Mutex
	registrations map[string]registration

	history   map[domain.PluginIdentity][]domain.MetricSnapshot
	historyMu sync.Mutex
}

// New builds a Sampler ticking at interval (the configured
// monitoringWindow).
func New(collector collaborators.ObservabilityCollector, deployCnk DeploymentSink, pluginCnk PluginSink, interval time.Duration, log *logrus.Entry) *Sampler {
	return &Sampler{
		collector:     collector,
		deployCnk:     deployCnk,
		pluginCnk:     pluginCnk,
		log:           log,
		interval:      interval,
		retention:     defaultRetention,
		registrations: make(map[string]registration),
		history:       make(map[domain.PluginIdentity][]domain.MetricSnapshot),
	}
}

// SetDeploymentSink (re)binds the sink that receives one RecordSample
// call per active deployment per tick. It exists because the
// Orchestrator that dispatches by deployment ID is itself constructed
// from a Sampler, so the sink can only be wired in after both exist.
func (s *Sampler) SetDeploymentSink(sink DeploymentSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployCnk = sink
}

// Register adds a deployment to the active sampling set.
func (s *Sampler) Register(deploymentID string, plugin domain.PluginIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations[deploymentID] = registration{deploymentID: deploymentID, plugin: plugin}
}

// Unregister removes a deployment, e.g. once it reaches a terminal
// status.
func (s *Sampler) Unregister(deploymentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registrations, deploymentID)
}

// Run ticks until ctx is cancelled, fanning out one collaborator call
// per active deployment on every tick.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sampler) tick(ctx context.Context) {
	s.mu.Lock()
	active := make([]registration, 0, len(s.registrations))
	for _, r := range s.registrations {
		active = append(active, r)
	}
	deployCnk := s.deployCnk
	s.mu.Unlock()

	for _, r := range active {
		snapshot, err := s.collector.Sample(ctx, r.deploymentID)
		if err != nil {
			if s.log != nil {
				s.log.WithFields(logging.NewFields().Component("sampler").
					DeploymentID(r.deploymentID).Error(err).ToLogrus()).
					Warn("metric sample failed")
			}
			continue
		}
		if snapshot.ObservedAt.IsZero() {
			snapshot.ObservedAt = time.Now()
		}

		if deployCnk != nil {
			deployCnk.RecordSample(r.deploymentID, snapshot)
		}
		if s.pluginCnk != nil {
			s.pluginCnk.RecordPluginSample(r.plugin, snapshot)
		}
		s.retain(r.plugin, snapshot)
	}
}

func (s *Sampler) retain(plugin domain.PluginIdentity, snapshot domain.MetricSnapshot) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	history := append(s.history[plugin], snapshot)
	cutoff := time.Now().Add(-s.retention)
	trimmed := history[:0]
	for _, snap := range history {
		if snap.ObservedAt.After(cutoff) {
			trimmed = append(trimmed, snap)
		}
	}
	s.history[plugin] = trimmed
}

// History returns the retained samples for a plugin, oldest first.
func (s *Sampler) History(plugin domain.PluginIdentity) []domain.MetricSnapshot {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	out := make([]domain.MetricSnapshot, len(s.history[plugin]))
	copy(out, s.history[plugin])
	return out
}
