package resourceadvisor

import (
	"context"
	"sync"

	"github.com/pluginforge/orchestrator/pkg/domain"
)

// StubUsageSource returns a scripted usage history per plugin, for
// tests that don't need a real metrics.k8s.io client.
type StubUsageSource struct {
	mu      sync.Mutex
	history map[domain.PluginIdentity][]UsageSample
}

func NewStubUsageSource() *StubUsageSource {
	return &StubUsageSource{history: make(map[domain.PluginIdentity][]UsageSample)}
}

// Script sets the usage window Usage returns for plugin.
func (s *StubUsageSource) Script(plugin domain.PluginIdentity, samples ...UsageSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[plugin] = samples
}

func (s *StubUsageSource) Usage(ctx context.Context, plugin domain.PluginIdentity) ([]UsageSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UsageSample, len(s.history[plugin]))
	copy(out, s.history[plugin])
	return out, nil
}
