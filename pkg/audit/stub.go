package audit

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogStore is the default Store: it writes each flushed batch to the
// structured logger instead of an external audit backend, since
// spec.md §12 excludes a persistent deployment history store from
// this core's scope. Operators who need durable audit history wire in
// their own Store; LogStore keeps BufferedSink usable out of the box.
type LogStore struct {
	log *logrus.Entry
}

// NewLogStore builds a LogStore.
func NewLogStore(log *logrus.Entry) *LogStore {
	return &LogStore{log: log}
}

// Write implements Store.
func (s *LogStore) Write(_ context.Context, events []Event) error {
	for _, e := range events {
		s.log.WithFields(logrus.Fields{
			"deployment_id": e.DeploymentID,
			"plugin":        e.Plugin.String(),
			"kind":          e.Kind,
			"phase":         e.Phase,
			"status":        string(e.Status),
			"detail":        e.Detail,
			"occurred_at":   e.OccurredAt,
		}).Info("audit event")
	}
	return nil
}

// StubSink records every event synchronously, for tests that assert on
// what was recorded rather than on buffering/dropping behavior.
type StubSink struct {
	mu     sync.Mutex
	events []Event
}

// NewStubSink builds a StubSink.
func NewStubSink() *StubSink {
	return &StubSink{}
}

func (s *StubSink) Record(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a defensive copy of everything recorded so far.
func (s *StubSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
