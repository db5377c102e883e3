// Package audit records deployment lifecycle events to an external
// sink without ever blocking the deployment driver. It is grounded on
// the teacher's pkg/audit buffered-store design: a bounded channel
// feeding a background flush worker, dropping the oldest event rather
// than applying backpressure when the buffer is full.
package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pluginforge/orchestrator/pkg/domain"
	"github.com/pluginforge/orchestrator/pkg/shared/logging"
)

// Event is one audit-worthy fact about a deployment's lifecycle.
type Event struct {
	DeploymentID string
	Plugin       domain.PluginIdentity
	Kind         string
	Phase        string
	Status       domain.DeploymentStatus
	Detail       string
	OccurredAt   time.Time
}

// Sink persists audit events to external storage. Implementations
// must not let Record's caller observe the latency of the underlying
// store — BufferedSink is the production shape; StubSink is a
// synchronous recorder for tests.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// Store is the durable backend a BufferedSink flushes to — an
// external audit log, per spec.md §1's non-goal boundary (this
// orchestrator does not retain deployment history itself).
type Store interface {
	Write(ctx context.Context, events []Event) error
}

// BufferedSink queues events on a bounded channel and flushes them to
// Store in batches from a single background worker, so a slow or
// unavailable audit backend never slows down a rollout.
type BufferedSink struct {
	store         Store
	queue         chan Event
	flushInterval time.Duration
	batchSize     int
	log           *logrus.Entry

	onDrop func(Event)
}

// Config parametrizes a BufferedSink.
type Config struct {
	// BufferSize bounds how many events may be queued before new
	// writes start dropping the oldest queued event.
	BufferSize int
	// BatchSize is the maximum number of events flushed to Store in
	// one Write call.
	BatchSize int
	// FlushInterval is the maximum time a queued event waits before
	// being flushed, even if BatchSize hasn't been reached.
	FlushInterval time.Duration
}

// DefaultConfig matches the teacher's buffered-store defaults scaled
// to this domain's lower event volume.
func DefaultConfig() Config {
	return Config{BufferSize: 1024, BatchSize: 50, FlushInterval: 2 * time.Second}
}

// NewBufferedSink builds a BufferedSink. onDrop, if non-nil, is
// invoked whenever a full buffer forces the oldest queued event to be
// dropped — the metrics collector wires this to a counter.
func NewBufferedSink(store Store, cfg Config, log *logrus.Entry, onDrop func(Event)) *BufferedSink {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	return &BufferedSink{
		store:         store,
		queue:         make(chan Event, cfg.BufferSize),
		flushInterval: cfg.FlushInterval,
		batchSize:     cfg.BatchSize,
		log:           log,
		onDrop:        onDrop,
	}
}

// Record enqueues event, dropping the oldest queued event and
// incrementing the drop counter if the buffer is full. Record itself
// never blocks on the store.
func (s *BufferedSink) Record(ctx context.Context, event Event) error {
	select {
	case s.queue <- event:
		return nil
	default:
	}

	select {
	case dropped := <-s.queue:
		if s.onDrop != nil {
			s.onDrop(dropped)
		}
		if s.log != nil {
			s.log.WithFields(logrus.Fields(logging.AuditFields("drop-oldest", dropped.DeploymentID))).
				Warn("audit buffer full, dropping oldest event")
		}
	default:
	}

	select {
	case s.queue <- event:
	default:
		// Another writer raced us and refilled the slot; drop this
		// event rather than block the caller.
		if s.onDrop != nil {
			s.onDrop(event)
		}
	}
	return nil
}

// Run drains the queue into batched Store.Write calls until ctx is
// cancelled, flushing whatever remains queued before returning.
func (s *BufferedSink) Run(ctx context.Context) {
	batch := make([]Event, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.store.Write(ctx, batch); err != nil && s.log != nil {
			s.log.WithError(err).WithFields(logrus.Fields(logging.AuditFields("flush", ""))).
				Warn("audit store flush failed, events dropped")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case ev := <-s.queue:
			batch = append(batch, ev)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
