package engine

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/autopeer-io/vacuumsim/internal/pkg/metrics"
	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/core"
)

type outboxItem struct {
	topic   string
	kind    core.EventKind
	payload []byte
}

// outbox hands events to the sink from a single sender goroutine, in the
// order they were emitted. Publish failures are logged and never retried.
type outbox struct {
	sink    core.EventSink
	log     logr.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan outboxItem
	done   chan struct{}
	once   sync.Once
}

func newOutbox(sink core.EventSink, log logr.Logger, size int, timeout time.Duration) *outbox {
	o := &outbox{
		sink:    sink,
		log:     log,
		timeout: timeout,
		queue:   make(chan outboxItem, size),
		done:    make(chan struct{}),
	}
	go o.run()
	return o
}

// enqueue never blocks. It reports false if the item was dropped.
func (o *outbox) enqueue(item outboxItem) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed {
		metrics.EventsPublishedTotal.WithLabelValues(string(item.kind), "dropped").Inc()
		return false
	}

	select {
	case o.queue <- item:
		return true
	default:
		metrics.EventsPublishedTotal.WithLabelValues(string(item.kind), "dropped").Inc()
		o.log.Info("Outbox full, dropping event", "event", item.kind, "topic", item.topic)
		return false
	}
}

func (o *outbox) run() {
	defer close(o.done)

	for item := range o.queue {
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		err := o.sink.Publish(ctx, item.topic, item.payload)
		cancel()

		if err != nil {
			metrics.EventsPublishedTotal.WithLabelValues(string(item.kind), "failed").Inc()
			o.log.Error(err, "Failed to publish event", "event", item.kind, "topic", item.topic)
			continue
		}
		metrics.EventsPublishedTotal.WithLabelValues(string(item.kind), "success").Inc()
	}
}

// Close stops accepting events and waits until the queued ones were handed
// to the sink or ctx is done.
func (o *outbox) Close(ctx context.Context) error {
	o.once.Do(func() {
		o.mu.Lock()
		o.closed = true
		close(o.queue)
		o.mu.Unlock()
	})

	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
