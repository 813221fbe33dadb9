package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"k8s.io/utils/lru"

	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/core"
	"github.com/autopeer-io/vacuumsim/pkg/log"
	"github.com/autopeer-io/vacuumsim/pkg/mqtt"
)

const dedupWindow = 1024

// ErrAlreadyListening is returned by a second StartListening.
var ErrAlreadyListening = errors.New("listener is already active")

// Listener is one robot's CommandSource on a Hub.
type Listener struct {
	*Hub

	mu      sync.Mutex
	filters []string
	cancel  context.CancelFunc

	// deliverMu serialises batches coming from different filters.
	deliverMu sync.Mutex
	seen      *lru.Cache
}

var _ core.CommandSource = (*Listener)(nil)

func (h *Hub) NewListener() *Listener {
	return &Listener{Hub: h, seen: lru.New(dedupWindow)}
}

// StartListening subscribes to channel and to every topic bound to it.
// Each delivery becomes a batch of one message.
func (l *Listener) StartListening(ctx context.Context, channel string, onBatch core.BatchHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		return ErrAlreadyListening
	}

	ctx, cancel := context.WithCancel(ctx)
	handler := func(hctx context.Context, topic string, payload []byte) {
		if ctx.Err() != nil || mqtt.RetainedFromContext(hctx) {
			return
		}

		l.deliverMu.Lock()
		defer l.deliverMu.Unlock()

		if id := mqtt.MessageIDFromContext(hctx); id != "" {
			if _, dup := l.seen.Get(id); dup {
				log.Debug("Dropping duplicate message", "id", id, "topic", topic)
				return
			}
			l.seen.Add(id, struct{}{})
		}
		onBatch(ctx, []string{string(payload)})
	}

	filters := append([]string{channel}, l.boundTopics(channel)...)
	for i, filter := range filters {
		if err := l.mc.Subscribe(ctx, filter, qos, handler); err != nil {
			cancel()
			l.unsubscribeAll(filters[:i])
			return err
		}
	}

	l.filters = filters
	l.cancel = cancel
	log.Info("Listening for commands", "filters", filters)
	return nil
}

// StopListening unsubscribes every filter. Deliveries in flight are dropped.
func (l *Listener) StopListening() {
	l.mu.Lock()
	cancel, filters := l.cancel, l.filters
	l.cancel, l.filters = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	l.unsubscribeAll(filters)
}

func (l *Listener) unsubscribeAll(filters []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, f := range filters {
		if err := l.mc.Unsubscribe(ctx, f); err != nil {
			log.Debug("Unsubscribe failed", "topic", f, "err", err.Error())
		}
	}
}
