package memory

import (
	"context"
	"errors"
	"sync"

	"k8s.io/utils/lru"

	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/core"
)

// dedupWindow is the number of recent message ids remembered per listener.
const dedupWindow = 1024

// Source is one robot's view of a Broker. It adds a single background
// listener to the broker's channel operations.
type Source struct {
	*Broker

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ core.CommandSource = (*Source)(nil)

// ErrAlreadyListening is returned by a second StartListening.
var ErrAlreadyListening = errors.New("source is already listening")

// NewSource returns a CommandSource backed by b.
func (b *Broker) NewSource() *Source {
	return &Source{Broker: b}
}

// StartListening polls channel until StopListening is called or ctx is
// done. Messages whose id was already delivered are dropped.
func (s *Source) StartListening(ctx context.Context, channel string, onBatch core.BatchHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyListening
	}
	if _, err := s.FindChannel(ctx, channelName(channel)); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.poll(ctx, channel, onBatch, s.done)
	return nil
}

func (s *Source) poll(ctx context.Context, channel string, onBatch core.BatchHandler, done chan struct{}) {
	defer close(done)

	seen := lru.New(dedupWindow)
	log := s.log.WithValues("channel", channelName(channel))

	for ctx.Err() == nil {
		msgs, err := s.Receive(ctx, channel, s.maxBatch, s.pollWindow)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Error(err, "Receive failed")
			if !sleepCtx(ctx, s.pollWindow) {
				return
			}
			continue
		}

		bodies := make([]string, 0, len(msgs))
		for _, m := range msgs {
			if _, dup := seen.Get(m.ID); dup {
				log.V(1).Info("Dropping duplicate message", "id", m.ID)
				continue
			}
			seen.Add(m.ID, struct{}{})
			bodies = append(bodies, m.Body)
		}
		if len(bodies) > 0 {
			onBatch(ctx, bodies)
		}
	}
}

// StopListening stops the listener and waits for it to return.
func (s *Source) StopListening() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func channelName(handle string) string {
	if len(handle) > len(queueHandlePrefix) && handle[:len(queueHandlePrefix)] == queueHandlePrefix {
		return handle[len(queueHandlePrefix):]
	}
	return handle
}
