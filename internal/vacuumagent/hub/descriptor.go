package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/autopeer-io/vacuumsim/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/core"
	"github.com/autopeer-io/vacuumsim/pkg/log"
)

type resourceKind string

const (
	kindTopic resourceKind = "topic"
	kindQueue resourceKind = "queue"
)

// segments returns the handle segment and the descriptor segment of a kind.
func (k resourceKind) segments() (handle, meta string) {
	if k == kindTopic {
		return paths.Topics, paths.MetaTopics
	}
	return paths.Queues, paths.MetaQueues
}

// Descriptor is the retained payload recording that a topic or channel exists.
type Descriptor struct {
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

// find waits up to the lookup window for the retained descriptor of name.
func (h *Hub) find(ctx context.Context, kind resourceKind, name string) (string, error) {
	handleSeg, metaSeg := kind.segments()
	meta := h.topics.Build(metaSeg, name)

	found := make(chan struct{}, 1)
	err := h.mc.Subscribe(ctx, meta, qos, func(_ context.Context, _ string, payload []byte) {
		if len(payload) == 0 {
			return
		}
		select {
		case found <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return "", fmt.Errorf("look up %s %q: %w", kind, name, err)
	}
	defer h.unsubscribe(meta)

	timer := time.NewTimer(h.lookupTimeout)
	defer timer.Stop()

	select {
	case <-found:
		return h.topics.Build(handleSeg, name), nil
	case <-timer.C:
		return "", fmt.Errorf("%s %q: %w", kind, name, core.ErrNotFound)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// create publishes the retained descriptor of name.
func (h *Hub) create(ctx context.Context, kind resourceKind, name string) (string, error) {
	handleSeg, metaSeg := kind.segments()

	payload, err := json.Marshal(Descriptor{Name: name, Kind: string(kind), CreatedAt: time.Now().UTC()})
	if err != nil {
		return "", err
	}
	if err := h.mc.Publish(ctx, h.topics.Build(metaSeg, name), qos, true, payload); err != nil {
		return "", fmt.Errorf("create %s %q: %w", kind, name, err)
	}

	log.Debug("Created resource", "kind", kind, "name", name)
	return h.topics.Build(handleSeg, name), nil
}

// remove clears the retained descriptor of name.
func (h *Hub) remove(ctx context.Context, kind resourceKind, name string) error {
	_, metaSeg := kind.segments()
	if err := h.mc.Publish(ctx, h.topics.Build(metaSeg, name), qos, true, nil); err != nil {
		return fmt.Errorf("delete %s %q: %w", kind, name, err)
	}
	return nil
}

// list returns the names of every resource of kind with a retained
// descriptor, collected during one lookup window.
func (h *Hub) list(ctx context.Context, kind resourceKind) ([]string, error) {
	_, metaSeg := kind.segments()
	filter := h.topics.Wildcard(metaSeg)

	var (
		mu    sync.Mutex
		names []string
	)
	err := h.mc.Subscribe(ctx, filter, qos, func(_ context.Context, topic string, payload []byte) {
		name, ok := h.topics.Name(metaSeg, topic)
		if !ok || len(payload) == 0 {
			return
		}
		mu.Lock()
		names = append(names, name)
		mu.Unlock()
	})
	if err != nil {
		return nil, fmt.Errorf("list %ss: %w", kind, err)
	}
	defer h.unsubscribe(filter)

	timer := time.NewTimer(h.lookupTimeout)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	slices.Sort(names)
	return slices.Compact(names), nil
}

// ListTopics returns the names of the provisioned topics.
func (h *Hub) ListTopics(ctx context.Context) ([]string, error) {
	return h.list(ctx, kindTopic)
}

// ListChannels returns the names of the provisioned command channels.
func (h *Hub) ListChannels(ctx context.Context) ([]string, error) {
	return h.list(ctx, kindQueue)
}

func (h *Hub) unsubscribe(filter string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.lookupTimeout)
	defer cancel()
	if err := h.mc.Unsubscribe(ctx, filter); err != nil {
		log.Debug("Unsubscribe failed", "topic", filter, "err", err.Error())
	}
}
