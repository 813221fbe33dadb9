// Package hub carries robot events and commands over MQTT.
//
// Notification topics map to {root}/topics/{name} and command channels to
// {root}/queues/{name}. Existence of both is recorded as a retained
// descriptor under {root}/meta, so any client can look them up. A channel
// subscribed to a topic receives what is published there because its
// listener subscribes to the topic filter as well.
//
// A Hub must own its mqtt.Client: the client keys handlers by topic filter.
package hub

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/autopeer-io/vacuumsim/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/core"
	"github.com/autopeer-io/vacuumsim/pkg/log"
	"github.com/autopeer-io/vacuumsim/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/vacuumsim/pkg/mqtt/topic"
)

const qos = 1

type binding struct {
	channel string
	topic   string
}

// Hub maps topics and channels onto MQTT topics under one namespace and
// records their existence as retained descriptors.
type Hub struct {
	mc            mqtt.Client
	topics        *mqtttopic.Builder
	lookupTimeout time.Duration

	mu       sync.Mutex
	bindings map[string]binding
}

var _ core.EventSink = (*Hub)(nil)

// New returns a Hub that owns client. A zero lookupTimeout defaults to one second.
func New(client mqtt.Client, builder *mqtttopic.Builder, lookupTimeout time.Duration) *Hub {
	if lookupTimeout <= 0 {
		lookupTimeout = time.Second
	}
	return &Hub{
		mc:            client,
		topics:        builder,
		lookupTimeout: lookupTimeout,
		bindings:      make(map[string]binding),
	}
}

// Start connects the client and waits for the first connection.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.mc.Start(ctx); err != nil {
		return err
	}
	return h.mc.AwaitConnection(ctx)
}

// Stop disconnects the client.
func (h *Hub) Stop() {
	log.Info("Disconnecting MQTT client...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.mc.Disconnect(ctx)
}

// IsConnected reports whether the client is connected to the broker.
func (h *Hub) IsConnected() bool {
	return h.mc.IsConnected()
}

// Builder returns the topic builder of the hub's namespace.
func (h *Hub) Builder() *mqtttopic.Builder {
	return h.topics
}

// FindTopic returns the handle of an existing topic or core.ErrNotFound.
func (h *Hub) FindTopic(ctx context.Context, name string) (string, error) {
	return h.find(ctx, kindTopic, name)
}

// CreateTopic records the topic's descriptor and returns its handle.
func (h *Hub) CreateTopic(ctx context.Context, name string) (string, error) {
	return h.create(ctx, kindTopic, name)
}

// Publish sends payload to a topic handle with a fresh message id.
func (h *Hub) Publish(ctx context.Context, topic string, payload []byte) error {
	return h.mc.Publish(ctx, topic, qos, false, payload,
		mqtt.WithMessageID(uuid.NewString()),
		mqtt.WithContentType("application/json"),
	)
}

// PublishRetained stores payload as the retained state of topic.
func (h *Hub) PublishRetained(ctx context.Context, topic string, payload []byte) error {
	return h.mc.Publish(ctx, topic, qos, true, payload, mqtt.WithContentType("application/json"))
}

// Watch calls fn for every message matching filter until ctx is done.
func (h *Hub) Watch(ctx context.Context, filter string, fn mqtt.MessageHandler) error {
	if err := h.mc.Subscribe(ctx, filter, qos, fn); err != nil {
		return err
	}
	<-ctx.Done()
	h.unsubscribe(filter)
	return nil
}

// DeleteTopic clears the topic's descriptor and drops the channel
// bindings that referenced it.
func (h *Hub) DeleteTopic(ctx context.Context, topic string) error {
	name, ok := h.topics.Name(paths.Topics, topic)
	if !ok {
		return fmt.Errorf("topic handle %q: %w", topic, core.ErrNotFound)
	}
	if err := h.remove(ctx, kindTopic, name); err != nil {
		return err
	}

	h.mu.Lock()
	for id, b := range h.bindings {
		if b.topic == topic {
			delete(h.bindings, id)
		}
	}
	h.mu.Unlock()
	return nil
}

// FindChannel returns the handle of an existing channel or core.ErrNotFound.
func (h *Hub) FindChannel(ctx context.Context, name string) (string, error) {
	return h.find(ctx, kindQueue, name)
}

// CreateChannel records the channel's descriptor and returns its handle.
func (h *Hub) CreateChannel(ctx context.Context, name string) (string, error) {
	return h.create(ctx, kindQueue, name)
}

// Subscribe binds topic to channel. Listeners started on channel afterwards
// also receive what is published on topic.
func (h *Hub) Subscribe(_ context.Context, channel, topic string) (string, error) {
	if _, ok := h.topics.Name(paths.Queues, channel); !ok {
		return "", fmt.Errorf("channel handle %q: %w", channel, core.ErrNotFound)
	}
	if _, ok := h.topics.Name(paths.Topics, topic); !ok {
		return "", fmt.Errorf("topic handle %q: %w", topic, core.ErrNotFound)
	}

	id := uuid.NewString()
	h.mu.Lock()
	h.bindings[id] = binding{channel: channel, topic: topic}
	h.mu.Unlock()
	return id, nil
}

// Unsubscribe removes a binding made by Subscribe.
func (h *Hub) Unsubscribe(_ context.Context, subscription string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.bindings[subscription]; !ok {
		return fmt.Errorf("subscription %q: %w", subscription, core.ErrNotFound)
	}
	delete(h.bindings, subscription)
	return nil
}

// DeleteChannel clears the channel's descriptor and its bindings.
func (h *Hub) DeleteChannel(ctx context.Context, channel string) error {
	name, ok := h.topics.Name(paths.Queues, channel)
	if !ok {
		return fmt.Errorf("channel handle %q: %w", channel, core.ErrNotFound)
	}
	if err := h.remove(ctx, kindQueue, name); err != nil {
		return err
	}
	h.unbindChannel(channel)
	return nil
}

// DeleteChannelsWithPrefix deletes every known channel whose name starts
// with prefix. Channels are discovered from their retained descriptors.
func (h *Hub) DeleteChannelsWithPrefix(ctx context.Context, prefix string) error {
	names, err := h.list(ctx, kindQueue)
	if err != nil {
		return err
	}

	var errs []error
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if err := h.remove(ctx, kindQueue, name); err != nil {
			errs = append(errs, err)
			continue
		}
		h.unbindChannel(h.topics.Build(paths.Queues, name))
		log.Debug("Deleted command channel", "channel", name)
	}
	return utilerrors.NewAggregate(errs)
}

func (h *Hub) unbindChannel(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, b := range h.bindings {
		if b.channel == channel {
			delete(h.bindings, id)
		}
	}
}

// boundTopics returns the topics bound to channel.
func (h *Hub) boundTopics(channel string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, b := range h.bindings {
		if b.channel == channel {
			out = append(out, b.topic)
		}
	}
	return out
}
