// Package memory is an in-process event sink and command source. Topics fan
// out to the channels subscribed to them and channels are drained with a
// bounded long poll, mirroring a notification service feeding queues.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/core"
)

const (
	topicHandlePrefix = "memory:topic:"
	queueHandlePrefix = "memory:queue:"

	// DefaultMaxBatch is the largest number of messages one receive returns.
	DefaultMaxBatch = 10
)

// Op names a broker operation for fault injection.
type Op string

const (
	OpFindTopic     Op = "FindTopic"
	OpCreateTopic   Op = "CreateTopic"
	OpPublish       Op = "Publish"
	OpDeleteTopic   Op = "DeleteTopic"
	OpFindChannel   Op = "FindChannel"
	OpCreateChannel Op = "CreateChannel"
	OpSubscribe     Op = "Subscribe"
	OpUnsubscribe   Op = "Unsubscribe"
	OpDeleteChannel Op = "DeleteChannel"
	OpReceive       Op = "Receive"
)

// Message is one entry of a channel.
type Message struct {
	ID   string
	Body string
}

type subscription struct {
	topic string
	queue string
}

type queue struct {
	messages []Message
	// ready is closed and replaced whenever messages arrive.
	ready chan struct{}
}

// Broker is safe for concurrent use by many robots.
type Broker struct {
	log         logr.Logger
	rawDelivery bool
	pollWindow  time.Duration
	maxBatch    int

	mu        sync.Mutex
	topics    map[string]bool
	queues    map[string]*queue
	subs      map[string]subscription
	published map[string][][]byte
	faults    map[Op]error
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger used by listeners.
func WithLogger(l logr.Logger) Option {
	return func(b *Broker) { b.log = l }
}

// WithRawDelivery delivers topic messages to channels without the
// notification envelope.
func WithRawDelivery() Option {
	return func(b *Broker) { b.rawDelivery = true }
}

// WithPollWindow bounds how long a listener's receive waits for messages.
func WithPollWindow(d time.Duration) Option {
	return func(b *Broker) { b.pollWindow = d }
}

// WithMaxBatch bounds the number of messages per receive.
func WithMaxBatch(n int) Option {
	return func(b *Broker) { b.maxBatch = n }
}

// NewBroker returns an empty broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		log:        logr.Discard(),
		pollWindow: 2 * time.Second,
		maxBatch:   DefaultMaxBatch,
		topics:     make(map[string]bool),
		queues:     make(map[string]*queue),
		subs:       make(map[string]subscription),
		published:  make(map[string][][]byte),
		faults:     make(map[Op]error),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ core.EventSink = (*Broker)(nil)

// Fail makes every following call of op return err. A nil err clears it.
func (b *Broker) Fail(op Op, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.faults, op)
		return
	}
	b.faults[op] = err
}

// fault must be called with b.mu held.
func (b *Broker) fault(op Op) error {
	if err, ok := b.faults[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func TopicHandle(name string) string { return topicHandlePrefix + name }
func QueueHandle(name string) string { return queueHandlePrefix + name }

func (b *Broker) FindTopic(_ context.Context, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fault(OpFindTopic); err != nil {
		return "", err
	}
	if !b.topics[name] {
		return "", fmt.Errorf("topic %q: %w", name, core.ErrNotFound)
	}
	return TopicHandle(name), nil
}

func (b *Broker) CreateTopic(_ context.Context, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fault(OpCreateTopic); err != nil {
		return "", err
	}
	b.topics[name] = true
	return TopicHandle(name), nil
}

// Publish records payload and fans it out to every subscribed channel.
func (b *Broker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fault(OpPublish); err != nil {
		return err
	}
	name, ok := strings.CutPrefix(topic, topicHandlePrefix)
	if !ok || !b.topics[name] {
		return fmt.Errorf("publish to %q: %w", topic, core.ErrNotFound)
	}

	b.published[name] = append(b.published[name], slices.Clone(payload))

	id := uuid.NewString()
	body := string(payload)
	if !b.rawDelivery {
		envelope, err := json.Marshal(map[string]string{
			"Type":      "Notification",
			"MessageId": id,
			"TopicArn":  topic,
			"Message":   body,
			"Timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return err
		}
		body = string(envelope)
	}

	// Subscribing a channel twice delivers twice with the same id.
	for _, sub := range b.subs {
		if sub.topic == name {
			b.enqueueLocked(sub.queue, Message{ID: id, Body: body})
		}
	}
	return nil
}

func (b *Broker) DeleteTopic(_ context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fault(OpDeleteTopic); err != nil {
		return err
	}
	name, _ := strings.CutPrefix(topic, topicHandlePrefix)
	if !b.topics[name] {
		return fmt.Errorf("topic %q: %w", name, core.ErrNotFound)
	}
	delete(b.topics, name)
	for id, sub := range b.subs {
		if sub.topic == name {
			delete(b.subs, id)
		}
	}
	return nil
}

func (b *Broker) FindChannel(_ context.Context, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fault(OpFindChannel); err != nil {
		return "", err
	}
	if _, ok := b.queues[name]; !ok {
		return "", fmt.Errorf("channel %q: %w", name, core.ErrNotFound)
	}
	return QueueHandle(name), nil
}

func (b *Broker) CreateChannel(_ context.Context, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fault(OpCreateChannel); err != nil {
		return "", err
	}
	if _, ok := b.queues[name]; !ok {
		b.queues[name] = &queue{ready: make(chan struct{})}
	}
	return QueueHandle(name), nil
}

func (b *Broker) Subscribe(_ context.Context, channel, topic string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fault(OpSubscribe); err != nil {
		return "", err
	}
	qname, _ := strings.CutPrefix(channel, queueHandlePrefix)
	tname, _ := strings.CutPrefix(topic, topicHandlePrefix)
	if _, ok := b.queues[qname]; !ok {
		return "", fmt.Errorf("channel %q: %w", qname, core.ErrNotFound)
	}
	if !b.topics[tname] {
		return "", fmt.Errorf("topic %q: %w", tname, core.ErrNotFound)
	}
	id := "memory:sub:" + uuid.NewString()
	b.subs[id] = subscription{topic: tname, queue: qname}
	return id, nil
}

func (b *Broker) Unsubscribe(_ context.Context, subscription string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fault(OpUnsubscribe); err != nil {
		return err
	}
	if _, ok := b.subs[subscription]; !ok {
		return fmt.Errorf("subscription %q: %w", subscription, core.ErrNotFound)
	}
	delete(b.subs, subscription)
	return nil
}

func (b *Broker) DeleteChannel(_ context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fault(OpDeleteChannel); err != nil {
		return err
	}
	name, _ := strings.CutPrefix(channel, queueHandlePrefix)
	if _, ok := b.queues[name]; !ok {
		return fmt.Errorf("channel %q: %w", name, core.ErrNotFound)
	}
	b.deleteQueueLocked(name)
	return nil
}

// DeleteChannelsWithPrefix deletes every channel whose name starts with prefix.
func (b *Broker) DeleteChannelsWithPrefix(_ context.Context, prefix string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fault(OpDeleteChannel); err != nil {
		return err
	}
	for name := range b.queues {
		if strings.HasPrefix(name, prefix) {
			b.deleteQueueLocked(name)
		}
	}
	return nil
}

func (b *Broker) deleteQueueLocked(name string) {
	q := b.queues[name]
	delete(b.queues, name)
	close(q.ready)
	for id, sub := range b.subs {
		if sub.queue == name {
			delete(b.subs, id)
		}
	}
}

// Send puts a message straight into a channel and returns its id.
func (b *Broker) Send(_ context.Context, channel, body string) (string, error) {
	id := uuid.NewString()
	return id, b.SendWithID(channel, id, body)
}

// SendWithID puts a message with a caller-chosen id into a channel.
// Reusing an id simulates a redelivery.
func (b *Broker) SendWithID(channel, id, body string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, _ := strings.CutPrefix(channel, queueHandlePrefix)
	if _, ok := b.queues[name]; !ok {
		return fmt.Errorf("channel %q: %w", name, core.ErrNotFound)
	}
	b.enqueueLocked(name, Message{ID: id, Body: body})
	return nil
}

func (b *Broker) enqueueLocked(name string, m Message) {
	q, ok := b.queues[name]
	if !ok {
		return
	}
	q.messages = append(q.messages, m)
	close(q.ready)
	q.ready = make(chan struct{})
}

// Receive removes and returns up to limit messages from channel, waiting up
// to wait for the first one to arrive.
func (b *Broker) Receive(ctx context.Context, channel string, limit int, wait time.Duration) ([]Message, error) {
	name, _ := strings.CutPrefix(channel, queueHandlePrefix)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		b.mu.Lock()
		if err := b.fault(OpReceive); err != nil {
			b.mu.Unlock()
			return nil, err
		}
		q, ok := b.queues[name]
		if !ok {
			b.mu.Unlock()
			return nil, fmt.Errorf("channel %q: %w", name, core.ErrNotFound)
		}
		if n := min(limit, len(q.messages)); n > 0 {
			out := slices.Clone(q.messages[:n])
			q.messages = q.messages[n:]
			b.mu.Unlock()
			return out, nil
		}
		ready := q.ready
		b.mu.Unlock()

		select {
		case <-ready:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Topics returns the names of the existing topics.
func (b *Broker) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.topics))
	for name := range b.topics {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Channels returns the names of the existing channels.
func (b *Broker) Channels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Published returns every payload published to the named topic.
func (b *Broker) Published(name string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.published[name])
}

// Events decodes the lifecycle events published to the named topic.
func (b *Broker) Events(name string) ([]core.LifecycleEvent, error) {
	var events []core.LifecycleEvent
	for _, raw := range b.Published(name) {
		e, err := core.DecodeEvent(raw)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
