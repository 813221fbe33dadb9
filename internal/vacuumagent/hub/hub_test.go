package hub

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/core"
	"github.com/autopeer-io/vacuumsim/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/vacuumsim/pkg/mqtt/topic"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
	id       string
}

// fakeClient is a single-process broker behind the mqtt.Client interface.
// Handlers run synchronously on the publishing goroutine.
type fakeClient struct {
	mu        sync.Mutex
	retained  map[string][]byte
	handlers  map[string]mqtt.MessageHandler
	published []published
	failPub   error
	seq       int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		retained: make(map[string][]byte),
		handlers: make(map[string]mqtt.MessageHandler),
	}
}

var _ mqtt.Client = (*fakeClient)(nil)

func (c *fakeClient) Start(context.Context) error           { return nil }
func (c *fakeClient) Disconnect(context.Context)            {}
func (c *fakeClient) AwaitConnection(context.Context) error { return nil }
func (c *fakeClient) IsConnected() bool                     { return true }

func match(filter, topic string) bool {
	fp, tp := strings.Split(filter, "/"), strings.Split(topic, "/")
	if len(fp) != len(tp) {
		return false
	}
	for i := range fp {
		if fp[i] != "+" && fp[i] != tp[i] {
			return false
		}
	}
	return true
}

func (c *fakeClient) Publish(ctx context.Context, topic string, _ int, retain bool, payload []byte, opts ...mqtt.PublishOption) error {
	c.mu.Lock()
	if c.failPub != nil {
		c.mu.Unlock()
		return c.failPub
	}
	id := ""
	if len(opts) > 0 {
		c.seq++
		id = fmt.Sprintf("m-%d", c.seq)
	}
	c.published = append(c.published, published{topic: topic, payload: payload, retained: retain, id: id})
	if retain {
		if len(payload) == 0 {
			delete(c.retained, topic)
		} else {
			c.retained[topic] = payload
		}
	}
	var targets []mqtt.MessageHandler
	for filter, h := range c.handlers {
		if match(filter, topic) {
			targets = append(targets, h)
		}
	}
	c.mu.Unlock()

	for _, h := range targets {
		h(mqtt.NewDeliveryContext(ctx, id, false), topic, payload)
	}
	return nil
}

func (c *fakeClient) deliver(topic, id string, payload []byte) {
	c.mu.Lock()
	var targets []mqtt.MessageHandler
	for filter, h := range c.handlers {
		if match(filter, topic) {
			targets = append(targets, h)
		}
	}
	c.mu.Unlock()
	for _, h := range targets {
		h(mqtt.NewDeliveryContext(context.Background(), id, false), topic, payload)
	}
}

func (c *fakeClient) Subscribe(ctx context.Context, filter string, _ int, handler mqtt.MessageHandler) error {
	c.mu.Lock()
	c.handlers[filter] = handler
	type replay struct {
		topic   string
		payload []byte
	}
	var rs []replay
	for topic, payload := range c.retained {
		if match(filter, topic) {
			rs = append(rs, replay{topic, payload})
		}
	}
	c.mu.Unlock()

	for _, r := range rs {
		handler(mqtt.NewDeliveryContext(ctx, "", true), r.topic, r.payload)
	}
	return nil
}

func (c *fakeClient) Unsubscribe(_ context.Context, filter string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, filter)
	return nil
}

func (c *fakeClient) subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for f := range c.handlers {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

func newTestHub() (*Hub, *fakeClient) {
	c := newFakeClient()
	return New(c, mqtttopic.NewBuilder("lab/vacuum"), 20*time.Millisecond), c
}

func TestTopicLifecycle(t *testing.T) {
	h, c := newTestHub()
	ctx := context.Background()

	if _, err := h.FindTopic(ctx, "VirtualVacuumRobot"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("FindTopic before create = %v, want ErrNotFound", err)
	}

	handle, err := h.CreateTopic(ctx, "VirtualVacuumRobot")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	if handle != "lab/vacuum/topics/VirtualVacuumRobot" {
		t.Errorf("handle = %q", handle)
	}
	if _, ok := c.retained["lab/vacuum/meta/topics/VirtualVacuumRobot"]; !ok {
		t.Error("no retained descriptor after CreateTopic")
	}

	found, err := h.FindTopic(ctx, "VirtualVacuumRobot")
	if err != nil || found != handle {
		t.Errorf("FindTopic = %q, %v; want %q", found, err, handle)
	}
	if subs := c.subscribed(); len(subs) != 0 {
		t.Errorf("lookup left subscriptions behind: %v", subs)
	}

	if err := h.DeleteTopic(ctx, handle); err != nil {
		t.Fatalf("DeleteTopic: %v", err)
	}
	if _, err := h.FindTopic(ctx, "VirtualVacuumRobot"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindTopic after delete = %v, want ErrNotFound", err)
	}
	if err := h.DeleteTopic(ctx, "elsewhere/x"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("DeleteTopic of a foreign handle = %v, want ErrNotFound", err)
	}
}

func TestPublishSetsMessageID(t *testing.T) {
	h, c := newTestHub()
	if err := h.Publish(context.Background(), "lab/vacuum/topics/x", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	last := c.published[len(c.published)-1]
	if last.retained || last.id == "" {
		t.Errorf("published = %+v, want a non-retained message with an id", last)
	}
}

func TestCreateFailure(t *testing.T) {
	h, c := newTestHub()
	c.failPub = errors.New("not authorized")
	if _, err := h.CreateChannel(context.Background(), "q"); err == nil {
		t.Error("CreateChannel succeeded with a failing client")
	}
}

func TestDeleteChannelsWithPrefix(t *testing.T) {
	h, _ := newTestHub()
	ctx := context.Background()
	for _, name := range []string{"bot-7", "bot-7-old", "bot-8"} {
		if _, err := h.CreateChannel(ctx, name); err != nil {
			t.Fatal(err)
		}
	}

	if err := h.DeleteChannelsWithPrefix(ctx, "bot-7"); err != nil {
		t.Fatalf("DeleteChannelsWithPrefix: %v", err)
	}
	names, err := h.ListChannels(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "bot-8" {
		t.Errorf("channels = %v, want [bot-8]", names)
	}
}

func TestSubscribeValidatesHandles(t *testing.T) {
	h, _ := newTestHub()
	ctx := context.Background()

	if _, err := h.Subscribe(ctx, "lab/vacuum/topics/a", "lab/vacuum/topics/b"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Subscribe with a topic as channel = %v, want ErrNotFound", err)
	}
	id, err := h.Subscribe(ctx, "lab/vacuum/queues/a", "lab/vacuum/topics/b")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Unsubscribe(ctx, id); err != nil {
		t.Errorf("Unsubscribe: %v", err)
	}
	if err := h.Unsubscribe(ctx, id); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second Unsubscribe = %v, want ErrNotFound", err)
	}
}

func TestListener(t *testing.T) {
	h, c := newTestHub()
	ctx := context.Background()

	channel, _ := h.CreateChannel(ctx, "VirtualVacuumBotQueue-42")
	topic, _ := h.CreateTopic(ctx, "VirtualVacuumRobot")
	if _, err := h.Subscribe(ctx, channel, topic); err != nil {
		t.Fatal(err)
	}

	var got []string
	l := h.NewListener()
	err := l.StartListening(ctx, channel, func(_ context.Context, messages []string) {
		got = append(got, messages...)
	})
	if err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	if err := l.StartListening(ctx, channel, func(context.Context, []string) {}); !errors.Is(err, ErrAlreadyListening) {
		t.Errorf("second StartListening = %v, want ErrAlreadyListening", err)
	}

	c.deliver(channel, "a", []byte(`{"action":"charge"}`))
	c.deliver(topic, "b", []byte("START"))
	c.deliver(topic, "b", []byte("START"))
	c.deliver(channel, "", []byte(`{"action":"status"}`))

	want := []string{`{"action":"charge"}`, "START", `{"action":"status"}`}
	if !slices.Equal(got, want) {
		t.Errorf("delivered = %v, want %v", got, want)
	}

	l.StopListening()
	if subs := c.subscribed(); len(subs) != 0 {
		t.Errorf("subscriptions after StopListening = %v", subs)
	}
	c.deliver(channel, "c", []byte("CHARGE"))
	if len(got) != len(want) {
		t.Error("message delivered after StopListening")
	}
}

func TestWatch(t *testing.T) {
	h, c := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- h.Watch(ctx, h.Builder().Wildcard("topics"), func(_ context.Context, topic string, _ []byte) {
			got <- topic
		})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for len(c.subscribed()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Watch never subscribed")
		}
		time.Sleep(time.Millisecond)
	}
	c.deliver("lab/vacuum/topics/VirtualVacuumRobot_General", "x", []byte("{}"))
	if topic := <-got; topic != "lab/vacuum/topics/VirtualVacuumRobot_General" {
		t.Errorf("topic = %q", topic)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch: %v", err)
	}
	if subs := c.subscribed(); len(subs) != 0 {
		t.Errorf("subscriptions after Watch returned = %v", subs)
	}
}
