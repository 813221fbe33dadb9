package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/core"
)

func setup(t *testing.T, b *Broker) (topic, channel string) {
	t.Helper()
	ctx := context.Background()
	var err error
	if topic, err = b.CreateTopic(ctx, "robots"); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	if channel, err = b.CreateChannel(ctx, "queue-1"); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if _, err = b.Subscribe(ctx, channel, topic); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	return topic, channel
}

func TestFindMissing(t *testing.T) {
	b := NewBroker()
	ctx := context.Background()

	if _, err := b.FindTopic(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindTopic error = %v, want ErrNotFound", err)
	}
	if _, err := b.FindChannel(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindChannel error = %v, want ErrNotFound", err)
	}
	if err := b.Publish(ctx, TopicHandle("nope"), []byte("x")); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Publish error = %v, want ErrNotFound", err)
	}
}

func TestPublishEnvelope(t *testing.T) {
	b := NewBroker()
	topic, channel := setup(t, b)
	ctx := context.Background()

	if err := b.Publish(ctx, topic, []byte(`{"action":"start"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msgs, err := b.Receive(ctx, channel, 10, time.Second)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Receive = %v, %v; want one message", msgs, err)
	}

	var envelope map[string]string
	if err := json.Unmarshal([]byte(msgs[0].Body), &envelope); err != nil {
		t.Fatalf("body is not an envelope: %v", err)
	}
	if envelope["Message"] != `{"action":"start"}` {
		t.Errorf("Message = %q", envelope["Message"])
	}
	if envelope["MessageId"] != msgs[0].ID {
		t.Errorf("MessageId = %q, want %q", envelope["MessageId"], msgs[0].ID)
	}

	cmd, err := core.DecodeCommand(msgs[0].Body)
	if err != nil || cmd.Action != core.ActionStart {
		t.Errorf("DecodeCommand(envelope) = %+v, %v", cmd, err)
	}

	if got := b.Published("robots"); len(got) != 1 {
		t.Errorf("Published = %d payloads, want 1", len(got))
	}
}

func TestPublishRaw(t *testing.T) {
	b := NewBroker(WithRawDelivery())
	topic, channel := setup(t, b)
	ctx := context.Background()

	if err := b.Publish(ctx, topic, []byte("START")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	msgs, _ := b.Receive(ctx, channel, 10, time.Second)
	if len(msgs) != 1 || msgs[0].Body != "START" {
		t.Errorf("Receive = %+v, want raw START", msgs)
	}
}

func TestReceiveLongPoll(t *testing.T) {
	b := NewBroker()
	_, channel := setup(t, b)
	ctx := context.Background()

	start := time.Now()
	msgs, err := b.Receive(ctx, channel, 10, 20*time.Millisecond)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("Receive on empty channel = %v, %v", msgs, err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Errorf("Receive returned before the poll window")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = b.Send(ctx, channel, "CHARGE")
	}()
	msgs, err = b.Receive(ctx, channel, 10, 5*time.Second)
	if err != nil || len(msgs) != 1 || msgs[0].Body != "CHARGE" {
		t.Errorf("Receive = %+v, %v; want CHARGE", msgs, err)
	}
}

func TestReceiveBatchLimit(t *testing.T) {
	b := NewBroker()
	_, channel := setup(t, b)
	ctx := context.Background()

	for range 5 {
		if _, err := b.Send(ctx, channel, "START"); err != nil {
			t.Fatal(err)
		}
	}
	first, _ := b.Receive(ctx, channel, 3, time.Second)
	second, _ := b.Receive(ctx, channel, 3, time.Second)
	if len(first) != 3 || len(second) != 2 {
		t.Errorf("batches = %d, %d; want 3, 2", len(first), len(second))
	}
}

func TestDeleteChannelsWithPrefix(t *testing.T) {
	b := NewBroker()
	ctx := context.Background()
	for _, name := range []string{"bot-1", "bot-1-old", "bot-2"} {
		if _, err := b.CreateChannel(ctx, name); err != nil {
			t.Fatal(err)
		}
	}

	if err := b.DeleteChannelsWithPrefix(ctx, "bot-1"); err != nil {
		t.Fatalf("DeleteChannelsWithPrefix: %v", err)
	}
	got := b.Channels()
	if len(got) != 1 || got[0] != "bot-2" {
		t.Errorf("Channels = %v, want [bot-2]", got)
	}
}

func TestDeleteTopicDropsSubscriptions(t *testing.T) {
	b := NewBroker()
	topic, channel := setup(t, b)
	ctx := context.Background()

	if err := b.DeleteTopic(ctx, topic); err != nil {
		t.Fatalf("DeleteTopic: %v", err)
	}
	if err := b.DeleteTopic(ctx, topic); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second DeleteTopic error = %v, want ErrNotFound", err)
	}

	if _, err := b.CreateTopic(ctx, "robots"); err != nil {
		t.Fatal(err)
	}
	_ = b.Publish(ctx, topic, []byte("START"))
	if msgs, _ := b.Receive(ctx, channel, 10, 10*time.Millisecond); len(msgs) != 0 {
		t.Errorf("channel still subscribed after topic deletion: %+v", msgs)
	}
}

func TestFail(t *testing.T) {
	b := NewBroker()
	ctx := context.Background()
	boom := errors.New("boom")

	b.Fail(OpCreateTopic, boom)
	if _, err := b.CreateTopic(ctx, "robots"); !errors.Is(err, boom) {
		t.Errorf("CreateTopic error = %v, want boom", err)
	}

	b.Fail(OpCreateTopic, nil)
	if _, err := b.CreateTopic(ctx, "robots"); err != nil {
		t.Errorf("CreateTopic after clearing fault: %v", err)
	}
}

func TestSourceDedup(t *testing.T) {
	b := NewBroker(WithPollWindow(10 * time.Millisecond))
	_, channel := setup(t, b)
	ctx := context.Background()

	var (
		mu  sync.Mutex
		got []string
	)
	received := make(chan struct{}, 16)

	src := b.NewSource()
	err := src.StartListening(ctx, channel, func(_ context.Context, messages []string) {
		mu.Lock()
		got = append(got, messages...)
		mu.Unlock()
		for range messages {
			received <- struct{}{}
		}
	})
	if err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	defer src.StopListening()

	if err := src.StartListening(ctx, channel, func(context.Context, []string) {}); !errors.Is(err, ErrAlreadyListening) {
		t.Errorf("second StartListening error = %v, want ErrAlreadyListening", err)
	}

	_ = b.SendWithID(channel, "m-1", "START")
	_ = b.SendWithID(channel, "m-1", "START")
	_ = b.SendWithID(channel, "m-2", "CHARGE")

	for range 2 {
		select {
		case <-received:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for messages")
		}
	}
	select {
	case <-received:
		t.Error("duplicate message was delivered")
	case <-time.After(50 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "START" || got[1] != "CHARGE" {
		t.Errorf("delivered = %v, want [START CHARGE]", got)
	}
}

func TestSourceMissingChannel(t *testing.T) {
	src := NewBroker().NewSource()
	err := src.StartListening(context.Background(), QueueHandle("nope"), func(context.Context, []string) {})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("StartListening error = %v, want ErrNotFound", err)
	}
	src.StopListening()
}
