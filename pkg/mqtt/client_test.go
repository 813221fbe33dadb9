package mqtt

import (
	"context"
	"testing"
)

func TestTopicsMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"vacuum/topics/VirtualVacuumRobot", "vacuum/topics/VirtualVacuumRobot", true},
		{"vacuum/topics/+", "vacuum/topics/VirtualVacuumRobot_STUCK", true},
		{"vacuum/topics/+", "vacuum/topics/a/b", false},
		{"vacuum/#", "vacuum/meta/queues/VirtualVacuumBotQueue-4242", true},
		{"vacuum/meta/queues/+", "vacuum/meta/topics/x", false},
		{"vacuum/queues/q1", "vacuum/queues/q2", false},
		{"vacuum/+/q1", "vacuum/queues", false},
	}

	for _, tt := range tests {
		t.Run(tt.filter+"|"+tt.topic, func(t *testing.T) {
			if got := topicsMatch(tt.filter, tt.topic); got != tt.want {
				t.Errorf("topicsMatch(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
			}
		})
	}
}

func TestTopicFilter(t *testing.T) {
	if got := topicFilter("$share/robots/vacuum/queues/q1"); got != "vacuum/queues/q1" {
		t.Errorf("topicFilter() = %q", got)
	}
	if got := topicFilter("vacuum/queues/q1"); got != "vacuum/queues/q1" {
		t.Errorf("topicFilter() = %q", got)
	}
}

func TestClientConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ClientConfig
		wantErr bool
	}{
		{"tcp", ClientConfig{BrokerURL: "tcp://localhost:1883"}, false},
		{"wss", ClientConfig{BrokerURL: "wss://broker.example.com/mqtt"}, false},
		{"empty", ClientConfig{}, true},
		{"bad scheme", ClientConfig{BrokerURL: "http://localhost"}, true},
		{"bad will qos", ClientConfig{BrokerURL: "tcp://localhost:1883", WillQoS: 3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewClientDefaults(t *testing.T) {
	cfg := &ClientConfig{BrokerURL: "tcp://localhost:1883"}
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if cfg.KeepAlive != 60 || cfg.HandlerBuffer != 256 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true before Start")
	}
	if err := c.Publish(context.Background(), "t", 1, false, nil); err != ErrNotStarted {
		t.Errorf("Publish() error = %v, want ErrNotStarted", err)
	}
}

func TestDeliveryContext(t *testing.T) {
	ctx := NewDeliveryContext(context.Background(), "abc-123", true)
	if got := MessageIDFromContext(ctx); got != "abc-123" {
		t.Errorf("MessageIDFromContext() = %q", got)
	}
	if !RetainedFromContext(ctx) {
		t.Error("RetainedFromContext() = false")
	}
	if got := MessageIDFromContext(context.Background()); got != "" {
		t.Errorf("MessageIDFromContext(empty) = %q", got)
	}
}

func TestSubscriptionEntryOrder(t *testing.T) {
	got := make(chan string, 3)
	e := &subscriptionEntry{
		handler: func(_ context.Context, _ string, p []byte) { got <- string(p) },
		msgs:    make(chan delivery, 3),
		done:    make(chan struct{}),
	}
	go e.run()
	defer e.stop()

	for _, p := range []string{"1", "2", "3"} {
		e.msgs <- delivery{ctx: context.Background(), payload: []byte(p)}
	}
	for _, want := range []string{"1", "2", "3"} {
		if p := <-got; p != want {
			t.Fatalf("delivery = %s, want %s", p, want)
		}
	}
	e.stop()
}
