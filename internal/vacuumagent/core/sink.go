package core

import (
	"context"
)

// TopicProvisioner looks up and creates notification topics by logical name.
// Both return an opaque handle used by Publish and DeleteTopic.
type TopicProvisioner interface {
	FindTopic(ctx context.Context, name string) (string, error)
	CreateTopic(ctx context.Context, name string) (string, error)
}

// EventSink receives the lifecycle events of a robot.
type EventSink interface {
	TopicProvisioner

	Publish(ctx context.Context, topic string, payload []byte) error
	DeleteTopic(ctx context.Context, topic string) error
}

// BatchHandler is invoked with every batch of raw command messages, in
// delivery order. Batches are never delivered concurrently.
type BatchHandler func(ctx context.Context, messages []string)

// CommandSource delivers deduplicated commands addressed to one robot.
type CommandSource interface {
	FindChannel(ctx context.Context, name string) (string, error)
	CreateChannel(ctx context.Context, name string) (string, error)

	// Subscribe routes messages published on topic into channel and returns
	// a subscription handle for Unsubscribe.
	Subscribe(ctx context.Context, channel, topic string) (string, error)
	Unsubscribe(ctx context.Context, subscription string) error

	// StartListening polls channel in the background until StopListening
	// is called or ctx is done.
	StartListening(ctx context.Context, channel string, onBatch BatchHandler) error
	StopListening()

	DeleteChannel(ctx context.Context, channel string) error
	DeleteChannelsWithPrefix(ctx context.Context, prefix string) error
}
