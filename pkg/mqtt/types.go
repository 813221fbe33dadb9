package mqtt

import (
	"context"
)

// MessageHandler is the callback for received MQTT messages. Deliveries for a
// single subscription are invoked sequentially, in arrival order.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client defines the interface for a generic MQTT client.
// It abstracts the underlying paho implementation details.
type Client interface {
	// Start initiates the connection to the broker.
	// It is non-blocking and returns immediately. Use AwaitConnection to wait.
	Start(ctx context.Context) error

	// Disconnect cleanly closes the connection.
	Disconnect(ctx context.Context)

	// Publish sends a message to the specified topic.
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte, opts ...PublishOption) error

	// Subscribe registers a handler for a specific topic filter.
	// If the connection is lost and restored, the client re-subscribes automatically.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	// Unsubscribe removes the handler and sends an UNSUBSCRIBE packet.
	Unsubscribe(ctx context.Context, topic string) error

	// AwaitConnection blocks until the client is connected to the broker.
	AwaitConnection(ctx context.Context) error

	// IsConnected returns true if the client is currently connected.
	IsConnected() bool
}

// PublishOption customises an outgoing PUBLISH packet.
type PublishOption func(*publishOptions)

type publishOptions struct {
	messageID   string
	contentType string
}

// WithMessageID attaches a message id as the "message-id" user property.
// Subscribers read it back with MessageIDFromContext.
func WithMessageID(id string) PublishOption {
	return func(o *publishOptions) { o.messageID = id }
}

// WithContentType sets the MQTT v5 content type property.
func WithContentType(ct string) PublishOption {
	return func(o *publishOptions) { o.contentType = ct }
}

// UserPropertyMessageID is the user property key carrying message ids.
const UserPropertyMessageID = "message-id"

type messageIDKey struct{}

type retainedKey struct{}

// NewDeliveryContext returns the context a MessageHandler receives for a
// delivery. Client implementations other than the paho one use it too.
func NewDeliveryContext(ctx context.Context, id string, retained bool) context.Context {
	ctx = context.WithValue(ctx, messageIDKey{}, id)
	return context.WithValue(ctx, retainedKey{}, retained)
}

// MessageIDFromContext returns the message id of the delivery being handled,
// or "" if the publisher did not set one.
func MessageIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(messageIDKey{}).(string)
	return id
}

// RetainedFromContext reports whether the delivery being handled was a
// retained message replayed by the broker.
func RetainedFromContext(ctx context.Context) bool {
	r, _ := ctx.Value(retainedKey{}).(bool)
	return r
}
