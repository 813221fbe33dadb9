package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/autopeer-io/vacuumsim/pkg/log"
)

// ErrNotStarted is returned by operations invoked before Start.
var ErrNotStarted = errors.New("mqtt client not started")

type pahoClient struct {
	cfg *ClientConfig
	cm  *autopaho.ConnectionManager

	// base is the context handed to message handlers.
	base      context.Context
	connected atomic.Bool

	// subscriptions holds the registered handlers.
	// Key: topic filter (string), Value: *subscriptionEntry
	subscriptions sync.Map
}

type delivery struct {
	ctx     context.Context
	topic   string
	payload []byte
}

type subscriptionEntry struct {
	topic   string
	qos     int
	handler MessageHandler

	msgs chan delivery
	done chan struct{}
	once sync.Once
}

func (e *subscriptionEntry) run() {
	for {
		select {
		case d := <-e.msgs:
			e.handler(d.ctx, d.topic, d.payload)
		case <-e.done:
			return
		}
	}
}

func (e *subscriptionEntry) stop() {
	e.once.Do(func() { close(e.done) })
}

// NewClient creates a new MQTT client implementing the Client interface.
func NewClient(cfg *ClientConfig) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config is required")
	}

	setDefaultConfig(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	return &pahoClient{
		cfg: cfg,
	}, nil
}

func (c *pahoClient) Start(ctx context.Context) error {
	brokerURL, _ := url.Parse(c.cfg.BrokerURL) // Already validated

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: c.cfg.CleanStart,
		SessionExpiryInterval:         c.cfg.SessionExpiry,
		ReconnectBackoff:              autopaho.NewConstantBackoff(3 * time.Second),
		ConnectTimeout:                c.cfg.ConnectTimeout,
		ConnectUsername:               c.cfg.Username,
		ConnectPassword:               []byte(c.cfg.Password),
		TlsCfg: &tls.Config{
			InsecureSkipVerify: c.cfg.InsecureSkipVerify,
		},
		WillMessage: c.willMessage(),
		ClientConfig: paho.ClientConfig{
			ClientID:           c.cfg.ClientID,
			OnClientError:      c.onClientError,
			OnServerDisconnect: c.onServerDisconnect,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.router,
			},
		},
		OnConnectionUp:   c.onConnectionUp,
		OnConnectionDown: c.onConnectionDown,
		OnConnectError:   c.onConnectError,
	}

	if c.cfg.Debug {
		pahoCfg.Debug = newPahoLogger(log.WithName("autopaho"))
		pahoCfg.PahoDebug = newPahoLogger(log.WithName("paho"))
	}

	log.Info("Starting MQTT Client", "broker", c.cfg.BrokerURL, "clientID", c.cfg.ClientID)

	c.base = context.WithoutCancel(ctx)
	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return err
	}
	c.cm = cm
	return nil
}

func (c *pahoClient) Disconnect(ctx context.Context) {
	if c.cm != nil {
		_ = c.cm.Disconnect(ctx)
		c.connected.Store(false)
		log.Info("MQTT Client disconnected")
	}

	c.subscriptions.Range(func(key, value any) bool {
		value.(*subscriptionEntry).stop()
		c.subscriptions.Delete(key)
		return true
	})
}

func (c *pahoClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte, opts ...PublishOption) error {
	if c.cm == nil {
		return ErrNotStarted
	}

	var po publishOptions
	for _, opt := range opts {
		opt(&po)
	}

	pub := &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	}
	if po.messageID != "" || po.contentType != "" {
		pub.Properties = &paho.PublishProperties{ContentType: po.contentType}
		if po.messageID != "" {
			pub.Properties.User = paho.UserProperties{{Key: UserPropertyMessageID, Value: po.messageID}}
		}
	}

	_, err := c.cm.Publish(ctx, pub)
	return err
}

func (c *pahoClient) Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error {
	if c.cm == nil {
		return ErrNotStarted
	}

	entry := &subscriptionEntry{
		topic:   topic,
		qos:     qos,
		handler: handler,
		msgs:    make(chan delivery, c.cfg.HandlerBuffer),
		done:    make(chan struct{}),
	}
	if prev, loaded := c.subscriptions.Swap(topic, entry); loaded {
		prev.(*subscriptionEntry).stop()
	}
	go entry.run()

	// If not connected, OnConnectionUp re-sends the subscription later.
	_, err := c.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: topic, QoS: byte(qos)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send subscription packet: %w", err)
	}

	log.Debug("Subscribed to topic", "topic", topic)
	return nil
}

func (c *pahoClient) Unsubscribe(ctx context.Context, topic string) error {
	if c.cm == nil {
		return ErrNotStarted
	}

	if prev, loaded := c.subscriptions.LoadAndDelete(topic); loaded {
		prev.(*subscriptionEntry).stop()
	}

	_, err := c.cm.Unsubscribe(ctx, &paho.Unsubscribe{
		Topics: []string{topic},
	})
	return err
}

func (c *pahoClient) AwaitConnection(ctx context.Context) error {
	if c.cm == nil {
		return ErrNotStarted
	}
	return c.cm.AwaitConnection(ctx)
}

func (c *pahoClient) IsConnected() bool {
	return c.connected.Load()
}

// --- Internal Callbacks ---

// onConnectionUp is called when the connection is established or re-established.
func (c *pahoClient) onConnectionUp(cm *autopaho.ConnectionManager, ack *paho.Connack) {
	c.connected.Store(true)
	log.Info("MQTT Connection established")

	c.subscriptions.Range(func(key, value any) bool {
		entry := value.(*subscriptionEntry)
		log.Debug("Re-subscribing", "topic", entry.topic)
		if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{
				{Topic: entry.topic, QoS: byte(entry.qos)},
			},
		}); err != nil {
			log.Error(err, "Failed to re-subscribe", "topic", entry.topic)
		}
		return true
	})
}

func (c *pahoClient) onConnectionDown() bool {
	c.connected.Store(false)
	log.Warn("MQTT Connection lost")
	return true
}

func (c *pahoClient) onConnectError(err error) {
	c.connected.Store(false)
	log.Error(err, "MQTT Connection failed, retrying...")
}

func (c *pahoClient) onClientError(err error) {
	log.Error(err, "MQTT Client internal error")
}

func (c *pahoClient) onServerDisconnect(d *paho.Disconnect) {
	c.connected.Store(false)
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	log.Warn("MQTT Server requested disconnect", "reason", reason)
}

// router dispatches incoming messages to the matching subscriptions' queues.
func (c *pahoClient) router(p paho.PublishReceived) (bool, error) {
	var id string
	if p.Packet.Properties != nil {
		id = p.Packet.Properties.User.Get(UserPropertyMessageID)
	}
	d := delivery{
		ctx:     NewDeliveryContext(c.base, id, p.Packet.Retain),
		topic:   p.Packet.Topic,
		payload: p.Packet.Payload,
	}

	matched := false
	c.subscriptions.Range(func(key, value any) bool {
		entry := value.(*subscriptionEntry)
		if topicsMatch(topicFilter(entry.topic), p.Packet.Topic) {
			select {
			case entry.msgs <- d:
			case <-entry.done:
			}
			matched = true
		}
		return true
	})

	if !matched {
		log.Debug("Received message on unhandled topic", "topic", p.Packet.Topic)
	}

	return true, nil
}

func (c *pahoClient) willMessage() *paho.WillMessage {
	if c.cfg.WillTopic == "" {
		return nil
	}
	return &paho.WillMessage{
		Topic:   c.cfg.WillTopic,
		Payload: c.cfg.WillPayload,
		QoS:     c.cfg.WillQoS,
		Retain:  c.cfg.WillRetain,
	}
}

// topicsMatch checks if a topic matches a filter (supports wildcards + and #).
func topicsMatch(filter, topic string) bool {
	if filter == topic {
		return true
	}

	if !strings.Contains(filter, "+") && !strings.Contains(filter, "#") {
		return false
	}

	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	for i, part := range filterParts {
		if part == "#" {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if part != "+" && part != topicParts[i] {
			return false
		}
	}

	return len(filterParts) == len(topicParts)
}

func topicFilter(filter string) string {
	if strings.HasPrefix(filter, "$share/") {
		// Format: $share/<group>/<topic>
		parts := strings.SplitN(filter, "/", 3)
		if len(parts) == 3 {
			return parts[2]
		}
	}
	return filter
}
