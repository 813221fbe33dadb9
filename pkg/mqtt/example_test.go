package mqtt_test

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/autopeer-io/vacuumsim/pkg/log"
	"github.com/autopeer-io/vacuumsim/pkg/mqtt"
)

// ExampleClient connects to a broker, listens on a robot command queue and
// sends a structured command to it.
func ExampleClient() {
	cfg := &mqtt.ClientConfig{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "vacuumctl-example",
		KeepAlive:      60,
		ConnectTimeout: 5 * time.Second,
		CleanStart:     true,
	}

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		log.Error(err, "Failed to create MQTT client")
		return
	}

	// Start returns immediately; reconnects happen in the background.
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		log.Error(err, "Failed to start MQTT client")
		return
	}
	defer client.Disconnect(ctx)

	queue := "vacuum/queues/VirtualVacuumBotQueue-4242"
	err = client.Subscribe(ctx, queue, 1, func(ctx context.Context, topic string, payload []byte) {
		fmt.Printf("[%s] %s on %s\n", mqtt.MessageIDFromContext(ctx), payload, topic)
	})
	if err != nil {
		log.Error(err, "Failed to subscribe", "topic", queue)
	}

	if err := client.AwaitConnection(ctx); err != nil {
		log.Error(err, "Connection timed out")
		return
	}

	payload := []byte(`{"action":"start","id":"4242"}`)
	if err := client.Publish(ctx, queue, 1, false, payload, mqtt.WithMessageID(uuid.NewString())); err != nil {
		log.Error(err, "Failed to publish message", "topic", queue)
	}
}
