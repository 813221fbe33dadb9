package vacuumagent

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/autopeer-io/vacuumsim/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/core"
	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/engine"
	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/hub"
	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/memory"
	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/server"
	"github.com/autopeer-io/vacuumsim/pkg/log"
	"github.com/autopeer-io/vacuumsim/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/vacuumsim/pkg/mqtt/topic"
	"github.com/autopeer-io/vacuumsim/pkg/options"
)

type Config struct {
	MqttOptions  *options.MqttOptions
	HttpOptions  *options.HttpOptions
	RobotOptions *options.RobotOptions
}

// Presence is the retained payload of {root}/presence/{deviceID}.
type Presence struct {
	DeviceID int  `json:"id"`
	Online   bool `json:"online"`
}

// NewAgent connects the transport and constructs the robot. Construction
// provisions topics and the command channel, so the broker must be reachable.
func (cfg *Config) NewAgent(ctx context.Context) (*Agent, error) {
	ro := cfg.RobotOptions

	id := ro.DeviceID
	if id == 0 {
		id = 100 + rand.IntN(9900)
	}

	a := &Agent{deviceID: id, robot: ro, ready: func() bool { return true }}

	var (
		sink   core.EventSink
		source core.CommandSource
	)
	switch ro.Transport {
	case options.TransportMemory:
		broker := memory.NewBroker(
			memory.WithLogger(log.Logr().WithName("memory")),
			memory.WithPollWindow(ro.PollWindow),
		)
		sink = broker
		if ro.ListenForCommands {
			source = broker.NewSource()
		}

	default:
		h, err := cfg.initHub(ctx, id)
		if err != nil {
			return nil, err
		}
		a.hub = h
		a.ready = h.IsConnected
		sink = h
		if ro.ListenForCommands {
			source = h.NewListener()
		}
	}

	ecfg := engine.NewConfig(sink)
	ecfg.Source = source
	ecfg.DeviceID = id
	ecfg.Tick = ro.TickDuration()
	ecfg.DustbinCapacity = ro.DustbinCapacity
	ecfg.StuckChance = ro.StuckChance
	ecfg.Seed = ro.Seed
	ecfg.TopicPrefix = ro.TopicPrefix
	ecfg.QueuePrefix = ro.QueuePrefix
	ecfg.Logger = log.Logr().WithName("engine")

	e, err := engine.New(ctx, ecfg)
	if err != nil {
		a.stopHub()
		return nil, fmt.Errorf("failed to construct robot %d: %w", id, err)
	}
	a.engine = e

	if cfg.HttpOptions != nil && cfg.HttpOptions.Enabled {
		a.server = server.NewServer(cfg.HttpOptions, e.Status, a.ready)
	}

	return a, nil
}

func (cfg *Config) initHub(ctx context.Context, id int) (*hub.Hub, error) {
	topicBuilder := mqtttopic.NewBuilder(cfg.MqttOptions.TopicRoot)
	device := strconv.Itoa(id)

	mqttConfig := cfg.MqttOptions.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = "vacuumd-" + device
	}

	offline, _ := json.Marshal(Presence{DeviceID: id, Online: false})
	mqttConfig.WillTopic = topicBuilder.Build(paths.Presence, device)
	mqttConfig.WillPayload = offline
	mqttConfig.WillQoS = 1
	mqttConfig.WillRetain = true

	mqttClient, err := mqtt.NewClient(mqttConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to init mqtt client: %w", err)
	}

	h := hub.New(mqttClient, topicBuilder, cfg.MqttOptions.LookupTimeout)
	if err := h.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.MqttOptions.Broker, err)
	}
	return h, nil
}
