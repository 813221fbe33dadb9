package app

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/hub"
	"github.com/autopeer-io/vacuumsim/pkg/log"
	"github.com/autopeer-io/vacuumsim/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/vacuumsim/pkg/mqtt/topic"
	"github.com/autopeer-io/vacuumsim/pkg/options"
)

type ctlOptions struct {
	mqtt        *options.MqttOptions
	log         *log.Options
	topicPrefix string
	queuePrefix string
}

func NewVacuumctlCommand(ctx context.Context, out io.Writer) *cobra.Command {
	o := &ctlOptions{
		mqtt:        options.NewMqttOptions(),
		log:         log.NewOptions(),
		topicPrefix: options.NewRobotOptions().TopicPrefix,
		queuePrefix: options.NewRobotOptions().QueuePrefix,
	}

	cmd := &cobra.Command{
		Use:          "vacuumctl",
		Short:        "Send commands to simulated vacuum robots and watch their events",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			errs := append(o.mqtt.Validate(), o.log.Validate()...)
			if len(errs) > 0 {
				return errs[0]
			}
			log.Init(o.log)
			return nil
		},
	}
	cmd.SetOut(out)

	pfs := cmd.PersistentFlags()
	o.mqtt.AddFlags(pfs)
	o.log.AddFlags(pfs)
	pfs.StringVar(&o.topicPrefix, "robot.topic-prefix", o.topicPrefix, "Prefix of the robots' event topics.")
	pfs.StringVar(&o.queuePrefix, "robot.queue-prefix", o.queuePrefix, "Prefix of the robots' command channels.")

	cmd.AddCommand(
		newSendCommand(ctx, o),
		newWatchCommand(ctx, o),
		newTopicsCommand(ctx, o),
	)
	return cmd
}

// connect starts a hub with a throwaway client id.
func (o *ctlOptions) connect(ctx context.Context) (*hub.Hub, error) {
	cfg := o.mqtt.ToClientConfig()
	if cfg.ClientID == "" {
		cfg.ClientID = "vacuumctl-" + uuid.NewString()[:8]
	}
	client, err := mqtt.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	h := hub.New(client, mqtttopic.NewBuilder(o.mqtt.TopicRoot), o.mqtt.LookupTimeout)
	if err := h.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", o.mqtt.Broker, err)
	}
	return h, nil
}
