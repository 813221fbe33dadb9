package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/autopeer-io/vacuumsim/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/core"
)

type sendOptions struct {
	target int
	device int
	legacy bool
}

func newSendCommand(ctx context.Context, o *ctlOptions) *cobra.Command {
	so := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send ACTION",
		Short: "Publish a command to every robot or to one robot's channel",
		Long: `Publish a command. Without --device the command goes to the broadcast topic
and reaches every robot; --target restricts which robots act on it.

Actions: start, stop, charge, emptyDustbin, status, shutdown, teardown.
With --legacy only start and charge are available and are sent as bare tokens.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := so.payload(args[0])
			if err != nil {
				return err
			}

			h, err := o.connect(ctx)
			if err != nil {
				return err
			}
			defer h.Stop()

			dest := h.Builder().Build(paths.Topics, o.topicPrefix)
			if so.device != 0 {
				dest = h.Builder().Build(paths.Queues, o.queuePrefix+"-"+strconv.Itoa(so.device))
			}
			if err := h.Publish(ctx, dest, payload); err != nil {
				return fmt.Errorf("failed to publish to %s: %w", dest, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\n", payload, dest)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.IntVar(&so.target, "target", 0, "Device id the command is addressed to (0 addresses every robot).")
	fs.IntVar(&so.device, "device", 0, "Send to this device's command channel instead of the broadcast topic.")
	fs.BoolVar(&so.legacy, "legacy", false, "Send the bare START or CHARGE token.")
	return cmd
}

func (so *sendOptions) payload(verb string) ([]byte, error) {
	action, err := core.ParseAction(verb)
	if err != nil {
		return nil, err
	}
	if so.legacy && so.target != 0 {
		return nil, fmt.Errorf("--legacy commands cannot carry a --target")
	}

	cmd := core.Command{Action: action, Legacy: so.legacy}
	if so.target != 0 {
		cmd.TargetID = strconv.Itoa(so.target)
	}
	return core.EncodeCommand(cmd)
}
