package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/vacuumsim/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/vacuumsim/internal/vacuumagent"
)

func newTopicsCommand(ctx context.Context, o *ctlOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List provisioned topics, command channels and robot presence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := o.connect(ctx)
			if err != nil {
				return err
			}
			defer h.Stop()

			topics, err := h.ListTopics(ctx)
			if err != nil {
				return err
			}
			channels, err := h.ListChannels(ctx)
			if err != nil {
				return err
			}

			var (
				mu       sync.Mutex
				presence []vacuumagent.Presence
			)
			wctx, cancel := context.WithTimeout(ctx, o.mqtt.LookupTimeout)
			defer cancel()
			err = h.Watch(wctx, h.Builder().Wildcard(paths.Presence), func(_ context.Context, _ string, payload []byte) {
				var p vacuumagent.Presence
				if json.Unmarshal(payload, &p) != nil {
					return
				}
				mu.Lock()
				presence = append(presence, p)
				mu.Unlock()
			})
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			printResources(cmd.OutOrStdout(), topics, channels, presence)
			return nil
		},
	}
}

func printResources(w io.Writer, topics, channels []string, presence []vacuumagent.Presence) {
	table := uitable.New()
	table.AddRow("KIND", "NAME", "STATE")
	for _, t := range topics {
		table.AddRow("topic", t, "")
	}
	for _, c := range channels {
		table.AddRow("channel", c, "")
	}
	for _, p := range presence {
		state := "offline"
		if p.Online {
			state = "online"
		}
		table.AddRow("robot", p.DeviceID, state)
	}
	fmt.Fprintln(w, table)
}

