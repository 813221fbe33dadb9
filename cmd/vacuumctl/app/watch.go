package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/vacuumsim/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/core"
	"github.com/autopeer-io/vacuumsim/pkg/log"
)

func newWatchCommand(ctx context.Context, o *ctlOptions) *cobra.Command {
	var (
		count   int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Collect lifecycle events and print them as a table",
		Long: `Subscribe to every event topic and collect lifecycle events until --count
events arrived, --timeout elapsed or the command is interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := o.connect(ctx)
			if err != nil {
				return err
			}
			defer h.Stop()

			wctx, cancel := context.WithCancel(ctx)
			defer cancel()
			if timeout > 0 {
				wctx, cancel = context.WithTimeout(wctx, timeout)
				defer cancel()
			}

			var (
				mu     sync.Mutex
				events []eventRow
			)
			filter := h.Builder().Wildcard(paths.Topics)
			err = h.Watch(wctx, filter, func(_ context.Context, topic string, payload []byte) {
				ev, err := core.DecodeEvent(payload)
				if err != nil || ev.Kind == "" {
					log.Debug("Skipping non-event message", "topic", topic)
					return
				}
				name, _ := h.Builder().Name(paths.Topics, topic)

				mu.Lock()
				defer mu.Unlock()
				events = append(events, eventRow{topic: name, event: ev})
				if count > 0 && len(events) >= count {
					cancel()
				}
			})
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			printEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many events (0 waits until interrupted).")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Stop after this long (0 waits until interrupted).")
	return cmd
}

type eventRow struct {
	topic string
	event core.LifecycleEvent
}

func printEvents(w io.Writer, rows []eventRow) {
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("TIME", "DEVICE", "EVENT", "MESSAGE", "TOPIC")
	for _, r := range rows {
		table.AddRow(
			r.event.Timestamp.Local().Format(time.TimeOnly),
			r.event.DeviceID,
			r.event.Kind,
			r.event.Detail,
			r.topic,
		)
	}
	fmt.Fprintln(w, table)
}
