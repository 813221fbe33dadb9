package engine

import (
	"context"
	"sync"

	"github.com/go-logr/logr"

	"github.com/autopeer-io/vacuumsim/internal/pkg/metrics"
	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/core"
)

const ingestorBacklog = 64

// ingestor decodes command batches delivered by the CommandSource and
// applies them to the engine on its own goroutine, so neither the source's
// poller nor the simulation loop ever waits on the other.
type ingestor struct {
	e   *Engine
	log logr.Logger

	batches  chan []string
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newIngestor(e *Engine, log logr.Logger) *ingestor {
	return &ingestor{
		e:       e,
		log:     log,
		batches: make(chan []string, ingestorBacklog),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// enqueue is the core.BatchHandler given to the command source.
func (in *ingestor) enqueue(ctx context.Context, messages []string) {
	if len(messages) == 0 {
		return
	}
	select {
	case in.batches <- messages:
	case <-in.stopCh:
	case <-ctx.Done():
	}
}

func (in *ingestor) run(ctx context.Context) {
	defer close(in.done)

	for {
		select {
		case batch := <-in.batches:
			in.handle(ctx, batch)
		case <-in.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// stop makes run return. It does not wait, so it may be called from the
// ingestor goroutine itself.
func (in *ingestor) stop() {
	in.stopOnce.Do(func() { close(in.stopCh) })
}

func (in *ingestor) handle(ctx context.Context, batch []string) {
	for i, raw := range batch {
		cmd, err := core.DecodeCommand(raw)
		if err != nil {
			metrics.CommandsTotal.WithLabelValues("unknown", "rejected").Inc()
			if core.Skippable(err) {
				in.log.Info("Ignoring unrecognised message", "message", raw)
				continue
			}
			in.log.Error(err, "Malformed command, skipping rest of batch", "skipped", len(batch)-i-1)
			return
		}

		if !cmd.Targets(in.e.id) {
			metrics.CommandsTotal.WithLabelValues(string(cmd.Action), "ignored").Inc()
			in.log.V(1).Info("Command addressed to another device", "action", cmd.Action, "target", cmd.TargetID)
			continue
		}

		in.log.V(1).Info("Applying command", "action", cmd.Action, "legacy", cmd.Legacy)
		in.e.apply(ctx, cmd)
		metrics.CommandsTotal.WithLabelValues(string(cmd.Action), "applied").Inc()
	}
}

// apply performs the effect of a command addressed to this robot.
func (e *Engine) apply(ctx context.Context, cmd core.Command) {
	switch cmd.Action {
	case core.ActionStart:
		e.state.requestCleaning()
	case core.ActionStop:
		e.state.cancelCleaning()
	case core.ActionCharge:
		e.state.requestCharging()
	case core.ActionEmptyDustbin:
		e.state.resetRunCount()
	case core.ActionStatus:
		e.emit(core.EventStatus, core.FormatPower(e.Power()))
	case core.ActionShutdown:
		e.Shutdown()
	case core.ActionTeardown:
		e.Teardown(ctx)
	}
}
