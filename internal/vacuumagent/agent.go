package vacuumagent

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/vacuumsim/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/engine"
	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/hub"
	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/server"
	"github.com/autopeer-io/vacuumsim/pkg/log"
	"github.com/autopeer-io/vacuumsim/pkg/options"
)

// Agent runs one robot together with its status server.
type Agent struct {
	deviceID int
	robot    *options.RobotOptions

	engine *engine.Engine
	hub    *hub.Hub
	server *server.Server
	ready  server.ReadyFunc
}

// Engine returns the robot driven by the agent.
func (a *Agent) Engine() *engine.Engine {
	return a.engine
}

// Run blocks until ctx is done or the robot shuts down on a remote command.
func (a *Agent) Run(ctx context.Context) error {
	log.Info("Starting vacuumd", "device", a.deviceID, "transport", a.robot.Transport, "tick", a.robot.TickDuration())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.announce(ctx, true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The status server stops together with the robot.
		defer cancel()

		if a.robot.AutoStart {
			a.engine.RequestCleaning()
		}
		err := a.engine.Run(gctx)
		if a.robot.TeardownOnExit {
			a.engine.Teardown(context.Background())
		}
		return err
	})
	if a.server != nil {
		g.Go(func() error {
			return a.server.Start(gctx)
		})
	}

	err := g.Wait()
	log.Info("Agent shutting down...", "device", a.deviceID)

	a.announce(context.Background(), false)
	a.stopHub()
	_ = log.Sync()
	return err
}

// ApplyTunables updates the live robot after a configuration reload.
func (a *Agent) ApplyTunables(dustbinCapacity, stuckChance int) {
	a.engine.SetTunables(dustbinCapacity, stuckChance)
}

// announce publishes the retained presence of the robot.
func (a *Agent) announce(ctx context.Context, online bool) {
	if a.hub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	payload, _ := json.Marshal(Presence{DeviceID: a.deviceID, Online: online})
	topic := a.hub.Builder().Build(paths.Presence, strconv.Itoa(a.deviceID))
	if err := a.hub.PublishRetained(ctx, topic, payload); err != nil {
		log.Error(err, "Failed to publish presence", "online", online)
	}
}

func (a *Agent) stopHub() {
	if a.hub != nil {
		a.hub.Stop()
	}
}
