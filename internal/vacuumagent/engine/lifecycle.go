package engine

import (
	"context"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/looplab/fsm"

	"github.com/autopeer-io/vacuumsim/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/vacuumsim/internal/pkg/util/fsm"
)

// Phases of a robot as seen by the status endpoint.
const (
	PhaseIdle     = "idle"
	PhaseCleaning = "cleaning"
	PhaseCharging = "charging"
	PhaseShutdown = "shutdown"
)

var phases = []string{PhaseIdle, PhaseCleaning, PhaseCharging, PhaseShutdown}

const (
	transitionClean    = "clean"
	transitionCharge   = "charge"
	transitionFinish   = "finish"
	transitionShutdown = "shutdown"
)

// lifecycle tracks the coarse phase of the robot. Event emission does not
// depend on it; it feeds Status and the lifecycle_phase metric.
type lifecycle struct {
	fsm    *fsm.FSM
	device string
	log    logr.Logger
}

func newLifecycle(deviceID int, log logr.Logger) *lifecycle {
	l := &lifecycle{device: strconv.Itoa(deviceID), log: log}

	l.fsm = fsm.NewFSM(
		PhaseIdle,
		fsm.Events{
			{Name: transitionClean, Src: []string{PhaseIdle, PhaseCharging}, Dst: PhaseCleaning},
			{Name: transitionCharge, Src: []string{PhaseIdle, PhaseCleaning}, Dst: PhaseCharging},
			{Name: transitionFinish, Src: []string{PhaseCleaning, PhaseCharging}, Dst: PhaseIdle},
			{Name: transitionShutdown, Src: []string{PhaseIdle, PhaseCleaning, PhaseCharging}, Dst: PhaseShutdown},
		},
		fsm.Callbacks{
			"enter_state": fsmutil.WrapEvent(l.onEnterState),
		},
	)

	l.record(PhaseIdle)
	return l
}

func (l *lifecycle) onEnterState(_ context.Context, e *fsm.Event) error {
	l.log.V(1).Info("Lifecycle transition", "event", e.Event, "from", e.Src, "to", e.Dst)
	return l.record(e.Dst)
}

func (l *lifecycle) record(current string) error {
	for _, p := range phases {
		g, err := metrics.LifecyclePhase.GetMetricWithLabelValues(l.device, p)
		if err != nil {
			return err
		}
		if p == current {
			g.Set(1)
		} else {
			g.Set(0)
		}
	}
	return nil
}

// fire applies a transition. Transitions that are not valid in the current
// phase are ignored.
func (l *lifecycle) fire(ctx context.Context, transition string) {
	if err := fsmutil.IgnoreRejected(l.fsm.Event(ctx, transition)); err != nil {
		l.log.Error(err, "Lifecycle transition failed", "event", transition)
	}
}

func (l *lifecycle) current() string {
	return l.fsm.Current()
}
