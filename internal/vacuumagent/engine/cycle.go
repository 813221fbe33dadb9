package engine

import (
	"context"

	"github.com/autopeer-io/vacuumsim/internal/pkg/metrics"
	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/core"
)

// RunOneCleaningCycle runs a single cleaning cycle: STARTED, CLEANING steps
// until the power floor, a fault, or a stop request, then ENDED. A cycle
// that ends at or below the power floor requests charging.
func (e *Engine) RunOneCleaningCycle(ctx context.Context) {
	if e.isShutdown() {
		return
	}

	e.state.beginCleaning()
	e.lifecycle.fire(ctx, transitionClean)
	metrics.CyclesTotal.WithLabelValues(e.device, PhaseCleaning).Inc()

	rate := e.uniform(minDeclineRate, maxDeclineRate)
	e.emit(core.EventStarted, "")

	for {
		s := e.state.snapshot()
		if !s.cleaning || s.power <= lowPower {
			break
		}
		if !e.sleep(ctx) {
			break
		}

		s = e.state.snapshot()
		if s.power < lowPower {
			e.state.requestCharging()
			break
		}
		if e.stuck() {
			e.emit(core.EventStuck, core.FormatPower(s.power))
			break
		}
		if capacity, _ := e.tunables(); s.runCount > capacity {
			e.emit(core.EventDustbinFull, core.FormatPower(s.power))
			break
		}

		power := e.state.drain(rate)
		metrics.PowerPercent.WithLabelValues(e.device).Set(power)
		e.emit(core.EventCleaning, core.FormatPower(power))
	}

	e.state.cancelCleaning()
	e.emit(core.EventEnded, "")
	if e.Power() <= lowPower {
		e.state.requestCharging()
	}
	e.lifecycle.fire(ctx, transitionFinish)
}

// RunOneChargingCycle runs a single charging cycle: STARTED_CHARGE, then
// CHARGING steps from an empty battery up to exactly 100 unless charging is
// cancelled, then SLEEPING.
func (e *Engine) RunOneChargingCycle(ctx context.Context) {
	if e.isShutdown() {
		return
	}

	e.lifecycle.fire(ctx, transitionCharge)
	metrics.CyclesTotal.WithLabelValues(e.device, PhaseCharging).Inc()

	rate := e.uniform(minChargeRate, maxChargeRate)
	e.emit(core.EventStartedCharge, "")
	e.state.beginCharging()
	metrics.PowerPercent.WithLabelValues(e.device).Set(0)

	for {
		s := e.state.snapshot()
		if !s.charging || s.power >= maxPower {
			break
		}
		if !e.sleep(ctx) {
			break
		}

		power := e.state.charge(rate)
		metrics.PowerPercent.WithLabelValues(e.device).Set(power)
		e.emit(core.EventCharging, core.FormatPower(power))
	}

	e.state.cancelCharging()
	e.emit(core.EventSleeping, "")
	e.lifecycle.fire(ctx, transitionFinish)
}

// sleep waits one tick. It returns false if the robot shut down or ctx
// was cancelled meanwhile.
func (e *Engine) sleep(ctx context.Context) bool {
	if e.tick <= 0 {
		select {
		case <-e.done:
			return false
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}

	t := e.clock.NewTimer(e.tick)
	defer t.Stop()

	select {
	case <-t.C():
		return true
	case <-e.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// stuck draws the per-tick stuck trial.
func (e *Engine) stuck() bool {
	_, chance := e.tunables()
	if chance <= 0 {
		return false
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.IntN(chance) == 0
}

// uniform draws from [lo, hi).
func (e *Engine) uniform(lo, hi float64) float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return lo + e.rng.Float64()*(hi-lo)
}
