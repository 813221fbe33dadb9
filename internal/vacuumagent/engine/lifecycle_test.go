package engine

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/autopeer-io/vacuumsim/internal/pkg/metrics"
)

func TestLifecycle(t *testing.T) {
	l := newLifecycle(9001, logr.Discard())
	ctx := context.Background()

	steps := []struct {
		transition string
		want       string
	}{
		{transitionClean, PhaseCleaning},
		{transitionClean, PhaseCleaning},
		{transitionFinish, PhaseIdle},
		{transitionFinish, PhaseIdle},
		{transitionCharge, PhaseCharging},
		{transitionClean, PhaseCleaning},
		{transitionShutdown, PhaseShutdown},
		{transitionClean, PhaseShutdown},
	}
	for _, s := range steps {
		l.fire(ctx, s.transition)
		if got := l.current(); got != s.want {
			t.Fatalf("after %s phase = %s, want %s", s.transition, got, s.want)
		}
	}

	for _, p := range phases {
		want := 0.0
		if p == PhaseShutdown {
			want = 1
		}
		if got := testutil.ToFloat64(metrics.LifecyclePhase.WithLabelValues("9001", p)); got != want {
			t.Errorf("lifecycle_phase{%s} = %v, want %v", p, got, want)
		}
	}
}
