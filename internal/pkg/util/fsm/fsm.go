package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// WrapEvent adapts an error-returning callback to fsm.Callback. The error is
// stored on the event and returned by FSM.Event.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// IgnoreRejected drops the errors looplab/fsm returns for events that are not
// valid in the current state or cause no transition.
func IgnoreRejected(err error) error {
	var (
		invalid  fsm.InvalidEventError
		noChange fsm.NoTransitionError
	)
	if errors.As(err, &invalid) || errors.As(err, &noChange) {
		return nil
	}
	return err
}
