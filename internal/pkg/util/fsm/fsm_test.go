package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/looplab/fsm"
)

func TestWrapEventAndIgnoreRejected(t *testing.T) {
	boom := errors.New("boom")
	m := fsm.NewFSM("idle",
		fsm.Events{
			{Name: "clean", Src: []string{"idle"}, Dst: "cleaning"},
			{Name: "explode", Src: []string{"cleaning"}, Dst: "broken"},
		},
		fsm.Callbacks{
			"enter_broken": WrapEvent(func(context.Context, *fsm.Event) error { return boom }),
		},
	)
	ctx := context.Background()

	if err := m.Event(ctx, "clean"); err != nil {
		t.Fatalf("Event(clean) error = %v", err)
	}
	if err := IgnoreRejected(m.Event(ctx, "clean")); err != nil {
		t.Errorf("IgnoreRejected(invalid event) = %v", err)
	}
	if err := m.Event(ctx, "explode"); !errors.Is(err, boom) {
		t.Errorf("Event(explode) error = %v, want boom", err)
	}
	if err := IgnoreRejected(boom); !errors.Is(err, boom) {
		t.Errorf("IgnoreRejected(boom) = %v", err)
	}
}
