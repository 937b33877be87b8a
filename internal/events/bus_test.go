package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestEventBus_EmitSync(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var calls atomic.Int32
	bus.Subscribe(EventStateChanged, "a", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})
	bus.Subscribe(EventStateChanged, "b", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return errors.New("boom")
	})

	err := bus.EmitSync(context.Background(), Event{Type: EventStateChanged})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("err = %v, want boom", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestEventBus_EmitAsyncAndPanic(t *testing.T) {
	bus := NewEventBus()

	done := make(chan Event, 1)
	bus.Subscribe(EventUpdateAvailable, "panics", func(ctx context.Context, e Event) error {
		panic("handler bug")
	})
	bus.Subscribe(EventUpdateAvailable, "ok", func(ctx context.Context, e Event) error {
		done <- e
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventUpdateAvailable, Source: "test"})

	select {
	case e := <-done:
		if e.Source != "test" {
			t.Errorf("source = %q", e.Source)
		}
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}
	bus.Stop()
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	bus.Subscribe(EventShutdown, "x", func(ctx context.Context, e Event) error { return nil })
	bus.Subscribe(EventShutdown, "y", func(ctx context.Context, e Event) error { return nil })
	bus.Unsubscribe(EventShutdown, "x")

	if got := bus.HandlerCount(EventShutdown); got != 1 {
		t.Fatalf("handlers = %d, want 1", got)
	}
}

func TestEventBus_StopIsIdempotent(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32
	bus.Subscribe(EventShutdown, "x", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})

	bus.Stop()
	bus.Stop()

	select {
	case <-bus.StopCh():
	default:
		t.Fatal("stop channel not closed")
	}

	bus.Emit(context.Background(), Event{Type: EventShutdown})
	if err := bus.EmitSync(context.Background(), Event{Type: EventShutdown}); err != nil {
		t.Fatalf("EmitSync after stop: %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("handler ran after stop")
	}
}
