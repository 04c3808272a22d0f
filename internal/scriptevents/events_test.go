package scriptevents

import (
	"context"
	"errors"
	"testing"
	"time"

	"pushgate/internal/eventbus"
)

func TestEmitWithoutRuntime(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	// A diagnostics subscriber is not a script runtime.
	_, unsub := bus.Subscribe(4)
	defer unsub()

	s := NewBusSink(bus)
	err := s.Emit(context.Background(), Event{Name: Displayed, NotificationID: "n1"})
	if !errors.Is(err, ErrRuntimeUnavailable) {
		t.Fatalf("Emit = %v, want ErrRuntimeUnavailable", err)
	}
}

func TestAttachReceivesEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	s := NewBusSink(bus)
	events, detach := s.Attach(8)

	bus.Publish(eventbus.Event{Type: "dispatch.shown", Data: "noise"})
	if err := s.Emit(context.Background(), Event{Name: Clicked, NotificationID: "n1", Requester: 7, Tab: 3}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case e := <-events:
		if e.Name != Clicked || e.NotificationID != "n1" || e.Requester != 7 || e.Tab != 3 || e.At.IsZero() {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no event")
	}

	detach()
	detach()
	if s.Available() {
		t.Fatal("runtime should be detached")
	}
	if _, ok := <-events; ok {
		t.Fatal("stream should be closed after detach")
	}
	if err := s.Emit(context.Background(), Event{Name: Closed}); !errors.Is(err, ErrRuntimeUnavailable) {
		t.Fatalf("Emit after detach = %v", err)
	}
}

func TestTabDirectory(t *testing.T) {
	t.Parallel()
	d := NewTabDirectory()
	if _, ok := d.Tab(1); ok {
		t.Fatal("empty directory should miss")
	}
	d.Set(1, 42)
	if tab, ok := d.Tab(1); !ok || tab != 42 {
		t.Fatalf("Tab = %d, %v", tab, ok)
	}
	d.Forget(1)
	if _, ok := d.Tab(1); ok {
		t.Fatal("forgotten requester should miss")
	}
}
