package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	if n := b.Subscribers(); n != 2 {
		t.Fatalf("Subscribers = %d, want 2", n)
	}

	b.Publish(Event{Type: "x", Data: 1})
	for _, ch := range []<-chan Event{a, c} {
		e, ok := Wait(ch, "x", time.Second)
		if !ok {
			t.Fatal("event not delivered")
		}
		if e.Time.IsZero() {
			t.Fatal("publish should stamp Time")
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "first"})
	b.Publish(Event{Type: "second"})

	e := <-ch
	if e.Type != "first" {
		t.Fatalf("got %q, want first", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %q", e.Type)
	default:
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	if n := b.Subscribers(); n != 0 {
		t.Fatalf("Subscribers = %d, want 0", n)
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: "late"})
}
