// Package scriptevents delivers notification lifecycle events to the script
// runtime that requested the notification.
package scriptevents

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"pushgate/internal/eventbus"
)

// Topic is the event bus type used for script events.
const Topic = "script.event"

// ErrRuntimeUnavailable is returned when no script runtime is attached.
var ErrRuntimeUnavailable = errors.New("scriptevents: runtime unavailable")

// Event names.
const (
	Displayed = "notification-displayed"
	Clicked   = "notification-clicked"
	Closed    = "notification-closed"
	Failed    = "notification-failed"
	Destroyed = "notification-destroyed"
)

type Event struct {
	Name           string    `json:"name"`
	NotificationID string    `json:"notification_id"`
	Requester      int       `json:"requester"`
	Tab            int       `json:"tab"`
	Title          string    `json:"title,omitempty"`
	Body           string    `json:"body,omitempty"`
	At             time.Time `json:"at"`
}

// Sink receives lifecycle events.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// BusSink publishes events on an event bus. It only accepts events while at
// least one runtime is attached.
type BusSink struct {
	bus      eventbus.Bus
	attached atomic.Int64
}

func NewBusSink(bus eventbus.Bus) *BusSink {
	return &BusSink{bus: bus}
}

func (s *BusSink) Available() bool { return s.attached.Load() > 0 }

func (s *BusSink) Emit(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.Available() {
		return ErrRuntimeUnavailable
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.bus.Publish(eventbus.Event{Type: Topic, Time: e.At, Data: e})
	return nil
}

// Attach registers a runtime and returns its event stream. Events are dropped
// when the stream is full. detach closes the stream.
func (s *BusSink) Attach(buffer int) (events <-chan Event, detach func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch, unsub := s.bus.Subscribe(buffer)
	out := make(chan Event, buffer)
	s.attached.Add(1)

	go func() {
		defer close(out)
		for ev := range ch {
			if ev.Type != Topic {
				continue
			}
			e, ok := ev.Data.(Event)
			if !ok {
				continue
			}
			select {
			case out <- e:
			default:
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			s.attached.Add(-1)
			unsub()
		})
	}
}
