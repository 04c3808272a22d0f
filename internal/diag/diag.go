// Package diag counts the failures the pipeline swallows.
//
// Nothing in the notification path reports errors back to the requester, so
// every dropped event, denied request and missing presenter ends up here.
package diag

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "pushgate"

type Name string

const (
	CorrelationMiss      Name = "correlation.miss"
	CorrelationExpired   Name = "correlation.expired"
	CorrelationError     Name = "correlation.error"
	EventsDropped        Name = "events.dropped"
	DelegateLateCallback Name = "delegate.late_callback"
	PermissionThrottled  Name = "permission.throttled"
	DispatchGranted      Name = "dispatch.granted"
	DispatchDenied       Name = "dispatch.denied"
	DispatchRejected     Name = "dispatch.rejected"
	DispatchDropped      Name = "dispatch.dropped"
	PresenterUnavailable Name = "dispatch.presenter_unavailable"
	CreateFailed         Name = "dispatch.create_failed"
	DispatchShown        Name = "dispatch.shown"
	CloseMiss            Name = "dispatch.close_miss"
	DispatchClosed       Name = "dispatch.closed"
)

var descriptions = map[Name]string{
	CorrelationMiss:      "Delegates built without a correlated requester",
	CorrelationExpired:   "Correlation entries removed by the sweeper",
	CorrelationError:     "Correlation store failures",
	EventsDropped:        "Lifecycle events dropped because no script runtime was attached",
	DelegateLateCallback: "Presenter callbacks received after destruction",
	PermissionThrottled:  "Permission checks answered ask by the per-origin limiter",
	DispatchGranted:      "Display requests granted",
	DispatchDenied:       "Display requests denied",
	DispatchRejected:     "Requests received while the dispatcher was stopped",
	DispatchDropped:      "Granted display requests dropped on a full presentation queue",
	PresenterUnavailable: "Display requests with no presenter installed",
	CreateFailed:         "Presenter refused to create a notification",
	DispatchShown:        "Notifications shown",
	CloseMiss:            "Close requests for unknown notifications",
	DispatchClosed:       "Notifications dismissed on request",
}

// Counters is a fixed set of Int64Counters. A nil *Counters discards everything.
type Counters struct {
	counters map[Name]metric.Int64Counter
}

// New creates the counters on meter.
func New(meter metric.Meter) (*Counters, error) {
	c := &Counters{counters: make(map[Name]metric.Int64Counter, len(descriptions))}
	for name, desc := range descriptions {
		ctr, err := meter.Int64Counter(instrumentationName+"."+string(name),
			metric.WithDescription(desc),
			metric.WithUnit("{event}"),
		)
		if err != nil {
			return nil, fmt.Errorf("diag: counter %s: %w", name, err)
		}
		c.counters[name] = ctr
	}
	return c, nil
}

// Global creates the counters on the global meter provider.
func Global() *Counters {
	c, err := New(otel.Meter(instrumentationName))
	if err != nil {
		return Nop()
	}
	return c
}

func Nop() *Counters {
	c, _ := New(noop.NewMeterProvider().Meter(instrumentationName))
	return c
}

func (c *Counters) Inc(ctx context.Context, name Name, attrs ...attribute.KeyValue) {
	c.Add(ctx, name, 1, attrs...)
}

func (c *Counters) Add(ctx context.Context, name Name, n int64, attrs ...attribute.KeyValue) {
	if c == nil || n <= 0 {
		return
	}
	ctr, ok := c.counters[name]
	if !ok {
		return
	}
	if len(attrs) == 0 {
		ctr.Add(ctx, n)
		return
	}
	ctr.Add(ctx, n, metric.WithAttributes(attrs...))
}
