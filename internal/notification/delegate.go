package notification

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"pushgate/internal/correlation"
	"pushgate/internal/diag"
	"pushgate/internal/scriptevents"
	"pushgate/pkg/logx"
)

// State is a delegate's lifecycle position.
type State int

const (
	StateCreated State = iota
	StateDisplayed
	StateClicked
	StateClosed
	StateFailed
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateDisplayed:
		return "displayed"
	case StateClicked:
		return "clicked"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// DelegateEnv is what a Delegate needs besides its own identity.
type DelegateEnv struct {
	Store correlation.Store
	Tabs  TabResolver
	Sink  scriptevents.Sink
	Diag  *diag.Counters
	Log   logx.Logger
	// IncludeContent copies title and body into emitted events.
	IncludeContent bool
}

// Delegate relays presenter callbacks for one notification to the script
// runtime that requested it. It is safe for concurrent use.
type Delegate struct {
	id        string
	requester int
	tab       int
	title     string
	body      string

	sink scriptevents.Sink
	diag *diag.Counters
	log  logx.Logger

	mu    sync.Mutex
	state State
}

// NewDelegate consumes key from env.Store. A miss, an expired entry or a store
// error leaves the requester Unknown; a requester without a tab gets tab -1.
func NewDelegate(ctx context.Context, env DelegateEnv, id string, key correlation.Key, content Data) *Delegate {
	log := env.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Delegate{
		id:        id,
		requester: correlation.Unknown,
		tab:       -1,
		sink:      env.Sink,
		diag:      env.Diag,
		log:       log,
	}
	if env.IncludeContent {
		d.title, d.body = content.Title, content.Body
	}

	if env.Store != nil && key.Valid() {
		requester, ok, err := env.Store.Consume(ctx, key)
		switch {
		case err != nil:
			log.Warn("correlation consume failed", logx.String("id", id), logx.Err(err))
			env.Diag.Inc(ctx, diag.CorrelationError)
		case ok:
			d.requester = requester
		}
	}
	if d.requester == correlation.Unknown {
		log.Debug("requester unknown", logx.String("id", id))
		env.Diag.Inc(ctx, diag.CorrelationMiss)
	} else if env.Tabs != nil {
		if tab, ok := env.Tabs.Tab(d.requester); ok {
			d.tab = tab
		}
	}
	return d
}

func (d *Delegate) ID() string { return d.id }

func (d *Delegate) Requester() int { return d.requester }

func (d *Delegate) Tab() int { return d.tab }

func (d *Delegate) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Delegate) NotificationDisplayed() { d.transition(StateDisplayed, scriptevents.Displayed) }

func (d *Delegate) NotificationClicked() { d.transition(StateClicked, scriptevents.Clicked) }

func (d *Delegate) NotificationClosed() { d.transition(StateClosed, scriptevents.Closed) }

func (d *Delegate) NotificationFailed() { d.transition(StateFailed, scriptevents.Failed) }

func (d *Delegate) NotificationDestroyed() { d.transition(StateDestroyed, scriptevents.Destroyed) }

func (d *Delegate) transition(to State, name string) {
	ctx := context.Background()
	d.mu.Lock()
	if d.state == StateDestroyed {
		d.mu.Unlock()
		d.log.Debug("callback after destroy ignored", logx.String("id", d.id), logx.String("event", name))
		d.diag.Inc(ctx, diag.DelegateLateCallback, attribute.String("event", name))
		return
	}
	d.state = to
	d.mu.Unlock()

	d.emit(ctx, name)
}

func (d *Delegate) emit(ctx context.Context, name string) {
	if d.sink == nil {
		d.diag.Inc(ctx, diag.EventsDropped, attribute.String("event", name))
		return
	}
	err := d.sink.Emit(ctx, scriptevents.Event{
		Name:           name,
		NotificationID: d.id,
		Requester:      d.requester,
		Tab:            d.tab,
		Title:          d.title,
		Body:           d.body,
	})
	if err == nil {
		return
	}
	d.diag.Inc(ctx, diag.EventsDropped, attribute.String("event", name))
	if errors.Is(err, scriptevents.ErrRuntimeUnavailable) {
		d.log.Debug("script runtime unavailable; event dropped", logx.String("id", d.id), logx.String("event", name))
		return
	}
	d.log.Warn("script event emit failed", logx.String("id", d.id), logx.String("event", name), logx.Err(err))
}
