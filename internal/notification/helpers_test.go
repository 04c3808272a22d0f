package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"pushgate/internal/correlation"
	"pushgate/internal/eventbus"
	"pushgate/internal/permission"
	"pushgate/internal/presenter"
	"pushgate/internal/scriptevents"
	"pushgate/pkg/logx"
)

const waitFor = 2 * time.Second

type recordingSink struct {
	mu     sync.Mutex
	events []scriptevents.Event
	err    error
}

func (s *recordingSink) Emit(_ context.Context, e scriptevents.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Events() []scriptevents.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scriptevents.Event(nil), s.events...)
}

func (s *recordingSink) Names() []string {
	var out []string
	for _, e := range s.Events() {
		out = append(out, e.Name)
	}
	return out
}

type shownCall struct {
	id   string
	opts presenter.ShowOptions
}

// fakePresenter records calls. Show reports Displayed; Dismiss reports
// Closed and Destroyed.
type fakePresenter struct {
	refuse bool
	// entered, if set, receives the id of every Show before release is read.
	entered chan string
	release chan struct{}

	mu        sync.Mutex
	creates   int
	shows     []shownCall
	dismissed []string
	live      map[string]*fakeNotification
}

type fakeNotification struct {
	p *fakePresenter
	d presenter.Delegate
}

func newFakePresenter() *fakePresenter {
	return &fakePresenter{live: map[string]*fakeNotification{}}
}

func (p *fakePresenter) CreateNotification(d presenter.Delegate) presenter.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates++
	if p.refuse {
		return nil
	}
	return &fakeNotification{p: p, d: d}
}

func (p *fakePresenter) LookupNotification(id string) presenter.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n, ok := p.live[id]; ok {
		return n
	}
	return nil
}

func (p *fakePresenter) Creates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates
}

func (p *fakePresenter) Shows() []shownCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]shownCall(nil), p.shows...)
}

func (p *fakePresenter) Dismissed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.dismissed...)
}

func (n *fakeNotification) Show(opts presenter.ShowOptions) {
	p := n.p
	if p.entered != nil {
		p.entered <- n.d.ID()
		<-p.release
	}
	p.mu.Lock()
	p.shows = append(p.shows, shownCall{id: n.d.ID(), opts: opts})
	p.live[n.d.ID()] = n
	p.mu.Unlock()
	n.d.NotificationDisplayed()
}

func (n *fakeNotification) Dismiss() {
	p := n.p
	p.mu.Lock()
	delete(p.live, n.d.ID())
	p.dismissed = append(p.dismissed, n.d.ID())
	p.mu.Unlock()
	n.d.NotificationClosed()
	n.d.NotificationDestroyed()
}

// fixedAuthority answers every request with status.
type fixedAuthority struct{ status permission.Status }

func (a fixedAuthority) Check(context.Context, permission.Query) permission.Status { return a.status }

func (a fixedAuthority) RequestPermission(_ context.Context, _ permission.Query, cb func(permission.Status)) {
	cb(a.status)
}

// pendingAuthority answers RequestPermission when release is called.
type pendingAuthority struct {
	mu      sync.Mutex
	pending []func(permission.Status)
}

func (a *pendingAuthority) Check(context.Context, permission.Query) permission.Status {
	return permission.Other
}

func (a *pendingAuthority) RequestPermission(_ context.Context, _ permission.Query, cb func(permission.Status)) {
	a.mu.Lock()
	a.pending = append(a.pending, cb)
	a.mu.Unlock()
}

func (a *pendingAuthority) release(s permission.Status) int {
	a.mu.Lock()
	pending := a.pending
	a.pending = nil
	a.mu.Unlock()
	for _, cb := range pending {
		go cb(s)
	}
	return len(pending)
}

type harness struct {
	d     *Dispatcher
	store *correlation.Memory
	sink  *recordingSink
	p     *fakePresenter
	host  *presenter.Host
	bus   eventbus.Bus
	diag  <-chan eventbus.Event
}

type harnessOption func(*Options)

func newHarness(t *testing.T, auth permission.Authority, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		store: correlation.NewMemory(time.Minute, 0, nil),
		sink:  &recordingSink{},
		p:     newFakePresenter(),
		bus:   eventbus.New(),
	}
	h.host = presenter.NewHost(h.p)
	ch, unsub := h.bus.Subscribe(256)
	h.diag = ch

	o := Options{
		Store:      h.store,
		Gate:       permission.NewGate(auth, logx.Nop()),
		Presenters: h.host,
		Sink:       h.sink,
		Bus:        h.bus,
		Log:        logx.Nop(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	h.d = New(o)
	h.d.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		h.d.Stop(ctx)
		unsub()
	})
	return h
}

func (h *harness) await(t *testing.T, typ string) DispatchEvent {
	t.Helper()
	e, ok := eventbus.Wait(h.diag, typ, waitFor)
	if !ok {
		t.Fatalf("no %s event", typ)
	}
	ev, _ := e.Data.(DispatchEvent)
	return ev
}
