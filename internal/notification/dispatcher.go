package notification

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"pushgate/internal/correlation"
	"pushgate/internal/diag"
	"pushgate/internal/eventbus"
	"pushgate/internal/permission"
	"pushgate/internal/presenter"
	"pushgate/internal/runtime/supervisor"
	"pushgate/internal/scriptevents"
	"pushgate/pkg/logx"
)

const DefaultQueueSize = 256

type Options struct {
	Store      correlation.Store
	Gate       *permission.Gate
	Presenters *presenter.Host
	Sink       scriptevents.Sink
	Tabs       TabResolver
	Bus        eventbus.Bus
	Diag       *diag.Counters
	Log        logx.Logger

	QueueSize      int
	IncludeContent bool
}

type jobKind int

const (
	jobShow jobKind = iota
	jobClose
)

type job struct {
	kind     jobKind
	id       string
	origin   string
	delegate *Delegate
	opts     presenter.ShowOptions
}

// Dispatcher implements Service. It is safe for concurrent use; presenter
// calls happen only on its worker goroutine.
type Dispatcher struct {
	Unsupported

	store      correlation.Store
	gate       *permission.Gate
	presenters *presenter.Host
	sink       scriptevents.Sink
	tabs       TabResolver
	bus        eventbus.Bus
	diag       *diag.Counters
	log        logx.Logger
	queueSize  int

	includeContent atomic.Bool

	mu        sync.Mutex
	accepting bool
	queue     chan job
	stopCh    chan struct{} // closed when Stop begins; releases decision watchers
	sup       *supervisor.Supervisor
	stopDone  chan struct{} // non-nil while stopping
	sendWG    sync.WaitGroup
}

var _ Service = (*Dispatcher)(nil)

func New(opts Options) *Dispatcher {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Presenters == nil {
		opts.Presenters = presenter.NewHost(nil)
	}
	d := &Dispatcher{
		store:      opts.Store,
		gate:       opts.Gate,
		presenters: opts.Presenters,
		sink:       opts.Sink,
		tabs:       opts.Tabs,
		bus:        opts.Bus,
		diag:       opts.Diag,
		log:        opts.Log,
		queueSize:  opts.QueueSize,
	}
	d.includeContent.Store(opts.IncludeContent)
	return d
}

// SetIncludeContent applies to delegates created afterwards.
func (d *Dispatcher) SetIncludeContent(v bool) { d.includeContent.Store(v) }

// Start launches the presentation worker. It is idempotent.
func (d *Dispatcher) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	if d.stopDone != nil {
		done := d.stopDone
		d.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		d.mu.Lock()
	}
	if d.queue != nil {
		d.mu.Unlock()
		return
	}
	d.queue = make(chan job, d.queueSize)
	d.stopCh = make(chan struct{})
	d.accepting = true
	d.sup = supervisor.New(ctx,
		supervisor.WithLogger(d.log.With(logx.String("comp", "dispatcher"))),
		supervisor.WithCancelOnError(false),
	)
	sup := d.sup
	q := d.queue
	d.mu.Unlock()

	sup.GoRestart("presenter.worker", func(c context.Context) error {
		d.workerLoop(c, q)
		d.mu.Lock()
		stopping := d.stopDone != nil
		d.mu.Unlock()
		if stopping {
			return context.Canceled
		}
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("presentation worker exited unexpectedly")
	}, 100*time.Millisecond, 5*time.Second)
	d.log.Info("dispatcher started", logx.Int("queue", cap(q)))
}

// Stop stops intake, abandons pending decisions and drains queued jobs
// best-effort until ctx is done.
func (d *Dispatcher) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	q := d.queue
	sup := d.sup
	stopCh := d.stopCh
	if q == nil {
		d.mu.Unlock()
		return
	}
	if d.stopDone != nil {
		done := d.stopDone
		d.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	d.stopDone = done
	d.accepting = false
	close(stopCh)
	d.mu.Unlock()

	go func() {
		defer close(done)
		d.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())
		sup.Cancel()

		d.mu.Lock()
		d.queue = nil
		d.sup = nil
		d.stopCh = nil
		d.stopDone = nil
		d.mu.Unlock()
		d.log.Info("dispatcher stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

func (d *Dispatcher) CheckPermissionOnIngress(ctx context.Context, key correlation.Key, origin string, requester int) permission.Status {
	if d.store != nil && key.Valid() {
		if err := d.store.Record(ctx, key, requester); err != nil {
			d.log.Warn("correlation record failed", logx.String("origin", origin), logx.Err(err))
			d.diag.Inc(ctx, diag.CorrelationError)
		}
	}
	return d.gate.Check(ctx, permission.Query{
		Capability: permission.Notifications,
		Origin:     origin,
		Requester:  requester,
	})
}

func (d *Dispatcher) CheckPermissionOnDecision(ctx context.Context, origin string, requester int) permission.Status {
	return d.gate.Check(ctx, permission.Query{
		Capability: permission.Notifications,
		Origin:     origin,
		Requester:  requester,
	})
}

// DisplayNotification never blocks on the permission answer or the presenter.
func (d *Dispatcher) DisplayNotification(ctx context.Context, req Request) {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	running := d.accepting
	d.mu.Unlock()
	if !running {
		d.log.Debug("display request while stopped", logx.String("id", req.ID))
		d.diag.Inc(ctx, diag.DispatchRejected)
		d.publish(EventRejected, DispatchEvent{ID: req.ID, Origin: req.Origin, Requester: correlation.Unknown})
		return
	}

	delegate := NewDelegate(ctx, DelegateEnv{
		Store:          d.store,
		Tabs:           d.tabs,
		Sink:           d.sink,
		Diag:           d.diag,
		Log:            d.log,
		IncludeContent: d.includeContent.Load(),
	}, req.ID, req.Requester, req.Data)

	j := job{
		kind:     jobShow,
		id:       req.ID,
		origin:   req.Origin,
		delegate: delegate,
		opts: presenter.ShowOptions{
			Title:   req.Data.Title,
			Body:    req.Data.Body,
			Tag:     req.Data.Tag,
			IconURL: req.Data.IconURL,
			Icon:    req.Resources.Icon,
			Silent:  req.Data.Silent,
		},
	}

	decision := d.gate.Request(ctx, permission.Query{
		Capability:  permission.Notifications,
		Origin:      req.Origin,
		UserGesture: req.UserGesture,
		Requester:   delegate.Requester(),
	})
	if status, ok := decision.Status(); ok {
		d.decided(ctx, j, status)
		return
	}
	// Watchers are registered under mu so Stop never waits on a supervisor
	// that is still gaining goroutines.
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.accepting {
		d.log.Debug("pending decision abandoned", logx.String("id", req.ID))
		return
	}
	stopCh := d.stopCh
	d.sup.Go0("decision."+req.ID, func(c context.Context) {
		select {
		case <-decision.Done():
			status, _ := decision.Status()
			d.decided(c, j, status)
		case <-stopCh:
			d.log.Debug("pending decision abandoned", logx.String("id", req.ID))
		case <-c.Done():
		}
	})
}

func (d *Dispatcher) decided(ctx context.Context, j job, status permission.Status) {
	ev := DispatchEvent{ID: j.id, Origin: j.origin, Requester: j.delegate.Requester()}
	if status != permission.Granted {
		d.log.Debug("notification not permitted", logx.String("id", j.id), logx.String("origin", j.origin), logx.String("status", status.String()))
		d.diag.Inc(ctx, diag.DispatchDenied, attribute.String("status", status.String()))
		ev.Error = status.String()
		d.publish(EventDenied, ev)
		return
	}
	d.diag.Inc(ctx, diag.DispatchGranted)
	d.publish(EventGranted, ev)
	d.enqueue(ctx, j)
}

// enqueue never blocks; a full queue drops the job.
func (d *Dispatcher) enqueue(ctx context.Context, j job) bool {
	d.mu.Lock()
	if !d.accepting || d.queue == nil {
		d.mu.Unlock()
		d.diag.Inc(ctx, diag.DispatchRejected)
		d.publish(EventRejected, DispatchEvent{ID: j.id, Origin: j.origin})
		return false
	}
	q := d.queue
	d.sendWG.Add(1)
	d.mu.Unlock()
	defer d.sendWG.Done()

	select {
	case q <- j:
		return true
	default:
		d.log.Warn("presentation queue full; dropping", logx.String("id", j.id), logx.Int("queue_cap", cap(q)))
		d.diag.Inc(ctx, diag.DispatchDropped)
		d.publish(EventDropped, DispatchEvent{ID: j.id, Origin: j.origin, Error: "queue full"})
		return false
	}
}

func (d *Dispatcher) CloseNotification(ctx context.Context, id string) {
	if ctx == nil {
		ctx = context.Background()
	}
	d.enqueue(ctx, job{kind: jobClose, id: id})
}

func (d *Dispatcher) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			switch j.kind {
			case jobShow:
				d.present(ctx, j)
			case jobClose:
				d.dismiss(ctx, j.id)
			}
		}
	}
}

func (d *Dispatcher) present(ctx context.Context, j job) {
	ev := DispatchEvent{ID: j.id, Origin: j.origin, Requester: j.delegate.Requester()}
	p := d.presenters.Get()
	if p == nil {
		d.log.Warn("no presenter; notification not shown", logx.String("id", j.id))
		d.diag.Inc(ctx, diag.PresenterUnavailable)
		d.publish(EventPresenterUnavailable, ev)
		return
	}
	n := p.CreateNotification(j.delegate)
	if n == nil {
		d.log.Warn("presenter could not create notification", logx.String("id", j.id))
		d.diag.Inc(ctx, diag.CreateFailed)
		d.publish(EventCreateFailed, ev)
		return
	}
	n.Show(j.opts)
	d.diag.Inc(ctx, diag.DispatchShown)
	d.publish(EventShown, ev)
}

func (d *Dispatcher) dismiss(ctx context.Context, id string) {
	ev := DispatchEvent{ID: id, Requester: correlation.Unknown}
	var n presenter.Notification
	if p := d.presenters.Get(); p != nil {
		n = p.LookupNotification(id)
	}
	if n == nil {
		d.log.Debug("close for unknown notification", logx.String("id", id))
		d.diag.Inc(ctx, diag.CloseMiss)
		d.publish(EventCloseMiss, ev)
		return
	}
	n.Dismiss()
	d.diag.Inc(ctx, diag.DispatchClosed)
	d.publish(EventClosed, ev)
}

func (d *Dispatcher) publish(typ string, ev DispatchEvent) {
	if d.bus == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
