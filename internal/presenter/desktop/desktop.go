// Package desktop shows notifications through the freedesktop notification
// service (org.freedesktop.Notifications) on the session bus.
package desktop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"pushgate/internal/presenter"
	"pushgate/pkg/logx"
)

const (
	busName   = "org.freedesktop.Notifications"
	busPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	busIface  = "org.freedesktop.Notifications"
	sigClosed = busIface + ".NotificationClosed"
	sigAction = busIface + ".ActionInvoked"

	defaultAction = "default"
	callTimeout   = 5 * time.Second

	// orphanTTL bounds how long a close signal for an unknown server id is
	// kept in case its Notify reply is still in flight.
	orphanTTL = 10 * time.Second
)

type Config struct {
	AppName string
	// ExpireTimeout <= 0 lets the server decide.
	ExpireTimeout time.Duration
}

// caller is the part of dbus.BusObject used to talk to the server.
type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...any) *dbus.Call
}

type Presenter struct {
	cfg  Config
	obj  caller
	conn *dbus.Conn
	log  logx.Logger

	mu       sync.Mutex
	byServer map[uint32]*notification
	byID     map[string]*notification
	orphans  map[uint32]time.Time

	signals   chan *dbus.Signal
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open connects to the session bus.
func Open(cfg Config, log logx.Logger) (*Presenter, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("desktop: session bus: %w", err)
	}
	p, err := New(conn, cfg, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return p, nil
}

// New subscribes to the notification signals on conn.
func New(conn *dbus.Conn, cfg Config, log logx.Logger) (*Presenter, error) {
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(busPath),
		dbus.WithMatchInterface(busIface),
	); err != nil {
		return nil, fmt.Errorf("desktop: match signals: %w", err)
	}
	p := newPresenter(conn.Object(busName, busPath), cfg, log)
	p.conn = conn
	conn.Signal(p.signals)
	p.wg.Add(1)
	go p.loop()
	return p, nil
}

func newPresenter(obj caller, cfg Config, log logx.Logger) *Presenter {
	if cfg.AppName == "" {
		cfg.AppName = "pushgate"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Presenter{
		cfg:      cfg,
		obj:      obj,
		log:      log,
		byServer: make(map[uint32]*notification),
		byID:     make(map[string]*notification),
		orphans:  make(map[uint32]time.Time),
		signals:  make(chan *dbus.Signal, 32),
		done:     make(chan struct{}),
	}
}

func (p *Presenter) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		if p.conn != nil {
			p.conn.RemoveSignal(p.signals)
			err = p.conn.Close()
		}
		p.wg.Wait()
	})
	return err
}

type notification struct {
	p        *Presenter
	d        presenter.Delegate
	tag      string
	serverID uint32
	shown    bool
}

func (p *Presenter) CreateNotification(d presenter.Delegate) presenter.Notification {
	if d == nil || d.ID() == "" {
		return nil
	}
	select {
	case <-p.done:
		return nil
	default:
	}
	return &notification{p: p, d: d}
}

func (p *Presenter) LookupNotification(id string) presenter.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n, ok := p.byID[id]; ok {
		return n
	}
	return nil
}

// replacesLocked returns the server id of a live notification with tag.
func (p *Presenter) replacesLocked(tag string) (uint32, *notification) {
	if tag == "" {
		return 0, nil
	}
	for _, n := range p.byServer {
		if n.tag == tag {
			return n.serverID, n
		}
	}
	return 0, nil
}

func (n *notification) Show(opts presenter.ShowOptions) {
	p := n.p
	p.mu.Lock()
	if n.shown {
		p.mu.Unlock()
		return
	}
	n.shown = true
	replaces, old := p.replacesLocked(opts.Tag)
	if old == nil {
		if prev, ok := p.byID[n.d.ID()]; ok && prev != n {
			replaces, old = prev.serverID, prev
		}
	}
	p.mu.Unlock()

	hints := map[string]dbus.Variant{}
	if opts.Icon != nil {
		hints["image-data"] = dbus.MakeVariant(newImageData(opts.Icon))
	}
	if opts.Silent {
		hints["suppress-sound"] = dbus.MakeVariant(true)
		hints["urgency"] = dbus.MakeVariant(byte(0))
	}
	expire := int32(-1)
	if p.cfg.ExpireTimeout > 0 {
		expire = int32(p.cfg.ExpireTimeout.Milliseconds())
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	call := p.obj.CallWithContext(ctx, busIface+".Notify", 0,
		p.cfg.AppName, replaces, opts.IconURL, opts.Title, opts.Body,
		[]string{defaultAction, "Open"}, hints, expire,
	)
	var serverID uint32
	if err := call.Store(&serverID); err != nil {
		p.log.Warn("desktop notify failed", logx.String("id", n.d.ID()), logx.Err(err))
		n.d.NotificationFailed()
		n.d.NotificationDestroyed()
		return
	}

	n.tag = opts.Tag
	n.serverID = serverID
	p.mu.Lock()
	replaced := old != nil && p.byServer[old.serverID] == old
	if replaced {
		delete(p.byServer, old.serverID)
		delete(p.byID, old.d.ID())
	}
	_, closedEarly := p.orphans[serverID]
	if closedEarly {
		delete(p.orphans, serverID)
	} else {
		p.byServer[serverID] = n
		p.byID[n.d.ID()] = n
	}
	p.mu.Unlock()

	if replaced {
		old.d.NotificationDestroyed()
	}
	p.log.Debug("desktop notification shown", logx.String("id", n.d.ID()), logx.Int64("server_id", int64(serverID)))
	n.d.NotificationDisplayed()
	if closedEarly {
		n.d.NotificationClosed()
		n.d.NotificationDestroyed()
	}
}

// Dismiss asks the server to close the notification. Callbacks follow the
// server's NotificationClosed signal.
func (n *notification) Dismiss() {
	p := n.p
	p.mu.Lock()
	id := n.serverID
	_, live := p.byServer[id]
	p.mu.Unlock()
	if !live {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := p.obj.CallWithContext(ctx, busIface+".CloseNotification", 0, id).Err; err != nil {
		p.log.Warn("desktop close failed", logx.String("id", n.d.ID()), logx.Err(err))
	}
}

func (p *Presenter) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case sig, ok := <-p.signals:
			if !ok {
				return
			}
			p.handleSignal(sig)
		}
	}
}

func (p *Presenter) handleSignal(sig *dbus.Signal) {
	if sig == nil || len(sig.Body) == 0 {
		return
	}
	serverID, ok := sig.Body[0].(uint32)
	if !ok {
		return
	}
	switch sig.Name {
	case sigClosed:
		p.mu.Lock()
		n, ok := p.byServer[serverID]
		if ok {
			delete(p.byServer, serverID)
			delete(p.byID, n.d.ID())
		} else {
			p.rememberOrphanLocked(serverID, time.Now())
		}
		p.mu.Unlock()
		if !ok {
			return
		}
		n.d.NotificationClosed()
		n.d.NotificationDestroyed()
	case sigAction:
		p.mu.Lock()
		n, ok := p.byServer[serverID]
		p.mu.Unlock()
		if !ok {
			return
		}
		n.d.NotificationClicked()
	}
}

// rememberOrphanLocked records a close signal that matched no live
// notification. The server broadcasts closes for every client, so entries
// expire after orphanTTL.
func (p *Presenter) rememberOrphanLocked(serverID uint32, now time.Time) {
	for id, at := range p.orphans {
		if now.Sub(at) > orphanTTL {
			delete(p.orphans, id)
		}
	}
	p.orphans[serverID] = now
}
