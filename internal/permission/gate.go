package permission

import (
	"context"
	"sync"
	"sync/atomic"

	"pushgate/pkg/logx"
)

// Gate issues permission requests and hands back a Decision. It keeps no state
// between requests: no caching, retries or timeouts.
type Gate struct {
	mu   sync.RWMutex
	auth Authority
	log  logx.Logger

	duplicates atomic.Uint64
}

func NewGate(auth Authority, log logx.Logger) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gate{auth: auth, log: log}
}

// Request asks the authority and returns immediately. The Decision resolves
// once, to granted only when the authority answered Granted. A nil authority
// resolves to Other.
func (g *Gate) Request(ctx context.Context, q Query) *Decision {
	if q.Capability == "" {
		q.Capability = Notifications
	}
	auth := g.authority()
	if auth == nil {
		return Resolved(Other)
	}
	d := newDecision()
	auth.RequestPermission(ctx, q, func(s Status) {
		if !d.resolve(s) {
			g.duplicates.Add(1)
			g.log.Debug("authority answered twice; ignoring", logx.String("origin", q.Origin), logx.String("status", s.String()))
		}
	})
	return d
}

// Check asks the authority synchronously. A nil authority answers Other.
func (g *Gate) Check(ctx context.Context, q Query) Status {
	if q.Capability == "" {
		q.Capability = Notifications
	}
	auth := g.authority()
	if auth == nil {
		return Other
	}
	return auth.Check(ctx, q)
}

// SetAuthority replaces the authority for subsequent requests. Decisions
// already issued keep waiting on the old one.
func (g *Gate) SetAuthority(auth Authority) {
	g.mu.Lock()
	g.auth = auth
	g.mu.Unlock()
}

func (g *Gate) authority() Authority {
	if g == nil {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.auth
}

// Duplicates reports how many extra answers were ignored.
func (g *Gate) Duplicates() uint64 { return g.duplicates.Load() }

// Decision is a one-shot permission result.
type Decision struct {
	once   sync.Once
	done   chan struct{}
	status Status
}

func newDecision() *Decision {
	return &Decision{done: make(chan struct{})}
}

// Resolved returns an already resolved Decision.
func Resolved(s Status) *Decision {
	d := newDecision()
	d.resolve(s)
	return d
}

func (d *Decision) resolve(s Status) bool {
	first := false
	d.once.Do(func() {
		d.status = s
		close(d.done)
		first = true
	})
	return first
}

// Done is closed when the decision resolves.
func (d *Decision) Done() <-chan struct{} { return d.done }

// Status reports the authority's answer and whether it has arrived.
func (d *Decision) Status() (Status, bool) {
	select {
	case <-d.done:
		return d.status, true
	default:
		return Other, false
	}
}

// Granted is false until the decision resolves to Granted.
func (d *Decision) Granted() bool {
	s, ok := d.Status()
	return ok && s == Granted
}

// Wait blocks until the decision resolves or ctx is done.
func (d *Decision) Wait(ctx context.Context) (bool, error) {
	select {
	case <-d.done:
		return d.status == Granted, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
