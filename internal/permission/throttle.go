package permission

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const throttleMaxOrigins = 4096

// Throttle limits permission requests per origin. Requests over the limit
// answer Other without reaching the wrapped authority. Check is not limited.
type Throttle struct {
	next  Authority
	limit rate.Limit
	burst int

	// OnThrottled, if set, is called for every limited request.
	OnThrottled func(origin string)

	mu       sync.Mutex
	limiters map[string]*originLimiter
}

type originLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewThrottle(next Authority, perSecond float64, burst int) *Throttle {
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		next:     next,
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*originLimiter),
	}
}

func (t *Throttle) Check(ctx context.Context, q Query) Status {
	return t.next.Check(ctx, q)
}

func (t *Throttle) RequestPermission(ctx context.Context, q Query, cb func(Status)) {
	origin := originKey(q.Origin)
	if !t.allow(origin) {
		if t.OnThrottled != nil {
			t.OnThrottled(origin)
		}
		cb(Other)
		return
	}
	t.next.RequestPermission(ctx, q, cb)
}

func (t *Throttle) allow(origin string) bool {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	ol, ok := t.limiters[origin]
	if !ok {
		if len(t.limiters) >= throttleMaxOrigins {
			t.pruneLocked(now)
		}
		ol = &originLimiter{lim: rate.NewLimiter(t.limit, t.burst)}
		t.limiters[origin] = ol
	}
	ol.seen = now
	return ol.lim.AllowN(now, 1)
}

// pruneLocked forgets origins idle for a minute, or all of them if none are.
func (t *Throttle) pruneLocked(now time.Time) {
	for k, ol := range t.limiters {
		if now.Sub(ol.seen) > time.Minute {
			delete(t.limiters, k)
		}
	}
	if len(t.limiters) >= throttleMaxOrigins {
		clear(t.limiters)
	}
}
