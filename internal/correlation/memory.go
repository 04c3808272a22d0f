package correlation

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store.
type Memory struct {
	mu      sync.Mutex
	entries map[Key]Entry
	closed  bool

	ttl   time.Duration
	max   int
	clock Clock
}

func NewMemory(ttl time.Duration, maxEntries int, clock Clock) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Memory{
		entries: make(map[Key]Entry),
		ttl:     ttl,
		max:     maxEntries,
		clock:   clock,
	}
}

func (m *Memory) Record(_ context.Context, key Key, requester int) error {
	if !key.Valid() {
		return ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	now := m.clock.Now()
	m.entries[key] = Entry{Key: key, Requester: requester, ExpiresAt: now.Add(m.ttl)}
	if len(m.entries) > m.max {
		m.pruneLocked(now)
	}
	return nil
}

func (m *Memory) Consume(_ context.Context, key Key) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Unknown, false, ErrClosed
	}
	e, ok := m.entries[key]
	if !ok {
		return Unknown, false, nil
	}
	delete(m.entries, key)
	if e.expired(m.clock.Now()) {
		return Unknown, false, nil
	}
	return e.Requester, true, nil
}

func (m *Memory) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	return m.sweepLocked(m.clock.Now()), nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.entries = nil
	m.mu.Unlock()
	return nil
}

func (m *Memory) sweepLocked(now time.Time) int {
	n := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// pruneLocked drops expired entries, then the entries closest to expiry
// until the map is back under the cap.
func (m *Memory) pruneLocked(now time.Time) {
	m.sweepLocked(now)
	for len(m.entries) > m.max {
		var (
			oldest Key
			at     time.Time
		)
		for k, e := range m.entries {
			if at.IsZero() || e.ExpiresAt.Before(at) {
				oldest, at = k, e.ExpiresAt
			}
		}
		delete(m.entries, oldest)
	}
}
