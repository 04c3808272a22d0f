package correlation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Unknown is the requester value reported for a missing or expired entry.
const Unknown = -1

// Key is the opaque correlation token shared by the ingress and decision paths.
type Key string

// NewKey returns a random key.
func NewKey() Key { return Key(uuid.NewString()) }

func (k Key) Valid() bool { return strings.TrimSpace(string(k)) != "" }

var (
	ErrEmptyKey = errors.New("correlation: empty key")
	ErrClosed   = errors.New("correlation: store closed")
)

// Store is safe for concurrent use.
type Store interface {
	// Record inserts or overwrites the entry for key.
	Record(ctx context.Context, key Key, requester int) error
	// Consume returns the requester for key and removes the entry.
	// A miss or an expired entry reports ok == false and leaves live entries untouched.
	Consume(ctx context.Context, key Key) (requester int, ok bool, err error)
	// Sweep removes expired entries.
	Sweep(ctx context.Context) (removed int, err error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// Entry is one live correlation.
type Entry struct {
	Key       Key
	Requester int
	ExpiresAt time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Config configures Open.
//
// Driver values:
//   - "memory" (default)
//   - "sqlite": Path is required
//   - "redis": Redis.Addr is required
type Config struct {
	Driver     string
	Path       string
	TTL        time.Duration
	MaxEntries int // memory only; 0 means DefaultMaxEntries
	Redis      RedisOptions
	Clock      Clock
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

const (
	DefaultTTL        = 2 * time.Minute
	DefaultMaxEntries = 10000
	DefaultSweep      = "@every 30s"
)
