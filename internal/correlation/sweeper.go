package correlation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pushgate/pkg/logx"
)

// Sweeper removes expired entries from a Store on a cron schedule.
type Sweeper struct {
	store   Store
	log     logx.Logger
	onSwept func(removed int)

	mu sync.Mutex
	c  *cron.Cron
}

var sweepParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSweep reports whether spec is an accepted sweep schedule.
func ValidateSweep(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	_, err := sweepParser.Parse(spec)
	return err
}

// NewSweeper validates spec and prepares a stopped sweeper.
// onSwept, if non-nil, receives the count of every sweep that removed entries.
func NewSweeper(store Store, spec string, log logx.Logger, onSwept func(removed int)) (*Sweeper, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultSweep
	}
	c := cron.New(cron.WithParser(sweepParser))
	s := &Sweeper{store: store, log: log, onSwept: onSwept, c: c}
	if _, err := c.AddJob(spec, cron.FuncJob(s.run)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Start()
}

// Stop stops the schedule and waits for a running sweep, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	done := s.c.Stop()
	s.mu.Unlock()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = s.SweepOnce(ctx)
}

// SweepOnce runs one sweep immediately.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	n, err := s.store.Sweep(ctx)
	if err != nil {
		s.log.Warn("correlation sweep failed", logx.Err(err))
		return 0, err
	}
	if n > 0 {
		s.log.Debug("correlation entries expired", logx.Int("removed", n))
		if s.onSwept != nil {
			s.onSwept(n)
		}
	}
	return n, nil
}
