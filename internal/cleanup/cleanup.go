// Package cleanup removes aged temporary files on a schedule. Only the tmp
// area is ever swept; session directories are kept until an operator deletes
// them.
package cleanup

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pokt-foundation/shannon-orch/internal/session"
	"github.com/robfig/cron/v3"
)

// Sweeper runs the temp-file sweep on a cron schedule
type Sweeper struct {
	store    *session.Store
	schedule cron.Schedule
	maxAge   time.Duration

	lastRun time.Time
	running bool
	mu      sync.Mutex
}

// ParseCron parses a standard five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// New creates a Sweeper. expr is a five-field cron expression; maxAge is the
// minimum age a temp file must reach before removal.
func New(store *session.Store, expr string, maxAge time.Duration) (*Sweeper, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("max age must be positive, got %v", maxAge)
	}
	schedule, err := ParseCron(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing cleanup schedule %q: %w", expr, err)
	}
	return &Sweeper{store: store, schedule: schedule, maxAge: maxAge}, nil
}

// NextRun returns when the sweep is next due
func (s *Sweeper) NextRun() time.Time {
	return s.schedule.Next(time.Now())
}

// ShouldRun reports whether a sweep is due and none is in flight
func (s *Sweeper) ShouldRun(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}
	lastRun := s.lastRun
	if lastRun.IsZero() {
		lastRun = now.Add(-24 * time.Hour)
	}
	return now.After(s.schedule.Next(lastRun))
}

// Sweep removes temp files older than the configured age. Also called once
// at startup, before the schedule takes over.
func (s *Sweeper) Sweep() (int, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return 0, nil
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.lastRun = time.Now()
		s.mu.Unlock()
	}()

	removed, err := s.store.CleanupTemp(s.maxAge)
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		log.Printf("[cleanup] removed %d aged temp files", removed)
	}
	return removed, nil
}

// Start runs the startup sweep and then checks the schedule once a minute
// until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	if _, err := s.Sweep(); err != nil {
		log.Printf("[cleanup] startup sweep: %v", err)
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.ShouldRun(now) {
				continue
			}
			go func() {
				if _, err := s.Sweep(); err != nil {
					log.Printf("[cleanup] scheduled sweep: %v", err)
				}
			}()
		}
	}
}
