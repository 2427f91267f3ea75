// Package maintenance runs the router's periodic housekeeping: pruning
// idle pooled connections past their timeout and expiring stale
// upstream-failure trackers.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"lightapi/router/pkg/telemetry/alerting"
	"lightapi/router/pkg/transport"
)

// DefaultSchedule sweeps once a minute; idle timeouts and failure windows
// are both measured in minutes, so finer granularity buys nothing.
const DefaultSchedule = "* * * * *"

// Scheduler owns the cron instance driving the sweeps.
type Scheduler struct {
	pool    *transport.Pool
	tracker *alerting.Tracker

	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler sweeping pool and tracker on the default
// schedule.
func NewScheduler(pool *transport.Pool, tracker *alerting.Tracker) *Scheduler {
	return &Scheduler{
		pool:     pool,
		tracker:  tracker,
		schedule: DefaultSchedule,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "maintenance"),
	}
}

// Start begins the scheduled sweeps and stops them when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("schedule maintenance sweep: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("maintenance scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the sweeps. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cron.Stop()
	s.running = false
	s.logger.Info("maintenance scheduler stopped")
}

func (s *Scheduler) sweep() {
	if s.pool != nil {
		if dropped := s.pool.SweepExpired(); dropped > 0 {
			s.logger.Debug("pruned idle upstream connections", "dropped", dropped)
		}
	}
	if s.tracker != nil {
		s.tracker.ExpireStale()
	}
}
