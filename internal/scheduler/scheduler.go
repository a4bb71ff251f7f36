// Package scheduler runs the background sweep that vacates confirmed
// bookings whose check-in grace period elapsed. The sweep is a safety
// net, not the source of truth: the availability resolver already
// treats a lapsed booking as non-occupying, so a delayed or missed
// sweep never blocks a slot.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ryan-ian/roomhub/internal/booking"
	"github.com/ryan-ian/roomhub/internal/metrics"
	"github.com/ryan-ian/roomhub/internal/models"
)

// Store finds bookings whose grace deadline has passed.
type Store interface {
	FindReleasable(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

// Releaser applies the auto-release transition to one booking.
type Releaser interface {
	AutoRelease(ctx context.Context, id int64) (*booking.ReleaseResult, error)
}

// Config holds sweep tuning knobs.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// BatchLimit caps how many bookings one sweep processes.
	BatchLimit int
}

func (c *Config) fillDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 100
	}
}

// Sweeper periodically releases overdue bookings.
type Sweeper struct {
	config   Config
	store    Store
	releaser Releaser
	now      func() time.Time
	logger   *zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSweeper constructs the sweep loop. nowFn may be nil to use the
// wall clock.
func NewSweeper(config Config, store Store, releaser Releaser, nowFn func() time.Time, logger *zerolog.Logger) *Sweeper {
	config.fillDefaults()
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Sweeper{
		config:   config,
		store:    store,
		releaser: releaser,
		now:      nowFn,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop in a goroutine. Calling Start on a
// running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().Dur("interval", s.config.Interval).Msg("auto-release sweeper started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("auto-release sweeper stopped by context")
				return
			case <-s.stopCh:
				s.logger.Info().Msg("auto-release sweeper stopped")
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop signals the loop to exit and waits for the in-flight sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.stopCh)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// IsRunning reports whether the loop is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SweepStats summarizes one sweep pass.
type SweepStats struct {
	Found    int
	Released int
	Skipped  int
	Failed   int
}

// Sweep runs a single pass: find overdue bookings and release each
// one independently, so a failure on one booking never blocks the
// rest of the batch. A booking that checked in between the find and
// the release is a skip, not a failure.
func (s *Sweeper) Sweep(ctx context.Context) SweepStats {
	start := time.Now()
	now := s.now().UTC()
	var stats SweepStats

	overdue, err := s.store.FindReleasable(ctx, now, s.config.BatchLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to find releasable bookings")
		return stats
	}
	stats.Found = len(overdue)
	if stats.Found == 0 {
		metrics.ObserveSweepDuration(time.Since(start).Seconds())
		return stats
	}

	for _, id := range overdue {
		select {
		case <-ctx.Done():
			s.logger.Info().
				Int("processed", stats.Released+stats.Skipped+stats.Failed).
				Int("remaining", stats.Found-stats.Released-stats.Skipped-stats.Failed).
				Msg("sweep interrupted")
			return stats
		default:
		}

		if _, err := s.releaser.AutoRelease(ctx, id); err != nil {
			if models.IsGuard(err, models.GuardAlreadyCheckedIn) {
				stats.Skipped++
				continue
			}
			stats.Failed++
			s.logger.Error().Err(err).Int64("booking_id", id).Msg("failed to release booking")
			continue
		}
		stats.Released++
	}

	metrics.ObserveSweepDuration(time.Since(start).Seconds())
	s.logger.Info().
		Int("found", stats.Found).
		Int("released", stats.Released).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Dur("duration", time.Since(start)).
		Msg("auto-release sweep finished")
	return stats
}
