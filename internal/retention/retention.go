// Package retention runs the periodic run-history cleanup sweep: terminal
// runs (SUCCESS/FAILED) older than a configured age are deleted so
// pipeline_runs doesn't grow unbounded. It runs as its own background
// goroutine, started and stopped independently of internal/manager's tick
// loop, on a coarser interval (default hourly vs. the manager's poll
// interval).
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/pipeflow/runner/internal/store"
)

// DefaultSweepInterval is how often the sweep runs when not overridden.
const DefaultSweepInterval = time.Hour

// DefaultMaxAge is how long a terminal run is kept when not overridden.
const DefaultMaxAge = 30 * 24 * time.Hour

// Sweeper periodically deletes terminal runs older than MaxAge.
type Sweeper struct {
	runs          store.RunStore
	sweepInterval time.Duration
	maxAge        time.Duration
	cancel        context.CancelFunc
	done          chan struct{}
}

// New builds a Sweeper. Zero values for sweepInterval/maxAge fall back to
// DefaultSweepInterval/DefaultMaxAge.
func New(runs store.RunStore, sweepInterval, maxAge time.Duration) *Sweeper {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Sweeper{runs: runs, sweepInterval: sweepInterval, maxAge: maxAge}
}

// Start begins the background sweep loop. It runs one sweep immediately so
// a long-lived runner doesn't wait a full interval after startup before
// the first cleanup.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.sweep(ctx)

		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.maxAge)
	deleted, err := s.runs.DeleteRunsOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("retention: sweep failed", "error", err, "cutoff", cutoff)
		return
	}
	if deleted > 0 {
		slog.Info("retention: deleted terminal runs older than cutoff", "deleted", deleted, "cutoff", cutoff)
	}
}
