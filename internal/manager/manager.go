// Package manager runs the tick loop: every poll interval it lists enabled
// pipelines in RUN_REQUESTED or PAUSE_REQUESTED and hands each, in turn, to
// the dispatcher. It runs as a background goroutine started from the
// runner's entrypoint and stopped on shutdown.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pipeflow/runner/internal/classify"
	"github.com/pipeflow/runner/internal/dispatcher"
	"golang.org/x/sync/errgroup"
)

// DefaultPollInterval is the default time between ticks.
const DefaultPollInterval = 5 * time.Second

// Manager evaluates candidate pipelines once per tick and dispatches each
// sequentially, in its own scope, so one pipeline's failure never blocks
// the others.
type Manager struct {
	dispatcher   *dispatcher.Dispatcher
	pollInterval time.Duration
	cancel       context.CancelFunc
	done         chan struct{}
}

// New builds a Manager that ticks at interval (DefaultPollInterval if zero).
func New(d *dispatcher.Dispatcher, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Manager{dispatcher: d, pollInterval: interval}
}

// Start begins the background tick loop.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Tick(ctx)
			}
		}
	}()
}

// Stop cancels the tick loop and waits for the in-flight tick to finish.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
}

// Tick lists candidate pipelines and dispatches each sequentially. A
// candidate raising a connectivity failure aborts the remainder of the
// tick (the pool recycles and the next tick retries); any other failure is
// logged and the loop continues to the next candidate.
func (m *Manager) Tick(ctx context.Context) {
	candidates, err := m.dispatcher.Pipelines.ListCandidates(ctx)
	if err != nil {
		slog.Error("manager: failed to list candidates", "error", err)
		return
	}

	for _, pipeline := range candidates {
		pipeline := pipeline

		// Each candidate dispatches inside its own single-task errgroup: the
		// group is still awaited immediately below, so dispatch stays
		// sequential per candidate, but a panic inside one candidate's
		// dispatch is recovered and turned into an error instead of taking
		// down the whole tick goroutine.
		var g errgroup.Group
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("manager: recovered panic dispatching pipeline %s: %v", pipeline.Name, r)
				}
			}()
			return m.dispatcher.Dispatch(ctx, pipeline)
		})

		if err := g.Wait(); err != nil {
			if classify.Classify(err) == classify.Connectivity {
				slog.Error("manager: connectivity failure, aborting tick", "pipeline_id", pipeline.ID, "error", err)
				return
			}
			slog.Error("manager: dispatch failed", "pipeline_id", pipeline.ID, "pipeline_name", pipeline.Name, "error", err)
		}
	}
}
