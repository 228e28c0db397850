// Package recovery implements startup crash recovery (spec §4.7): any
// pipeline left RUNNING by a prior process is not lying about its history,
// and is requeued so the next tick resumes it from its last committed
// checkpoint.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pipeflow/runner/internal/store"
)

// Recovery runs once at startup, after the DB is confirmed reachable.
type Recovery struct {
	Pipelines store.PipelineStore
	Runs      store.RunStore
}

// New builds a Recovery against the given stores.
func New(pipelines store.PipelineStore, runs store.RunStore) *Recovery {
	return &Recovery{Pipelines: pipelines, Runs: runs}
}

// Run lists every pipeline in RUNNING, fails any of its RUNNING runs with
// domain.RecoveredErrorMessage, then conditionally transitions the
// pipeline RUNNING → RUN_REQUESTED so it resumes on the next tick. A
// failure on one pipeline is logged and does not stop recovery of the
// others.
func (r *Recovery) Run(ctx context.Context) error {
	running, err := r.Pipelines.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("recovery: list running pipelines: %w", err)
	}

	for _, pipeline := range running {
		stuck, err := r.Runs.ListStuckRunning(ctx, pipeline.ID)
		if err != nil {
			slog.Error("recovery: failed to list stuck runs", "pipeline_id", pipeline.ID, "error", err)
			continue
		}
		for _, run := range stuck {
			if err := r.Runs.FailOrphaned(ctx, run.ID); err != nil {
				slog.Error("recovery: failed to fail orphaned run", "pipeline_id", pipeline.ID, "run_id", run.ID, "error", err)
			}
		}

		ok, err := r.Pipelines.RecoverToRequested(ctx, pipeline.ID)
		if err != nil {
			slog.Error("recovery: failed to requeue pipeline", "pipeline_id", pipeline.ID, "error", err)
			continue
		}
		if !ok {
			slog.Debug("recovery: requeue CAS lost race", "pipeline_id", pipeline.ID)
			continue
		}
		slog.Info("recovery: requeued pipeline left RUNNING by a prior crash", "pipeline_id", pipeline.ID, "name", pipeline.Name, "orphaned_runs", len(stuck))
	}

	return nil
}
