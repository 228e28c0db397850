// Package executor runs a single pipeline execution end to end: opens a
// run, selects a strategy from the pipeline's snapshot, runs it, and closes
// the run according to how it finished.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pipeflow/runner/internal/classify"
	"github.com/pipeflow/runner/internal/domain"
	"github.com/pipeflow/runner/internal/store"
	"github.com/pipeflow/runner/internal/strategy"
)

// Executor opens a run, runs a Strategy built for the pipeline's current
// snapshot, and closes the run based on the outcome. It never touches the
// pipeline's own status — that belongs to the dispatcher, which observes
// whether Execute returned an error (and of what classification) and drives
// the RUNNING → {IDLE, PAUSED, FAILED} transition accordingly.
type Executor struct {
	Runs        store.RunStore
	Checkpoints store.CheckpointStore
	BuildInputs strategy.Inputs
}

// New builds an Executor wired against the given stores and strategy
// inputs (reader/transform/writer dependencies shared across runs).
func New(runs store.RunStore, checkpoints store.CheckpointStore, in strategy.Inputs) *Executor {
	return &Executor{Runs: runs, Checkpoints: checkpoints, BuildInputs: in}
}

// Execute runs pipeline to completion or pause. It opens a run row,
// executes the selected strategy, and closes the run:
//
//   - success or pause: updates the run with final counters and finished_at.
//   - execution/contract failure: rolls back uncommitted work (the
//     strategy never commits a partial batch), writes the run FAILED with a
//     truncated error message, and returns the error so the dispatcher can
//     apply its retry policy.
//   - connectivity failure: re-raises without touching the run, leaving it
//     RUNNING for crash recovery to find on the next restart.
func (e *Executor) Execute(ctx context.Context, pipeline *domain.Pipeline, tasks []domain.PipelineTask) (strategy.Result, error) {
	run, err := e.Runs.CreateRun(ctx, pipeline.ID)
	if err != nil {
		return strategy.Result{}, fmt.Errorf("executor: open run: %w", err)
	}

	cp, err := e.Checkpoints.GetCheckpoint(ctx, pipeline.ID)
	if err != nil {
		return strategy.Result{}, e.closeOnFailure(ctx, run.ID, strategy.Result{}, fmt.Errorf("executor: load checkpoint: %w", err))
	}

	strat, err := strategy.Build(e.BuildInputs, pipeline, tasks, *cp)
	if err != nil {
		return strategy.Result{}, e.closeOnFailure(ctx, run.ID, strategy.Result{}, fmt.Errorf("executor: build strategy: %w", err))
	}

	result, runErr := strat.Run(ctx, run.ID)
	if runErr != nil {
		return result, e.closeOnFailure(ctx, run.ID, result, runErr)
	}

	if err := e.Runs.FinishRunSuccess(ctx, run.ID, result.RowsRead, result.RowsWritten); err != nil {
		return result, fmt.Errorf("executor: finish run success: %w", err)
	}

	if result.Paused {
		slog.Info("pipeline run paused", "pipeline_id", pipeline.ID, "run_id", run.ID, "rows_read", result.RowsRead, "rows_written", result.RowsWritten)
	}
	return result, nil
}

func (e *Executor) closeOnFailure(ctx context.Context, runID uuid.UUID, result strategy.Result, runErr error) error {
	if classify.Classify(runErr) == classify.Connectivity {
		return runErr
	}

	msg := domain.TruncateError(runErr.Error())
	if err := e.Runs.FinishRunFailure(ctx, runID, result.RowsRead, result.RowsWritten, msg); err != nil {
		return fmt.Errorf("executor: finish run failure: %w (original error: %w)", err, runErr)
	}
	return runErr
}
