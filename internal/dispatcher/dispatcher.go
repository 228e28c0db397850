// Package dispatcher drives a single pipeline through one claim/retry/finalize
// cycle. The manager calls it once per candidate pipeline per tick; the
// dispatcher owns every pipeline-level status transition, while the executor
// it calls into owns only the run row.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pipeflow/runner/internal/classify"
	"github.com/pipeflow/runner/internal/domain"
	"github.com/pipeflow/runner/internal/store"
	"github.com/pipeflow/runner/internal/strategy"
)

// MaxAttempts is the default number of execution attempts before a pipeline
// is moved to FAILED.
const MaxAttempts = 3

// BackoffBase is the default first retry delay; it doubles per attempt.
// There is no delay after the final attempt, so the default MaxAttempts of 3
// waits 1s and then 2s.
const BackoffBase = time.Second

// Execute matches executor.Executor.Execute: open a run, run the selected
// strategy, close the run, and report the accumulated counters.
type Execute func(ctx context.Context, pipeline *domain.Pipeline, tasks []domain.PipelineTask) (strategy.Result, error)

// Dispatcher drives one pipeline through a single claim/retry/finalize cycle.
type Dispatcher struct {
	Pipelines   store.PipelineStore
	Execute     Execute
	MaxAttempts int
	BackoffBase time.Duration
}

// New builds a Dispatcher. execute is normally executor.Executor.Execute.
func New(pipelines store.PipelineStore, execute Execute) *Dispatcher {
	return &Dispatcher{
		Pipelines:   pipelines,
		Execute:     execute,
		MaxAttempts: MaxAttempts,
		BackoffBase: BackoffBase,
	}
}

// Dispatch handles one candidate pipeline, already known to be enabled and
// in RUN_REQUESTED or PAUSE_REQUESTED. Pipelines observed RUNNING are a
// no-op: another replica or a prior attempt still owns them.
func (d *Dispatcher) Dispatch(ctx context.Context, pipeline domain.Pipeline) error {
	switch pipeline.Status {
	case domain.StatusPauseRequested:
		return d.applyPause(ctx, pipeline.ID)
	case domain.StatusRunRequested:
		return d.runRequested(ctx, pipeline)
	default:
		return nil
	}
}

func (d *Dispatcher) applyPause(ctx context.Context, pipelineID uuid.UUID) error {
	ok, err := d.Pipelines.ApplyPause(ctx, pipelineID)
	if err != nil {
		return fmt.Errorf("dispatcher: apply pause: %w", err)
	}
	if !ok {
		slog.Debug("dispatcher: pause CAS lost race", "pipeline_id", pipelineID)
	}
	return nil
}

func (d *Dispatcher) runRequested(ctx context.Context, pipeline domain.Pipeline) error {
	claimed, err := d.Pipelines.ClaimRun(ctx, pipeline.ID)
	if err != nil {
		return fmt.Errorf("dispatcher: claim run: %w", err)
	}
	if !claimed {
		slog.Debug("dispatcher: claim CAS lost race", "pipeline_id", pipeline.ID)
		return nil
	}

	tasks, err := d.Pipelines.GetTasks(ctx, pipeline.ID)
	if err != nil {
		return fmt.Errorf("dispatcher: load tasks: %w", err)
	}

	maxAttempts := d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = MaxAttempts
	}
	backoffBase := d.BackoffBase
	if backoffBase <= 0 {
		backoffBase = BackoffBase
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, execErr := d.Execute(ctx, &pipeline, tasks)
		if execErr == nil {
			return d.finalizeSuccess(ctx, pipeline.ID, result)
		}

		kind := classify.Classify(execErr)
		if kind == classify.Connectivity {
			slog.Warn("dispatcher: connectivity failure, leaving RUNNING for recovery",
				"pipeline_id", pipeline.ID, "attempt", attempt, "error", execErr)
			return execErr
		}

		lastErr = execErr
		slog.Warn("dispatcher: execution attempt failed",
			"pipeline_id", pipeline.ID, "attempt", attempt, "max_attempts", maxAttempts,
			"kind", kind.String(), "error", execErr)

		if attempt == maxAttempts {
			break
		}
		delay := backoffBase * time.Duration(1<<(attempt-1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	if ok, ferr := d.Pipelines.FinalizeFailure(ctx, pipeline.ID); ferr != nil {
		return fmt.Errorf("dispatcher: finalize failure: %w (original error: %w)", ferr, lastErr)
	} else if !ok {
		slog.Debug("dispatcher: finalize-failure CAS lost race", "pipeline_id", pipeline.ID)
	}
	return lastErr
}

func (d *Dispatcher) finalizeSuccess(ctx context.Context, pipelineID uuid.UUID, result strategy.Result) error {
	status, err := d.Pipelines.CurrentStatus(ctx, pipelineID)
	if err != nil {
		return fmt.Errorf("dispatcher: observe status: %w", err)
	}
	if status == domain.StatusPaused {
		slog.Info("dispatcher: run succeeded into a pause observed mid-run", "pipeline_id", pipelineID)
		return nil
	}

	ok, err := d.Pipelines.FinalizeSuccess(ctx, pipelineID)
	if err != nil {
		return fmt.Errorf("dispatcher: finalize success: %w", err)
	}
	if !ok {
		slog.Debug("dispatcher: finalize-success CAS lost race", "pipeline_id", pipelineID)
	}
	slog.Info("dispatcher: pipeline run succeeded",
		"pipeline_id", pipelineID, "rows_read", result.RowsRead, "rows_written", result.RowsWritten, "paused", result.Paused)
	return nil
}
