// Package strategy implements the batched fetch → transform → write →
// commit → checkpoint → pause-check loop for full, incremental, and
// multi-step pipeline plans.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pipeflow/runner/internal/domain"
	"github.com/pipeflow/runner/internal/execctx"
	"github.com/pipeflow/runner/internal/reader"
	"github.com/pipeflow/runner/internal/sink"
	"github.com/pipeflow/runner/internal/store"
	"github.com/pipeflow/runner/internal/transform"
)

// Result accumulates what a Strategy observed over its run. The executor
// writes these counters onto the run row when it closes out.
type Result struct {
	RowsRead    int64
	RowsWritten int64
	Paused      bool
}

// Strategy runs a pipeline's batched execution loop to completion (all
// source rows exhausted) or until a pause is observed and applied.
type Strategy interface {
	Run(ctx context.Context, runID uuid.UUID) (Result, error)
}

// checkPause observes current pipeline status and, if PAUSE_REQUESTED,
// applies the pause transition. It reports whether the strategy should stop.
func checkPause(ctx context.Context, pipelines store.PipelineStore, pipelineID uuid.UUID) (bool, error) {
	status, err := pipelines.CurrentStatus(ctx, pipelineID)
	if err != nil {
		return false, fmt.Errorf("strategy: check pause status: %w", err)
	}
	if status != domain.StatusPauseRequested {
		return false, nil
	}
	if _, err := pipelines.ApplyPause(ctx, pipelineID); err != nil {
		return false, fmt.Errorf("strategy: apply pause: %w", err)
	}
	return true, nil
}

// FullStrategy implements the full-mode loop (spec §4.4.1): paginate by
// OFFSET/LIMIT, advancing offset by actual rows fetched.
type FullStrategy struct {
	Pool       *pgxpool.Pool
	Pipeline   *domain.Pipeline
	Reader     *reader.FullReader
	Transforms *transform.Chain
	Writer     sink.Writer
	Pipelines  store.PipelineStore
}

func (s *FullStrategy) Run(ctx context.Context, runID uuid.UUID) (Result, error) {
	var result Result
	for {
		batch, err := s.Reader.FetchBatch(ctx)
		if err != nil {
			return result, fmt.Errorf("strategy: fetch batch: %w", err)
		}
		if len(batch) == 0 {
			return result, nil
		}
		result.RowsRead += int64(len(batch))

		transformed, err := s.Transforms.Apply(ctx, batch)
		if err != nil {
			return result, fmt.Errorf("strategy: apply transforms: %w", err)
		}

		tx, err := s.Pool.Begin(ctx)
		if err != nil {
			return result, fmt.Errorf("strategy: begin batch transaction: %w", err)
		}
		execCtx := execctx.New(tx, runID, s.Pipeline.ID)

		written, err := s.Writer.Write(ctx, execCtx, s.Pipeline, transformed)
		if err != nil {
			_ = tx.Rollback(ctx)
			return result, fmt.Errorf("strategy: write batch: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return result, fmt.Errorf("strategy: commit batch: %w", err)
		}
		result.RowsWritten += int64(written)

		paused, err := checkPause(ctx, s.Pipelines, s.Pipeline.ID)
		if err != nil {
			return result, err
		}
		if paused {
			result.Paused = true
			return result, nil
		}
	}
}

// IncrementalStrategy implements the cursor-based loop (spec §4.4.2). The
// checkpoint advance is committed in the same transaction as the data
// write, so the checkpoint never advances ahead of committed data.
type IncrementalStrategy struct {
	Pool        *pgxpool.Pool
	Pipeline    *domain.Pipeline
	Reader      *reader.IncrementalReader
	Transforms  *transform.Chain
	Writer      sink.Writer
	Pipelines   store.PipelineStore
	Checkpoints store.CheckpointStore
}

func (s *IncrementalStrategy) Run(ctx context.Context, runID uuid.UUID) (Result, error) {
	var result Result
	for {
		batch, err := s.Reader.FetchBatch(ctx)
		if err != nil {
			return result, fmt.Errorf("strategy: fetch batch: %w", err)
		}
		if len(batch) == 0 {
			return result, nil
		}
		result.RowsRead += int64(len(batch))

		transformed, err := s.Transforms.Apply(ctx, batch)
		if err != nil {
			return result, fmt.Errorf("strategy: apply transforms: %w", err)
		}

		tx, err := s.Pool.Begin(ctx)
		if err != nil {
			return result, fmt.Errorf("strategy: begin batch transaction: %w", err)
		}
		execCtx := execctx.New(tx, runID, s.Pipeline.ID)

		written, err := s.Writer.Write(ctx, execCtx, s.Pipeline, transformed)
		if err != nil {
			_ = tx.Rollback(ctx)
			return result, fmt.Errorf("strategy: write batch: %w", err)
		}

		lastValue, lastID, _ := s.Reader.Cursor()
		if err := s.Checkpoints.AdvanceCheckpointTx(ctx, tx, s.Pipeline.ID, lastValue, lastID, time.Now().UTC()); err != nil {
			_ = tx.Rollback(ctx)
			return result, fmt.Errorf("strategy: advance checkpoint: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return result, fmt.Errorf("strategy: commit batch: %w", err)
		}
		result.RowsWritten += int64(written)

		paused, err := checkPause(ctx, s.Pipelines, s.Pipeline.ID)
		if err != nil {
			return result, err
		}
		if paused {
			result.Paused = true
			return result, nil
		}
	}
}
