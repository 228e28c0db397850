// Package execctx defines the per-batch value object strategies pass to
// writers, carrying the batch transaction that the checkpoint advance also
// uses.
package execctx

import (
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ExecutionContext bundles a single batch's transaction handle with the
// identifiers needed to write data and advance a checkpoint together. A
// fresh transaction is opened per batch, not per run, so each commit is one
// of the suspension points the concurrency model calls out.
type ExecutionContext struct {
	Tx         pgx.Tx
	RunID      uuid.UUID
	PipelineID uuid.UUID
}

// New builds an ExecutionContext for a single batch.
func New(tx pgx.Tx, runID, pipelineID uuid.UUID) *ExecutionContext {
	return &ExecutionContext{Tx: tx, RunID: runID, PipelineID: pipelineID}
}
