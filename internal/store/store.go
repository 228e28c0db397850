// Package store defines the persistence interfaces the runner core depends
// on. Implementations live in internal/postgres (production) and as
// hand-written in-memory fakes in each package's tests. The dispatcher,
// manager, recovery and executor packages reach the database only through
// these interfaces; the strategy, reader, execctx and sink packages use pgx
// directly for batch reads, writes and transactions.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pipeflow/runner/internal/domain"
)

// PipelineFilter holds optional filters for listing pipelines.
type PipelineFilter struct {
	Status  string
	Enabled *bool
	Limit   int
	Offset  int
}

// PipelineStore is the persistence interface for pipeline definitions and
// their lifecycle status. Status transitions are conditional CAS operations
// (spec §4.6): every Claim*/Apply*/Finalize* method returns (ok bool, err
// error) where ok=false means the `from` predicate no longer held — a lost
// race, not an error.
type PipelineStore interface {
	ListCandidates(ctx context.Context) ([]domain.Pipeline, error)
	GetPipelineByID(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error)
	GetTasks(ctx context.Context, pipelineID uuid.UUID) ([]domain.PipelineTask, error)

	// ClaimRun attempts RUN_REQUESTED → RUNNING.
	ClaimRun(ctx context.Context, pipelineID uuid.UUID) (bool, error)
	// ApplyPause attempts PAUSE_REQUESTED → PAUSED.
	ApplyPause(ctx context.Context, pipelineID uuid.UUID) (bool, error)
	// FinalizeSuccess attempts RUNNING → IDLE. If the pipeline has already
	// moved to PAUSED (a pause fired mid-run), the caller should not call
	// this — see dispatcher for the observe-then-transition sequence.
	FinalizeSuccess(ctx context.Context, pipelineID uuid.UUID) (bool, error)
	// FinalizeFailure attempts {RUNNING, PAUSE_REQUESTED} → FAILED.
	FinalizeFailure(ctx context.Context, pipelineID uuid.UUID) (bool, error)
	// CurrentStatus returns the live status column (used for the mid-run
	// pause observation and the post-retry PAUSED check).
	CurrentStatus(ctx context.Context, pipelineID uuid.UUID) (domain.Status, error)

	// RequestRun attempts {IDLE, PAUSED, PAUSE_REQUESTED, FAILED} → RUN_REQUESTED.
	RequestRun(ctx context.Context, pipelineID uuid.UUID) (bool, error)
	// RequestPause attempts {RUNNING, RUN_REQUESTED, IDLE} → PAUSE_REQUESTED.
	RequestPause(ctx context.Context, pipelineID uuid.UUID) (bool, error)

	// ListRunning returns all pipelines currently in RUNNING, for crash recovery.
	ListRunning(ctx context.Context) ([]domain.Pipeline, error)
	// RecoverToRequested attempts RUNNING → RUN_REQUESTED (crash recovery).
	RecoverToRequested(ctx context.Context, pipelineID uuid.UUID) (bool, error)

	CreatePipeline(ctx context.Context, p *domain.Pipeline) error
	PatchPipeline(ctx context.Context, id uuid.UUID, patch PipelinePatch) (*domain.Pipeline, error)
}

// PipelinePatch holds optional field updates for PatchPipeline. Nil fields
// are left unchanged.
type PipelinePatch struct {
	SourceQuery *string
	TargetTable *string
	BatchSize   *int
	Enabled     *bool
}

// RunFilter holds optional filters for listing run history.
type RunFilter struct {
	PipelineID uuid.UUID
	Status     string
	Limit      int
	Offset     int
}

// RunStore is the persistence interface for run history rows. Runs are
// owned exclusively by the runner (spec §3).
type RunStore interface {
	CreateRun(ctx context.Context, pipelineID uuid.UUID) (*domain.Run, error)
	FinishRunSuccess(ctx context.Context, runID uuid.UUID, rowsRead, rowsWritten int64) error
	FinishRunFailure(ctx context.Context, runID uuid.UUID, rowsRead, rowsWritten int64, errMsg string) error
	GetRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error)

	// ListStuckRunning returns runs still RUNNING, for crash recovery.
	ListStuckRunning(ctx context.Context, pipelineID uuid.UUID) ([]domain.Run, error)
	// FailOrphaned marks a RUNNING run FAILED with domain.RecoveredErrorMessage.
	FailOrphaned(ctx context.Context, runID uuid.UUID) error

	// DeleteRunsOlderThan removes terminal (SUCCESS/FAILED) runs started
	// before the cutoff, across every pipeline. Driven periodically by
	// internal/retention.
	DeleteRunsOlderThan(ctx context.Context, olderThan time.Time) (int, error)
	// DeleteRunsBeyondLimit removes the oldest runs for a single pipeline,
	// keeping the keepCount most recent. Driven by the admin run-trim
	// endpoint (internal/api).
	DeleteRunsBeyondLimit(ctx context.Context, pipelineID uuid.UUID, keepCount int) (int, error)
}

// CheckpointStore is the persistence interface for incremental resumable
// cursors. A Checkpoint row exists per pipeline (PK = pipeline id).
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, pipelineID uuid.UUID) (*domain.Checkpoint, error)

	// AdvanceCheckpointTx upserts the checkpoint and must be called by the
	// strategy in the SAME transaction that commits the batch's data write
	// (spec §4.4.2: "the checkpoint upsert and the data write are committed
	// in the same transaction"). The tx parameter is an opaque handle (a
	// pgx.Tx in production, the same one held by execctx.ExecutionContext) —
	// store implementations type-assert it.
	AdvanceCheckpointTx(ctx context.Context, tx any, pipelineID uuid.UUID, lastValue, lastID string, updatedAt time.Time) error
}
