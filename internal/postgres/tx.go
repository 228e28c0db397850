package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pipeflow/runner/internal/domain"
)

// CheckpointStore provides the resumable cursor for incremental pipelines.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore creates a CheckpointStore backed by the given pool.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

func (s *CheckpointStore) GetCheckpoint(ctx context.Context, pipelineID uuid.UUID) (*domain.Checkpoint, error) {
	var c domain.Checkpoint
	c.PipelineID = pipelineID
	err := s.pool.QueryRow(ctx,
		`SELECT last_processed_value, last_processed_id, updated_at
		 FROM pipeline_checkpoints WHERE pipeline_id = $1`,
		pipelineID).Scan(&c.LastProcessedValue, &c.LastProcessedID, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.Checkpoint{PipelineID: pipelineID}, nil
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return &c, nil
}

// AdvanceCheckpointTx upserts the checkpoint row using the given transaction
// handle, so the checkpoint advance and the batch's data write commit
// atomically (spec: either both survive a crash or neither does). tx must be
// a pgx.Tx (the batch transaction the strategy also stores in execctx).
func (s *CheckpointStore) AdvanceCheckpointTx(ctx context.Context, tx any, pipelineID uuid.UUID, lastValue, lastID string, updatedAt time.Time) error {
	pgtx, ok := tx.(pgx.Tx)
	if !ok {
		return fmt.Errorf("advance checkpoint: tx handle is %T, not a pgx transaction", tx)
	}
	_, err := pgtx.Exec(ctx,
		`INSERT INTO pipeline_checkpoints (pipeline_id, last_processed_value, last_processed_id, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (pipeline_id) DO UPDATE SET
			last_processed_value = EXCLUDED.last_processed_value,
			last_processed_id = EXCLUDED.last_processed_id,
			updated_at = EXCLUDED.updated_at`,
		pipelineID, lastValue, lastID, updatedAt)
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}
