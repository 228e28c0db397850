package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/pipeflow/runner/internal/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointStore_GetReturnsEmptyWhenMissing(t *testing.T) {
	pool := testPool(t)
	pStore := postgres.NewPipelineStore(pool)
	cStore := postgres.NewCheckpointStore(pool)
	ctx := context.Background()

	p := createTestPipeline(t, pStore, "checkpoint-empty")

	got, err := cStore.GetCheckpoint(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Empty())
}

func TestCheckpointStore_AdvanceCheckpointTxCommitsWithTransaction(t *testing.T) {
	pool := testPool(t)
	pStore := postgres.NewPipelineStore(pool)
	cStore := postgres.NewCheckpointStore(pool)
	ctx := context.Background()

	p := createTestPipeline(t, pStore, "checkpoint-advance")

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, cStore.AdvanceCheckpointTx(ctx, tx, p.ID, "2024-01-01T00:00:00Z", "42", now))
	require.NoError(t, tx.Commit(ctx))

	got, err := cStore.GetCheckpoint(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.Empty())
	assert.Equal(t, "2024-01-01T00:00:00Z", got.LastProcessedValue)
	assert.Equal(t, "42", got.LastProcessedID)
}

func TestCheckpointStore_AdvanceCheckpointTxUpserts(t *testing.T) {
	pool := testPool(t)
	pStore := postgres.NewPipelineStore(pool)
	cStore := postgres.NewCheckpointStore(pool)
	ctx := context.Background()

	p := createTestPipeline(t, pStore, "checkpoint-upsert")

	for _, v := range []string{"a", "b"} {
		tx, err := pool.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, cStore.AdvanceCheckpointTx(ctx, tx, p.ID, v, "1", time.Now()))
		require.NoError(t, tx.Commit(ctx))
	}

	got, err := cStore.GetCheckpoint(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", got.LastProcessedValue)
}
