package reader_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pipeflow/runner/internal/domain"
	"github.com/pipeflow/runner/internal/reader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `DROP TABLE IF EXISTS reader_test_orders`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		CREATE TABLE reader_test_orders (
			id INT PRIMARY KEY,
			amount INT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DROP TABLE IF EXISTS reader_test_orders`)
	})

	return pool
}

func seedRows(t *testing.T, pool *pgxpool.Pool, n int) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		_, err := pool.Exec(ctx,
			`INSERT INTO reader_test_orders (id, amount, updated_at) VALUES ($1, $2, $3)`,
			i, i*10, base.Add(time.Duration(i)*time.Minute),
		)
		require.NoError(t, err)
	}
}

func TestFullReader_PaginatesAndTerminates(t *testing.T) {
	pool := testPool(t)
	seedRows(t, pool, 5)

	r := reader.NewFullReader(pool, "SELECT id, amount FROM reader_test_orders ORDER BY id", 2)
	ctx := context.Background()

	var total []reader.Row
	for i := 0; i < 10; i++ {
		batch, err := r.FetchBatch(ctx)
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		total = append(total, batch...)
	}

	assert.Len(t, total, 5)
	assert.Equal(t, 5, r.Offset())
}

func TestFullReader_RejectsMissingOrderBy(t *testing.T) {
	pool := testPool(t)
	r := reader.NewFullReader(pool, "SELECT id FROM reader_test_orders", 2)

	_, err := r.FetchBatch(context.Background())
	assert.Error(t, err)
}

func TestIncrementalReader_FirstRunThenResumption(t *testing.T) {
	pool := testPool(t)
	seedRows(t, pool, 3)

	ctx := context.Background()
	query := "SELECT id, amount, updated_at FROM reader_test_orders"

	r := reader.NewIncrementalReader(pool, query, "updated_at", "id", 10, domain.Checkpoint{})
	batch, err := r.FetchBatch(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	lastValue, lastID, has := r.Cursor()
	assert.True(t, has)
	assert.Equal(t, "3", lastID)

	// A fresh reader resuming from that cursor sees no further rows.
	resumed := reader.NewIncrementalReader(pool, query, "updated_at", "id", 10, domain.Checkpoint{
		LastProcessedValue: lastValue,
		LastProcessedID:    lastID,
	})
	batch, err = resumed.FetchBatch(ctx)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestIncrementalReader_TieBreaksOnIDWithinSameTimestamp(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := pool.Exec(ctx, `INSERT INTO reader_test_orders (id, amount, updated_at) VALUES (5, 50, $1), (6, 60, $1), (7, 70, $2)`,
		ts, ts.Add(time.Minute))
	require.NoError(t, err)

	query := "SELECT id, amount, updated_at FROM reader_test_orders"
	r := reader.NewIncrementalReader(pool, query, "updated_at", "id", 10, domain.Checkpoint{
		LastProcessedValue: ts.Format(time.RFC3339Nano),
		LastProcessedID:    "5",
	})

	batch, err := r.FetchBatch(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.EqualValues(t, 6, batch[0]["id"])
	assert.EqualValues(t, 7, batch[1]["id"])
}

func TestIncrementalReader_RejectsInvalidIdentifier(t *testing.T) {
	pool := testPool(t)
	r := reader.NewIncrementalReader(pool, "SELECT id FROM reader_test_orders", "bad key", "id", 10, domain.Checkpoint{})

	_, err := r.FetchBatch(context.Background())
	assert.Error(t, err)
}
