package sink_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pipeflow/runner/internal/domain"
	"github.com/pipeflow/runner/internal/execctx"
	"github.com/pipeflow/runner/internal/reader"
	"github.com/pipeflow/runner/internal/sink"
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

	_, err = pool.Exec(ctx, `DROP TABLE IF EXISTS sink_test_orders`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `CREATE TABLE sink_test_orders (id INT PRIMARY KEY, amount INT NOT NULL)`)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DROP TABLE IF EXISTS sink_test_orders`)
	})

	return pool
}

func TestRelationalWriter_UpsertsNewAndExistingRows(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	allowlist := domain.NewAllowlist([]string{"public.sink_test_orders"}, nil)
	writer := sink.NewRelationalWriter(allowlist)
	pipeline := &domain.Pipeline{TargetTable: "public.sink_test_orders"}

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	execCtx := execctx.New(tx, uuid.New(), uuid.New())

	n, err := writer.Write(ctx, execCtx, pipeline, []reader.Row{
		{"id": 1, "amount": 100},
		{"id": 2, "amount": 200},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, tx.Commit(ctx))

	tx2, err := pool.Begin(ctx)
	require.NoError(t, err)
	execCtx2 := execctx.New(tx2, uuid.New(), uuid.New())
	_, err = writer.Write(ctx, execCtx2, pipeline, []reader.Row{
		{"id": 1, "amount": 999},
	})
	require.NoError(t, err)
	require.NoError(t, tx2.Commit(ctx))

	var amount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT amount FROM sink_test_orders WHERE id = 1`).Scan(&amount))
	assert.Equal(t, 999, amount)
}

func TestRelationalWriter_RejectsNonAllowlistedTarget(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	allowlist := domain.NewAllowlist([]string{"public.sink_test_orders"}, nil)
	writer := sink.NewRelationalWriter(allowlist)
	pipeline := &domain.Pipeline{TargetTable: "public.other_table"}

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	execCtx := execctx.New(tx, uuid.New(), uuid.New())

	_, err = writer.Write(ctx, execCtx, pipeline, []reader.Row{{"id": 1}})
	assert.ErrorIs(t, err, domain.ErrContractViolation)
}

func TestRelationalWriter_EmptyBatchIsNoop(t *testing.T) {
	allowlist := domain.NewAllowlist([]string{"public.sink_test_orders"}, nil)
	writer := sink.NewRelationalWriter(allowlist)

	n, err := writer.Write(context.Background(), &execctx.ExecutionContext{}, &domain.Pipeline{TargetTable: "public.sink_test_orders"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
