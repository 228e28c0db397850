package sqlutil_test

import (
	"testing"

	"github.com/pipeflow/runner/internal/sqlutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidIdentifier(t *testing.T) {
	assert.True(t, sqlutil.ValidIdentifier("updated_at"))
	assert.True(t, sqlutil.ValidIdentifier("_id"))
	assert.False(t, sqlutil.ValidIdentifier("1id"))
	assert.False(t, sqlutil.ValidIdentifier("updated_at; DROP TABLE x"))
	assert.False(t, sqlutil.ValidIdentifier(""))
}

func TestPaginateFull_OK(t *testing.T) {
	query, args, err := sqlutil.PaginateFull("SELECT id, amount FROM orders ORDER BY id", 500, 1000)
	require.NoError(t, err)
	assert.Contains(t, query, "LIMIT $1 OFFSET $2")
	assert.Equal(t, []any{500, 1000}, args)
}

func TestPaginateFull_RejectsMissingOrderBy(t *testing.T) {
	_, _, err := sqlutil.PaginateFull("SELECT id FROM orders", 500, 0)
	assert.Error(t, err)
}

func TestPaginateFull_RejectsEmbeddedLimit(t *testing.T) {
	_, _, err := sqlutil.PaginateFull("SELECT id FROM orders ORDER BY id LIMIT 10", 500, 0)
	assert.Error(t, err)
}

func TestPaginateFull_RejectsEmbeddedOffset(t *testing.T) {
	_, _, err := sqlutil.PaginateFull("SELECT id FROM orders ORDER BY id OFFSET 10", 500, 0)
	assert.Error(t, err)
}

func TestPaginateFull_RejectsNonPositiveLimit(t *testing.T) {
	_, _, err := sqlutil.PaginateFull("SELECT id FROM orders ORDER BY id", 0, 0)
	assert.Error(t, err)
}

func TestPaginateFull_RejectsNegativeOffset(t *testing.T) {
	_, _, err := sqlutil.PaginateFull("SELECT id FROM orders ORDER BY id", 500, -1)
	assert.Error(t, err)
}

func TestIncrementalQuery_NoCheckpoint(t *testing.T) {
	query, args, err := sqlutil.IncrementalQuery("SELECT id, updated_at FROM orders", "updated_at", "id", 500, false, "", "")
	require.NoError(t, err)
	assert.Contains(t, query, "ORDER BY src.updated_at, src.id LIMIT $1")
	assert.NotContains(t, query, "WHERE")
	assert.Equal(t, []any{500}, args)
}

func TestIncrementalQuery_WithCheckpoint(t *testing.T) {
	query, args, err := sqlutil.IncrementalQuery(
		"SELECT id, updated_at FROM orders", "updated_at", "id", 500, true,
		"2024-01-01T00:00:00Z", "5",
	)
	require.NoError(t, err)
	assert.Contains(t, query, "WHERE (src.updated_at > $1) OR (src.updated_at = $1 AND src.id > $2)")
	assert.Contains(t, query, "LIMIT $3")
	assert.Equal(t, []any{"2024-01-01T00:00:00Z", "5", 500}, args)
}

func TestIncrementalQuery_RejectsInvalidIncKey(t *testing.T) {
	_, _, err := sqlutil.IncrementalQuery("SELECT id FROM orders", "bad; key", "id", 500, false, "", "")
	assert.Error(t, err)
}

func TestIncrementalQuery_RejectsInvalidIDKey(t *testing.T) {
	_, _, err := sqlutil.IncrementalQuery("SELECT id FROM orders", "updated_at", "1id", 500, false, "", "")
	assert.Error(t, err)
}

func TestIncrementalQuery_RejectsEmbeddedLimit(t *testing.T) {
	_, _, err := sqlutil.IncrementalQuery("SELECT id FROM orders LIMIT 5", "updated_at", "id", 500, false, "", "")
	assert.Error(t, err)
}
