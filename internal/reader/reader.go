// Package reader implements the streaming batched SQL readers the full and
// incremental strategies fetch rows from. Each reader returns an empty
// batch to signal end-of-source; it never blocks waiting for more rows.
package reader

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pipeflow/runner/internal/domain"
	"github.com/pipeflow/runner/internal/sqlutil"
)

// Row is a single fetched record, keyed by column name.
type Row map[string]any

// SQLReader fetches successive batches of a source query. A return of a
// zero-length batch (with a nil error) signals end-of-source.
type SQLReader interface {
	FetchBatch(ctx context.Context) ([]Row, error)
}

func queryBatch(ctx context.Context, pool *pgxpool.Pool, query string, args []any) ([]Row, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reader: query batch: %w", err)
	}
	defer rows.Close()

	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("reader: scan batch: %w", err)
	}

	batch := make([]Row, len(maps))
	for i, m := range maps {
		batch[i] = Row(m)
	}
	return batch, nil
}

// FullReader paginates a full-mode source_query with OFFSET/LIMIT,
// advancing offset by the number of rows actually fetched in the prior
// batch rather than by the configured batch size (spec's monotonic-offset
// correctness fix — a short last page still advances the cursor correctly,
// and the helper in sqlutil is immune to skipping rows on non-unique order
// columns).
type FullReader struct {
	pool        *pgxpool.Pool
	sourceQuery string
	batchSize   int
	offset      int
}

// NewFullReader builds a FullReader starting at offset 0.
func NewFullReader(pool *pgxpool.Pool, sourceQuery string, batchSize int) *FullReader {
	return &FullReader{pool: pool, sourceQuery: sourceQuery, batchSize: batchSize}
}

func (r *FullReader) FetchBatch(ctx context.Context) ([]Row, error) {
	query, args, err := sqlutil.PaginateFull(r.sourceQuery, r.batchSize, r.offset)
	if err != nil {
		return nil, fmt.Errorf("reader: build full query: %w", err)
	}
	batch, err := queryBatch(ctx, r.pool, query, args)
	if err != nil {
		return nil, err
	}
	r.offset += len(batch)
	return batch, nil
}

// Offset reports the reader's current position, for diagnostics/tests.
func (r *FullReader) Offset() int {
	return r.offset
}

// IncrementalReader resumes from a durable (last_value, last_id) cursor and
// advances it in memory as batches are fetched. The caller is responsible
// for persisting the advanced cursor (via the checkpoint store, in the same
// transaction as the data write) before fetching the next batch — Cursor
// exposes the tail position for that purpose.
type IncrementalReader struct {
	pool        *pgxpool.Pool
	sourceQuery string
	incKey      string
	idKey       string
	batchSize   int

	hasCheckpoint bool
	lastValue     string
	lastID        string
}

// NewIncrementalReader builds an IncrementalReader seeded from cp. An empty
// checkpoint (cp.Empty()) means this is the pipeline's first run.
func NewIncrementalReader(pool *pgxpool.Pool, sourceQuery, incKey, idKey string, batchSize int, cp domain.Checkpoint) *IncrementalReader {
	return &IncrementalReader{
		pool:          pool,
		sourceQuery:   sourceQuery,
		incKey:        incKey,
		idKey:         idKey,
		batchSize:     batchSize,
		hasCheckpoint: !cp.Empty(),
		lastValue:     cp.LastProcessedValue,
		lastID:        cp.LastProcessedID,
	}
}

// FetchBatch fetches the next batch and advances the in-memory cursor from
// the tail row. It is a fatal (non-retriable) invariant violation for the
// tail row to be missing the incremental key, hold a null value there, or
// hold a non-timestamp value there — the strategy must not retry this.
func (r *IncrementalReader) FetchBatch(ctx context.Context) ([]Row, error) {
	query, args, err := sqlutil.IncrementalQuery(r.sourceQuery, r.incKey, r.idKey, r.batchSize, r.hasCheckpoint, r.lastValue, r.lastID)
	if err != nil {
		return nil, fmt.Errorf("reader: build incremental query: %w", err)
	}
	batch, err := queryBatch(ctx, r.pool, query, args)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return batch, nil
	}

	tail := batch[len(batch)-1]
	rawInc, ok := tail[r.incKey]
	if !ok || rawInc == nil {
		return nil, fmt.Errorf("reader: tail row missing incremental key %q: %w", r.incKey, domain.ErrContractViolation)
	}
	ts, ok := rawInc.(time.Time)
	if !ok {
		return nil, fmt.Errorf("reader: incremental key %q is not a timestamp (got %T): %w", r.incKey, rawInc, domain.ErrContractViolation)
	}
	rawID, ok := tail[r.idKey]
	if !ok || rawID == nil {
		return nil, fmt.Errorf("reader: tail row missing incremental id key %q: %w", r.idKey, domain.ErrContractViolation)
	}

	r.lastValue = ts.UTC().Format(time.RFC3339Nano)
	r.lastID = fmt.Sprintf("%v", rawID)
	r.hasCheckpoint = true
	return batch, nil
}

// Cursor reports the reader's current (last_value, last_id) position, and
// whether it has advanced past the zero-value checkpoint yet.
func (r *IncrementalReader) Cursor() (lastValue, lastID string, hasCheckpoint bool) {
	return r.lastValue, r.lastID, r.hasCheckpoint
}
