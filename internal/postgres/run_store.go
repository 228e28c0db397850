package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pipeflow/runner/internal/domain"
	"github.com/pipeflow/runner/internal/store"
)

// RunStore implements store.RunStore backed by Postgres.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a RunStore backed by the given pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

const runColumns = `id, pipeline_id, started_at, finished_at, status, rows_read, rows_written, error_message`

func scanRun(row pgx.Row) (*domain.Run, error) {
	var r domain.Run
	var errMsg pgtype.Text
	err := row.Scan(&r.ID, &r.PipelineID, &r.StartedAt, &r.FinishedAt, &r.Status,
		&r.RowsRead, &r.RowsWritten, &errMsg)
	if err != nil {
		return nil, err
	}
	r.ErrorMessage = nullableTextToPtr(errMsg)
	return &r, nil
}

func (s *RunStore) CreateRun(ctx context.Context, pipelineID uuid.UUID) (*domain.Run, error) {
	query := `INSERT INTO pipeline_runs (pipeline_id, status) VALUES ($1, $2) RETURNING ` + runColumns

	run, err := scanRun(s.pool.QueryRow(ctx, query, pipelineID, domain.RunRunning))
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

func (s *RunStore) FinishRunSuccess(ctx context.Context, runID uuid.UUID, rowsRead, rowsWritten int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $2, finished_at = NOW(), rows_read = $3, rows_written = $4
		 WHERE id = $1`,
		runID, domain.RunSuccess, rowsRead, rowsWritten)
	if err != nil {
		return fmt.Errorf("finish run success: %w", err)
	}
	return nil
}

func (s *RunStore) FinishRunFailure(ctx context.Context, runID uuid.UUID, rowsRead, rowsWritten int64, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $2, finished_at = NOW(), rows_read = $3, rows_written = $4, error_message = $5
		 WHERE id = $1`,
		runID, domain.RunFailed, rowsRead, rowsWritten, domain.TruncateError(errMsg))
	if err != nil {
		return fmt.Errorf("finish run failure: %w", err)
	}
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE id = $1`

	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *RunStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]domain.Run, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argN := 1

	if filter.PipelineID != uuid.Nil {
		where += fmt.Sprintf(" AND pipeline_id = $%d", argN)
		args = append(args, filter.PipelineID)
		argN++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, filter.Status)
		argN++
	}

	query := `SELECT ` + runColumns + ` FROM pipeline_runs` + where + ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argN, argN+1)
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var result []domain.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

// ListStuckRunning returns runs still RUNNING for a pipeline — used at
// startup to find runs orphaned by a crash (spec: crash recovery).
func (s *RunStore) ListStuckRunning(ctx context.Context, pipelineID uuid.UUID) ([]domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE pipeline_id = $1 AND status = $2`

	rows, err := s.pool.Query(ctx, query, pipelineID, domain.RunRunning)
	if err != nil {
		return nil, fmt.Errorf("list stuck running: %w", err)
	}
	defer rows.Close()

	var result []domain.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

func (s *RunStore) FailOrphaned(ctx context.Context, runID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $2, finished_at = NOW(), error_message = $3
		 WHERE id = $1 AND status = $4`,
		runID, domain.RunFailed, domain.RecoveredErrorMessage, domain.RunRunning)
	if err != nil {
		return fmt.Errorf("fail orphaned run: %w", err)
	}
	return nil
}

// DeleteRunsBeyondLimit deletes the oldest runs for a pipeline, keeping the
// most recent keepCount. Returns the number of runs deleted.
func (s *RunStore) DeleteRunsBeyondLimit(ctx context.Context, pipelineID uuid.UUID, keepCount int) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM pipeline_runs WHERE id IN (
			SELECT id FROM pipeline_runs WHERE pipeline_id = $1
			ORDER BY started_at DESC
			OFFSET $2
		)`, pipelineID, keepCount)
	if err != nil {
		return 0, fmt.Errorf("delete runs beyond limit: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteRunsOlderThan deletes terminal runs older than the given time.
func (s *RunStore) DeleteRunsOlderThan(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM pipeline_runs WHERE started_at < $1 AND status IN ($2, $3)`,
		olderThan, domain.RunSuccess, domain.RunFailed)
	if err != nil {
		return 0, fmt.Errorf("delete old runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
