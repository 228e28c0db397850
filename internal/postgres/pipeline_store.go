package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pipeflow/runner/internal/domain"
	"github.com/pipeflow/runner/internal/store"
)

// pipelineColumns is the full column list for pipeline queries.
const pipelineColumns = `id, name, type, mode, enabled, status, source_query, python_module,
	target_table, batch_size, incremental_key, incremental_id_key, created_at, updated_at`

// PipelineStore implements store.PipelineStore backed by Postgres. Status
// transitions are single conditional UPDATE ... WHERE status = $from
// statements whose affected-row count reports the outcome — never a
// read-then-write — so concurrent manager instances
// racing to claim the same pipeline cannot both succeed.
type PipelineStore struct {
	pool *pgxpool.Pool
}

// NewPipelineStore creates a PipelineStore backed by the given pool.
func NewPipelineStore(pool *pgxpool.Pool) *PipelineStore {
	return &PipelineStore{pool: pool}
}

// scanPipeline scans a single pipeline row into domain.Pipeline.
func scanPipeline(row pgx.Row) (*domain.Pipeline, error) {
	var p domain.Pipeline
	err := row.Scan(&p.ID, &p.Name, &p.Type, &p.Mode, &p.Enabled, &p.Status,
		&p.SourceQuery, &p.PythonModule, &p.TargetTable, &p.BatchSize,
		&p.IncrementalKey, &p.IncrementalIDKey, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListCandidates returns enabled pipelines whose status is one the manager
// acts on (RUN_REQUESTED or PAUSE_REQUESTED), ordered by name for a stable
// per-tick processing order.
func (s *PipelineStore) ListCandidates(ctx context.Context) ([]domain.Pipeline, error) {
	query := `SELECT ` + pipelineColumns + ` FROM pipelines
		WHERE enabled AND status IN ($1, $2) ORDER BY name`

	rows, err := s.pool.Query(ctx, query, domain.StatusRunRequested, domain.StatusPauseRequested)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var result []domain.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (s *PipelineStore) GetPipelineByID(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	query := `SELECT ` + pipelineColumns + ` FROM pipelines WHERE id = $1`

	p, err := scanPipeline(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get pipeline by id: %w", err)
	}
	return p, nil
}

func (s *PipelineStore) GetTasks(ctx context.Context, pipelineID uuid.UUID) ([]domain.PipelineTask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, pipeline_id, order_index, task_type, body, target_table
		 FROM pipeline_tasks WHERE pipeline_id = $1 ORDER BY order_index`,
		pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var result []domain.PipelineTask
	for rows.Next() {
		var t domain.PipelineTask
		if err := rows.Scan(&t.ID, &t.PipelineID, &t.OrderIndex, &t.TaskType, &t.Body, &t.TargetTable); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// casTransition runs `UPDATE pipelines SET status = $to ... WHERE id = $id
// AND status = $from` and reports whether a row was updated. A false result
// with a nil error means the predicate no longer held — a lost race, not a
// failure.
func (s *PipelineStore) casTransition(ctx context.Context, pipelineID uuid.UUID, from, to domain.Status) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipelines SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		pipelineID, from, to)
	if err != nil {
		return false, fmt.Errorf("transition %s->%s: %w", from, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PipelineStore) ClaimRun(ctx context.Context, pipelineID uuid.UUID) (bool, error) {
	return s.casTransition(ctx, pipelineID, domain.StatusRunRequested, domain.StatusRunning)
}

func (s *PipelineStore) ApplyPause(ctx context.Context, pipelineID uuid.UUID) (bool, error) {
	return s.casTransition(ctx, pipelineID, domain.StatusPauseRequested, domain.StatusPaused)
}

func (s *PipelineStore) FinalizeSuccess(ctx context.Context, pipelineID uuid.UUID) (bool, error) {
	return s.casTransition(ctx, pipelineID, domain.StatusRunning, domain.StatusIdle)
}

func (s *PipelineStore) FinalizeFailure(ctx context.Context, pipelineID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipelines SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status IN ($3, $4)`,
		pipelineID, domain.StatusFailed, domain.StatusRunning, domain.StatusPauseRequested)
	if err != nil {
		return false, fmt.Errorf("transition to failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PipelineStore) CurrentStatus(ctx context.Context, pipelineID uuid.UUID) (domain.Status, error) {
	var status domain.Status
	err := s.pool.QueryRow(ctx, `SELECT status FROM pipelines WHERE id = $1`, pipelineID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("current status: %w", err)
	}
	return status, nil
}

func (s *PipelineStore) RequestRun(ctx context.Context, pipelineID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipelines SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status IN ($3, $4, $5, $6)`,
		pipelineID, domain.StatusRunRequested,
		domain.StatusIdle, domain.StatusPaused, domain.StatusPauseRequested, domain.StatusFailed)
	if err != nil {
		return false, fmt.Errorf("request run: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PipelineStore) RequestPause(ctx context.Context, pipelineID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipelines SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status IN ($3, $4, $5)`,
		pipelineID, domain.StatusPauseRequested,
		domain.StatusRunning, domain.StatusRunRequested, domain.StatusIdle)
	if err != nil {
		return false, fmt.Errorf("request pause: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PipelineStore) ListRunning(ctx context.Context) ([]domain.Pipeline, error) {
	query := `SELECT ` + pipelineColumns + ` FROM pipelines WHERE status = $1`

	rows, err := s.pool.Query(ctx, query, domain.StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("list running: %w", err)
	}
	defer rows.Close()

	var result []domain.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (s *PipelineStore) RecoverToRequested(ctx context.Context, pipelineID uuid.UUID) (bool, error) {
	return s.casTransition(ctx, pipelineID, domain.StatusRunning, domain.StatusRunRequested)
}

func (s *PipelineStore) CreatePipeline(ctx context.Context, p *domain.Pipeline) error {
	query := `INSERT INTO pipelines (name, type, mode, enabled, status, source_query, python_module,
		target_table, batch_size, incremental_key, incremental_id_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + pipelineColumns

	created, err := scanPipeline(s.pool.QueryRow(ctx, query,
		p.Name, p.Type, p.Mode, p.Enabled, domain.StatusIdle, p.SourceQuery, p.PythonModule,
		p.TargetTable, p.BatchSize, p.IncrementalKey, p.IncrementalIDKey))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("pipeline %s: %w", p.Name, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("create pipeline: %w", err)
	}

	*p = *created
	return nil
}

func (s *PipelineStore) PatchPipeline(ctx context.Context, id uuid.UUID, patch store.PipelinePatch) (*domain.Pipeline, error) {
	query := `UPDATE pipelines SET
		source_query = COALESCE($2, source_query),
		target_table = COALESCE($3, target_table),
		batch_size   = COALESCE($4, batch_size),
		enabled      = COALESCE($5, enabled),
		updated_at   = NOW()
		WHERE id = $1
		RETURNING ` + pipelineColumns

	p, err := scanPipeline(s.pool.QueryRow(ctx, query,
		id, patch.SourceQuery, patch.TargetTable, patch.BatchSize, patch.Enabled))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("patch pipeline: %w", err)
	}
	return p, nil
}
