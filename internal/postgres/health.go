package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthChecker implements api.HealthChecker for Postgres. Readiness for
// this runner means more than a bare connection ping: the manager's tick
// loop depends on the pipelines table being queryable, so the check reads
// through it directly. It also logs a warning when the pool looks
// saturated (no idle connections left), since a saturated pool is the most
// common cause of a tick silently running late.
type HealthChecker struct {
	pool *pgxpool.Pool
}

// NewHealthChecker creates a Postgres health checker backed by the given pool.
func NewHealthChecker(pool *pgxpool.Pool) *HealthChecker {
	return &HealthChecker{pool: pool}
}

// HealthCheck reads one row from pipelines. Returns nil if the table is
// reachable, including when the table is simply empty.
func (h *HealthChecker) HealthCheck(ctx context.Context) error {
	var discard string
	err := h.pool.QueryRow(ctx, "SELECT id FROM pipelines LIMIT 1").Scan(&discard)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: pipelines table unreachable: %w", err)
	}

	if stat := h.pool.Stat(); stat.TotalConns() > 0 && stat.IdleConns() == 0 && stat.TotalConns() >= stat.MaxConns() {
		slog.WarnContext(ctx, "postgres pool saturated", "total_conns", stat.TotalConns(), "max_conns", stat.MaxConns())
	}

	return nil
}
