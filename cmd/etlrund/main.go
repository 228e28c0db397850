// etlrund is the ETL pipeline runner: a single process that ticks on a
// poll interval, claims enabled pipelines in RUN_REQUESTED or
// PAUSE_REQUESTED, and drives each through the dispatcher/executor/strategy
// stack to completion or pause.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	esv8 "github.com/elastic/go-elasticsearch/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pipeflow/runner/internal/api"
	"github.com/pipeflow/runner/internal/classify"
	"github.com/pipeflow/runner/internal/config"
	"github.com/pipeflow/runner/internal/dispatcher"
	"github.com/pipeflow/runner/internal/domain"
	"github.com/pipeflow/runner/internal/executor"
	"github.com/pipeflow/runner/internal/manager"
	"github.com/pipeflow/runner/internal/postgres"
	"github.com/pipeflow/runner/internal/recovery"
	"github.com/pipeflow/runner/internal/retention"
	"github.com/pipeflow/runner/internal/sink"
	"github.com/pipeflow/runner/internal/strategy"
	"github.com/pipeflow/runner/internal/transform"
)

// dbWaitAttempts and dbWaitDelay implement the startup DB-wait loop from
// spec §5: up to 10 attempts with delays 1,2,4,8,8,... seconds.
const dbWaitAttempts = 10

func dbWaitDelay(attempt int) time.Duration {
	switch {
	case attempt == 0:
		return time.Second
	case attempt == 1:
		return 2 * time.Second
	case attempt == 2:
		return 4 * time.Second
	default:
		return 8 * time.Second
	}
}

func main() {
	slog.SetDefault(slog.New(api.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := waitForDB(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("database never became reachable", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	pipelines := postgres.NewPipelineStore(pool)
	runs := postgres.NewRunStore(pool)
	checkpoints := postgres.NewCheckpointStore(pool)

	allowlist := domain.NewAllowlist(cfg.AllowedTables, cfg.AllowedIndices)

	esClient, err := esv8.NewClient(esv8.Config{Addresses: []string{cfg.ElasticsearchAddr}})
	if err != nil {
		slog.Error("failed to build elasticsearch client", "error", err)
		os.Exit(1)
	}

	strategyInputs := strategy.Inputs{
		Pool:        pool,
		Pipelines:   pipelines,
		Checkpoints: checkpoints,
		Transforms:  transform.NewRegistry(),
		Relational:  sink.NewRelationalWriter(allowlist),
		DocumentIdx: sink.NewDocumentIndexWriter(esClient, allowlist, domain.IndexMappings(cfg.IndexMappings)),
	}

	exec := executor.New(runs, checkpoints, strategyInputs)
	disp := dispatcher.New(pipelines, exec.Execute)
	disp.MaxAttempts = cfg.MaxRetries
	disp.BackoffBase = cfg.RetryBaseDur

	// Crash recovery runs once, before the tick loop starts: any pipeline
	// left RUNNING by a prior process is requeued to RUN_REQUESTED.
	rec := recovery.New(pipelines, runs)
	if err := rec.Run(ctx); err != nil {
		slog.Error("crash recovery failed", "error", err)
		os.Exit(1)
	}

	mgr := manager.New(disp, cfg.PollInterval)
	mgr.Start(ctx)

	sweeper := retention.New(runs, cfg.RunRetentionSweep, cfg.RunRetentionMaxAge)
	sweeper.Start(ctx)

	srv := &api.Server{
		Pipelines: pipelines,
		Runs:      runs,
		DBHealth:  postgres.NewHealthChecker(pool),
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(srv),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting etlrund", "addr", cfg.HTTPAddr, "poll_interval", cfg.PollInterval)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
		}
	}

	mgr.Stop()
	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("etlrund shutdown complete")
}

// waitForDB retries connecting up to dbWaitAttempts times with increasing
// backoff (spec §5): the DB may not be accepting connections yet when the
// runner starts in a container orchestrator.
func waitForDB(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	var lastErr error
	for attempt := 0; attempt < dbWaitAttempts; attempt++ {
		pool, err := postgres.NewPool(ctx, databaseURL)
		if err == nil {
			if pingErr := pool.Ping(ctx); pingErr == nil {
				return pool, nil
			} else {
				lastErr = pingErr
				pool.Close()
			}
		} else {
			lastErr = err
		}

		if classify.Classify(lastErr) != classify.Connectivity {
			return nil, lastErr
		}

		slog.Warn("database not yet reachable, retrying", "attempt", attempt+1, "max_attempts", dbWaitAttempts, "error", lastErr)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dbWaitDelay(attempt)):
		}
	}
	return nil, lastErr
}
