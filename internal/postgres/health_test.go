package postgres_test

import (
	"context"
	"testing"

	"github.com/pipeflow/runner/internal/postgres"
	"github.com/stretchr/testify/assert"
)

func TestHealthChecker_HealthyWithEmptyTable(t *testing.T) {
	pool := testPool(t)
	checker := postgres.NewHealthChecker(pool)

	assert.NoError(t, checker.HealthCheck(context.Background()))
}

func TestHealthChecker_HealthyWithRows(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewPipelineStore(pool)
	createTestPipeline(t, store, "health-check-sync")

	checker := postgres.NewHealthChecker(pool)
	assert.NoError(t, checker.HealthCheck(context.Background()))
}
