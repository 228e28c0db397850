package manager_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/pipeflow/runner/internal/dispatcher"
	"github.com/pipeflow/runner/internal/domain"
	"github.com/pipeflow/runner/internal/manager"
	"github.com/pipeflow/runner/internal/store"
	"github.com/pipeflow/runner/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipelineStore struct {
	store.PipelineStore
	candidates []domain.Pipeline
	claimed    []uuid.UUID
	paused     []uuid.UUID
}

func (f *fakePipelineStore) ListCandidates(ctx context.Context) ([]domain.Pipeline, error) {
	return f.candidates, nil
}

func (f *fakePipelineStore) ClaimRun(ctx context.Context, id uuid.UUID) (bool, error) {
	f.claimed = append(f.claimed, id)
	return true, nil
}

func (f *fakePipelineStore) ApplyPause(ctx context.Context, id uuid.UUID) (bool, error) {
	f.paused = append(f.paused, id)
	return true, nil
}

func (f *fakePipelineStore) GetTasks(ctx context.Context, id uuid.UUID) ([]domain.PipelineTask, error) {
	return nil, nil
}

func (f *fakePipelineStore) CurrentStatus(ctx context.Context, id uuid.UUID) (domain.Status, error) {
	return domain.StatusRunning, nil
}

func (f *fakePipelineStore) FinalizeSuccess(ctx context.Context, id uuid.UUID) (bool, error) {
	return true, nil
}

func (f *fakePipelineStore) FinalizeFailure(ctx context.Context, id uuid.UUID) (bool, error) {
	return true, nil
}

func TestManager_TickDispatchesEachCandidateSequentially(t *testing.T) {
	a := domain.Pipeline{ID: uuid.New(), Name: "a", Status: domain.StatusRunRequested}
	b := domain.Pipeline{ID: uuid.New(), Name: "b", Status: domain.StatusPauseRequested}
	pipelines := &fakePipelineStore{candidates: []domain.Pipeline{a, b}}

	var executedFor []uuid.UUID
	d := dispatcher.New(pipelines, func(ctx context.Context, p *domain.Pipeline, tasks []domain.PipelineTask) (strategy.Result, error) {
		executedFor = append(executedFor, p.ID)
		return strategy.Result{}, nil
	})

	m := manager.New(d, 0)
	m.Tick(context.Background())

	assert.Equal(t, []uuid.UUID{a.ID}, executedFor, "only the RUN_REQUESTED candidate executes")
	assert.Equal(t, []uuid.UUID{b.ID}, pipelines.paused, "the PAUSE_REQUESTED candidate is paused, not executed")
}

func TestManager_TickContinuesPastNonConnectivityFailure(t *testing.T) {
	a := domain.Pipeline{ID: uuid.New(), Name: "a", Status: domain.StatusRunRequested}
	b := domain.Pipeline{ID: uuid.New(), Name: "b", Status: domain.StatusRunRequested}
	pipelines := &fakePipelineStore{candidates: []domain.Pipeline{a, b}}

	var executedFor []uuid.UUID
	d := &dispatcher.Dispatcher{
		Pipelines:   pipelines,
		MaxAttempts: 1,
		Execute: func(ctx context.Context, p *domain.Pipeline, tasks []domain.PipelineTask) (strategy.Result, error) {
			executedFor = append(executedFor, p.ID)
			if p.ID == a.ID {
				return strategy.Result{}, errors.New("constraint violation")
			}
			return strategy.Result{}, nil
		},
	}

	m := manager.New(d, 0)
	m.Tick(context.Background())

	require.Len(t, executedFor, 2, "a failing candidate must not stop the tick from reaching later candidates")
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, executedFor)
}

func TestManager_TickRecoversPanicAndContinues(t *testing.T) {
	a := domain.Pipeline{ID: uuid.New(), Name: "a", Status: domain.StatusRunRequested}
	b := domain.Pipeline{ID: uuid.New(), Name: "b", Status: domain.StatusRunRequested}
	pipelines := &fakePipelineStore{candidates: []domain.Pipeline{a, b}}

	var executedFor []uuid.UUID
	d := &dispatcher.Dispatcher{
		Pipelines:   pipelines,
		MaxAttempts: 1,
		Execute: func(ctx context.Context, p *domain.Pipeline, tasks []domain.PipelineTask) (strategy.Result, error) {
			executedFor = append(executedFor, p.ID)
			if p.ID == a.ID {
				panic("boom")
			}
			return strategy.Result{}, nil
		},
	}

	m := manager.New(d, 0)
	assert.NotPanics(t, func() { m.Tick(context.Background()) })
	require.Len(t, executedFor, 2, "a panicking candidate must not stop the tick from reaching later candidates")
}

func TestManager_TickAbortsEarlyOnConnectivityFailure(t *testing.T) {
	a := domain.Pipeline{ID: uuid.New(), Name: "a", Status: domain.StatusRunRequested}
	b := domain.Pipeline{ID: uuid.New(), Name: "b", Status: domain.StatusRunRequested}
	pipelines := &fakePipelineStore{candidates: []domain.Pipeline{a, b}}

	var executedFor []uuid.UUID
	d := &dispatcher.Dispatcher{
		Pipelines:   pipelines,
		MaxAttempts: 1,
		Execute: func(ctx context.Context, p *domain.Pipeline, tasks []domain.PipelineTask) (strategy.Result, error) {
			executedFor = append(executedFor, p.ID)
			return strategy.Result{}, errors.New("dial tcp 10.0.0.1:5432: connection refused")
		},
	}

	m := manager.New(d, 0)
	m.Tick(context.Background())

	assert.Equal(t, []uuid.UUID{a.ID}, executedFor, "a connectivity failure must abort the remainder of the tick")
}
