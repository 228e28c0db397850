package transform_test

import (
	"context"
	"testing"

	"github.com/pipeflow/runner/internal/domain"
	"github.com/pipeflow/runner/internal/reader"
	"github.com/pipeflow/runner/internal/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopChain_PassesRowsThrough(t *testing.T) {
	chain := transform.NewNoopChain()
	rows := []reader.Row{{"id": 1}, {"id": 2}}

	out, err := chain.Apply(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, rows, out)
}

func TestChain_EmptyBatchShortCircuits(t *testing.T) {
	called := false
	fn := transform.Fn(func(ctx context.Context, rows []reader.Row) ([]reader.Row, error) {
		called = true
		return rows, nil
	})
	chain := transform.NewChain(fn)

	out, err := chain.Apply(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.False(t, called, "transform step must not run on an empty batch")
}

func TestChain_StepReturningEmptyStopsLaterSteps(t *testing.T) {
	secondCalled := false
	filterAll := transform.Fn(func(ctx context.Context, rows []reader.Row) ([]reader.Row, error) {
		return nil, nil
	})
	second := transform.Fn(func(ctx context.Context, rows []reader.Row) ([]reader.Row, error) {
		secondCalled = true
		return rows, nil
	})
	chain := transform.NewChain(filterAll, second)

	out, err := chain.Apply(context.Background(), []reader.Row{{"id": 1}})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.False(t, secondCalled)
}

func TestChain_PropagatesStepError(t *testing.T) {
	boom := transform.Fn(func(ctx context.Context, rows []reader.Row) ([]reader.Row, error) {
		return nil, assert.AnError
	})
	chain := transform.NewChain(boom)

	_, err := chain.Apply(context.Background(), []reader.Row{{"id": 1}})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRegistry_LoadsRegisteredTransform(t *testing.T) {
	reg := transform.NewRegistry()
	reg.Register("reporting.uppercase_name", func(ctx context.Context, rows []reader.Row) ([]reader.Row, error) {
		return rows, nil
	})

	fn, err := reg.Load("reporting.uppercase_name")
	require.NoError(t, err)
	out, err := fn(context.Background(), []reader.Row{{"name": "a"}})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestRegistry_UnregisteredIdentifierReturnsStub(t *testing.T) {
	reg := transform.NewRegistry()

	fn, err := reg.Load("reporting.unknown_module")
	require.NoError(t, err)

	_, err = fn(context.Background(), []reader.Row{{"id": 1}})
	assert.ErrorIs(t, err, domain.ErrContractViolation)
}
