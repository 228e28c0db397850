// Package transform implements the row-transform chain strategies apply
// between reading a batch and writing it: a capability of load(identifier)
// → fn and apply(fn, rows) → rows, as laid out for PYTHON pipeline steps.
package transform

import (
	"context"
	"fmt"

	"github.com/pipeflow/runner/internal/domain"
	"github.com/pipeflow/runner/internal/reader"
)

// Fn transforms one batch of rows. It may return fewer rows than it
// received (filtering), the same rows reshaped, or an empty batch — an
// empty result short-circuits any remaining steps in the chain.
type Fn func(ctx context.Context, rows []reader.Row) ([]reader.Row, error)

// Loader resolves a pipeline_task's opaque body/python_module identifier to
// a runnable Fn.
type Loader interface {
	Load(identifier string) (Fn, error)
}

// Registry is an in-process Loader backed by a static map of named
// transforms. It stands in for the python_module namespace described in
// the pipeline configuration contract: registered identifiers run in
// process, unregistered ones fail as a contract violation rather than
// panicking the strategy loop.
type Registry struct {
	fns map[string]Fn
}

// NewRegistry builds an empty transform registry.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]Fn)}
}

// Register adds or replaces the transform for identifier.
func (r *Registry) Register(identifier string, fn Fn) {
	r.fns[identifier] = fn
}

// Load resolves identifier to its registered Fn. If nothing is registered
// under that name it still returns no error: it returns PythonStub, whose
// Fn fails with a contract violation when it is applied.
func (r *Registry) Load(identifier string) (Fn, error) {
	fn, ok := r.fns[identifier]
	if !ok {
		return PythonStub(identifier), nil
	}
	return fn, nil
}

// PythonStub is the Fn returned for a python_module identifier with no
// registered in-process implementation. It fails clearly and immediately
// rather than silently passing rows through unmodified.
func PythonStub(module string) Fn {
	return func(ctx context.Context, rows []reader.Row) ([]reader.Row, error) {
		return nil, fmt.Errorf("transform: python module %q has no registered implementation: %w", module, domain.ErrContractViolation)
	}
}

// Noop passes rows through unchanged. It is the sole step of the chain for
// plain single-step SQL pipelines, which have no PYTHON tasks to apply.
func Noop(ctx context.Context, rows []reader.Row) ([]reader.Row, error) {
	return rows, nil
}

// Chain applies an ordered sequence of transforms to a batch.
type Chain struct {
	fns []Fn
}

// NewChain builds a Chain that applies fns in order.
func NewChain(fns ...Fn) *Chain {
	return &Chain{fns: fns}
}

// NewNoopChain builds the single-step passthrough chain used by plain SQL
// pipelines (no PYTHON steps in their plan).
func NewNoopChain() *Chain {
	return NewChain(Noop)
}

// Apply runs the chain over rows. An empty incoming batch short-circuits
// immediately without invoking any step; an empty result at any step
// short-circuits the remaining steps.
func (c *Chain) Apply(ctx context.Context, rows []reader.Row) ([]reader.Row, error) {
	if len(rows) == 0 {
		return rows, nil
	}
	var err error
	for _, fn := range c.fns {
		if len(rows) == 0 {
			break
		}
		rows, err = fn(ctx, rows)
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}
