package strategy

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pipeflow/runner/internal/domain"
	"github.com/pipeflow/runner/internal/reader"
	"github.com/pipeflow/runner/internal/sink"
	"github.com/pipeflow/runner/internal/store"
	"github.com/pipeflow/runner/internal/transform"
)

// Inputs groups the baseline dependencies every built Strategy wires
// against: the pool readers/writers run queries through, the pipeline and
// checkpoint stores used for pause checks and cursor persistence, the
// transform loader for PYTHON task bodies, and one writer per sink kind.
type Inputs struct {
	Pool        *pgxpool.Pool
	Pipelines   store.PipelineStore
	Checkpoints store.CheckpointStore
	Transforms  transform.Loader
	Relational  sink.Writer
	DocumentIdx sink.Writer
}

// Build selects a Strategy for pipeline based on its snapshot: tasks
// present selects the multi-step plan (spec §4.4.3); otherwise the choice
// is single-step full or incremental by pipeline.Mode. cp is the pipeline's
// current checkpoint, used (and ignored if empty) by incremental readers.
func Build(in Inputs, pipeline *domain.Pipeline, tasks []domain.PipelineTask, cp domain.Checkpoint) (Strategy, error) {
	sourceQuery := pipeline.SourceQuery
	targetTable := pipeline.TargetTable
	chain := transform.NewNoopChain()

	if len(tasks) > 0 {
		if err := domain.ValidateTaskPlan(tasks); err != nil {
			return nil, fmt.Errorf("strategy: invalid task plan: %w", err)
		}
		sourceQuery = tasks[0].Body

		fns := make([]transform.Fn, 0, len(tasks)-1)
		for _, t := range tasks[1:] {
			fn, err := in.Transforms.Load(t.Body)
			if err != nil {
				return nil, fmt.Errorf("strategy: load transform %q: %w", t.Body, err)
			}
			fns = append(fns, fn)
		}
		if len(fns) > 0 {
			chain = transform.NewChain(fns...)
		}

		if last := tasks[len(tasks)-1]; last.TargetTable != "" {
			targetTable = last.TargetTable
		}
	}

	effective := *pipeline
	effective.TargetTable = targetTable

	writer := in.Relational
	if effective.IsESTarget() {
		writer = in.DocumentIdx
	}

	if pipeline.IsIncremental() {
		rdr := reader.NewIncrementalReader(in.Pool, sourceQuery, pipeline.IncrementalKey, pipeline.IncrementalIDKey, pipeline.BatchSize, cp)
		return &IncrementalStrategy{
			Pool:        in.Pool,
			Pipeline:    &effective,
			Reader:      rdr,
			Transforms:  chain,
			Writer:      writer,
			Pipelines:   in.Pipelines,
			Checkpoints: in.Checkpoints,
		}, nil
	}

	rdr := reader.NewFullReader(in.Pool, sourceQuery, pipeline.BatchSize)
	return &FullStrategy{
		Pool:       in.Pool,
		Pipeline:   &effective,
		Reader:     rdr,
		Transforms: chain,
		Writer:     writer,
		Pipelines:  in.Pipelines,
	}, nil
}
