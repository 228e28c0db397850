// Package sink implements the two writer backends strategies commit
// batches to: an upserting relational writer and a document-index bulk
// writer. Both are stateless across runs; Close releases connection
// resources held for the run.
package sink

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pipeflow/runner/internal/domain"
	"github.com/pipeflow/runner/internal/execctx"
	"github.com/pipeflow/runner/internal/reader"
	"github.com/pipeflow/runner/internal/sqlutil"
)

// Writer is the capability strategies write committed batches through.
type Writer interface {
	// Write upserts rows into the pipeline's target, using execCtx's
	// transaction so the write and the checkpoint advance commit together.
	// It returns the number of rows affected.
	Write(ctx context.Context, execCtx *execctx.ExecutionContext, pipeline *domain.Pipeline, rows []reader.Row) (int, error)
	Close() error
}

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*\.[A-Za-z_][A-Za-z0-9_]*$`)

// RelationalWriter upserts batches into an allowlisted "schema.table" sink.
// Each row must carry an "id" column; it is the upsert's conflict key.
type RelationalWriter struct {
	allowlist domain.Allowlist
}

// NewRelationalWriter builds a RelationalWriter scoped to allowlist.
func NewRelationalWriter(allowlist domain.Allowlist) *RelationalWriter {
	return &RelationalWriter{allowlist: allowlist}
}

func (w *RelationalWriter) Write(ctx context.Context, execCtx *execctx.ExecutionContext, pipeline *domain.Pipeline, rows []reader.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	target := pipeline.TargetTable
	if !w.allowlist.Allows(target) {
		return 0, fmt.Errorf("sink: target_table %q is not allowlisted: %w", target, domain.ErrContractViolation)
	}
	if !tableNameRe.MatchString(target) {
		return 0, fmt.Errorf("sink: target_table %q is not a valid schema.table identifier: %w", target, domain.ErrContractViolation)
	}

	cols := columnNames(rows[0])
	for _, c := range cols {
		if !sqlutil.ValidIdentifier(c) {
			return 0, fmt.Errorf("sink: column %q is not a valid identifier: %w", c, domain.ErrContractViolation)
		}
	}

	query, err := buildUpsert(target, cols)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, row := range rows {
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = row[c]
		}
		tag, err := execCtx.Tx.Exec(ctx, query, args...)
		if err != nil {
			return written, fmt.Errorf("sink: upsert into %s: %w", target, err)
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}

// Close is a no-op: RelationalWriter holds no resources of its own beyond
// the pool and transaction the caller already owns.
func (w *RelationalWriter) Close() error {
	return nil
}

func columnNames(row reader.Row) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func buildUpsert(table string, cols []string) (string, error) {
	if len(cols) == 0 {
		return "", fmt.Errorf("sink: row has no columns: %w", domain.ErrContractViolation)
	}

	placeholders := make([]string, len(cols))
	var updates []string
	hasID := false
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if c == "id" {
			hasID = true
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	if !hasID {
		return "", fmt.Errorf("sink: row has no id column to upsert on: %w", domain.ErrContractViolation)
	}

	conflictClause := "DO NOTHING"
	if len(updates) > 0 {
		conflictClause = fmt.Sprintf("DO UPDATE SET %s", strings.Join(updates, ", "))
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) %s",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), conflictClause,
	), nil
}
