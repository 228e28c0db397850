// Package sqlutil holds the identifier-validation and query-assembly
// helpers shared by the reader and sink packages. Source queries and
// column identifiers come from operator-submitted pipeline configuration,
// so every function here is a defence-in-depth boundary: callers already
// validated upstream (see domain.ValidatePipeline), but the SQL-assembly
// site re-checks before interpolating anything into query text.
package sqlutil

import (
	"fmt"
	"regexp"

	"github.com/pipeflow/runner/internal/domain"
)

var (
	orderByRe = regexp.MustCompile(`(?i)\border\s+by\b`)
	limitRe   = regexp.MustCompile(`(?i)\blimit\b`)
	offsetRe  = regexp.MustCompile(`(?i)\boffset\b`)
)

// ValidIdentifier reports whether s is safe to interpolate as a bare SQL
// identifier (a column name used in ORDER BY or WHERE, where it cannot be
// parameter-bound). Delegates to domain.ValidIdentifier, the single
// canonical definition of a safe identifier.
func ValidIdentifier(s string) bool {
	return domain.ValidIdentifier(s)
}

// PaginateFull wraps sourceQuery for full-mode OFFSET/LIMIT pagination. It
// enforces the two invariants the strategy depends on: sourceQuery must
// carry its own deterministic ORDER BY, and must not already contain a
// LIMIT or OFFSET clause (the wrapper owns both, so the caller can advance
// offset by actual rows fetched rather than by the configured batch size).
//
// limit and offset are returned as bind parameters ($1, $2), never inlined.
func PaginateFull(sourceQuery string, limit, offset int) (query string, args []any, err error) {
	if limit <= 0 {
		return "", nil, fmt.Errorf("sqlutil: limit must be positive, got %d", limit)
	}
	if offset < 0 {
		return "", nil, fmt.Errorf("sqlutil: offset must be non-negative, got %d", offset)
	}
	if !orderByRe.MatchString(sourceQuery) {
		return "", nil, fmt.Errorf("sqlutil: source_query must contain a deterministic ORDER BY")
	}
	if limitRe.MatchString(sourceQuery) {
		return "", nil, fmt.Errorf("sqlutil: source_query must not contain its own LIMIT")
	}
	if offsetRe.MatchString(sourceQuery) {
		return "", nil, fmt.Errorf("sqlutil: source_query must not contain its own OFFSET")
	}
	query = fmt.Sprintf("SELECT * FROM (%s) AS src LIMIT $1 OFFSET $2", sourceQuery)
	return query, []any{limit, offset}, nil
}

// IncrementalQuery wraps sourceQuery for cursor-based incremental reads.
// incKey and idKey are interpolated directly into the ORDER BY / WHERE
// clause text, so both must pass ValidIdentifier before this is called —
// IncrementalQuery re-validates and refuses to build a query otherwise.
//
// When hasCheckpoint is false, the query is unconditioned (first run):
//
//	SELECT * FROM (<q>) AS src ORDER BY src.<inc_key>, src.<id_key> LIMIT $1
//
// When hasCheckpoint is true, a cursor predicate is added and lastValue,
// lastID are returned as bind parameters alongside limit:
//
//	... WHERE (src.<inc_key> > $1) OR (src.<inc_key> = $1 AND src.<id_key> > $2)
//	... ORDER BY src.<inc_key>, src.<id_key> LIMIT $3
func IncrementalQuery(sourceQuery, incKey, idKey string, limit int, hasCheckpoint bool, lastValue, lastID string) (query string, args []any, err error) {
	if limit <= 0 {
		return "", nil, fmt.Errorf("sqlutil: limit must be positive, got %d", limit)
	}
	if !ValidIdentifier(incKey) {
		return "", nil, fmt.Errorf("sqlutil: invalid incremental key identifier %q", incKey)
	}
	if !ValidIdentifier(idKey) {
		return "", nil, fmt.Errorf("sqlutil: invalid incremental id key identifier %q", idKey)
	}
	if limitRe.MatchString(sourceQuery) {
		return "", nil, fmt.Errorf("sqlutil: source_query must not contain its own LIMIT")
	}
	if offsetRe.MatchString(sourceQuery) {
		return "", nil, fmt.Errorf("sqlutil: source_query must not contain its own OFFSET")
	}

	if !hasCheckpoint {
		query = fmt.Sprintf(
			"SELECT * FROM (%s) AS src ORDER BY src.%s, src.%s LIMIT $1",
			sourceQuery, incKey, idKey,
		)
		return query, []any{limit}, nil
	}

	query = fmt.Sprintf(
		"SELECT * FROM (%s) AS src WHERE (src.%s > $1) OR (src.%s = $1 AND src.%s > $2) ORDER BY src.%s, src.%s LIMIT $3",
		sourceQuery, incKey, incKey, idKey, incKey, idKey,
	)
	return query, []any{lastValue, lastID, limit}, nil
}
