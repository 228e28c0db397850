// Package classify distinguishes the three error kinds the dispatcher and
// tick logger treat differently: connectivity/transient infrastructure
// failure, ordinary execution failure, and contract violation.
package classify

import (
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pipeflow/runner/internal/domain"
)

// Kind is one of the three error kinds described in the error handling
// design.
type Kind int

const (
	// Connectivity covers DB disconnects, hostname resolution failures,
	// and similar transport-layer faults. The current tick aborts without
	// failing the pipeline; the pool recycles and the next tick retries.
	Connectivity Kind = iota
	// Execution covers SQL errors, transform exceptions, and writer
	// failures. The run is closed FAILED and the dispatcher retries up to
	// its attempt limit.
	Execution
	// Contract marks a violation (bad allowlist target, missing cursor
	// column, non-timestamp cursor, invalid identifier) that retrying
	// cannot fix. The dispatcher still retries for uniformity, but the
	// outcome is deterministic.
	Contract
)

func (k Kind) String() string {
	switch k {
	case Connectivity:
		return "connectivity"
	case Contract:
		return "contract"
	default:
		return "execution"
	}
}

// connectivitySubstrings catches transport-layer failures that don't
// surface as a typed net.Error or a pgconn.PgError with a class-08 code —
// e.g. errors pgx wraps as plain strings from the underlying driver.
var connectivitySubstrings = []string{
	"connection refused",
	"connection reset",
	"connection closed",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"dial tcp",
	"server closed the connection unexpectedly",
	"pool is closing",
	"context deadline exceeded",
}

// Classify inspects err and reports which of the three kinds it represents.
// A nil error classifies as Execution; callers should not invoke Classify
// on a nil error in practice.
func Classify(err error) Kind {
	if err == nil {
		return Execution
	}
	if errors.Is(err, domain.ErrContractViolation) {
		return Contract
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Connectivity
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQLSTATE class 08 is "Connection Exception" in Postgres.
		if strings.HasPrefix(pgErr.Code, "08") {
			return Connectivity
		}
		return Execution
	}

	msg := strings.ToLower(err.Error())
	for _, substr := range connectivitySubstrings {
		if strings.Contains(msg, substr) {
			return Connectivity
		}
	}

	return Execution
}
