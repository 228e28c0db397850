// Package domain defines the core business types shared across etlrund.
// These types represent the orchestrator's data model — not HTTP specifics.
//
// Domain types carry json tags because they are directly serialized in API
// responses. When the API shape diverges from the domain type, define a
// response struct in the api package instead.
package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyExists indicates a create operation conflicted with an existing resource.
var ErrAlreadyExists = errors.New("resource already exists")

// ErrNotFound indicates the requested resource does not exist.
var ErrNotFound = errors.New("resource not found")

// ErrContractViolation marks an error as a contract violation rather than a
// transient execution failure: a bad allowlist target, a missing cursor
// column, a non-timestamp cursor value, or a failed identifier check. The
// dispatcher still runs its retry loop for uniformity, but these errors are
// deterministic — retrying will not change the outcome.
var ErrContractViolation = errors.New("contract violation")

// PipelineType identifies what kind of target a pipeline writes rows to.
type PipelineType string

const (
	PipelineTypeSQL    PipelineType = "SQL"
	PipelineTypePython PipelineType = "PYTHON"
	PipelineTypeES     PipelineType = "ES"
)

// ValidPipelineType reports whether s is a known pipeline type.
func ValidPipelineType(s string) bool {
	switch PipelineType(s) {
	case PipelineTypeSQL, PipelineTypePython, PipelineTypeES:
		return true
	}
	return false
}

// PipelineMode selects full-refresh vs resumable incremental execution.
type PipelineMode string

const (
	ModeFull        PipelineMode = "full"
	ModeIncremental PipelineMode = "incremental"
)

// ValidPipelineMode reports whether s is a known pipeline mode.
func ValidPipelineMode(s string) bool {
	switch PipelineMode(s) {
	case ModeFull, ModeIncremental:
		return true
	}
	return false
}

// Status is a pipeline's lifecycle state. See the transition table on the
// PipelineStore interface (internal/store) for the full CAS state machine.
type Status string

const (
	StatusIdle           Status = "IDLE"
	StatusRunRequested   Status = "RUN_REQUESTED"
	StatusRunning        Status = "RUNNING"
	StatusPauseRequested Status = "PAUSE_REQUESTED"
	StatusPaused         Status = "PAUSED"
	StatusFailed         Status = "FAILED"
)

// ValidStatus reports whether s is one of the six named lifecycle states.
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusIdle, StatusRunRequested, StatusRunning, StatusPauseRequested, StatusPaused, StatusFailed:
		return true
	}
	return false
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// identifierRe matches a strict SQL identifier: letter/underscore, then
// letters/digits/underscores. Used to validate inc_key/id_key before they
// are interpolated into SQL text (they cannot be parameter-bound because
// they appear in ORDER BY / column position).
var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s is safe to interpolate as a bare SQL
// identifier (column name). This is the single choke point the strategy and
// reader packages must call before building ORDER BY / WHERE clauses out of
// user-supplied column names.
func ValidIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// Pipeline is the user-defined ETL job.
type Pipeline struct {
	ID               uuid.UUID    `json:"id"`
	Name             string       `json:"name"`
	Type             PipelineType `json:"type"`
	Mode             PipelineMode `json:"mode"`
	Enabled          bool         `json:"enabled"`
	Status           Status       `json:"status"`
	SourceQuery      string       `json:"source_query"`
	PythonModule     string       `json:"python_module,omitempty"`
	TargetTable      string       `json:"target_table"`
	BatchSize        int          `json:"batch_size"`
	IncrementalKey   string       `json:"incremental_key,omitempty"`
	IncrementalIDKey string       `json:"incremental_id_key,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// IsIncremental reports whether the pipeline runs in incremental mode.
func (p Pipeline) IsIncremental() bool {
	return p.Mode == ModeIncremental
}

// IsESTarget reports whether target_table addresses a document index
// rather than a relational schema.table.
func (p Pipeline) IsESTarget() bool {
	return strings.HasPrefix(p.TargetTable, "es:")
}

// ESIndexName returns the bare index name for an "es:<index>" target, or
// the empty string if this is not an ES target.
func (p Pipeline) ESIndexName() string {
	if !p.IsESTarget() {
		return ""
	}
	return strings.TrimPrefix(p.TargetTable, "es:")
}

// ValidatePipeline checks the structural invariants from the spec:
//
//	(mode = incremental) ⇒ incremental_key ≠ ∅ ∧ incremental_id_key ≠ ∅
//	(type = PYTHON)      ⇒ python_module ≠ ∅
//	target_table must belong to the allowlist (checked separately, see Allowlist)
func ValidatePipeline(p Pipeline) error {
	if len(p.Name) < 3 || len(p.Name) > 64 || !nameRe.MatchString(p.Name) {
		return fmt.Errorf("pipeline name must be 3-64 chars matching [A-Za-z0-9_-]")
	}
	if !ValidPipelineType(string(p.Type)) {
		return fmt.Errorf("invalid pipeline type %q", p.Type)
	}
	if !ValidPipelineMode(string(p.Mode)) {
		return fmt.Errorf("invalid pipeline mode %q", p.Mode)
	}
	if p.BatchSize < 1 || p.BatchSize > 50_000 {
		return fmt.Errorf("batch_size must be in 1..50000, got %d", p.BatchSize)
	}
	if p.IsIncremental() {
		if p.IncrementalKey == "" || p.IncrementalIDKey == "" {
			return fmt.Errorf("incremental pipelines require both incremental_key and incremental_id_key")
		}
		if !ValidIdentifier(p.IncrementalKey) || !ValidIdentifier(p.IncrementalIDKey) {
			return fmt.Errorf("incremental_key and incremental_id_key must be valid SQL identifiers")
		}
	}
	if p.Type == PipelineTypePython && p.PythonModule == "" {
		return fmt.Errorf("python pipelines require python_module")
	}
	if p.Type != PipelineTypePython && p.SourceQuery == "" {
		return fmt.Errorf("source_query is required")
	}
	return nil
}

// TaskType identifies a single step of a multi-step pipeline plan.
type TaskType string

const (
	TaskTypeSQL    TaskType = "SQL"
	TaskTypePython TaskType = "PYTHON"
)

// ValidTaskType reports whether s is a known task type.
func ValidTaskType(s string) bool {
	switch TaskType(s) {
	case TaskTypeSQL, TaskTypePython:
		return true
	}
	return false
}

// PipelineTask is one ordered step of a multi-step pipeline.
type PipelineTask struct {
	ID          uuid.UUID `json:"id"`
	PipelineID  uuid.UUID `json:"pipeline_id"`
	OrderIndex  int       `json:"order_index"`
	TaskType    TaskType  `json:"task_type"`
	Body        string    `json:"body"`
	TargetTable string    `json:"target_table,omitempty"`
}

// ValidateTaskPlan enforces: when present, the first task must be SQL (the
// sole reader); every following task must be PYTHON; only the last task may
// override target_table.
func ValidateTaskPlan(tasks []PipelineTask) error {
	if len(tasks) == 0 {
		return nil
	}
	if tasks[0].TaskType != TaskTypeSQL {
		return fmt.Errorf("first task must be SQL, got %q", tasks[0].TaskType)
	}
	for i, t := range tasks {
		if i == 0 {
			continue
		}
		if t.TaskType != TaskTypePython {
			return fmt.Errorf("task %d: only the first task may be SQL, got %q", i, t.TaskType)
		}
	}
	for i, t := range tasks {
		if t.TargetTable != "" && i != len(tasks)-1 {
			return fmt.Errorf("task %d: only the last task may override target_table", i)
		}
	}
	return nil
}

// RunStatus represents the terminal or in-flight state of a single run.
type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
)

// maxErrorMessageLen caps persisted run error messages (spec §7: ≤2000 chars).
const maxErrorMessageLen = 2000

// TruncateError trims msg to the maximum length persisted on a run row.
func TruncateError(msg string) string {
	if len(msg) <= maxErrorMessageLen {
		return msg
	}
	return msg[:maxErrorMessageLen]
}

// RecoveredErrorMessage is the fixed error text recovery writes onto runs it
// finds orphaned (still RUNNING) at startup.
const RecoveredErrorMessage = "recovered after runner crash"

// Run is one execution attempt of a pipeline.
type Run struct {
	ID           uuid.UUID  `json:"id"`
	PipelineID   uuid.UUID  `json:"pipeline_id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       RunStatus  `json:"status"`
	RowsRead     int64      `json:"rows_read"`
	RowsWritten  int64      `json:"rows_written"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// Checkpoint is the durable resumable cursor for an incremental pipeline.
type Checkpoint struct {
	PipelineID         uuid.UUID `json:"pipeline_id"`
	LastProcessedValue string    `json:"last_processed_value"`
	LastProcessedID    string    `json:"last_processed_id"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Empty reports whether the checkpoint has never been advanced.
func (c Checkpoint) Empty() bool {
	return c.LastProcessedValue == ""
}

// PipelineSnapshot pairs a pipeline definition with its ordered task list.
// The dispatcher, executor and strategy packages do not use this type: they
// pass the Pipeline value read when the tick listed candidates, plus the
// task list loaded after the claim, and strategy.Build copies that value
// before use, so later edits to the stored row do not reach an in-flight run.
type PipelineSnapshot struct {
	Pipeline Pipeline
	Tasks    []PipelineTask
}
