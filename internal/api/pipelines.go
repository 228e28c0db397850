package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pipeflow/runner/internal/domain"
	"github.com/pipeflow/runner/internal/store"
)

// createPipelineRequest is the wire shape for POST /api/v1/pipelines.
type createPipelineRequest struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	Mode             string `json:"mode"`
	Enabled          bool   `json:"enabled"`
	SourceQuery      string `json:"source_query"`
	PythonModule     string `json:"python_module"`
	TargetTable      string `json:"target_table"`
	BatchSize        int    `json:"batch_size"`
	IncrementalKey   string `json:"incremental_key"`
	IncrementalIDKey string `json:"incremental_id_key"`
}

// HandleCreatePipeline validates and persists a new pipeline definition.
// It runs the structural checks of domain.ValidatePipeline only; it does
// not check target_table against the allowlist. A non-allowlisted target is
// rejected later, by the sink writers, when a run tries to write to it.
func (s *Server) HandleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req createPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, "invalid JSON body", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	pipeline := domain.Pipeline{
		Name:             req.Name,
		Type:             domain.PipelineType(req.Type),
		Mode:             domain.PipelineMode(req.Mode),
		Enabled:          req.Enabled,
		SourceQuery:      req.SourceQuery,
		PythonModule:     req.PythonModule,
		TargetTable:      req.TargetTable,
		BatchSize:        req.BatchSize,
		IncrementalKey:   req.IncrementalKey,
		IncrementalIDKey: req.IncrementalIDKey,
	}
	if err := domain.ValidatePipeline(pipeline); err != nil {
		errorJSON(w, err.Error(), "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	if err := s.Pipelines.CreatePipeline(r.Context(), &pipeline); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			errorJSON(w, err.Error(), "CONFLICT", http.StatusConflict)
			return
		}
		internalError(r, w, "failed to create pipeline", err)
		return
	}

	writeJSON(w, http.StatusCreated, pipeline)
}

// HandleGetPipeline returns a pipeline definition by id.
func (s *Server) HandleGetPipeline(w http.ResponseWriter, r *http.Request) {
	id, r, ok := parsePipelineID(w, r)
	if !ok {
		return
	}

	pipeline, err := s.Pipelines.GetPipelineByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			errorJSON(w, "pipeline not found", "NOT_FOUND", http.StatusNotFound)
			return
		}
		internalError(r, w, "failed to load pipeline", err)
		return
	}

	writeJSON(w, http.StatusOK, pipeline)
}

// patchPipelineRequest is the wire shape for PATCH /api/v1/pipelines/{id}.
// Nil fields are left unchanged.
type patchPipelineRequest struct {
	SourceQuery *string `json:"source_query"`
	TargetTable *string `json:"target_table"`
	BatchSize   *int    `json:"batch_size"`
	Enabled     *bool   `json:"enabled"`
}

// HandlePatchPipeline updates a pipeline's definition fields. Per spec §6
// the submission is rejected while the pipeline is RUNNING — a running
// execution has already snapshotted the definition it's using, and
// patching it out from under that execution would make the run's
// observed behavior diverge from any stored definition.
func (s *Server) HandlePatchPipeline(w http.ResponseWriter, r *http.Request) {
	id, r, ok := parsePipelineID(w, r)
	if !ok {
		return
	}

	current, err := s.Pipelines.GetPipelineByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			errorJSON(w, "pipeline not found", "NOT_FOUND", http.StatusNotFound)
			return
		}
		internalError(r, w, "failed to load pipeline", err)
		return
	}
	if current.Status == domain.StatusRunning {
		errorJSON(w, "pipeline is RUNNING and cannot be patched", "CONFLICT", http.StatusConflict)
		return
	}

	var req patchPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, "invalid JSON body", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	updated, err := s.Pipelines.PatchPipeline(r.Context(), id, store.PipelinePatch{
		SourceQuery: req.SourceQuery,
		TargetTable: req.TargetTable,
		BatchSize:   req.BatchSize,
		Enabled:     req.Enabled,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			errorJSON(w, "pipeline not found", "NOT_FOUND", http.StatusNotFound)
			return
		}
		internalError(r, w, "failed to patch pipeline", err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// HandleRunPipeline requests a run: conditional CAS to RUN_REQUESTED. The
// dispatcher claims it on the next tick; this handler never executes
// anything itself.
func (s *Server) HandleRunPipeline(w http.ResponseWriter, r *http.Request) {
	id, r, ok := parsePipelineID(w, r)
	if !ok {
		return
	}

	ok2, err := s.Pipelines.RequestRun(r.Context(), id)
	if err != nil {
		internalError(r, w, "failed to request run", err)
		return
	}
	if !ok2 {
		errorJSON(w, "pipeline is not in a state that accepts a run request", "CONFLICT", http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": string(domain.StatusRunRequested)})
}

// HandlePausePipeline requests a pause: conditional CAS to PAUSE_REQUESTED.
func (s *Server) HandlePausePipeline(w http.ResponseWriter, r *http.Request) {
	id, r, ok := parsePipelineID(w, r)
	if !ok {
		return
	}

	ok2, err := s.Pipelines.RequestPause(r.Context(), id)
	if err != nil {
		internalError(r, w, "failed to request pause", err)
		return
	}
	if !ok2 {
		errorJSON(w, "pipeline is not in a state that accepts a pause request", "CONFLICT", http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": string(domain.StatusPauseRequested)})
}

// parsePipelineID resolves the {id} URL param and enriches the request's
// context-bound logger with pipeline_id, returning the request carrying
// that enriched context — callers should use the returned *http.Request
// for every subsequent call in the handler, so error logs downstream
// (via internalError) carry pipeline_id without repeating it.
func parsePipelineID(w http.ResponseWriter, r *http.Request) (uuid.UUID, *http.Request, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errorJSON(w, "id must be a valid UUID", "INVALID_ARGUMENT", http.StatusBadRequest)
		return uuid.UUID{}, r, false
	}
	return id, r.WithContext(WithPipelineID(r.Context(), id.String())), true
}
