package api

import (
	"encoding/json"
	"net/http"

	"github.com/pipeflow/runner/internal/store"
)

// HandleListRuns returns run history for a pipeline, newest first, with
// limit/offset pagination.
func (s *Server) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	id, r, ok := parsePipelineID(w, r)
	if !ok {
		return
	}

	limit, offset := parsePagination(r)
	runs, err := s.Runs.ListRuns(r.Context(), store.RunFilter{
		PipelineID: id,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		internalError(r, w, "failed to list runs", err)
		return
	}

	writeJSON(w, http.StatusOK, runs)
}

// defaultTrimKeepCount is the number of most recent runs kept when a trim
// request omits "keep".
const defaultTrimKeepCount = 100

// trimRunsRequest is the wire shape for POST /api/v1/pipelines/{id}/runs/trim.
type trimRunsRequest struct {
	Keep int `json:"keep"`
}

// trimRunsResponse reports how many run rows the trim deleted.
type trimRunsResponse struct {
	Deleted int `json:"deleted"`
}

// HandleTrimRuns is an admin maintenance endpoint: it deletes the oldest
// run-history rows for a pipeline, keeping only the "keep" most recent
// (defaultTrimKeepCount if omitted or non-positive). Unlike the retention
// sweeper, which runs unconditionally on an age cutoff across every
// pipeline, this lets an operator cap a single noisy pipeline's history on
// demand.
func (s *Server) HandleTrimRuns(w http.ResponseWriter, r *http.Request) {
	id, r, ok := parsePipelineID(w, r)
	if !ok {
		return
	}

	var req trimRunsRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorJSON(w, "invalid JSON body", "INVALID_ARGUMENT", http.StatusBadRequest)
			return
		}
	}
	keep := req.Keep
	if keep <= 0 {
		keep = defaultTrimKeepCount
	}

	deleted, err := s.Runs.DeleteRunsBeyondLimit(r.Context(), id, keep)
	if err != nil {
		internalError(r, w, "failed to trim runs", err)
		return
	}

	writeJSON(w, http.StatusOK, trimRunsResponse{Deleted: deleted})
}
