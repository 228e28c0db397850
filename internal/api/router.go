// Package api exposes the command surface spec.md §6 requires of any
// front door to the core: create pipeline, patch pipeline, run, pause, and
// list runs. The core itself only requires these operations manipulate
// `status` per the state machine and write definition fields atomically —
// this package is one possible HTTP binding for that contract.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pipeflow/runner/internal/store"
)

// maxJSONBodySize caps request bodies (1MB — pipeline definitions are
// small; this guards against a misbehaving client streaming forever).
const maxJSONBodySize = 1 << 20

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// APIError is the structured JSON error envelope returned by all API error
// responses.
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail holds the code and message inside the error envelope.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorJSON(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{Error: APIErrorDetail{Code: code, Message: message}}); err != nil {
		slog.Error("failed to encode JSON error response", "error", err)
	}
}

// internalError logs through the request-scoped logger (so the log line
// carries request_id, and pipeline_id once a handler has called
// WithPipelineID) before writing the generic 500 envelope.
func internalError(r *http.Request, w http.ResponseWriter, msg string, err error) {
	LoggerFromContext(r.Context()).Error(msg, "error", err)
	errorJSON(w, msg, "INTERNAL", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func limitJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// Server holds the dependencies command-surface handlers use. It binds
// directly to the core's store interfaces — there is no separate
// API-layer repository abstraction.
type Server struct {
	Pipelines   store.PipelineStore
	Runs        store.RunStore
	DBHealth    HealthChecker
	CORSOrigins []string
}

// NewRouter builds a chi router with CORS, security headers, request
// logging/IDs, panic recovery, health checks, and the pipeline/run
// command surface mounted under /api/v1.
func NewRouter(srv *Server) chi.Router {
	r := chi.NewRouter()

	corsOrigins := srv.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(securityHeaders)
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", srv.HandleHealthLive)
	r.Get("/health/ready", srv.HandleHealthReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limitJSONBody)
		r.Post("/schedule-hint", srv.HandleScheduleHint)
		r.Route("/pipelines", func(r chi.Router) {
			r.Post("/", srv.HandleCreatePipeline)
			r.Get("/{id}", srv.HandleGetPipeline)
			r.Patch("/{id}", srv.HandlePatchPipeline)
			r.Post("/{id}/run", srv.HandleRunPipeline)
			r.Post("/{id}/pause", srv.HandlePausePipeline)
			r.Get("/{id}/runs", srv.HandleListRuns)
			r.Post("/{id}/runs/trim", srv.HandleTrimRuns)
		})
	})

	return r
}
