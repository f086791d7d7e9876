// Package handlers provides the HTTP API for askdb: query execution,
// session memory inspection, and health.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/scrypster/askdb/internal/config"
	"github.com/scrypster/askdb/internal/engine"
	"github.com/scrypster/askdb/internal/storage"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthChecker reports readiness of an external collaborator. Providers
// that support a cheap probe (e.g. the Ollama client) implement it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// APIHandlers contains HTTP handlers for the REST API.
type APIHandlers struct {
	pipeline  *engine.Pipeline
	store     storage.MemoryStore
	config    *config.Config
	llmHealth HealthChecker // optional
}

// NewAPIHandlers creates a new APIHandlers instance.
func NewAPIHandlers(pipeline *engine.Pipeline, store storage.MemoryStore, cfg *config.Config) *APIHandlers {
	return &APIHandlers{
		pipeline: pipeline,
		store:    store,
		config:   cfg,
	}
}

// SetLLMHealthChecker wires an optional LLM readiness probe into the
// health endpoint.
func (h *APIHandlers) SetLLMHealthChecker(hc HealthChecker) {
	h.llmHealth = hc
}

// Query handles POST /api/query - run a natural-language question through
// the full pipeline.
func (h *APIHandlers) Query(w http.ResponseWriter, r *http.Request) {
	var req engine.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		respondError(w, http.StatusBadRequest, "question is required", nil)
		return
	}

	result, err := h.pipeline.Run(r.Context(), req)
	if err != nil {
		status, code := classifyPipelineError(err)
		respondJSON(w, status, ErrorResponse{
			Error:   err.Error(),
			Code:    code,
			Details: map[string]interface{}{"question": req.Question},
		})
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// RawSQLRequest is the request body for POST /api/query/sql.
type RawSQLRequest struct {
	SQL string `json:"sql"`
}

// RawSQLResponse is the response body for POST /api/query/sql.
type RawSQLResponse struct {
	SQL      string           `json:"sql"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// RawSQL handles POST /api/query/sql - execute a caller-supplied SELECT
// directly, through the same read-only gate as generated SQL. Raw queries
// bypass memory entirely: nothing is retrieved and nothing is persisted.
func (h *APIHandlers) RawSQL(w http.ResponseWriter, r *http.Request) {
	var req RawSQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	req.SQL = strings.TrimSpace(req.SQL)
	if req.SQL == "" {
		respondError(w, http.StatusBadRequest, "sql is required", nil)
		return
	}

	rows, err := h.pipeline.ExecuteSQL(r.Context(), req.SQL)
	if err != nil {
		status, code := classifyPipelineError(err)
		respondJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	respondJSON(w, http.StatusOK, RawSQLResponse{
		SQL:      req.SQL,
		Rows:     rows,
		RowCount: len(rows),
	})
}

// ListSessions handles GET /api/memory/sessions - enumerate stored
// sessions, most recently active first.
func (h *APIHandlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list sessions", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession handles GET /api/memory/sessions/{id} - the session's full
// chronological history.
func (h *APIHandlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "session ID is required", nil)
		return
	}

	entries, err := h.store.GetSessionEntries(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, "invalid session ID", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get session", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"entries":    entries,
		"count":      len(entries),
	})
}

// ResetSession handles DELETE /api/memory/sessions/{id} - clear the
// session's history. Resetting an unknown session succeeds.
func (h *APIHandlers) ResetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "session ID is required", nil)
		return
	}

	if err := h.store.ResetSession(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, "invalid session ID", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to reset session", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Health handles GET /api/health. Reports per-collaborator readiness;
// a failing collaborator degrades the overall status to 503 so load
// balancers and monitoring stop routing to the instance.
func (h *APIHandlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	components := map[string]string{}

	if _, err := h.store.ListSessions(r.Context()); err != nil {
		status = "degraded"
		components["memory"] = err.Error()
	} else {
		components["memory"] = "ok"
	}

	if h.llmHealth != nil {
		if err := h.llmHealth.HealthCheck(r.Context()); err != nil {
			status = "degraded"
			components["llm"] = err.Error()
		} else {
			components["llm"] = "ok"
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}

// classifyPipelineError maps a pipeline failure to an HTTP status and
// machine-readable code.
func classifyPipelineError(err error) (int, string) {
	var perr *engine.PipelineError
	if !errors.As(err, &perr) {
		return http.StatusInternalServerError, "INTERNAL"
	}
	switch perr.Kind {
	case engine.UnsafeQuery:
		return http.StatusBadRequest, "UNSAFE_QUERY"
	case engine.GenerationFailure:
		return http.StatusBadGateway, "GENERATION_FAILURE"
	case engine.ExecutionFailure:
		return http.StatusBadRequest, "EXECUTION_FAILURE"
	case engine.EmbeddingFailure:
		return http.StatusBadGateway, "EMBEDDING_FAILURE"
	case engine.StorageError:
		return http.StatusInternalServerError, "STORAGE_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		fmt.Printf("failed to encode JSON response: %v\n", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}
	if err != nil {
		errResp.Details = map[string]interface{}{"error": err.Error()}
	}
	respondJSON(w, statusCode, errResp)
}
