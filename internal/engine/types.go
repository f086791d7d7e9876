// Package engine orchestrates the natural-language query pipeline: session
// resolution, memory-backed context assembly, SQL generation and validation,
// execution against the warehouse, analysis, and persistence.
package engine

import (
	"fmt"
	"time"
)

// PipelineState identifies the stage a query is in. States advance strictly
// forward; progress events carry them to subscribers.
type PipelineState string

const (
	StateResolvingSession  PipelineState = "resolving_session"
	StateAssemblingContext PipelineState = "assembling_context"
	StateGeneratingSQL     PipelineState = "generating_sql"
	StateValidatingSQL     PipelineState = "validating_sql"
	StateExecuting         PipelineState = "executing"
	StateAnalyzing         PipelineState = "analyzing"
	StatePersisting        PipelineState = "persisting"
	StateDone              PipelineState = "done"
)

// ErrorKind classifies pipeline failures for callers and API responses.
type ErrorKind string

const (
	// GenerationFailure: the model produced no usable output, or the
	// provider call failed.
	GenerationFailure ErrorKind = "generation_failure"

	// UnsafeQuery: generated or submitted SQL failed the read-only gate.
	UnsafeQuery ErrorKind = "unsafe_query"

	// ExecutionFailure: the warehouse rejected or failed the query.
	ExecutionFailure ErrorKind = "execution_failure"

	// StorageError: the memory store failed.
	StorageError ErrorKind = "storage_error"

	// EmbeddingFailure: the embedding provider failed.
	EmbeddingFailure ErrorKind = "embedding_failure"
)

// PipelineError wraps a failure with its classification and the state it
// occurred in.
type PipelineError struct {
	Kind  ErrorKind
	State PipelineState
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.State, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func pipelineErr(kind ErrorKind, state PipelineState, err error) *PipelineError {
	return &PipelineError{Kind: kind, State: state, Err: err}
}

// QueryRequest is one natural-language question to run through the pipeline.
type QueryRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
	Reset     bool   `json:"reset_session,omitempty"`

	// IncludeMemoryContext controls whether prior exchanges are retrieved
	// into the generation prompt. Omitted means true.
	IncludeMemoryContext *bool `json:"include_memory_context,omitempty"`
}

// WantsContext reports whether memory retrieval is enabled for the request.
func (r *QueryRequest) WantsContext() bool {
	return r.IncludeMemoryContext == nil || *r.IncludeMemoryContext
}

// ContextSnippet is one retrieved memory exchange included in the SQL
// generation prompt, with its provenance and similarity score.
type ContextSnippet struct {
	SessionID  string    `json:"session_id"`
	Sequence   int64     `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
	Provenance string    `json:"provenance"` // "current session" or "other session"
	Score      float64   `json:"score"`
	Text       string    `json:"text"`
}

// QueryResult is the outcome of a completed pipeline run.
type QueryResult struct {
	SessionID string           `json:"session_id"`
	Question  string           `json:"question"`
	SQL       string           `json:"sql_query"`
	Rows      []map[string]any `json:"data"`
	RowCount  int              `json:"row_count"`
	Analysis  string           `json:"analysis"`
	Context   []ContextSnippet `json:"memory_context"`

	// Sequence is the memory entry number assigned when the exchange was
	// persisted; zero when persistence was skipped or failed.
	Sequence  int64 `json:"sequence,omitempty"`
	Persisted bool  `json:"persisted"`

	Model    string        `json:"model"`
	Duration time.Duration `json:"duration"`
}

// Progress is one pipeline state transition, emitted as the run advances.
type Progress struct {
	SessionID string        `json:"session_id"`
	State     PipelineState `json:"state"`
	Detail    string        `json:"detail,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// ProgressFunc receives progress events. Implementations must not block;
// the pipeline calls them inline.
type ProgressFunc func(Progress)
