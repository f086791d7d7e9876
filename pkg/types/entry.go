// Package types defines the shared domain types for askdb.
package types

import (
	"fmt"
	"strings"
	"time"
)

// MemoryEntry is one recorded conversational exchange: the user's question,
// the SQL generated for it, the narrative analysis, and a bounded preview of
// the result rows. Entries are identified by (SessionID, Sequence); sequence
// numbers are per-session, monotonically increasing, and assigned by the
// store at insert time.
type MemoryEntry struct {
	SessionID   string    `json:"session_id"`
	Sequence    int64     `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
	UserQuery   string    `json:"user_query"`
	SQLQuery    string    `json:"sql_query"`
	Analysis    string    `json:"analysis"`
	DataPreview string    `json:"data_preview"`

	// Embedding is computed from EmbeddingText() at insert time and is
	// immutable once stored. It is never serialized to API responses.
	Embedding []float64 `json:"-"`
}

// ID returns the canonical identifier for the entry.
func (e *MemoryEntry) ID() string {
	return fmt.Sprintf("%s/%d", e.SessionID, e.Sequence)
}

// EmbeddingText renders the text that is embedded for similarity search.
// The full exchange is embedded (not just the question) so that a later
// question can match on the SQL shape or the analysis as well.
func (e *MemoryEntry) EmbeddingText() string {
	parts := []string{
		"User Query: " + e.UserQuery,
		"SQL Query: " + e.SQLQuery,
		"Analysis: " + e.Analysis,
	}
	if e.DataPreview != "" {
		parts = append(parts, "Data Preview: "+e.DataPreview)
	}
	return strings.Join(parts, "\n")
}

// SessionSummary describes one stored session for listing surfaces.
type SessionSummary struct {
	SessionID       string    `json:"session_id"`
	Count           int       `json:"count"`
	LatestTimestamp time.Time `json:"latest_timestamp"`
}
