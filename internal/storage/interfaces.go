// Package storage defines the conversational memory store contract for askdb.
//
// A store persists memory entries and their embeddings in a single entry
// table keyed by (session_id, sequence). Scoped similarity search is served
// as two logical views over that one table: a per-session partition and a
// global flat view. Vectors are stored once; the scopes are query filters,
// not copies.
package storage

import (
	"context"

	"github.com/scrypster/askdb/pkg/types"
)

// MemoryStore persists conversational exchanges and serves scoped
// similarity search over their embeddings.
//
// Implementations must serialize mutating calls per session: two concurrent
// Insert calls for the same session must produce distinct, gap-free
// sequence numbers. Reads started after an Insert returns must observe that
// insert. Mutations must be durable before they return.
type MemoryStore interface {
	// Insert appends the entry to its session, assigning the next sequence
	// number and the timestamp (when unset), and persists the entry payload
	// together with its embedding. The insert is all-or-nothing: a failed
	// insert leaves no partial entry behind. Returns the assigned sequence.
	Insert(ctx context.Context, entry *types.MemoryEntry) (int64, error)

	// Search returns up to opts.TopK entries from the given scope whose
	// cosine similarity to the query vector is >= opts.Threshold, ordered by
	// descending similarity with ties broken by more-recent timestamp first.
	// An empty scope returns an empty slice, not an error.
	Search(ctx context.Context, vector []float64, scope string, opts SearchOptions) ([]SearchResult, error)

	// ListSessions enumerates known sessions with summary stats, ordered by
	// latest timestamp descending.
	ListSessions(ctx context.Context) ([]types.SessionSummary, error)

	// GetSessionEntries returns the full chronological history for one
	// session. An unknown session yields an empty slice: for reads it is
	// indistinguishable from an empty one.
	GetSessionEntries(ctx context.Context, sessionID string) ([]types.MemoryEntry, error)

	// ResetSession removes all entries belonging to the session from the
	// entry table and both index views, and resets its sequence counter.
	// Resetting an unknown or already-empty session succeeds silently.
	ResetSession(ctx context.Context, sessionID string) error

	// Close flushes pending state and releases resources.
	Close() error
}
