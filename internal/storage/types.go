package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/scrypster/askdb/pkg/types"
)

var (
	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorage indicates that the backing store is unreadable, unwritable,
	// or corrupted. Callers match it with errors.Is to distinguish storage
	// faults from input problems.
	ErrStorage = errors.New("storage error")
)

// GlobalScope is the scope string covering every session's entries.
const GlobalScope = "global"

const sessionScopePrefix = "session:"

// SessionScope returns the scope string for a single session's entries.
func SessionScope(sessionID string) string {
	return sessionScopePrefix + sessionID
}

// ParseScope splits a scope string into its session ID, if any.
// Returns ("", true) for the global scope, (id, false) for a session scope,
// and an error for anything else.
func ParseScope(scope string) (sessionID string, global bool, err error) {
	if scope == GlobalScope {
		return "", true, nil
	}
	if id, ok := strings.CutPrefix(scope, sessionScopePrefix); ok && id != "" {
		return id, false, nil
	}
	return "", false, fmt.Errorf("%w: unknown scope %q", ErrInvalidInput, scope)
}

// SearchOptions configures a similarity search over one scope.
type SearchOptions struct {
	// TopK is the maximum number of results to return (default: 5, max: 50).
	TopK int

	// Threshold is the minimum cosine similarity an entry must reach to be
	// returned. Entries below the threshold are dropped, not an error.
	Threshold float64
}

// Normalize applies defaults and bounds to the options.
func (o *SearchOptions) Normalize() {
	if o.TopK < 1 {
		o.TopK = 5
	}
	if o.TopK > 50 {
		o.TopK = 50
	}
	if o.Threshold < -1.0 {
		o.Threshold = -1.0
	}
	if o.Threshold > 1.0 {
		o.Threshold = 1.0
	}
}

// SearchResult pairs an entry with its similarity score for one search.
type SearchResult struct {
	Entry types.MemoryEntry
	Score float64
}
