// Package session resolves which conversation a query belongs to.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/scrypster/askdb/internal/storage"
)

// Manager resolves session IDs for incoming queries. Sessions are created
// lazily: a fresh ID refers to a session with no history, and the session
// only becomes visible in listings once its first exchange is persisted.
type Manager struct {
	store storage.MemoryStore
}

// NewManager creates a session manager over the given store.
func NewManager(store storage.MemoryStore) *Manager {
	return &Manager{store: store}
}

// Resolve determines the session for a request. An empty requested ID
// yields a newly generated one, guaranteed not to collide with any stored
// session. When reset is set, the session's history is cleared before the
// ID is returned, so the caller starts from a blank slate.
func (m *Manager) Resolve(ctx context.Context, requested string, reset bool) (string, error) {
	id := strings.TrimSpace(requested)

	if id == "" {
		generated, err := m.generateID(ctx)
		if err != nil {
			return "", err
		}
		return generated, nil
	}

	if reset {
		if err := m.store.ResetSession(ctx, id); err != nil {
			return "", fmt.Errorf("failed to reset session %s: %w", id, err)
		}
	}

	return id, nil
}

// generateID produces a fresh "sess_" ID. UUIDs make collisions with
// stored sessions effectively impossible, but IDs can also come from
// clients, so we verify against the store anyway.
func (m *Manager) generateID(ctx context.Context) (string, error) {
	existing, err := m.store.ListSessions(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list sessions: %w", err)
	}
	taken := make(map[string]bool, len(existing))
	for _, s := range existing {
		taken[s.SessionID] = true
	}

	for attempt := 0; attempt < 10; attempt++ {
		id := "sess_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		if !taken[id] {
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to generate a unique session ID")
}
