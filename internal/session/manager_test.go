package session

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/askdb/internal/storage/sqlite"
	"github.com/scrypster/askdb/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, *sqlite.MemoryStore) {
	t.Helper()
	store, err := sqlite.NewMemoryStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewManager(store), store
}

func TestResolveGeneratesIDWhenAbsent(t *testing.T) {
	mgr, _ := newTestManager(t)

	id, err := mgr.Resolve(context.Background(), "", false)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "sess_"), "generated ID %q lacks prefix", id)

	other, err := mgr.Resolve(context.Background(), "", false)
	require.NoError(t, err)
	assert.NotEqual(t, id, other, "generated IDs must be unique")
}

func TestResolveReturnsRequestedIDUnchanged(t *testing.T) {
	mgr, _ := newTestManager(t)

	id, err := mgr.Resolve(context.Background(), "sess_mine", false)
	require.NoError(t, err)
	assert.Equal(t, "sess_mine", id)

	// Lazy creation: resolving an unknown session does not create storage
	// state, so it stays invisible in listings.
	mgr2, store := newTestManager(t)
	_, err = mgr2.Resolve(context.Background(), "sess_ghost", false)
	require.NoError(t, err)
	sessions, err := store.ListSessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestResolveWithResetClearsHistory(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, &types.MemoryEntry{
		SessionID: "sess_a",
		UserQuery: "old question",
		Embedding: []float64{1, 0},
	})
	require.NoError(t, err)

	id, err := mgr.Resolve(ctx, "sess_a", true)
	require.NoError(t, err)
	assert.Equal(t, "sess_a", id)

	entries, err := store.GetSessionEntries(ctx, "sess_a")
	require.NoError(t, err)
	assert.Empty(t, entries, "reset must clear the session history")
}

func TestResolveResetOnUnknownSessionSucceeds(t *testing.T) {
	mgr, _ := newTestManager(t)

	id, err := mgr.Resolve(context.Background(), "sess_new", true)
	require.NoError(t, err)
	assert.Equal(t, "sess_new", id)
}

func TestResolveTrimsWhitespace(t *testing.T) {
	mgr, _ := newTestManager(t)

	id, err := mgr.Resolve(context.Background(), "  sess_a  ", false)
	require.NoError(t, err)
	assert.Equal(t, "sess_a", id)
}
