package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/scrypster/askdb/internal/storage"
	"github.com/scrypster/askdb/pkg/types"
)

// newTestStore creates an in-memory SQLite store for testing.
func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	store, err := NewMemoryStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testEntry(sessionID, question string, embedding []float64) *types.MemoryEntry {
	return &types.MemoryEntry{
		SessionID:   sessionID,
		UserQuery:   question,
		SQLQuery:    "SELECT COUNT(*) FROM orders",
		Analysis:    "There are 42 orders.",
		DataPreview: `[{"count":42}]`,
		Embedding:   embedding,
	}
}

func TestInsertAssignsSequentialNumbers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		seq, err := store.Insert(ctx, testEntry("sess_a", fmt.Sprintf("question %d", want), []float64{1, 0}))
		if err != nil {
			t.Fatalf("Insert() failed: %v", err)
		}
		if seq != want {
			t.Errorf("sequence: got %d, want %d", seq, want)
		}
	}

	// A different session numbers independently.
	seq, err := store.Insert(ctx, testEntry("sess_b", "other session", []float64{0, 1}))
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if seq != 1 {
		t.Errorf("sequence in new session: got %d, want 1", seq)
	}
}

func TestInsertValidatesInput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		entry *types.MemoryEntry
	}{
		{"nil entry", nil},
		{"missing session", testEntry("", "q", []float64{1})},
		{"missing question", testEntry("sess_a", "", []float64{1})},
		{"missing embedding", testEntry("sess_a", "q", nil)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := store.Insert(ctx, tc.entry); err == nil {
				t.Error("Insert() succeeded, want ErrInvalidInput")
			}
		})
	}
}

// TestConcurrentInsertsSameSession verifies that concurrent inserts into one
// session never produce duplicate or gapped sequence numbers.
func TestConcurrentInsertsSameSession(t *testing.T) {
	dir := t.TempDir()
	store, err := NewMemoryStore(filepath.Join(dir, "askdb.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	const workers = 8
	const perWorker = 5
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				entry := testEntry("sess_shared", fmt.Sprintf("w%d q%d", w, i), []float64{1, 0})
				if _, err := store.Insert(ctx, entry); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Insert() failed: %v", err)
	}

	entries, err := store.GetSessionEntries(ctx, "sess_shared")
	if err != nil {
		t.Fatalf("GetSessionEntries() failed: %v", err)
	}
	if len(entries) != workers*perWorker {
		t.Fatalf("entry count: got %d, want %d", len(entries), workers*perWorker)
	}
	for i, entry := range entries {
		if entry.Sequence != int64(i+1) {
			t.Fatalf("sequence at index %d: got %d, want %d (gap or duplicate)", i, entry.Sequence, i+1)
		}
	}
}

func TestGetSessionEntriesUnknownSessionIsEmpty(t *testing.T) {
	store := newTestStore(t)

	entries, err := store.GetSessionEntries(context.Background(), "sess_nope")
	if err != nil {
		t.Fatalf("GetSessionEntries() failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries: got %d, want 0", len(entries))
	}
}

func TestListSessionsOrderedByRecency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := testEntry("sess_old", "old question", []float64{1, 0})
	old.Timestamp = time.Now().UTC().Add(-time.Hour)
	if _, err := store.Insert(ctx, old); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if _, err := store.Insert(ctx, testEntry("sess_new", "new question", []float64{0, 1})); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("session count: got %d, want 2", len(sessions))
	}
	if sessions[0].SessionID != "sess_new" {
		t.Errorf("first session: got %q, want %q", sessions[0].SessionID, "sess_new")
	}
	if sessions[1].SessionID != "sess_old" || sessions[1].Count != 1 {
		t.Errorf("second session: got %+v", sessions[1])
	}
}

func TestResetSessionRemovesEntriesAndRestartsNumbering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Insert(ctx, testEntry("sess_a", fmt.Sprintf("q%d", i), []float64{1, 0})); err != nil {
			t.Fatalf("Insert() failed: %v", err)
		}
	}
	if _, err := store.Insert(ctx, testEntry("sess_b", "keep me", []float64{0, 1})); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	if err := store.ResetSession(ctx, "sess_a"); err != nil {
		t.Fatalf("ResetSession() failed: %v", err)
	}

	entries, err := store.GetSessionEntries(ctx, "sess_a")
	if err != nil {
		t.Fatalf("GetSessionEntries() failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries after reset: got %d, want 0", len(entries))
	}

	// Reset must not touch other sessions.
	others, err := store.GetSessionEntries(ctx, "sess_b")
	if err != nil {
		t.Fatalf("GetSessionEntries() failed: %v", err)
	}
	if len(others) != 1 {
		t.Errorf("sess_b entries: got %d, want 1", len(others))
	}

	// Idempotent: a second reset succeeds and changes nothing.
	if err := store.ResetSession(ctx, "sess_a"); err != nil {
		t.Fatalf("second ResetSession() failed: %v", err)
	}

	// Numbering restarts from 1.
	seq, err := store.Insert(ctx, testEntry("sess_a", "fresh start", []float64{1, 0}))
	if err != nil {
		t.Fatalf("Insert() after reset failed: %v", err)
	}
	if seq != 1 {
		t.Errorf("sequence after reset: got %d, want 1", seq)
	}
}

func TestResetSessionUnknownSessionSucceeds(t *testing.T) {
	store := newTestStore(t)
	if err := store.ResetSession(context.Background(), "sess_never_seen"); err != nil {
		t.Errorf("ResetSession() on unknown session: %v", err)
	}
}

// TestPersistenceAcrossReopen verifies entries survive a close/reopen cycle.
func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "askdb.db")
	ctx := context.Background()

	store, err := NewMemoryStore(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if _, err := store.Insert(ctx, testEntry("sess_a", "durable question", []float64{0.5, 0.5})); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reopened, err := NewMemoryStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	entries, err := reopened.GetSessionEntries(ctx, "sess_a")
	if err != nil {
		t.Fatalf("GetSessionEntries() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries after reopen: got %d, want 1", len(entries))
	}
	got := entries[0]
	if got.UserQuery != "durable question" {
		t.Errorf("UserQuery: got %q", got.UserQuery)
	}
	if len(got.Embedding) != 2 || got.Embedding[0] != 0.5 {
		t.Errorf("Embedding: got %v", got.Embedding)
	}
}

// TestCorruptedFileStartsEmpty verifies the corruption policy: a file that
// is not a database is moved aside and the store starts empty.
func TestCorruptedFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "askdb.db")
	if err := os.WriteFile(path, []byte("this is not a sqlite database at all"), 0o644); err != nil {
		t.Fatalf("failed to write garbage file: %v", err)
	}

	store, err := NewMemoryStore(path)
	if err != nil {
		t.Fatalf("NewMemoryStore() on corrupted file failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sessions, err := store.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions() failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("sessions in recovered store: got %d, want 0", len(sessions))
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	vec := []float64{0.25, -1.5, 3.14159, 0}
	got, err := deserializeEmbedding(serializeEmbedding(vec), len(vec))
	if err != nil {
		t.Fatalf("deserializeEmbedding() failed: %v", err)
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("component %d: got %v, want %v", i, got[i], vec[i])
		}
	}

	if _, err := deserializeEmbedding([]byte{1, 2, 3}, 4); err == nil {
		t.Error("deserializeEmbedding() with short buffer succeeded, want error")
	}
}

func TestInsertErrorsWrapStorageError(t *testing.T) {
	store := newTestStore(t)
	_ = store.Close()

	_, err := store.Insert(context.Background(), testEntry("sess_a", "q", []float64{1}))
	if err == nil {
		t.Fatal("Insert() on closed store succeeded")
	}
	if !errors.Is(err, storage.ErrStorage) {
		t.Errorf("error does not wrap ErrStorage: %v", err)
	}
}
