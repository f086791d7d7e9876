// Package sqlite implements the askdb memory store on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/askdb/internal/storage"
	"github.com/scrypster/askdb/pkg/types"
)

// MemoryStore implements storage.MemoryStore using SQLite.
type MemoryStore struct {
	db *sql.DB
}

var _ storage.MemoryStore = (*MemoryStore)(nil)

// NewMemoryStore opens (or creates) the store at the given file path.
// The parent directory is created if missing, so the store survives the
// whole data directory being deleted between runs.
//
// If the existing file cannot be loaded because it is corrupted, the bad
// file is moved aside and an empty store is initialized in its place:
// losing memory is acceptable, losing availability is not.
func NewMemoryStore(path string) (*MemoryStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("%w: failed to create data directory: %v", storage.ErrStorage, err)
			}
		}
	}

	store, err := openMemoryStore(path)
	if err == nil {
		return store, nil
	}

	if path == ":memory:" || !isCorruptionError(err) {
		return nil, err
	}

	// Move the unreadable file (and any WAL leftovers) aside rather than
	// deleting it, in case the operator wants a post-mortem.
	quarantine := path + ".corrupt." + time.Now().UTC().Format("20060102T150405")
	if renameErr := os.Rename(path, quarantine); renameErr != nil {
		return nil, fmt.Errorf("%w: corrupted store could not be moved aside: %v (original: %v)",
			storage.ErrStorage, renameErr, err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
	log.Printf("sqlite: store at %s was corrupted, starting empty (saved as %s): %v", path, quarantine, err)

	store, retryErr := openMemoryStore(path)
	if retryErr != nil {
		return nil, fmt.Errorf("%w: failed after corruption recovery: %v", storage.ErrStorage, retryErr)
	}
	return store, nil
}

// openMemoryStore opens the database, configures it, and creates the schema.
func openMemoryStore(path string) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", storage.ErrStorage, err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes (and with them per-session sequence assignment)
	// while WAL mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		// Every acknowledged insert must survive a crash immediately after
		// returning, so the WAL is fsynced on each commit.
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s failed: %v", storage.ErrStorage, pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to create schema: %v", storage.ErrStorage, err)
	}

	// A file that opens but cannot answer a trivial query is corrupted too.
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: store unreadable: %v", storage.ErrStorage, err)
	}

	return &MemoryStore{db: db}, nil
}

// Insert appends the entry to its session and persists it atomically.
// The sequence number is assigned inside the transaction; with the single
// write connection this makes concurrent inserts into the same session
// produce strictly increasing, gap-free sequences.
func (s *MemoryStore) Insert(ctx context.Context, entry *types.MemoryEntry) (int64, error) {
	if entry == nil {
		return 0, storage.ErrInvalidInput
	}
	if entry.SessionID == "" {
		return 0, fmt.Errorf("%w: session ID is required", storage.ErrInvalidInput)
	}
	if entry.UserQuery == "" {
		return 0, fmt.Errorf("%w: user query is required", storage.ErrInvalidInput)
	}
	if len(entry.Embedding) == 0 {
		return 0, fmt.Errorf("%w: embedding is required", storage.ErrInvalidInput)
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to begin insert: %v", storage.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM entries WHERE session_id = ?",
		entry.SessionID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to assign sequence: %v", storage.ErrStorage, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (session_id, seq, created_at, user_query, sql_query, analysis, data_preview, embedding, dimension)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionID,
		seq,
		entry.Timestamp,
		entry.UserQuery,
		entry.SQLQuery,
		entry.Analysis,
		entry.DataPreview,
		serializeEmbedding(entry.Embedding),
		len(entry.Embedding),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to insert entry: %v", storage.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: failed to commit insert: %v", storage.ErrStorage, err)
	}

	entry.Sequence = seq
	return seq, nil
}

// ListSessions enumerates known sessions, most recently active first.
func (s *MemoryStore) ListSessions(ctx context.Context) ([]types.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, COUNT(*), MAX(created_at)
		FROM entries
		GROUP BY session_id
		ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list sessions: %v", storage.ErrStorage, err)
	}
	defer func() { _ = rows.Close() }()

	sessions := []types.SessionSummary{}
	for rows.Next() {
		var sum types.SessionSummary
		if err := rows.Scan(&sum.SessionID, &sum.Count, &sum.LatestTimestamp); err != nil {
			return nil, fmt.Errorf("%w: failed to scan session summary: %v", storage.ErrStorage, err)
		}
		sessions = append(sessions, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating sessions: %v", storage.ErrStorage, err)
	}
	return sessions, nil
}

// GetSessionEntries returns the session's history in insertion order.
func (s *MemoryStore) GetSessionEntries(ctx context.Context, sessionID string) ([]types.MemoryEntry, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session ID is required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq, created_at, user_query, sql_query, analysis, data_preview, embedding, dimension
		FROM entries
		WHERE session_id = ?
		ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get session entries: %v", storage.ErrStorage, err)
	}
	defer func() { _ = rows.Close() }()

	entries := []types.MemoryEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating entries: %v", storage.ErrStorage, err)
	}
	return entries, nil
}

// ResetSession removes all of the session's entries. Because the session
// sequence counter is derived from MAX(seq), deleting the rows also resets
// numbering for any future inserts. Unknown sessions reset silently.
func (s *MemoryStore) ResetSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session ID is required", storage.ErrInvalidInput)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("%w: failed to reset session: %v", storage.ErrStorage, err)
	}
	return nil
}

// Close flushes the WAL into the main database file and releases resources.
// The TRUNCATE checkpoint removes the -shm and -wal files so the next
// process can open the file without stale WAL state.
func (s *MemoryStore) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("sqlite: WAL checkpoint on close failed (non-fatal): %v", err)
	}
	return s.db.Close()
}

// scanEntry reads one entries row. The SELECT column order must match the
// order used in GetSessionEntries and the search candidate query.
func scanEntry(rows *sql.Rows) (types.MemoryEntry, error) {
	var entry types.MemoryEntry
	var blob []byte
	var dim int

	err := rows.Scan(
		&entry.SessionID,
		&entry.Sequence,
		&entry.Timestamp,
		&entry.UserQuery,
		&entry.SQLQuery,
		&entry.Analysis,
		&entry.DataPreview,
		&blob,
		&dim,
	)
	if err != nil {
		return entry, fmt.Errorf("%w: failed to scan entry: %v", storage.ErrStorage, err)
	}

	embedding, err := deserializeEmbedding(blob, dim)
	if err != nil {
		return entry, fmt.Errorf("%w: entry %s: %v", storage.ErrStorage, entry.ID(), err)
	}
	entry.Embedding = embedding
	return entry, nil
}

// serializeEmbedding packs a vector as little-endian IEEE 754 float64s.
func serializeEmbedding(embedding []float64) []byte {
	buf := make([]byte, len(embedding)*8)
	for i, v := range embedding {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// deserializeEmbedding unpacks a vector, validating against the recorded
// dimension.
func deserializeEmbedding(buf []byte, dimension int) ([]float64, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dimension)
	}
	if len(buf) != dimension*8 {
		return nil, fmt.Errorf("embedding size mismatch: expected %d bytes, got %d", dimension*8, len(buf))
	}
	embedding := make([]float64, dimension)
	for i := range embedding {
		embedding[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return embedding, nil
}

// isCorruptionError reports whether the error matches SQLite's corruption
// signatures for a file that exists but cannot be loaded.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "database disk image is malformed") ||
		strings.Contains(msg, "file is encrypted")
}
