package sqlite

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/scrypster/askdb/internal/storage"
)

// searchMaxCandidates caps the number of embeddings loaded into memory
// during a search. Candidates are selected in recency order (newest first)
// so the most recent exchanges are always considered. Conversational
// histories are small; this limit exists to bound memory on pathological
// datasets, not as a tuning knob.
const searchMaxCandidates = 10_000

// Search ranks the scope's entries by cosine similarity to the query
// vector. Embeddings are loaded into Go memory and scored here; both scopes
// read the same entries table, a session scope just adds a filter.
func (s *MemoryStore) Search(ctx context.Context, vector []float64, scope string, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	opts.Normalize()

	if len(vector) == 0 {
		return []storage.SearchResult{}, nil
	}

	sessionID, global, err := storage.ParseScope(scope)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT session_id, seq, created_at, user_query, sql_query, analysis, data_preview, embedding, dimension
		FROM entries`
	args := []any{}
	if !global {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, searchMaxCandidates)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load search candidates: %v", storage.ErrStorage, err)
	}
	defer func() { _ = rows.Close() }()

	var results []storage.SearchResult
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		score := cosineSimilarity(vector, entry.Embedding)
		if score < opts.Threshold {
			continue
		}
		results = append(results, storage.SearchResult{Entry: entry, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating search candidates: %v", storage.ErrStorage, err)
	}

	// Descending similarity; ties go to the more recent entry.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.Timestamp.After(results[j].Entry.Timestamp)
	})

	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	if results == nil {
		results = []storage.SearchResult{}
	}
	return results, nil
}

// cosineSimilarity computes cosine similarity between two equal-length
// vectors. Returns 0 if either vector has zero magnitude or lengths differ.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
