package postgres

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/scrypster/askdb/internal/storage"
)

// searchMaxCandidates caps the number of embeddings pulled into Go memory
// when scoring without pgvector. Candidates come back newest first, so the
// most recent exchanges are always considered.
const searchMaxCandidates = 10_000

// Search ranks the scope's entries by cosine similarity to the query vector.
// With the pgvector extension the ranking runs server-side over the vector
// column; otherwise embeddings are loaded and scored in Go. Both paths apply
// the same threshold, ordering, and TopK semantics.
func (s *MemoryStore) Search(ctx context.Context, vector []float64, scope string, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	opts.Normalize()

	if len(vector) == 0 {
		return []storage.SearchResult{}, nil
	}

	sessionID, global, err := storage.ParseScope(scope)
	if err != nil {
		return nil, err
	}

	if s.pgvectorAvailable {
		return s.searchPgvector(ctx, vector, sessionID, global, opts)
	}
	return s.searchInProcess(ctx, vector, sessionID, global, opts)
}

// searchPgvector ranks with the cosine distance operator. Cosine similarity
// is 1 - distance, so ordering by distance ascending matches ordering by
// similarity descending; created_at DESC breaks ties toward recent entries.
func (s *MemoryStore) searchPgvector(ctx context.Context, vector []float64, sessionID string, global bool, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	query := `
		SELECT session_id, seq, created_at, user_query, sql_query, analysis, data_preview, embedding, dimension,
		       1 - (embedding_vec <=> $1) AS score
		FROM entries
		WHERE embedding_vec IS NOT NULL
		  AND 1 - (embedding_vec <=> $1) >= $2`
	args := []any{toPgvector(vector), opts.Threshold}
	if !global {
		query += " AND session_id = $4"
		args = append(args, opts.TopK, sessionID)
	} else {
		args = append(args, opts.TopK)
	}
	query += `
		ORDER BY embedding_vec <=> $1 ASC, created_at DESC
		LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search failed: %v", storage.ErrStorage, err)
	}
	defer func() { _ = rows.Close() }()

	results := []storage.SearchResult{}
	for rows.Next() {
		var res storage.SearchResult
		var blob []byte
		var dim int
		err := rows.Scan(
			&res.Entry.SessionID, &res.Entry.Sequence, &res.Entry.Timestamp,
			&res.Entry.UserQuery, &res.Entry.SQLQuery, &res.Entry.Analysis, &res.Entry.DataPreview,
			&blob, &dim, &res.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan search result: %v", storage.ErrStorage, err)
		}
		embedding, err := deserializeEmbedding(blob, dim)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %s: %v", storage.ErrStorage, res.Entry.ID(), err)
		}
		res.Entry.Embedding = embedding
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating search results: %v", storage.ErrStorage, err)
	}
	return results, nil
}

// searchInProcess loads recent candidates and scores them in Go. Same
// approach as the SQLite backend; used when the vector extension is missing.
func (s *MemoryStore) searchInProcess(ctx context.Context, vector []float64, sessionID string, global bool, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	query := `
		SELECT session_id, seq, created_at, user_query, sql_query, analysis, data_preview, embedding, dimension
		FROM entries`
	args := []any{}
	if !global {
		query += " WHERE session_id = $1"
		args = append(args, sessionID)
		query += " ORDER BY created_at DESC LIMIT $2"
	} else {
		query += " ORDER BY created_at DESC LIMIT $1"
	}
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
