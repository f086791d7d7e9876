package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/askdb/internal/storage"
	"github.com/scrypster/askdb/pkg/types"
)

var snippetBase = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func searchHit(sessionID string, seq int64, question string, score float64) storage.SearchResult {
	return searchHitAt(sessionID, seq, question, score, snippetBase.Add(time.Duration(seq)*time.Minute))
}

func searchHitAt(sessionID string, seq int64, question string, score float64, ts time.Time) storage.SearchResult {
	return storage.SearchResult{
		Entry: types.MemoryEntry{
			SessionID: sessionID,
			Sequence:  seq,
			Timestamp: ts,
			UserQuery: question,
			SQLQuery:  "SELECT 1",
			Analysis:  "analysis",
		},
		Score: score,
	}
}

func TestAssembleMergesAndDeduplicates(t *testing.T) {
	store := &stubStore{
		sessionResults: []storage.SearchResult{
			searchHit("sess_a", 1, "own history", 0.9),
		},
		globalResults: []storage.SearchResult{
			// Duplicate of the session hit; must not appear twice.
			searchHit("sess_a", 1, "own history", 0.9),
			searchHit("sess_b", 4, "someone else asked this", 0.8),
		},
	}
	assembler := NewContextAssembler(store, &stubEmbedder{vector: []float32{1, 0}}, AssemblerConfig{})

	snippets, err := assembler.Assemble(context.Background(), "sess_a", "question")
	require.NoError(t, err)
	require.Len(t, snippets, 2)

	assert.Equal(t, ProvenanceCurrentSession, snippets[0].Provenance)
	assert.Equal(t, int64(1), snippets[0].Sequence)
	assert.Equal(t, ProvenanceOtherSession, snippets[1].Provenance)
	assert.Equal(t, "sess_b", snippets[1].SessionID)
}

func TestAssembleMarksOwnEntriesFromGlobalView(t *testing.T) {
	// An own-session entry surfacing only in the global view still counts
	// as current-session context.
	store := &stubStore{
		globalResults: []storage.SearchResult{
			searchHit("sess_a", 2, "own entry via global", 0.7),
		},
	}
	assembler := NewContextAssembler(store, &stubEmbedder{vector: []float32{1, 0}}, AssemblerConfig{})

	snippets, err := assembler.Assemble(context.Background(), "sess_a", "question")
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, ProvenanceCurrentSession, snippets[0].Provenance)
}

func TestAssembleRanksAcrossScopes(t *testing.T) {
	// A strong other-session hit must outrank a weak own-history hit;
	// provenance marks origin but does not influence ranking.
	store := &stubStore{
		sessionResults: []storage.SearchResult{
			searchHit("sess_a", 1, "weak own hit", 0.40),
		},
		globalResults: []storage.SearchResult{
			searchHit("sess_b", 4, "strong other hit", 0.95),
		},
	}
	assembler := NewContextAssembler(store, &stubEmbedder{vector: []float32{1, 0}}, AssemblerConfig{})

	snippets, err := assembler.Assemble(context.Background(), "sess_a", "question")
	require.NoError(t, err)
	require.Len(t, snippets, 2)

	assert.Equal(t, 0.95, snippets[0].Score)
	assert.Equal(t, ProvenanceOtherSession, snippets[0].Provenance)
	assert.Equal(t, 0.40, snippets[1].Score)
	assert.Equal(t, ProvenanceCurrentSession, snippets[1].Provenance)
}

func TestAssembleBoundsSnippets(t *testing.T) {
	// The MaxSnippets cut happens after the combined re-rank, so weak
	// own-history hits fall away before stronger global ones.
	store := &stubStore{
		sessionResults: []storage.SearchResult{
			searchHit("sess_a", 1, "weak own hit", 0.40),
		},
		globalResults: []storage.SearchResult{
			searchHit("sess_b", 1, "strong other hit", 0.95),
			searchHit("sess_c", 1, "mid other hit", 0.60),
			searchHit("sess_d", 1, "low other hit", 0.50),
		},
	}
	assembler := NewContextAssembler(store, &stubEmbedder{vector: []float32{1, 0}}, AssemblerConfig{MaxSnippets: 3})

	snippets, err := assembler.Assemble(context.Background(), "sess_a", "question")
	require.NoError(t, err)
	require.Len(t, snippets, 3)

	assert.Equal(t, []float64{0.95, 0.60, 0.50}, []float64{snippets[0].Score, snippets[1].Score, snippets[2].Score})
	for _, s := range snippets {
		assert.Equal(t, ProvenanceOtherSession, s.Provenance)
	}
}

func TestAssembleTiesPreferNewer(t *testing.T) {
	older := snippetBase
	newer := snippetBase.Add(time.Hour)
	store := &stubStore{
		globalResults: []storage.SearchResult{
			searchHitAt("sess_b", 1, "older exchange", 0.8, older),
			searchHitAt("sess_c", 1, "newer exchange", 0.8, newer),
		},
	}
	assembler := NewContextAssembler(store, &stubEmbedder{vector: []float32{1, 0}}, AssemblerConfig{})

	snippets, err := assembler.Assemble(context.Background(), "sess_a", "question")
	require.NoError(t, err)
	require.Len(t, snippets, 2)
	assert.Equal(t, newer, snippets[0].Timestamp)
	assert.Equal(t, older, snippets[1].Timestamp)
}

func TestAssembleSnippetsCarryTimestamps(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	store := &stubStore{
		sessionResults: []storage.SearchResult{
			searchHitAt("sess_a", 1, "prior question", 0.9, ts),
		},
	}
	assembler := NewContextAssembler(store, &stubEmbedder{vector: []float32{1, 0}}, AssemblerConfig{})

	snippets, err := assembler.Assemble(context.Background(), "sess_a", "question")
	require.NoError(t, err)
	require.Len(t, snippets, 1)

	assert.Equal(t, ts, snippets[0].Timestamp)
	assert.Contains(t, snippets[0].Text, "Timestamp: 2024-05-01T12:30:00Z")
	assert.Contains(t, snippets[0].Text, "prior question")
}

func TestAssembleEmbeddingFailure(t *testing.T) {
	store := &stubStore{}
	assembler := NewContextAssembler(store, &stubEmbedder{err: errors.New("provider down")}, AssemblerConfig{})

	_, err := assembler.Assemble(context.Background(), "sess_a", "question")
	assert.Error(t, err)
}

func TestAssembleSearchFailure(t *testing.T) {
	store := &stubStore{searchErr: errors.New("db locked")}
	assembler := NewContextAssembler(store, &stubEmbedder{vector: []float32{1, 0}}, AssemblerConfig{})

	_, err := assembler.Assemble(context.Background(), "sess_a", "question")
	assert.Error(t, err)
}

func TestAssemblerConfigDefaults(t *testing.T) {
	cfg := AssemblerConfig{}
	cfg.normalize()
	assert.Equal(t, 3, cfg.TopKSession)
	assert.Equal(t, 3, cfg.TopKGlobal)
	assert.Equal(t, 0.3, cfg.Threshold)
	assert.Equal(t, 5, cfg.MaxSnippets)
}
