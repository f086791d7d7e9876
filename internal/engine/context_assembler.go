package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/scrypster/askdb/internal/llm"
	"github.com/scrypster/askdb/internal/storage"
	"github.com/scrypster/askdb/pkg/types"
)

const (
	// ProvenanceCurrentSession marks snippets retrieved from the asking
	// session's own history.
	ProvenanceCurrentSession = "current session"

	// ProvenanceOtherSession marks snippets retrieved from the global view
	// that belong to a different session.
	ProvenanceOtherSession = "other session"
)

// AssemblerConfig bounds context retrieval.
type AssemblerConfig struct {
	// TopKSession is how many snippets to request from the session scope
	// (default: 3).
	TopKSession int

	// TopKGlobal is how many snippets to request from the global scope
	// (default: 3).
	TopKGlobal int

	// Threshold is the minimum similarity for a snippet to be used
	// (default: 0.3).
	Threshold float64

	// MaxSnippets bounds the merged context (default: 5).
	MaxSnippets int
}

func (c *AssemblerConfig) normalize() {
	if c.TopKSession <= 0 {
		c.TopKSession = 3
	}
	if c.TopKGlobal <= 0 {
		c.TopKGlobal = 3
	}
	if c.Threshold == 0 {
		c.Threshold = 0.3
	}
	if c.MaxSnippets <= 0 {
		c.MaxSnippets = 5
	}
}

// ContextAssembler retrieves prior exchanges relevant to a question. The
// question is embedded once, then searched against two views of the memory
// store: the asking session's own history and the global view across all
// sessions.
type ContextAssembler struct {
	store    storage.MemoryStore
	embedder llm.EmbeddingGenerator
	cfg      AssemblerConfig
}

// NewContextAssembler creates an assembler over the given store and embedder.
func NewContextAssembler(store storage.MemoryStore, embedder llm.EmbeddingGenerator, cfg AssemblerConfig) *ContextAssembler {
	cfg.normalize()
	return &ContextAssembler{store: store, embedder: embedder, cfg: cfg}
}

// Assemble returns the bounded, deduplicated context for a question.
// An embedding failure is returned as an error; callers degrade to an
// empty context rather than failing the query. Search runs against both
// scopes; entries found in both keep their session-scope identity so the
// prompt can weigh own-history snippets properly.
func (a *ContextAssembler) Assemble(ctx context.Context, sessionID, question string) ([]ContextSnippet, error) {
	vec32, err := a.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	vector := make([]float64, len(vec32))
	for i, v := range vec32 {
		vector[i] = float64(v)
	}

	sessionResults, err := a.store.Search(ctx, vector, storage.SessionScope(sessionID), storage.SearchOptions{
		TopK:      a.cfg.TopKSession,
		Threshold: a.cfg.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("session-scope search failed: %w", err)
	}

	globalResults, err := a.store.Search(ctx, vector, storage.GlobalScope, storage.SearchOptions{
		TopK:      a.cfg.TopKGlobal,
		Threshold: a.cfg.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("global-scope search failed: %w", err)
	}

	return a.merge(sessionID, sessionResults, globalResults), nil
}

// merge combines the two result sets. Session-scope hits claim their
// entries first, so an exchange surfacing in both views keeps its
// own-history provenance. The combined set is then re-ranked by score
// with newer entries winning ties, and capped at MaxSnippets.
func (a *ContextAssembler) merge(sessionID string, sessionResults, globalResults []storage.SearchResult) []ContextSnippet {
	seen := make(map[string]bool)
	snippets := []ContextSnippet{}

	add := func(res storage.SearchResult, provenance string) {
		id := res.Entry.ID()
		if seen[id] {
			return
		}
		seen[id] = true
		snippets = append(snippets, ContextSnippet{
			SessionID:  res.Entry.SessionID,
			Sequence:   res.Entry.Sequence,
			Timestamp:  res.Entry.Timestamp,
			Provenance: provenance,
			Score:      res.Score,
			Text:       renderSnippetText(res.Entry),
		})
	}

	for _, res := range sessionResults {
		add(res, ProvenanceCurrentSession)
	}
	for _, res := range globalResults {
		provenance := ProvenanceOtherSession
		if res.Entry.SessionID == sessionID {
			provenance = ProvenanceCurrentSession
		}
		add(res, provenance)
	}

	sort.SliceStable(snippets, func(i, j int) bool {
		if snippets[i].Score != snippets[j].Score {
			return snippets[i].Score > snippets[j].Score
		}
		return snippets[i].Timestamp.After(snippets[j].Timestamp)
	})

	if len(snippets) > a.cfg.MaxSnippets {
		snippets = snippets[:a.cfg.MaxSnippets]
	}
	return snippets
}

// renderSnippetText renders one retrieved exchange for the generation
// prompt, timestamped so the model can weigh how stale it is.
func renderSnippetText(entry types.MemoryEntry) string {
	return "Timestamp: " + entry.Timestamp.UTC().Format(time.RFC3339) + "\n" + entry.EmbeddingText()
}
