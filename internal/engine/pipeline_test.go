package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/askdb/internal/storage"
	"github.com/scrypster/askdb/pkg/types"
)

// ---- stub collaborators ----

type stubStore struct {
	sessionResults []storage.SearchResult
	globalResults  []storage.SearchResult
	searchErr      error
	inserted       []*types.MemoryEntry
	insertErr      error
}

func (s *stubStore) Insert(ctx context.Context, entry *types.MemoryEntry) (int64, error) {
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.inserted = append(s.inserted, entry)
	return int64(len(s.inserted)), nil
}

func (s *stubStore) Search(ctx context.Context, vector []float64, scope string, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	if scope == storage.GlobalScope {
		return s.globalResults, nil
	}
	return s.sessionResults, nil
}

func (s *stubStore) ListSessions(ctx context.Context) ([]types.SessionSummary, error) {
	return nil, nil
}

func (s *stubStore) GetSessionEntries(ctx context.Context, sessionID string) ([]types.MemoryEntry, error) {
	return nil, nil
}

func (s *stubStore) ResetSession(ctx context.Context, sessionID string) error { return nil }
func (s *stubStore) Close() error                                             { return nil }

type stubGenerator struct {
	sqlResponse      string
	analysisResponse string
	completeErr      error
	analysisErr      error
	prompts          []string
}

func (g *stubGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if strings.Contains(prompt, "data analyst") {
		if g.analysisErr != nil {
			return "", g.analysisErr
		}
		return g.analysisResponse, nil
	}
	if g.completeErr != nil {
		return "", g.completeErr
	}
	return g.sqlResponse, nil
}

func (g *stubGenerator) GetModel() string { return "stub-model" }

type stubEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.vector, nil
}

func (e *stubEmbedder) GetModel() string { return "stub-embedder" }

type stubQuerier struct {
	rows     []map[string]any
	err      error
	executed []string
}

func (q *stubQuerier) Query(ctx context.Context, query string) ([]map[string]any, error) {
	q.executed = append(q.executed, query)
	if q.err != nil {
		return nil, q.err
	}
	return q.rows, nil
}

func (q *stubQuerier) Close() error { return nil }

type stubResolver struct {
	id  string
	err error
}

func (r *stubResolver) Resolve(ctx context.Context, requested string, reset bool) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	if requested != "" {
		return requested, nil
	}
	return r.id, nil
}

// ---- fixtures ----

type fixture struct {
	store     *stubStore
	generator *stubGenerator
	embedder  *stubEmbedder
	querier   *stubQuerier
	events    []Progress
	pipeline  *Pipeline
}

func newFixture() *fixture {
	f := &fixture{
		store: &stubStore{},
		generator: &stubGenerator{
			sqlResponse:      "SELECT COUNT(*) FROM orders",
			analysisResponse: "There are 42 orders.",
		},
		embedder: &stubEmbedder{vector: []float32{1, 0}},
		querier:  &stubQuerier{rows: []map[string]any{{"count": int64(42)}}},
	}
	assembler := NewContextAssembler(f.store, f.embedder, AssemblerConfig{})
	f.pipeline = NewPipeline(
		&stubResolver{id: "sess_gen"},
		f.store,
		assembler,
		f.generator,
		f.embedder,
		f.querier,
		"TABLE orders (order_id text)",
		PipelineConfig{},
		func(p Progress) { f.events = append(f.events, p) },
	)
	return f
}

func (f *fixture) states() []PipelineState {
	states := make([]PipelineState, len(f.events))
	for i, e := range f.events {
		states[i] = e.State
	}
	return states
}

// ---- tests ----

func TestRunHappyPath(t *testing.T) {
	f := newFixture()

	result, err := f.pipeline.Run(context.Background(), QueryRequest{Question: "How many orders?"})
	require.NoError(t, err)

	assert.Equal(t, "sess_gen", result.SessionID)
	assert.Equal(t, "SELECT COUNT(*) FROM orders", result.SQL)
	assert.Equal(t, 1, result.RowCount)
	assert.Equal(t, "There are 42 orders.", result.Analysis)
	assert.Equal(t, "stub-model", result.Model)
	assert.True(t, result.Persisted)
	assert.Equal(t, int64(1), result.Sequence)

	// The exchange was persisted with the full embedding text.
	require.Len(t, f.store.inserted, 1)
	entry := f.store.inserted[0]
	assert.Equal(t, "How many orders?", entry.UserQuery)
	assert.Equal(t, "SELECT COUNT(*) FROM orders", entry.SQLQuery)
	assert.NotEmpty(t, entry.Embedding)
	assert.Contains(t, entry.DataPreview, "42")

	assert.Equal(t, []PipelineState{
		StateResolvingSession,
		StateAssemblingContext,
		StateGeneratingSQL,
		StateValidatingSQL,
		StateExecuting,
		StateAnalyzing,
		StatePersisting,
		StateDone,
	}, f.states())
}

func TestRunIncludesRetrievedContextInPrompt(t *testing.T) {
	f := newFixture()
	f.store.sessionResults = []storage.SearchResult{
		{
			Entry: types.MemoryEntry{
				SessionID: "sess_a",
				Sequence:  1,
				UserQuery: "prior question about revenue",
				SQLQuery:  "SELECT SUM(price) FROM order_items",
			},
			Score: 0.9,
		},
	}

	result, err := f.pipeline.Run(context.Background(), QueryRequest{Question: "same but for 2018", SessionID: "sess_a"})
	require.NoError(t, err)

	require.Len(t, result.Context, 1)
	assert.Equal(t, ProvenanceCurrentSession, result.Context[0].Provenance)

	// The SQL prompt carried the snippet.
	require.NotEmpty(t, f.generator.prompts)
	assert.Contains(t, f.generator.prompts[0], "prior question about revenue")
	assert.Contains(t, f.generator.prompts[0], ProvenanceCurrentSession)
}

func TestRunContextOptOutSkipsRetrieval(t *testing.T) {
	f := newFixture()
	f.store.sessionResults = []storage.SearchResult{
		{
			Entry: types.MemoryEntry{SessionID: "sess_a", Sequence: 1, UserQuery: "prior question"},
			Score: 0.9,
		},
	}

	off := false
	result, err := f.pipeline.Run(context.Background(), QueryRequest{
		Question:             "How many orders?",
		SessionID:            "sess_a",
		IncludeMemoryContext: &off,
	})
	require.NoError(t, err)

	// Retrieval was skipped, but the exchange still completed and was stored.
	assert.Empty(t, result.Context)
	assert.NotContains(t, f.generator.prompts[0], "prior question")
	assert.True(t, result.Persisted)
}

func TestRunRejectsUnsafeGeneratedSQL(t *testing.T) {
	f := newFixture()
	f.generator.sqlResponse = "DROP TABLE orders"

	_, err := f.pipeline.Run(context.Background(), QueryRequest{Question: "delete everything"})
	require.Error(t, err)

	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, UnsafeQuery, perr.Kind)
	assert.Equal(t, StateValidatingSQL, perr.State)

	// Nothing executed, nothing persisted.
	assert.Empty(t, f.querier.executed)
	assert.Empty(t, f.store.inserted)
}

func TestRunGenerationFailureAborts(t *testing.T) {
	f := newFixture()
	f.generator.completeErr = errors.New("provider down")

	_, err := f.pipeline.Run(context.Background(), QueryRequest{Question: "anything"})
	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, GenerationFailure, perr.Kind)
	assert.Empty(t, f.store.inserted)
}

func TestRunEmptySQLIsGenerationFailure(t *testing.T) {
	f := newFixture()
	f.generator.sqlResponse = "```sql\n```"

	_, err := f.pipeline.Run(context.Background(), QueryRequest{Question: "anything"})
	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, GenerationFailure, perr.Kind)
}

func TestRunExecutionFailureAborts(t *testing.T) {
	f := newFixture()
	f.querier.err = errors.New(`relation "orders" does not exist`)

	_, err := f.pipeline.Run(context.Background(), QueryRequest{Question: "How many orders?"})
	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ExecutionFailure, perr.Kind)
	assert.Empty(t, f.store.inserted)
}

func TestRunAnalysisFailureAborts(t *testing.T) {
	f := newFixture()
	f.generator.analysisErr = errors.New("provider down")

	_, err := f.pipeline.Run(context.Background(), QueryRequest{Question: "How many orders?"})
	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, GenerationFailure, perr.Kind)
	assert.Equal(t, StateAnalyzing, perr.State)
	assert.Empty(t, f.store.inserted)
}

func TestRunEmbeddingFailureDegradesToEmptyContextAndNoPersist(t *testing.T) {
	f := newFixture()
	f.embedder.err = errors.New("embedding provider down")

	result, err := f.pipeline.Run(context.Background(), QueryRequest{Question: "How many orders?"})
	require.NoError(t, err, "embedding failure must not fail the query")

	assert.Empty(t, result.Context)
	assert.False(t, result.Persisted)
	assert.Zero(t, result.Sequence)
	assert.Equal(t, "There are 42 orders.", result.Analysis)
	assert.Empty(t, f.store.inserted)
}

func TestRunPersistFailureDegrades(t *testing.T) {
	f := newFixture()
	f.store.insertErr = fmt.Errorf("%w: disk full", storage.ErrStorage)

	result, err := f.pipeline.Run(context.Background(), QueryRequest{Question: "How many orders?"})
	require.NoError(t, err, "storage failure at persist must not fail the query")
	assert.False(t, result.Persisted)
	assert.Equal(t, 1, result.RowCount)
}

func TestRunEmptyQuestionRejected(t *testing.T) {
	f := newFixture()

	_, err := f.pipeline.Run(context.Background(), QueryRequest{Question: "   "})
	require.Error(t, err)
	assert.Empty(t, f.querier.executed)
}

func TestExecuteSQL(t *testing.T) {
	f := newFixture()

	rows, err := f.pipeline.ExecuteSQL(context.Background(), "SELECT COUNT(*) FROM orders")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = f.pipeline.ExecuteSQL(context.Background(), "DELETE FROM orders")
	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, UnsafeQuery, perr.Kind)

	// The unsafe statement never reached the warehouse.
	assert.Equal(t, []string{"SELECT COUNT(*) FROM orders"}, f.querier.executed)
}
