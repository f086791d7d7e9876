package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scrypster/askdb/internal/llm"
	"github.com/scrypster/askdb/internal/sqlguard"
	"github.com/scrypster/askdb/internal/storage"
	"github.com/scrypster/askdb/internal/warehouse"
	"github.com/scrypster/askdb/pkg/types"
)

// SessionResolver resolves the session for a request. Implemented by
// session.Manager.
type SessionResolver interface {
	Resolve(ctx context.Context, requested string, reset bool) (string, error)
}

// PipelineConfig bounds pipeline behavior.
type PipelineConfig struct {
	// MaxAnalysisRows caps how many result rows are shown to the analysis
	// model (default: 100).
	MaxAnalysisRows int

	// PreviewRows caps how many rows are stored in the memory entry's data
	// preview (default: 5).
	PreviewRows int
}

func (c *PipelineConfig) normalize() {
	if c.MaxAnalysisRows <= 0 {
		c.MaxAnalysisRows = 100
	}
	if c.PreviewRows <= 0 {
		c.PreviewRows = 5
	}
}

// Pipeline runs a question through session resolution, context assembly,
// SQL generation, validation, execution, analysis, and persistence.
//
// Failure policy: generation, validation, and execution failures abort the
// run and nothing is persisted, so rejected exchanges never poison future
// retrieval. Embedding or storage failures during persistence degrade: the
// user still gets their answer, the exchange is just not remembered.
type Pipeline struct {
	sessions  SessionResolver
	store     storage.MemoryStore
	assembler *ContextAssembler
	generator llm.TextGenerator
	embedder  llm.EmbeddingGenerator
	executor  warehouse.Querier
	schema    string
	cfg       PipelineConfig
	progress  ProgressFunc
}

// NewPipeline wires the pipeline's collaborators. schemaDescription is the
// rendered warehouse schema included in every SQL generation prompt.
// progress may be nil.
func NewPipeline(
	sessions SessionResolver,
	store storage.MemoryStore,
	assembler *ContextAssembler,
	generator llm.TextGenerator,
	embedder llm.EmbeddingGenerator,
	executor warehouse.Querier,
	schemaDescription string,
	cfg PipelineConfig,
	progress ProgressFunc,
) *Pipeline {
	cfg.normalize()
	return &Pipeline{
		sessions:  sessions,
		store:     store,
		assembler: assembler,
		generator: generator,
		embedder:  embedder,
		executor:  executor,
		schema:    schemaDescription,
		cfg:       cfg,
		progress:  progress,
	}
}

// Run executes the full pipeline for one question.
func (p *Pipeline) Run(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	started := time.Now()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, pipelineErr(GenerationFailure, StateResolvingSession, fmt.Errorf("question is empty"))
	}

	// Session resolution.
	p.emit("", StateResolvingSession, "")
	sessionID, err := p.sessions.Resolve(ctx, req.SessionID, req.Reset)
	if err != nil {
		return nil, pipelineErr(StorageError, StateResolvingSession, err)
	}

	// Context assembly. Embedding or search failures degrade to an empty
	// context; a question answered without memory beats no answer.
	p.emit(sessionID, StateAssemblingContext, "")
	snippets := []ContextSnippet{}
	if req.WantsContext() {
		snippets, err = p.assembler.Assemble(ctx, sessionID, question)
		if err != nil {
			log.Printf("pipeline: context assembly degraded for session %s: %v", sessionID, err)
			snippets = []ContextSnippet{}
		}
	}

	// SQL generation.
	p.emit(sessionID, StateGeneratingSQL, "")
	sqlQuery, err := p.generateSQL(ctx, question, snippets)
	if err != nil {
		return nil, pipelineErr(GenerationFailure, StateGeneratingSQL, err)
	}

	// Validation. Rejected SQL aborts the run; nothing is persisted.
	p.emit(sessionID, StateValidatingSQL, "")
	if err := sqlguard.Validate(sqlQuery); err != nil {
		return nil, pipelineErr(UnsafeQuery, StateValidatingSQL, err)
	}

	// Execution.
	p.emit(sessionID, StateExecuting, "")
	rows, err := p.executor.Query(ctx, sqlQuery)
	if err != nil {
		return nil, pipelineErr(ExecutionFailure, StateExecuting, err)
	}

	// Analysis.
	p.emit(sessionID, StateAnalyzing, "")
	analysis, err := p.analyze(ctx, question, sqlQuery, rows)
	if err != nil {
		return nil, pipelineErr(GenerationFailure, StateAnalyzing, err)
	}

	result := &QueryResult{
		SessionID: sessionID,
		Question:  question,
		SQL:       sqlQuery,
		Rows:      rows,
		RowCount:  len(rows),
		Analysis:  analysis,
		Context:   snippets,
		Model:     p.generator.GetModel(),
	}

	// Persistence. Failures here are logged and swallowed.
	p.emit(sessionID, StatePersisting, "")
	p.persist(ctx, result)

	result.Duration = time.Since(started)
	p.emit(sessionID, StateDone, "")
	return result, nil
}

// ExecuteSQL runs a caller-supplied statement through the same read-only
// gate and executor as generated SQL. No memory or LLM involvement.
func (p *Pipeline) ExecuteSQL(ctx context.Context, sqlQuery string) ([]map[string]any, error) {
	if err := sqlguard.Validate(sqlQuery); err != nil {
		return nil, pipelineErr(UnsafeQuery, StateValidatingSQL, err)
	}
	rows, err := p.executor.Query(ctx, sqlQuery)
	if err != nil {
		return nil, pipelineErr(ExecutionFailure, StateExecuting, err)
	}
	return rows, nil
}

func (p *Pipeline) generateSQL(ctx context.Context, question string, snippets []ContextSnippet) (string, error) {
	texts := make([]string, len(snippets))
	for i, s := range snippets {
		texts[i] = fmt.Sprintf("[%s]\n%s", s.Provenance, s.Text)
	}

	prompt := llm.BuildSQLPrompt(p.schema, llm.ContextSnippetBlock(texts), question)
	completion, err := p.generator.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("SQL generation failed: %w", err)
	}

	sqlQuery := llm.ExtractSQL(completion)
	if sqlQuery == "" {
		return "", fmt.Errorf("model returned no SQL")
	}
	return sqlQuery, nil
}

func (p *Pipeline) analyze(ctx context.Context, question, sqlQuery string, rows []map[string]any) (string, error) {
	capped := rows
	truncated := false
	if len(capped) > p.cfg.MaxAnalysisRows {
		capped = capped[:p.cfg.MaxAnalysisRows]
		truncated = true
	}

	rowsJSON, err := json.Marshal(capped)
	if err != nil {
		return "", fmt.Errorf("failed to serialize rows: %w", err)
	}
	rendered := string(rowsJSON)
	if truncated {
		rendered += fmt.Sprintf("\n(%d of %d rows shown)", len(capped), len(rows))
	}

	analysis, err := p.generator.Complete(ctx, llm.BuildAnalysisPrompt(question, sqlQuery, rendered))
	if err != nil {
		return "", fmt.Errorf("analysis failed: %w", err)
	}
	analysis = strings.TrimSpace(analysis)
	if analysis == "" {
		return "", fmt.Errorf("model returned empty analysis")
	}
	return analysis, nil
}

// persist records the exchange in memory. Sets Sequence and Persisted on
// the result when it succeeds; logs and moves on when it does not.
func (p *Pipeline) persist(ctx context.Context, result *QueryResult) {
	entry := &types.MemoryEntry{
		SessionID:   result.SessionID,
		UserQuery:   result.Question,
		SQLQuery:    result.SQL,
		Analysis:    result.Analysis,
		DataPreview: p.preview(result.Rows),
	}

	vec32, err := p.embedder.Embed(ctx, entry.EmbeddingText())
	if err != nil {
		log.Printf("pipeline: embedding failed, exchange not persisted (session %s): %v", result.SessionID, err)
		return
	}
	entry.Embedding = make([]float64, len(vec32))
	for i, v := range vec32 {
		entry.Embedding[i] = float64(v)
	}

	seq, err := p.store.Insert(ctx, entry)
	if err != nil {
		log.Printf("pipeline: failed to persist exchange (session %s): %v", result.SessionID, err)
		return
	}

	result.Sequence = seq
	result.Persisted = true
}

// preview renders the first PreviewRows rows as JSON for the memory entry.
func (p *Pipeline) preview(rows []map[string]any) string {
	if len(rows) == 0 {
		return ""
	}
	capped := rows
	if len(capped) > p.cfg.PreviewRows {
		capped = capped[:p.cfg.PreviewRows]
	}
	data, err := json.Marshal(capped)
	if err != nil {
		return ""
	}
	return string(data)
}

func (p *Pipeline) emit(sessionID string, state PipelineState, detail string) {
	if p.progress == nil {
		return
	}
	p.progress(Progress{
		SessionID: sessionID,
		State:     state,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}
