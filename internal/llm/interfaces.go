// Package llm provides text generation and embedding clients for the
// query pipeline, with circuit breaker protection around every provider.
package llm

import "context"

// TextGenerator is the interface for LLM text completion.
// SQL generation and analysis both use single-string completion style.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings.
// Returns float32 slice; callers convert to float64 for storage.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
