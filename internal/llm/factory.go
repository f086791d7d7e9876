package llm

import (
	"context"
	"fmt"
)

// Config selects and configures an LLM provider.
type Config struct {
	Provider       string // gemini (default), openai, ollama
	APIKey         string
	Model          string
	EmbeddingModel string
	BaseURL        string // openai/ollama only
}

// NewTextGenerator creates the TextGenerator for the configured provider.
func NewTextGenerator(ctx context.Context, cfg Config) (TextGenerator, error) {
	switch cfg.Provider {
	case "gemini", "":
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:         cfg.APIKey,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
		})
	case "openai":
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL}), nil
	case "ollama":
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// NewEmbeddingGenerator creates the EmbeddingGenerator for the configured
// provider. Every supported provider can embed, so a nil generator is
// always an error.
func NewEmbeddingGenerator(ctx context.Context, cfg Config) (EmbeddingGenerator, error) {
	switch cfg.Provider {
	case "gemini", "":
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:         cfg.APIKey,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
		})
	case "openai":
		return NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{APIKey: cfg.APIKey, Model: cfg.EmbeddingModel, BaseURL: cfg.BaseURL}), nil
	case "ollama":
		model := cfg.EmbeddingModel
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: model}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}
