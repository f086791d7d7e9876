package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/scrypster/askdb/internal/config"
	"github.com/scrypster/askdb/internal/engine"
	"github.com/scrypster/askdb/internal/llm"
	"github.com/scrypster/askdb/internal/server"
	"github.com/scrypster/askdb/internal/session"
	"github.com/scrypster/askdb/internal/storage"
	"github.com/scrypster/askdb/internal/storage/postgres"
	"github.com/scrypster/askdb/internal/storage/sqlite"
	"github.com/scrypster/askdb/internal/warehouse"
	"github.com/scrypster/askdb/web/handlers"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Memory store
	var store storage.MemoryStore
	switch cfg.Memory.Engine {
	case "postgres":
		store, err = postgres.NewMemoryStore(cfg.Memory.PostgresDSN)
	case "sqlite", "":
		if err := os.MkdirAll(cfg.Memory.DataPath, 0o755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
		store, err = sqlite.NewMemoryStore(filepath.Join(cfg.Memory.DataPath, "askdb.db"))
	default:
		log.Fatalf("Unknown memory engine: %q", cfg.Memory.Engine)
	}
	if err != nil {
		log.Fatalf("Failed to initialize memory store: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// LLM providers
	llmCfg := llmConfig(cfg)
	generator, err := llm.NewTextGenerator(ctx, llmCfg)
	if err != nil {
		log.Fatalf("Failed to initialize LLM provider: %v", err)
	}
	embedder, err := llm.NewEmbeddingGenerator(ctx, llmCfg)
	if err != nil {
		log.Fatalf("Failed to initialize embedding provider: %v", err)
	}

	// Warehouse
	wh, err := warehouse.NewPostgres(cfg.Warehouse.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to warehouse: %v", err)
	}
	defer wh.Close()

	schema, err := warehouse.LoadSchemaDescription(cfg.Warehouse.SchemaPath)
	if err != nil {
		log.Fatalf("Failed to load warehouse schema description: %v", err)
	}

	buildPipeline := func(progress engine.ProgressFunc) *engine.Pipeline {
		assembler := engine.NewContextAssembler(store, embedder, engine.AssemblerConfig{
			TopKSession: cfg.Retrieval.TopKSession,
			TopKGlobal:  cfg.Retrieval.TopKGlobal,
			Threshold:   cfg.Retrieval.Threshold,
			MaxSnippets: cfg.Retrieval.MaxSnippets,
		})
		return engine.NewPipeline(
			session.NewManager(store),
			store,
			assembler,
			generator,
			embedder,
			wh,
			schema.Render(),
			engine.PipelineConfig{
				MaxAnalysisRows: cfg.Pipeline.MaxAnalysisRows,
				PreviewRows:     cfg.Pipeline.PreviewRows,
			},
			progress,
		)
	}

	var healthChecks []handlers.HealthChecker
	if hc, ok := generator.(handlers.HealthChecker); ok {
		healthChecks = append(healthChecks, hc)
	}

	addr, _ := server.Start(ctx, cfg, store, buildPipeline, healthChecks...)
	log.Printf("askdb running at http://%s (memory: %s, model: %s)", addr, cfg.Memory.Engine, generator.GetModel())

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}

// llmConfig maps the service configuration onto the provider factory config.
func llmConfig(cfg *config.Config) llm.Config {
	switch cfg.LLM.Provider {
	case "openai":
		return llm.Config{
			Provider:       "openai",
			APIKey:         cfg.LLM.OpenAIAPIKey,
			Model:          cfg.LLM.OpenAIModel,
			EmbeddingModel: cfg.LLM.EmbeddingModel,
		}
	case "ollama":
		return llm.Config{
			Provider:       "ollama",
			Model:          cfg.LLM.OllamaModel,
			EmbeddingModel: cfg.LLM.EmbeddingModel,
			BaseURL:        cfg.LLM.OllamaURL,
		}
	default:
		return llm.Config{
			Provider:       "gemini",
			APIKey:         cfg.LLM.GeminiAPIKey,
			Model:          cfg.LLM.GeminiModel,
			EmbeddingModel: cfg.LLM.EmbeddingModel,
		}
	}
}
