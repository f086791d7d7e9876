// Package config provides configuration management for askdb.
// Settings load from environment variables with the ASKDB_ prefix, with
// sensible defaults for local development.
package config

import (
	"os"
	"strconv"
)

// Config holds all configuration settings for the askdb service.
type Config struct {
	Server    ServerConfig
	Memory    MemoryConfig
	Warehouse WarehouseConfig
	LLM       LLMConfig
	Retrieval RetrievalConfig
	Pipeline  PipelineConfig
	Security  SecurityConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 6380)
	Host string // Server host (default: 127.0.0.1)

	RateLimitRPS   float64 // Requests per second per client (default: 10)
	RateLimitBurst int     // Burst allowance (default: 20)
}

// MemoryConfig configures the conversational memory store.
type MemoryConfig struct {
	Engine      string // Storage engine: sqlite, postgres (default: sqlite)
	DataPath    string // SQLite data directory (default: ./data)
	PostgresDSN string // Postgres connection string when Engine is postgres
}

// WarehouseConfig configures the analytics database queries run against.
type WarehouseConfig struct {
	DSN        string // Postgres connection string (default: local olist_db)
	SchemaPath string // YAML schema description; empty uses the built-in olist schema
}

// LLMConfig contains LLM provider configuration.
type LLMConfig struct {
	Provider       string // gemini, openai, ollama (default: gemini)
	GeminiAPIKey   string
	GeminiModel    string // default: gemini-2.5-flash
	OpenAIAPIKey   string
	OpenAIModel    string // default: gpt-4o-mini
	OllamaURL      string // default: http://localhost:11434
	OllamaModel    string // default: qwen2.5:7b
	EmbeddingModel string // provider-specific default when empty
}

// RetrievalConfig bounds memory context retrieval.
type RetrievalConfig struct {
	TopKSession int     // Session-scope snippets to retrieve (default: 3)
	TopKGlobal  int     // Global-scope snippets to retrieve (default: 3)
	Threshold   float64 // Minimum cosine similarity (default: 0.3)
	MaxSnippets int     // Bound on merged context (default: 5)
}

// PipelineConfig bounds pipeline behavior.
type PipelineConfig struct {
	MaxAnalysisRows int // Result rows shown to the analysis model (default: 100)
	PreviewRows     int // Rows kept in the stored data preview (default: 5)
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	Mode     string // development or production (default: development)
	APIToken string // Bearer token; required in production mode
}

// LoadConfig loads configuration from ASKDB_-prefixed environment
// variables with defaults.
func LoadConfig() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port:           getEnvInt("ASKDB_PORT", 6380),
			Host:           getEnv("ASKDB_HOST", "127.0.0.1"),
			RateLimitRPS:   getEnvFloat("ASKDB_RATE_LIMIT_RPS", 10),
			RateLimitBurst: getEnvInt("ASKDB_RATE_LIMIT_BURST", 20),
		},
		Memory: MemoryConfig{
			Engine:      getEnv("ASKDB_MEMORY_ENGINE", "sqlite"),
			DataPath:    getEnv("ASKDB_DATA_PATH", "./data"),
			PostgresDSN: getEnv("ASKDB_MEMORY_POSTGRES_DSN", ""),
		},
		Warehouse: WarehouseConfig{
			DSN:        getEnv("ASKDB_WAREHOUSE_DSN", "postgres://localhost/olist_db?sslmode=disable"),
			SchemaPath: getEnv("ASKDB_WAREHOUSE_SCHEMA", ""),
		},
		LLM: LLMConfig{
			Provider:       getEnv("ASKDB_LLM_PROVIDER", "gemini"),
			GeminiAPIKey:   getEnv("ASKDB_GEMINI_API_KEY", os.Getenv("GEMINI_API_KEY")),
			GeminiModel:    getEnv("ASKDB_GEMINI_MODEL", "gemini-2.5-flash"),
			OpenAIAPIKey:   getEnv("ASKDB_OPENAI_API_KEY", ""),
			OpenAIModel:    getEnv("ASKDB_OPENAI_MODEL", "gpt-4o-mini"),
			OllamaURL:      getEnv("ASKDB_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:    getEnv("ASKDB_OLLAMA_MODEL", "qwen2.5:7b"),
			EmbeddingModel: getEnv("ASKDB_EMBEDDING_MODEL", ""),
		},
		Retrieval: RetrievalConfig{
			TopKSession: getEnvInt("ASKDB_RETRIEVAL_TOP_K_SESSION", 3),
			TopKGlobal:  getEnvInt("ASKDB_RETRIEVAL_TOP_K_GLOBAL", 3),
			Threshold:   getEnvFloat("ASKDB_RETRIEVAL_THRESHOLD", 0.3),
			MaxSnippets: getEnvInt("ASKDB_RETRIEVAL_MAX_SNIPPETS", 5),
		},
		Pipeline: PipelineConfig{
			MaxAnalysisRows: getEnvInt("ASKDB_MAX_ANALYSIS_ROWS", 100),
			PreviewRows:     getEnvInt("ASKDB_PREVIEW_ROWS", 5),
		},
		Security: SecurityConfig{
			Mode:     getEnv("ASKDB_SECURITY_MODE", "development"),
			APIToken: getEnv("ASKDB_API_TOKEN", ""),
		},
	}, nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value, also when the variable exists but does not parse.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value, also when the variable exists but does not parse.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
