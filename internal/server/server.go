// Package server provides HTTP server initialization and lifecycle
// management for the askdb API.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/askdb/internal/config"
	"github.com/scrypster/askdb/internal/engine"
	"github.com/scrypster/askdb/internal/storage"
	"github.com/scrypster/askdb/web/handlers"
)

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start initializes and starts the HTTP server.
//
// buildPipeline constructs the query pipeline given a progress callback;
// the server wires the WebSocket hub in as that callback so every pipeline
// state transition is pushed to connected clients. An optional LLM health
// checker feeds the health endpoint's collaborator readiness. Returns the
// actual address being listened on (useful for testing with port 0) and
// the hub. The server shuts down gracefully when ctx is cancelled.
func Start(
	ctx context.Context,
	cfg *config.Config,
	store storage.MemoryStore,
	buildPipeline func(progress engine.ProgressFunc) *engine.Pipeline,
	llmHealth ...handlers.HealthChecker,
) (string, *handlers.WebSocketHub) {
	wsHub := handlers.NewWebSocketHub()
	go wsHub.Run()

	pipeline := buildPipeline(wsHub.PublishProgress)
	api := handlers.NewAPIHandlers(pipeline, store, cfg)
	if len(llmHealth) > 0 && llmHealth[0] != nil {
		api.SetLLMHealthChecker(llmHealth[0])
	}

	// API routes (require auth in production mode)
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/query", api.Query)
	apiMux.HandleFunc("POST /api/query/sql", api.RawSQL)
	apiMux.HandleFunc("GET /api/memory/sessions", api.ListSessions)
	apiMux.HandleFunc("GET /api/memory/sessions/{id}", api.GetSession)
	apiMux.HandleFunc("DELETE /api/memory/sessions/{id}", api.ResetSession)

	mux := http.NewServeMux()

	// Health endpoint — no auth required, used by monitoring
	mux.HandleFunc("GET /api/health", api.Health)

	// Wrap API routes with auth middleware
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// WebSocket endpoint (no auth required - origin validation handles security)
	mux.Handle("GET /api/events", wsHub)

	// Wrap entire server with rate limiting, then security headers
	rateLimiter := handlers.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	// Create server with security timeouts
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // LLM round trips are slow
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		wsHub.Stop()
	}()

	return actualAddr, wsHub
}
