// Package server wires the memochat HTTP surface: routes, middleware and
// the listen / graceful-shutdown lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/memochat/internal/chat"
	"github.com/scrypster/memochat/internal/config"
	"github.com/scrypster/memochat/internal/logger"
	"github.com/scrypster/memochat/internal/storage"
	"github.com/scrypster/memochat/web/handlers"
)

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// methods routes a path to one handler per HTTP method.
func methods(byMethod map[string]http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h, ok := byMethod[r.Method]; ok {
			h(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// NewHandler builds the complete HTTP handler for the relay.
func NewHandler(cfg *config.Config, store storage.Store, backend handlers.Backend, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.Nop()
	}

	pipeline := chat.NewPipeline(backend, store, store, chat.Config{
		Persona: cfg.Chat.Persona,
		Window:  cfg.Chat.HistoryWindow,
	}, log)

	api := handlers.NewAPIHandlers(store, backend, pipeline, log)
	socket := handlers.NewChatSocket(pipeline, cfg.Server.AllowedOrigins, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", methods(map[string]http.HandlerFunc{http.MethodGet: api.Health}))
	mux.HandleFunc("/init", methods(map[string]http.HandlerFunc{http.MethodPost: api.Init}))
	mux.HandleFunc("/chat", methods(map[string]http.HandlerFunc{http.MethodPost: api.Chat}))

	mux.HandleFunc("/memories/{userId}", methods(map[string]http.HandlerFunc{
		http.MethodGet:  api.ListMemories,
		http.MethodPost: api.StoreMemory,
	}))
	mux.HandleFunc("/memories/{userId}/{key}", methods(map[string]http.HandlerFunc{
		http.MethodGet:    api.GetMemory,
		http.MethodDelete: api.DeleteMemory,
	}))

	mux.HandleFunc("/conversations/{userId}", methods(map[string]http.HandlerFunc{http.MethodGet: api.ListConversations}))
	mux.HandleFunc("/conversations/{userId}/stats", methods(map[string]http.HandlerFunc{http.MethodGet: api.ConversationStats}))

	mux.HandleFunc("/ollama/status", methods(map[string]http.HandlerFunc{http.MethodGet: api.OllamaStatus}))
	mux.HandleFunc("/ollama/pull", methods(map[string]http.HandlerFunc{http.MethodPost: api.PullModel}))

	mux.Handle("/ws/chat", socket)

	handler := handlers.RequestLogger(mux, log)
	return securityHeadersMiddleware(handler)
}

// Start listens on cfg's address and serves until ctx is cancelled, then
// shuts down gracefully. It returns the actual listen address, which
// differs from the configured one when the port is 0.
func Start(ctx context.Context, cfg *config.Config, store storage.Store, backend handlers.Backend, log *logger.Logger) (string, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "server")

	addr := cfg.Addr()
	server := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(cfg, store, backend, log),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Streaming responses clear their own write deadline.
		WriteTimeout: cfg.LLM.Timeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("server: failed to listen on %s: %w", addr, err)
	}

	actualAddr := listener.Addr().String()
	log.Info("listening", "addr", actualAddr)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("server shutdown error", "error", err)
		}
		log.Info("server stopped")
	}()

	return actualAddr, nil
}
