// Package handlers provides the HTTP handlers for the memochat relay.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/scrypster/memochat/internal/chat"
	"github.com/scrypster/memochat/internal/llm"
	"github.com/scrypster/memochat/internal/logger"
	"github.com/scrypster/memochat/internal/storage"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Backend is the inference backend as the HTTP surface sees it.
type Backend interface {
	llm.Backend
	PullModel(ctx context.Context, name string) error
}

// APIHandlers contains HTTP handlers for the REST API.
type APIHandlers struct {
	store    storage.Store
	backend  Backend
	pipeline *chat.Pipeline
	log      *logger.Logger
}

// NewAPIHandlers creates a new APIHandlers instance.
func NewAPIHandlers(store storage.Store, backend Backend, pipeline *chat.Pipeline, log *logger.Logger) *APIHandlers {
	if log == nil {
		log = logger.Nop()
	}
	return &APIHandlers{
		store:    store,
		backend:  backend,
		pipeline: pipeline,
		log:      log.With("component", "http"),
	}
}

// Health handles GET /health.
func (h *APIHandlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "healthy",
		Services: ServicesHealth{Backend: "up", Store: "up"},
		Model:    h.backend.GetModel(),
	}

	if status := h.backend.CheckStatus(r.Context()); !status.Reachable {
		resp.Services.Backend = "down"
		resp.Status = "degraded"
	}
	if err := h.store.Ping(r.Context()); err != nil {
		h.log.Warn("store ping failed", "error", err)
		resp.Services.Store = "down"
		resp.Status = "degraded"
	}

	respondJSON(w, http.StatusOK, resp)
}

// Init handles POST /init.
func (h *APIHandlers) Init(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Init(r.Context()); err != nil {
		h.log.Error("store init failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to initialize database", err)
		return
	}
	respondJSON(w, http.StatusOK, MessageResponse{Message: "Database initialized successfully"})
}

// decodeJSON reads a size-limited JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusForError maps pipeline and store errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, chat.ErrInvalidRequest), errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest
	case chat.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Headers are already sent, so an encode failure cannot be reported.
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}

// parseInt parses a string to int with a default value.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}
