package handlers

import (
	"errors"
	"net/http"

	"github.com/scrypster/memochat/internal/storage"
)

// ListMemories handles GET /memories/{userId}.
func (h *APIHandlers) ListMemories(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	facts, err := h.store.AllFacts(r.Context(), userID)
	if err != nil {
		h.log.Error("failed to list facts", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to retrieve memories", err)
		return
	}

	respondJSON(w, http.StatusOK, MemoriesResponse{Memories: facts})
}

// StoreMemory handles POST /memories/{userId}. Storing an existing key
// replaces its value.
func (h *APIHandlers) StoreMemory(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	var req MemoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Key == "" || req.Value == "" {
		respondError(w, http.StatusBadRequest, "Key and value are required", nil)
		return
	}

	fact, err := h.store.UpsertFact(r.Context(), userID, req.Key, req.Value)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, "Invalid memory", err)
			return
		}
		h.log.Error("failed to store fact", "user_id", userID, "key", req.Key, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to store memory", err)
		return
	}

	respondJSON(w, http.StatusOK, MemoryResponse{Memory: fact})
}

// GetMemory handles GET /memories/{userId}/{key}. A missing fact is not an
// error: the value is returned as null.
func (h *APIHandlers) GetMemory(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	key := r.PathValue("key")

	resp := FactValueResponse{Key: key}
	fact, err := h.store.GetFact(r.Context(), userID, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		h.log.Error("failed to get fact", "user_id", userID, "key", key, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to retrieve memory", err)
		return
	default:
		resp.Value = &fact.Value
	}

	respondJSON(w, http.StatusOK, resp)
}

// DeleteMemory handles DELETE /memories/{userId}/{key}.
func (h *APIHandlers) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	key := r.PathValue("key")

	if err := h.store.DeleteFact(r.Context(), userID, key); err != nil {
		h.log.Error("failed to delete fact", "user_id", userID, "key", key, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to delete memory", err)
		return
	}

	respondJSON(w, http.StatusOK, SuccessResponse{Success: true})
}
