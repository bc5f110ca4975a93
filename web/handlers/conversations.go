package handlers

import (
	"net/http"

	"github.com/scrypster/memochat/internal/storage"
)

// ListConversations handles GET /conversations/{userId}?limit=&search=.
func (h *APIHandlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	query := storage.ConversationQuery{
		Limit:  parseInt(r.URL.Query().Get("limit"), storage.DefaultListLimit),
		Search: r.URL.Query().Get("search"),
	}

	records, err := h.store.ListConversations(r.Context(), userID, query)
	if err != nil {
		h.log.Error("failed to list conversations", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to retrieve conversations", err)
		return
	}

	respondJSON(w, http.StatusOK, ConversationsResponse{Conversations: records})
}

// ConversationStats handles GET /conversations/{userId}/stats.
func (h *APIHandlers) ConversationStats(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	stats, err := h.store.ConversationStats(r.Context(), userID)
	if err != nil {
		h.log.Error("failed to compute conversation stats", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to retrieve conversation stats", err)
		return
	}

	respondJSON(w, http.StatusOK, StatsResponse{Stats: stats})
}
