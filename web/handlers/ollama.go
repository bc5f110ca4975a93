package handlers

import (
	"net/http"
)

// OllamaStatus handles GET /ollama/status. The probe itself never fails,
// so a down backend is reported in the body with status 200.
func (h *APIHandlers) OllamaStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.backend.CheckStatus(r.Context()))
}

// PullModel handles POST /ollama/pull.
func (h *APIHandlers) PullModel(w http.ResponseWriter, r *http.Request) {
	var req PullRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Model == "" {
		respondError(w, http.StatusBadRequest, "Model is required", nil)
		return
	}

	if err := h.backend.PullModel(r.Context(), req.Model); err != nil {
		h.log.Error("model pull failed", "model", req.Model, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to pull model", err)
		return
	}

	h.log.Info("model pulled", "model", req.Model)
	respondJSON(w, http.StatusOK, SuccessResponse{Success: true, Model: req.Model})
}
