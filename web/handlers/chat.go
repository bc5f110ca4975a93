package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/scrypster/memochat/internal/chat"
)

// ChatResponse is the non-streaming response for POST /chat.
type ChatResponse struct {
	Response       string    `json:"response"`
	ConversationID string    `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
}

// Chat handles POST /chat.
//
// With stream=false the reply is returned as one JSON object. With
// stream=true the reply is written as a text/plain body, flushed after
// every chunk. Request and availability errors are reported as JSON
// before the stream starts; once it has started, an interruption ends the
// body with chat.FallbackNotice.
func (h *APIHandlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Stream {
		h.streamChat(w, r, req)
		return
	}

	reply, err := h.pipeline.Chat(r.Context(), req)
	if err != nil {
		h.respondChatError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, ChatResponse{
		Response:       reply.Response,
		ConversationID: reply.ConversationID,
		Timestamp:      reply.Timestamp,
	})
}

func (h *APIHandlers) streamChat(w http.ResponseWriter, r *http.Request, req chat.Request) {
	events, err := h.pipeline.Stream(r.Context(), req)
	if err != nil {
		h.respondChatError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server-wide write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.log.Debug("could not clear write deadline", "error", err)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	for ev := range events {
		if ev.Err != nil || ev.Done {
			// Terminal events carry no text; the fallback notice, if any,
			// already arrived as a chunk.
			continue
		}
		if _, err := io.WriteString(w, ev.Chunk); err != nil {
			// Client went away. Returning cancels the request context,
			// which releases the backend stream.
			h.log.Debug("stream write failed", "user_id", req.UserID, "error", err)
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return
		}
	}
}

func (h *APIHandlers) respondChatError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	switch status {
	case http.StatusBadRequest:
		respondError(w, status, "Message and userId are required", err)
	case http.StatusServiceUnavailable:
		respondError(w, status, "Inference backend is not available", err)
	default:
		h.log.Error("chat failed", "error", err)
		respondError(w, status, "Failed to generate response", err)
	}
}
