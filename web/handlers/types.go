package handlers

import (
	"github.com/scrypster/memochat/pkg/types"
)

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse is the response format for GET /health.
type HealthResponse struct {
	Status   string         `json:"status"`
	Services ServicesHealth `json:"services"`
	Model    string         `json:"model"`
}

// ServicesHealth reports each dependency as "up" or "down".
type ServicesHealth struct {
	Backend string `json:"backend"`
	Store   string `json:"store"`
}

// MessageResponse carries a human-readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// SuccessResponse is returned by operations with no other result.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Model   string `json:"model,omitempty"`
}

// MemoryRequest is the request body for POST /memories/{userId}.
type MemoryRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// MemoryResponse wraps a single stored fact.
type MemoryResponse struct {
	Memory *types.MemoryFact `json:"memory"`
}

// MemoriesResponse lists a user's facts.
type MemoriesResponse struct {
	Memories []*types.MemoryFact `json:"memories"`
}

// FactValueResponse is the response for GET /memories/{userId}/{key}.
// Value is null when the fact does not exist.
type FactValueResponse struct {
	Key   string  `json:"key"`
	Value *string `json:"value"`
}

// ConversationsResponse lists conversation records.
type ConversationsResponse struct {
	Conversations []*types.ConversationRecord `json:"conversations"`
}

// StatsResponse wraps conversation statistics.
type StatsResponse struct {
	Stats *types.ConversationStats `json:"stats"`
}

// PullRequest is the request body for POST /ollama/pull.
type PullRequest struct {
	Model string `json:"model"`
}

// SocketMessage is a client frame on /ws/chat.
type SocketMessage struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

// SocketEvent is a server frame on /ws/chat.
type SocketEvent struct {
	Type           string `json:"type"` // chunk, done or error
	Content        string `json:"content,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Error          string `json:"error,omitempty"`
}
