package types

import "time"

// ConversationRecord is one completed user/assistant exchange.
// Records are immutable: every exchange produces a new record, and records
// are never updated or merged after creation.
type ConversationRecord struct {
	ID        string                 `json:"id"`                 // Opaque identifier (uuid)
	UserID    string                 `json:"userId"`             // Owning user identifier
	Message   string                 `json:"message"`            // What the user said
	Response  string                 `json:"response"`           // What the model answered
	CreatedAt time.Time              `json:"createdAt"`          // When the exchange was recorded
	Metadata  map[string]interface{} `json:"metadata,omitempty"` // Free-form metadata (model, streamed, ...)
}
