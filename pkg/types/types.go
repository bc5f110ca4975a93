// Package types defines the core data structures shared by the memochat relay:
// conversation records, per-user memory facts, and conversation statistics.
// These are the wire shapes returned by the HTTP API and the row shapes
// produced by every storage engine.
package types

import "time"

// ConversationStats summarises a user's stored conversation history.
type ConversationStats struct {
	TotalConversations int        `json:"totalConversations"`
	FirstConversation  *time.Time `json:"firstConversation"` // nil when the user has no history
	LastConversation   *time.Time `json:"lastConversation"`  // nil when the user has no history
}
