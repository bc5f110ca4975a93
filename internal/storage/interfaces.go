// Package storage provides the storage interfaces for memochat's memory:
// chronological conversation records and per-user key/value facts.
//
// Interfaces are small and composable so a caller can depend on exactly
// the slice of the store it uses. Every operation is independent and
// atomic at the single-row level; no cross-call transactions are needed.
package storage

import (
	"context"

	"github.com/scrypster/memochat/pkg/types"
)

// ConversationStore records completed exchanges and reads them back.
type ConversationStore interface {
	// AppendConversation stores a new record and returns it with ID and
	// CreatedAt filled in. Records are never updated afterwards.
	AppendConversation(ctx context.Context, userID, message, response string, metadata map[string]interface{}) (*types.ConversationRecord, error)

	// RecentConversations returns up to limit records for userID,
	// most recent first. Returns an empty slice (not an error) when none exist.
	RecentConversations(ctx context.Context, userID string, limit int) ([]*types.ConversationRecord, error)

	// ListConversations returns records for userID, most recent first,
	// filtered and capped by opts.
	ListConversations(ctx context.Context, userID string, opts ConversationQuery) ([]*types.ConversationRecord, error)

	// ConversationStats summarises a user's history.
	ConversationStats(ctx context.Context, userID string) (*types.ConversationStats, error)
}

// FactStore manages per-user key/value facts. At most one fact exists per
// (userID, key); the store enforces this itself.
type FactStore interface {
	// UpsertFact inserts or replaces the fact for (userID, key). On replace
	// the value and UpdatedAt change; CreatedAt is preserved.
	UpsertFact(ctx context.Context, userID, key, value string) (*types.MemoryFact, error)

	// GetFact returns the fact for (userID, key).
	// Returns ErrNotFound if no such fact exists.
	GetFact(ctx context.Context, userID, key string) (*types.MemoryFact, error)

	// AllFacts returns every fact for userID in no particular order.
	AllFacts(ctx context.Context, userID string) ([]*types.MemoryFact, error)

	// DeleteFact removes the fact for (userID, key). Deleting a fact that
	// does not exist is not an error.
	DeleteFact(ctx context.Context, userID, key string) error
}

// Store is a complete memory backend.
type Store interface {
	ConversationStore
	FactStore

	// Init provisions tables and indexes. It is idempotent.
	Init(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
