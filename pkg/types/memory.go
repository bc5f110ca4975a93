package types

import "time"

// MemoryFact is a durable key/value fact remembered about a user.
// At most one fact exists per (UserID, Key); writes replace Value and bump UpdatedAt.
type MemoryFact struct {
	UserID    string    `json:"userId"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
