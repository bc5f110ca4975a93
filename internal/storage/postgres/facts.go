package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/scrypster/memochat/internal/storage"
	"github.com/scrypster/memochat/pkg/types"
)

// UpsertFact inserts or replaces the fact keyed on (userID, key).
func (s *MemoryStore) UpsertFact(ctx context.Context, userID, key, value string) (*types.MemoryFact, error) {
	if err := storage.ValidateUserKey(userID, key); err != nil {
		return nil, err
	}

	fact := &types.MemoryFact{UserID: userID, Key: key, Value: value}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO memories (user_id, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`, userID, key, value).Scan(&fact.CreatedAt, &fact.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to upsert fact: %w", err)
	}
	fact.CreatedAt = fact.CreatedAt.UTC()
	fact.UpdatedAt = fact.UpdatedAt.UTC()
	return fact, nil
}

// GetFact returns a single fact or storage.ErrNotFound.
func (s *MemoryStore) GetFact(ctx context.Context, userID, key string) (*types.MemoryFact, error) {
	var fact types.MemoryFact
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, key, value, created_at, updated_at FROM memories WHERE user_id = $1 AND key = $2`,
		userID, key,
	).Scan(&fact.UserID, &fact.Key, &fact.Value, &fact.CreatedAt, &fact.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get fact: %w", err)
	}
	fact.CreatedAt = fact.CreatedAt.UTC()
	fact.UpdatedAt = fact.UpdatedAt.UTC()
	return &fact, nil
}

// AllFacts returns every fact stored for userID.
func (s *MemoryStore) AllFacts(ctx context.Context, userID string) ([]*types.MemoryFact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, key, value, created_at, updated_at FROM memories WHERE user_id = $1 ORDER BY key`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query facts: %w", err)
	}
	defer rows.Close()

	facts := []*types.MemoryFact{}
	for rows.Next() {
		var fact types.MemoryFact
		if err := rows.Scan(&fact.UserID, &fact.Key, &fact.Value, &fact.CreatedAt, &fact.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan fact: %w", err)
		}
		fact.CreatedAt = fact.CreatedAt.UTC()
		fact.UpdatedAt = fact.UpdatedAt.UTC()
		facts = append(facts, &fact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to iterate facts: %w", err)
	}
	return facts, nil
}

// DeleteFact removes a fact. Missing facts are not an error.
func (s *MemoryStore) DeleteFact(ctx context.Context, userID, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE user_id = $1 AND key = $2`, userID, key); err != nil {
		return fmt.Errorf("postgres: failed to delete fact: %w", err)
	}
	return nil
}
