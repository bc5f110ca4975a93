package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/scrypster/memochat/internal/storage"
	"github.com/scrypster/memochat/pkg/types"
)

// UpsertFact inserts or replaces the fact keyed on (userID, key).
// The primary key on (user_id, key) is what guarantees one fact per pair.
func (s *MemoryStore) UpsertFact(ctx context.Context, userID, key, value string) (*types.MemoryFact, error) {
	if err := storage.ValidateUserKey(userID, key); err != nil {
		return nil, err
	}

	now := formatTime(s.now())
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO memories (user_id, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
		RETURNING created_at, updated_at
	`, userID, key, value, now, now).Scan(&createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to upsert fact: %w", err)
	}

	fact := &types.MemoryFact{UserID: userID, Key: key, Value: value}
	if fact.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if fact.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return fact, nil
}

// GetFact returns a single fact or storage.ErrNotFound.
func (s *MemoryStore) GetFact(ctx context.Context, userID, key string) (*types.MemoryFact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, key, value, created_at, updated_at FROM memories WHERE user_id = ? AND key = ?`,
		userID, key,
	)

	fact, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fact, nil
}

// AllFacts returns every fact stored for userID.
func (s *MemoryStore) AllFacts(ctx context.Context, userID string) ([]*types.MemoryFact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, key, value, created_at, updated_at FROM memories WHERE user_id = ? ORDER BY key`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query facts: %w", err)
	}
	defer rows.Close()

	facts := []*types.MemoryFact{}
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate facts: %w", err)
	}
	return facts, nil
}

// DeleteFact removes a fact. Missing facts are not an error.
func (s *MemoryStore) DeleteFact(ctx context.Context, userID, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE user_id = ? AND key = ?`, userID, key); err != nil {
		return fmt.Errorf("sqlite: failed to delete fact: %w", err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFact(r rowScanner) (*types.MemoryFact, error) {
	var (
		fact                 types.MemoryFact
		createdAt, updatedAt string
	)
	if err := r.Scan(&fact.UserID, &fact.Key, &fact.Value, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("sqlite: failed to scan fact: %w", err)
	}

	var err error
	if fact.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if fact.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &fact, nil
}
