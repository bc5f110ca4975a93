package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/scrypster/memochat/internal/storage"
	"github.com/scrypster/memochat/pkg/types"
)

const conversationColumns = `id, user_id, message, response, metadata, created_at`

// AppendConversation stores a new conversation record. created_at comes
// from the database clock.
func (s *MemoryStore) AppendConversation(ctx context.Context, userID, message, response string, metadata map[string]interface{}) (*types.ConversationRecord, error) {
	if err := storage.ValidateUser(userID); err != nil {
		return nil, err
	}

	var metadataJSON []byte
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to marshal metadata: %w", err)
		}
		metadataJSON = data
	}

	rec := &types.ConversationRecord{
		ID:       uuid.New().String(),
		UserID:   userID,
		Message:  message,
		Response: response,
		Metadata: metadata,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO conversations (id, user_id, message, response, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, rec.ID, rec.UserID, rec.Message, rec.Response, metadataJSON).Scan(&rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to append conversation: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	return rec, nil
}

// RecentConversations returns up to limit records, most recent first.
func (s *MemoryStore) RecentConversations(ctx context.Context, userID string, limit int) ([]*types.ConversationRecord, error) {
	return s.ListConversations(ctx, userID, storage.ConversationQuery{Limit: limit})
}

// ListConversations returns records most recent first, optionally filtered
// by a case-insensitive substring of message or response.
func (s *MemoryStore) ListConversations(ctx context.Context, userID string, opts storage.ConversationQuery) ([]*types.ConversationRecord, error) {
	opts.Normalize()

	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE user_id = $1`
	args := []interface{}{userID}

	if opts.Search != "" {
		args = append(args, opts.LikePattern())
		query += fmt.Sprintf(` AND (message ILIKE $%d ESCAPE '\' OR response ILIKE $%d ESCAPE '\')`, len(args), len(args))
	}

	args = append(args, opts.Limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, seq DESC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query conversations: %w", err)
	}
	defer rows.Close()

	records := make([]*types.ConversationRecord, 0, opts.Limit)
	for rows.Next() {
		var (
			rec          types.ConversationRecord
			metadataJSON []byte
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Message, &rec.Response, &metadataJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan conversation: %w", err)
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: failed to unmarshal metadata for %s: %w", rec.ID, err)
			}
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to iterate conversations: %w", err)
	}

	return records, nil
}

// ConversationStats counts a user's records and finds the first and last timestamps.
func (s *MemoryStore) ConversationStats(ctx context.Context, userID string) (*types.ConversationStats, error) {
	var (
		total       int
		first, last sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at), MAX(created_at) FROM conversations WHERE user_id = $1`,
		userID,
	).Scan(&total, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to compute conversation stats: %w", err)
	}

	stats := &types.ConversationStats{TotalConversations: total}
	if first.Valid {
		t := first.Time.UTC()
		stats.FirstConversation = &t
	}
	if last.Valid {
		t := last.Time.UTC()
		stats.LastConversation = &t
	}
	return stats, nil
}
