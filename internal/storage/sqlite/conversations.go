package sqlite

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

// AppendConversation stores a new conversation record.
func (s *MemoryStore) AppendConversation(ctx context.Context, userID, message, response string, metadata map[string]interface{}) (*types.ConversationRecord, error) {
	if err := storage.ValidateUser(userID); err != nil {
		return nil, err
	}

	var metadataJSON sql.NullString
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to marshal metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(data), Valid: true}
	}

	rec := &types.ConversationRecord{
		ID:        uuid.New().String(),
		UserID:    userID,
		Message:   message,
		Response:  response,
		CreatedAt: s.now().UTC(),
		Metadata:  metadata,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Message, rec.Response, metadataJSON, formatTime(rec.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to append conversation: %w", err)
	}

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

	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE user_id = ?`
	args := []interface{}{userID}

	if opts.Search != "" {
		query += ` AND (lower(message) LIKE ? ESCAPE '\' OR lower(response) LIKE ? ESCAPE '\')`
		pattern := opts.LikePattern()
		args = append(args, pattern, pattern)
	}

	// rowid breaks ties between records written within the same instant.
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query conversations: %w", err)
	}
	defer rows.Close()

	records := make([]*types.ConversationRecord, 0, opts.Limit)
	for rows.Next() {
		rec, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate conversations: %w", err)
	}

	return records, nil
}

// ConversationStats counts a user's records and finds the first and last timestamps.
func (s *MemoryStore) ConversationStats(ctx context.Context, userID string) (*types.ConversationStats, error) {
	var (
		total       int
		first, last sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at), MAX(created_at) FROM conversations WHERE user_id = ?`,
		userID,
	).Scan(&total, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to compute conversation stats: %w", err)
	}

	stats := &types.ConversationStats{TotalConversations: total}
	if first.Valid {
		t, err := parseTime(first.String)
		if err != nil {
			return nil, err
		}
		stats.FirstConversation = &t
	}
	if last.Valid {
		t, err := parseTime(last.String)
		if err != nil {
			return nil, err
		}
		stats.LastConversation = &t
	}
	return stats, nil
}

// scanConversation reads one row selected with conversationColumns.
func scanConversation(rows *sql.Rows) (*types.ConversationRecord, error) {
	var (
		rec          types.ConversationRecord
		metadataJSON sql.NullString
		createdAt    string
	)
	if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Message, &rec.Response, &metadataJSON, &createdAt); err != nil {
		return nil, fmt.Errorf("sqlite: failed to scan conversation: %w", err)
	}

	t, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = t

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("sqlite: failed to unmarshal metadata for %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}
