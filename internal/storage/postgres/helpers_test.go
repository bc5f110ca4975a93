package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from both tables.
// It is defined in the postgres package so it can reach the unexported db
// field; the postgres_test package calls it between tests.
func (s *MemoryStore) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE conversations, memories RESTART IDENTITY")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate tables: %w", err)
	}
	return nil
}
