package storage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

const (
	// DefaultListLimit is used when a listing asks for no specific size.
	DefaultListLimit = 10

	// MaxListLimit caps any listing.
	MaxListLimit = 100
)

// ConversationQuery filters a conversation listing.
type ConversationQuery struct {
	// Limit is the number of records to return (default: 10, max: 100).
	Limit int

	// Search keeps only records whose message or response contains this
	// text, case-insensitively. Empty means no filter.
	Search string
}

// Normalize applies defaults and caps.
func (q *ConversationQuery) Normalize() {
	if q.Limit < 1 {
		q.Limit = DefaultListLimit
	}
	if q.Limit > MaxListLimit {
		q.Limit = MaxListLimit
	}
	q.Search = strings.TrimSpace(q.Search)
}

// LikePattern returns Search as a SQL LIKE pattern with wildcards escaped
// using backslash. Callers must add ESCAPE '\' to the predicate.
func (q *ConversationQuery) LikePattern() string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + strings.ToLower(r.Replace(q.Search)) + "%"
}

// ValidateUserKey checks the identifiers every fact operation needs.
func ValidateUserKey(userID, key string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidInput)
	}
	return nil
}

// ValidateUser checks a user identifier.
func ValidateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return nil
}
