// Package sqlite provides the embedded, CGO-free SQLite implementation of
// the memochat storage interfaces (modernc.org/sqlite).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/memochat/internal/logger"
	"github.com/scrypster/memochat/internal/storage"
)

// timeLayout is RFC 3339 with a fixed nine-digit fraction, always written in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// MemoryStore implements storage.Store using SQLite.
type MemoryStore struct {
	db  *sql.DB
	log *logger.Logger
	now func() time.Time
}

// Compile-time assertion that MemoryStore satisfies storage.Store.
var _ storage.Store = (*MemoryStore)(nil)

// NewMemoryStore opens (or creates) the database at dsn and provisions the schema.
// Use ":memory:" for a throwaway in-process database.
//
// If the first open fails because a crashed process left stale -wal/-shm
// files behind, and no live process holds them, they are removed and the
// open is retried once.
func NewMemoryStore(dsn string, log *logger.Logger) (*MemoryStore, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "sqlite")

	store, err := openMemoryStore(dsn, log)
	if err == nil {
		return store, nil
	}

	dbPath := dbPathFromDSN(dsn)
	if !isRecoverableWALError(err) || dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}

	for _, suffix := range []string{"-shm", "-wal"} {
		if rmErr := os.Remove(dbPath + suffix); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn("failed to remove stale WAL file", "path", dbPath+suffix, "error", rmErr)
		}
	}

	store, retryErr := openMemoryStore(dsn, log)
	if retryErr != nil {
		return nil, fmt.Errorf("sqlite: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	log.Info("recovered from stale WAL files", "path", dbPath)
	return store, nil
}

// openMemoryStore opens a SQLite database, configures WAL mode, and creates the schema.
func openMemoryStore(dsn string, log *logger.Logger) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite allows one writer. A single connection serialises writes and
	// avoids SQLITE_BUSY under concurrent chat requests; it also keeps a
	// ":memory:" database alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s failed: %w", p, err)
		}
	}

	s := &MemoryStore{db: db, log: log, now: time.Now}
	if err := s.Init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Init provisions tables and indexes. Safe to call repeatedly.
func (s *MemoryStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("sqlite: failed to create schema: %w", err)
	}
	return nil
}

// Ping verifies the database connection is usable.
func (s *MemoryStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection.
func (s *MemoryStore) GetDB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *MemoryStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may carry plain RFC 3339.
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: bad timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// dbPathFromDSN extracts the filesystem path from a SQLite DSN.
// Handles bare paths and file: URIs. Returns "" for in-memory databases.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}

	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" {
			return ""
		}
		return path
	}

	return dsn
}

// isRecoverableWALError matches the errors stale WAL files produce.
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") || strings.Contains(msg, "database is locked")
}

// isWALStale reports whether -shm/-wal files exist for dbPath and no process
// holds them open. Without lsof it conservatively reports false.
func isWALStale(dbPath string) bool {
	shmPath, walPath := dbPath+"-shm", dbPath+"-wal"
	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}

	output, err := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath).Output()
	if err != nil {
		// lsof exits 1 when nothing has the files open.
		return true
	}
	return strings.TrimSpace(string(output)) == ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
