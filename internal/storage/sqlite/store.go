// Package sqlite implements the event-tracker store on SQLite. The
// database runs in WAL mode so readers coexist with the single writer at
// the storage layer; a domain-level mutex still serializes logical
// operations.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"
)

// Store is the SQLite-backed event tracker.
type Store struct {
	mu  sync.RWMutex
	db  *sql.DB
	log *zap.Logger
}

// Open creates or opens the tracker database at path. The special path
// ":memory:" opens a private in-memory database for tests.
func Open(ctx context.Context, path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var connStr string
	if path == ":memory:" {
		// WAL does not apply to in-memory databases.
		connStr = "file:eventtracker?mode=memory&cache=shared&_pragma=busy_timeout(30000)"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		connStr = "file:" + path +
			"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open tracker database: %w", err)
	}

	s := &Store{db: db, log: log}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply tracker schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// isUniqueConstraintError reports whether err is a primary-key or unique
// index violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed")
}
