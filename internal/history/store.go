// Package history persists completed fallback executions to SQLite. It
// backs the analytics surface and the strategy optimizer with durable
// per-execution and per-attempt records, pruned on a rolling retention
// window.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// DefaultRetentionDays is the rolling window kept in the archive.
const DefaultRetentionDays = 30

// pruneEvery bounds how often opportunistic pruning runs: once per this
// many inserts.
const pruneEvery = 256

// Store is a SQLite-backed execution archive. It uses a two-connection
// pattern: a single writer connection with MaxOpenConns=1 for serialised
// writes, and a separate reader pool for concurrent reads.
type Store struct {
	writer        *sql.DB
	reader        *sql.DB
	path          string
	retentionDays int
	insertCount   atomic.Uint64
	closeOnce     sync.Once
}

// StoreOption configures a Store at Open time.
type StoreOption func(*Store)

// WithRetentionDays overrides the rolling retention window.
func WithRetentionDays(days int) StoreOption {
	return func(s *Store) {
		if days > 0 {
			s.retentionDays = days
		}
	}
}

// Open creates a Store backed by the SQLite database at path. It creates
// the parent directory if needed, opens the writer connection (single-conn)
// and the reader pool, enables WAL mode, and runs all pending migrations.
func Open(path string, opts ...StoreOption) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("history: create directory %s: %w", dir, err)
	}

	// Writer connection: exactly one connection, serialises all writes.
	writerDSN := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	writer, err := sql.Open("sqlite", writerDSN)
	if err != nil {
		return nil, fmt.Errorf("history: open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)

	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("history: ping writer: %w", err)
	}

	// Reader pool: multiple connections for concurrent reads, query_only
	// enforced at the connection level.
	readerDSN := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=query_only(ON)"
	reader, err := sql.Open("sqlite", readerDSN)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("history: open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(4)
	reader.SetConnMaxLifetime(0)

	if err := reader.Ping(); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("history: ping reader: %w", err)
	}

	s := &Store{
		writer:        writer,
		reader:        reader,
		path:          path,
		retentionDays: DefaultRetentionDays,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}

	return s, nil
}

// Close closes both database connections. Safe to call multiple times.
func (s *Store) Close() error {
	var firstErr error
	s.closeOnce.Do(func() {
		if s.writer != nil {
			if err := s.writer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if s.reader != nil {
			if err := s.reader.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

// Path returns the filesystem path of the database.
func (s *Store) Path() string {
	return s.path
}

// Ping verifies that both connections are alive.
func (s *Store) Ping() error {
	if err := s.writer.Ping(); err != nil {
		return fmt.Errorf("history: writer ping: %w", err)
	}
	if err := s.reader.Ping(); err != nil {
		return fmt.Errorf("history: reader ping: %w", err)
	}
	return nil
}

// Prune removes executions and their attempts older than the retention
// window. It returns the number of executions deleted.
func (s *Store) Prune() (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays).Format(time.RFC3339)

	// Attempts first: no ON DELETE CASCADE so the delete order matters.
	if _, err := s.writer.Exec(
		"DELETE FROM attempts WHERE execution_id IN (SELECT id FROM executions WHERE started_at < ?)",
		cutoff,
	); err != nil {
		return 0, fmt.Errorf("history: prune attempts: %w", err)
	}

	result, err := s.writer.Exec("DELETE FROM executions WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("history: prune executions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: prune rows affected: %w", err)
	}
	return n, nil
}

// maybePrune runs Prune once per pruneEvery inserts.
func (s *Store) maybePrune() error {
	if s.insertCount.Add(1)%pruneEvery != 0 {
		return nil
	}
	_, err := s.Prune()
	return err
}
