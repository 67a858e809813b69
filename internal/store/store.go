// Package store persists the appearance pipeline's audit trail in
// SQLite: one row per run plus its per-layer fingerprints, and a global
// fingerprint hit table. Only hashes, serials, and timings are stored,
// never texture or bake bytes.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Store is the SQLite-backed run audit log. Writes go through a single
// dedicated connection so they serialise; reads come from a small
// read-only pool that can run concurrently under WAL.
type Store struct {
	writer    *sql.DB
	reader    *sql.DB
	path      string
	closeOnce sync.Once
}

// readerPoolSize bounds the concurrent read connections.
const readerPoolSize = 4

// basePragmas apply to every connection.
var basePragmas = []string{"busy_timeout(5000)", "journal_mode(WAL)", "foreign_keys(ON)"}

// openConn opens one sql.DB against path with the shared pragmas, an
// optional query_only pragma, and the given pool size.
func openConn(path string, readOnly bool, poolSize int) (*sql.DB, error) {
	pragmas := basePragmas
	if readOnly {
		pragmas = append(append([]string(nil), basePragmas...), "query_only(ON)")
	}
	dsn := path + "?_pragma=" + strings.Join(pragmas, "&_pragma=")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Open creates a Store at path, creating the parent directory if needed,
// and brings the schema up to date.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("store: create directory %s: %w", filepath.Dir(path), err)
	}

	writer, err := openConn(path, false, 1)
	if err != nil {
		return nil, fmt.Errorf("store: open writer: %w", err)
	}
	reader, err := openConn(path, true, readerPoolSize)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("store: open reader: %w", err)
	}

	s := &Store{writer: writer, reader: reader, path: path}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes both connections. Safe to call more than once.
func (s *Store) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		closeErr = errors.Join(s.writer.Close(), s.reader.Close())
	})
	return closeErr
}

// Writer returns the serialised write handle. Prefer the typed methods
// on Store for regular operations.
func (s *Store) Writer() *sql.DB {
	return s.writer
}

// Reader returns the read-only pool handle.
func (s *Store) Reader() *sql.DB {
	return s.reader
}

// Path returns the filesystem path of the database.
func (s *Store) Path() string {
	return s.path
}

// Ping verifies both connections are alive.
func (s *Store) Ping() error {
	if err := s.writer.Ping(); err != nil {
		return fmt.Errorf("store: writer ping: %w", err)
	}
	if err := s.reader.Ping(); err != nil {
		return fmt.Errorf("store: reader ping: %w", err)
	}
	return nil
}

// Prune deletes run rows (and their layer fingerprints) older than
// retentionDays, returning how many runs were removed.
func (s *Store) Prune(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339)

	tx, err := s.writer.Begin()
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(
		"DELETE FROM layer_fingerprints WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)",
		cutoff,
	); err != nil {
		return 0, fmt.Errorf("store: prune layer fingerprints: %w", err)
	}
	res, err := tx.Exec("DELETE FROM runs WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune runs: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: prune rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: prune commit: %w", err)
	}
	return removed, nil
}
