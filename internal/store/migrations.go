package store

import (
	"database/sql"
	"fmt"
	"time"
)

// migrations is the ordered schema history. Each entry runs inside its
// own transaction and is recorded in the migrations table; entry N is
// schema version N+1. Append new steps, never reorder or edit old ones.
var migrations = []func(tx *sql.Tx) error{
	// v1: the initial audit-log layout (runs, layer_fingerprints,
	// fingerprints).
	func(tx *sql.Tx) error {
		for _, ddl := range allSchemas {
			if _, err := tx.Exec(ddl); err != nil {
				return fmt.Errorf("exec schema: %w", err)
			}
		}
		return nil
	},
}

// Migrate brings the database up to the latest schema version, applying
// any steps beyond the recorded version in order.
func (s *Store) Migrate() error {
	if _, err := s.writer.Exec(schemaMigrations); err != nil {
		return fmt.Errorf("store: create migrations table: %w", err)
	}

	var current int
	if err := s.writer.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&current); err != nil {
		return fmt.Errorf("store: read migration version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		if err := s.runStep(version, migrations[i]); err != nil {
			return fmt.Errorf("store: migration v%d: %w", version, err)
		}
	}
	return nil
}

// runStep applies one migration step transactionally and records it.
func (s *Store) runStep(version int, step func(tx *sql.Tx) error) error {
	tx, err := s.writer.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if err := step(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO migrations (version, applied_at) VALUES (?, ?)",
		version, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}
	return tx.Commit()
}
