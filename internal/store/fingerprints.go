package store

import (
	"fmt"
	"time"
)

// Fingerprint is a globally-remembered bake-layer fingerprint: when it
// was first and last submitted to a cache query and how many times it
// has been seen again after its first sighting. Distinct from layer_fingerprints, which is
// scoped to a single run.
type Fingerprint struct {
	Hash      string
	Layer     int
	FirstSeen string
	LastSeen  string
	HitCount  int64
}

// fingerprintColumns is the shared SELECT list for scanFingerprint.
const fingerprintColumns = "hash, layer, first_seen, last_seen, hit_count"

// scanFingerprint reads one row produced with fingerprintColumns.
func scanFingerprint(row interface{ Scan(...any) error }) (*Fingerprint, error) {
	f := &Fingerprint{}
	if err := row.Scan(&f.Hash, &f.Layer, &f.FirstSeen, &f.LastSeen, &f.HitCount); err != nil {
		return nil, err
	}
	return f, nil
}

// UpsertFingerprint records one more sighting of a fingerprint: inserted
// fresh on first sight, otherwise its hit_count grows and last_seen
// advances.
func (s *Store) UpsertFingerprint(f *Fingerprint) error {
	now := time.Now().UTC().Format(time.RFC3339)
	firstSeen, lastSeen := f.FirstSeen, f.LastSeen
	if firstSeen == "" {
		firstSeen = now
	}
	if lastSeen == "" {
		lastSeen = now
	}

	const q = `
		INSERT INTO fingerprints (hash, layer, first_seen, last_seen, hit_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			last_seen = excluded.last_seen,
			hit_count = fingerprints.hit_count + 1`
	if _, err := s.writer.Exec(q, f.Hash, f.Layer, firstSeen, lastSeen, f.HitCount); err != nil {
		return fmt.Errorf("store: upsert fingerprint: %w", err)
	}
	return nil
}

// GetFingerprint looks a fingerprint up by hash, wrapping
// sql.ErrNoRows when absent.
func (s *Store) GetFingerprint(hash string) (*Fingerprint, error) {
	row := s.reader.QueryRow("SELECT "+fingerprintColumns+" FROM fingerprints WHERE hash = ?", hash)
	f, err := scanFingerprint(row)
	if err != nil {
		return nil, fmt.Errorf("store: get fingerprint %s: %w", hash, err)
	}
	return f, nil
}

// ListFingerprints returns every known fingerprint, most-seen first.
func (s *Store) ListFingerprints() ([]*Fingerprint, error) {
	rows, err := s.reader.Query("SELECT " + fingerprintColumns + " FROM fingerprints ORDER BY hit_count DESC")
	if err != nil {
		return nil, fmt.Errorf("store: list fingerprints: %w", err)
	}
	defer rows.Close()

	var results []*Fingerprint
	for rows.Next() {
		f, scanErr := scanFingerprint(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("store: scan fingerprint row: %w", scanErr)
		}
		results = append(results, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list fingerprints: %w", err)
	}
	return results, nil
}
