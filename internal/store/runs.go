package store

import (
	"database/sql"
	"fmt"
	"time"
)

// LayerFingerprintRecord is one baked layer's outcome within a run: the
// published (magic-hashed) fingerprint submitted to the cache query, whether
// it hit, and the texture id that ended up baked (own upload or cache hit).
type LayerFingerprintRecord struct {
	Layer         int
	Fingerprint   string
	CacheHit      bool
	BakedTextureID string
}

// RunRecord is one appearance-pipeline run: never the bake bytes
// themselves, only hashes, serials, and timing: an operational audit
// trail, not a bake-content cache.
type RunRecord struct {
	ID            string
	AgentID       string
	SessionID     string
	Serial        uint32
	StartedAt     string
	FinishedAt    string
	DurationMs    int64
	ForceRebake   bool
	Partial       bool
	PendingLayers int
	ErrorMessage  string
	Layers        []LayerFingerprintRecord
}

// RunStats holds aggregate statistics for a range of runs.
type RunStats struct {
	TotalRuns       int64
	PartialRuns     int64
	TotalPendingSum int64
	AvgDurationMs   float64
}

// InsertRun stores a run record and its per-layer fingerprints in a single
// transaction. The caller is responsible for providing a unique ID
// (typically a UUID).
func (s *Store) InsertRun(r *RunRecord) error {
	forceRebakeInt, partialInt := 0, 0
	if r.ForceRebake {
		forceRebakeInt = 1
	}
	if r.Partial {
		partialInt = 1
	}

	tx, err := s.writer.Begin()
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO runs (
			id, agent_id, session_id, serial, started_at, finished_at,
			duration_ms, force_rebake, partial, pending_layers, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AgentID, r.SessionID, r.Serial, r.StartedAt, r.FinishedAt,
		r.DurationMs, forceRebakeInt, partialInt, r.PendingLayers, r.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}

	for _, layer := range r.Layers {
		cacheHitInt := 0
		if layer.CacheHit {
			cacheHitInt = 1
		}
		_, err = tx.Exec(`
			INSERT INTO layer_fingerprints (run_id, layer, fingerprint, cache_hit, baked_texture_id)
			VALUES (?, ?, ?, ?, ?)`,
			r.ID, layer.Layer, layer.Fingerprint, cacheHitInt, layer.BakedTextureID,
		)
		if err != nil {
			return fmt.Errorf("store: insert layer fingerprint: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: insert run commit: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID, including its per-layer
// fingerprint rows. Returns sql.ErrNoRows (wrapped) if the run does not
// exist.
func (s *Store) GetRun(id string) (*RunRecord, error) {
	r := &RunRecord{}
	var forceRebakeInt, partialInt int

	err := s.reader.QueryRow(`
		SELECT id, agent_id, session_id, serial, started_at, finished_at,
		       duration_ms, force_rebake, partial, pending_layers, error_message
		FROM runs WHERE id = ?`, id,
	).Scan(
		&r.ID, &r.AgentID, &r.SessionID, &r.Serial, &r.StartedAt, &r.FinishedAt,
		&r.DurationMs, &forceRebakeInt, &partialInt, &r.PendingLayers, &r.ErrorMessage,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get run %s: %w", id, err)
	}
	r.ForceRebake = forceRebakeInt != 0
	r.Partial = partialInt != 0

	rows, err := s.reader.Query(`
		SELECT layer, fingerprint, cache_hit, baked_texture_id
		FROM layer_fingerprints WHERE run_id = ?
		ORDER BY layer ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("store: get run %s layers: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var lf LayerFingerprintRecord
		var cacheHitInt int
		if err := rows.Scan(&lf.Layer, &lf.Fingerprint, &cacheHitInt, &lf.BakedTextureID); err != nil {
			return nil, fmt.Errorf("store: scan layer fingerprint row: %w", err)
		}
		lf.CacheHit = cacheHitInt != 0
		r.Layers = append(r.Layers, lf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: get run %s layers iteration: %w", id, err)
	}

	return r, nil
}

// ListRuns returns a page of runs for agentID ordered by serial descending.
// Layer fingerprint rows are not included; use GetRun for a single run's
// full detail.
func (s *Store) ListRuns(agentID string, limit, offset int) ([]*RunRecord, error) {
	rows, err := s.reader.Query(`
		SELECT id, agent_id, session_id, serial, started_at, finished_at,
		       duration_ms, force_rebake, partial, pending_layers, error_message
		FROM runs
		WHERE agent_id = ?
		ORDER BY serial DESC
		LIMIT ? OFFSET ?`, agentID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var results []*RunRecord
	for rows.Next() {
		r := &RunRecord{}
		var forceRebakeInt, partialInt int
		if err := rows.Scan(
			&r.ID, &r.AgentID, &r.SessionID, &r.Serial, &r.StartedAt, &r.FinishedAt,
			&r.DurationMs, &forceRebakeInt, &partialInt, &r.PendingLayers, &r.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("store: scan run row: %w", err)
		}
		r.ForceRebake = forceRebakeInt != 0
		r.Partial = partialInt != 0
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list runs iteration: %w", err)
	}
	return results, nil
}

// RunStats computes aggregate statistics for agentID's runs whose
// started_at is >= since.
func (s *Store) RunStats(agentID string, since time.Time) (*RunStats, error) {
	sinceStr := since.UTC().Format(time.RFC3339)
	stats := &RunStats{}

	err := s.reader.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN partial = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(pending_layers), 0),
			COALESCE(AVG(duration_ms), 0.0)
		FROM runs
		WHERE agent_id = ? AND started_at >= ?`, agentID, sinceStr,
	).Scan(
		&stats.TotalRuns,
		&stats.PartialRuns,
		&stats.TotalPendingSum,
		&stats.AvgDurationMs,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return stats, nil
		}
		return nil, fmt.Errorf("store: run stats: %w", err)
	}

	return stats, nil
}
