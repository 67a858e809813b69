package store

// SQL schema constants for the avatar-pipeline audit log.

const schemaRuns = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    serial INTEGER NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    force_rebake INTEGER NOT NULL DEFAULT 0,
    partial INTEGER NOT NULL DEFAULT 0,
    pending_layers INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_agent ON runs(agent_id);
CREATE INDEX IF NOT EXISTS idx_runs_serial ON runs(agent_id, serial);
`

const schemaLayerFingerprints = `
CREATE TABLE IF NOT EXISTS layer_fingerprints (
    run_id TEXT NOT NULL REFERENCES runs(id),
    layer INTEGER NOT NULL,
    fingerprint TEXT NOT NULL,
    cache_hit INTEGER NOT NULL DEFAULT 0,
    baked_texture_id TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, layer)
);
`

const schemaFingerprints = `
CREATE TABLE IF NOT EXISTS fingerprints (
    hash TEXT PRIMARY KEY,
    layer INTEGER NOT NULL,
    first_seen TEXT NOT NULL,
    last_seen TEXT NOT NULL,
    hit_count INTEGER NOT NULL DEFAULT 1
);
`

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS migrations (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// allSchemas is the ordered list of schema DDL statements that form
// the initial (version-1) database layout.
var allSchemas = []string{
	schemaRuns,
	schemaLayerFingerprints,
	schemaFingerprints,
	schemaMigrations,
}
