package reloadhistory

// SQL schema constants for the reload observability tables. This store is
// monitoring-only: it never sits on the hot reload path, and records what
// already happened rather than gating it.

const schemaReloadEvents = `
CREATE TABLE IF NOT EXISTS reload_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id TEXT NOT NULL,
    module TEXT NOT NULL,
    generation INTEGER NOT NULL DEFAULT 0,
    started_at TEXT NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    segments_loaded INTEGER NOT NULL DEFAULT 0,
    segments_failed INTEGER NOT NULL DEFAULT 0,
    trigger TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_reload_events_module ON reload_events(module);
CREATE INDEX IF NOT EXISTS idx_reload_events_started ON reload_events(started_at);
`

const schemaSegmentFailures = `
CREATE TABLE IF NOT EXISTS segment_failures (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id TEXT NOT NULL,
    module TEXT NOT NULL,
    segment_id INTEGER NOT NULL,
    path TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_segment_failures_module ON segment_failures(module);
CREATE INDEX IF NOT EXISTS idx_segment_failures_timestamp ON segment_failures(timestamp);
`

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS migrations (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

var allSchemas = []string{
	schemaReloadEvents,
	schemaSegmentFailures,
	schemaMigrations,
}
