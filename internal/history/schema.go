package history

// SQL schema constants for the execution archive.

const schemaExecutions = `
CREATE TABLE IF NOT EXISTS executions (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL DEFAULT '',
    original_provider TEXT NOT NULL DEFAULT '',
    failure_reason TEXT NOT NULL DEFAULT '',
    success INTEGER NOT NULL DEFAULT 0,
    cancelled INTEGER NOT NULL DEFAULT 0,
    winning_provider TEXT NOT NULL DEFAULT '',
    fallback_level INTEGER NOT NULL DEFAULT 0,
    quality_score REAL NOT NULL DEFAULT 0.0,
    cost_usd REAL NOT NULL DEFAULT 0.0,
    total_latency_ms INTEGER NOT NULL DEFAULT 0,
    content TEXT NOT NULL DEFAULT '',
    tokens_in INTEGER NOT NULL DEFAULT 0,
    tokens_out INTEGER NOT NULL DEFAULT 0,
    started_at TEXT NOT NULL,
    completed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_started ON executions(started_at);
CREATE INDEX IF NOT EXISTS idx_executions_winner ON executions(winning_provider);
CREATE INDEX IF NOT EXISTS idx_executions_session ON executions(session_id);
`

const schemaAttempts = `
CREATE TABLE IF NOT EXISTS attempts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    execution_id TEXT NOT NULL,
    ordinal INTEGER NOT NULL,
    tier INTEGER NOT NULL,
    provider TEXT NOT NULL,
    outcome TEXT NOT NULL,
    latency_ms INTEGER NOT NULL DEFAULT 0,
    quality_score REAL NOT NULL DEFAULT -1.0,
    error TEXT NOT NULL DEFAULT '',
    timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_execution ON attempts(execution_id);
CREATE INDEX IF NOT EXISTS idx_attempts_provider ON attempts(provider);
CREATE INDEX IF NOT EXISTS idx_attempts_timestamp ON attempts(timestamp);
`

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS migrations (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// allSchemas is the ordered list of DDL statements forming the initial
// (version-1) database layout.
var allSchemas = []string{
	schemaExecutions,
	schemaAttempts,
	schemaMigrations,
}
