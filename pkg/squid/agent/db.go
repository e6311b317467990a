// Package agent – db.go provides the central SQLite database for Squid.
// A single squid.db file holds conversation messages, the thinking-step
// ledger, runtime permission rules, and the audit log.
package agent

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
-- Conversation messages (one row per user or assistant message).
-- The reasoning and tool_calls columns are the legacy flat fields kept for
-- messages written before the thinking_steps ledger existed; readers fall
-- back to them when a message has no step rows.
CREATE TABLE IF NOT EXISTS messages (
    id         TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL DEFAULT '',
    reasoning  TEXT NOT NULL DEFAULT '',
    tool_calls TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_sid ON messages(session_id);

-- Thinking-step ledger (append-only; ordering is the defining invariant).
CREATE TABLE IF NOT EXISTS thinking_steps (
    message_id     TEXT NOT NULL,
    step_order     INTEGER NOT NULL,
    step_type      TEXT NOT NULL,
    content        TEXT NOT NULL DEFAULT '',
    tool_name      TEXT NOT NULL DEFAULT '',
    tool_arguments TEXT NOT NULL DEFAULT '',
    tool_result    TEXT NOT NULL DEFAULT '',
    tool_error     TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (message_id, step_order)
);

-- Permission rules persisted at runtime ("always allow/deny" choices).
CREATE TABLE IF NOT EXISTS permission_rules (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    scope      TEXT NOT NULL,
    effect     TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_permission_rules_sid ON permission_rules(session_id);

-- Policy decision and tool execution audit log.
CREATE TABLE IF NOT EXISTS audit_log (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id     TEXT NOT NULL DEFAULT '',
    tool           TEXT NOT NULL,
    decision       TEXT NOT NULL DEFAULT '',
    allowed        INTEGER NOT NULL,
    args_summary   TEXT NOT NULL DEFAULT '',
    result_summary TEXT NOT NULL DEFAULT '',
    created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at);
`

// OpenDatabase opens (or creates) squid.db at the given path, enables WAL
// mode for concurrent read performance, and applies the schema.
func OpenDatabase(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
