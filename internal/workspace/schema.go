package workspace

import (
	"database/sql"
	"fmt"
)

// migrate idempotently creates every table a workspace's dedicated SQLite
// database needs: its own self-describing workspace row, the agent roster,
// the message log, the inbox assignment table, shared context, versioned
// documents, sleep requests, and subagent tasks.
func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workspace (
			id TEXT PRIMARY KEY,
			creator_session_id TEXT NOT NULL,
			status TEXT NOT NULL,
			name TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			workspace_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			status TEXT NOT NULL,
			skill_id TEXT,
			metadata_json TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (workspace_id, session_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			target_id TEXT,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_workspace ON messages(workspace_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS inbox_entries (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			processed INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_inbox_session ON inbox_entries(session_id, processed, priority DESC, created_at ASC)`,
		`CREATE TABLE IF NOT EXISTS context_kv (
			workspace_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (workspace_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			version INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_title ON documents(workspace_id, title, version DESC)`,
		`CREATE TABLE IF NOT EXISTS sleep_requests (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			wait_for_session_id TEXT,
			wait_for_status TEXT,
			created_at INTEGER NOT NULL,
			woken_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS subagent_tasks (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			status TEXT NOT NULL,
			payload TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("workspace: migrate: %w", err)
		}
	}
	return nil
}
