package chatpipeline

import (
	"database/sql"
	"fmt"
)

// migrate idempotently creates the chat database: sessions, messages,
// blocks (cascade-deleted with their message per spec.md I-M3), and a
// workspace_index mirror for UI discovery of workspace-hosted sessions,
// following the teacher's plain CREATE-TABLE-IF-NOT-EXISTS migration style
// (internal/workspace/schema.go).
func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_v2_sessions (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			persist_status TEXT NOT NULL,
			workspace_id TEXT,
			group_id TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON chat_v2_sessions(updated_at DESC)`,
		`CREATE TABLE IF NOT EXISTS chat_v2_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES chat_v2_sessions(id),
			role TEXT NOT NULL,
			block_ids_json TEXT NOT NULL DEFAULT '[]',
			timestamp INTEGER NOT NULL,
			meta_json TEXT,
			attachments_snapshot TEXT,
			context_snapshot TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON chat_v2_messages(session_id, timestamp ASC)`,
		`CREATE TABLE IF NOT EXISTS chat_v2_blocks (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES chat_v2_messages(id) ON DELETE CASCADE,
			block_type TEXT NOT NULL,
			status TEXT NOT NULL,
			block_index INTEGER NOT NULL,
			content TEXT,
			citations_json TEXT,
			tool_name TEXT,
			tool_input_json TEXT,
			tool_output_json TEXT,
			started_at INTEGER,
			ended_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_message ON chat_v2_blocks(message_id, block_index ASC)`,
		`CREATE TABLE IF NOT EXISTS workspace_index (
			workspace_id TEXT PRIMARY KEY,
			name TEXT,
			status TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("chatpipeline: migrate: %w", err)
		}
	}
	return nil
}
