package vfs

import "database/sql"

// migrate creates every VFS table if absent. It is intentionally idempotent
// and re-run on every Open — the VFS store does not carry its own
// migration-history table; schema evolution for this database is tracked by
// the data-governance schema registry (internal/governance), which treats
// "vfs" as one of its four tracked databases.
func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS resources (
			id            TEXT PRIMARY KEY,
			hash          TEXT NOT NULL UNIQUE,
			type          TEXT NOT NULL,
			source_id     TEXT,
			source_table  TEXT,
			storage_mode  TEXT NOT NULL,
			data          BLOB,
			external_hash TEXT,
			metadata_json TEXT,
			ref_count     INTEGER NOT NULL DEFAULT 0,
			ocr_text      TEXT,
			index_state   TEXT NOT NULL DEFAULT 'pending',
			created_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_resources_type ON resources(type)`,
		`CREATE INDEX IF NOT EXISTS idx_resources_source ON resources(source_table, source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_resources_refcount ON resources(ref_count, updated_at)`,

		`CREATE TABLE IF NOT EXISTS folders (
			id           TEXT PRIMARY KEY,
			parent_id    TEXT,
			name         TEXT NOT NULL,
			sort_order   INTEGER NOT NULL DEFAULT 0,
			subject_hint TEXT,
			deleted_at   INTEGER,
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders(parent_id)`,

		`CREATE TABLE IF NOT EXISTS folder_items (
			id         TEXT PRIMARY KEY,
			folder_id  TEXT NOT NULL,
			item_type  TEXT NOT NULL,
			item_id    TEXT NOT NULL,
			sort_order INTEGER NOT NULL DEFAULT 0,
			deleted_at INTEGER,
			created_at INTEGER NOT NULL,
			UNIQUE(folder_id, item_type, item_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_folder_items_folder ON folder_items(folder_id)`,
		`CREATE INDEX IF NOT EXISTS idx_folder_items_item ON folder_items(item_type, item_id)`,

		`CREATE TABLE IF NOT EXISTS notes (
			id          TEXT PRIMARY KEY,
			resource_id TEXT NOT NULL,
			title       TEXT NOT NULL,
			folder_id   TEXT,
			deleted_at  INTEGER,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS translations (
			id          TEXT PRIMARY KEY,
			resource_id TEXT NOT NULL,
			source_lang TEXT NOT NULL,
			target_lang TEXT NOT NULL,
			title       TEXT,
			folder_id   TEXT,
			deleted_at  INTEGER,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS essays (
			id             TEXT PRIMARY KEY,
			resource_id    TEXT NOT NULL,
			session_id     TEXT NOT NULL,
			round_number   INTEGER NOT NULL,
			topic          TEXT,
			essay_type     TEXT,
			grade_level    TEXT,
			overall_score  REAL,
			scores_json    TEXT,
			folder_id      TEXT,
			deleted_at     INTEGER,
			created_at     INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_essays_session ON essays(session_id)`,
		`CREATE TABLE IF NOT EXISTS mindmaps (
			id          TEXT PRIMARY KEY,
			resource_id TEXT NOT NULL,
			title       TEXT NOT NULL,
			folder_id   TEXT,
			deleted_at  INTEGER,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS exams (
			id          TEXT PRIMARY KEY,
			resource_id TEXT NOT NULL,
			title       TEXT NOT NULL,
			subject     TEXT,
			folder_id   TEXT,
			deleted_at  INTEGER,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			id          TEXT PRIMARY KEY,
			resource_id TEXT NOT NULL,
			filename    TEXT NOT NULL,
			mime_type   TEXT,
			size_bytes  INTEGER NOT NULL DEFAULT 0,
			folder_id   TEXT,
			deleted_at  INTEGER,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS images (
			id          TEXT PRIMARY KEY,
			resource_id TEXT NOT NULL,
			filename    TEXT NOT NULL,
			mime_type   TEXT,
			width       INTEGER NOT NULL DEFAULT 0,
			height      INTEGER NOT NULL DEFAULT 0,
			folder_id   TEXT,
			deleted_at  INTEGER,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
