// Package vfs implements the content-addressed, reference-counted virtual
// file system: a resources table shared by every artifact type (notes,
// translations, essays, mindmaps, exams, files, images), a folder hierarchy
// that organises them, and per-type view tables that hold type-specific
// metadata while the resource row remains the single source of truth for
// content.
package vfs

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "modernc.org/sqlite" // pure-Go driver, no cgo

	"github.com/haasonsaas/nexus-study/internal/observability"
)

// Store is the top-level handle on one VFS-backed SQLite database. It owns
// the resources table, the folder hierarchy, and exposes a repo for each
// artifact type. Callers obtain one Store per data directory and share it;
// Store itself is safe for concurrent use, matching the single-pool-per-
// database policy the rest of the core assumes.
type Store struct {
	db     *sql.DB
	logger *observability.Logger

	Resources    *ResourceStore
	Folders      *FolderStore
	Notes        *NoteRepo
	Translations *TranslationRepo
	Essays       *EssayRepo
	Mindmaps     *MindmapRepo
	Exams        *ExamRepo
	Files        *FileRepo
	Images       *ImageRepo
}

// Open opens (creating if absent) the SQLite database at path, applies the
// VFS schema, and wires every per-type repo against it. Pass ":memory:" for
// an ephemeral store, as internal/memory/backend/sqlitevec does for tests.
func Open(path string, logger *observability.Logger) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vfs: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // writes serialize via BEGIN IMMEDIATE; one pooled conn keeps that true
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("vfs: set pragmas: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("vfs: migrate: %w", err)
	}
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Level: "info", Format: "text"})
	}

	resources := &ResourceStore{db: db, goqu: goqu.New("sqlite3", db)}
	folders := &FolderStore{db: db}

	s := &Store{
		db:           db,
		logger:       logger,
		Resources:    resources,
		Folders:      folders,
		Notes:        &NoteRepo{vt: viewTable{db: db, table: "notes", itemType: "note"}, resources: resources, folders: folders},
		Translations: &TranslationRepo{vt: viewTable{db: db, table: "translations", itemType: "translation"}, resources: resources, folders: folders},
		Essays:       &EssayRepo{vt: viewTable{db: db, table: "essays", itemType: "essay"}, resources: resources, folders: folders},
		Mindmaps:     &MindmapRepo{vt: viewTable{db: db, table: "mindmaps", itemType: "mindmap"}, resources: resources, folders: folders},
		Exams:        &ExamRepo{vt: viewTable{db: db, table: "exams", itemType: "exam"}, resources: resources, folders: folders},
		Files:        &FileRepo{vt: viewTable{db: db, table: "files", itemType: "file"}, resources: resources, folders: folders},
		Images:       &ImageRepo{vt: viewTable{db: db, table: "images", itemType: "image"}, resources: resources, folders: folders},
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for callers that need to share a
// transaction with another subsystem (e.g. the chat pipeline's retry path,
// which deletes messages and decrements VFS ref-counts in two phases).
func (s *Store) DB() *sql.DB {
	return s.db
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
