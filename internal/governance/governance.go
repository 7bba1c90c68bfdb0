// Package governance implements the schema registry, migration coordinator,
// and backup/restore job manager that keep the module's tracked SQLite
// databases consistent and recoverable.
package governance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput   = errors.New("governance: invalid input")
	ErrNotFound       = errors.New("governance: not found")
	ErrJobBusy           = errors.New("governance: another backup/restore/zip job is already running")
	ErrDependencyGate    = errors.New("governance: dependency database has not been migrated yet")
	ErrChecksumMismatch  = errors.New("governance: checksum or integrity check failed")
	ErrVersionConflict   = errors.New("governance: manifest app_version is incompatible")
	ErrInsufficientSpace = errors.New("governance: insufficient free disk space for restore")
	ErrUnsafeCancel      = errors.New("governance: job has passed its last safe cancellation point")
)

// DatabaseID names one of the four tracked databases.
type DatabaseID string

const (
	DatabaseVfs      DatabaseID = "vfs"
	DatabaseLlmUsage DatabaseID = "llm_usage"
	DatabaseChatV2   DatabaseID = "chat_v2"
	DatabaseMistakes DatabaseID = "mistakes"
)

// dependencyOrder lists the tracked databases leaves-first: Vfs and
// LlmUsage have no dependencies; ChatV2 and Mistakes depend on both being
// migrated first (spec.md §4.5's dependency graph).
var dependencyOrder = []DatabaseID{DatabaseVfs, DatabaseLlmUsage, DatabaseChatV2, DatabaseMistakes}

// dependencies maps a database to the ids it depends on.
var dependencies = map[DatabaseID][]DatabaseID{
	DatabaseVfs:      nil,
	DatabaseLlmUsage: nil,
	DatabaseChatV2:   {DatabaseVfs, DatabaseLlmUsage},
	DatabaseMistakes: {DatabaseVfs, DatabaseLlmUsage},
}

// Migration is one applied row in a database's migration history table.
type Migration struct {
	Version   int
	Name      string
	Checksum  string
	AppliedAt time.Time
}

// SchemaStatus is the schema registry's derived, per-database view: never
// persisted separately from the databases themselves, to avoid dual-source
// drift (spec.md §4.5).
type SchemaStatus struct {
	Database            DatabaseID
	Migrations          []Migration
	AggregatedChecksum   string
	DataContractVersion  int
}

// Database is one tracked database's open handle plus the migrations it
// should apply, in order.
type Database struct {
	ID         DatabaseID
	Path       string
	DB         *sql.DB
	Migrations []MigrationSpec
}

// MigrationSpec is one migration: an idempotent Up statement set and a
// Verify closure that checks sqlite_master/PRAGMA table_info for the
// tables/columns/indexes the migration should have created, grounded on
// original_source/data_governance/schema_registry.rs's verifier-per-migration
// pattern.
type MigrationSpec struct {
	Version int
	Name    string
	Up      func(ctx context.Context, db *sql.DB) error
	Verify  func(ctx context.Context, db *sql.DB) error
}

// Registry recomputes SchemaStatus for a set of tracked databases on
// demand; it holds no mutable state of its own.
type Registry struct {
	databases map[DatabaseID]*Database
}

// NewRegistry constructs a Registry over dbs, keyed by their IDs.
func NewRegistry(dbs ...*Database) *Registry {
	r := &Registry{databases: make(map[DatabaseID]*Database, len(dbs))}
	for _, d := range dbs {
		r.databases[d.ID] = d
	}
	return r
}

// Status recomputes id's SchemaStatus by reading its migration history
// table directly, never from a cached copy.
func (r *Registry) Status(ctx context.Context, id DatabaseID) (*SchemaStatus, error) {
	d, ok := r.databases[id]
	if !ok {
		return nil, fmt.Errorf("%w: database %q", ErrNotFound, id)
	}
	migrations, err := readAppliedMigrations(ctx, d.DB)
	if err != nil {
		return nil, err
	}
	return &SchemaStatus{
		Database:            id,
		Migrations:          migrations,
		AggregatedChecksum:   aggregateChecksum(migrations),
		DataContractVersion:  len(migrations),
	}, nil
}

// StatusAll recomputes SchemaStatus for every registered database, in
// dependency order.
func (r *Registry) StatusAll(ctx context.Context) (map[DatabaseID]*SchemaStatus, error) {
	out := make(map[DatabaseID]*SchemaStatus, len(r.databases))
	for _, id := range dependencyOrder {
		if _, tracked := r.databases[id]; !tracked {
			continue
		}
		status, err := r.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = status
	}
	return out, nil
}

func aggregateChecksum(migrations []Migration) string {
	h := 0
	for _, m := range migrations {
		for _, c := range m.Checksum {
			h = h*31 + int(c)
		}
	}
	return fmt.Sprintf("%x", uint32(h))
}
