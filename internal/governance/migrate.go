package governance

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
)

const migrationHistoryTable = "schema_migrations"

var goquDialect = goqu.Dialect("sqlite3")

// ensureMigrationHistoryTable creates the per-database migration ledger
// every tracked database carries, following the teacher's plain
// CREATE-TABLE-IF-NOT-EXISTS migration style.
func ensureMigrationHistoryTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationHistoryTable+` (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			checksum TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("governance: ensure migration history table: %w", err)
	}
	return nil
}

func readAppliedMigrations(ctx context.Context, db *sql.DB) ([]Migration, error) {
	if err := ensureMigrationHistoryTable(ctx, db); err != nil {
		return nil, err
	}
	query, _, err := goquDialect.From(migrationHistoryTable).
		Select("version", "name", "checksum", "applied_at").
		Order(goqu.I("version").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("governance: build migration history query: %w", err)
	}
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("governance: read migration history: %w", err)
	}
	defer rows.Close()

	var out []Migration
	for rows.Next() {
		var m Migration
		var appliedAt int64
		if err := rows.Scan(&m.Version, &m.Name, &m.Checksum, &appliedAt); err != nil {
			return nil, fmt.Errorf("governance: scan migration row: %w", err)
		}
		m.AppliedAt = time.UnixMilli(appliedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

func recordMigration(ctx context.Context, db *sql.DB, spec MigrationSpec) error {
	query, _, err := goquDialect.Insert(migrationHistoryTable).Rows(
		goqu.Record{
			"version":    spec.Version,
			"name":       spec.Name,
			"checksum":   checksumOf(spec.Name, spec.Version),
			"applied_at": time.Now().UnixMilli(),
		},
	).ToSQL()
	if err != nil {
		return fmt.Errorf("governance: build migration insert: %w", err)
	}
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("governance: record migration: %w", err)
	}
	return nil
}

func checksumOf(name string, version int) string {
	h := uint32(2166136261)
	for _, c := range fmt.Sprintf("%d:%s", version, name) {
		h ^= uint32(c)
		h *= 16777619
	}
	return fmt.Sprintf("%08x", h)
}

// MigrationResult reports one database's migration run.
type MigrationResult struct {
	Database     DatabaseID
	FromVersion  int
	ToVersion    int
	AppliedCount int
	Duration     time.Duration
	Err          error
}

// Coordinator runs pending migrations across the registry's databases.
type Coordinator struct {
	registry *Registry
}

// NewCoordinator constructs a Coordinator over registry.
func NewCoordinator(registry *Registry) *Coordinator {
	return &Coordinator{registry: registry}
}

// RunAll iterates every tracked database in dependency order, applying
// pending migrations sequentially and verifying each one (spec.md §4.5).
// A failure on one database does not block independent databases, but does
// block any database that depends on it.
func (c *Coordinator) RunAll(ctx context.Context) []MigrationResult {
	var results []MigrationResult
	failed := make(map[DatabaseID]bool)
	for _, id := range dependencyOrder {
		d, ok := c.registry.databases[id]
		if !ok {
			continue
		}
		blocked := false
		for _, dep := range dependencies[id] {
			if failed[dep] {
				blocked = true
				break
			}
		}
		if blocked {
			results = append(results, MigrationResult{Database: id, Err: fmt.Errorf("%w: %s", ErrDependencyGate, id)})
			failed[id] = true
			continue
		}
		result := c.migrateSingle(ctx, d)
		if result.Err != nil {
			failed[id] = true
		}
		results = append(results, result)
	}
	return results
}

// MigrateSingle migrates one database by id, after checking its
// dependencies have already reached schema version >= 1.
func (c *Coordinator) MigrateSingle(ctx context.Context, id DatabaseID) MigrationResult {
	d, ok := c.registry.databases[id]
	if !ok {
		return MigrationResult{Database: id, Err: fmt.Errorf("%w: database %q", ErrNotFound, id)}
	}
	for _, dep := range dependencies[id] {
		depDB, ok := c.registry.databases[dep]
		if !ok {
			continue
		}
		applied, err := readAppliedMigrations(ctx, depDB.DB)
		if err != nil {
			return MigrationResult{Database: id, Err: err}
		}
		if len(applied) == 0 {
			return MigrationResult{Database: id, Err: fmt.Errorf("%w: %s depends on %s", ErrDependencyGate, id, dep)}
		}
	}
	return c.migrateSingle(ctx, d)
}

func (c *Coordinator) migrateSingle(ctx context.Context, d *Database) MigrationResult {
	start := time.Now()
	applied, err := readAppliedMigrations(ctx, d.DB)
	if err != nil {
		return MigrationResult{Database: d.ID, Err: err, Duration: time.Since(start)}
	}
	fromVersion := len(applied)
	appliedSet := make(map[int]bool, len(applied))
	for _, m := range applied {
		appliedSet[m.Version] = true
	}

	count := 0
	for _, spec := range d.Migrations {
		if appliedSet[spec.Version] {
			continue
		}
		if err := spec.Up(ctx, d.DB); err != nil {
			return MigrationResult{Database: d.ID, FromVersion: fromVersion, ToVersion: fromVersion + count,
				AppliedCount: count, Duration: time.Since(start), Err: fmt.Errorf("governance: apply migration %d (%s): %w", spec.Version, spec.Name, err)}
		}
		if spec.Verify != nil {
			if err := spec.Verify(ctx, d.DB); err != nil {
				return MigrationResult{Database: d.ID, FromVersion: fromVersion, ToVersion: fromVersion + count,
					AppliedCount: count, Duration: time.Since(start), Err: fmt.Errorf("governance: verify migration %d (%s): %w", spec.Version, spec.Name, err)}
			}
		}
		if err := recordMigration(ctx, d.DB, spec); err != nil {
			return MigrationResult{Database: d.ID, FromVersion: fromVersion, ToVersion: fromVersion + count,
				AppliedCount: count, Duration: time.Since(start), Err: err}
		}
		count++
	}
	return MigrationResult{
		Database: d.ID, FromVersion: fromVersion, ToVersion: fromVersion + count,
		AppliedCount: count, Duration: time.Since(start),
	}
}
