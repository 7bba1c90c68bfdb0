package governance

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createNotesTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE notes (id TEXT PRIMARY KEY, body TEXT NOT NULL)`)
	return err
}

func verifyNotesTable(ctx context.Context, db *sql.DB) error {
	var name string
	err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name='notes'`).Scan(&name)
	if err != nil {
		return err
	}
	return nil
}

func TestMigrateSingleAppliesPendingMigrationsInOrder(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	registry := NewRegistry(&Database{
		ID: DatabaseVfs,
		DB: db,
		Migrations: []MigrationSpec{
			{Version: 1, Name: "create_notes", Up: createNotesTable, Verify: verifyNotesTable},
		},
	})
	coordinator := NewCoordinator(registry)

	result := coordinator.MigrateSingle(ctx, DatabaseVfs)
	if result.Err != nil {
		t.Fatalf("MigrateSingle() error = %v", result.Err)
	}
	if result.AppliedCount != 1 || result.ToVersion != 1 {
		t.Fatalf("MigrateSingle() = %+v", result)
	}

	// re-running must be a no-op: the migration is already recorded.
	result = coordinator.MigrateSingle(ctx, DatabaseVfs)
	if result.Err != nil {
		t.Fatalf("second MigrateSingle() error = %v", result.Err)
	}
	if result.AppliedCount != 0 {
		t.Fatalf("second MigrateSingle() AppliedCount = %d, want 0", result.AppliedCount)
	}
}

func TestMigrateSingleFailsVerify(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	registry := NewRegistry(&Database{
		ID: DatabaseVfs,
		DB: db,
		Migrations: []MigrationSpec{
			{Version: 1, Name: "broken", Up: func(ctx context.Context, db *sql.DB) error { return nil },
				Verify: func(ctx context.Context, db *sql.DB) error { return errors.New("missing table") }},
		},
	})
	coordinator := NewCoordinator(registry)

	result := coordinator.MigrateSingle(ctx, DatabaseVfs)
	if result.Err == nil {
		t.Fatalf("MigrateSingle() error = nil, want verify failure")
	}
	if result.AppliedCount != 0 {
		t.Fatalf("AppliedCount = %d, want 0 on verify failure", result.AppliedCount)
	}
}

func TestCoordinatorRunAllBlocksDependents(t *testing.T) {
	ctx := context.Background()
	vfsDB := openTestDB(t)
	chatDB := openTestDB(t)

	registry := NewRegistry(
		&Database{ID: DatabaseVfs, DB: vfsDB, Migrations: []MigrationSpec{
			{Version: 1, Name: "broken", Up: func(ctx context.Context, db *sql.DB) error { return errors.New("boom") }},
		}},
		&Database{ID: DatabaseChatV2, DB: chatDB, Migrations: []MigrationSpec{
			{Version: 1, Name: "create_notes", Up: createNotesTable},
		}},
	)
	coordinator := NewCoordinator(registry)

	results := coordinator.RunAll(ctx)
	byID := make(map[DatabaseID]MigrationResult, len(results))
	for _, r := range results {
		byID[r.Database] = r
	}

	if byID[DatabaseVfs].Err == nil {
		t.Fatalf("expected vfs migration to fail")
	}
	chatResult, ok := byID[DatabaseChatV2]
	if !ok {
		t.Fatalf("expected a result for chat_v2")
	}
	if !errors.Is(chatResult.Err, ErrDependencyGate) {
		t.Fatalf("chat_v2 result.Err = %v, want ErrDependencyGate (vfs failed first)", chatResult.Err)
	}
}

func TestRegistryStatusReflectsAppliedMigrations(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	registry := NewRegistry(&Database{
		ID: DatabaseVfs,
		DB: db,
		Migrations: []MigrationSpec{
			{Version: 1, Name: "create_notes", Up: createNotesTable},
		},
	})
	result := NewCoordinator(registry).MigrateSingle(ctx, DatabaseVfs)
	if result.Err != nil {
		t.Fatalf("MigrateSingle() error = %v", result.Err)
	}

	status, err := registry.Status(ctx, DatabaseVfs)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(status.Migrations) != 1 || status.DataContractVersion != 1 {
		t.Fatalf("Status() = %+v", status)
	}
	if status.AggregatedChecksum == "" {
		t.Fatalf("expected a non-empty aggregated checksum")
	}
}
