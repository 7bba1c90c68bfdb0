package vfs

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/haasonsaas/nexus-study/internal/governance"
)

// GovernanceMigrations returns the vfs database's migration history as
// governance.MigrationSpec values, so a caller building a
// governance.Database for DatabaseVfs can register this package's schema
// with the schema registry and migration coordinator. The vfs package
// keeps applying its own idempotent migrate(db) on every Open regardless
// of whether governance ever runs this spec; this only lets governance
// observe and record that the schema is current.
func GovernanceMigrations() []governance.MigrationSpec {
	return []governance.MigrationSpec{
		{
			Version: 1,
			Name:    "initial_schema",
			Up: func(_ context.Context, db *sql.DB) error {
				return migrate(db)
			},
			Verify: func(ctx context.Context, db *sql.DB) error {
				for _, table := range []string{"resources", "folders", "folder_items", "notes", "translations", "essays", "mindmaps", "exams", "files", "images"} {
					var name string
					err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
					if err == sql.ErrNoRows {
						return fmt.Errorf("vfs: missing table %s", table)
					}
					if err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
