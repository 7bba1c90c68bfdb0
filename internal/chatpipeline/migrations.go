package chatpipeline

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/haasonsaas/nexus-study/internal/governance"
)

// GovernanceMigrations returns the chat_v2 database's migration history as
// governance.MigrationSpec values, for registering this package's schema
// as governance.DatabaseChatV2. See vfs.GovernanceMigrations for the same
// pattern applied to the vfs database.
func GovernanceMigrations() []governance.MigrationSpec {
	return []governance.MigrationSpec{
		{
			Version: 1,
			Name:    "initial_schema",
			Up: func(_ context.Context, db *sql.DB) error {
				return migrate(db)
			},
			Verify: func(ctx context.Context, db *sql.DB) error {
				for _, table := range []string{"chat_v2_sessions", "chat_v2_messages", "chat_v2_blocks", "workspace_index"} {
					var name string
					err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
					if err == sql.ErrNoRows {
						return fmt.Errorf("chatpipeline: missing table %s", table)
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
