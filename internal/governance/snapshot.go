package governance

import (
	"context"
	"database/sql"
	"fmt"
)

// snapshotTo copies srcDB's contents into a fresh file at destPath as a
// single consistent point-in-time image, used by the Checkpoint phase so a
// backup never observes a database mid-write. The default build uses
// SQLite's own `VACUUM INTO`, which both modernc.org/sqlite and the cgo
// driver support identically; snapshot_cgo.go offers a page-level
// alternative via the cgo driver's online backup API for call sites that
// build with the `sqlite_cgo` tag and want incremental progress callbacks
// during the copy instead of one blocking statement.
func snapshotTo(ctx context.Context, srcDB *sql.DB, destPath string) error {
	_, err := srcDB.ExecContext(ctx, `VACUUM INTO ?`, destPath)
	if err != nil {
		return fmt.Errorf("governance: snapshot via VACUUM INTO: %w", err)
	}
	return nil
}

// integrityCheck runs SQLite's own consistency checker against a database
// file, used by the Restore job's Verify phase.
func integrityCheck(ctx context.Context, db *sql.DB) error {
	var result string
	if err := db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&result); err != nil {
		return fmt.Errorf("governance: run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: integrity_check reported %q", ErrChecksumMismatch, result)
	}
	return nil
}
