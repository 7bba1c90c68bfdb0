//go:build sqlite_cgo

package governance

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// snapshotToPaged copies srcPath into destPath using the cgo driver's
// online backup API, stepping a fixed page count at a time so the
// Checkpoint phase can report granular progress instead of the single
// blocking VACUUM INTO call snapshot.go uses by default. Opt in with the
// `sqlite_cgo` build tag.
func snapshotToPaged(ctx context.Context, srcPath, destPath string, onProgress func(done, total int)) error {
	driverName := "governance_sqlite3_backup"
	sql.Register(driverName, &sqlite3.SQLiteDriver{})

	srcDB, err := sql.Open(driverName, srcPath)
	if err != nil {
		return fmt.Errorf("governance: open backup source: %w", err)
	}
	defer srcDB.Close()
	destDB, err := sql.Open(driverName, destPath)
	if err != nil {
		return fmt.Errorf("governance: open backup destination: %w", err)
	}
	defer destDB.Close()

	srcConn, err := srcDB.Conn(ctx)
	if err != nil {
		return err
	}
	defer srcConn.Close()
	destConn, err := destDB.Conn(ctx)
	if err != nil {
		return err
	}
	defer destConn.Close()

	var backupErr error
	err = destConn.Raw(func(destRaw any) error {
		return srcConn.Raw(func(srcRaw any) error {
			destSQLite, ok := destRaw.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("governance: destination connection is not sqlite3")
			}
			srcSQLite, ok := srcRaw.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("governance: source connection is not sqlite3")
			}
			backup, err := destSQLite.Backup("main", srcSQLite, "main")
			if err != nil {
				return fmt.Errorf("governance: start online backup: %w", err)
			}
			defer backup.Close()
			for {
				done, err := backup.Step(256)
				if err != nil {
					backupErr = err
					return err
				}
				remaining, total := backup.Remaining(), backup.PageCount()
				if onProgress != nil {
					onProgress(total-remaining, total)
				}
				if done {
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}
		})
	})
	if err != nil {
		return fmt.Errorf("governance: online backup: %w", err)
	}
	return backupErr
}
