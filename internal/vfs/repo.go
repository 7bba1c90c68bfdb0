package vfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// viewTable is the shared operation protocol every per-type repo (notes,
// translations, essays, mindmaps, exams, files, images) composes rather
// than inherits: create/read/soft-delete/restore/purge/list-by-folder,
// expressed generically against the columns every view table has in
// common (id, resource_id, folder_id, deleted_at). Per-type content
// serialisation and the extra typed columns stay in each repo file.
type viewTable struct {
	db       *sql.DB
	table    string
	itemType string
}

// softDelete sets deleted_at on the view row and its folder_items row in
// one transaction.
func (v viewTable) softDelete(ctx context.Context, folders *FolderStore, id string) error {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vfs: %s soft delete: %w", v.table, err)
	}
	defer tx.Rollback()

	now := nowMs()
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET deleted_at = ?, updated_at = ? WHERE id = ?`, v.table), now, now, id)
	if err != nil {
		return fmt.Errorf("vfs: %s soft delete: %w", v.table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := folders.SetItemDeleted(ctx, tx, v.itemType, id, true); err != nil {
		return err
	}
	return tx.Commit()
}

// restore symmetrically clears deleted_at on both rows.
func (v viewTable) restore(ctx context.Context, folders *FolderStore, id string) error {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vfs: %s restore: %w", v.table, err)
	}
	defer tx.Rollback()

	now := nowMs()
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET deleted_at = NULL, updated_at = ? WHERE id = ?`, v.table), now, id)
	if err != nil {
		return fmt.Errorf("vfs: %s restore: %w", v.table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := folders.SetItemDeleted(ctx, tx, v.itemType, id, false); err != nil {
		return err
	}
	return tx.Commit()
}

// purge hard-deletes the view row and its folder_items row, returning the
// resource_id so the caller can decrement its ref-count and enqueue vector
// store cleanup.
func (v viewTable) purge(ctx context.Context, folders *FolderStore, id string) (resourceID string, err error) {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("vfs: %s purge: %w", v.table, err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT resource_id FROM %s WHERE id = ?`, v.table), id)
	if err := row.Scan(&resourceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("vfs: %s purge lookup: %w", v.table, err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, v.table), id); err != nil {
		return "", fmt.Errorf("vfs: %s purge delete: %w", v.table, err)
	}
	if err := folders.RemoveItem(ctx, tx, v.itemType, id); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("vfs: %s purge commit: %w", v.table, err)
	}
	return resourceID, nil
}

// idsByFolder returns the ids of non-deleted rows in the view table under
// folderID.
func (v viewTable) idsByFolder(ctx context.Context, folderID string) ([]string, error) {
	rows, err := v.db.QueryContext(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE folder_id = ? AND deleted_at IS NULL ORDER BY created_at DESC`, v.table), folderID)
	if err != nil {
		return nil, fmt.Errorf("vfs: %s list by folder: %w", v.table, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("vfs: %s scan id: %w", v.table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// nullableString converts an empty string to a NULL column value.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
