package vfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Folder is a node in the folder tree that organises heterogeneous VFS
// items.
type Folder struct {
	ID          string
	ParentID    sql.NullString
	Name        string
	SortOrder   int64
	SubjectHint sql.NullString
	DeletedAt   sql.NullInt64
	CreatedAt   int64
	UpdatedAt   int64
}

// FolderItem maps (folder_id, item_type, item_id) with a sort order.
type FolderItem struct {
	ID        string
	FolderID  string
	ItemType  string
	ItemID    string
	SortOrder int64
	DeletedAt sql.NullInt64
	CreatedAt int64
}

// FolderStore manages the folder hierarchy and its item memberships.
type FolderStore struct {
	db *sql.DB
}

// Create inserts a new folder. If parentID is non-empty, it must already
// exist (checked, since SQLite foreign keys are not declared on this table
// to keep soft-delete simple).
func (fs *FolderStore) Create(ctx context.Context, name, parentID, subjectHint string, sortOrder int64) (*Folder, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: folder name required", ErrInvalidInput)
	}
	if parentID != "" {
		if _, err := fs.Get(ctx, parentID); err != nil {
			return nil, fmt.Errorf("vfs: parent folder: %w", err)
		}
	}
	now := nowMs()
	f := &Folder{
		ID:        uuid.New().String(),
		Name:      name,
		SortOrder: sortOrder,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if parentID != "" {
		f.ParentID = sql.NullString{String: parentID, Valid: true}
	}
	if subjectHint != "" {
		f.SubjectHint = sql.NullString{String: subjectHint, Valid: true}
	}
	_, err := fs.db.ExecContext(ctx, `
		INSERT INTO folders (id, parent_id, name, sort_order, subject_hint, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ParentID, f.Name, f.SortOrder, f.SubjectHint, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("vfs: create folder: %w", err)
	}
	return f, nil
}

// Get returns a folder by id.
func (fs *FolderStore) Get(ctx context.Context, id string) (*Folder, error) {
	row := fs.db.QueryRowContext(ctx, `SELECT id, parent_id, name, sort_order, subject_hint, deleted_at, created_at, updated_at FROM folders WHERE id = ?`, id)
	var f Folder
	if err := row.Scan(&f.ID, &f.ParentID, &f.Name, &f.SortOrder, &f.SubjectHint, &f.DeletedAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("vfs: get folder: %w", err)
	}
	return &f, nil
}

// Move reparents a folder, rejecting the operation if it would introduce a
// cycle (target is the folder itself or one of its own descendants).
func (fs *FolderStore) Move(ctx context.Context, id, newParentID string) error {
	if id == newParentID {
		return ErrCyclicFolder
	}
	if newParentID != "" {
		cursor := newParentID
		for cursor != "" {
			f, err := fs.Get(ctx, cursor)
			if err != nil {
				return fmt.Errorf("vfs: move folder: %w", err)
			}
			if f.ID == id {
				return ErrCyclicFolder
			}
			if !f.ParentID.Valid {
				break
			}
			cursor = f.ParentID.String
		}
	}
	var parentArg sql.NullString
	if newParentID != "" {
		parentArg = sql.NullString{String: newParentID, Valid: true}
	}
	res, err := fs.db.ExecContext(ctx, `UPDATE folders SET parent_id = ?, updated_at = ? WHERE id = ?`, parentArg, nowMs(), id)
	if err != nil {
		return fmt.Errorf("vfs: move folder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete marks a folder and every item it directly contains as deleted.
// Sub-folders are not recursively soft-deleted here — callers that want
// recursive delete walk the tree and call SoftDelete per folder, matching
// the spec's "soft-deleting a folder soft-deletes all contained items"
// invariant at the single-folder granularity the view-row repos operate at.
func (fs *FolderStore) SoftDelete(ctx context.Context, id string) error {
	tx, err := fs.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vfs: soft delete folder: %w", err)
	}
	defer tx.Rollback()

	now := nowMs()
	if _, err := tx.ExecContext(ctx, `UPDATE folders SET deleted_at = ?, updated_at = ? WHERE id = ?`, now, now, id); err != nil {
		return fmt.Errorf("vfs: soft delete folder: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE folder_items SET deleted_at = ? WHERE folder_id = ?`, now, id); err != nil {
		return fmt.Errorf("vfs: soft delete folder items: %w", err)
	}
	return tx.Commit()
}

// Restore symmetrically clears deleted_at on the folder and its items.
func (fs *FolderStore) Restore(ctx context.Context, id string) error {
	tx, err := fs.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vfs: restore folder: %w", err)
	}
	defer tx.Rollback()

	now := nowMs()
	if _, err := tx.ExecContext(ctx, `UPDATE folders SET deleted_at = NULL, updated_at = ? WHERE id = ?`, now, id); err != nil {
		return fmt.Errorf("vfs: restore folder: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE folder_items SET deleted_at = NULL WHERE folder_id = ?`, id); err != nil {
		return fmt.Errorf("vfs: restore folder items: %w", err)
	}
	return tx.Commit()
}

// AddItem inserts a folder_items row within the given execer (typically a
// transaction shared with the per-type repo's Create call).
func (fs *FolderStore) AddItem(ctx context.Context, execer execContexter, folderID, itemType, itemID string, sortOrder int64) error {
	_, err := execer.ExecContext(ctx, `
		INSERT INTO folder_items (id, folder_id, item_type, item_id, sort_order, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), folderID, itemType, itemID, sortOrder, nowMs())
	if err != nil {
		return fmt.Errorf("vfs: add folder item: %w", err)
	}
	return nil
}

// SetItemDeleted toggles deleted_at on the folder_items row(s) matching
// (item_type, item_id) within the given execer.
func (fs *FolderStore) SetItemDeleted(ctx context.Context, execer execContexter, itemType, itemID string, deleted bool) error {
	var err error
	if deleted {
		_, err = execer.ExecContext(ctx, `UPDATE folder_items SET deleted_at = ? WHERE item_type = ? AND item_id = ?`, nowMs(), itemType, itemID)
	} else {
		_, err = execer.ExecContext(ctx, `UPDATE folder_items SET deleted_at = NULL WHERE item_type = ? AND item_id = ?`, itemType, itemID)
	}
	if err != nil {
		return fmt.Errorf("vfs: set folder item deleted: %w", err)
	}
	return nil
}

// RemoveItem hard-deletes the folder_items row(s) for (item_type, item_id),
// used on purge.
func (fs *FolderStore) RemoveItem(ctx context.Context, execer execContexter, itemType, itemID string) error {
	_, err := execer.ExecContext(ctx, `DELETE FROM folder_items WHERE item_type = ? AND item_id = ?`, itemType, itemID)
	if err != nil {
		return fmt.Errorf("vfs: remove folder item: %w", err)
	}
	return nil
}

// ListItems returns the non-deleted items directly under folderID, ordered
// by sort_order.
func (fs *FolderStore) ListItems(ctx context.Context, folderID string) ([]*FolderItem, error) {
	rows, err := fs.db.QueryContext(ctx, `
		SELECT id, folder_id, item_type, item_id, sort_order, deleted_at, created_at
		FROM folder_items WHERE folder_id = ? AND deleted_at IS NULL ORDER BY sort_order ASC`, folderID)
	if err != nil {
		return nil, fmt.Errorf("vfs: list folder items: %w", err)
	}
	defer rows.Close()

	var out []*FolderItem
	for rows.Next() {
		var it FolderItem
		if err := rows.Scan(&it.ID, &it.FolderID, &it.ItemType, &it.ItemID, &it.SortOrder, &it.DeletedAt, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("vfs: scan folder item: %w", err)
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}
