package vfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Note is a notes view row with its content inlined from the owning
// resource (LEFT JOIN resources), matching the read contract of every
// per-type repo.
type Note struct {
	ID         string
	ResourceID string
	Title      string
	FolderID   sql.NullString
	DeletedAt  sql.NullInt64
	CreatedAt  int64
	UpdatedAt  int64
	Content    string
}

// NoteRepo implements the VFS per-type repo protocol for notes: it shares
// create/read/soft-delete/restore/purge/list-by-folder via the embedded
// viewTable and adds note-specific content serialisation and reads.
type NoteRepo struct {
	vt        viewTable
	resources *ResourceStore
	folders   *FolderStore
}

// Create inserts a new note. Inside a single transaction: the content is
// deduped into the resources table, the notes row is inserted pointing at
// it, the resource is back-filled with its source_id, and (if folderID is
// set) a folder_items row is added. Any failure rolls back every step so
// no orphan resource is ever left without a committed view row.
func (r *NoteRepo) Create(ctx context.Context, title, content, folderID string) (*Note, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: note title required", ErrInvalidInput)
	}
	tx, err := r.vt.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("vfs: create note: %w", err)
	}
	defer tx.Rollback()

	resourceID, _, _, err := r.resources.CreateOrReuseTx(ctx, tx, TypeNote, []byte(content), "")
	if err != nil {
		return nil, fmt.Errorf("vfs: create note resource: %w", err)
	}

	id := uuid.New().String()
	now := nowMs()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO notes (id, resource_id, title, folder_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`, id, resourceID, title, nullableString(folderID), now, now); err != nil {
		return nil, fmt.Errorf("vfs: insert note: %w", err)
	}

	if err := r.resources.SetSourceID(ctx, tx, resourceID, id, "notes"); err != nil {
		return nil, err
	}
	if folderID != "" {
		if err := r.folders.AddItem(ctx, tx, folderID, r.vt.itemType, id, 0); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("vfs: create note commit: %w", err)
	}
	return r.Get(ctx, id)
}

// Get reads a note with its content inlined from the resource row.
func (r *NoteRepo) Get(ctx context.Context, id string) (*Note, error) {
	row := r.vt.db.QueryRowContext(ctx, `
		SELECT n.id, n.resource_id, n.title, n.folder_id, n.deleted_at, n.created_at, n.updated_at, res.data
		FROM notes n LEFT JOIN resources res ON res.id = n.resource_id
		WHERE n.id = ?`, id)

	var n Note
	var content sql.NullString
	if err := row.Scan(&n.ID, &n.ResourceID, &n.Title, &n.FolderID, &n.DeletedAt, &n.CreatedAt, &n.UpdatedAt, &content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("vfs: get note: %w", err)
	}
	n.Content = content.String
	return &n, nil
}

// Delete soft-deletes the note and its folder_items row.
func (r *NoteRepo) Delete(ctx context.Context, id string) error {
	return r.vt.softDelete(ctx, r.folders, id)
}

// Restore clears the soft-delete flag on the note and its folder_items row.
func (r *NoteRepo) Restore(ctx context.Context, id string) error {
	return r.vt.restore(ctx, r.folders, id)
}

// Purge hard-deletes the note and best-effort decrements the backing
// resource's ref-count; the resource row itself survives until the
// periodic garbage sweep reclaims ref_count=0 rows.
func (r *NoteRepo) Purge(ctx context.Context, id string) error {
	resourceID, err := r.vt.purge(ctx, r.folders, id)
	if err != nil {
		return err
	}
	r.resources.DecrementRef(ctx, resourceID)
	return nil
}

// ListByFolder returns non-deleted notes directly under folderID.
func (r *NoteRepo) ListByFolder(ctx context.Context, folderID string) ([]*Note, error) {
	ids, err := r.vt.idsByFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	out := make([]*Note, 0, len(ids))
	for _, id := range ids {
		n, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
