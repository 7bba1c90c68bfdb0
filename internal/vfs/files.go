package vfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// File is a files view row. Content is inlined when the resource is
// storage_mode=inline; external-mode files only carry ExternalHash, the
// blob-store pointer, since the blob store itself sits outside the core's
// scope.
type File struct {
	ID           string
	ResourceID   string
	Filename     string
	MimeType     sql.NullString
	SizeBytes    int64
	FolderID     sql.NullString
	DeletedAt    sql.NullInt64
	CreatedAt    int64
	UpdatedAt    int64
	Content      []byte
	ExternalHash sql.NullString
}

// FileRepo implements the per-type repo protocol for uploaded files.
type FileRepo struct {
	vt        viewTable
	resources *ResourceStore
	folders   *FolderStore
}

// Create inserts a new file with its content stored inline and deduped.
func (r *FileRepo) Create(ctx context.Context, filename, mimeType string, data []byte, folderID string) (*File, error) {
	return r.create(ctx, filename, mimeType, int64(len(data)), folderID, func(tx *sql.Tx) (string, error) {
		resourceID, _, _, err := r.resources.CreateOrReuseTx(ctx, tx, TypeFile, data, "")
		return resourceID, err
	})
}

// CreateExternal inserts a new file whose content lives in an external
// blob store, addressed by contentHash/externalHash; the resource row
// carries no inline data.
func (r *FileRepo) CreateExternal(ctx context.Context, filename, mimeType string, sizeBytes int64, contentHash, externalHash, folderID string) (*File, error) {
	return r.create(ctx, filename, mimeType, sizeBytes, folderID, func(tx *sql.Tx) (string, error) {
		resourceID, _, _, err := r.resources.CreateOrReuseExternal(ctx, TypeFile, contentHash, externalHash, "")
		return resourceID, err
	})
}

func (r *FileRepo) create(ctx context.Context, filename, mimeType string, sizeBytes int64, folderID string, makeResource func(*sql.Tx) (string, error)) (*File, error) {
	if filename == "" {
		return nil, fmt.Errorf("%w: filename required", ErrInvalidInput)
	}
	tx, err := r.vt.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("vfs: create file: %w", err)
	}
	defer tx.Rollback()

	resourceID, err := makeResource(tx)
	if err != nil {
		return nil, fmt.Errorf("vfs: create file resource: %w", err)
	}

	id := uuid.New().String()
	now := nowMs()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO files (id, resource_id, filename, mime_type, size_bytes, folder_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, id, resourceID, filename, nullableString(mimeType), sizeBytes, nullableString(folderID), now, now); err != nil {
		return nil, fmt.Errorf("vfs: insert file: %w", err)
	}
	if err := r.resources.SetSourceID(ctx, tx, resourceID, id, "files"); err != nil {
		return nil, err
	}
	if folderID != "" {
		if err := r.folders.AddItem(ctx, tx, folderID, r.vt.itemType, id, 0); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("vfs: create file commit: %w", err)
	}
	return r.Get(ctx, id)
}

// Get reads a file with its content inlined (when stored inline).
func (r *FileRepo) Get(ctx context.Context, id string) (*File, error) {
	row := r.vt.db.QueryRowContext(ctx, `
		SELECT f.id, f.resource_id, f.filename, f.mime_type, f.size_bytes, f.folder_id, f.deleted_at, f.created_at, f.updated_at, res.data, res.external_hash
		FROM files f LEFT JOIN resources res ON res.id = f.resource_id
		WHERE f.id = ?`, id)

	var f File
	if err := row.Scan(&f.ID, &f.ResourceID, &f.Filename, &f.MimeType, &f.SizeBytes, &f.FolderID, &f.DeletedAt, &f.CreatedAt, &f.UpdatedAt, &f.Content, &f.ExternalHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("vfs: get file: %w", err)
	}
	return &f, nil
}

// Delete soft-deletes the file and its folder_items row.
func (r *FileRepo) Delete(ctx context.Context, id string) error {
	return r.vt.softDelete(ctx, r.folders, id)
}

// Restore clears the soft-delete flag.
func (r *FileRepo) Restore(ctx context.Context, id string) error {
	return r.vt.restore(ctx, r.folders, id)
}

// Purge hard-deletes the file and best-effort decrements its resource's
// ref-count.
func (r *FileRepo) Purge(ctx context.Context, id string) error {
	resourceID, err := r.vt.purge(ctx, r.folders, id)
	if err != nil {
		return err
	}
	r.resources.DecrementRef(ctx, resourceID)
	return nil
}

// ListByFolder returns non-deleted files directly under folderID.
func (r *FileRepo) ListByFolder(ctx context.Context, folderID string) ([]*File, error) {
	ids, err := r.vt.idsByFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	out := make([]*File, 0, len(ids))
	for _, id := range ids {
		f, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
