package vfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Image is an images view row, used as the unit the multi-modal indexer
// ingests per page.
type Image struct {
	ID           string
	ResourceID   string
	Filename     string
	MimeType     sql.NullString
	Width        int
	Height       int
	FolderID     sql.NullString
	DeletedAt    sql.NullInt64
	CreatedAt    int64
	UpdatedAt    int64
	Content      []byte
	ExternalHash sql.NullString
}

// ImageRepo implements the per-type repo protocol for images.
type ImageRepo struct {
	vt        viewTable
	resources *ResourceStore
	folders   *FolderStore
}

// Create inserts a new image with its content stored inline and deduped.
func (r *ImageRepo) Create(ctx context.Context, filename, mimeType string, data []byte, width, height int, folderID string) (*Image, error) {
	return r.create(ctx, filename, mimeType, width, height, folderID, func(tx *sql.Tx) (string, error) {
		resourceID, _, _, err := r.resources.CreateOrReuseTx(ctx, tx, TypeImage, data, "")
		return resourceID, err
	})
}

// CreateExternal inserts a new image whose content lives in an external
// blob store.
func (r *ImageRepo) CreateExternal(ctx context.Context, filename, mimeType string, width, height int, contentHash, externalHash, folderID string) (*Image, error) {
	return r.create(ctx, filename, mimeType, width, height, folderID, func(tx *sql.Tx) (string, error) {
		resourceID, _, _, err := r.resources.CreateOrReuseExternal(ctx, TypeImage, contentHash, externalHash, "")
		return resourceID, err
	})
}

func (r *ImageRepo) create(ctx context.Context, filename, mimeType string, width, height int, folderID string, makeResource func(*sql.Tx) (string, error)) (*Image, error) {
	if filename == "" {
		return nil, fmt.Errorf("%w: filename required", ErrInvalidInput)
	}
	tx, err := r.vt.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("vfs: create image: %w", err)
	}
	defer tx.Rollback()

	resourceID, err := makeResource(tx)
	if err != nil {
		return nil, fmt.Errorf("vfs: create image resource: %w", err)
	}

	id := uuid.New().String()
	now := nowMs()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO images (id, resource_id, filename, mime_type, width, height, folder_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, id, resourceID, filename, nullableString(mimeType), width, height, nullableString(folderID), now, now); err != nil {
		return nil, fmt.Errorf("vfs: insert image: %w", err)
	}
	if err := r.resources.SetSourceID(ctx, tx, resourceID, id, "images"); err != nil {
		return nil, err
	}
	if folderID != "" {
		if err := r.folders.AddItem(ctx, tx, folderID, r.vt.itemType, id, 0); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("vfs: create image commit: %w", err)
	}
	return r.Get(ctx, id)
}

// Get reads an image with its content inlined (when stored inline).
func (r *ImageRepo) Get(ctx context.Context, id string) (*Image, error) {
	row := r.vt.db.QueryRowContext(ctx, `
		SELECT i.id, i.resource_id, i.filename, i.mime_type, i.width, i.height, i.folder_id, i.deleted_at, i.created_at, i.updated_at, res.data, res.external_hash
		FROM images i LEFT JOIN resources res ON res.id = i.resource_id
		WHERE i.id = ?`, id)

	var img Image
	if err := row.Scan(&img.ID, &img.ResourceID, &img.Filename, &img.MimeType, &img.Width, &img.Height, &img.FolderID, &img.DeletedAt, &img.CreatedAt, &img.UpdatedAt, &img.Content, &img.ExternalHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("vfs: get image: %w", err)
	}
	return &img, nil
}

// Delete soft-deletes the image and its folder_items row.
func (r *ImageRepo) Delete(ctx context.Context, id string) error {
	return r.vt.softDelete(ctx, r.folders, id)
}

// Restore clears the soft-delete flag.
func (r *ImageRepo) Restore(ctx context.Context, id string) error {
	return r.vt.restore(ctx, r.folders, id)
}

// Purge hard-deletes the image and best-effort decrements its resource's
// ref-count.
func (r *ImageRepo) Purge(ctx context.Context, id string) error {
	resourceID, err := r.vt.purge(ctx, r.folders, id)
	if err != nil {
		return err
	}
	r.resources.DecrementRef(ctx, resourceID)
	return nil
}

// ListByFolder returns non-deleted images directly under folderID.
func (r *ImageRepo) ListByFolder(ctx context.Context, folderID string) ([]*Image, error) {
	ids, err := r.vt.idsByFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	out := make([]*Image, 0, len(ids))
	for _, id := range ids {
		img, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, nil
}
