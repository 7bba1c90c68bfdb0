package vfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Mindmap is a mindmaps view row with its content (typically a serialised
// node tree) inlined.
type Mindmap struct {
	ID         string
	ResourceID string
	Title      string
	FolderID   sql.NullString
	DeletedAt  sql.NullInt64
	CreatedAt  int64
	UpdatedAt  int64
	Content    string
}

// MindmapRepo implements the per-type repo protocol for mindmaps. Mindmaps
// are a 1:1 resource: each instance gets its own resource row (salted by
// its own id) so that two structurally identical mindmaps never dedup into
// one, and in-place edits go through UpdateResourceData rather than a
// fresh create_or_reuse.
type MindmapRepo struct {
	vt        viewTable
	resources *ResourceStore
	folders   *FolderStore
}

// Create inserts a new mindmap.
func (r *MindmapRepo) Create(ctx context.Context, title, content, folderID string) (*Mindmap, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: mindmap title required", ErrInvalidInput)
	}
	tx, err := r.vt.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("vfs: create mindmap: %w", err)
	}
	defer tx.Rollback()

	id := uuid.New().String()
	resourceID, _, _, err := r.resources.CreateOrReuseWithSaltTx(ctx, tx, TypeMindmap, []byte(content), id, "")
	if err != nil {
		return nil, fmt.Errorf("vfs: create mindmap resource: %w", err)
	}

	now := nowMs()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO mindmaps (id, resource_id, title, folder_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`, id, resourceID, title, nullableString(folderID), now, now); err != nil {
		return nil, fmt.Errorf("vfs: insert mindmap: %w", err)
	}
	if err := r.resources.SetSourceID(ctx, tx, resourceID, id, "mindmaps"); err != nil {
		return nil, err
	}
	if folderID != "" {
		if err := r.folders.AddItem(ctx, tx, folderID, r.vt.itemType, id, 0); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("vfs: create mindmap commit: %w", err)
	}
	return r.Get(ctx, id)
}

// Get reads a mindmap with its content inlined.
func (r *MindmapRepo) Get(ctx context.Context, id string) (*Mindmap, error) {
	row := r.vt.db.QueryRowContext(ctx, `
		SELECT m.id, m.resource_id, m.title, m.folder_id, m.deleted_at, m.created_at, m.updated_at, res.data
		FROM mindmaps m LEFT JOIN resources res ON res.id = m.resource_id
		WHERE m.id = ?`, id)

	var m Mindmap
	var content sql.NullString
	if err := row.Scan(&m.ID, &m.ResourceID, &m.Title, &m.FolderID, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt, &content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("vfs: get mindmap: %w", err)
	}
	m.Content = content.String
	return &m, nil
}

// UpdateContent recomputes and rewrites the backing resource's content
// in-place via UpdateResourceData, a no-op when the content is unchanged.
func (r *MindmapRepo) UpdateContent(ctx context.Context, id, newContent string) (changed bool, err error) {
	m, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	changed, err = r.resources.UpdateResourceData(ctx, m.ResourceID, []byte(newContent))
	if err != nil {
		return false, err
	}
	if changed {
		if _, err := r.vt.db.ExecContext(ctx, `UPDATE mindmaps SET updated_at = ? WHERE id = ?`, nowMs(), id); err != nil {
			return changed, fmt.Errorf("vfs: touch mindmap: %w", err)
		}
	}
	return changed, nil
}

// Delete soft-deletes the mindmap and its folder_items row.
func (r *MindmapRepo) Delete(ctx context.Context, id string) error {
	return r.vt.softDelete(ctx, r.folders, id)
}

// Restore clears the soft-delete flag.
func (r *MindmapRepo) Restore(ctx context.Context, id string) error {
	return r.vt.restore(ctx, r.folders, id)
}

// Purge hard-deletes the mindmap and best-effort decrements its resource's
// ref-count.
func (r *MindmapRepo) Purge(ctx context.Context, id string) error {
	resourceID, err := r.vt.purge(ctx, r.folders, id)
	if err != nil {
		return err
	}
	r.resources.DecrementRef(ctx, resourceID)
	return nil
}

// ListByFolder returns non-deleted mindmaps directly under folderID.
func (r *MindmapRepo) ListByFolder(ctx context.Context, folderID string) ([]*Mindmap, error) {
	ids, err := r.vt.idsByFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	out := make([]*Mindmap, 0, len(ids))
	for _, id := range ids {
		m, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
