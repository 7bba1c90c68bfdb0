package vfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Translation is a translations view row with its content inlined.
type Translation struct {
	ID         string
	ResourceID string
	SourceLang string
	TargetLang string
	Title      sql.NullString
	FolderID   sql.NullString
	DeletedAt  sql.NullInt64
	CreatedAt  int64
	UpdatedAt  int64
	Content    string
}

// TranslationRepo implements the per-type repo protocol for translations.
type TranslationRepo struct {
	vt        viewTable
	resources *ResourceStore
	folders   *FolderStore
}

// Create inserts a new translation, deduping its rendered content the same
// way notes do.
func (r *TranslationRepo) Create(ctx context.Context, sourceLang, targetLang, title, content, folderID string) (*Translation, error) {
	if sourceLang == "" || targetLang == "" {
		return nil, fmt.Errorf("%w: source and target language required", ErrInvalidInput)
	}
	tx, err := r.vt.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("vfs: create translation: %w", err)
	}
	defer tx.Rollback()

	resourceID, _, _, err := r.resources.CreateOrReuseTx(ctx, tx, TypeTranslation, []byte(content), "")
	if err != nil {
		return nil, fmt.Errorf("vfs: create translation resource: %w", err)
	}

	id := uuid.New().String()
	now := nowMs()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO translations (id, resource_id, source_lang, target_lang, title, folder_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, id, resourceID, sourceLang, targetLang, nullableString(title), nullableString(folderID), now, now); err != nil {
		return nil, fmt.Errorf("vfs: insert translation: %w", err)
	}
	if err := r.resources.SetSourceID(ctx, tx, resourceID, id, "translations"); err != nil {
		return nil, err
	}
	if folderID != "" {
		if err := r.folders.AddItem(ctx, tx, folderID, r.vt.itemType, id, 0); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("vfs: create translation commit: %w", err)
	}
	return r.Get(ctx, id)
}

// Get reads a translation with its content inlined.
func (r *TranslationRepo) Get(ctx context.Context, id string) (*Translation, error) {
	row := r.vt.db.QueryRowContext(ctx, `
		SELECT t.id, t.resource_id, t.source_lang, t.target_lang, t.title, t.folder_id, t.deleted_at, t.created_at, t.updated_at, res.data
		FROM translations t LEFT JOIN resources res ON res.id = t.resource_id
		WHERE t.id = ?`, id)

	var t Translation
	var content sql.NullString
	if err := row.Scan(&t.ID, &t.ResourceID, &t.SourceLang, &t.TargetLang, &t.Title, &t.FolderID, &t.DeletedAt, &t.CreatedAt, &t.UpdatedAt, &content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("vfs: get translation: %w", err)
	}
	t.Content = content.String
	return &t, nil
}

// Delete soft-deletes the translation and its folder_items row.
func (r *TranslationRepo) Delete(ctx context.Context, id string) error {
	return r.vt.softDelete(ctx, r.folders, id)
}

// Restore clears the soft-delete flag.
func (r *TranslationRepo) Restore(ctx context.Context, id string) error {
	return r.vt.restore(ctx, r.folders, id)
}

// Purge hard-deletes the translation and best-effort decrements its
// resource's ref-count.
func (r *TranslationRepo) Purge(ctx context.Context, id string) error {
	resourceID, err := r.vt.purge(ctx, r.folders, id)
	if err != nil {
		return err
	}
	r.resources.DecrementRef(ctx, resourceID)
	return nil
}

// ListByFolder returns non-deleted translations directly under folderID.
func (r *TranslationRepo) ListByFolder(ctx context.Context, folderID string) ([]*Translation, error) {
	ids, err := r.vt.idsByFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	out := make([]*Translation, 0, len(ids))
	for _, id := range ids {
		t, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
