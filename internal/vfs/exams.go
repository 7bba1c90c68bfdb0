package vfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Exam is an exams view row (a generated question sheet) with its content
// inlined.
type Exam struct {
	ID         string
	ResourceID string
	Title      string
	Subject    sql.NullString
	FolderID   sql.NullString
	DeletedAt  sql.NullInt64
	CreatedAt  int64
	UpdatedAt  int64
	Content    string
}

// ExamRepo implements the per-type repo protocol for exams.
type ExamRepo struct {
	vt        viewTable
	resources *ResourceStore
	folders   *FolderStore
}

// Create inserts a new exam.
func (r *ExamRepo) Create(ctx context.Context, title, subject, content, folderID string) (*Exam, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: exam title required", ErrInvalidInput)
	}
	tx, err := r.vt.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("vfs: create exam: %w", err)
	}
	defer tx.Rollback()

	resourceID, _, _, err := r.resources.CreateOrReuseTx(ctx, tx, TypeExam, []byte(content), "")
	if err != nil {
		return nil, fmt.Errorf("vfs: create exam resource: %w", err)
	}

	id := uuid.New().String()
	now := nowMs()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO exams (id, resource_id, title, subject, folder_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, id, resourceID, title, nullableString(subject), nullableString(folderID), now, now); err != nil {
		return nil, fmt.Errorf("vfs: insert exam: %w", err)
	}
	if err := r.resources.SetSourceID(ctx, tx, resourceID, id, "exams"); err != nil {
		return nil, err
	}
	if folderID != "" {
		if err := r.folders.AddItem(ctx, tx, folderID, r.vt.itemType, id, 0); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("vfs: create exam commit: %w", err)
	}
	return r.Get(ctx, id)
}

// Get reads an exam with its content inlined.
func (r *ExamRepo) Get(ctx context.Context, id string) (*Exam, error) {
	row := r.vt.db.QueryRowContext(ctx, `
		SELECT e.id, e.resource_id, e.title, e.subject, e.folder_id, e.deleted_at, e.created_at, e.updated_at, res.data
		FROM exams e LEFT JOIN resources res ON res.id = e.resource_id
		WHERE e.id = ?`, id)

	var e Exam
	var content sql.NullString
	if err := row.Scan(&e.ID, &e.ResourceID, &e.Title, &e.Subject, &e.FolderID, &e.DeletedAt, &e.CreatedAt, &e.UpdatedAt, &content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("vfs: get exam: %w", err)
	}
	e.Content = content.String
	return &e, nil
}

// Delete soft-deletes the exam and its folder_items row.
func (r *ExamRepo) Delete(ctx context.Context, id string) error {
	return r.vt.softDelete(ctx, r.folders, id)
}

// Restore clears the soft-delete flag.
func (r *ExamRepo) Restore(ctx context.Context, id string) error {
	return r.vt.restore(ctx, r.folders, id)
}

// Purge hard-deletes the exam and best-effort decrements its resource's
// ref-count.
func (r *ExamRepo) Purge(ctx context.Context, id string) error {
	resourceID, err := r.vt.purge(ctx, r.folders, id)
	if err != nil {
		return err
	}
	r.resources.DecrementRef(ctx, resourceID)
	return nil
}

// ListByFolder returns non-deleted exams directly under folderID.
func (r *ExamRepo) ListByFolder(ctx context.Context, folderID string) ([]*Exam, error) {
	ids, err := r.vt.idsByFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	out := make([]*Exam, 0, len(ids))
	for _, id := range ids {
		e, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
