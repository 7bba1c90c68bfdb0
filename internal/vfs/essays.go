package vfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Essay is an essays view row: one graded round of a session's essay,
// linked back to the chat session that produced it.
type Essay struct {
	ID           string
	ResourceID   string
	SessionID    string
	RoundNumber  int
	Topic        sql.NullString
	EssayType    sql.NullString
	GradeLevel   sql.NullString
	OverallScore sql.NullFloat64
	ScoresJSON   sql.NullString
	FolderID     sql.NullString
	DeletedAt    sql.NullInt64
	CreatedAt    int64
	UpdatedAt    int64
	Content      string
}

// EssayRepo implements the per-type repo protocol for essays, plus the
// grading-pipeline-specific CreateGraded/ListBySession operations. Each
// round is its own 1:1 resource (salted by a fresh id), since identical
// text across rounds must not dedup into one row — §8 E6 requires three
// linked-but-distinct essay rows for three rounds of the same session.
type EssayRepo struct {
	vt        viewTable
	resources *ResourceStore
	folders   *FolderStore
}

// CreateGraded commits one graded round: the raw model result becomes the
// resource content, and overallScore/scoresJSON carry the parsed rubric
// score. sessionID must already exist in the chat store; the caller is
// responsible for that check before calling CreateGraded (this repo has no
// visibility into chat sessions, which live in a separate database).
func (r *EssayRepo) CreateGraded(ctx context.Context, sessionID string, roundNumber int, topic, essayType, gradeLevel, rawResult string, overallScore *float64, scoresJSON string, folderID string) (*Essay, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id required", ErrInvalidInput)
	}
	tx, err := r.vt.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("vfs: create essay: %w", err)
	}
	defer tx.Rollback()

	id := uuid.New().String()
	resourceID, _, _, err := r.resources.CreateOrReuseWithSaltTx(ctx, tx, TypeEssay, []byte(rawResult), id, "")
	if err != nil {
		return nil, fmt.Errorf("vfs: create essay resource: %w", err)
	}

	now := nowMs()
	var scoreArg sql.NullFloat64
	if overallScore != nil {
		scoreArg = sql.NullFloat64{Float64: *overallScore, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO essays (id, resource_id, session_id, round_number, topic, essay_type, grade_level, overall_score, scores_json, folder_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, resourceID, sessionID, roundNumber, nullableString(topic), nullableString(essayType), nullableString(gradeLevel), scoreArg, nullableString(scoresJSON), nullableString(folderID), now, now); err != nil {
		return nil, fmt.Errorf("vfs: insert essay: %w", err)
	}
	if err := r.resources.SetSourceID(ctx, tx, resourceID, id, "essays"); err != nil {
		return nil, err
	}
	if folderID != "" {
		if err := r.folders.AddItem(ctx, tx, folderID, r.vt.itemType, id, 0); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("vfs: create essay commit: %w", err)
	}
	return r.Get(ctx, id)
}

// Get reads an essay with its raw result inlined.
func (r *EssayRepo) Get(ctx context.Context, id string) (*Essay, error) {
	row := r.vt.db.QueryRowContext(ctx, `
		SELECT e.id, e.resource_id, e.session_id, e.round_number, e.topic, e.essay_type, e.grade_level, e.overall_score, e.scores_json, e.folder_id, e.deleted_at, e.created_at, e.updated_at, res.data
		FROM essays e LEFT JOIN resources res ON res.id = e.resource_id
		WHERE e.id = ?`, id)

	var e Essay
	var content sql.NullString
	if err := row.Scan(&e.ID, &e.ResourceID, &e.SessionID, &e.RoundNumber, &e.Topic, &e.EssayType, &e.GradeLevel, &e.OverallScore, &e.ScoresJSON, &e.FolderID, &e.DeletedAt, &e.CreatedAt, &e.UpdatedAt, &content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("vfs: get essay: %w", err)
	}
	e.Content = content.String
	return &e, nil
}

// ListBySession returns every graded round for a session, oldest round
// first, so the grading pipeline can render round-over-round progress.
func (r *EssayRepo) ListBySession(ctx context.Context, sessionID string) ([]*Essay, error) {
	rows, err := r.vt.db.QueryContext(ctx, `SELECT id FROM essays WHERE session_id = ? AND deleted_at IS NULL ORDER BY round_number ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("vfs: list essays by session: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("vfs: scan essay id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Essay, 0, len(ids))
	for _, id := range ids {
		e, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Delete soft-deletes the essay and its folder_items row.
func (r *EssayRepo) Delete(ctx context.Context, id string) error {
	return r.vt.softDelete(ctx, r.folders, id)
}

// Restore clears the soft-delete flag.
func (r *EssayRepo) Restore(ctx context.Context, id string) error {
	return r.vt.restore(ctx, r.folders, id)
}

// Purge hard-deletes the essay and best-effort decrements its resource's
// ref-count.
func (r *EssayRepo) Purge(ctx context.Context, id string) error {
	resourceID, err := r.vt.purge(ctx, r.folders, id)
	if err != nil {
		return err
	}
	r.resources.DecrementRef(ctx, resourceID)
	return nil
}

// ListByFolder returns non-deleted essays directly under folderID.
func (r *EssayRepo) ListByFolder(ctx context.Context, folderID string) ([]*Essay, error) {
	ids, err := r.vt.idsByFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	out := make([]*Essay, 0, len(ids))
	for _, id := range ids {
		e, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
