package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// TaskManager persists the work items assigned to worker agents so they
// survive a process restart. This is the durable counterpart to the
// in-memory inbox: an inbox entry tells a worker "something happened", a
// task tells it "here is what to do".
type TaskManager struct {
	db *sql.DB
}

func newTaskManager(db *sql.DB) *TaskManager {
	return &TaskManager{db: db}
}

// Enqueue creates a queued task for sessionID.
func (tm *TaskManager) Enqueue(ctx context.Context, workspaceID, sessionID, payload string) (*SubagentTask, error) {
	t := &SubagentTask{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		SessionID:   sessionID,
		Status:      TaskQueued,
		Payload:     payload,
		CreatedAt:   nowMs(),
		UpdatedAt:   nowMs(),
	}
	if _, err := tm.db.ExecContext(ctx, `
		INSERT INTO subagent_tasks (id, workspace_id, session_id, status, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.WorkspaceID, t.SessionID, string(t.Status), t.Payload, t.CreatedAt, t.UpdatedAt); err != nil {
		return nil, fmt.Errorf("workspace: enqueue task: %w", err)
	}
	return t, nil
}

// SetStatus transitions a task's status.
func (tm *TaskManager) SetStatus(ctx context.Context, id string, status TaskStatus) error {
	res, err := tm.db.ExecContext(ctx, `UPDATE subagent_tasks SET status = ?, updated_at = ? WHERE id = ?`, string(status), nowMs(), id)
	if err != nil {
		return fmt.Errorf("workspace: update task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBySession returns every task ever assigned to sessionID, oldest
// first, so a restarted worker can resume queued or running work.
func (tm *TaskManager) ListBySession(ctx context.Context, sessionID string) ([]*SubagentTask, error) {
	rows, err := tm.db.QueryContext(ctx, `
		SELECT id, workspace_id, session_id, status, payload, created_at, updated_at
		FROM subagent_tasks WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("workspace: list tasks: %w", err)
	}
	defer rows.Close()

	var out []*SubagentTask
	for rows.Next() {
		var t SubagentTask
		var status string
		var payload sql.NullString
		if err := rows.Scan(&t.ID, &t.WorkspaceID, &t.SessionID, &status, &payload, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("workspace: scan task: %w", err)
		}
		t.Status = TaskStatus(status)
		t.Payload = payload.String
		out = append(out, &t)
	}
	return out, rows.Err()
}

// Get returns a single task by id.
func (tm *TaskManager) Get(ctx context.Context, id string) (*SubagentTask, error) {
	row := tm.db.QueryRowContext(ctx, `SELECT id, workspace_id, session_id, status, payload, created_at, updated_at FROM subagent_tasks WHERE id = ?`, id)
	var t SubagentTask
	var status string
	var payload sql.NullString
	if err := row.Scan(&t.ID, &t.WorkspaceID, &t.SessionID, &status, &payload, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("workspace: get task: %w", err)
	}
	t.Status = TaskStatus(status)
	t.Payload = payload.String
	return &t, nil
}
