package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus-study/internal/observability"
)

// Instance is one open workspace: its record, dedicated database, and the
// in-memory subsystems (inbox, router, sleep manager, task manager) layered
// on top of it.
type Instance struct {
	// mu guards the instance's own mutable state (db lifecycle during
	// maintenance mode); inbox mutation has its own lock inside
	// InboxManager, per the two-tier locking the coordinator uses.
	mu sync.Mutex

	Workspace *Workspace
	path      string
	db        *sql.DB
	logger    *observability.Logger

	Inbox  *InboxManager
	Router *MessageRouter
	Sleep  *SleepManager
	Tasks  *TaskManager
	Bus    EventBus
}

func openInstance(ctx context.Context, path string, ws *Workspace, inboxCapacity int, bus EventBus, logger *observability.Logger) (*Instance, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("workspace: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("workspace: set pragmas: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("workspace: migrate: %w", err)
	}

	inbox := newInboxManager(db, inboxCapacity)
	if err := inbox.restore(ctx); err != nil {
		db.Close()
		return nil, err
	}

	inst := &Instance{
		Workspace: ws,
		path:      path,
		db:        db,
		logger:    logger,
		Inbox:     inbox,
		Router:    newMessageRouter(db, inbox, bus),
		Sleep:     newSleepManager(db),
		Tasks:     newTaskManager(db),
		Bus:       bus,
	}
	return inst, nil
}

// loadWorkspaceRow reads the single workspace row self-describing an
// already-migrated database, used when the manager rediscovers workspaces
// on startup by scanning its data directory.
func loadWorkspaceRow(db *sql.DB) (*Workspace, error) {
	row := db.QueryRow(`SELECT id, creator_session_id, status, name, created_at, updated_at FROM workspace LIMIT 1`)
	var ws Workspace
	var status string
	var name sql.NullString
	if err := row.Scan(&ws.ID, &ws.CreatorSessionID, &status, &name, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
		return nil, err
	}
	ws.Status = Status(status)
	ws.Name = name.String
	return &ws, nil
}

// CreateAgent registers a new agent session in this workspace.
func (inst *Instance) CreateAgent(ctx context.Context, sessionID string, role AgentRole, skillID string) (*Agent, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id required", ErrInvalidInput)
	}
	now := nowMs()
	a := &Agent{
		WorkspaceID: inst.Workspace.ID,
		SessionID:   sessionID,
		Role:        role,
		Status:      AgentIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if skillID != "" {
		a.SkillID = sql.NullString{String: skillID, Valid: true}
	}
	if _, err := inst.db.ExecContext(ctx, `
		INSERT INTO agents (workspace_id, session_id, role, status, skill_id, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?)`,
		a.WorkspaceID, a.SessionID, string(a.Role), string(a.Status), a.SkillID, a.CreatedAt, a.UpdatedAt); err != nil {
		return nil, fmt.Errorf("workspace: create agent: %w", err)
	}
	return a, nil
}

// GetAgent returns an agent by session id, erroring if it is not a member.
func (inst *Instance) GetAgent(ctx context.Context, sessionID string) (*Agent, error) {
	row := inst.db.QueryRowContext(ctx, `
		SELECT workspace_id, session_id, role, status, skill_id, metadata_json, created_at, updated_at
		FROM agents WHERE workspace_id = ? AND session_id = ?`, inst.Workspace.ID, sessionID)
	var a Agent
	var role, status string
	if err := row.Scan(&a.WorkspaceID, &a.SessionID, &role, &status, &a.SkillID, &a.Metadata, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotMember
		}
		return nil, fmt.Errorf("workspace: get agent: %w", err)
	}
	a.Role = AgentRole(role)
	a.Status = AgentStatus(status)
	return &a, nil
}

// UpdateAgentStatus transitions an agent's status and, when the new status
// is completed or failed, wakes any coordinator sleeping on this agent
// reaching that status.
func (inst *Instance) UpdateAgentStatus(ctx context.Context, sessionID string, status AgentStatus) error {
	res, err := inst.db.ExecContext(ctx, `UPDATE agents SET status = ?, updated_at = ? WHERE workspace_id = ? AND session_id = ?`,
		string(status), nowMs(), inst.Workspace.ID, sessionID)
	if err != nil {
		return fmt.Errorf("workspace: update agent status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotMember
	}
	inst.Sleep.WakeByStatus(sessionID, status)
	return nil
}

// requireActor enforces that sessionID is either the workspace creator or a
// registered agent, per the "all operations validate membership" rule.
func (inst *Instance) requireActor(ctx context.Context, sessionID string) error {
	if sessionID == inst.Workspace.CreatorSessionID {
		return nil
	}
	_, err := inst.GetAgent(ctx, sessionID)
	return err
}

// SetContext writes a shared key-value entry. Only the coordinator or the
// workspace creator may call this.
func (inst *Instance) SetContext(ctx context.Context, actorSessionID, key, value string) error {
	agent, err := inst.GetAgent(ctx, actorSessionID)
	isCreator := actorSessionID == inst.Workspace.CreatorSessionID
	if !isCreator {
		if err != nil {
			return err
		}
		if agent.Role != RoleCoordinator {
			return fmt.Errorf("%w: only the coordinator or creator may set context", ErrNotMember)
		}
	}
	_, err = inst.db.ExecContext(ctx, `
		INSERT INTO context_kv (workspace_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(workspace_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		inst.Workspace.ID, key, value, nowMs())
	if err != nil {
		return fmt.Errorf("workspace: set context: %w", err)
	}
	return nil
}

// GetContext reads a shared key-value entry.
func (inst *Instance) GetContext(ctx context.Context, key string) (string, error) {
	var value string
	err := inst.db.QueryRowContext(ctx, `SELECT value FROM context_kv WHERE workspace_id = ? AND key = ?`, inst.Workspace.ID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("workspace: get context: %w", err)
	}
	return value, nil
}

// SaveDocument inserts a new version of a named document; versions are
// never overwritten, so DocumentHistory can always recover prior drafts.
func (inst *Instance) SaveDocument(ctx context.Context, kind DocumentKind, title, content string) (*Document, error) {
	var lastVersion int
	err := inst.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM documents WHERE workspace_id = ? AND title = ?`, inst.Workspace.ID, title).Scan(&lastVersion)
	if err != nil {
		return nil, fmt.Errorf("workspace: read document version: %w", err)
	}
	d := &Document{
		ID:          uuid.New().String(),
		WorkspaceID: inst.Workspace.ID,
		Kind:        kind,
		Title:       title,
		Content:     content,
		Version:     lastVersion + 1,
		CreatedAt:   nowMs(),
	}
	if _, err := inst.db.ExecContext(ctx, `
		INSERT INTO documents (id, workspace_id, kind, title, content, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.WorkspaceID, string(d.Kind), d.Title, d.Content, d.Version, d.CreatedAt); err != nil {
		return nil, fmt.Errorf("workspace: save document: %w", err)
	}
	return d, nil
}

// ReadDocument returns the latest version of title, or a specific version
// when version > 0.
func (inst *Instance) ReadDocument(ctx context.Context, title string, version int) (*Document, error) {
	var row *sql.Row
	if version > 0 {
		row = inst.db.QueryRowContext(ctx, `SELECT id, workspace_id, kind, title, content, version, created_at FROM documents WHERE workspace_id = ? AND title = ? AND version = ?`, inst.Workspace.ID, title, version)
	} else {
		row = inst.db.QueryRowContext(ctx, `SELECT id, workspace_id, kind, title, content, version, created_at FROM documents WHERE workspace_id = ? AND title = ? ORDER BY version DESC LIMIT 1`, inst.Workspace.ID, title)
	}
	var d Document
	var kind string
	if err := row.Scan(&d.ID, &d.WorkspaceID, &kind, &d.Title, &d.Content, &d.Version, &d.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("workspace: read document: %w", err)
	}
	d.Kind = DocumentKind(kind)
	return &d, nil
}

// releasePool closes the underlying *sql.DB handle for maintenance mode,
// without touching the in-memory inbox/sleep/task state, so the file can be
// safely copied by an external backup tool.
func (inst *Instance) releasePool() error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.db.Close()
}

// reacquirePool reopens the database after maintenance mode.
func (inst *Instance) reacquirePool(ctx context.Context) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	db, err := sql.Open("sqlite", inst.path)
	if err != nil {
		return fmt.Errorf("workspace: reopen %s: %w", inst.path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return fmt.Errorf("workspace: set pragmas: %w", err)
	}
	inst.db = db
	inst.Inbox.db = db
	inst.Router.db = db
	inst.Sleep.db = db
	inst.Tasks.db = db
	return nil
}

// Close releases the instance's database handle without deleting the file.
func (inst *Instance) Close() error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.db.Close()
}
