package workspace

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus-study/internal/observability"
)

// Manager is the process-wide registry of open workspace instances. It
// holds two tiers of locking, per the coordinator's design: mu guards the
// instance map itself, while each Instance's own inbox has its own lock —
// so draining one workspace's inbox never blocks another workspace's
// CreateWorkspace call.
type Manager struct {
	mu            sync.RWMutex
	instances     map[string]*Instance
	dataDir       string
	inboxCapacity int
	bus           EventBus
	redis         *redisBus
	logger        *observability.Logger
	maintenance   bool
}

// Config configures a Manager.
type Config struct {
	DataDir       string
	InboxCapacity int
	RedisAddr     string
}

// NewManager constructs a Manager and restores every workspace found as a
// *.db file under cfg.DataDir.
func NewManager(ctx context.Context, cfg Config, logger *observability.Logger) (*Manager, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("%w: data dir required", ErrInvalidInput)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create data dir: %w", err)
	}
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Level: "info", Format: "text"})
	}

	m := &Manager{
		instances:     make(map[string]*Instance),
		dataDir:       cfg.DataDir,
		inboxCapacity: cfg.InboxCapacity,
		bus:           newChannelBus(),
		logger:        logger,
	}
	if cfg.RedisAddr != "" {
		rb, err := newRedisBus(cfg.RedisAddr, logger)
		if err != nil {
			return nil, fmt.Errorf("workspace: connect redis event bus: %w", err)
		}
		m.redis = rb
		m.bus = rb
	}

	if err := m.restore(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) restore(ctx context.Context) error {
	entries, err := os.ReadDir(m.dataDir)
	if err != nil {
		return fmt.Errorf("workspace: scan data dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".db" {
			continue
		}
		path := filepath.Join(m.dataDir, entry.Name())
		db, err := sql.Open("sqlite", path)
		if err != nil {
			m.logger.Warn(ctx, "workspace: skip unreadable db during restore", "path", path, "error", err)
			continue
		}
		ws, err := loadWorkspaceRow(db)
		db.Close()
		if err != nil {
			m.logger.Warn(ctx, "workspace: skip db with no workspace row", "path", path, "error", err)
			continue
		}
		inst, err := openInstance(ctx, path, ws, m.inboxCapacity, m.bus, m.logger)
		if err != nil {
			m.logger.Warn(ctx, "workspace: failed to reopen instance", "path", path, "error", err)
			continue
		}
		m.instances[ws.ID] = inst
	}
	return nil
}

func (m *Manager) pathFor(id string) string {
	return filepath.Join(m.dataDir, id+".db")
}

// CreateWorkspace creates a new workspace owned by creatorSessionID, opens
// its dedicated database, and registers a coordinator agent bound to the
// same session.
func (m *Manager) CreateWorkspace(ctx context.Context, creatorSessionID, name string) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maintenance {
		return nil, ErrMaintenanceMode
	}
	if creatorSessionID == "" {
		return nil, fmt.Errorf("%w: creator session id required", ErrInvalidInput)
	}

	now := nowMs()
	ws := &Workspace{
		ID:               uuid.New().String(),
		CreatorSessionID: creatorSessionID,
		Status:           StatusActive,
		Name:             name,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	inst, err := openInstance(ctx, m.pathFor(ws.ID), ws, m.inboxCapacity, m.bus, m.logger)
	if err != nil {
		return nil, err
	}
	if _, err := inst.db.ExecContext(ctx, `
		INSERT INTO workspace (id, creator_session_id, status, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ws.ID, ws.CreatorSessionID, string(ws.Status), ws.Name, ws.CreatedAt, ws.UpdatedAt); err != nil {
		inst.db.Close()
		return nil, fmt.Errorf("workspace: persist workspace row: %w", err)
	}
	if _, err := inst.CreateAgent(ctx, creatorSessionID, RoleCoordinator, ""); err != nil {
		inst.db.Close()
		return nil, err
	}

	m.instances[ws.ID] = inst
	return inst, nil
}

// Get returns the open instance for workspaceID.
func (m *Manager) Get(workspaceID string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[workspaceID]
	if !ok {
		return nil, ErrNotFound
	}
	return inst, nil
}

// CreateAgent adds a worker (or additional coordinator) to an existing
// workspace. When role is worker and initialTaskPayload is non-empty, the
// task is enqueued and persisted so it survives a restart, and a
// worker_ready broadcast fires so the UI can auto-start the worker's chat
// pipeline.
func (m *Manager) CreateAgent(ctx context.Context, workspaceID, actorSessionID, newSessionID string, role AgentRole, skillID, initialTaskPayload string) (*Agent, error) {
	inst, err := m.Get(workspaceID)
	if err != nil {
		return nil, err
	}
	if err := inst.requireActor(ctx, actorSessionID); err != nil {
		return nil, err
	}
	agent, err := inst.CreateAgent(ctx, newSessionID, role, skillID)
	if err != nil {
		return nil, err
	}
	if role == RoleWorker && initialTaskPayload != "" {
		if _, err := inst.Tasks.Enqueue(ctx, workspaceID, newSessionID, initialTaskPayload); err != nil {
			return nil, err
		}
		target := newSessionID
		if _, _, err := inst.Router.Send(ctx, workspaceID, actorSessionID, &target, MessageWorkerReady, initialTaskPayload); err != nil {
			return nil, err
		}
	}
	return agent, nil
}

// CloseWorkspace stops routing and marks the workspace completed, without
// deleting its database.
func (m *Manager) CloseWorkspace(ctx context.Context, workspaceID, actorSessionID string) error {
	inst, err := m.Get(workspaceID)
	if err != nil {
		return err
	}
	if err := inst.requireActor(ctx, actorSessionID); err != nil {
		return err
	}
	if _, err := inst.db.ExecContext(ctx, `UPDATE workspace SET status = ?, updated_at = ? WHERE id = ?`, string(StatusCompleted), nowMs(), workspaceID); err != nil {
		return fmt.Errorf("workspace: close workspace: %w", err)
	}
	inst.Workspace.Status = StatusCompleted
	return nil
}

// DeleteWorkspace closes and removes the workspace's dedicated database
// file. Cleanup of the worker chat sessions that belonged to this workspace
// is the caller's responsibility (internal/chatpipeline owns session
// deletion) — the manager only owns the workspace's own database.
func (m *Manager) DeleteWorkspace(ctx context.Context, workspaceID, actorSessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[workspaceID]
	if !ok {
		return ErrNotFound
	}
	if err := inst.requireActor(ctx, actorSessionID); err != nil {
		return err
	}
	path := inst.path
	if err := inst.db.Close(); err != nil {
		return fmt.Errorf("workspace: close before delete: %w", err)
	}
	delete(m.instances, workspaceID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("workspace: remove db file: %w", err)
	}
	return nil
}

// EnterMaintenanceMode releases every instance's connection pool so backup
// tooling can safely copy the underlying files. Per-instance failures are
// logged but never abort the overall transition.
func (m *Manager) EnterMaintenanceMode(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maintenance = true
	for id, inst := range m.instances {
		if err := inst.releasePool(); err != nil {
			m.logger.Error(ctx, "workspace: failed to release pool for maintenance", "workspace_id", id, "error", err)
		}
	}
}

// ExitMaintenanceMode reopens every instance's connection pool.
func (m *Manager) ExitMaintenanceMode(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, inst := range m.instances {
		if err := inst.reacquirePool(ctx); err != nil {
			m.logger.Error(ctx, "workspace: failed to reacquire pool after maintenance", "workspace_id", id, "error", err)
		}
	}
	m.maintenance = false
}

// Close shuts down every open instance and the Redis event bus, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.instances {
		inst.db.Close()
	}
	if m.redis != nil {
		return m.redis.Close()
	}
	return nil
}
