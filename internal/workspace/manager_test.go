package workspace

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/nexus-study/internal/observability"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	logger := observability.NewLogger(observability.LogConfig{Level: "error", Format: "text"})
	m, err := NewManager(context.Background(), Config{DataDir: dir, InboxCapacity: 8}, logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestCreateWorkspaceRegistersCoordinator(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	inst, err := m.CreateWorkspace(ctx, "creator-1", "essay review")
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	if inst.Workspace.Status != StatusActive {
		t.Fatalf("Workspace.Status = %v, want active", inst.Workspace.Status)
	}

	agent, err := inst.GetAgent(ctx, "creator-1")
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if agent.Role != RoleCoordinator {
		t.Fatalf("coordinator agent role = %v, want coordinator", agent.Role)
	}

	got, err := m.Get(inst.Workspace.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Workspace.ID != inst.Workspace.ID {
		t.Fatalf("Get() returned a different instance")
	}
}

func TestCreateAgentWorkerEnqueuesInitialTask(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	inst, err := m.CreateWorkspace(ctx, "creator-1", "essay review")
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}

	worker, err := m.CreateAgent(ctx, inst.Workspace.ID, "creator-1", "worker-1", RoleWorker, "grader", "grade essay 42")
	if err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	if worker.Status != AgentIdle {
		t.Fatalf("new worker status = %v, want idle", worker.Status)
	}

	tasks, err := inst.Tasks.ListBySession(ctx, "worker-1")
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(tasks) != 1 || tasks[0].Payload != "grade essay 42" {
		t.Fatalf("ListBySession() = %+v, want one queued task with the initial payload", tasks)
	}
	if tasks[0].Status != TaskQueued {
		t.Fatalf("initial task status = %v, want queued", tasks[0].Status)
	}

	entries, err := inst.Router.DrainInbox(ctx, "worker-1", 10)
	if err != nil {
		t.Fatalf("DrainInbox() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Message.Type != MessageWorkerReady {
		t.Fatalf("DrainInbox() = %+v, want one worker_ready message", entries)
	}
}

func TestCreateAgentRejectsNonMemberActor(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	inst, err := m.CreateWorkspace(ctx, "creator-1", "essay review")
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}

	if _, err := m.CreateAgent(ctx, inst.Workspace.ID, "stranger", "worker-1", RoleWorker, "", ""); err == nil {
		t.Fatalf("CreateAgent() with a non-member actor should fail")
	}
}

func TestCloseWorkspaceMarksCompleted(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	inst, err := m.CreateWorkspace(ctx, "creator-1", "essay review")
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	if err := m.CloseWorkspace(ctx, inst.Workspace.ID, "creator-1"); err != nil {
		t.Fatalf("CloseWorkspace() error = %v", err)
	}
	if inst.Workspace.Status != StatusCompleted {
		t.Fatalf("Workspace.Status = %v, want completed", inst.Workspace.Status)
	}
}

func TestDeleteWorkspaceRemovesDBFile(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	inst, err := m.CreateWorkspace(ctx, "creator-1", "essay review")
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	id := inst.Workspace.ID
	path := m.pathFor(id)

	if err := m.DeleteWorkspace(ctx, id, "creator-1"); err != nil {
		t.Fatalf("DeleteWorkspace() error = %v", err)
	}
	if _, err := m.Get(id); err != ErrNotFound {
		t.Fatalf("Get() after delete = %v, want ErrNotFound", err)
	}
	if filepath.Dir(path) != m.dataDir {
		t.Fatalf("unexpected db path %q", path)
	}
}

func TestMaintenanceModeBlocksCreateWorkspace(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	m.EnterMaintenanceMode(ctx)
	if _, err := m.CreateWorkspace(ctx, "creator-1", "essay review"); err != ErrMaintenanceMode {
		t.Fatalf("CreateWorkspace() during maintenance = %v, want ErrMaintenanceMode", err)
	}
	m.ExitMaintenanceMode(ctx)

	if _, err := m.CreateWorkspace(ctx, "creator-1", "essay review"); err != nil {
		t.Fatalf("CreateWorkspace() after exiting maintenance error = %v", err)
	}
}

func TestRestoreRediscoversWorkspaceAfterRestart(t *testing.T) {
	dir := t.TempDir()
	logger := observability.NewLogger(observability.LogConfig{Level: "error", Format: "text"})
	ctx := context.Background()

	m1, err := NewManager(ctx, Config{DataDir: dir, InboxCapacity: 8}, logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	inst, err := m1.CreateWorkspace(ctx, "creator-1", "essay review")
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	id := inst.Workspace.ID
	if err := m1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	m2, err := NewManager(ctx, Config{DataDir: dir, InboxCapacity: 8}, logger)
	if err != nil {
		t.Fatalf("second NewManager() error = %v", err)
	}
	t.Cleanup(func() { m2.Close() })

	restored, err := m2.Get(id)
	if err != nil {
		t.Fatalf("Get() after restart error = %v", err)
	}
	if restored.Workspace.CreatorSessionID != "creator-1" {
		t.Fatalf("restored workspace creator = %q, want creator-1", restored.Workspace.CreatorSessionID)
	}
}
