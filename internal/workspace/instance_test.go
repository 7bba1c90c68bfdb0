package workspace

import (
	"context"
	"testing"
	"time"
)

func TestInboxOverflowSurfacesDroppedRecipient(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	inst, err := m.CreateWorkspace(ctx, "creator-1", "overflow test")
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	if _, err := m.CreateAgent(ctx, inst.Workspace.ID, "creator-1", "worker-1", RoleWorker, "", ""); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}

	target := "worker-1"
	for i := 0; i < 8; i++ {
		if _, overflow, err := inst.Router.Send(ctx, inst.Workspace.ID, "creator-1", &target, MessageText, "fill"); err != nil {
			t.Fatalf("Send() error = %v", err)
		} else if overflow != nil {
			t.Fatalf("unexpected overflow before capacity reached: %+v", overflow)
		}
	}

	_, overflow, err := inst.Router.Send(ctx, inst.Workspace.ID, "creator-1", &target, MessageText, "one too many")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if overflow == nil || len(overflow.DroppedFor) != 1 || overflow.DroppedFor[0] != "worker-1" {
		t.Fatalf("Send() overflow = %+v, want dropped worker-1", overflow)
	}
}

func TestSetContextRequiresCreatorOrCoordinator(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	inst, err := m.CreateWorkspace(ctx, "creator-1", "context test")
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	if _, err := m.CreateAgent(ctx, inst.Workspace.ID, "creator-1", "worker-1", RoleWorker, "", ""); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}

	if err := inst.SetContext(ctx, "worker-1", "plan", "v1"); err == nil {
		t.Fatalf("SetContext() from a worker should be rejected")
	}
	if err := inst.SetContext(ctx, "creator-1", "plan", "v1"); err != nil {
		t.Fatalf("SetContext() from the creator error = %v", err)
	}
	got, err := inst.GetContext(ctx, "plan")
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if got != "v1" {
		t.Fatalf("GetContext() = %q, want v1", got)
	}
}

func TestSaveDocumentNeverOverwritesVersions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	inst, err := m.CreateWorkspace(ctx, "creator-1", "doc test")
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}

	first, err := inst.SaveDocument(ctx, DocPlan, "research-plan", "draft one")
	if err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}
	second, err := inst.SaveDocument(ctx, DocPlan, "research-plan", "draft two")
	if err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}
	if first.Version != 1 || second.Version != 2 {
		t.Fatalf("versions = %d, %d, want 1, 2", first.Version, second.Version)
	}

	latest, err := inst.ReadDocument(ctx, "research-plan", 0)
	if err != nil {
		t.Fatalf("ReadDocument(latest) error = %v", err)
	}
	if latest.Content != "draft two" {
		t.Fatalf("ReadDocument(latest).Content = %q, want draft two", latest.Content)
	}

	v1, err := inst.ReadDocument(ctx, "research-plan", 1)
	if err != nil {
		t.Fatalf("ReadDocument(v1) error = %v", err)
	}
	if v1.Content != "draft one" {
		t.Fatalf("ReadDocument(v1).Content = %q, want draft one", v1.Content)
	}
}

func TestUpdateAgentStatusWakesSleeper(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	inst, err := m.CreateWorkspace(ctx, "creator-1", "sleep test")
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	if _, err := m.CreateAgent(ctx, inst.Workspace.ID, "creator-1", "worker-1", RoleWorker, "", ""); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- inst.Sleep.Sleep(ctx, "creator-1", "worker-1", AgentCompleted)
	}()

	time.Sleep(20 * time.Millisecond) // let the sleeper register before waking it
	if err := inst.UpdateAgentStatus(ctx, "worker-1", AgentCompleted); err != nil {
		t.Fatalf("UpdateAgentStatus() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Sleep() returned error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Sleep() was not woken within timeout")
	}
}

func TestMaintenanceModeRoundTripsPool(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	inst, err := m.CreateWorkspace(ctx, "creator-1", "maintenance test")
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}

	m.EnterMaintenanceMode(ctx)
	m.ExitMaintenanceMode(ctx)

	if _, err := inst.GetAgent(ctx, "creator-1"); err != nil {
		t.Fatalf("GetAgent() after maintenance round-trip error = %v", err)
	}
}
