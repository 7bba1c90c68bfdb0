package governance

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreCreateGetUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	job := &Job{ID: "job-1", Kind: JobBackup, State: JobQueued, CreatedAt: time.Now()}
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State != JobQueued {
		t.Fatalf("State = %v, want %v", got.State, JobQueued)
	}

	job.State = JobRunning
	job.Progress = Progress{Phase: PhaseCheckpoint, Percent: 50}
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err = store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get() after update error = %v", err)
	}
	if got.State != JobRunning || got.Progress.Percent != 50 {
		t.Fatalf("Get() after update = %+v", got)
	}
}

func TestMemoryStoreGetMissingReturnsNotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreListOrdersByCreation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Create(ctx, &Job{ID: id, Kind: JobBackup, State: JobQueued, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}

	jobs, err := store.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("List() returned %d jobs, want 3", len(jobs))
	}
	if jobs[0].ID != "a" || jobs[2].ID != "c" {
		t.Fatalf("List() order = %v", jobs)
	}
}

func TestMemoryStorePruneRemovesOldJobs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	old := &Job{ID: "old", Kind: JobBackup, State: JobCompleted, CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &Job{ID: "fresh", Kind: JobBackup, State: JobCompleted, CreatedAt: time.Now()}
	store.Create(ctx, old)
	store.Create(ctx, fresh)

	pruned, err := store.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 1 {
		t.Fatalf("Prune() = %d, want 1", pruned)
	}
	if _, err := store.Get(ctx, "old"); err != ErrNotFound {
		t.Fatalf("expected old job pruned, Get() error = %v", err)
	}
	if _, err := store.Get(ctx, "fresh"); err != nil {
		t.Fatalf("expected fresh job kept, Get() error = %v", err)
	}
}

func TestJobCancelSafeReflectsDestructivePhase(t *testing.T) {
	j := &Job{Progress: Progress{Phase: PhaseVerify}}
	if !j.CancelSafe() {
		t.Fatalf("CancelSafe() during Verify = false, want true")
	}
	j.Progress.Phase = PhaseReplace
	if j.CancelSafe() {
		t.Fatalf("CancelSafe() during Replace = true, want false")
	}
}

func TestMemoryStoreCancelHonoursCancelSafe(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	called := false
	job := &Job{ID: "job-1", Kind: JobRestore, State: JobRunning, CreatedAt: time.Now(), Progress: Progress{Phase: PhaseReplace}}
	store.Create(ctx, job)
	store.setCancelFunc("job-1", func() { called = true })

	if err := store.Cancel(ctx, "job-1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if called {
		t.Fatalf("cancelFunc invoked during a destructive (Replace) phase, want deferred")
	}
}

func TestJobGateSerialisesAcquisition(t *testing.T) {
	gate := NewJobGate()
	ctx := context.Background()

	release, err := gate.Acquire(ctx, true)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	if _, err := gate.Acquire(ctx, true); err != ErrJobBusy {
		t.Fatalf("second Acquire(tryOnly) error = %v, want ErrJobBusy", err)
	}
	release()
	if release2, err := gate.Acquire(ctx, true); err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	} else {
		release2()
	}
}
