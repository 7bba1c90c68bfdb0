package vfs

import (
	"context"
	"testing"
)

func TestPurgeUnreferencedResourcesSkipsLiveViewRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	note, err := store.Notes.Create(ctx, "N", "kept content", "")
	if err != nil {
		t.Fatalf("Notes.Create() error = %v", err)
	}

	purged, err := store.PurgeUnreferencedResources(ctx, 0)
	if err != nil {
		t.Fatalf("PurgeUnreferencedResources() error = %v", err)
	}
	if purged != 0 {
		t.Fatalf("expected sweep to skip a resource still referenced by a live note row, purged %d", purged)
	}

	if _, err := store.Resources.GetResource(ctx, note.ResourceID); err != nil {
		t.Fatalf("expected resource to survive sweep, GetResource() error = %v", err)
	}
}

func TestPurgeUnreferencedResourcesReclaimsOrphans(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, _, _, err := store.Resources.CreateOrReuse(ctx, TypeFile, []byte("orphan"), "")
	if err != nil {
		t.Fatalf("CreateOrReuse() error = %v", err)
	}

	purged, err := store.PurgeUnreferencedResources(ctx, 0)
	if err != nil {
		t.Fatalf("PurgeUnreferencedResources() error = %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected sweep to reclaim the orphaned resource, purged %d", purged)
	}
	if _, err := store.Resources.GetResource(ctx, id); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after sweep reclaimed resource, got %v", err)
	}
}

func TestPurgeUnreferencedResourcesHonoursGracePeriod(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, _, _, err := store.Resources.CreateOrReuse(ctx, TypeFile, []byte("fresh"), ""); err != nil {
		t.Fatalf("CreateOrReuse() error = %v", err)
	}

	purged, err := store.PurgeUnreferencedResources(ctx, 24*60*60*1000)
	if err != nil {
		t.Fatalf("PurgeUnreferencedResources() error = %v", err)
	}
	if purged != 0 {
		t.Fatalf("expected grace period to protect a just-created resource, purged %d", purged)
	}
}
