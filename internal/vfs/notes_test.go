package vfs

import (
	"context"
	"testing"
)

func TestNoteCreateAndReuse(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	folder, err := store.Folders.Create(ctx, "Biology", "", "", 0)
	if err != nil {
		t.Fatalf("Folders.Create() error = %v", err)
	}

	n1, err := store.Notes.Create(ctx, "N", "hello world", folder.ID)
	if err != nil {
		t.Fatalf("Notes.Create() error = %v", err)
	}
	if n1.Content != "hello world" || n1.Title != "N" {
		t.Fatalf("unexpected note fields: %+v", n1)
	}

	n2, err := store.Notes.Create(ctx, "N2", "hello world", folder.ID)
	if err != nil {
		t.Fatalf("Notes.Create() repeat error = %v", err)
	}
	if n1.ResourceID != n2.ResourceID {
		t.Fatalf("expected identical content to reuse the same resource, got %s vs %s", n1.ResourceID, n2.ResourceID)
	}
	if n1.ID == n2.ID {
		t.Fatalf("expected distinct note ids for distinct Create calls")
	}

	got, err := store.Notes.Get(ctx, n1.ID)
	if err != nil {
		t.Fatalf("Notes.Get() error = %v", err)
	}
	if got.Content != "hello world" {
		t.Fatalf("expected Get to inline resource content, got %q", got.Content)
	}

	list, err := store.Notes.ListByFolder(ctx, folder.ID)
	if err != nil {
		t.Fatalf("Notes.ListByFolder() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 notes in folder, got %d", len(list))
	}
}

func TestNoteDeleteRestorePurge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.Notes.Create(ctx, "N", "body", "")
	if err != nil {
		t.Fatalf("Notes.Create() error = %v", err)
	}

	if err := store.Notes.Delete(ctx, n.ID); err != nil {
		t.Fatalf("Notes.Delete() error = %v", err)
	}
	deleted, err := store.Notes.Get(ctx, n.ID)
	if err != nil {
		t.Fatalf("Notes.Get() after delete error = %v", err)
	}
	if !deleted.DeletedAt.Valid {
		t.Fatalf("expected deleted_at to be set after Delete()")
	}

	if err := store.Notes.Restore(ctx, n.ID); err != nil {
		t.Fatalf("Notes.Restore() error = %v", err)
	}
	restored, err := store.Notes.Get(ctx, n.ID)
	if err != nil {
		t.Fatalf("Notes.Get() after restore error = %v", err)
	}
	if restored.DeletedAt.Valid {
		t.Fatalf("expected deleted_at cleared after Restore()")
	}

	if err := store.Notes.Purge(ctx, n.ID); err != nil {
		t.Fatalf("Notes.Purge() error = %v", err)
	}
	if _, err := store.Notes.Get(ctx, n.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after Purge(), got %v", err)
	}

	res, err := store.Resources.GetResource(ctx, n.ResourceID)
	if err != nil {
		t.Fatalf("GetResource() after purge error = %v", err)
	}
	if res.RefCount != 0 {
		t.Fatalf("expected ref_count clamped at 0 after purge decrement, got %d", res.RefCount)
	}
}

func TestNoteCreateRequiresTitle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Notes.Create(ctx, "", "body", ""); err == nil {
		t.Fatalf("expected error for empty title")
	}
}
