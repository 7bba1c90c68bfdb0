package vfs

import (
	"context"
	"testing"
)

func TestFolderMoveRejectsCycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	root, err := store.Folders.Create(ctx, "Root", "", "", 0)
	if err != nil {
		t.Fatalf("Folders.Create() error = %v", err)
	}
	child, err := store.Folders.Create(ctx, "Child", root.ID, "", 0)
	if err != nil {
		t.Fatalf("Folders.Create() error = %v", err)
	}
	grandchild, err := store.Folders.Create(ctx, "Grandchild", child.ID, "", 0)
	if err != nil {
		t.Fatalf("Folders.Create() error = %v", err)
	}

	if err := store.Folders.Move(ctx, root.ID, root.ID); err != ErrCyclicFolder {
		t.Fatalf("expected ErrCyclicFolder moving a folder onto itself, got %v", err)
	}
	if err := store.Folders.Move(ctx, root.ID, grandchild.ID); err != ErrCyclicFolder {
		t.Fatalf("expected ErrCyclicFolder moving a folder under its own descendant, got %v", err)
	}

	if err := store.Folders.Move(ctx, grandchild.ID, root.ID); err != nil {
		t.Fatalf("expected non-cyclic move to succeed, got %v", err)
	}
}

func TestFolderSoftDeleteRestoreSymmetry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	folder, err := store.Folders.Create(ctx, "Chem", "", "", 0)
	if err != nil {
		t.Fatalf("Folders.Create() error = %v", err)
	}
	note, err := store.Notes.Create(ctx, "N", "body", folder.ID)
	if err != nil {
		t.Fatalf("Notes.Create() error = %v", err)
	}

	if err := store.Folders.SoftDelete(ctx, folder.ID); err != nil {
		t.Fatalf("Folders.SoftDelete() error = %v", err)
	}
	items, err := store.Folders.ListItems(ctx, folder.ID)
	if err != nil {
		t.Fatalf("Folders.ListItems() error = %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected folder_items hidden after soft-delete, got %d", len(items))
	}

	if err := store.Folders.Restore(ctx, folder.ID); err != nil {
		t.Fatalf("Folders.Restore() error = %v", err)
	}
	items, err = store.Folders.ListItems(ctx, folder.ID)
	if err != nil {
		t.Fatalf("Folders.ListItems() after restore error = %v", err)
	}
	if len(items) != 1 || items[0].ItemID != note.ID {
		t.Fatalf("expected folder_items visible again after restore, got %v", items)
	}
}
