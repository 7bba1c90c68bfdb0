package vfs

import (
	"context"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateOrReuseDedup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, hash1, isNew1, err := store.Resources.CreateOrReuse(ctx, TypeNote, []byte("hello world"), "")
	if err != nil {
		t.Fatalf("CreateOrReuse() error = %v", err)
	}
	if !isNew1 {
		t.Fatalf("expected first call to report is_new=true")
	}

	id2, hash2, isNew2, err := store.Resources.CreateOrReuse(ctx, TypeNote, []byte("hello world"), "")
	if err != nil {
		t.Fatalf("CreateOrReuse() repeat error = %v", err)
	}
	if isNew2 {
		t.Fatalf("expected repeat call to report is_new=false")
	}
	if id1 != id2 || hash1 != hash2 {
		t.Fatalf("expected same resource id/hash, got %s/%s vs %s/%s", id1, hash1, id2, hash2)
	}
}

func TestCreateOrReuseConcurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	content := []byte("concurrent content")

	const n = 8
	ids := make([]string, n)
	news := make([]bool, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			id, _, isNew, err := store.Resources.CreateOrReuse(ctx, TypeNote, content, "")
			if err != nil {
				t.Errorf("CreateOrReuse() goroutine %d error = %v", i, err)
				return
			}
			ids[i] = id
			news[i] = isNew
		}(i)
	}
	wg.Wait()

	newCount := 0
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("expected all goroutines to converge on one resource id, got %v", ids)
		}
	}
	for _, isNew := range news {
		if isNew {
			newCount++
		}
	}
	if newCount != 1 {
		t.Fatalf("expected exactly one is_new=true, got %d", newCount)
	}
}

func TestCreateOrReuseWithSaltAvoidsDedup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, hash1, _, err := store.Resources.CreateOrReuseWithSalt(ctx, TypeMindmap, []byte("same body"), "salt-a", "")
	if err != nil {
		t.Fatalf("CreateOrReuseWithSalt() error = %v", err)
	}
	id2, hash2, _, err := store.Resources.CreateOrReuseWithSalt(ctx, TypeMindmap, []byte("same body"), "salt-b", "")
	if err != nil {
		t.Fatalf("CreateOrReuseWithSalt() error = %v", err)
	}
	if id1 == id2 || hash1 == hash2 {
		t.Fatalf("expected distinct resources for distinct salts, got %s/%s", id1, id2)
	}
}

func TestRefCountClamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, _, _, err := store.Resources.CreateOrReuse(ctx, TypeNote, []byte("x"), "")
	if err != nil {
		t.Fatalf("CreateOrReuse() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		count, err := store.Resources.DecrementRef(ctx, id)
		if err != nil {
			t.Fatalf("DecrementRef() error = %v", err)
		}
		if count != 0 {
			t.Fatalf("expected ref_count clamped at 0, got %d", count)
		}
	}

	count, err := store.Resources.IncrementRef(ctx, id)
	if err != nil {
		t.Fatalf("IncrementRef() error = %v", err)
	}
	if count != 1 {
		t.Fatalf("expected ref_count=1 after one increment, got %d", count)
	}
}

func TestUpdateResourceDataNoOpWhenUnchanged(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, _, _, err := store.Resources.CreateOrReuse(ctx, TypeNote, []byte("content"), "")
	if err != nil {
		t.Fatalf("CreateOrReuse() error = %v", err)
	}

	changed, err := store.Resources.UpdateResourceData(ctx, id, []byte("content"))
	if err != nil {
		t.Fatalf("UpdateResourceData() error = %v", err)
	}
	if changed {
		t.Fatalf("expected no-op for identical content")
	}

	changed, err = store.Resources.UpdateResourceData(ctx, id, []byte("new content"))
	if err != nil {
		t.Fatalf("UpdateResourceData() error = %v", err)
	}
	if !changed {
		t.Fatalf("expected change to be reported for different content")
	}

	res, err := store.Resources.GetResource(ctx, id)
	if err != nil {
		t.Fatalf("GetResource() error = %v", err)
	}
	if string(res.Data) != "new content" {
		t.Fatalf("expected updated data, got %q", res.Data)
	}
	if res.IndexState != IndexPending {
		t.Fatalf("expected index_state reset to pending, got %s", res.IndexState)
	}
}

func TestSearchMatchesOCRText(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, _, _, err := store.Resources.CreateOrReuse(ctx, TypeImage, []byte{0x01}, "")
	if err != nil {
		t.Fatalf("CreateOrReuse() error = %v", err)
	}
	if err := store.Resources.SaveOCRText(ctx, id, "a page about photosynthesis"); err != nil {
		t.Fatalf("SaveOCRText() error = %v", err)
	}

	results, err := store.Resources.Search(ctx, "photosynthesis", nil, 10, 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].ID != id {
		t.Fatalf("expected search to find the OCR-indexed resource, got %v", results)
	}
}
