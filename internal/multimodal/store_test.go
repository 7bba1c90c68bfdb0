package multimodal

import (
	"context"
	"database/sql"
	"testing"
)

func newTestStore(t *testing.T) *MultimodalVectorStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewMultimodalVectorStore(db)
}

func samplePage(id, sourceID string, dim int) *Page {
	embedding := make([]float32, dim)
	embedding[0] = 1
	return &Page{
		PageID:       id,
		SourceType:   "document",
		SourceID:     sourceID,
		SubLibraryID: sql.NullString{String: "lib-1", Valid: true},
		PageIndex:    0,
		TextSummary:  sql.NullString{String: "a summary", Valid: true},
		Embedding:    embedding,
	}
}

func TestUpsertThenSearchFindsExactMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dim := MinDimension

	page := samplePage("p1", "doc-1", dim)
	if err := store.Upsert(ctx, KindText, page); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	query := make([]float32, dim)
	query[0] = 1
	results, err := store.Search(ctx, KindText, dim, query, SearchOptions{TopK: 5})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Search() returned %d results, want 1", len(results))
	}
	if results[0].Page.PageID != "p1" {
		t.Fatalf("Search() page = %s, want p1", results[0].Page.PageID)
	}
	if results[0].Score < 0.99 {
		t.Fatalf("Search() score = %v, want ~1.0 for identical vector", results[0].Score)
	}
}

func TestUpsertReplacesExistingPage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dim := MinDimension

	page := samplePage("p1", "doc-1", dim)
	if err := store.Upsert(ctx, KindText, page); err != nil {
		t.Fatalf("first Upsert() error = %v", err)
	}

	page.TextSummary = sql.NullString{String: "updated summary", Valid: true}
	if err := store.Upsert(ctx, KindText, page); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	query := make([]float32, dim)
	query[0] = 1
	results, err := store.Search(ctx, KindText, dim, query, SearchOptions{TopK: 10})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Search() returned %d results after replace, want exactly 1", len(results))
	}
	if results[0].Page.TextSummary.String != "updated summary" {
		t.Fatalf("Search() summary = %q, want updated summary", results[0].Page.TextSummary.String)
	}
}

func TestSearchFiltersBySubLibrary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dim := MinDimension

	inLib := samplePage("p1", "doc-1", dim)
	inLib.SubLibraryID = sql.NullString{String: "lib-a", Valid: true}
	outOfLib := samplePage("p2", "doc-2", dim)
	outOfLib.SubLibraryID = sql.NullString{String: "lib-b", Valid: true}

	if err := store.Upsert(ctx, KindText, inLib); err != nil {
		t.Fatalf("Upsert(inLib) error = %v", err)
	}
	if err := store.Upsert(ctx, KindText, outOfLib); err != nil {
		t.Fatalf("Upsert(outOfLib) error = %v", err)
	}

	query := make([]float32, dim)
	query[0] = 1
	results, err := store.Search(ctx, KindText, dim, query, SearchOptions{TopK: 10, SubLibraryIDs: []string{"lib-a"}})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].Page.PageID != "p1" {
		t.Fatalf("Search() with sub-library filter = %v, want only p1", results)
	}
}

func TestSearchOnMissingTableReturnsNoResults(t *testing.T) {
	store := newTestStore(t)
	results, err := store.Search(context.Background(), KindVL, 128, make([]float32, 128), SearchOptions{TopK: 5})
	if err != nil {
		t.Fatalf("Search() on never-created table error = %v", err)
	}
	if results != nil {
		t.Fatalf("Search() on never-created table = %v, want nil", results)
	}
}

func TestDeleteBySourceRemovesAcrossTables(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	textPage := samplePage("p1", "doc-shared", MinDimension)
	vlPage := samplePage("p2", "doc-shared", MinDimension + 64)
	other := samplePage("p3", "doc-other", MinDimension)

	if err := store.Upsert(ctx, KindText, textPage); err != nil {
		t.Fatalf("Upsert(text) error = %v", err)
	}
	if err := store.Upsert(ctx, KindVL, vlPage); err != nil {
		t.Fatalf("Upsert(vl) error = %v", err)
	}
	if err := store.Upsert(ctx, KindText, other); err != nil {
		t.Fatalf("Upsert(other) error = %v", err)
	}

	if err := store.DeleteBySource(ctx, "doc-shared"); err != nil {
		t.Fatalf("DeleteBySource() error = %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	var total int64
	for _, count := range stats {
		total += count
	}
	if total != 1 {
		t.Fatalf("Stats() total rows after DeleteBySource = %d, want 1 (only doc-other's page)", total)
	}
}

func TestStatsDiscoversAllDynamicTables(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, KindText, samplePage("p1", "doc-1", MinDimension)); err != nil {
		t.Fatalf("Upsert(text) error = %v", err)
	}
	if err := store.Upsert(ctx, KindVL, samplePage("p2", "doc-1", MinDimension+64)); err != nil {
		t.Fatalf("Upsert(vl) error = %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("Stats() discovered %d tables, want 2", len(stats))
	}
	if stats[tableName(KindText, MinDimension)] != 1 {
		t.Fatalf("Stats() text table count = %d, want 1", stats[tableName(KindText, MinDimension)])
	}
	if stats[tableName(KindVL, MinDimension+64)] != 1 {
		t.Fatalf("Stats() vl table count = %d, want 1", stats[tableName(KindVL, MinDimension+64)])
	}
}

func TestUpsertRejectsOutOfRangeDimension(t *testing.T) {
	store := newTestStore(t)
	page := samplePage("p1", "doc-1", 4) // below MinDimension
	if err := store.Upsert(context.Background(), KindText, page); err == nil {
		t.Fatalf("expected error for out-of-range embedding dimension")
	}
}

func TestEncodeDecodeEmbeddingRoundTrips(t *testing.T) {
	original := []float32{1.5, -2.25, 0, 3.125}
	decoded := decodeEmbedding(encodeEmbedding(original))
	if len(decoded) != len(original) {
		t.Fatalf("decodeEmbedding() length = %d, want %d", len(decoded), len(original))
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Fatalf("decodeEmbedding()[%d] = %v, want %v", i, decoded[i], original[i])
		}
	}
}

func TestDimensionFromTableParsesSuffix(t *testing.T) {
	dim, err := dimensionFromTable("mm_pages_v2_text_d1536")
	if err != nil {
		t.Fatalf("dimensionFromTable() error = %v", err)
	}
	if dim != 1536 {
		t.Fatalf("dimensionFromTable() = %d, want 1536", dim)
	}
}
