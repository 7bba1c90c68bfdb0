package multimodal

import (
	"context"
	"database/sql"
	"testing"
)

// fakeCrossEncoder reverses the order it's given by scoring candidates by
// their reverse position, to make rerank's effect observable in tests.
type fakeCrossEncoder struct {
	called bool
	query  string
}

func (f *fakeCrossEncoder) Score(ctx context.Context, query string, candidates []string) ([]float32, error) {
	f.called = true
	f.query = query
	scores := make([]float32, len(candidates))
	for i := range candidates {
		scores[i] = float32(len(candidates) - i)
	}
	return scores, nil
}

func seedPages(t *testing.T, store *MultimodalVectorStore, n int, dim int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		embedding := make([]float32, dim)
		embedding[i%dim] = 1
		page := &Page{
			PageID:      sprintfPageID(i),
			SourceType:  "document",
			SourceID:    "doc-1",
			TextSummary: sql.NullString{String: sprintfPageID(i), Valid: true},
			Embedding:   embedding,
		}
		if err := store.Upsert(ctx, KindText, page); err != nil {
			t.Fatalf("Upsert(%d) error = %v", i, err)
		}
	}
}

func sprintfPageID(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return "page-" + string(letters[i%len(letters)])
}

func TestRetrieveUsesPreferredVectorWhenAvailable(t *testing.T) {
	store := newTestStore(t)
	seedPages(t, store, 3, MinDimension)

	r := NewRetriever(store, nil, RetrievalConfig{})
	preferred := &QueryVector{Kind: KindText, Dimension: MinDimension, Vector: make([]float32, MinDimension)}
	results, err := r.Retrieve(context.Background(), "q", preferred, nil, SearchOptions{TopK: 2})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Retrieve() returned %d results, want 2 (truncated to TopK)", len(results))
	}
}

func TestRetrieveFallsBackWhenPreferredHasNoVector(t *testing.T) {
	store := newTestStore(t)
	seedPages(t, store, 2, MinDimension)

	r := NewRetriever(store, nil, RetrievalConfig{})
	preferred := &QueryVector{Kind: KindVL, Dimension: MinDimension, Vector: nil}
	fallback := &QueryVector{Kind: KindText, Dimension: MinDimension, Vector: make([]float32, MinDimension)}
	results, err := r.Retrieve(context.Background(), "q", preferred, fallback, SearchOptions{TopK: 5})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Retrieve() returned %d results via fallback, want 2", len(results))
	}
}

func TestRetrieveErrorsWithNoVectorAvailable(t *testing.T) {
	store := newTestStore(t)
	r := NewRetriever(store, nil, RetrievalConfig{})
	_, err := r.Retrieve(context.Background(), "q", &QueryVector{Vector: nil}, &QueryVector{Vector: nil}, SearchOptions{TopK: 5})
	if err == nil {
		t.Fatalf("expected error when neither preferred nor fallback has a vector")
	}
}

func TestRetrieveRerankInvokesCrossEncoderAndMergesTail(t *testing.T) {
	store := newTestStore(t)
	seedPages(t, store, 5, MinDimension)

	enc := &fakeCrossEncoder{}
	r := NewRetriever(store, enc, RetrievalConfig{RerankEnabled: true, RerankCandidateCount: 3})
	preferred := &QueryVector{Kind: KindText, Dimension: MinDimension, Vector: make([]float32, MinDimension)}
	results, err := r.Retrieve(context.Background(), "my query", preferred, nil, SearchOptions{TopK: 5})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !enc.called {
		t.Fatalf("expected cross-encoder to be invoked when reranking is enabled")
	}
	if enc.query != "my query" {
		t.Fatalf("cross-encoder query = %q, want %q", enc.query, "my query")
	}
	if len(results) != 5 {
		t.Fatalf("Retrieve() returned %d results, want all 5 (reranked window + merged tail)", len(results))
	}
}

func TestRetrieveSkipsRerankWhenDisabled(t *testing.T) {
	store := newTestStore(t)
	seedPages(t, store, 3, MinDimension)

	enc := &fakeCrossEncoder{}
	r := NewRetriever(store, enc, RetrievalConfig{RerankEnabled: false})
	preferred := &QueryVector{Kind: KindText, Dimension: MinDimension, Vector: make([]float32, MinDimension)}
	if _, err := r.Retrieve(context.Background(), "q", preferred, nil, SearchOptions{TopK: 3}); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if enc.called {
		t.Fatalf("cross-encoder should not be invoked when RerankEnabled is false")
	}
}

func TestTruncateHandlesShortAndZeroTopK(t *testing.T) {
	results := []SearchResult{{Score: 1}, {Score: 2}}
	if got := truncate(results, 0); len(got) != 2 {
		t.Fatalf("truncate() with TopK=0 should return all results, got %d", len(got))
	}
	if got := truncate(results, 1); len(got) != 1 {
		t.Fatalf("truncate() with TopK=1 should return 1 result, got %d", len(got))
	}
}

func TestStableSortByScoreOrdersDescending(t *testing.T) {
	results := []SearchResult{{Score: 1}, {Score: 5}, {Score: 3}}
	sorted := stableSortByScore(results)
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Score > sorted[i-1].Score {
			t.Fatalf("stableSortByScore() not descending: %v", sorted)
		}
	}
}
