package multimodal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeVLEmbedder returns a one-hot vector keyed on whether the page still
// carried image bytes after the service's degradation pass.
type fakeVLEmbedder struct {
	calls          int32
	batchSizesSeen []int
	mu             sync.Mutex
}

func (f *fakeVLEmbedder) Dimension() int { return 2 }

func (f *fakeVLEmbedder) EmbedPages(ctx context.Context, pages []PageInput) ([][]float32, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.batchSizesSeen = append(f.batchSizesSeen, len(pages))
	f.mu.Unlock()

	out := make([][]float32, len(pages))
	for i, p := range pages {
		if p.ImageBase64 == "" {
			out[i] = []float32{0, 1} // degraded to text-only
		} else {
			out[i] = []float32{1, 0}
		}
	}
	return out, nil
}

// fakeTextEmbedder returns a vector whose single component is len(text).
type fakeTextEmbedder struct {
	batches [][]string
	mu      sync.Mutex
}

func (f *fakeTextEmbedder) Dimension() int     { return 1 }
func (f *fakeTextEmbedder) MaxBatchSize() int  { return 2048 }
func (f *fakeTextEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	f.batches = append(f.batches, cp)
	f.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

// fakeSummarizer returns a canned summary, recording how many times it was
// actually invoked (as opposed to reusing an ExistingSummary).
type fakeSummarizer struct {
	invocations int32
}

func (f *fakeSummarizer) Summarize(ctx context.Context, page PageInput) (string, error) {
	atomic.AddInt32(&f.invocations, 1)
	return "summary of " + page.PageID, nil
}

func TestEmbedVLBatchesAtConfiguredSize(t *testing.T) {
	vl := &fakeVLEmbedder{}
	svc := NewEmbeddingService(vl, nil, nil, ServiceConfig{VLBatchSize: 2})

	pages := make([]PageInput, 5)
	for i := range pages {
		pages[i] = PageInput{PageID: fmt.Sprintf("p%d", i), ImageBase64: strings.Repeat("x", 200)}
	}

	vecs, err := svc.EmbedVL(context.Background(), pages)
	if err != nil {
		t.Fatalf("EmbedVL() error = %v", err)
	}
	if len(vecs) != 5 {
		t.Fatalf("EmbedVL() returned %d vectors, want 5", len(vecs))
	}
	if want := []int{2, 2, 1}; !equalIntSlices(vl.batchSizesSeen, want) {
		t.Fatalf("batch sizes seen = %v, want %v", vl.batchSizesSeen, want)
	}
}

func TestEmbedVLDegradesInvalidImageToTextOnly(t *testing.T) {
	vl := &fakeVLEmbedder{}
	svc := NewEmbeddingService(vl, nil, nil, ServiceConfig{})

	pages := []PageInput{
		{PageID: "good", ImageBase64: strings.Repeat("x", 200)},
		{PageID: "bad", ImageBase64: "short"}, // below maxInlineImageBase64
	}
	vecs, err := svc.EmbedVL(context.Background(), pages)
	if err != nil {
		t.Fatalf("EmbedVL() error = %v", err)
	}
	if vecs[0][0] != 1 {
		t.Fatalf("expected page with usable image to embed as image vector, got %v", vecs[0])
	}
	if vecs[1][0] != 0 || vecs[1][1] != 1 {
		t.Fatalf("expected page with unusable image to degrade to text-only vector, got %v", vecs[1])
	}
}

func TestEmbedVLRequiresConfiguredEmbedder(t *testing.T) {
	svc := NewEmbeddingService(nil, nil, nil, ServiceConfig{})
	if _, err := svc.EmbedVL(context.Background(), []PageInput{{PageID: "p"}}); err == nil {
		t.Fatalf("expected error when no VL embedder is configured")
	}
}

func TestEmbedViaSummaryReusesExistingSummary(t *testing.T) {
	text := &fakeTextEmbedder{}
	summarizer := &fakeSummarizer{}
	svc := NewEmbeddingService(nil, text, summarizer, ServiceConfig{})

	pages := []PageInput{
		{PageID: "reused", ExistingSummary: "already have this"},
		{PageID: "fresh"},
	}
	if _, err := svc.EmbedViaSummary(context.Background(), pages); err != nil {
		t.Fatalf("EmbedViaSummary() error = %v", err)
	}
	if got := atomic.LoadInt32(&summarizer.invocations); got != 1 {
		t.Fatalf("summarizer invoked %d times, want 1 (only for the page without an existing summary)", got)
	}
}

func TestEmbedViaSummaryBoundsConcurrency(t *testing.T) {
	text := &fakeTextEmbedder{}
	summarizer := &fakeSummarizer{}
	svc := NewEmbeddingService(nil, text, summarizer, ServiceConfig{SummaryConcurrency: 3})

	pages := make([]PageInput, 10)
	for i := range pages {
		pages[i] = PageInput{PageID: fmt.Sprintf("p%d", i)}
	}
	if _, err := svc.EmbedViaSummary(context.Background(), pages); err != nil {
		t.Fatalf("EmbedViaSummary() error = %v", err)
	}
	if got := atomic.LoadInt32(&summarizer.invocations); got != 10 {
		t.Fatalf("summarizer invoked %d times, want 10", got)
	}
}

func TestEmbedWithRetryHalvesBudgetOnOversizedChunk(t *testing.T) {
	text := &fakeTextEmbedder{}
	svc := NewEmbeddingService(nil, text, nil, ServiceConfig{})

	// A single unbroken run of non-separator characters: splitRecursive can't
	// shrink it below its own length no matter the separator hierarchy, so
	// embedWithRetry must still terminate (giving up after maxChunkRetryRounds)
	// rather than recursing forever.
	oversized := strings.Repeat("x", 500)
	vec, err := svc.embedWithRetry(context.Background(), oversized, 10, 0)
	if err != nil {
		t.Fatalf("embedWithRetry() error = %v", err)
	}
	if vec == nil {
		t.Fatalf("expected a pooled vector even when a chunk stays oversized")
	}
}

func TestEmbedWithRetryPoolsMultipleChunks(t *testing.T) {
	text := &fakeTextEmbedder{}
	svc := NewEmbeddingService(nil, text, nil, ServiceConfig{})

	longText := strings.Repeat("word ", 100)
	vec, err := svc.embedWithRetry(context.Background(), longText, 50, 0)
	if err != nil {
		t.Fatalf("embedWithRetry() error = %v", err)
	}
	if len(vec) != 1 {
		t.Fatalf("expected pooled vector of dimension 1, got %v", vec)
	}
	if len(text.batches) == 0 || len(text.batches[0]) < 2 {
		t.Fatalf("expected the long text to be split into multiple chunks before embedding")
	}
}

func equalIntSlices(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
