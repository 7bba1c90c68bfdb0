package multimodal

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// maxInlineImageBase64 is the smallest base64 payload treated as a real
// image; anything shorter (or an empty URL) degrades to text-only input,
// per the embedding service's invalid-image handling.
const maxInlineImageBase64 = 100

// defaultVLBatchSize bounds how many pages are sent to the VL embedder in
// one call.
const defaultVLBatchSize = 8

// defaultSummaryConcurrency bounds how many pages are summarized at once
// when no override is configured.
const defaultSummaryConcurrency = 10

// maxChunkRetryRounds is how many times the text embedder halves its chunk
// budget before giving up on a still-too-large chunk.
const maxChunkRetryRounds = 5

// PageInput is one page awaiting embedding.
type PageInput struct {
	PageID          string
	ImageBase64     string
	ExistingSummary string // reused instead of re-running OCR when present
}

func (p PageInput) hasUsableImage() bool {
	return len(p.ImageBase64) > maxInlineImageBase64
}

// VLEmbedder converts an (image, optional text) pair directly into a
// vector, without going through a textual summary.
type VLEmbedder interface {
	EmbedPages(ctx context.Context, pages []PageInput) ([][]float32, error)
	Dimension() int
}

// TextEmbedder embeds plain text, mirroring the teacher's
// embeddings.Provider surface (Embed/EmbedBatch/Dimension/MaxBatchSize).
type TextEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	MaxBatchSize() int
}

// Summarizer produces a textual description of a page's image, standing in
// for an OCR/VL pass in VLSummaryThenTextEmbed mode.
type Summarizer interface {
	Summarize(ctx context.Context, page PageInput) (string, error)
}

// ServiceConfig tunes the embedding service's batching and chunking
// behavior.
type ServiceConfig struct {
	VLBatchSize        int
	SummaryConcurrency int
	ChunkTokenBudget    int // in characters; the teacher's SimpleTokenCounter ~4 chars/token
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.VLBatchSize <= 0 {
		c.VLBatchSize = defaultVLBatchSize
	}
	if c.SummaryConcurrency <= 0 {
		c.SummaryConcurrency = defaultSummaryConcurrency
	}
	if c.ChunkTokenBudget <= 0 {
		c.ChunkTokenBudget = 2000
	}
	return c
}

// EmbeddingService exposes the two ingestion modes SPEC_FULL §4.3 requires.
type EmbeddingService struct {
	cfg        ServiceConfig
	vl         VLEmbedder
	text       TextEmbedder
	summarizer Summarizer
}

// NewEmbeddingService constructs a service. vl and summarizer may be nil if
// only the other mode will be used.
func NewEmbeddingService(vl VLEmbedder, text TextEmbedder, summarizer Summarizer, cfg ServiceConfig) *EmbeddingService {
	return &EmbeddingService{cfg: cfg.withDefaults(), vl: vl, text: text, summarizer: summarizer}
}

// EmbedVL embeds pages directly via the VL model, batching at VLBatchSize
// and degrading pages with unusable image bytes to text-only input (their
// ExistingSummary, if any, stands in for the image).
func (s *EmbeddingService) EmbedVL(ctx context.Context, pages []PageInput) ([][]float32, error) {
	if s.vl == nil {
		return nil, fmt.Errorf("multimodal: no VL embedder configured")
	}
	out := make([][]float32, 0, len(pages))
	for start := 0; start < len(pages); start += s.cfg.VLBatchSize {
		end := start + s.cfg.VLBatchSize
		if end > len(pages) {
			end = len(pages)
		}
		batch := make([]PageInput, end-start)
		copy(batch, pages[start:end])
		for i := range batch {
			if !batch[i].hasUsableImage() {
				batch[i].ImageBase64 = ""
			}
		}
		vecs, err := s.vl.EmbedPages(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("multimodal: vl embed batch: %w", err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedViaSummary runs VLSummaryThenTextEmbed: a bounded-concurrency
// summarization pass (reusing existing summaries where present), then a
// text-embedding pass that chunks long summaries by token budget, embeds
// each chunk, and mean-pools the result.
func (s *EmbeddingService) EmbedViaSummary(ctx context.Context, pages []PageInput) ([][]float32, error) {
	summaries, err := s.summarizeAll(ctx, pages)
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(pages))
	for i, summary := range summaries {
		vec, err := s.embedWithRetry(ctx, summary, s.cfg.ChunkTokenBudget, 0)
		if err != nil {
			return nil, fmt.Errorf("multimodal: embed summary for page %s: %w", pages[i].PageID, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (s *EmbeddingService) summarizeAll(ctx context.Context, pages []PageInput) ([]string, error) {
	summaries := make([]string, len(pages))
	for i, p := range pages {
		if p.ExistingSummary != "" {
			summaries[i] = p.ExistingSummary
		}
	}
	if s.summarizer == nil {
		return summaries, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.SummaryConcurrency)
	for i, p := range pages {
		if summaries[i] != "" {
			continue
		}
		i, p := i, p
		g.Go(func() error {
			summary, err := s.summarizer.Summarize(gctx, p)
			if err != nil {
				return fmt.Errorf("summarize page %s: %w", p.PageID, err)
			}
			summaries[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("multimodal: %w", err)
	}
	return summaries, nil
}

// embedWithRetry chunks text at budget, embeds every chunk, and mean-pools
// the results. If a single chunk still can't be produced within budget
// (pathological separators), the budget is halved and the whole split is
// retried, up to maxChunkRetryRounds times.
func (s *EmbeddingService) embedWithRetry(ctx context.Context, text string, budget int, round int) ([]float32, error) {
	chunks := splitByBudget(text, budget)
	if len(chunks) == 0 {
		return nil, nil
	}

	oversized := false
	for _, c := range chunks {
		if len(c) > budget {
			oversized = true
			break
		}
	}
	if oversized && round < maxChunkRetryRounds {
		return s.embedWithRetry(ctx, text, budget/2, round+1)
	}

	vecs, err := s.text.EmbedBatch(ctx, chunks)
	if err != nil {
		return nil, err
	}
	return meanPool(vecs), nil
}
