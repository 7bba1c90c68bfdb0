package multimodal

import (
	"context"
	"fmt"
)

// QueryVector is a query embedding computed for one embedding kind, since VL
// and text embedders generally produce vectors of different dimension.
type QueryVector struct {
	Kind      EmbeddingKind
	Dimension int
	Vector    []float32
}

// CrossEncoder reranks a short list of candidate texts against a query,
// returning one score per candidate in the same order.
type CrossEncoder interface {
	Score(ctx context.Context, query string, candidates []string) ([]float32, error)
}

// RetrievalConfig tunes optional reranking.
type RetrievalConfig struct {
	RerankEnabled        bool
	RerankCandidateCount int
}

func (c RetrievalConfig) withDefaults() RetrievalConfig {
	if c.RerankCandidateCount <= 0 {
		c.RerankCandidateCount = 50
	}
	return c
}

// Retriever answers queries against a MultimodalVectorStore, picking
// whichever embedding mode a library was actually ingested with and falling
// back to the other mode when the preferred one has no vector available.
type Retriever struct {
	store    *MultimodalVectorStore
	reranker CrossEncoder
	cfg      RetrievalConfig
}

// NewRetriever constructs a Retriever. reranker may be nil to disable
// reranking regardless of cfg.RerankEnabled.
func NewRetriever(store *MultimodalVectorStore, reranker CrossEncoder, cfg RetrievalConfig) *Retriever {
	return &Retriever{store: store, reranker: reranker, cfg: cfg.withDefaults()}
}

// Retrieve searches using preferred's vector, falling back to fallback's
// vector if preferred isn't available (its Vector is nil), then optionally
// reranks the top RerankCandidateCount hits with a cross-encoder before
// truncating back to opts.TopK. Any hits beyond the reranked window are
// appended back after the reranked ones rather than dropped, per "merging
// back any unranked tail".
func (r *Retriever) Retrieve(ctx context.Context, queryText string, preferred, fallback *QueryVector, opts SearchOptions) ([]SearchResult, error) {
	qv := preferred
	if qv == nil || qv.Vector == nil {
		qv = fallback
	}
	if qv == nil || qv.Vector == nil {
		return nil, fmt.Errorf("multimodal: no query vector available for either mode")
	}

	topK := opts.TopK
	searchOpts := opts
	if r.rerankActive() && r.cfg.RerankCandidateCount > topK {
		searchOpts.TopK = r.cfg.RerankCandidateCount
	}

	results, err := r.store.Search(ctx, qv.Kind, qv.Dimension, qv.Vector, searchOpts)
	if err != nil {
		return nil, err
	}
	if !r.rerankActive() || len(results) == 0 {
		return truncate(results, topK), nil
	}

	window := results
	tail := []SearchResult(nil)
	if r.cfg.RerankCandidateCount < len(results) {
		window = results[:r.cfg.RerankCandidateCount]
		tail = results[r.cfg.RerankCandidateCount:]
	}

	texts := make([]string, len(window))
	for i, res := range window {
		texts[i] = res.Page.TextSummary.String
	}
	scores, err := r.reranker.Score(ctx, queryText, texts)
	if err != nil {
		return nil, fmt.Errorf("multimodal: rerank: %w", err)
	}
	for i := range window {
		if i < len(scores) {
			window[i].Score = scores[i]
		}
	}
	reranked := stableSortByScore(window)
	merged := append(reranked, tail...)
	return truncate(merged, topK), nil
}

func (r *Retriever) rerankActive() bool {
	return r.cfg.RerankEnabled && r.reranker != nil
}

func truncate(results []SearchResult, topK int) []SearchResult {
	if topK <= 0 || topK > len(results) {
		return results
	}
	return results[:topK]
}

func stableSortByScore(results []SearchResult) []SearchResult {
	out := make([]SearchResult, len(results))
	copy(out, results)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Score > out[j-1].Score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
