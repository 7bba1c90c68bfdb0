package chatpipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/nexus-study/internal/multimodal"
)

// Citation is one retrieved item surfaced to the prompt and to the UI via a
// citation block's CitationsJSON.
type Citation struct {
	SourceID string  `json:"source_id"`
	Title    string  `json:"title,omitempty"`
	Snippet  string  `json:"snippet"`
	Score    float32 `json:"score,omitempty"`
}

// RetrievalQuery is what every retriever receives for one pipeline turn.
type RetrievalQuery struct {
	WorkspaceID string
	SessionID   string
	Text        string
	TopK        int
}

// RetrievalResult is one retriever's output: either citations, or an error
// that degrades its block to BlockFailed without aborting the turn
// (§4.2.2 stage 4).
type RetrievalResult struct {
	BlockType BlockType
	Citations []Citation
	Err       error
}

// Retriever is implemented by each retrieval source the pipeline fans out
// to. VFSRetriever, WebSearchRetriever, MemoryRetriever, and GraphRetriever
// below adapt concrete backends to this shape.
type Retriever interface {
	BlockType() BlockType
	Retrieve(ctx context.Context, q RetrievalQuery) ([]Citation, error)
}

// FanOut runs every retriever concurrently via an errgroup (bounded by the
// caller's context, not a semaphore: retrieval fan-out is a handful of
// calls, not an unbounded worker pool), grounded on the teacher's
// Executor.ExecuteAll parallel-tool-call pattern (internal/agent/executor.go)
// generalized from tool calls to retrievers. A retriever's own error never
// fails the group; it degrades to a RetrievalResult carrying Err so the
// caller can still emit a BlockFailed citation block for it.
func FanOut(ctx context.Context, retrievers []Retriever, q RetrievalQuery) []RetrievalResult {
	results := make([]RetrievalResult, len(retrievers))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range retrievers {
		i, r := i, r
		g.Go(func() error {
			citations, err := r.Retrieve(gctx, q)
			results[i] = RetrievalResult{BlockType: r.BlockType(), Citations: citations, Err: err}
			return nil
		})
	}
	_ = g.Wait() // retriever errors are captured per-result, never propagated
	return results
}

// CitationsJSON marshals a retrieval result's citations for Block.CitationsJSON.
func CitationsJSON(citations []Citation) string {
	if len(citations) == 0 {
		return "[]"
	}
	b, err := json.Marshal(citations)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// VFSRetriever answers from the multimodal vector index over a workspace's
// indexed VFS resources.
type VFSRetriever struct {
	Index    *multimodal.Retriever
	Embedder func(ctx context.Context, text string) (*multimodal.QueryVector, error)
}

func (v *VFSRetriever) BlockType() BlockType { return BlockRAG }

func (v *VFSRetriever) Retrieve(ctx context.Context, q RetrievalQuery) ([]Citation, error) {
	vec, err := v.Embedder(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("chatpipeline: embed retrieval query: %w", err)
	}
	results, err := v.Index.Retrieve(ctx, q.Text, vec, nil, multimodal.SearchOptions{TopK: q.TopK})
	if err != nil {
		return nil, fmt.Errorf("chatpipeline: vfs retrieval: %w", err)
	}
	citations := make([]Citation, 0, len(results))
	for _, r := range results {
		snippet := ""
		if r.Page.TextSummary.Valid {
			snippet = r.Page.TextSummary.String
		}
		citations = append(citations, Citation{
			SourceID: r.Page.SourceID,
			Snippet:  snippet,
			Score:    r.Score,
		})
	}
	return citations, nil
}

// WebSearchRetriever calls out to a web search tool; Search is typically
// bound to the same builtin the tool loop exposes (internal/tools), so web
// retrieval and the web_search tool share one implementation.
type WebSearchRetriever struct {
	Search func(ctx context.Context, query string, topK int) ([]Citation, error)
}

func (w *WebSearchRetriever) BlockType() BlockType { return BlockWebSearch }

func (w *WebSearchRetriever) Retrieve(ctx context.Context, q RetrievalQuery) ([]Citation, error) {
	return w.Search(ctx, q.Text, q.TopK)
}

// MemoryRetriever answers from a per-workspace long-term memory store.
type MemoryRetriever struct {
	Recall func(ctx context.Context, workspaceID, query string, topK int) ([]Citation, error)
}

func (m *MemoryRetriever) BlockType() BlockType { return BlockMemory }

func (m *MemoryRetriever) Retrieve(ctx context.Context, q RetrievalQuery) ([]Citation, error) {
	return m.Recall(ctx, q.WorkspaceID, q.Text, q.TopK)
}

// GraphRetriever answers from a knowledge-graph traversal over entities
// mentioned in the query.
type GraphRetriever struct {
	Traverse func(ctx context.Context, workspaceID, query string, topK int) ([]Citation, error)
}

func (g *GraphRetriever) BlockType() BlockType { return BlockGraph }

func (g *GraphRetriever) Retrieve(ctx context.Context, q RetrievalQuery) ([]Citation, error) {
	return g.Traverse(ctx, q.WorkspaceID, q.Text, q.TopK)
}
