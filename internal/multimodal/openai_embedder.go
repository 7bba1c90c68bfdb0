package multimodal

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAITextEmbedder implements TextEmbedder via OpenAI's embedding API,
// adapted from the teacher's internal/memory/embeddings/openai.Provider.
type OpenAITextEmbedder struct {
	client *openai.Client
	model  string
}

// OpenAITextEmbedderConfig configures the embedder.
type OpenAITextEmbedderConfig struct {
	APIKey  string
	BaseURL string
	Model   string // text-embedding-3-small or text-embedding-3-large
}

// NewOpenAITextEmbedder constructs an embedder.
func NewOpenAITextEmbedder(cfg OpenAITextEmbedderConfig) (*OpenAITextEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("multimodal: OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAITextEmbedder{client: openai.NewClientWithConfig(clientCfg), model: cfg.Model}, nil
}

// Dimension returns the embedding dimension for the configured model.
func (e *OpenAITextEmbedder) Dimension() int {
	switch e.model {
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}

// MaxBatchSize returns the maximum number of texts per request.
func (e *OpenAITextEmbedder) MaxBatchSize() int {
	return 2048
}

// EmbedBatch embeds a batch of texts.
func (e *OpenAITextEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("multimodal: openai embed batch: %w", err)
	}
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// summaryThenEmbedVL implements VLEmbedder by summarizing each page with a
// Summarizer and embedding the summary with a TextEmbedder. No library in
// the example pack exposes a true joint image+text embedding endpoint
// (OpenAI's embeddings API is text-only; Anthropic exposes no embeddings
// endpoint at all), so direct VL embedding is approximated this way rather
// than fabricating a nonexistent client.
type summaryThenEmbedVL struct {
	summarizer Summarizer
	text       TextEmbedder
}

// NewSummaryBackedVLEmbedder builds a VLEmbedder out of a Summarizer and a
// TextEmbedder.
func NewSummaryBackedVLEmbedder(summarizer Summarizer, text TextEmbedder) VLEmbedder {
	return &summaryThenEmbedVL{summarizer: summarizer, text: text}
}

func (v *summaryThenEmbedVL) Dimension() int { return v.text.Dimension() }

func (v *summaryThenEmbedVL) EmbedPages(ctx context.Context, pages []PageInput) ([][]float32, error) {
	summaries := make([]string, len(pages))
	for i, p := range pages {
		if p.ExistingSummary != "" {
			summaries[i] = p.ExistingSummary
			continue
		}
		s, err := v.summarizer.Summarize(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("multimodal: vl summarize page %s: %w", p.PageID, err)
		}
		summaries[i] = s
	}
	return v.text.EmbedBatch(ctx, summaries)
}
