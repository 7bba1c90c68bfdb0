package multimodal

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// AnthropicSummarizer produces a page's text_summary via a Claude vision
// call, standing in for an OCR pass when no OCR text already exists.
// Grounded on the teacher's AnthropicProvider's beta image-block
// construction (internal/agent/providers/anthropic.go).
type AnthropicSummarizer struct {
	client anthropic.Client
	model  string
}

// NewAnthropicSummarizer constructs a summarizer bound to model (e.g.
// "claude-sonnet-4-20250514").
func NewAnthropicSummarizer(client anthropic.Client, model string) *AnthropicSummarizer {
	return &AnthropicSummarizer{client: client, model: model}
}

const summarizePrompt = "Describe this page's visible content precisely and completely, as plain text suitable for full-text search. Do not add commentary."

func (s *AnthropicSummarizer) Summarize(ctx context.Context, page PageInput) (string, error) {
	if !page.hasUsableImage() {
		return page.ExistingSummary, nil
	}
	mediaType, data, ok := parseDataURL(page.ImageBase64)
	if !ok {
		mediaType, data = "image/png", page.ImageBase64
	}
	mt, ok := betaMediaType(mediaType)
	if !ok {
		return "", fmt.Errorf("multimodal: unsupported image media type %q", mediaType)
	}

	content := []anthropic.BetaContentBlockParamUnion{
		anthropic.NewBetaTextBlock(summarizePrompt),
		{OfImage: &anthropic.BetaImageBlockParam{
			Source: anthropic.BetaImageBlockParamSourceUnion{
				OfBase64: &anthropic.BetaBase64ImageSourceParam{Data: data, MediaType: mt},
			},
		}},
	}

	resp, err := s.client.Beta.Messages.New(ctx, anthropic.BetaMessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: 1024,
		Messages: []anthropic.BetaMessageParam{
			{Role: anthropic.BetaMessageParamRoleUser, Content: content},
		},
	})
	if err != nil {
		return "", fmt.Errorf("multimodal: summarize page %s: %w", page.PageID, err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.BetaTextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String(), nil
}

func parseDataURL(url string) (mediaType, data string, ok bool) {
	const prefix = "data:"
	if !strings.HasPrefix(url, prefix) {
		return "", "", false
	}
	rest := url[len(prefix):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", "", false
	}
	header := rest[:comma]
	data = rest[comma+1:]
	semicolon := strings.IndexByte(header, ';')
	if semicolon < 0 {
		return header, data, true
	}
	return header[:semicolon], data, true
}

func betaMediaType(mediaType string) (anthropic.BetaBase64ImageSourceMediaType, bool) {
	switch strings.ToLower(mediaType) {
	case "image/jpeg", "image/jpg":
		return anthropic.BetaBase64ImageSourceMediaTypeImageJPEG, true
	case "image/png":
		return anthropic.BetaBase64ImageSourceMediaTypeImagePNG, true
	case "image/gif":
		return anthropic.BetaBase64ImageSourceMediaTypeImageGIF, true
	case "image/webp":
		return anthropic.BetaBase64ImageSourceMediaTypeImageWebP, true
	default:
		return "", false
	}
}
