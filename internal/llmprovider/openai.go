package llmprovider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/nexus-study/internal/chatpipeline"
)

// OpenAIProvider implements chatpipeline.Provider over OpenAI's chat
// completions streaming API, grounded on the teacher's OpenAIProvider
// (internal/agent/providers/openai.go).
type OpenAIProvider struct {
	client       *openai.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewOpenAIProvider constructs an OpenAIProvider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llmprovider: openai api key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) model(req *chatpipeline.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *chatpipeline.CompletionRequest) (<-chan *chatpipeline.CompletionChunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    p.model(req),
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Stream:   true,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryableOpenAIErr(lastErr) {
			return nil, fmt.Errorf("llmprovider: non-retryable error: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("llmprovider: max retries exceeded: %w", lastErr)
	}

	chunks := make(chan *chatpipeline.CompletionChunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *chatpipeline.CompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	type building struct {
		id, name string
		args     strings.Builder
	}
	calls := make(map[int]*building)
	var order []int
	var usage chatpipeline.Usage

	for {
		select {
		case <-ctx.Done():
			chunks <- &chatpipeline.CompletionChunk{Kind: chatpipeline.ChunkError, Err: ctx.Err()}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				for _, idx := range order {
					b := calls[idx]
					if b.id == "" || b.name == "" {
						continue
					}
					input, decodeErr := decodeToolInput([]byte(b.args.String()))
					if decodeErr != nil {
						continue
					}
					chunks <- &chatpipeline.CompletionChunk{Kind: chatpipeline.ChunkToolCall, ToolCall: &chatpipeline.ToolCall{ID: b.id, Name: b.name, Input: input}}
				}
				chunks <- &chatpipeline.CompletionChunk{Kind: chatpipeline.ChunkDone, Usage: &usage}
				return
			}
			chunks <- &chatpipeline.CompletionChunk{Kind: chatpipeline.ChunkError, Err: err}
			return
		}

		if resp.Usage != nil {
			usage.InputTokens = int64(resp.Usage.PromptTokens)
			usage.OutputTokens = int64(resp.Usage.CompletionTokens)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			chunks <- &chatpipeline.CompletionChunk{Kind: chatpipeline.ChunkContent, Text: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			b, ok := calls[idx]
			if !ok {
				b = &building{}
				calls[idx] = b
				order = append(order, idx)
			}
			if tc.ID != "" {
				b.id = tc.ID
			}
			if tc.Function.Name != "" {
				b.name = tc.Function.Name
			}
			b.args.WriteString(tc.Function.Arguments)
		}
	}
}

func convertOpenAIMessages(messages []chatpipeline.CompletionMessage, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, msg := range messages {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case chatpipeline.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case chatpipeline.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case chatpipeline.RoleTool:
			role = openai.ChatMessageRoleTool
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return out
}

func convertOpenAITools(tools []chatpipeline.ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	return out
}

func isRetryableOpenAIErr(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection reset")
}
