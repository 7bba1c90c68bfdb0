// Package llmprovider binds chatpipeline.Provider to concrete LLM backends.
// Grounded on the teacher's internal/agent/providers package: same
// streaming-channel shape, same exponential-backoff retry loop around
// stream creation, trimmed to the non-beta, non-computer-use path since
// SPEC_FULL's tool loop carries its own round/timeout bookkeeping
// (chatpipeline.ToolLoop) and has no vision/computer-use tool surface.
package llmprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/nexus-study/internal/chatpipeline"
)

// AnthropicProvider implements chatpipeline.Provider over the Anthropic
// Messages streaming API.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
	maxTokens    int
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
	MaxTokens    int
}

// NewAnthropicProvider constructs an AnthropicProvider, applying the same
// defaults as the teacher's NewAnthropicProvider (3 retries, 1s base delay).
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llmprovider: anthropic api key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-5"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) model(req *chatpipeline.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *AnthropicProvider) Complete(ctx context.Context, req *chatpipeline.CompletionRequest) (<-chan *chatpipeline.CompletionChunk, error) {
	chunks := make(chan *chatpipeline.CompletionChunk)

	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.createStream(ctx, req)
			if err == nil {
				break
			}
			if !isRetryableAnthropicErr(err) {
				chunks <- &chatpipeline.CompletionChunk{Kind: chatpipeline.ChunkError, Err: err}
				return
			}
			if attempt < p.maxRetries {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				select {
				case <-ctx.Done():
					chunks <- &chatpipeline.CompletionChunk{Kind: chatpipeline.ChunkError, Err: ctx.Err()}
					return
				case <-time.After(backoff):
				}
			}
		}
		if err != nil {
			chunks <- &chatpipeline.CompletionChunk{Kind: chatpipeline.ChunkError, Err: fmt.Errorf("anthropic: max retries exceeded: %w", err)}
			return
		}

		p.processStream(stream, chunks)
	}()

	return chunks, nil
}

func (p *AnthropicProvider) createStream(ctx context.Context, req *chatpipeline.CompletionRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req)),
		Messages:  messages,
		MaxTokens: int64(p.maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *chatpipeline.CompletionChunk) {
	var currentCall *chatpipeline.ToolCall
	var currentInput []byte
	var usage chatpipeline.Usage

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			usage.InputTokens = ms.Message.Usage.InputTokens
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				tu := block.AsToolUse()
				currentCall = &chatpipeline.ToolCall{ID: tu.ID, Name: tu.Name}
				currentInput = currentInput[:0]
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &chatpipeline.CompletionChunk{Kind: chatpipeline.ChunkContent, Text: delta.Text}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					chunks <- &chatpipeline.CompletionChunk{Kind: chatpipeline.ChunkThinking, Text: delta.Thinking}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentInput = append(currentInput, delta.PartialJSON...)
				}
			}
		case "content_block_stop":
			if currentCall != nil {
				input, err := decodeToolInput(currentInput)
				if err == nil {
					currentCall.Input = input
					chunks <- &chatpipeline.CompletionChunk{Kind: chatpipeline.ChunkToolCall, ToolCall: currentCall}
				}
				currentCall = nil
			}
		case "message_delta":
			md := event.AsMessageDelta()
			usage.OutputTokens = md.Usage.OutputTokens
		case "message_stop":
			u := usage
			chunks <- &chatpipeline.CompletionChunk{Kind: chatpipeline.ChunkDone, Usage: &u}
			return
		case "error":
			chunks <- &chatpipeline.CompletionChunk{Kind: chatpipeline.ChunkError, Err: errors.New("anthropic: stream error")}
			return
		}
	}
	if err := stream.Err(); err != nil {
		chunks <- &chatpipeline.CompletionChunk{Kind: chatpipeline.ChunkError, Err: err}
	}
}

func convertMessages(messages []chatpipeline.CompletionMessage) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == chatpipeline.RoleSystem {
			continue
		}
		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == chatpipeline.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

// convertTools mirrors the teacher's convertTools (internal/agent/providers
// /anthropic.go): marshal the tool's JSON-Schema-shaped input schema and
// unmarshal it directly into anthropic.ToolInputSchemaParam, rather than
// hand-mapping individual fields against an SDK struct shape that shifts
// across SDK versions.
func convertTools(tools []chatpipeline.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		raw, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("llmprovider: marshal schema for %s: %w", tool.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("llmprovider: invalid tool schema for %s: %w", tool.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("llmprovider: invalid tool schema for %s", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

// isRetryableAnthropicErr matches the teacher's string-based fallback
// classification (internal/agent/providers/anthropic.go's isRetryableError)
// rather than depending on SDK-internal error types that may change shape
// across SDK versions.
func isRetryableAnthropicErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
