// Package tools implements the tool invocation protocol spec.md §6.5
// describes: ToolRegistry.call_tool(name, args, ctx) -> (ok, data?, error?,
// usage?, citations?, inject_text?), served either by an in-process Tool or
// by a bridged tool that round-trips through the UI's event channel.
//
// This package is independent of chatpipeline's tool loop (toolloop.go):
// Registry adapts to chatpipeline.ToolRunner at the boundary (adapter.go) so
// the pipeline's round-bounded executor can drive any tool registered here
// without this package needing to know about streaming or rounds.
package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/haasonsaas/nexus-study/internal/chatpipeline"
	"github.com/haasonsaas/nexus-study/internal/errkind"
)

var (
	ErrNotFound        = errors.New("tools: tool not found")
	ErrInvalidParams   = errors.New("tools: parameters failed schema validation")
	ErrBridgeTimeout   = errors.New("tools: bridged tool call timed out")
	ErrBridgeCancelled = errors.New("tools: bridged tool call was cancelled")
)

// Result mirrors spec.md §6.5's call_tool return shape directly, independent
// of how the caller (chatpipeline's tool loop, a CLI command, a test) wants
// to consume it.
type Result struct {
	OK         bool
	Data       string
	Err        string
	Usage      *chatpipeline.Usage
	Citations  []chatpipeline.Citation
	InjectText string
}

// Tool is one callable tool, local or bridged. Name/Description/Schema
// mirror the teacher's agent.Tool shape (internal/agent/provider_types.go)
// so AsLLMTools-style conversion needs no extra mapping layer.
type Tool struct {
	name        string
	description string
	schema      json.RawMessage
	execute     func(ctx context.Context, params json.RawMessage) (Result, error)
}

func (t *Tool) Name() string            { return t.name }
func (t *Tool) Description() string     { return t.description }
func (t *Tool) Schema() json.RawMessage { return t.schema }
func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (Result, error) {
	return t.execute(ctx, params)
}

func withKind(err error, kind errkind.Kind) error {
	if err == nil {
		return nil
	}
	return classifiedError{error: err, kind: kind}
}

type classifiedError struct {
	error
	kind errkind.Kind
}

func (c classifiedError) ErrKind() errkind.Kind { return c.kind }
func (c classifiedError) Unwrap() error         { return c.error }
