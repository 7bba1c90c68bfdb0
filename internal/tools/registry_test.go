package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/nexus-study/internal/chatpipeline"
)

func echoTool() *Tool {
	return &Tool{
		name:        "echo",
		description: "echoes its input",
		schema: json.RawMessage(`{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"]
		}`),
		execute: func(ctx context.Context, params json.RawMessage) (Result, error) {
			var in struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(params, &in); err != nil {
				return Result{OK: false, Err: err.Error()}, nil
			}
			return Result{OK: true, Data: in.Text}, nil
		},
	}
}

func TestRegistryExecuteHappyPath(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool())

	result, err := r.Execute(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.OK || result.Data != "hi" {
		t.Fatalf("result = %+v", result)
	}
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	result, err := r.Execute(context.Background(), "missing", json.RawMessage(`{}`))
	if err == nil {
		t.Fatalf("Execute() error = nil, want not-found")
	}
	if result.OK {
		t.Fatalf("result.OK = true, want false")
	}
}

func TestRegistryExecuteRejectsSchemaViolation(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool())

	result, err := r.Execute(context.Background(), "echo", json.RawMessage(`{}`))
	if err == nil {
		t.Fatalf("Execute() error = nil, want schema validation failure")
	}
	if result.OK {
		t.Fatalf("result.OK = true, want false for missing required field")
	}
}

func TestRegistrySpecsReflectRegisteredTools(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool())

	specs := r.Specs()
	if len(specs) != 1 || specs[0].Name != "echo" {
		t.Fatalf("Specs() = %+v", specs)
	}
}

func TestRunnerAdaptsRegistryToToolRunner(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool())
	runner := &Runner{Registry: r}

	result := runner.RunTool(context.Background(), chatpipeline.ToolCall{
		ID:    "call-1",
		Name:  "echo",
		Input: map[string]any{"text": "hello"},
	})
	if !result.OK || result.Data != "hello" {
		t.Fatalf("RunTool() = %+v", result)
	}
}

func TestRunnerReportsUnknownTool(t *testing.T) {
	runner := &Runner{Registry: NewRegistry()}
	result := runner.RunTool(context.Background(), chatpipeline.ToolCall{Name: "missing"})
	if result.OK {
		t.Fatalf("RunTool().OK = true, want false")
	}
	if result.Err == "" {
		t.Fatalf("RunTool().Err is empty, want a not-found message")
	}
}
