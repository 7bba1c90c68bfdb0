package tools

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/nexus-study/internal/chatpipeline"
)

// Runner adapts a Registry to chatpipeline.ToolRunner, the single method
// the chat pipeline's bounded tool loop needs (toolloop.go). It is the only
// point of contact between this package and the pipeline: everything else
// here (schema validation, bridging, web search) is invisible to
// chatpipeline.
type Runner struct {
	Registry *Registry
}

// RunTool marshals call.Input back to JSON (the provider already parsed it
// out of the model's function-call arguments into a map), runs it through
// the registry, and folds the result into chatpipeline's ToolResult shape.
func (r *Runner) RunTool(ctx context.Context, call chatpipeline.ToolCall) chatpipeline.ToolResult {
	params, err := json.Marshal(call.Input)
	if err != nil {
		return chatpipeline.ToolResult{OK: false, Err: "could not encode tool arguments: " + err.Error()}
	}

	result, err := r.Registry.Execute(ctx, call.Name, params)
	if err != nil && result.Err == "" {
		result.Err = err.Error()
	}
	return chatpipeline.ToolResult{
		OK:         result.OK,
		Data:       result.Data,
		Err:        result.Err,
		Usage:      result.Usage,
		Citations:  result.Citations,
		InjectText: result.InjectText,
	}
}
