package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/haasonsaas/nexus-study/internal/chatpipeline"
)

// defaultBridgeTimeout is the fallback when a call carries no _timeoutMs,
// matching spec.md §6.5's "15s default".
const defaultBridgeTimeout = 15 * time.Second

// bridgeRequestChannel is where every bridged-tool call is published; the
// external UI is expected to subscribe here and reply on
// bridgeResponseChannel(corr), mirroring spec.md §6.5's
// "mcp-bridge-response:<corr>" naming.
const bridgeRequestChannel = "mcp-bridge-request"

func bridgeResponseChannel(corr string) string {
	return "mcp-bridge-response:" + corr
}

// BridgeRequest is published on bridgeRequestChannel for the external
// runtime (the UI process, an MCP host) to pick up and execute.
type BridgeRequest struct {
	CorrelationID string         `json:"correlation_id"`
	ToolName      string         `json:"tool_name"`
	Args          map[string]any `json:"args"`
}

// BridgeResponse is what the external runtime publishes back on
// bridgeResponseChannel(CorrelationID).
type BridgeResponse struct {
	OK    bool                `json:"ok"`
	Data  string              `json:"data,omitempty"`
	Error string              `json:"error,omitempty"`
	Usage *chatpipeline.Usage `json:"usage,omitempty"`
}

// NewBridgedTool builds a Tool that forwards calls to an external runtime
// over bus using the correlation-id request/response protocol spec.md
// §6.5 describes, rather than calling an in-process implementation the way
// NewWebSearchTool does. name/description/schema describe the remote tool
// exactly as the teacher's ToolBridge carries an MCP tool's own metadata
// through unchanged (internal/mcp/bridge.go's ToolBridge.Schema).
func NewBridgedTool(bus *chatpipeline.Bus, name, description string, schema json.RawMessage) *Tool {
	b := &bridgedExecutor{bus: bus, name: name}
	return &Tool{
		name:        name,
		description: description,
		schema:      schema,
		execute:     b.execute,
	}
}

type bridgedExecutor struct {
	bus  *chatpipeline.Bus
	name string
}

func (b *bridgedExecutor) execute(ctx context.Context, raw json.RawMessage) (Result, error) {
	var args map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return Result{OK: false, Err: "invalid parameters: " + err.Error()}, nil
		}
	}

	timeout := defaultBridgeTimeout
	if raw, ok := args["_timeoutMs"]; ok {
		if ms, ok := toMillis(raw); ok && ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
		delete(args, "_timeoutMs")
	}

	corr := ulid.Make().String()
	respChannel := bridgeResponseChannel(corr)
	responses := b.bus.Subscribe(respChannel)
	defer b.bus.Unsubscribe(respChannel)

	b.bus.Publish(ctx, bridgeRequestChannel, BridgeRequest{
		CorrelationID: corr,
		ToolName:      b.name,
		Args:          args,
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Result{OK: false, Err: ErrBridgeCancelled.Error()}, ErrBridgeCancelled
	case <-timer.C:
		return Result{OK: false, Err: ErrBridgeTimeout.Error()}, ErrBridgeTimeout
	case evt := <-responses:
		resp, ok := evt.Payload.(BridgeResponse)
		if !ok {
			return Result{OK: false, Err: "bridge returned a malformed response"}, nil
		}
		return Result{OK: resp.OK, Data: resp.Data, Err: resp.Error, Usage: resp.Usage}, nil
	}
}

// toMillis accepts either a JSON number (float64, after json.Unmarshal into
// map[string]any) or an int64, the two shapes _timeoutMs realistically
// arrives as.
func toMillis(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
