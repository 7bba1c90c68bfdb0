package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/nexus-study/internal/chatpipeline"
)

func TestBridgedToolRoundTrip(t *testing.T) {
	bus := chatpipeline.NewBus()
	tool := NewBridgedTool(bus, "ui_pick_file", "asks the user to pick a file", json.RawMessage(`{"type":"object"}`))

	requests := bus.Subscribe(bridgeRequestChannel)
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case evt := <-requests:
			req, ok := evt.Payload.(BridgeRequest)
			if !ok {
				t.Errorf("payload = %T, want BridgeRequest", evt.Payload)
				return
			}
			bus.Publish(context.Background(), bridgeResponseChannel(req.CorrelationID), BridgeResponse{OK: true, Data: "picked.txt"})
		case <-time.After(time.Second):
			t.Errorf("timed out waiting for bridge request")
		}
	}()

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	<-done
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.OK || result.Data != "picked.txt" {
		t.Fatalf("result = %+v", result)
	}
}

func TestBridgedToolTimesOutWithoutResponse(t *testing.T) {
	bus := chatpipeline.NewBus()
	tool := NewBridgedTool(bus, "ui_pick_file", "asks the user to pick a file", json.RawMessage(`{"type":"object"}`))

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"_timeoutMs": 20}`))
	if err != ErrBridgeTimeout {
		t.Fatalf("Execute() error = %v, want ErrBridgeTimeout", err)
	}
	if result.OK {
		t.Fatalf("result.OK = true, want false")
	}
}

func TestBridgedToolRespectsContextCancellation(t *testing.T) {
	bus := chatpipeline.NewBus()
	tool := NewBridgedTool(bus, "ui_pick_file", "asks the user to pick a file", json.RawMessage(`{"type":"object"}`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := tool.Execute(ctx, json.RawMessage(`{}`))
	if err != ErrBridgeCancelled {
		t.Fatalf("Execute() error = %v, want ErrBridgeCancelled", err)
	}
	if result.OK {
		t.Fatalf("result.OK = true, want false")
	}
}
