package chatpipeline

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/nexus-study/internal/observability"
)

type fakeProvider struct {
	name   string
	chunks []*CompletionChunk
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	out := make(chan *CompletionChunk, len(p.chunks))
	for _, c := range p.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func newTestPipeline(t *testing.T, provider Provider) (*Pipeline, string) {
	t.Helper()
	logger := observability.NewLogger(observability.LogConfig{Level: "error", Format: "text"})

	store, err := Open(":memory:", logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sessionID := "session-1"
	if err := store.CreateSession(context.Background(), &Session{ID: sessionID, Mode: ModeChat}); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	providers := NewProviderRegistry()
	providers.Register(provider, "test-model")

	p := &Pipeline{
		Store:     store,
		Registry:  NewRegistry(),
		Bus:       NewBus(),
		Providers: providers,
		Logger:    logger,
	}
	return p, sessionID
}

// awaitTerminal blocks until sessionID's event channel emits a terminal
// SessionEvent, the same wait shape cmd/nexus-study's `chat send --wait`
// uses over the real bus.
func awaitTerminal(t *testing.T, p *Pipeline, sessionID string) SessionEvent {
	t.Helper()
	events := p.Bus.Subscribe(sessionChannel(sessionID))
	defer p.Bus.Unsubscribe(sessionChannel(sessionID))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt := <-events:
			se, ok := evt.Payload.(SessionEvent)
			if !ok {
				continue
			}
			switch se.Kind {
			case SessionStreamComplete, SessionStreamError, SessionStreamCancelled:
				return se
			}
		case <-deadline:
			t.Fatalf("timed out waiting for a terminal session event")
			return SessionEvent{}
		}
	}
}

func TestSendMessageHappyPath(t *testing.T) {
	provider := &fakeProvider{name: "test", chunks: []*CompletionChunk{
		{Kind: ChunkContent, Text: "hello "},
		{Kind: ChunkContent, Text: "world"},
		{Kind: ChunkDone},
	}}
	p, sessionID := newTestPipeline(t, provider)

	assistantID, err := p.SendMessage(context.Background(), SendRequest{
		SessionID: sessionID, Content: "hi", Model: "test-model",
	})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	evt := awaitTerminal(t, p, sessionID)
	if evt.Kind != SessionStreamComplete {
		t.Fatalf("event kind = %v, want %v (error: %s)", evt.Kind, SessionStreamComplete, evt.Error)
	}

	text, err := p.Store.MessageText(context.Background(), assistantID)
	if err != nil {
		t.Fatalf("MessageText() error = %v", err)
	}
	if text != "hello world" {
		t.Fatalf("MessageText() = %q, want %q", text, "hello world")
	}
}

func TestSendMessageRejectsEmptyContent(t *testing.T) {
	p, sessionID := newTestPipeline(t, &fakeProvider{name: "test"})

	_, err := p.SendMessage(context.Background(), SendRequest{SessionID: sessionID, Model: "test-model"})
	if err == nil {
		t.Fatalf("SendMessage() error = nil, want error for empty content")
	}
}

func TestSendMessageRejectsConcurrentSendOnSameSession(t *testing.T) {
	provider := &fakeProvider{name: "test", chunks: []*CompletionChunk{{Kind: ChunkDone}}}
	p, sessionID := newTestPipeline(t, provider)

	if _, err := p.SendMessage(context.Background(), SendRequest{SessionID: sessionID, Content: "first", Model: "test-model"}); err != nil {
		t.Fatalf("first SendMessage() error = %v", err)
	}
	_, err := p.SendMessage(context.Background(), SendRequest{SessionID: sessionID, Content: "second", Model: "test-model"})
	if err != ErrSessionBusy {
		t.Fatalf("second SendMessage() error = %v, want %v", err, ErrSessionBusy)
	}
}

func TestSendMessageUnresolvableModelFails(t *testing.T) {
	p, sessionID := newTestPipeline(t, &fakeProvider{name: "test"})

	if _, err := p.SendMessage(context.Background(), SendRequest{SessionID: sessionID, Content: "hi", Model: "no-such-model"}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	evt := awaitTerminal(t, p, sessionID)
	if evt.Kind != SessionStreamError {
		t.Fatalf("event kind = %v, want %v", evt.Kind, SessionStreamError)
	}
}

func TestCancelStreamOnIdleSessionIsNoop(t *testing.T) {
	p, sessionID := newTestPipeline(t, &fakeProvider{name: "test"})
	p.CancelStream(sessionID) // must not panic with nothing registered
	if p.Registry.IsBusy(sessionID) {
		t.Fatalf("IsBusy() = true on an idle session")
	}
}
