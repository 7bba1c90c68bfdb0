package grading

import (
	"context"
	"testing"

	"github.com/haasonsaas/nexus-study/internal/chatpipeline"
	"github.com/haasonsaas/nexus-study/internal/observability"
	"github.com/haasonsaas/nexus-study/internal/vfs"
)

type fakeProvider struct {
	chunks []*chatpipeline.CompletionChunk
	name   string
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Complete(ctx context.Context, req *chatpipeline.CompletionRequest) (<-chan *chatpipeline.CompletionChunk, error) {
	out := make(chan *chatpipeline.CompletionChunk, len(p.chunks))
	for _, c := range p.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func newTestPipeline(t *testing.T, provider chatpipeline.Provider) (*Pipeline, *chatpipeline.Store, string) {
	t.Helper()
	logger := observability.NewLogger(observability.LogConfig{Level: "error", Format: "text"})

	sessions, err := chatpipeline.Open(":memory:", logger)
	if err != nil {
		t.Fatalf("chatpipeline.Open() error = %v", err)
	}
	t.Cleanup(func() { sessions.Close() })

	vfsStore, err := vfs.Open(":memory:", logger)
	if err != nil {
		t.Fatalf("vfs.Open() error = %v", err)
	}
	t.Cleanup(func() { vfsStore.Close() })

	sessionID := "session-1"
	if err := sessions.CreateSession(context.Background(), &chatpipeline.Session{ID: sessionID, Mode: chatpipeline.ModeAnalysis}); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	registry := chatpipeline.NewProviderRegistry()
	registry.Register(provider, "test-model")

	p := &Pipeline{
		Sessions:  sessions,
		Essays:    vfsStore.Essays,
		Resources: vfsStore.Resources,
		Providers: registry,
		Registry:  chatpipeline.NewRegistry(),
		Bus:       chatpipeline.NewBus(),
		Logger:    logger,
	}
	return p, sessions, sessionID
}

func TestGradeHappyPath(t *testing.T) {
	provider := &fakeProvider{name: "test", chunks: []*chatpipeline.CompletionChunk{
		{Kind: chatpipeline.ChunkContent, Text: "整体立意明确，结构清晰。\n"},
		{Kind: chatpipeline.ChunkContent, Text: `<score total="85" max="100"><dim name="立意" score="22" max="25">立意准确</dim></score>`},
		{Kind: chatpipeline.ChunkDone},
	}}
	p, _, sessionID := newTestPipeline(t, provider)

	result, err := p.Grade(context.Background(), "test-model", &Request{
		SessionID:   sessionID,
		RoundNumber: 1,
		InputText:   "这是一篇关于秋天的记叙文……",
		EssayType:   "narrative",
	})
	if err != nil {
		t.Fatalf("Grade() error = %v", err)
	}
	if result == nil {
		t.Fatalf("Grade() result = nil")
	}
	if result.OverallScore == nil || *result.OverallScore != 85 {
		t.Fatalf("OverallScore = %v, want 85", result.OverallScore)
	}
	if result.RoundID == "" {
		t.Fatalf("expected a non-empty RoundID")
	}
}

func TestGradeRejectsEmptyInput(t *testing.T) {
	provider := &fakeProvider{name: "test"}
	p, _, sessionID := newTestPipeline(t, provider)

	_, err := p.Grade(context.Background(), "test-model", &Request{SessionID: sessionID, RoundNumber: 1, InputText: "   "})
	if err != ErrEmptyInput {
		t.Fatalf("Grade() error = %v, want ErrEmptyInput", err)
	}
}

func TestGradeRejectsMissingSession(t *testing.T) {
	provider := &fakeProvider{name: "test"}
	p, _, _ := newTestPipeline(t, provider)

	_, err := p.Grade(context.Background(), "test-model", &Request{SessionID: "does-not-exist", RoundNumber: 1, InputText: "content"})
	if err == nil {
		t.Fatalf("Grade() error = nil, want session-missing error")
	}
}

func TestGradeIncompleteStreamIsDiscarded(t *testing.T) {
	provider := &fakeProvider{name: "test", chunks: []*chatpipeline.CompletionChunk{
		{Kind: chatpipeline.ChunkContent, Text: "partial output, stream drops"},
	}}
	p, _, sessionID := newTestPipeline(t, provider)

	_, err := p.Grade(context.Background(), "test-model", &Request{SessionID: sessionID, RoundNumber: 1, InputText: "content"})
	if err != ErrIncomplete {
		t.Fatalf("Grade() error = %v, want ErrIncomplete", err)
	}

	essays, listErr := p.Essays.ListBySession(context.Background(), sessionID)
	if listErr != nil {
		t.Fatalf("ListBySession() error = %v", listErr)
	}
	if len(essays) != 0 {
		t.Fatalf("expected no essay rows persisted for an incomplete stream, got %d", len(essays))
	}
}

func TestGradeSecondRoundAppendsTitleSuffix(t *testing.T) {
	provider := &fakeProvider{name: "test", chunks: []*chatpipeline.CompletionChunk{
		{Kind: chatpipeline.ChunkContent, Text: `<score total="70" max="100"></score>`},
		{Kind: chatpipeline.ChunkDone},
	}}
	p, sessions, sessionID := newTestPipeline(t, provider)
	if err := sessions.SetTitle(context.Background(), sessionID, "我的秋天"); err != nil {
		t.Fatalf("SetTitle() error = %v", err)
	}

	result, err := p.Grade(context.Background(), "test-model", &Request{SessionID: sessionID, RoundNumber: 2, InputText: "修改后的内容"})
	if err != nil {
		t.Fatalf("Grade() error = %v", err)
	}
	if got := RoundTitle("我的秋天", 2); got != "我的秋天 (第2轮)" {
		t.Fatalf("RoundTitle() = %q", got)
	}
	if result.RoundNumber != 2 {
		t.Fatalf("RoundNumber = %d, want 2", result.RoundNumber)
	}
}

func TestCancelOnIdleSessionReportsNoStream(t *testing.T) {
	provider := &fakeProvider{name: "test"}
	p, _, sessionID := newTestPipeline(t, provider)
	if p.Cancel(sessionID) {
		t.Fatalf("Cancel() on idle session = true, want false")
	}
}
