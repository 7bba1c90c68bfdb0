package llmprovider

import (
	"testing"

	"github.com/haasonsaas/nexus-study/internal/chatpipeline"
)

func TestNewOpenAIProviderRequiresAPIKey(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestConvertOpenAIMessagesPrependsSystem(t *testing.T) {
	msgs := convertOpenAIMessages([]chatpipeline.CompletionMessage{
		{Role: chatpipeline.RoleUser, Content: "hi"},
	}, "be terse")
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "be terse" {
		t.Fatalf("msgs[0] = %+v", msgs[0])
	}
}

func TestDecodeToolInputEmptyBuffer(t *testing.T) {
	input, err := decodeToolInput(nil)
	if err != nil {
		t.Fatalf("decodeToolInput() error = %v", err)
	}
	if len(input) != 0 {
		t.Fatalf("input = %+v, want empty", input)
	}
}
