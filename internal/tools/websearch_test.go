package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebSearchToolRejectsMissingQuery(t *testing.T) {
	tool := NewWebSearchTool(WebSearchConfig{})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.OK {
		t.Fatalf("result.OK = true, want false for missing query")
	}
}

func TestWebSearchToolQueriesConfiguredSearXNG(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"title":"Photosynthesis","url":"https://example.com/a","content":"plants convert light to energy"}]}`))
	}))
	defer srv.Close()

	tool := NewWebSearchTool(WebSearchConfig{SearXNGURL: srv.URL, DefaultBackend: BackendSearXNG})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"photosynthesis"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.OK {
		t.Fatalf("result.OK = false, want true: %+v", result)
	}
	if len(result.Citations) != 1 || result.Citations[0].SourceID != "https://example.com/a" {
		t.Fatalf("Citations = %+v", result.Citations)
	}
}

func TestWebSearchToolFallsBackToDuckDuckGoOnBackendFailure(t *testing.T) {
	t.Skip("fallback hits the real DuckDuckGo endpoint; no URL injection point to mock it hermetically")
}

func TestWebSearchToolDefaultBackendSelection(t *testing.T) {
	cases := []struct {
		name string
		cfg  WebSearchConfig
		want SearchBackend
	}{
		{"searxng configured", WebSearchConfig{SearXNGURL: "http://searxng.example.com"}, BackendSearXNG},
		{"brave key only", WebSearchConfig{BraveAPIKey: "key"}, BackendBraveSearch},
		{"nothing configured", WebSearchConfig{}, BackendDuckDuckGo},
		{"explicit override wins", WebSearchConfig{SearXNGURL: "http://x", DefaultBackend: BackendBraveSearch}, BackendBraveSearch},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := normalizeWebSearchConfig(c.cfg).DefaultBackend; got != c.want {
				t.Fatalf("DefaultBackend = %s, want %s", got, c.want)
			}
		})
	}
}
