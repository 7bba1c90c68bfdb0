package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/haasonsaas/nexus-study/internal/chatpipeline"
)

// SearchBackend selects which upstream a web search tool queries.
type SearchBackend string

const (
	BackendDuckDuckGo  SearchBackend = "duckduckgo"
	BackendSearXNG     SearchBackend = "searxng"
	BackendBraveSearch SearchBackend = "brave"
)

// WebSearchConfig configures the builtin web_search tool, grounded on the
// teacher's websearch.Config (internal/tools/websearch/search.go) but
// trimmed to the backends this module actually wires: DuckDuckGo needs no
// credentials and is always available as the fallback; SearXNG and Brave
// activate only when their endpoint/key is set.
type WebSearchConfig struct {
	SearXNGURL         string
	BraveAPIKey        string
	DefaultBackend     SearchBackend
	DefaultResultCount int
	HTTPTimeout        time.Duration
}

// SearchResult is one hit, independent of which backend produced it.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type searchParams struct {
	Query       string `json:"query"`
	ResultCount int    `json:"result_count,omitempty"`
}

// NewWebSearchTool builds the builtin web_search Tool. Execute always tries
// cfg.DefaultBackend first and falls back to DuckDuckGo on failure, the
// same fallback-to-DDG policy the teacher's WebSearchTool.Execute uses.
func NewWebSearchTool(cfg WebSearchConfig) *Tool {
	cfg = normalizeWebSearchConfig(cfg)

	ws := &webSearchExecutor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
	}

	return &Tool{
		name:        "web_search",
		description: "Search the web for information relevant to the current study session.",
		schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "the search query"},
				"result_count": {"type": "integer", "minimum": 1, "maximum": 20, "description": "number of results to return (default 5)"}
			},
			"required": ["query"]
		}`),
		execute: ws.execute,
	}
}

func normalizeWebSearchConfig(cfg WebSearchConfig) WebSearchConfig {
	if cfg.DefaultResultCount <= 0 {
		cfg.DefaultResultCount = 5
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.DefaultBackend == "" {
		switch {
		case cfg.SearXNGURL != "":
			cfg.DefaultBackend = BackendSearXNG
		case cfg.BraveAPIKey != "":
			cfg.DefaultBackend = BackendBraveSearch
		default:
			cfg.DefaultBackend = BackendDuckDuckGo
		}
	}
	return cfg
}

type webSearchExecutor struct {
	cfg    WebSearchConfig
	client *http.Client
}

func (w *webSearchExecutor) execute(ctx context.Context, raw json.RawMessage) (Result, error) {
	var p searchParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return Result{OK: false, Err: "invalid parameters: " + err.Error()}, nil
	}
	if p.Query == "" {
		return Result{OK: false, Err: "query is required"}, nil
	}
	if p.ResultCount <= 0 {
		p.ResultCount = w.cfg.DefaultResultCount
	}
	if p.ResultCount > 20 {
		p.ResultCount = 20
	}

	results, backend, err := w.search(ctx, w.cfg.DefaultBackend, p)
	if err != nil && w.cfg.DefaultBackend != BackendDuckDuckGo {
		results, backend, err = w.search(ctx, BackendDuckDuckGo, p)
	}
	if err != nil {
		return Result{OK: false, Err: fmt.Sprintf("search failed: %v", err)}, nil
	}

	citations := make([]chatpipeline.Citation, 0, len(results))
	for _, r := range results {
		citations = append(citations, chatpipeline.Citation{SourceID: r.URL, Title: r.Title, Snippet: r.Snippet})
	}
	payload, _ := json.Marshal(struct {
		Query   string         `json:"query"`
		Backend SearchBackend  `json:"backend"`
		Results []SearchResult `json:"results"`
	}{Query: p.Query, Backend: backend, Results: results})

	return Result{OK: true, Data: string(payload), Citations: citations}, nil
}

func (w *webSearchExecutor) search(ctx context.Context, backend SearchBackend, p searchParams) ([]SearchResult, SearchBackend, error) {
	switch backend {
	case BackendSearXNG:
		r, err := w.searchSearXNG(ctx, p)
		return r, BackendSearXNG, err
	case BackendBraveSearch:
		r, err := w.searchBrave(ctx, p)
		return r, BackendBraveSearch, err
	default:
		r, err := w.searchDuckDuckGo(ctx, p)
		return r, BackendDuckDuckGo, err
	}
}

func (w *webSearchExecutor) searchSearXNG(ctx context.Context, p searchParams) ([]SearchResult, error) {
	if w.cfg.SearXNGURL == "" {
		return nil, fmt.Errorf("searxng url not configured")
	}
	base, err := url.Parse(w.cfg.SearXNGURL)
	if err != nil {
		return nil, fmt.Errorf("invalid searxng url: %w", err)
	}
	q := url.Values{}
	q.Set("q", p.Query)
	q.Set("format", "json")
	q.Set("pageno", "1")
	base.Path = "/search"
	base.RawQuery = q.Encode()

	body, err := w.get(ctx, base.String(), nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse searxng response: %w", err)
	}
	out := make([]SearchResult, 0, p.ResultCount)
	for i := 0; i < len(parsed.Results) && i < p.ResultCount; i++ {
		r := parsed.Results[i]
		out = append(out, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}

func (w *webSearchExecutor) searchDuckDuckGo(ctx context.Context, p searchParams) ([]SearchResult, error) {
	target := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1", url.QueryEscape(p.Query))
	body, err := w.get(ctx, target, map[string]string{"User-Agent": "Mozilla/5.0 (compatible; NexusStudyBot/1.0)"})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		AbstractText string `json:"AbstractText"`
		AbstractURL  string `json:"AbstractURL"`
		Heading      string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse duckduckgo response: %w", err)
	}

	out := make([]SearchResult, 0, p.ResultCount)
	if parsed.AbstractText != "" && parsed.AbstractURL != "" {
		out = append(out, SearchResult{Title: parsed.Heading, URL: parsed.AbstractURL, Snippet: parsed.AbstractText})
	}
	for i := 0; i < len(parsed.RelatedTopics) && len(out) < p.ResultCount; i++ {
		t := parsed.RelatedTopics[i]
		if t.FirstURL == "" || t.Text == "" {
			continue
		}
		title := t.Text
		if len(title) > 100 {
			title = title[:100]
		}
		out = append(out, SearchResult{Title: title, URL: t.FirstURL, Snippet: t.Text})
	}
	return out, nil
}

func (w *webSearchExecutor) searchBrave(ctx context.Context, p searchParams) ([]SearchResult, error) {
	if w.cfg.BraveAPIKey == "" {
		return nil, fmt.Errorf("brave api key not configured")
	}
	q := url.Values{}
	q.Set("q", p.Query)
	q.Set("count", fmt.Sprintf("%d", p.ResultCount))
	target := "https://api.search.brave.com/res/v1/web/search?" + q.Encode()

	body, err := w.get(ctx, target, map[string]string{
		"Accept":               "application/json",
		"X-Subscription-Token": w.cfg.BraveAPIKey,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse brave response: %w", err)
	}
	out := make([]SearchResult, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		out = append(out, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return out, nil
}

func (w *webSearchExecutor) get(ctx context.Context, target string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
