// Package builtin provides in-process tool runtimes that need no subprocess
// or MCP server: they implement tools.Runtime directly and are registered
// under well-known names.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmorgan/crucible/internal/llm"
	"github.com/jmorgan/crucible/internal/tools"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Factories returns the factory for every builtin tool, keyed by the name
// agents reference it under.
func Factories() map[string]tools.LocalFactory {
	return map[string]tools.LocalFactory{
		"DuckDuckGoTools": func() tools.Runtime { return NewDuckDuckGo() },
		"MarketDataTools": func() tools.Runtime { return NewMarketData() },
	}
}

// DuckDuckGo answers search queries through the DuckDuckGo instant answer
// API. No API key is required.
type DuckDuckGo struct {
	baseURL string
}

func NewDuckDuckGo() *DuckDuckGo {
	return &DuckDuckGo{baseURL: "https://api.duckduckgo.com/"}
}

var _ tools.Runtime = (*DuckDuckGo)(nil)

func (d *DuckDuckGo) Name() string { return "DuckDuckGoTools" }

func (d *DuckDuckGo) ToolDefs() []llm.ToolDef {
	return []llm.ToolDef{
		{
			Name:        "duckduckgo_search",
			Description: "Search the web via the DuckDuckGo instant answer API. Returns an abstract and related topics.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The search query",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

func (d *DuckDuckGo) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if name != "duckduckgo_search" {
		return "", &tools.UnknownToolError{ServerID: d.Name(), Tool: name}
	}
	query, _ := args["query"].(string)
	if query == "" {
		return "error: 'query' is required", nil
	}
	return d.search(ctx, query)
}

func (d *DuckDuckGo) Release() {}

func (d *DuckDuckGo) search(ctx context.Context, query string) (string, error) {
	u := d.baseURL + "?" + url.Values{
		"q":       {query},
		"format":  {"json"},
		"no_html": {"1"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Crucible/0.1")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("duckduckgo request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading duckduckgo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("duckduckgo returned %d", resp.StatusCode)
	}

	var result struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Answer        string `json:"Answer"`
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parsing duckduckgo response: %w", err)
	}

	var sb strings.Builder
	if result.Answer != "" {
		sb.WriteString("Answer: " + result.Answer + "\n\n")
	}
	if result.AbstractText != "" {
		sb.WriteString(result.AbstractText + "\n")
		if result.AbstractURL != "" {
			sb.WriteString("Source: " + result.AbstractURL + "\n")
		}
		sb.WriteString("\n")
	}
	count := 0
	for _, topic := range result.RelatedTopics {
		if topic.Text == "" {
			continue
		}
		count++
		sb.WriteString(fmt.Sprintf("%d. %s\n   %s\n", count, topic.Text, topic.FirstURL))
		if count == 5 {
			break
		}
	}
	if sb.Len() == 0 {
		return "No results found for: " + query, nil
	}
	return sb.String(), nil
}
