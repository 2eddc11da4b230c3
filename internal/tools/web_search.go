package tools

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/omrylcn/gbot/internal/config"
)

const (
	defaultSearchCount = 5
	maxSearchCount     = 10
)

type searchResult struct {
	Title       string
	URL         string
	Description string
}

// SearchProvider is one search backend. Providers are tried in order;
// the first one that returns without error wins.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string, count int) ([]searchResult, error)
}

// WebSearchTool searches the web through a provider chain
// (Brave when an API key is configured, DuckDuckGo as keyless fallback).
type WebSearchTool struct {
	providers []SearchProvider
	cache     *webCache
}

func NewWebSearchTool(cfg *config.Config) *WebSearchTool {
	web := cfg.WebSettings()
	client := &http.Client{Timeout: webTimeout(web)}
	var providers []SearchProvider
	if web.Brave.APIKey != "" {
		providers = append(providers, newBraveProvider(client, web.Brave))
	}
	if web.DuckDuckGo.Enabled {
		providers = append(providers, newDDGProvider(client, web.DuckDuckGo))
	}
	return &WebSearchTool{
		providers: providers,
		cache:     newWebCache(defaultCacheTTL, defaultCacheMaxEntries),
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web. Returns titles, URLs, and snippets."
}

func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The search query",
			},
			"count": map[string]interface{}{
				"type":        "number",
				"description": "Number of results (default: 5, max: 10)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("query is required")
	}
	count := defaultSearchCount
	if n, ok := args["count"].(float64); ok && n > 0 {
		count = int(n)
	}
	if count > maxSearchCount {
		count = maxSearchCount
	}
	if len(t.providers) == 0 {
		return NewResult("Web search unavailable: no search provider configured.")
	}

	cacheKey := fmt.Sprintf("search|%s|%d", query, count)
	if cached, ok := t.cache.get(cacheKey); ok {
		return NewResult(cached)
	}

	var results []searchResult
	var lastErr error
	for _, p := range t.providers {
		res, err := p.Search(ctx, query, count)
		if err != nil {
			slog.Warn("search provider failed", "provider", p.Name(), "error", err)
			lastErr = err
			continue
		}
		results = res
		lastErr = nil
		break
	}
	if lastErr != nil {
		return ErrorResult(fmt.Sprintf("Search error: %v", lastErr)).WithError(lastErr)
	}
	if len(results) == 0 {
		return NewResult(fmt.Sprintf("No results found for: %s", query))
	}

	formatted := formatSearchResults(query, results)
	t.cache.put(cacheKey, formatted)
	return NewResult(formatted)
}

func formatSearchResults(query string, results []searchResult) string {
	lines := []string{fmt.Sprintf("Results for: %s\n", query)}
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = "No title"
		}
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, title))
		lines = append(lines, "   "+r.URL)
		if r.Description != "" {
			lines = append(lines, "   "+r.Description)
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func truncateStr(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func webTimeout(web config.WebToolsConfig) time.Duration {
	if web.TimeoutSeconds > 0 {
		return time.Duration(web.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}
