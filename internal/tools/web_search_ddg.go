package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/omrylcn/gbot/internal/config"
)

const ddgEndpoint = "https://html.duckduckgo.com/html/"

// ddgProvider scrapes the DuckDuckGo HTML frontend. Keyless fallback for
// installs without a Brave API key.
type ddgProvider struct {
	client   *http.Client
	cfg      config.DuckDuckGoConfig
	endpoint string
}

func newDDGProvider(client *http.Client, cfg config.DuckDuckGoConfig) *ddgProvider {
	return &ddgProvider{client: client, cfg: cfg, endpoint: ddgEndpoint}
}

func (p *ddgProvider) Name() string { return "duckduckgo" }

func (p *ddgProvider) Search(ctx context.Context, query string, count int) ([]searchResult, error) {
	if max := p.cfg.MaxResults; max > 0 && count > max {
		count = max
	}
	searchURL := fmt.Sprintf("%s?q=%s", p.endpoint, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build ddg request: %w", err)
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ddg search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ddg search: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read ddg response: %w", err)
	}
	return extractDDGResults(string(body), count), nil
}

var (
	ddgLinkRe    = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetRe = regexp.MustCompile(`<a class="result__snippet[^"]*".*?>([\s\S]*?)</a>`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
)

func extractDDGResults(html string, count int) []searchResult {
	linkMatches := ddgLinkRe.FindAllStringSubmatch(html, count+5)
	if len(linkMatches) == 0 {
		return nil
	}
	snippetMatches := ddgSnippetRe.FindAllStringSubmatch(html, count+5)

	var results []searchResult
	for i := 0; i < len(linkMatches) && i < count; i++ {
		rawURL := unwrapDDGRedirect(linkMatches[i][1])
		title := cleanHTMLFragment(linkMatches[i][2])
		desc := ""
		if i < len(snippetMatches) {
			desc = cleanHTMLFragment(snippetMatches[i][1])
		}
		results = append(results, searchResult{Title: title, URL: rawURL, Description: desc})
	}
	return results
}

// unwrapDDGRedirect extracts the real URL from DDG's redirect wrapper
// (the uddg= query parameter).
func unwrapDDGRedirect(rawURL string) string {
	if !strings.Contains(rawURL, "uddg=") {
		return rawURL
	}
	u, err := url.QueryUnescape(rawURL)
	if err != nil {
		return rawURL
	}
	idx := strings.Index(u, "uddg=")
	if idx == -1 {
		return rawURL
	}
	extracted := u[idx+5:]
	if ampIdx := strings.Index(extracted, "&"); ampIdx != -1 {
		extracted = extracted[:ampIdx]
	}
	return extracted
}

func cleanHTMLFragment(s string) string {
	return strings.TrimSpace(decodeHTMLEntities(htmlTagRe.ReplaceAllString(s, "")))
}
