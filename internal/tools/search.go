// ABOUTME: Web search tool backed by the DuckDuckGo HTML endpoint
// ABOUTME: Fetches result pages with resty and extracts titles, snippets and links with x/net/html

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html"
)

// NoResultsMessage is returned to the model when a query matches nothing.
const NoResultsMessage = "No good DuckDuckGo Search Result was found"

// ProviderError reports a failure of an external backend a tool depends on.
// Unlike other tool errors it is not converted into a payload.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// SearchConfig configures the search client.
type SearchConfig struct {
	Endpoint   string
	Region     string
	MaxResults int
	Timeout    time.Duration
	RetryCount int
}

// SearchResult is one hit from the search backend.
type SearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// SearchInput is the argument object of the search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema_description:"The search query"`
}

// Searcher queries DuckDuckGo's HTML interface.
type Searcher struct {
	cfg    SearchConfig
	client *resty.Client
	logger *slog.Logger
}

// NewSearcher creates a Searcher with browser-like headers.
func NewSearcher(cfg SearchConfig, logger *slog.Logger) *Searcher {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://html.duckduckgo.com/html/"
	}
	if cfg.Region == "" {
		cfg.Region = "us-en"
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 4
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := resty.New().
		SetHeader("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36").
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.5").
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})

	return &Searcher{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "search"),
	}
}

// Search runs the query and returns at most MaxResults hits.
func (s *Searcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"q":  query,
			"kl": s.cfg.Region,
		}).
		Post(s.cfg.Endpoint)
	if err != nil {
		return nil, &ProviderError{Provider: "duckduckgo", Err: err}
	}
	if resp.IsError() {
		return nil, &ProviderError{
			Provider: "duckduckgo",
			Err:      fmt.Errorf("status %d", resp.StatusCode()),
		}
	}

	results, err := parseResults(resp.Body(), s.cfg.MaxResults)
	if err != nil {
		return nil, &ProviderError{Provider: "duckduckgo", Err: err}
	}

	s.logger.Debug("search completed", "query", query, "results", len(results))
	return results, nil
}

// Tool returns the search tool definition backed by this Searcher.
func (s *Searcher) Tool() *Tool {
	return &Tool{
		Definition: Definition{
			Name:        "search",
			Description: "Search the web with DuckDuckGo. Useful for current events and facts you do not know. Input is a search query.",
			InputSchema: mustSchema(&SearchInput{}),
		},
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			var in SearchInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("decoding search input: %w", err)
			}
			if strings.TrimSpace(in.Query) == "" {
				return nil, fmt.Errorf("query must not be empty")
			}

			results, err := s.Search(ctx, in.Query)
			if err != nil {
				return nil, err
			}
			return FormatResults(results), nil
		},
	}
}

// WebPack groups the tools that reach the network.
func (s *Searcher) WebPack() *Pack {
	return &Pack{
		ID:    "builtin:web",
		Tools: []*Tool{s.Tool()},
	}
}

// FormatResults renders hits as plain text lines for the model.
func FormatResults(results []SearchResult) string {
	if len(results) == 0 {
		return NoResultsMessage
	}
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(r.Title)
		if r.Snippet != "" {
			b.WriteString(": ")
			b.WriteString(r.Snippet)
		}
		if r.URL != "" {
			b.WriteString(" (")
			b.WriteString(r.URL)
			b.WriteString(")")
		}
	}
	return b.String()
}

// parseResults extracts result anchors and snippets from a DuckDuckGo HTML page.
func parseResults(body []byte, limit int) ([]SearchResult, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing results page: %w", err)
	}

	var results []SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, "result__a"):
				results = append(results, SearchResult{
					Title: textContent(n),
					URL:   resolveLink(attr(n, "href")),
				})
				return
			case hasClass(n, "result__snippet"):
				if len(results) > 0 && results[len(results)-1].Snippet == "" {
					results[len(results)-1].Snippet = textContent(n)
				}
				return
			case n.Data == "script" || n.Data == "style":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	// Sponsored results link through the ad redirector and have no usable URL.
	filtered := results[:0]
	for _, r := range results {
		if r.Title == "" || strings.Contains(r.URL, "duckduckgo.com/y.js") {
			continue
		}
		filtered = append(filtered, r)
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// resolveLink unwraps DuckDuckGo's //duckduckgo.com/l/?uddg=<target> redirects.
func resolveLink(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
