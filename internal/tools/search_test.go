// ABOUTME: Tests for the DuckDuckGo search tool
// ABOUTME: Uses an httptest server serving canned result pages

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatbot/internal/store"
)

const resultsPage = `<!DOCTYPE html>
<html><body>
<div class="result results_links results_links_deep result--ad">
  <h2 class="result__title"><a class="result__a" href="https://duckduckgo.com/y.js?ad_domain=spam.example">Buy now</a></h2>
  <a class="result__snippet" href="#">Sponsored</a>
</div>
<div class="result results_links results_links_deep web-result">
  <h2 class="result__title">
    <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2F&amp;rut=abc">The Go   Programming Language</a>
  </h2>
  <a class="result__snippet" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2F">Go is an <b>open source</b> programming language.</a>
</div>
<div class="result results_links results_links_deep web-result">
  <h2 class="result__title"><a class="result__a" href="https://example.com/direct">Direct Link</a></h2>
  <a class="result__snippet" href="https://example.com/direct">Second snippet</a>
</div>
<div class="result results_links results_links_deep web-result">
  <h2 class="result__title"><a class="result__a" href="https://example.com/third">Third</a></h2>
</div>
<script>var result__a = 1;</script>
</body></html>`

func newSearchServer(t *testing.T, handler http.HandlerFunc) *Searcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSearcher(SearchConfig{Endpoint: srv.URL, MaxResults: 2, Timeout: 2 * time.Second}, nil)
}

func TestParseResults(t *testing.T) {
	results, err := parseResults([]byte(resultsPage), 10)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "The Go Programming Language", results[0].Title)
	assert.Equal(t, "https://go.dev/", results[0].URL)
	assert.Equal(t, "Go is an open source programming language.", results[0].Snippet)
	assert.Equal(t, "https://example.com/direct", results[1].URL)
	assert.Equal(t, "Third", results[2].Title)
	assert.Empty(t, results[2].Snippet)
}

func TestSearcher_Search(t *testing.T) {
	var gotQuery, gotRegion string
	s := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		gotQuery = r.PostForm.Get("q")
		gotRegion = r.PostForm.Get("kl")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(resultsPage))
	})

	results, err := s.Search(context.Background(), "golang")
	require.NoError(t, err)
	assert.Equal(t, "golang", gotQuery)
	assert.Equal(t, "us-en", gotRegion)
	assert.Len(t, results, 2, "results are capped at MaxResults")
}

func TestSearchTool_FormatsResults(t *testing.T) {
	s := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(resultsPage))
	})

	reg := NewRegistry(nil)
	require.NoError(t, reg.RegisterPack(s.WebPack()))

	out, err := reg.Execute(context.Background(), store.ToolCall{
		ID:        "s1",
		Name:      "search",
		Arguments: json.RawMessage(`{"query":"golang"}`),
	})
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "The Go Programming Language: Go is an open source programming language. (https://go.dev/)", lines[0])
}

func TestSearchTool_NoResults(t *testing.T) {
	s := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><div class="no-results">No results.</div></body></html>`))
	})

	out, err := s.Tool().Handler(context.Background(), json.RawMessage(`{"query":"zzzz"}`))
	require.NoError(t, err)
	assert.Equal(t, NoResultsMessage, out)
}

func TestSearchTool_ProviderFailurePropagates(t *testing.T) {
	var hits atomic.Int32
	s := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(s.Tool()))

	_, err := reg.Execute(context.Background(), store.ToolCall{
		Name:      "search",
		Arguments: json.RawMessage(`{"query":"anything"}`),
	})
	require.Error(t, err)

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "duckduckgo", perr.Provider)
	assert.Equal(t, int32(1), hits.Load(), "retries are disabled by default")
}

func TestSearcher_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "busy", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(resultsPage))
	}))
	t.Cleanup(srv.Close)

	s := NewSearcher(SearchConfig{Endpoint: srv.URL, MaxResults: 2, Timeout: 2 * time.Second, RetryCount: 2}, nil)
	results, err := s.Search(context.Background(), "golang")
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, int32(2), hits.Load())
}

func TestSearchTool_EmptyQueryIsPayload(t *testing.T) {
	s := NewSearcher(SearchConfig{Endpoint: "http://127.0.0.1:0"}, nil)
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(s.Tool()))

	out, err := reg.Execute(context.Background(), store.ToolCall{
		Name:      "search",
		Arguments: json.RawMessage(`{"query":"   "}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"query must not be empty"}`, out)
}

func TestResolveLink(t *testing.T) {
	assert.Equal(t, "https://go.dev/", resolveLink("//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2F&rut=x"))
	assert.Equal(t, "https://example.com", resolveLink("https://example.com"))
	assert.Equal(t, "", resolveLink(""))
}
