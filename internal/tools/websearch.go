package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/normanking/fairy/internal/capability"
)

// ===========================================================================
// WEB SEARCH TOOL
// ===========================================================================

// Hit is a single search result.
type Hit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

// Searcher is a web search backend.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]Hit, error)
}

// ErrRateLimited is returned by backends when the provider throttles us.
var ErrRateLimited = errors.New("search rate limited")

// WebSearchTool runs queries against a backend through a TTL cache.
type WebSearchTool struct {
	backend           Searcher
	maxResults        int
	cache             *searchCache
	dangerousPatterns []*regexp.Regexp
	log               zerolog.Logger
}

// searchCache provides simple TTL-based caching to reduce API calls.
type searchCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	maxSize int
	ttl     time.Duration
}

type cacheEntry struct {
	hits      []Hit
	expiresAt time.Time
}

// WebSearchOption configures the WebSearchTool.
type WebSearchOption func(*WebSearchTool)

// WithMaxResultsPerQuery sets how many hits are reported.
func WithMaxResultsPerQuery(n int) WebSearchOption {
	return func(w *WebSearchTool) {
		if n > 0 {
			w.maxResults = n
		}
	}
}

// WithCache sets cache capacity and TTL. A zero TTL disables caching.
func WithCache(maxSize int, ttl time.Duration) WebSearchOption {
	return func(w *WebSearchTool) {
		w.cache.maxSize = maxSize
		w.cache.ttl = ttl
	}
}

// NewWebSearchTool creates a web search tool over backend.
func NewWebSearchTool(backend Searcher, opts ...WebSearchOption) *WebSearchTool {
	w := &WebSearchTool{
		backend:    backend,
		maxResults: 3,
		cache: &searchCache{
			entries: make(map[string]*cacheEntry),
			maxSize: 100,
			ttl:     5 * time.Minute,
		},
		log: log.With().Str("component", "websearch").Logger(),
	}
	w.compileDangerousPatterns()

	for _, opt := range opts {
		opt(w)
	}
	return w
}

// compileDangerousPatterns compiles regex patterns for content sanitization.
func (w *WebSearchTool) compileDangerousPatterns() {
	patterns := []string{
		`<script[^>]*>.*?</script>`,
		`javascript:`,
		`on\w+\s*=`,
		`data:\s*text/html`,
		`\x00`,
		`<iframe[^>]*>`,
	}
	for _, p := range patterns {
		if re, err := regexp.Compile("(?i)" + p); err == nil {
			w.dangerousPatterns = append(w.dangerousPatterns, re)
		}
	}
}

// Handler adapts the tool to a capability handler. Extra arguments are
// treated as part of the query.
func (w *WebSearchTool) Handler() capability.Handler {
	return func(ctx context.Context, args []string) capability.Result {
		return w.Run(ctx, strings.Join(args, " "))
	}
}

// Run searches and formats results for the model.
func (w *WebSearchTool) Run(ctx context.Context, query string) capability.Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return capability.Fail("Search query cannot be empty")
	}
	if len(query) > 500 {
		return capability.Fail("Search query too long (max 500 characters)")
	}

	hits, err := w.Search(ctx, query)
	if err != nil {
		w.log.Error().Err(err).Str("query", query).Msg("search failed")
		switch {
		case errors.Is(err, ErrRateLimited):
			return capability.Fail("Search rate limited. Please try again in a moment.")
		case errors.Is(err, context.DeadlineExceeded):
			return capability.Fail("No internet connection or search service unavailable.")
		default:
			return capability.Failf("Error searching: %v", err)
		}
	}

	if len(hits) == 0 {
		return capability.OKf("No results found for: %s", query)
	}
	return capability.OK(FormatHits(hits))
}

// Search returns sanitized hits, consulting the cache first.
func (w *WebSearchTool) Search(ctx context.Context, query string) ([]Hit, error) {
	key := cacheKey(w.backend.Name(), query)
	if cached, ok := w.cache.get(key); ok {
		w.log.Debug().Str("query", query).Msg("cache hit")
		return cached, nil
	}

	start := time.Now()
	hits, err := w.backend.Search(ctx, query, w.maxResults)
	if err != nil {
		return nil, err
	}
	if len(hits) > w.maxResults {
		hits = hits[:w.maxResults]
	}
	for i := range hits {
		hits[i].Title = w.sanitizeText(hits[i].Title)
		hits[i].Summary = w.sanitizeText(hits[i].Summary)
	}

	w.cache.set(key, hits)
	w.log.Info().
		Str("backend", w.backend.Name()).
		Int("results", len(hits)).
		Dur("elapsed", time.Since(start)).
		Msg("search complete")
	return hits, nil
}

// FormatHits renders hits in the numbered block format the model expects.
func FormatHits(hits []Hit) string {
	blocks := make([]string, 0, len(hits))
	for i, h := range hits {
		title := h.Title
		if title == "" {
			title = "No title"
		}
		summary := h.Summary
		if summary == "" {
			summary = "No description"
		}
		blocks = append(blocks, fmt.Sprintf("[Result %d]\nTitle: %s\nSummary: %s\nURL: %s",
			i+1, title, truncateContent(summary, 500), h.URL))
	}
	return strings.Join(blocks, "\n\n")
}

func truncateContent(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func (w *WebSearchTool) sanitizeText(text string) string {
	for _, pattern := range w.dangerousPatterns {
		text = pattern.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// ===========================================================================
// CACHE IMPLEMENTATION
// ===========================================================================

func cacheKey(backend, query string) string {
	normalized := backend + ":" + strings.ToLower(strings.TrimSpace(query))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}

func (c *searchCache) get(key string) ([]Hit, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	out := make([]Hit, len(entry.hits))
	copy(out, entry.hits)
	return out, true
}

func (c *searchCache) set(key string, hits []Hit) {
	if c.ttl <= 0 || c.maxSize <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	stored := make([]Hit, len(hits))
	copy(stored, hits)
	c.entries[key] = &cacheEntry{
		hits:      stored,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *searchCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.expiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
