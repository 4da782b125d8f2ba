package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ===========================================================================
// TAVILY BACKEND
// ===========================================================================

const tavilyEndpoint = "https://api.tavily.com/search"

// TavilyRequest represents a request to the Tavily Search API.
type TavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
}

// TavilyResponse represents the response from Tavily Search API.
type TavilyResponse struct {
	Answer  string         `json:"answer"`
	Query   string         `json:"query"`
	Results []TavilyResult `json:"results"`
}

// TavilyResult represents a single search result.
type TavilyResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Tavily searches through the Tavily API.
type Tavily struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewTavily creates a Tavily backend. An empty endpoint uses the public API.
func NewTavily(apiKey, endpoint string) *Tavily {
	if endpoint == "" {
		endpoint = tavilyEndpoint
	}
	return &Tavily{
		apiKey:     apiKey,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements Searcher.
func (t *Tavily) Name() string { return "tavily" }

// Search implements Searcher.
func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]Hit, error) {
	if t.apiKey == "" {
		return nil, fmt.Errorf("Tavily API key not configured")
	}
	if maxResults < 1 {
		maxResults = 1
	} else if maxResults > 10 {
		maxResults = 10
	}

	body, err := json.Marshal(&TavilyRequest{
		APIKey:      t.apiKey,
		Query:       query,
		SearchDepth: "basic",
		MaxResults:  maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("api returned status %d: %s", resp.StatusCode, msg)
	}

	var decoded TavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	hits := make([]Hit, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		hits = append(hits, Hit{Title: r.Title, URL: r.URL, Summary: r.Content})
	}
	return hits, nil
}
