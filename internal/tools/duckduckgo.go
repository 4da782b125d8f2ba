package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ===========================================================================
// DUCKDUCKGO BACKEND
// ===========================================================================

const duckDuckGoEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGo scrapes the keyless HTML results page.
type DuckDuckGo struct {
	endpoint   string
	userAgent  string
	httpClient *http.Client
}

// NewDuckDuckGo creates a DuckDuckGo backend. An empty endpoint uses the
// public HTML endpoint.
func NewDuckDuckGo(endpoint string) *DuckDuckGo {
	if endpoint == "" {
		endpoint = duckDuckGoEndpoint
	}
	return &DuckDuckGo{
		endpoint:   endpoint,
		userAgent:  "Mozilla/5.0 (X11; Linux x86_64) Fairy/1.0",
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Name implements Searcher.
func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// Search implements Searcher.
func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]Hit, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusAccepted:
		return nil, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}

	var hits []Hit
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.HasClass("result--ad") {
			return true
		}
		link := s.Find(".result__a").First()
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		if title == "" || href == "" {
			return true
		}
		hits = append(hits, Hit{
			Title:   title,
			URL:     resolveRedirect(href),
			Summary: strings.TrimSpace(s.Find(".result__snippet").Text()),
		})
		return maxResults <= 0 || len(hits) < maxResults
	})
	return hits, nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(href string) string {
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
