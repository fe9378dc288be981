package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SearchResult is one hit returned by the search backend.
type SearchResult struct {
	URL       string
	Title     string
	Content   string
	Source    string
	Published *time.Time
}

// SearchClient runs free-text news searches against an external backend.
type SearchClient interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// SearxClient is a SearchClient backed by a SearXNG instance's JSON API.
type SearxClient struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewSearxClient creates a search client for the given SearXNG base URL.
func NewSearxClient(baseURL string, log zerolog.Logger) *SearxClient {
	return &SearxClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 20 * time.Second},
		log:     log.With().Str("client", "searx").Logger(),
	}
}

type searxResponse struct {
	Results []struct {
		URL           string `json:"url"`
		Title         string `json:"title"`
		Content       string `json:"content"`
		Engine        string `json:"engine"`
		PublishedDate string `json:"publishedDate"`
	} `json:"results"`
}

// Search queries the news category and returns up to limit results.
func (c *SearxClient) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("categories", "news")
	endpoint := fmt.Sprintf("%s/search?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend returned status %d", resp.StatusCode)
	}

	var payload searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]SearchResult, 0, limit)
	for _, r := range payload.Results {
		if r.URL == "" || r.Title == "" {
			continue
		}
		res := SearchResult{
			URL:     r.URL,
			Title:   r.Title,
			Content: r.Content,
			Source:  r.Engine,
		}
		if r.PublishedDate != "" {
			if t, perr := time.Parse(time.RFC3339, r.PublishedDate); perr == nil {
				res.Published = &t
			}
		}
		results = append(results, res)
		if len(results) >= limit {
			break
		}
	}

	c.log.Debug().Str("query", query).Int("results", len(results)).Msg("Search complete")
	return results, nil
}
