package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"debate-arena/utils"
)

// ImageSearcher resolves an image description to a URL. Lookups are best
// effort: the match service drops the suggestion silently on any failure.
type ImageSearcher interface {
	SearchImage(ctx context.Context, query string) (string, error)
}

const tavilyBaseURL = "https://api.tavily.com"

// TavilyClient backs ImageSearcher with the Tavily search API.
type TavilyClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewTavilyClient(apiKey string) *TavilyClient {
	return NewTavilyClientWithBaseURL(apiKey, tavilyBaseURL)
}

// NewTavilyClientWithBaseURL builds a client against a custom endpoint
// (used by tests).
func NewTavilyClientWithBaseURL(apiKey, baseURL string) *TavilyClient {
	return &TavilyClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: utils.HTTPClient,
	}
}

type tavilySearchRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	IncludeImages bool   `json:"include_images"`
}

type tavilySearchResponse struct {
	Images []string `json:"images"`
}

// SearchImage returns the first image URL for the query, or "" when the
// search comes back empty.
func (t *TavilyClient) SearchImage(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(tavilySearchRequest{
		APIKey:        t.apiKey,
		Query:         query + " image",
		MaxResults:    1,
		IncludeImages: true,
	})
	if err != nil {
		return "", fmt.Errorf("tavily: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("tavily: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tavily: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tavily: status %d", resp.StatusCode)
	}

	var sr tavilySearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("tavily: %w", err)
	}
	if len(sr.Images) == 0 || strings.TrimSpace(sr.Images[0]) == "" {
		return "", nil
	}
	return sr.Images[0], nil
}
