package clipsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const searchTimeout = 20 * time.Second

// HTTPSearchClient is the external clip search dependency (spec §6 "Clip
// search: search(query, page_size) → Candidate[]"), built on the same
// http.Client setup as blob.Client but making a single attempt per call,
// with no retry.
type HTTPSearchClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPSearchClient constructs a search client bound to one provider.
func NewHTTPSearchClient(baseURL, apiKey string) *HTTPSearchClient {
	return &HTTPSearchClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: searchTimeout},
	}
}

var _ SearchClient = (*HTTPSearchClient)(nil)

type searchResponse struct {
	Results []struct {
		ID           string  `json:"id"`
		DownloadURL  string  `json:"download_url"`
		ThumbnailURL string  `json:"thumbnail_url"`
		Duration     float64 `json:"duration"`
	} `json:"results"`
}

// Search queries the provider for up to pageSize candidates matching query
// (spec §4.G "K=15" per call — the caller supplies pageSize).
func (c *HTTPSearchClient) Search(ctx context.Context, query string, pageSize int) ([]Candidate, error) {
	reqBody, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"page_size": pageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	candidates := make([]Candidate, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		candidates = append(candidates, Candidate{
			ID:           r.ID,
			DownloadURL:  r.DownloadURL,
			ThumbnailURL: r.ThumbnailURL,
			Duration:     r.Duration,
		})
	}
	return candidates, nil
}
