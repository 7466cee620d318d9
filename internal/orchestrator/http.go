package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// fetchTimeout bounds a single blob fetch used to stage voice/BGM audio onto
// local disk before handing it to ffmpeg (grounded on the same plain-HTTP
// fetch pattern as transcribe.fetchAudio).
const fetchTimeout = 120 * time.Second

// httpGet fetches url's body over plain HTTP, the same pattern
// transcribe.fetchAudio uses for blob URLs.
func httpGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}

	client := &http.Client{Timeout: fetchTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch of %s returned status %d", url, resp.StatusCode)
	}

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return buf.Bytes(), nil
}
