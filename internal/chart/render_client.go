package chart

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrServiceUnavailable marks a render failure. Rendering is best-effort:
// callers log it and return the analysis without an image, never failing the
// request over it.
var ErrServiceUnavailable = errors.New("chart service unavailable")

// RenderClient submits chart specs to the external rendering service.
type RenderClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRenderClient creates a client for the given render service base URL.
// An empty URL produces a disabled client whose Render always fails with
// ErrServiceUnavailable.
func NewRenderClient(baseURL string, timeout time.Duration) *RenderClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RenderClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type renderResponse struct {
	URL   string `json:"url"`
	Error string `json:"error,omitempty"`
}

// Render submits a spec and returns the rendered image URL.
func (c *RenderClient) Render(ctx context.Context, spec Spec) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("%w: not configured", ErrServiceUnavailable)
	}

	body, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("%w: marshal spec: %v", ErrServiceUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrServiceUnavailable, resp.StatusCode, string(respBody))
	}

	var rr renderResponse
	if err := json.Unmarshal(respBody, &rr); err != nil {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if rr.Error != "" || rr.URL == "" {
		return "", fmt.Errorf("%w: %s", ErrServiceUnavailable, rr.Error)
	}
	return rr.URL, nil
}
