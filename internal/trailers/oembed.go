package trailers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Classification sentinels for probe and extraction failures.
var (
	// ErrUnavailable means the video is gone, private, or region-blocked.
	ErrUnavailable = errors.New("trailer unavailable")
	// ErrRateLimited means the host throttled us; retry after backoff.
	ErrRateLimited = errors.New("trailer host rate limited")
)

// ProbeResult is the cheap existence check before committing to extraction.
type ProbeResult struct {
	Title        string
	ThumbnailURL string
}

// Prober answers "does this video still exist" without downloading anything.
type Prober interface {
	Probe(ctx context.Context, sourceURL string) (*ProbeResult, error)
}

// OEmbedProber checks video existence through the host's oEmbed endpoint.
// oEmbed answers from edge caches, so a probe costs far less quota than an
// extraction attempt.
type OEmbedProber struct {
	baseURL    string
	httpClient *http.Client
}

var _ Prober = (*OEmbedProber)(nil)

// NewOEmbedProber builds a prober against the given oEmbed endpoint.
func NewOEmbedProber(baseURL string, httpClient *http.Client) (*OEmbedProber, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("oembed base url required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &OEmbedProber{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}, nil
}

type oembedResponse struct {
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// Probe implements Prober. A 2xx answer confirms the video exists; 400, 401,
// and 404 responses mean it is gone or blocked; 429 means throttled.
func (p *OEmbedProber) Probe(ctx context.Context, sourceURL string) (*ProbeResult, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return nil, errors.New("source url required")
	}
	params := url.Values{}
	params.Set("url", sourceURL)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build oembed request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute oembed probe: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var payload oembedResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode oembed response: %w", err)
		}
		return &ProbeResult{Title: payload.Title, ThumbnailURL: payload.ThumbnailURL}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: oembed returned 429", ErrRateLimited)
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: oembed returned %d", ErrUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("oembed probe returned %d", resp.StatusCode)
	}
}
