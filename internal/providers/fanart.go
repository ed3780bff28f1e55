package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"curator/internal/assets"
	"curator/internal/config"
	"curator/internal/ratelimit"
)

// Fanart talks to fanart.tv v3, which serves curated artwork only; metadata
// and videos stay unsupported.
type Fanart struct {
	apiKey     string
	baseURL    string
	rateLimit  ratelimit.Limit
	httpClient *http.Client
}

var _ Client = (*Fanart)(nil)

// FanartOption configures a Fanart client.
type FanartOption func(*Fanart)

// WithFanartHTTPClient overrides the default HTTP client.
func WithFanartHTTPClient(client *http.Client) FanartOption {
	return func(c *Fanart) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewFanart creates a fanart.tv client from configuration.
func NewFanart(cfg config.FanartTV, opts ...FanartOption) (*Fanart, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("fanart api key required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("fanart base url required")
	}
	client := &Fanart{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		rateLimit: ratelimit.Limit{
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		},
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Name implements Client.
func (c *Fanart) Name() string { return "fanart.tv" }

// Capabilities implements Client.
func (c *Fanart) Capabilities() Capabilities {
	return Capabilities{
		Images: true,
		AssetTypes: []assets.AssetType{
			assets.AssetTypePoster,
			assets.AssetTypeFanart,
			assets.AssetTypeLogo,
			assets.AssetTypeBanner,
			assets.AssetTypeThumb,
		},
		RateLimit: c.rateLimit,
	}
}

// Search implements Client; fanart.tv has no search endpoint.
func (c *Fanart) Search(ctx context.Context, query string, year int) ([]SearchResult, error) {
	return nil, Wrap(ErrUnsupported, c.Name(), "search", nil)
}

// GetMetadata implements Client; fanart.tv serves artwork only.
func (c *Fanart) GetMetadata(ctx context.Context, entityType assets.EntityType, providerID int64) (*Metadata, error) {
	return nil, Wrap(ErrUnsupported, c.Name(), "metadata", nil)
}

// GetVideos implements Client; fanart.tv serves artwork only.
func (c *Fanart) GetVideos(ctx context.Context, entityType assets.EntityType, providerID int64) ([]Video, error) {
	return nil, Wrap(ErrUnsupported, c.Name(), "videos", nil)
}

type fanartImage struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Lang  string `json:"lang"`
	Likes string `json:"likes"`
}

// GetAssets fetches the artwork listing for a movie or series. fanart.tv
// keys series by TheTVDB id and movies by TMDB id; callers pass whichever id
// space matches the entity type.
func (c *Fanart) GetAssets(ctx context.Context, entityType assets.EntityType, providerID int64, assetTypes []assets.AssetType) ([]*assets.Candidate, error) {
	if providerID <= 0 {
		return nil, Wrap(ErrUnsupported, c.Name(), "provider id must be positive", nil)
	}

	var path string
	var keys map[string]assets.AssetType
	switch entityType {
	case assets.EntityTypeMovie:
		path = fmt.Sprintf("/movies/%d", providerID)
		keys = map[string]assets.AssetType{
			"movieposter":     assets.AssetTypePoster,
			"moviebackground": assets.AssetTypeFanart,
			"hdmovielogo":     assets.AssetTypeLogo,
			"moviebanner":     assets.AssetTypeBanner,
			"moviethumb":      assets.AssetTypeThumb,
		}
	case assets.EntityTypeSeries:
		path = fmt.Sprintf("/tv/%d", providerID)
		keys = map[string]assets.AssetType{
			"tvposter":       assets.AssetTypePoster,
			"showbackground": assets.AssetTypeFanart,
			"hdtvlogo":       assets.AssetTypeLogo,
			"tvbanner":       assets.AssetTypeBanner,
			"tvthumb":        assets.AssetTypeThumb,
		}
	default:
		return nil, Wrap(ErrUnsupported, c.Name(), fmt.Sprintf("entity type %q", entityType), nil)
	}

	payload := map[string]json.RawMessage{}
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}

	wanted := make(map[assets.AssetType]bool, len(assetTypes))
	for _, t := range assetTypes {
		wanted[t] = true
	}

	var out []*assets.Candidate
	for key, assetType := range keys {
		if len(assetTypes) > 0 && !wanted[assetType] {
			continue
		}
		raw, ok := payload[key]
		if !ok {
			continue
		}
		var images []fanartImage
		if err := json.Unmarshal(raw, &images); err != nil {
			continue
		}
		for _, img := range images {
			if img.URL == "" {
				continue
			}
			meta, _ := json.Marshal(map[string]any{"likes": img.Likes})
			lang := img.Lang
			// fanart.tv uses "00" for textless artwork.
			if lang == "00" {
				lang = ""
			}
			out = append(out, &assets.Candidate{
				EntityType:   entityType,
				AssetType:    assetType,
				URL:          img.URL,
				Language:     lang,
				Provider:     c.Name(),
				ProviderMeta: string(meta),
			})
		}
	}
	return out, nil
}

func (c *Fanart) get(ctx context.Context, path string, out any) error {
	endpoint, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("parse fanart url: %w", err)
	}
	params := url.Values{}
	params.Set("api_key", c.apiKey)
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return Wrap(ErrTransient, c.Name(), fmt.Sprintf("execute request (latency=%v)", latency), err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(c.Name(), path, resp.StatusCode); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode fanart response: %w", err)
	}
	return nil
}
