package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"curator/internal/assets"
	"curator/internal/config"
	"curator/internal/ratelimit"
)

// tmdbImageBase is where TMDB serves original-size artwork.
const tmdbImageBase = "https://image.tmdb.org/t/p/original"

// TMDB talks to themoviedb.org v3.
type TMDB struct {
	apiKey     string
	baseURL    string
	language   string
	rateLimit  ratelimit.Limit
	httpClient *http.Client
}

var _ Client = (*TMDB)(nil)

// TMDBOption configures a TMDB client.
type TMDBOption func(*TMDB)

// WithTMDBHTTPClient overrides the default HTTP client.
func WithTMDBHTTPClient(client *http.Client) TMDBOption {
	return func(c *TMDB) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewTMDB creates a TMDB client from configuration.
func NewTMDB(cfg config.TMDB, opts ...TMDBOption) (*TMDB, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("tmdb api key required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("tmdb base url required")
	}
	client := &TMDB{
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: strings.TrimSpace(cfg.Language),
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
func (c *TMDB) Name() string { return "tmdb" }

// Capabilities implements Client.
func (c *TMDB) Capabilities() Capabilities {
	return Capabilities{
		Metadata: true,
		Images:   true,
		Videos:   true,
		AssetTypes: []assets.AssetType{
			assets.AssetTypePoster,
			assets.AssetTypeFanart,
			assets.AssetTypeLogo,
			assets.AssetTypeActorThumb,
		},
		RateLimit: c.rateLimit,
	}
}

type tmdbSearchResponse struct {
	Results []struct {
		ID           int64   `json:"id"`
		Title        string  `json:"title"`
		Name         string  `json:"name"`
		Overview     string  `json:"overview"`
		ReleaseDate  string  `json:"release_date"`
		FirstAirDate string  `json:"first_air_date"`
		Popularity   float64 `json:"popularity"`
		VoteAverage  float64 `json:"vote_average"`
		VoteCount    int64   `json:"vote_count"`
	} `json:"results"`
}

// Search queries the multi-search endpoint so movies and series both match.
func (c *TMDB) Search(ctx context.Context, query string, year int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, Wrap(ErrUnsupported, c.Name(), "search: empty query", nil)
	}
	params := url.Values{}
	params.Set("query", query)
	if year > 0 {
		params.Set("year", strconv.Itoa(year))
	}

	var payload tmdbSearchResponse
	if err := c.get(ctx, "/search/multi", params, &payload); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(payload.Results))
	for _, r := range payload.Results {
		title := r.Title
		if title == "" {
			title = r.Name
		}
		date := r.ReleaseDate
		if date == "" {
			date = r.FirstAirDate
		}
		results = append(results, SearchResult{
			ProviderID:  r.ID,
			Title:       title,
			Year:        yearFromDate(date),
			Overview:    r.Overview,
			Popularity:  r.Popularity,
			VoteAverage: r.VoteAverage,
			VoteCount:   r.VoteCount,
		})
	}
	return results, nil
}

type tmdbDetails struct {
	ID               int64  `json:"id"`
	Title            string `json:"title"`
	Name             string `json:"name"`
	Overview         string `json:"overview"`
	ReleaseDate      string `json:"release_date"`
	FirstAirDate     string `json:"first_air_date"`
	OriginalLanguage string `json:"original_language"`
	VoteAverage      float64 `json:"vote_average"`
	VoteCount        int64  `json:"vote_count"`
}

// GetMetadata fetches title details for a movie or series.
func (c *TMDB) GetMetadata(ctx context.Context, entityType assets.EntityType, providerID int64) (*Metadata, error) {
	path, err := c.entityPath(entityType, providerID, "")
	if err != nil {
		return nil, err
	}

	var payload tmdbDetails
	if err := c.get(ctx, path, nil, &payload); err != nil {
		return nil, err
	}
	title := payload.Title
	if title == "" {
		title = payload.Name
	}
	date := payload.ReleaseDate
	if date == "" {
		date = payload.FirstAirDate
	}
	return &Metadata{
		ProviderID:       payload.ID,
		Title:            title,
		Year:             yearFromDate(date),
		Overview:         payload.Overview,
		OriginalLanguage: payload.OriginalLanguage,
		VoteAverage:      payload.VoteAverage,
		VoteCount:        payload.VoteCount,
	}, nil
}

type tmdbImage struct {
	FilePath    string  `json:"file_path"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Language    string  `json:"iso_639_1"`
	VoteAverage float64 `json:"vote_average"`
	VoteCount   int64   `json:"vote_count"`
}

type tmdbImagesResponse struct {
	Posters   []tmdbImage `json:"posters"`
	Backdrops []tmdbImage `json:"backdrops"`
	Logos     []tmdbImage `json:"logos"`
}

// GetAssets lists artwork candidates for the requested slots.
func (c *TMDB) GetAssets(ctx context.Context, entityType assets.EntityType, providerID int64, assetTypes []assets.AssetType) ([]*assets.Candidate, error) {
	path, err := c.entityPath(entityType, providerID, "/images")
	if err != nil {
		return nil, err
	}
	// include_image_language keeps textless artwork in the listing.
	params := url.Values{}
	if c.language != "" {
		params.Set("include_image_language", c.language+",null,en")
	}

	var payload tmdbImagesResponse
	if err := c.get(ctx, path, params, &payload); err != nil {
		return nil, err
	}

	wanted := make(map[assets.AssetType]bool, len(assetTypes))
	for _, t := range assetTypes {
		wanted[t] = true
	}

	var out []*assets.Candidate
	appendImages := func(images []tmdbImage, assetType assets.AssetType) {
		if len(assetTypes) > 0 && !wanted[assetType] {
			return
		}
		for _, img := range images {
			out = append(out, c.candidate(entityType, assetType, img))
		}
	}
	appendImages(payload.Posters, assets.AssetTypePoster)
	appendImages(payload.Backdrops, assets.AssetTypeFanart)
	appendImages(payload.Logos, assets.AssetTypeLogo)
	return out, nil
}

func (c *TMDB) candidate(entityType assets.EntityType, assetType assets.AssetType, img tmdbImage) *assets.Candidate {
	meta, _ := json.Marshal(map[string]any{
		"vote_average": img.VoteAverage,
		"vote_count":   img.VoteCount,
	})
	// EntityID stays unset; the caller owns the mapping from provider ids to
	// library entities.
	return &assets.Candidate{
		EntityType:   entityType,
		AssetType:    assetType,
		URL:          tmdbImageBase + img.FilePath,
		Width:        img.Width,
		Height:       img.Height,
		Language:     img.Language,
		Provider:     c.Name(),
		ProviderMeta: string(meta),
	}
}

type tmdbVideosResponse struct {
	Results []struct {
		Key      string `json:"key"`
		Site     string `json:"site"`
		Name     string `json:"name"`
		Type     string `json:"type"`
		Official bool   `json:"official"`
	} `json:"results"`
}

// GetVideos lists provider-hosted trailers and teasers.
func (c *TMDB) GetVideos(ctx context.Context, entityType assets.EntityType, providerID int64) ([]Video, error) {
	path, err := c.entityPath(entityType, providerID, "/videos")
	if err != nil {
		return nil, err
	}

	var payload tmdbVideosResponse
	if err := c.get(ctx, path, nil, &payload); err != nil {
		return nil, err
	}

	videos := make([]Video, 0, len(payload.Results))
	for _, v := range payload.Results {
		video := Video{
			ProviderVideoID: v.Key,
			Site:            v.Site,
			Name:            v.Name,
			Kind:            v.Type,
			Official:        v.Official,
		}
		if strings.EqualFold(v.Site, "YouTube") {
			video.URL = "https://www.youtube.com/watch?v=" + v.Key
		}
		videos = append(videos, video)
	}
	return videos, nil
}

type tmdbCreditsResponse struct {
	Cast []struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		Character   string `json:"character"`
		Order       int    `json:"order"`
		ProfilePath string `json:"profile_path"`
	} `json:"cast"`
}

var _ CreditLister = (*TMDB)(nil)

// GetCredits lists cast members in billing order.
func (c *TMDB) GetCredits(ctx context.Context, entityType assets.EntityType, providerID int64) ([]Person, error) {
	path, err := c.entityPath(entityType, providerID, "/credits")
	if err != nil {
		return nil, err
	}

	var payload tmdbCreditsResponse
	if err := c.get(ctx, path, nil, &payload); err != nil {
		return nil, err
	}

	people := make([]Person, 0, len(payload.Cast))
	for _, member := range payload.Cast {
		person := Person{
			ProviderID: member.ID,
			Name:       member.Name,
			Character:  member.Character,
			Order:      member.Order,
		}
		if member.ProfilePath != "" {
			person.ProfileURL = tmdbImageBase + member.ProfilePath
		}
		people = append(people, person)
	}
	return people, nil
}

func (c *TMDB) entityPath(entityType assets.EntityType, providerID int64, suffix string) (string, error) {
	if providerID <= 0 {
		return "", Wrap(ErrUnsupported, c.Name(), "provider id must be positive", nil)
	}
	switch entityType {
	case assets.EntityTypeMovie:
		return fmt.Sprintf("/movie/%d%s", providerID, suffix), nil
	case assets.EntityTypeSeries:
		return fmt.Sprintf("/tv/%d%s", providerID, suffix), nil
	default:
		return "", Wrap(ErrUnsupported, c.Name(), fmt.Sprintf("entity type %q", entityType), nil)
	}
}

func (c *TMDB) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("parse tmdb url: %w", err)
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.apiKey)
	if c.language != "" && params.Get("language") == "" {
		params.Set("language", c.language)
	}
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
		return fmt.Errorf("decode tmdb response: %w", err)
	}
	return nil
}

func classifyStatus(provider, operation string, status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		return Wrap(ErrRateLimited, provider, operation, nil)
	case status == http.StatusNotFound:
		return Wrap(ErrNotFound, provider, operation, nil)
	case status >= 500:
		return Wrap(ErrTransient, provider, fmt.Sprintf("%s returned %d", operation, status), nil)
	default:
		return Wrap(ErrTransient, provider, fmt.Sprintf("%s returned %d", operation, status), nil)
	}
}

func yearFromDate(date string) int {
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}
