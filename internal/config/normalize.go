package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTMDB()
	c.normalizeFanart()
	c.normalizeEnrichment()
	c.normalizeTrailers()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = defaultCacheDir
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeTMDB() {
	if c.TMDB.APIKey == "" {
		if value, ok := os.LookupEnv("TMDB_API_KEY"); ok {
			c.TMDB.APIKey = value
		}
	}
	c.TMDB.BaseURL = strings.TrimRight(strings.TrimSpace(c.TMDB.BaseURL), "/")
	if c.TMDB.BaseURL == "" {
		c.TMDB.BaseURL = defaultTMDBBaseURL
	}
	if strings.TrimSpace(c.TMDB.Language) == "" {
		c.TMDB.Language = defaultTMDBLanguage
	}
	if c.TMDB.RequestsPerSecond <= 0 {
		c.TMDB.RequestsPerSecond = defaultTMDBRequestsPerSecond
	}
	if c.TMDB.Burst <= 0 {
		c.TMDB.Burst = defaultTMDBBurst
	}
}

func (c *Config) normalizeFanart() {
	if c.FanartTV.APIKey == "" {
		if value, ok := os.LookupEnv("FANART_API_KEY"); ok {
			c.FanartTV.APIKey = value
		}
	}
	c.FanartTV.BaseURL = strings.TrimRight(strings.TrimSpace(c.FanartTV.BaseURL), "/")
	if c.FanartTV.BaseURL == "" {
		c.FanartTV.BaseURL = defaultFanartBaseURL
	}
	if c.FanartTV.RequestsPerSecond <= 0 {
		c.FanartTV.RequestsPerSecond = defaultFanartRequestsPerSecond
	}
	if c.FanartTV.Burst <= 0 {
		c.FanartTV.Burst = defaultFanartBurst
	}
}

func (c *Config) normalizeEnrichment() {
	c.Enrichment.PreferredLanguage = strings.ToLower(strings.TrimSpace(c.Enrichment.PreferredLanguage))
	if c.Enrichment.PreferredLanguage == "" {
		c.Enrichment.PreferredLanguage = defaultPreferredLanguage
	}
	if c.Enrichment.MatchThreshold <= 0 {
		c.Enrichment.MatchThreshold = defaultMatchThreshold
	}
	if c.Enrichment.MaxActorThumbs <= 0 {
		c.Enrichment.MaxActorThumbs = defaultMaxActorThumbs
	}
}

func (c *Config) normalizeTrailers() {
	if c.Trailers.InterRequestDelaySeconds <= 0 {
		c.Trailers.InterRequestDelaySeconds = defaultTrailerRequestDelay
	}
	if c.Trailers.RateLimitBackoffMinutes <= 0 {
		c.Trailers.RateLimitBackoffMinutes = defaultTrailerRateLimitBackoff
	}
	c.Trailers.OEmbedBaseURL = strings.TrimRight(strings.TrimSpace(c.Trailers.OEmbedBaseURL), "/")
	if c.Trailers.OEmbedBaseURL == "" {
		c.Trailers.OEmbedBaseURL = defaultOEmbedBaseURL
	}
	if strings.TrimSpace(c.Trailers.ExtractorBinary) == "" {
		c.Trailers.ExtractorBinary = defaultExtractorBinary
	}
	if c.Trailers.ExtractTimeoutSeconds <= 0 {
		c.Trailers.ExtractTimeoutSeconds = defaultExtractTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
