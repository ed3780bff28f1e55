package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	CacheDir string `toml:"cache_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// TMDB contains configuration for The Movie Database API.
type TMDB struct {
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	Language          string  `toml:"language"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// FanartTV contains configuration for the FanArt.tv API.
type FanartTV struct {
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// Enrichment contains configuration for the enrichment pipeline.
type Enrichment struct {
	PreferredLanguage string `toml:"preferred_language"`
	TrailersEnabled   bool   `toml:"trailers_enabled"`
	ActorThumbnails   bool   `toml:"actor_thumbnails"`
	// MatchThreshold is the perceptual-hash similarity (0-1) required before a
	// cached file is considered the same image as a provider candidate.
	MatchThreshold float64 `toml:"match_threshold"`
	MaxActorThumbs int     `toml:"max_actor_thumbs"`
}

// Trailers contains configuration for trailer verification and analysis.
type Trailers struct {
	InterRequestDelaySeconds int    `toml:"inter_request_delay_seconds"`
	RateLimitBackoffMinutes  int    `toml:"rate_limit_backoff_minutes"`
	OEmbedBaseURL            string `toml:"oembed_base_url"`
	ExtractorBinary          string `toml:"extractor_binary"`
	ExtractTimeoutSeconds    int    `toml:"extract_timeout_seconds"`
}

// Queue contains configuration for the job queue polling loop.
type Queue struct {
	PollIntervalSeconds    int `toml:"poll_interval_seconds"`
	MaxAttempts            int `toml:"max_attempts"`
	BreakerThreshold       int `toml:"breaker_threshold"`
	BreakerCooldownSeconds int `toml:"breaker_cooldown_seconds"`
}

// Notifications contains configuration for the event broadcaster.
type Notifications struct {
	Enabled              bool `toml:"enabled"`
	StatsIntervalSeconds int  `toml:"stats_interval_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for curator.
//
// Configuration sections by subsystem:
//   - Paths: data/cache/log directories and API bind address
//   - TMDB / FanartTV: metadata and artwork provider credentials and limits
//   - Enrichment: pipeline behavior (language preference, trailers, matching)
//   - Trailers: trailer verification pacing and extractor settings
//   - Queue: polling loop timing, retries, and circuit breaker thresholds
//   - Notifications: websocket event broadcaster settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	TMDB          TMDB          `toml:"tmdb"`
	FanartTV      FanartTV      `toml:"fanart_tv"`
	Enrichment    Enrichment    `toml:"enrichment"`
	Trailers      Trailers      `toml:"trailers"`
	Queue         Queue         `toml:"queue"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/curator/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("curator.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.CacheDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the path of the sqlite database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "curator.db")
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
