package testsupport

import (
	"path/filepath"
	"testing"

	"curator/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.TMDB.APIKey = "test"
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.CacheDir = filepath.Join(base, "cache")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithTrailersDisabled turns off trailer phases on the test config.
func WithTrailersDisabled() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Enrichment.TrailersEnabled = false
	}
}

// WithMatchThreshold overrides the cache-match similarity threshold.
func WithMatchThreshold(threshold float64) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Enrichment.MatchThreshold = threshold
	}
}
