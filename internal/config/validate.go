package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTMDB(); err != nil {
		return err
	}
	if err := c.validateEnrichment(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateTrailers(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateTMDB() error {
	if c.TMDB.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/curator/config.toml"
		}
		return fmt.Errorf("tmdb.api_key is required. Set TMDB_API_KEY env var or edit %s (create with 'curator config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateEnrichment() error {
	if c.Enrichment.MatchThreshold <= 0 || c.Enrichment.MatchThreshold > 1 {
		return errors.New("enrichment.match_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateQueue() error {
	return ensurePositiveMap(map[string]int{
		"queue.poll_interval_seconds":    c.Queue.PollIntervalSeconds,
		"queue.max_attempts":             c.Queue.MaxAttempts,
		"queue.breaker_threshold":        c.Queue.BreakerThreshold,
		"queue.breaker_cooldown_seconds": c.Queue.BreakerCooldownSeconds,
	})
}

func (c *Config) validateTrailers() error {
	return ensurePositiveMap(map[string]int{
		"trailers.inter_request_delay_seconds": c.Trailers.InterRequestDelaySeconds,
		"trailers.rate_limit_backoff_minutes":  c.Trailers.RateLimitBackoffMinutes,
		"trailers.extract_timeout_seconds":     c.Trailers.ExtractTimeoutSeconds,
	})
}

func (c *Config) validateNotifications() error {
	if !c.Notifications.Enabled {
		return nil
	}
	if c.Notifications.StatsIntervalSeconds <= 0 {
		return errors.New("notifications.stats_interval_seconds must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for name, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
