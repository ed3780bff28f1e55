package config

const (
	defaultDataDir                  = "~/.local/share/curator/data"
	defaultCacheDir                 = "~/.local/share/curator/cache"
	defaultLogDir                   = "~/.local/share/curator/logs"
	defaultAPIBind                  = "127.0.0.1:7719"
	defaultTMDBBaseURL              = "https://api.themoviedb.org/3"
	defaultTMDBLanguage             = "en-US"
	defaultTMDBRequestsPerSecond    = 4.0
	defaultTMDBBurst                = 8
	defaultFanartBaseURL            = "https://webservice.fanart.tv/v3"
	defaultFanartRequestsPerSecond  = 2.0
	defaultFanartBurst              = 4
	defaultPreferredLanguage        = "en"
	defaultMatchThreshold           = 0.85
	defaultMaxActorThumbs           = 20
	defaultTrailerRequestDelay      = 2
	defaultTrailerRateLimitBackoff  = 60
	defaultOEmbedBaseURL            = "https://www.youtube.com/oembed"
	defaultExtractorBinary          = "yt-dlp"
	defaultExtractTimeoutSeconds    = 120
	defaultQueuePollInterval        = 1
	defaultQueueMaxAttempts         = 3
	defaultBreakerThreshold         = 5
	defaultBreakerCooldownSeconds   = 60
	defaultNotifyStatsInterval      = 60
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			CacheDir: defaultCacheDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		TMDB: TMDB{
			BaseURL:           defaultTMDBBaseURL,
			Language:          defaultTMDBLanguage,
			RequestsPerSecond: defaultTMDBRequestsPerSecond,
			Burst:             defaultTMDBBurst,
		},
		FanartTV: FanartTV{
			BaseURL:           defaultFanartBaseURL,
			RequestsPerSecond: defaultFanartRequestsPerSecond,
			Burst:             defaultFanartBurst,
		},
		Enrichment: Enrichment{
			PreferredLanguage: defaultPreferredLanguage,
			TrailersEnabled:   true,
			ActorThumbnails:   true,
			MatchThreshold:    defaultMatchThreshold,
			MaxActorThumbs:    defaultMaxActorThumbs,
		},
		Trailers: Trailers{
			InterRequestDelaySeconds: defaultTrailerRequestDelay,
			RateLimitBackoffMinutes:  defaultTrailerRateLimitBackoff,
			OEmbedBaseURL:            defaultOEmbedBaseURL,
			ExtractorBinary:          defaultExtractorBinary,
			ExtractTimeoutSeconds:    defaultExtractTimeoutSeconds,
		},
		Queue: Queue{
			PollIntervalSeconds:    defaultQueuePollInterval,
			MaxAttempts:            defaultQueueMaxAttempts,
			BreakerThreshold:       defaultBreakerThreshold,
			BreakerCooldownSeconds: defaultBreakerCooldownSeconds,
		},
		Notifications: Notifications{
			Enabled:              true,
			StatsIntervalSeconds: defaultNotifyStatsInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
