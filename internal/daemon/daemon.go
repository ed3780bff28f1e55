package daemon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"curator/internal/assets"
	"curator/internal/config"
	"curator/internal/enrich"
	"curator/internal/library"
	"curator/internal/logging"
	"curator/internal/notifications"
	"curator/internal/providers"
	"curator/internal/queue"
	"curator/internal/ratelimit"
	"curator/internal/scheduler"
	"curator/internal/trailers"
)

// Daemon owns the background services and enforces single-instance
// execution through a lock file in the data directory.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB

	store        *queue.Store
	entities     *library.Repository
	trailerRepo  *trailers.Repository
	cache        *assets.Cache
	hub          *notifications.Hub
	notifier     notifications.Publisher
	orchestrator *enrich.Orchestrator
	analyzer     *trailers.Analyzer
	scheduler    *scheduler.Service
	api          *apiServer
	cron         *maintenance

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status reports daemon runtime information.
type Status struct {
	Running          bool        `json:"running"`
	DatabasePath     string      `json:"database_path"`
	LockFilePath     string      `json:"lock_file_path"`
	APIAddr          string      `json:"api_addr,omitempty"`
	WebsocketClients int         `json:"websocket_clients"`
	Queue            queue.Stats `json:"queue"`
}

// New wires the full service graph from configuration and an open database.
func New(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || db == nil {
		return nil, errors.New("daemon requires config and database")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	store := queue.NewStore(db)
	entities := library.NewRepository(db)
	candidates := assets.NewRepository(db)
	trailerRepo := trailers.NewRepository(db)

	cache, err := assets.NewCache(cfg.Paths.CacheDir, db, logging.NewComponentLogger(logger, "asset-cache"))
	if err != nil {
		return nil, fmt.Errorf("init asset cache: %w", err)
	}

	registry := providers.NewRegistry(ratelimit.NewRegistry(ratelimit.Limit{}))
	if cfg.TMDB.APIKey != "" {
		tmdb, err := providers.NewTMDB(cfg.TMDB)
		if err != nil {
			return nil, fmt.Errorf("init tmdb provider: %w", err)
		}
		if err := registry.Register(tmdb); err != nil {
			return nil, err
		}
	}
	if cfg.FanartTV.APIKey != "" {
		fanart, err := providers.NewFanart(cfg.FanartTV)
		if err != nil {
			return nil, fmt.Errorf("init fanart provider: %w", err)
		}
		if err := registry.Register(fanart); err != nil {
			return nil, err
		}
	}

	hub := notifications.NewHub(logging.NewComponentLogger(logger, "events"))
	var notifier notifications.Publisher = hub
	if cfg.Notifications.Enabled {
		notifier = notifications.Fanout{
			notifications.NewLog(logging.NewComponentLogger(logger, "notifications")),
			hub,
		}
	}

	var analyzer *trailers.Analyzer
	if cfg.Enrichment.TrailersEnabled {
		prober, err := trailers.NewOEmbedProber(cfg.Trailers.OEmbedBaseURL, nil)
		if err != nil {
			return nil, fmt.Errorf("init trailer prober: %w", err)
		}
		extractor := trailers.NewYTDLPExtractor(
			cfg.Trailers.ExtractorBinary,
			time.Duration(cfg.Trailers.ExtractTimeoutSeconds)*time.Second,
		)
		analyzer = trailers.NewAnalyzer(trailerRepo, prober, extractor, trailers.AnalyzerOptions{
			InterRequestDelay: time.Duration(cfg.Trailers.InterRequestDelaySeconds) * time.Second,
			RateLimitBackoff:  time.Duration(cfg.Trailers.RateLimitBackoffMinutes) * time.Minute,
		}, logging.NewComponentLogger(logger, "trailer-analyzer"))
	}

	matcher := assets.NewMatcher(candidates, cfg.Enrichment.MatchThreshold, logging.NewComponentLogger(logger, "asset-matcher"))
	orchestratorOpts := enrich.OrchestratorOptions{
		Config:     cfg.Enrichment,
		Entities:   entities,
		Candidates: candidates,
		Cache:      cache,
		Matcher:    matcher,
		Registry:   registry,
		Trailers:   trailerRepo,
		Downloader: enrich.NewHTTPDownloader(nil),
		Notifier:   notifier,
		Logger:     logging.NewComponentLogger(logger, "enrich"),
	}
	if analyzer != nil {
		orchestratorOpts.Analyzer = analyzer
	}
	orchestrator, err := enrich.NewOrchestrator(orchestratorOpts)
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}

	sched := scheduler.NewService(store, notifier, scheduler.Options{
		PollInterval:     time.Duration(cfg.Queue.PollIntervalSeconds) * time.Second,
		BreakerThreshold: cfg.Queue.BreakerThreshold,
		BreakerCooldown:  time.Duration(cfg.Queue.BreakerCooldownSeconds) * time.Second,
	}, logging.NewComponentLogger(logger, "scheduler"))

	lockPath := filepath.Join(cfg.Paths.DataDir, "curatord.lock")
	d := &Daemon{
		cfg:          cfg,
		logger:       logger,
		db:           db,
		store:        store,
		entities:     entities,
		trailerRepo:  trailerRepo,
		cache:        cache,
		hub:          hub,
		notifier:     notifier,
		orchestrator: orchestrator,
		analyzer:     analyzer,
		scheduler:    sched,
		lockPath:     lockPath,
		lock:         flock.New(lockPath),
	}
	d.registerHandlers()
	d.api = newAPIServer(cfg, d, logging.NewComponentLogger(logger, "api"))
	d.cron = newMaintenance(d, logging.NewComponentLogger(logger, "maintenance"))
	return d, nil
}

// Start acquires the instance lock and launches the scheduler, API server,
// and maintenance jobs.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another curator daemon holds %s", d.lockPath)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.scheduler.Start(runCtx); err != nil {
		d.releaseLock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start scheduler: %w", err)
	}
	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.scheduler.Stop()
			d.releaseLock()
			cancel()
			d.cancel = nil
			return err
		}
	}
	d.cron.start()

	d.running.Store(true)
	d.logger.Info("curator daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.cfg.DatabasePath()))
	return nil
}

// Stop halts all background services and releases the instance lock.
// Stopping a stopped daemon is a no-op.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.cron.stop()
	if d.api != nil {
		d.api.stop()
	}
	d.scheduler.Stop()
	d.releaseLock()
	d.running.Store(false)
	d.logger.Info("curator daemon stopped")
}

// Close stops the daemon and closes the database handle.
func (d *Daemon) Close() error {
	d.Stop()
	return d.db.Close()
}

// Status snapshots the daemon and queue state.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:          d.running.Load(),
		DatabasePath:     d.cfg.DatabasePath(),
		LockFilePath:     d.lockPath,
		WebsocketClients: d.hub.ClientCount(),
	}
	if d.api != nil {
		status.APIAddr = d.api.addr()
	}
	stats, err := d.store.Stats(ctx)
	if err != nil {
		d.logger.Warn("failed to read queue stats", logging.Error(err))
	} else {
		status.Queue = stats
	}
	return status
}

// EnqueueEnrichment queues an enrichment job and announces it.
func (d *Daemon) EnqueueEnrichment(ctx context.Context, req enrich.EnrichmentConfig, priority int) (*queue.Job, error) {
	payload, err := encodePayload(req)
	if err != nil {
		return nil, err
	}
	job, err := d.store.Enqueue(ctx, queue.KindEnrichment, payload, queue.EnqueueOptions{
		Priority:    priority,
		MaxAttempts: d.cfg.Queue.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	d.publishJobCreated(ctx, job)
	return job, nil
}

func (d *Daemon) publishJobCreated(ctx context.Context, job *queue.Job) {
	payload := notifications.Payload{
		"job_id":   job.ID,
		"kind":     string(job.Kind),
		"priority": job.Priority,
	}
	if err := d.notifier.Publish(ctx, notifications.EventJobCreated, payload); err != nil {
		d.logger.Debug("failed to publish job created event", logging.Error(err))
	}
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}
