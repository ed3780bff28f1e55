package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"curator/internal/logging"
	"curator/internal/notifications"
	"curator/internal/queue"
)

// maintenance runs the recurring housekeeping: queue stats broadcasting,
// cache pruning, and requeueing trailer candidates whose rate-limit backoff
// has expired.
type maintenance struct {
	daemon *Daemon
	logger *slog.Logger
	cron   *cron.Cron
}

func newMaintenance(d *Daemon, logger *slog.Logger) *maintenance {
	m := &maintenance{
		daemon: d,
		logger: logger,
		cron:   cron.New(),
	}

	statsEvery := time.Duration(d.cfg.Notifications.StatsIntervalSeconds) * time.Second
	if statsEvery <= 0 {
		statsEvery = time.Minute
	}
	m.mustSchedule(fmt.Sprintf("@every %s", statsEvery), m.publishQueueStats)
	m.mustSchedule("@every 1h", m.enqueueCachePrune)
	m.mustSchedule("@every 15m", m.requeueDueTrailers)
	return m
}

// mustSchedule panics on bad specs; every spec here is a compile-time
// constant shape, so a failure is a programming error.
func (m *maintenance) mustSchedule(spec string, task func()) {
	if _, err := m.cron.AddFunc(spec, task); err != nil {
		panic(fmt.Sprintf("schedule %q: %v", spec, err))
	}
}

func (m *maintenance) start() {
	m.cron.Start()
}

func (m *maintenance) stop() {
	<-m.cron.Stop().Done()
}

func (m *maintenance) publishQueueStats() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := m.daemon.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
		return
	}
	payload := notifications.Payload{
		"total":      stats.Total,
		"pending":    stats.Pending,
		"processing": stats.Processing,
		"retrying":   stats.Retrying,
		"failed":     stats.Failed,
		"completed":  stats.Completed,
	}
	if err := m.daemon.notifier.Publish(ctx, notifications.EventQueueStats, payload); err != nil {
		m.logger.Debug("failed to publish queue stats", logging.Error(err))
	}
}

func (m *maintenance) enqueueCachePrune() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job, err := m.daemon.store.Enqueue(ctx, queue.KindCacheMaintenance, nil, queue.EnqueueOptions{
		Priority: queue.PriorityLowest,
	})
	if err != nil {
		m.logger.Warn("failed to enqueue cache maintenance", logging.Error(err))
		return
	}
	m.daemon.publishJobCreated(ctx, job)
}

// requeueDueTrailers queues one trailer-analysis job per entity that has a
// rate-limited candidate whose backoff has expired.
func (m *maintenance) requeueDueTrailers() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	due, err := m.daemon.trailerRepo.DueForRetry(ctx, time.Now().UTC())
	if err != nil {
		m.logger.Warn("failed to list due trailer retries", logging.Error(err))
		return
	}
	type entityKey struct {
		entityType string
		entityID   int64
	}
	seen := make(map[entityKey]struct{}, len(due))
	for _, candidate := range due {
		key := entityKey{candidate.EntityType, candidate.EntityID}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		payload, err := encodePayload(trailerJobPayload{
			EntityType: candidate.EntityType,
			EntityID:   candidate.EntityID,
		})
		if err != nil {
			m.logger.Warn("failed to encode trailer job", logging.Error(err))
			continue
		}
		job, err := m.daemon.store.Enqueue(ctx, queue.KindTrailerAnalysis, payload, queue.EnqueueOptions{
			Priority: queue.PriorityLowest,
		})
		if err != nil {
			m.logger.Warn("failed to enqueue trailer analysis",
				logging.Int64("entity_id", candidate.EntityID),
				logging.Error(err))
			continue
		}
		m.daemon.publishJobCreated(ctx, job)
	}
	if len(seen) > 0 {
		m.logger.Info("requeued trailer analysis for entities past backoff",
			logging.Int("entities", len(seen)))
	}
}
