// Package notifications delivers fire-and-forget events about queue and
// enrichment activity. Core components publish through the Publisher
// interface and never depend on delivery succeeding.
package notifications

import (
	"context"
	"log/slog"

	"curator/internal/logging"
)

// Event names the kind of occurrence being published.
type Event string

const (
	EventJobCreated   Event = "job:created"
	EventJobStarted   Event = "job:started"
	EventJobCompleted Event = "job:completed"
	EventJobFailed    Event = "job:failed"
	EventJobProgress  Event = "job:progress"

	EventQueueStats Event = "queue:stats"

	EventEnrichmentCompleted Event = "enrichment:completed"
	EventTrailerAnalyzed     Event = "trailer:analyzed"
	EventTrailerSelected     Event = "trailer:selected"
)

// Payload carries event details as loosely typed fields.
type Payload map[string]any

// Publisher is the notification sink contract. Implementations must never
// block the caller for long and errors are advisory only.
type Publisher interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// Noop swallows everything. Used in tests and when notifications are off.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, Event, Payload) error { return nil }

// Log writes events to the structured log. Useful as a default sink.
type Log struct {
	logger *slog.Logger
}

// NewLog builds a log-backed publisher.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logging.NewComponentLogger(logger, "notify")}
}

// Publish implements Publisher.
func (l *Log) Publish(ctx context.Context, event Event, payload Payload) error {
	attrs := make([]any, 0, len(payload)+1)
	attrs = append(attrs, logging.String("event", string(event)))
	for key, value := range payload {
		attrs = append(attrs, logging.Any(key, value))
	}
	l.logger.InfoContext(ctx, "event", attrs...)
	return nil
}

// Fanout publishes to every sink, continuing past failures. The first error
// is returned for visibility.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, event Event, payload Payload) error {
	var first error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, event, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}
