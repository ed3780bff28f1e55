// Package scheduler drives the job queue: it polls for claimable work,
// dispatches to registered kind handlers, and converts handler outcomes into
// queue transitions. Crash recovery and a polling circuit breaker keep the
// loop safe to run unattended.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"curator/internal/logging"
	"curator/internal/notifications"
	"curator/internal/queue"
)

// ErrTerminal marks a handler failure that must not be retried regardless of
// the job's remaining attempts. Handlers wrap it: fmt.Errorf("...: %w", ErrTerminal).
var ErrTerminal = errors.New("terminal job failure")

// Handler processes one claimed job. A nil return completes the job; an
// error fails the attempt and the queue decides whether to retry.
type Handler func(ctx context.Context, job *queue.Job) error

// JobStore is the queue surface the scheduler needs.
type JobStore interface {
	ClaimNext(ctx context.Context) (*queue.Job, error)
	MarkCompleted(ctx context.Context, job *queue.Job) error
	MarkFailed(ctx context.Context, job *queue.Job, jobErr error, retryable bool) error
	ResetStuckProcessing(ctx context.Context) (int64, error)
}

// Options tunes the polling loop. Zero values take defaults.
type Options struct {
	// PollInterval is the claim cadence. Defaults to one second.
	PollInterval time.Duration
	// BreakerThreshold is the consecutive polling failures that open the
	// breaker. Defaults to 5.
	BreakerThreshold int
	// BreakerCooldown is how long an open breaker pauses polling.
	// Defaults to one minute.
	BreakerCooldown time.Duration
}

// Service is the polling dispatcher.
type Service struct {
	store    JobStore
	notifier notifications.Publisher
	logger   *slog.Logger
	interval time.Duration
	breaker  *breaker

	mu       sync.Mutex
	handlers map[queue.Kind]Handler
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewService builds a scheduler around a job store.
func NewService(store JobStore, notifier notifications.Publisher, opts Options, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = notifications.Noop{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Service{
		store:    store,
		notifier: notifier,
		logger:   logger,
		interval: interval,
		breaker:  newBreaker(opts.BreakerThreshold, opts.BreakerCooldown),
		handlers: make(map[queue.Kind]Handler),
	}
}

// RegisterHandler binds a handler to a job kind. Registering the same kind
// again replaces the previous handler.
func (s *Service) RegisterHandler(kind queue.Kind, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = handler
}

// Start recovers jobs stranded by a previous crash and begins polling.
// Starting an already running service is a no-op; every known job kind
// must have a handler first.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("scheduler already running, ignoring start")
		return nil
	}
	for _, kind := range queue.AllKinds() {
		if _, ok := s.handlers[kind]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("no handler registered for job kind %q", kind)
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	recovered, err := s.store.ResetStuckProcessing(runCtx)
	if err != nil {
		s.logger.Warn("failed to recover stuck jobs; they will stay claimed",
			logging.Error(err))
	} else if recovered > 0 {
		s.logger.Info("recovered jobs from interrupted run",
			logging.Int64("count", recovered))
	}

	go s.run(runCtx)
	return nil
}

// Stop halts polling and waits for an in-flight job to finish. Stopping a
// stopped service is a no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.breaker.open() {
			continue
		}
		s.poll(ctx)
	}
}

// poll claims at most one job and processes it. Claim errors feed the
// breaker; an empty queue is a normal outcome.
func (s *Service) poll(ctx context.Context) {
	job, err := s.store.ClaimNext(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("failed to claim next job", logging.Error(err))
		if s.breaker.failure() {
			s.logger.Warn("pausing queue polling after repeated claim failures",
				logging.Duration("cooldown", s.breaker.cooldown))
		}
		return
	}
	s.breaker.success()
	if job == nil {
		return
	}
	s.process(ctx, job)
}

func (s *Service) process(ctx context.Context, job *queue.Job) {
	requestID := uuid.NewString()
	logger := s.logger.With(
		logging.Int64("job_id", job.ID),
		logging.String("kind", string(job.Kind)),
		logging.String("request_id", requestID),
	)
	s.publish(ctx, notifications.EventJobStarted, job, nil)

	s.mu.Lock()
	handler, ok := s.handlers[job.Kind]
	s.mu.Unlock()
	if !ok {
		err := fmt.Errorf("no handler registered for job kind %q", job.Kind)
		logger.Error("dropping unhandled job", logging.Error(err))
		s.fail(ctx, logger, job, err, false)
		return
	}

	start := time.Now()
	err := s.invoke(ctx, handler, job)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Shutdown mid-job: leave it processing so the next start's
			// recovery pass requeues it.
			logger.Debug("job interrupted by shutdown")
			return
		}
		retryable := !errors.Is(err, ErrTerminal)
		logger.Error("job failed",
			logging.Error(err),
			logging.Bool("retryable", retryable),
			logging.Duration("elapsed", elapsed))
		s.fail(ctx, logger, job, err, retryable)
		return
	}

	if err := s.store.MarkCompleted(ctx, job); err != nil {
		logger.Error("failed to mark job completed", logging.Error(err))
		return
	}
	logger.Info("job completed", logging.Duration("elapsed", elapsed))
	s.publish(ctx, notifications.EventJobCompleted, job, nil)
}

// invoke runs the handler with panic containment: a panicking handler fails
// its job instead of taking the daemon down.
func (s *Service) invoke(ctx context.Context, handler Handler, job *queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (s *Service) fail(ctx context.Context, logger *slog.Logger, job *queue.Job, jobErr error, retryable bool) {
	if err := s.store.MarkFailed(ctx, job, jobErr, retryable); err != nil {
		logger.Error("failed to record job failure", logging.Error(err))
		return
	}
	s.publish(ctx, notifications.EventJobFailed, job, jobErr)
}

// Progress publishes a fire-and-forget progress event for a running job.
// Handlers call it; failures are logged, never surfaced.
func (s *Service) Progress(ctx context.Context, job *queue.Job, message string, percent float64) {
	payload := notifications.Payload{
		"job_id":  job.ID,
		"kind":    string(job.Kind),
		"message": message,
		"percent": percent,
	}
	if err := s.notifier.Publish(ctx, notifications.EventJobProgress, payload); err != nil {
		s.logger.Debug("failed to publish job progress", logging.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, event notifications.Event, job *queue.Job, jobErr error) {
	payload := notifications.Payload{
		"job_id":   job.ID,
		"kind":     string(job.Kind),
		"priority": job.Priority,
		"attempts": job.Attempts,
	}
	if jobErr != nil {
		payload["error"] = jobErr.Error()
	}
	if err := s.notifier.Publish(ctx, event, payload); err != nil {
		s.logger.Debug("failed to publish job event",
			logging.String("event", string(event)),
			logging.Error(err))
	}
}
