package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"curator/internal/notifications"
	"curator/internal/queue"
	"curator/internal/scheduler"
	"curator/internal/testsupport"
)

const testPoll = 5 * time.Millisecond

// recorder captures published events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recorder) Publish(ctx context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) has(event notifications.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func noopHandler(ctx context.Context, job *queue.Job) error { return nil }

// registerAll binds every known kind so Start's validation passes; tests
// override the kinds they exercise.
func registerAll(svc *scheduler.Service) {
	for _, kind := range queue.AllKinds() {
		svc.RegisterHandler(kind, noopHandler)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(testPoll)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newService(t *testing.T, store *queue.Store, notifier notifications.Publisher) *scheduler.Service {
	t.Helper()
	svc := scheduler.NewService(store, notifier, scheduler.Options{PollInterval: testPoll}, nil)
	registerAll(svc)
	return svc
}

func TestStartRequiresHandlersForAllKinds(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	svc := scheduler.NewService(store, nil, scheduler.Options{}, nil)
	svc.RegisterHandler(queue.KindEnrichment, noopHandler)

	if err := svc.Start(context.Background()); err == nil {
		svc.Stop()
		t.Fatal("Start must fail while job kinds lack handlers")
	}
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	svc := newService(t, store, nil)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("starting a running scheduler should be a no-op: %v", err)
	}
	svc.Stop()
	svc.Stop()
}

func TestProcessesJobsInPriorityOrder(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, queue.KindEnrichment, []byte(`"low"`), queue.EnqueueOptions{Priority: queue.PriorityLowest}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := store.Enqueue(ctx, queue.KindEnrichment, []byte(`"high"`), queue.EnqueueOptions{Priority: queue.PriorityHighest}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	var mu sync.Mutex
	var order []string
	events := &recorder{}
	svc := newService(t, store, events)
	svc.RegisterHandler(queue.KindEnrichment, func(ctx context.Context, job *queue.Job) error {
		mu.Lock()
		order = append(order, string(job.Payload))
		mu.Unlock()
		return nil
	})
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop()

	waitFor(t, "both jobs to complete", func() bool {
		stats, err := store.Stats(ctx)
		return err == nil && stats.Completed == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != `"high"` || order[1] != `"low"` {
		t.Fatalf("jobs ran out of priority order: %v", order)
	}
	if !events.has(notifications.EventJobStarted) || !events.has(notifications.EventJobCompleted) {
		t.Fatal("job:started and job:completed events expected")
	}
}

func TestFailingHandlerRetriesThenArchivesAsFailed(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job, err := store.Enqueue(ctx, queue.KindEnrichment, nil, queue.EnqueueOptions{MaxAttempts: 2})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	var attempts atomic.Int64
	events := &recorder{}
	svc := newService(t, store, events)
	svc.RegisterHandler(queue.KindEnrichment, func(ctx context.Context, job *queue.Job) error {
		attempts.Add(1)
		return errors.New("provider timeout")
	})
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop()

	waitFor(t, "job to exhaust retries", func() bool {
		stats, err := store.Stats(ctx)
		return err == nil && stats.Failed == 1
	})

	if got := attempts.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
	history, err := store.History(ctx, 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 || history[0].ID != job.ID {
		t.Fatalf("job should be archived: %v", history)
	}
	if history[0].Error != "provider timeout" {
		t.Fatalf("failure reason not preserved: %q", history[0].Error)
	}
	if !events.has(notifications.EventJobFailed) {
		t.Fatal("job:failed event missing")
	}
}

func TestTerminalErrorSkipsRemainingRetries(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, queue.KindEnrichment, nil, queue.EnqueueOptions{MaxAttempts: 5}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	var attempts atomic.Int64
	svc := newService(t, store, nil)
	svc.RegisterHandler(queue.KindEnrichment, func(ctx context.Context, job *queue.Job) error {
		attempts.Add(1)
		return fmt.Errorf("entity vanished: %w", scheduler.ErrTerminal)
	})
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop()

	waitFor(t, "terminal failure", func() bool {
		stats, err := store.Stats(ctx)
		return err == nil && stats.Failed == 1
	})
	if got := attempts.Load(); got != 1 {
		t.Fatalf("terminal errors must not retry: %d attempts", got)
	}
}

func TestPanickingHandlerFailsJob(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, queue.KindEnrichment, nil, queue.EnqueueOptions{MaxAttempts: 1}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	svc := newService(t, store, nil)
	svc.RegisterHandler(queue.KindEnrichment, func(ctx context.Context, job *queue.Job) error {
		panic("nil map write")
	})
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop()

	waitFor(t, "panicked job to fail", func() bool {
		stats, err := store.Stats(ctx)
		return err == nil && stats.Failed == 1
	})

	history, err := store.History(ctx, 1)
	if err != nil || len(history) != 1 {
		t.Fatalf("expected archived job: %v (%v)", history, err)
	}
	if history[0].Error == "" {
		t.Fatal("panic message should be recorded on the job")
	}
}

func TestUnknownKindFailsTerminally(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, queue.Kind("mystery"), nil, queue.EnqueueOptions{MaxAttempts: 3}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	svc := newService(t, store, nil)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop()

	waitFor(t, "unhandled job to fail", func() bool {
		stats, err := store.Stats(ctx)
		return err == nil && stats.Failed == 1
	})

	history, err := store.History(ctx, 1)
	if err != nil || len(history) != 1 {
		t.Fatalf("expected archived job: %v (%v)", history, err)
	}
	// One claim, no retries: nothing can start handling the kind later.
	if history[0].Attempts != 1 {
		t.Fatalf("unknown kinds must fail on first claim, got %d attempts", history[0].Attempts)
	}
}

func TestStartRecoversJobsFromInterruptedRun(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, queue.KindEnrichment, nil, queue.EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	// Simulate a crash: the job was claimed but never resolved.
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	svc := newService(t, store, nil)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop()

	waitFor(t, "recovered job to complete", func() bool {
		stats, err := store.Stats(ctx)
		return err == nil && stats.Completed == 1
	})
}

// flakyStore fails every claim so the breaker trips.
type flakyStore struct {
	claims atomic.Int64
}

func (f *flakyStore) ClaimNext(ctx context.Context) (*queue.Job, error) {
	f.claims.Add(1)
	return nil, errors.New("disk I/O error")
}

func (f *flakyStore) MarkCompleted(ctx context.Context, job *queue.Job) error { return nil }

func (f *flakyStore) MarkFailed(ctx context.Context, job *queue.Job, jobErr error, retryable bool) error {
	return nil
}

func (f *flakyStore) ResetStuckProcessing(ctx context.Context) (int64, error) { return 0, nil }

func TestBreakerPausesPollingAfterRepeatedClaimFailures(t *testing.T) {
	store := &flakyStore{}
	svc := scheduler.NewService(store, nil, scheduler.Options{
		PollInterval:     testPoll,
		BreakerThreshold: 5,
		BreakerCooldown:  time.Hour,
	}, nil)
	registerAll(svc)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop()

	waitFor(t, "breaker threshold", func() bool {
		return store.claims.Load() >= 5
	})
	// Polling continues but claims must stop while the breaker is open.
	time.Sleep(20 * testPoll)
	if got := store.claims.Load(); got != 5 {
		t.Fatalf("breaker should pause claims at 5, got %d", got)
	}
}

func TestBreakerResumesAfterCooldown(t *testing.T) {
	store := &flakyStore{}
	svc := scheduler.NewService(store, nil, scheduler.Options{
		PollInterval:     testPoll,
		BreakerThreshold: 2,
		BreakerCooldown:  10 * testPoll,
	}, nil)
	registerAll(svc)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop()

	waitFor(t, "polling to resume after cooldown", func() bool {
		return store.claims.Load() >= 6
	})
}
