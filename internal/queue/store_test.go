package queue_test

import (
	"context"
	"fmt"
	"testing"

	"curator/internal/queue"
	"curator/internal/testsupport"
)

func TestEnqueueAndGet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job, err := store.Enqueue(ctx, queue.KindEnrichment, []byte(`{"entity_id":42}`), queue.EnqueueOptions{Priority: 2})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Status != queue.StatusPending {
		t.Fatalf("expected pending status, got %s", job.Status)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.Kind != queue.KindEnrichment || fetched.Priority != 2 {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}
	if string(fetched.Payload) != `{"entity_id":42}` {
		t.Fatalf("payload not preserved: %s", fetched.Payload)
	}
}

func TestEnqueueClampsPriority(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job, err := store.Enqueue(context.Background(), queue.KindEnrichment, nil, queue.EnqueueOptions{Priority: 99})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if job.Priority != queue.PriorityDefault {
		t.Fatalf("expected default priority for out-of-range value, got %d", job.Priority)
	}
}

func TestClaimOrderByPriorityThenAge(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	// Insert low-urgency jobs first so insertion order cannot mask priority order.
	var ids []int64
	for i, priority := range []int{8, 3, 8, 1, 3} {
		job, err := store.Enqueue(ctx, queue.KindEnrichment, []byte(fmt.Sprintf(`{"n":%d}`, i)), queue.EnqueueOptions{Priority: priority})
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		ids = append(ids, job.ID)
	}

	// Expected: priority 1 first, then the two 3s by age, then the two 8s by age.
	want := []int64{ids[3], ids[1], ids[4], ids[0], ids[2]}
	for i, expected := range want {
		job, err := store.ClaimNext(ctx)
		if err != nil {
			t.Fatalf("ClaimNext %d failed: %v", i, err)
		}
		if job == nil {
			t.Fatalf("ClaimNext %d returned nil", i)
		}
		if job.ID != expected {
			t.Fatalf("claim %d: expected job %d, got %d", i, expected, job.ID)
		}
		if job.Status != queue.StatusProcessing {
			t.Fatalf("claimed job not processing: %s", job.Status)
		}
		if job.Attempts != 1 {
			t.Fatalf("expected attempts incremented to 1, got %d", job.Attempts)
		}
	}

	empty, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext on empty queue failed: %v", err)
	}
	if empty != nil {
		t.Fatalf("expected nil from empty queue, got %#v", empty)
	}
}

func TestMarkFailedRetriesThenTerminates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, queue.KindEnrichment, nil, queue.EnqueueOptions{MaxAttempts: 2})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	id := job.ID

	// First attempt fails: retries remain, job returns to the claimable set.
	claimed, err := store.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if err := store.MarkFailed(ctx, claimed, fmt.Errorf("provider timeout"), true); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	requeued, err := store.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if requeued == nil || requeued.Status != queue.StatusRetrying {
		t.Fatalf("expected retrying status, got %#v", requeued)
	}
	if requeued.Error != "provider timeout" {
		t.Fatalf("error message not retained: %q", requeued.Error)
	}

	// Second attempt exhausts retries: job is archived as failed.
	claimed, err = store.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("second ClaimNext failed: %v", err)
	}
	if claimed.Attempts != 2 {
		t.Fatalf("expected second attempt, got %d", claimed.Attempts)
	}
	if err := store.MarkFailed(ctx, claimed, fmt.Errorf("provider timeout"), true); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	active, err := store.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if active != nil {
		t.Fatalf("failed job should leave active queue, got %#v", active)
	}

	history, err := store.History(ctx, 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 || history[0].Status != queue.StatusFailed {
		t.Fatalf("expected one failed history row, got %#v", history)
	}
	if history[0].Error != "provider timeout" {
		t.Fatalf("history lost error message: %q", history[0].Error)
	}
}

func TestMarkFailedNonRetryableIsTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, queue.KindEnrichment, nil, queue.EnqueueOptions{MaxAttempts: 5})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	claimed, err := store.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if err := store.MarkFailed(ctx, claimed, fmt.Errorf("no handler registered"), false); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	active, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if active != nil {
		t.Fatal("non-retryable failure should be terminal despite retries left")
	}
}

func TestResetStuckProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		job, err := store.Enqueue(ctx, queue.KindEnrichment, nil, queue.EnqueueOptions{})
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		ids = append(ids, job.ID)
	}
	// Claim two jobs, simulating a crash mid-execution.
	for i := 0; i < 2; i++ {
		if _, err := store.ClaimNext(ctx); err != nil {
			t.Fatalf("ClaimNext failed: %v", err)
		}
	}

	count, err := store.ResetStuckProcessing(ctx)
	if err != nil {
		t.Fatalf("ResetStuckProcessing failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 jobs recovered, got %d", count)
	}

	pending, err := store.List(ctx, queue.StatusPending)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected all 3 jobs pending after recovery, got %d", len(pending))
	}
	seen := map[int64]bool{}
	for _, job := range pending {
		if seen[job.ID] {
			t.Fatalf("job %d duplicated after recovery", job.ID)
		}
		seen[job.ID] = true
	}
	for _, id := range ids {
		if !seen[id] {
			t.Fatalf("job %d lost after recovery", id)
		}
	}
}

func TestMarkCompletedArchives(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, queue.KindEnrichment, nil, queue.EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	claimed, err := store.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if err := store.MarkCompleted(ctx, claimed); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Completed != 1 || stats.Pending != 0 || stats.Processing != 0 {
		t.Fatalf("unexpected stats after completion: %+v", stats)
	}
}

func TestRetryFailedRequeues(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, queue.KindEnrichment, []byte(`{"entity_id":7}`), queue.EnqueueOptions{MaxAttempts: 1}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	claimed, err := store.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if err := store.MarkFailed(ctx, claimed, fmt.Errorf("boom"), true); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	requeued, err := store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("expected 1 job requeued, got %d", requeued)
	}
	pending, err := store.List(ctx, queue.StatusPending)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pending) != 1 || string(pending[0].Payload) != `{"entity_id":7}` {
		t.Fatalf("requeued job lost payload: %#v", pending)
	}
}
