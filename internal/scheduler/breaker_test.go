package scheduler

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := newBreaker(3, time.Minute)
	b.now = func() time.Time { return clock }

	if b.failure() || b.failure() {
		t.Fatal("breaker tripped before the threshold")
	}
	if b.open() {
		t.Fatal("breaker should still be closed")
	}
	if !b.failure() {
		t.Fatal("third consecutive failure should trip the breaker")
	}
	if !b.open() {
		t.Fatal("breaker should be open")
	}

	clock = clock.Add(59 * time.Second)
	if !b.open() {
		t.Fatal("cooldown has not elapsed yet")
	}
	clock = clock.Add(2 * time.Second)
	if b.open() {
		t.Fatal("breaker should close after the cooldown")
	}
}

func TestBreakerSuccessResetsRun(t *testing.T) {
	b := newBreaker(3, time.Minute)

	b.failure()
	b.failure()
	b.success()
	if b.failure() || b.failure() {
		t.Fatal("success must reset the consecutive failure count")
	}
	if !b.failure() {
		t.Fatal("a fresh run of three failures should trip the breaker")
	}
}

func TestBreakerDefaults(t *testing.T) {
	b := newBreaker(0, 0)
	if b.threshold != 5 {
		t.Fatalf("default threshold should be 5, got %d", b.threshold)
	}
	if b.cooldown != time.Minute {
		t.Fatalf("default cooldown should be a minute, got %s", b.cooldown)
	}
}
