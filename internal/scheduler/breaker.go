package scheduler

import "time"

// breaker trips after a run of consecutive polling failures so a broken
// database or disk does not get hammered once per tick. Handler failures are
// job-level outcomes and never count against it.
type breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	consecutive int
	openUntil   time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// open reports whether polling should be skipped this tick.
func (b *breaker) open() bool {
	return b.now().Before(b.openUntil)
}

// failure records one polling error and trips the breaker when the
// consecutive run reaches the threshold.
func (b *breaker) failure() bool {
	b.consecutive++
	if b.consecutive < b.threshold {
		return false
	}
	b.consecutive = 0
	b.openUntil = b.now().Add(b.cooldown)
	return true
}

// success resets the consecutive failure run.
func (b *breaker) success() {
	b.consecutive = 0
}
