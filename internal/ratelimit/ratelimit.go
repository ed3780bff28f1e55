// Package ratelimit provides per-provider request pacing for outbound
// metadata API calls. Each provider gets an independent token bucket so a
// burst against one API never starves another.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Registry holds one limiter per provider name. The zero value is not usable;
// construct with NewRegistry.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	fallback Limit
}

// Limit describes a provider's sustained rate and burst allowance.
type Limit struct {
	RequestsPerSecond float64
	Burst             int
}

// NewRegistry creates a registry. The fallback limit applies to providers
// that were never explicitly configured.
func NewRegistry(fallback Limit) *Registry {
	if fallback.RequestsPerSecond <= 0 {
		fallback.RequestsPerSecond = 1
	}
	if fallback.Burst <= 0 {
		fallback.Burst = 1
	}
	return &Registry{
		limiters: make(map[string]*rate.Limiter),
		fallback: fallback,
	}
}

// Configure sets the limit for a provider, replacing any existing limiter.
// Invalid values fall back to the registry default.
func (r *Registry) Configure(provider string, limit Limit) {
	if limit.RequestsPerSecond <= 0 {
		limit.RequestsPerSecond = r.fallback.RequestsPerSecond
	}
	if limit.Burst <= 0 {
		limit.Burst = r.fallback.Burst
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[provider] = rate.NewLimiter(rate.Limit(limit.RequestsPerSecond), limit.Burst)
}

// Acquire blocks until the provider's limiter grants a token or the context
// is cancelled.
func (r *Registry) Acquire(ctx context.Context, provider string) error {
	limiter := r.limiter(provider)
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", provider, err)
	}
	return nil
}

// Allow reports whether a token is immediately available without consuming
// wait time. Used by opportunistic work that should skip rather than block.
func (r *Registry) Allow(provider string) bool {
	return r.limiter(provider).Allow()
}

func (r *Registry) limiter(provider string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	limiter, ok := r.limiters[provider]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(r.fallback.RequestsPerSecond), r.fallback.Burst)
		r.limiters[provider] = limiter
	}
	return limiter
}
