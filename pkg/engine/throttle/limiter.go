// Package throttle holds the per-account token buckets and the capped
// exponential backoff used for provider calls.
package throttle

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

type key struct {
	provider string
	account  string
}

// Registry hands out one token bucket per (provider, account).
type Registry struct {
	mu       sync.Mutex
	limiters map[key]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewRegistry creates buckets refilling at rps with the given burst.
// A non-positive rps disables limiting.
func NewRegistry(rps float64, burst int) *Registry {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Registry{
		limiters: make(map[key]*rate.Limiter),
		rps:      limit,
		burst:    burst,
	}
}

// Limiter returns the bucket for provider/account, creating it on first use.
func (r *Registry) Limiter(provider, account string) *rate.Limiter {
	k := key{provider, account}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[k]
	if !ok {
		l = rate.NewLimiter(r.rps, r.burst)
		r.limiters[k] = l
	}
	return l
}

// Wait blocks until a token is available or ctx ends.
func (r *Registry) Wait(ctx context.Context, provider, account string) error {
	return r.Limiter(provider, account).Wait(ctx)
}
