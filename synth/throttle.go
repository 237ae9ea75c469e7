package synth

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Throttled bounds the request rate and the number of in-flight requests
// against a backend.
type Throttled struct {
	next    Client
	limiter *rate.Limiter
	sem     *semaphore.Weighted
}

// Throttle wraps next. A non-positive perSecond disables rate limiting and a
// non-positive concurrency allows a single request at a time.
func Throttle(next Client, perSecond float64, burst, concurrency int) *Throttled {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		sem:     semaphore.NewWeighted(int64(concurrency)),
	}
}

// Synthesize implements Client. Waiting for capacity honors ctx.
func (t *Throttled) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	// Wait fails early when the deadline would pass before a token is free.
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, classify(ctx, err)
	}
	defer t.sem.Release(1)

	return t.next.Synthesize(ctx, req)
}
