// Package throttle rate-limits calls to an embedding provider.
package throttle

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"docrag/backend/internal/retrieval"
)

// Embedder blocks each Embed call until the token bucket allows it. Waiting
// honours ctx, so a per-call timeout also bounds time spent queued.
type Embedder struct {
	next    retrieval.Embedder
	limiter *rate.Limiter
}

// New wraps next with a limiter of perSecond requests and the given burst.
// A non-positive perSecond disables throttling.
func New(next retrieval.Embedder, perSecond float64, burst int) *Embedder {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Embedder{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit: %w", err)
	}
	return e.next.Embed(ctx, text)
}
