package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Local is an in-process token bucket.
type Local struct {
	l *rate.Limiter
}

// NewLocal allows perSecond sends on average with bursts up to burst.
// perSecond <= 0 disables limiting.
func NewLocal(perSecond float64, burst int) *Local {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &Local{l: rate.NewLimiter(limit, burst)}
}

func (l *Local) Wait(ctx context.Context) error { return l.l.Wait(ctx) }
