// Package ratelimit throttles outbound email sends. One Limiter is shared by
// every send worker of a process; the Redis limiter is shared across processes.
package ratelimit

import "context"

// Limiter blocks until the caller may perform one more send.
type Limiter interface {
	Wait(ctx context.Context) error
}
