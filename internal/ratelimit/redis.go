package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// FixedWindow counts hits per key in fixed time windows stored in Redis.
type FixedWindow struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration

	Now func() time.Time
}

func NewFixedWindow(rdb *redis.Client, prefix string, limit int, window time.Duration) *FixedWindow {
	if window <= 0 {
		window = time.Second
	}
	return &FixedWindow{rdb: rdb, prefix: prefix, limit: limit, window: window, Now: time.Now}
}

// Allow records one hit for key. When the window is full it returns false and
// the time left until the next window starts.
func (f *FixedWindow) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if f.limit <= 0 {
		return true, 0, nil
	}

	now := f.Now()
	slot := now.UnixNano() / int64(f.window)
	k := f.prefix + key + ":" + strconv.FormatInt(slot, 10)

	// INCR and set expiry 2*window (safety)
	pipe := f.rdb.Pipeline()
	cnt := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, f.window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}

	if cnt.Val() > int64(f.limit) {
		remain := f.window - time.Duration(now.UnixNano()%int64(f.window))
		return false, remain, nil
	}
	return true, 0, nil
}

// Redis is a Limiter whose budget is shared by every process using the same key.
type Redis struct {
	fw  *FixedWindow
	key string
}

// NewRedis allows perSecond sends per second across all processes.
// perSecond <= 0 disables limiting.
func NewRedis(rdb *redis.Client, key string, perSecond float64) *Redis {
	limit, window := sendWindow(perSecond)
	return &Redis{fw: NewFixedWindow(rdb, "rl:send:", limit, window), key: key}
}

// sendWindow maps a per-second rate onto a fixed window. Rates below one become one
// send per 1/rate; fractional rates above one round down.
func sendWindow(perSecond float64) (int, time.Duration) {
	switch {
	case perSecond <= 0:
		return 0, time.Second
	case perSecond < 1:
		return 1, time.Duration(float64(time.Second) / perSecond)
	default:
		return int(perSecond), time.Second
	}
}

func (r *Redis) Wait(ctx context.Context) error {
	for {
		ok, remain, err := r.fw.Allow(ctx, r.key)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		t := time.NewTimer(remain)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
