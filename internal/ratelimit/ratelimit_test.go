package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestFixedWindowAllow(t *testing.T) {
	rdb := newRedis(t)
	fw := NewFixedWindow(rdb, "rl:test:", 2, time.Second)
	base := time.Date(2025, 3, 1, 12, 0, 0, 250*int(time.Millisecond), time.UTC)
	fw.Now = func() time.Time { return base }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := fw.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, remain, err := fw.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 750*time.Millisecond, remain)

	// other keys have their own budget
	ok, _, err = fw.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, ok)

	// next window
	fw.Now = func() time.Time { return base.Add(time.Second) }
	ok, _, err = fw.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFixedWindowDisabled(t *testing.T) {
	fw := NewFixedWindow(nil, "rl:test:", 0, time.Second)
	ok, _, err := fw.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiterWaitsForNextWindow(t *testing.T) {
	rdb := newRedis(t)
	l := NewRedis(rdb, "newsletter", 1)

	var clock time.Time
	calls := 0
	l.fw.Now = func() time.Time {
		calls++
		if calls < 3 {
			// first two hits land in the same window
			clock = time.Date(2025, 3, 1, 12, 0, 0, 990*int(time.Millisecond), time.UTC)
		} else {
			clock = time.Date(2025, 3, 1, 12, 0, 1, 0, time.UTC)
		}
		return clock
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, l.Wait(ctx))
	start := time.Now()
	require.NoError(t, l.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, 3, calls)
}

func TestSendWindowKeepsFractionalRates(t *testing.T) {
	cases := []struct {
		rate   float64
		limit  int
		window time.Duration
	}{
		{0, 0, time.Second},
		{-1, 0, time.Second},
		{0.5, 1, 2 * time.Second},
		{0.25, 1, 4 * time.Second},
		{1, 1, time.Second},
		{2.7, 2, time.Second},
		{10, 10, time.Second},
	}
	for _, tc := range cases {
		limit, window := sendWindow(tc.rate)
		assert.Equal(t, tc.limit, limit, "rate %v", tc.rate)
		assert.Equal(t, tc.window, window, "rate %v", tc.rate)
	}
}

func TestRedisLimiterHalfPerSecondStillLimits(t *testing.T) {
	rdb := newRedis(t)
	l := NewRedis(rdb, "newsletter", 0.5)
	fixed := time.Date(2025, 3, 1, 12, 0, 1, 0, time.UTC)
	l.fw.Now = func() time.Time { return fixed }

	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}

func TestRedisLimiterHonoursContext(t *testing.T) {
	rdb := newRedis(t)
	l := NewRedis(rdb, "newsletter", 1)
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l.fw.Now = func() time.Time { return fixed }

	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}

func TestLocalLimiter(t *testing.T) {
	l := NewLocal(0, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}

	slow := NewLocal(1, 1)
	require.NoError(t, slow.Wait(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, slow.Wait(ctx))
}
