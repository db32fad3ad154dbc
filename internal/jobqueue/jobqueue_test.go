package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestClient(t *testing.T) (*Client, *MemoryStore, *fakeClock) {
	t.Helper()
	store := NewMemoryStore()
	clk := newFakeClock()
	c := NewClient(store, nil)
	c.Now = clk.Now
	return c, store, clk
}

func TestRetryPolicyDelayFor(t *testing.T) {
	p := RetryPolicy{Limit: 5, Delay: 10 * time.Second, Backoff: true}
	assert.Equal(t, 10*time.Second, p.DelayFor(1))
	assert.Equal(t, 20*time.Second, p.DelayFor(2))
	assert.Equal(t, 40*time.Second, p.DelayFor(3))
	assert.Equal(t, 10*time.Second, p.DelayFor(0))

	p.MaxDelay = 30 * time.Second
	assert.Equal(t, 30*time.Second, p.DelayFor(3))
	assert.Equal(t, 30*time.Second, p.DelayFor(50))

	flat := RetryPolicy{Limit: 3, Delay: 5 * time.Second}
	assert.Equal(t, 5*time.Second, flat.DelayFor(4))
}

func TestEnqueueValidation(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.Enqueue(ctx, "", map[string]int{"n": 1})
	assert.ErrorIs(t, err, ErrEmptyQueue)

	_, err = c.Enqueue(ctx, "q", nil)
	assert.ErrorIs(t, err, ErrPayloadNil)
}

func TestEnqueueSingletonKey(t *testing.T) {
	c, store, clk := newTestClient(t)
	ctx := context.Background()

	id, err := c.Enqueue(ctx, "q", map[string]int{"n": 1}, WithSingletonKey("k"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = c.Enqueue(ctx, "q", map[string]int{"n": 2}, WithSingletonKey("k"))
	assert.ErrorIs(t, err, ErrDuplicateJob)

	// same key on another queue is independent
	_, err = c.Enqueue(ctx, "other", map[string]int{"n": 3}, WithSingletonKey("k"))
	require.NoError(t, err)

	consumer := c.Consume("q", 1, func(context.Context, *Job) error { return nil })
	found, err := consumer.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, found)

	job, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, job.State)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, clk.Now(), *job.CompletedAt)

	// key is free once the holder is terminal
	_, err = c.Enqueue(ctx, "q", map[string]int{"n": 4}, WithSingletonKey("k"))
	require.NoError(t, err)
}

func TestEnqueueManySkipsDuplicates(t *testing.T) {
	c, store, _ := newTestClient(t)
	ctx := context.Background()

	reqs := []Request{
		{Queue: "send", Payload: map[string]string{"to": "a"}, Options: []EnqueueOption{WithSingletonKey("a")}},
		{Queue: "send", Payload: map[string]string{"to": "b"}, Options: []EnqueueOption{WithSingletonKey("b")}},
		{Queue: "send", Payload: map[string]string{"to": "a"}, Options: []EnqueueOption{WithSingletonKey("a")}},
	}
	n, err := c.EnqueueMany(ctx, reqs)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Len(t, store.List("send"), 2)

	n, err = c.EnqueueMany(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartAfterDefersClaim(t *testing.T) {
	c, _, clk := newTestClient(t)
	ctx := context.Background()

	_, err := c.Enqueue(ctx, "q", map[string]int{"n": 1}, WithStartAfter(clk.Now().Add(time.Minute)))
	require.NoError(t, err)

	var calls int
	consumer := c.Consume("q", 1, func(context.Context, *Job) error { calls++; return nil })

	found, err := consumer.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	clk.Advance(time.Minute)
	found, err = consumer.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, calls)
}

func TestWithDelay(t *testing.T) {
	c, store, clk := newTestClient(t)

	id, err := c.Enqueue(context.Background(), "q", map[string]int{"n": 1}, WithDelay(5*time.Second))
	require.NoError(t, err)

	job, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(5*time.Second), job.StartAfter)
}

func TestFailingJobRetriesWithBackoffThenDies(t *testing.T) {
	c, store, clk := newTestClient(t)
	ctx := context.Background()

	policy := RetryPolicy{Limit: 2, Delay: 10 * time.Second, Backoff: true}
	id, err := c.Enqueue(ctx, "q", map[string]int{"n": 1}, WithRetryPolicy(policy))
	require.NoError(t, err)

	var attempts int
	consumer := c.Consume("q", 1, func(context.Context, *Job) error {
		attempts++
		return errors.New("provider unavailable")
	})

	// first attempt, retry in 10s
	found, err := consumer.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, found)
	job, _ := store.Get(ctx, id)
	assert.Equal(t, StateRetry, job.State)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, clk.Now().Add(10*time.Second), job.StartAfter)
	require.NotNil(t, job.LastError)
	assert.Equal(t, "provider unavailable", *job.LastError)

	found, _ = consumer.RunOnce(ctx)
	assert.False(t, found, "not due yet")

	// second attempt, retry in 20s
	clk.Advance(10 * time.Second)
	found, err = consumer.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, found)
	job, _ = store.Get(ctx, id)
	assert.Equal(t, 2, job.RetryCount)
	assert.Equal(t, clk.Now().Add(20*time.Second), job.StartAfter)

	// third attempt exhausts the limit
	clk.Advance(20 * time.Second)
	found, err = consumer.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, found)
	job, _ = store.Get(ctx, id)
	assert.Equal(t, StateFailed, job.State)
	assert.Equal(t, 3, attempts)

	dead, err := store.ListDead(ctx, "q", 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, id, dead[0].ID)
}

func TestRetryThenSucceed(t *testing.T) {
	c, store, clk := newTestClient(t)
	ctx := context.Background()

	id, err := c.Enqueue(ctx, "q", map[string]int{"n": 1},
		WithRetryPolicy(RetryPolicy{Limit: 10, Delay: time.Second, Backoff: true}))
	require.NoError(t, err)

	var attempts int
	consumer := c.Consume("q", 1, func(context.Context, *Job) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary")
		}
		return nil
	})

	for i := 0; i < 3; i++ {
		found, err := consumer.RunOnce(ctx)
		require.NoError(t, err)
		require.True(t, found)
		clk.Advance(time.Hour)
	}

	job, _ := store.Get(ctx, id)
	assert.Equal(t, StateCompleted, job.State)
	assert.Equal(t, 2, job.RetryCount)
}

func TestPermanentErrorBuriesImmediately(t *testing.T) {
	c, store, _ := newTestClient(t)
	ctx := context.Background()

	id, err := c.Enqueue(ctx, "q", map[string]int{"n": 1})
	require.NoError(t, err)

	consumer := c.Consume("q", 1, func(context.Context, *Job) error {
		return Permanent(errors.New("bad payload"))
	})
	_, err = consumer.RunOnce(ctx)
	require.NoError(t, err)

	job, _ := store.Get(ctx, id)
	assert.Equal(t, StateFailed, job.State)
	assert.Zero(t, job.RetryCount)

	assert.Nil(t, Permanent(nil))
	assert.True(t, IsPermanent(Permanent(errors.New("x"))))
	assert.False(t, IsPermanent(errors.New("x")))
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	c, store, _ := newTestClient(t)
	ctx := context.Background()

	id, err := c.Enqueue(ctx, "q", map[string]int{"n": 1})
	require.NoError(t, err)

	consumer := c.Consume("q", 1, func(context.Context, *Job) error { panic("boom") })
	found, err := consumer.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, found)

	job, _ := store.Get(ctx, id)
	assert.Equal(t, StateRetry, job.State)
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, "boom")
}

func TestHandlerReceivesPayload(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.Enqueue(ctx, "q", map[string]string{"slug": "hello"})
	require.NoError(t, err)

	var got map[string]string
	consumer := c.Consume("q", 1, func(_ context.Context, job *Job) error {
		return json.Unmarshal(job.Payload, &got)
	})
	_, err = consumer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", got["slug"])
}

func TestReleaseExpiredReturnsJobToQueue(t *testing.T) {
	c, store, clk := newTestClient(t)
	ctx := context.Background()

	id, err := c.Enqueue(ctx, "q", map[string]int{"n": 1})
	require.NoError(t, err)

	job, err := store.Claim(ctx, "q", "crashed-worker", clk.Now(), clk.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, job)

	n, err := store.ReleaseExpired(ctx, clk.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(time.Minute)
	n, err = store.ReleaseExpired(ctx, clk.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	job, _ = store.Get(ctx, id)
	assert.True(t, job.State.Claimable())
	assert.Nil(t, job.LockedBy)
	assert.Equal(t, 1, job.RetryCount)
	require.NotNil(t, job.LastError)
	assert.Equal(t, LockExpiredMessage, *job.LastError)
}

func TestReleaseExpiredBuriesJobOutOfRetries(t *testing.T) {
	c, store, clk := newTestClient(t)
	ctx := context.Background()

	id, err := c.Enqueue(ctx, "q", map[string]int{"n": 1},
		WithRetryPolicy(RetryPolicy{Limit: 1, Delay: time.Second}),
		WithSingletonKey("only-one"))
	require.NoError(t, err)

	// a worker that keeps dying mid-run
	for i := 0; i < 2; i++ {
		job, err := store.Claim(ctx, "q", "crashed-worker", clk.Now(), clk.Now().Add(time.Minute))
		require.NoError(t, err)
		require.NotNil(t, job, "claim %d", i)
		clk.Advance(time.Minute)
		n, err := store.ReleaseExpired(ctx, clk.Now())
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	}

	job, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, job.State)
	assert.Equal(t, 1, job.RetryCount)
	require.NotNil(t, job.CompletedAt)

	dead, err := store.ListDead(ctx, "q", 10)
	require.NoError(t, err)
	assert.Len(t, dead, 1)

	next, err := store.Claim(ctx, "q", "w", clk.Now(), clk.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, next)

	_, err = c.Enqueue(ctx, "q", map[string]int{"n": 2}, WithSingletonKey("only-one"))
	assert.NoError(t, err, "singleton key is free once the job is dead")
}

func TestRunProcessesConcurrentlyUntilCancelled(t *testing.T) {
	store := NewMemoryStore()
	c := NewClient(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const total = 20
	for i := 0; i < total; i++ {
		_, err := c.Enqueue(ctx, "q", map[string]int{"n": i})
		require.NoError(t, err)
	}

	var done atomic.Int32
	consumer := c.Consume("q", 4, func(context.Context, *Job) error {
		done.Add(1)
		return nil
	})
	consumer.PollInterval = 10 * time.Millisecond

	errCh := make(chan error, 1)
	go func() { errCh <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return done.Load() == total }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Len(t, store.List("q", StateCompleted), total)
}

func TestRunWithoutHandler(t *testing.T) {
	c, _, _ := newTestClient(t)
	err := c.Consume("q", 1, nil).Run(context.Background())
	assert.ErrorIs(t, err, ErrNoHandler)
}
