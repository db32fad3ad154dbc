package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmehdipour/newsletter/internal/util"
	"go.uber.org/zap"
)

// Client enqueues jobs and builds consumers on top of a Store.
type Client struct {
	store Store
	log   *zap.Logger

	Now func() time.Time
}

func NewClient(store Store, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{store: store, log: log, Now: time.Now}
}

// Store exposes the underlying store (dead-job inspection, tests).
func (c *Client) Store() Store { return c.store }

type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	singletonKey string
	startAfter   *time.Time
	delay        time.Duration
	retry        RetryPolicy
}

// WithSingletonKey rejects the job while another job with the same key is outstanding.
func WithSingletonKey(key string) EnqueueOption {
	return func(o *enqueueOptions) { o.singletonKey = key }
}

// WithStartAfter delays the job until t.
func WithStartAfter(t time.Time) EnqueueOption {
	return func(o *enqueueOptions) { o.startAfter = &t }
}

func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

func WithRetryPolicy(p RetryPolicy) EnqueueOption {
	return func(o *enqueueOptions) {
		if p.Limit >= 0 {
			o.retry = p
		}
	}
}

// Enqueue stores a job and returns its ID.
// ErrDuplicateJob is returned when the singleton key is held by an outstanding job.
func (c *Client) Enqueue(ctx context.Context, queue string, payload any, opts ...EnqueueOption) (string, error) {
	job, err := c.build(queue, payload, opts)
	if err != nil {
		return "", err
	}

	ok, err := c.store.Insert(ctx, job)
	if err != nil {
		return "", fmt.Errorf("insert job into %q: %w", queue, err)
	}
	if !ok {
		return "", ErrDuplicateJob
	}

	c.log.Debug("job enqueued",
		zap.String("queue", queue),
		zap.String("job_id", job.ID),
		zap.Time("start_after", job.StartAfter))
	return job.ID, nil
}

// Request is one job of a batch enqueue.
type Request struct {
	Queue   string
	Payload any
	Options []EnqueueOption
}

// EnqueueMany stores all jobs in one round trip. Singleton duplicates are skipped,
// the returned count only includes new jobs.
func (c *Client) EnqueueMany(ctx context.Context, reqs []Request) (int64, error) {
	if len(reqs) == 0 {
		return 0, nil
	}
	jobs := make([]*Job, 0, len(reqs))
	for _, r := range reqs {
		job, err := c.build(r.Queue, r.Payload, r.Options)
		if err != nil {
			return 0, err
		}
		jobs = append(jobs, job)
	}

	n, err := c.store.InsertMany(ctx, jobs)
	if err != nil {
		return 0, fmt.Errorf("insert %d jobs: %w", len(jobs), err)
	}
	return n, nil
}

func (c *Client) build(queue string, payload any, opts []EnqueueOption) (*Job, error) {
	if queue == "" {
		return nil, ErrEmptyQueue
	}
	if payload == nil {
		return nil, ErrPayloadNil
	}

	o := &enqueueOptions{retry: DefaultRetryPolicy}
	for _, opt := range opts {
		opt(o)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload of type %T: %w", payload, err)
	}

	now := c.Now()
	startAfter := now
	if o.startAfter != nil {
		startAfter = *o.startAfter
	} else if o.delay > 0 {
		startAfter = now.Add(o.delay)
	}

	job := &Job{
		ID:            util.NewIDAt(now),
		Queue:         queue,
		Payload:       raw,
		State:         StateCreated,
		RetryLimit:    o.retry.Limit,
		RetryDelay:    int(o.retry.Delay / time.Second),
		RetryDelayMax: int(o.retry.MaxDelay / time.Second),
		RetryBackoff:  o.retry.Backoff,
		StartAfter:    startAfter,
		CreatedAt:     now,
	}
	if o.singletonKey != "" {
		key := o.singletonKey
		job.SingletonKey = &key
	}
	return job, nil
}
