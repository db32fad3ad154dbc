package jobqueue

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jmehdipour/newsletter/internal/metrics"
	"github.com/jmehdipour/newsletter/internal/util"
	"go.uber.org/zap"
)

// Handler processes one job. A nil error completes the job; any other error
// schedules a retry, or buries the job when retries are exhausted or the error is Permanent.
type Handler func(ctx context.Context, job *Job) error

// Consumer polls one queue with a fixed number of workers.
type Consumer struct {
	store   Store
	log     *zap.Logger
	queue   string
	handler Handler
	id      string

	// Behavior
	Concurrency     int
	PollInterval    time.Duration // sleep when the queue is empty
	LockTimeout     time.Duration // handler deadline and job lock length
	RecoverInterval time.Duration // how often expired locks are released
	Now             func() time.Time
}

// Consume builds a consumer for queue. Call Run to start it.
func (c *Client) Consume(queue string, concurrency int, h Handler) *Consumer {
	host, _ := os.Hostname()
	return &Consumer{
		store:           c.store,
		log:             c.log.With(zap.String("queue", queue)),
		queue:           queue,
		handler:         h,
		id:              host + "/" + util.NewID(),
		Concurrency:     concurrency,
		PollInterval:    time.Second,
		LockTimeout:     2 * time.Minute,
		RecoverInterval: 30 * time.Second,
		Now:             c.Now,
	}
}

func (c *Consumer) Queue() string { return c.queue }

// Run starts the workers and blocks until ctx is cancelled and every in-flight job finished.
func (c *Consumer) Run(ctx context.Context) error {
	if c.handler == nil {
		return ErrNoHandler
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 2 * time.Minute
	}
	if c.RecoverInterval <= 0 {
		c.RecoverInterval = 30 * time.Second
	}

	c.log.Info("consumer started",
		zap.String("consumer_id", c.id),
		zap.Int("concurrency", c.Concurrency))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.runRecovery(ctx)
	}()

	for i := 0; i < c.Concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.runWorker(ctx, n)
		}(i)
	}

	wg.Wait()
	c.log.Info("consumer stopped", zap.String("consumer_id", c.id))
	return nil
}

// RunOnce claims and processes at most one due job. It reports whether a job was found.
func (c *Consumer) RunOnce(ctx context.Context) (bool, error) {
	if c.handler == nil {
		return false, ErrNoHandler
	}
	now := c.Now()
	job, err := c.store.Claim(ctx, c.queue, c.id, now, now.Add(c.lockTimeout()))
	if err != nil {
		return false, fmt.Errorf("claim from %q: %w", c.queue, err)
	}
	if job == nil {
		return false, nil
	}
	return true, c.process(ctx, job)
}

func (c *Consumer) runWorker(ctx context.Context, n int) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		found, err := c.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			c.log.Error("job processing failed", zap.Int("worker", n), zap.Error(err))
		}
		if found && err == nil {
			timer.Reset(0)
			continue
		}
		timer.Reset(c.PollInterval)
	}
}

func (c *Consumer) runRecovery(ctx context.Context) {
	tick := time.NewTicker(c.RecoverInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			n, err := c.store.ReleaseExpired(ctx, c.Now())
			if err != nil {
				if ctx.Err() == nil {
					c.log.Error("release expired jobs", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				c.log.Warn("released jobs with expired locks", zap.Int64("count", n))
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, job *Job) error {
	start := time.Now()
	herr := c.invoke(ctx, job)
	metrics.JobDuration.WithLabelValues(c.queue).Observe(time.Since(start).Seconds())

	// the job outcome must be recorded even while shutting down
	sctx := context.WithoutCancel(ctx)
	log := c.log.With(zap.String("job_id", job.ID), zap.Int("retry_count", job.RetryCount))

	if herr == nil {
		if err := c.store.Complete(sctx, job.ID, c.Now()); err != nil {
			return fmt.Errorf("complete job %s: %w", job.ID, err)
		}
		metrics.JobsTotal.WithLabelValues(c.queue, "completed").Inc()
		return nil
	}

	msg := herr.Error()
	if IsPermanent(herr) || job.Exhausted() {
		if err := c.store.Bury(sctx, job.ID, msg, c.Now()); err != nil {
			return fmt.Errorf("bury job %s: %w", job.ID, err)
		}
		metrics.JobsTotal.WithLabelValues(c.queue, "dead").Inc()
		log.Error("job moved to dead state",
			zap.Bool("permanent", IsPermanent(herr)),
			zap.Error(herr))
		return nil
	}

	delay := job.Policy().DelayFor(job.RetryCount + 1)
	if err := c.store.Retry(sctx, job.ID, msg, c.Now().Add(delay)); err != nil {
		return fmt.Errorf("retry job %s: %w", job.ID, err)
	}
	metrics.JobsTotal.WithLabelValues(c.queue, "retried").Inc()
	log.Warn("job failed, retry scheduled",
		zap.Duration("delay", delay),
		zap.Error(herr))
	return nil
}

// invoke runs the handler detached from ctx cancellation so a shutdown lets the
// current job finish within the lock timeout.
func (c *Consumer) invoke(ctx context.Context, job *Job) (err error) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.lockTimeout())
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s handler: %v", c.queue, r)
		}
	}()
	return c.handler(hctx, job)
}

func (c *Consumer) lockTimeout() time.Duration {
	if c.LockTimeout <= 0 {
		return 2 * time.Minute
	}
	return c.LockTimeout
}
