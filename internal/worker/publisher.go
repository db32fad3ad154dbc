package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/newsletter/internal/jobqueue"
	"github.com/jmehdipour/newsletter/internal/metrics"
	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/jmehdipour/newsletter/internal/repository"
	"go.uber.org/zap"
)

// Publisher handles newsletter.publish-post jobs:
// - flips the post to published and snapshots the audience in one transaction,
// - writes a pending delivery per subscriber,
// - enqueues one send job per subscriber after commit.
// It must run with concurrency 1.
type Publisher struct {
	Store repository.ContentStore
	Queue *jobqueue.Client
	Log   *zap.Logger

	SendRetry jobqueue.RetryPolicy
	Now       func() time.Time
}

func NewPublisher(store repository.ContentStore, queue *jobqueue.Client, log *zap.Logger, sendRetry jobqueue.RetryPolicy) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{Store: store, Queue: queue, Log: log, SendRetry: sendRetry, Now: time.Now}
}

func (w *Publisher) Handle(ctx context.Context, job *jobqueue.Job) error {
	var p model.PublishPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return jobqueue.Permanent(fmt.Errorf("decode publish payload: %w", err))
	}
	if p.Slug == "" {
		return jobqueue.Permanent(errors.New("publish payload: missing slug"))
	}
	log := w.Log.With(zap.String("slug", p.Slug), zap.String("job_id", job.ID))

	// 1) transaction: status flip + snapshot + pending ledger
	res, err := w.Store.PublishPost(ctx, p.Slug, w.Now())
	if err != nil {
		return fmt.Errorf("publish %q: %w", p.Slug, err)
	}
	if res == nil {
		log.Info("post missing or deleted, nothing to publish")
		return nil
	}
	metrics.DeliveriesTotal.WithLabelValues(model.DeliveryPending.String()).Add(float64(res.NewLedger))

	if len(res.Audience) == 0 {
		log.Info("post published, no subscribers", zap.Bool("flipped", res.Flipped))
		return nil
	}

	// 2) fan-out after commit; singleton keys absorb re-runs of this job
	reqs := make([]jobqueue.Request, 0, len(res.Audience))
	for _, sub := range res.Audience {
		reqs = append(reqs, jobqueue.Request{
			Queue:   model.QueueSendEmail,
			Payload: model.SendPayload{Slug: p.Slug, SubscriberID: sub.ID},
			Options: []jobqueue.EnqueueOption{
				jobqueue.WithSingletonKey(model.SendSingletonKey(p.Slug, sub.ID)),
				jobqueue.WithRetryPolicy(w.SendRetry),
			},
		})
	}
	n, err := w.Queue.EnqueueMany(ctx, reqs)
	if err != nil {
		return fmt.Errorf("enqueue send jobs for %q: %w", p.Slug, err)
	}

	log.Info("post published",
		zap.Bool("flipped", res.Flipped),
		zap.Int("audience", len(res.Audience)),
		zap.Int64("new_deliveries", res.NewLedger),
		zap.Int64("send_jobs", n))
	return nil
}
