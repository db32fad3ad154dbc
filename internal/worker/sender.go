package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/newsletter/internal/dispatcher"
	"github.com/jmehdipour/newsletter/internal/jobqueue"
	"github.com/jmehdipour/newsletter/internal/metrics"
	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/jmehdipour/newsletter/internal/ratelimit"
	"github.com/jmehdipour/newsletter/internal/render"
	"github.com/jmehdipour/newsletter/internal/repository"
	"go.uber.org/zap"
)

// EmailSender is the outbound transport (the dispatcher in production).
type EmailSender interface {
	Send(ctx context.Context, email model.Email) (dispatcher.Result, error)
}

// EventPublisher receives ledger transitions for reporting.
type EventPublisher interface {
	Publish(ctx context.Context, e model.DeliveryEvent) error
}

// Sender handles newsletter.send-email jobs. Many Sender goroutines share one Limiter.
type Sender struct {
	Store    repository.ContentStore
	Dispatch EmailSender
	Limiter  ratelimit.Limiter
	Render   *render.Renderer
	Events   EventPublisher // optional
	Log      *zap.Logger

	EventTimeout time.Duration
	Now          func() time.Time
}

func NewSender(
	store repository.ContentStore,
	dispatch EmailSender,
	limiter ratelimit.Limiter,
	renderer *render.Renderer,
	events EventPublisher,
	log *zap.Logger,
) *Sender {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sender{
		Store:        store,
		Dispatch:     dispatch,
		Limiter:      limiter,
		Render:       renderer,
		Events:       events,
		Log:          log,
		EventTimeout: 2 * time.Second,
		Now:          time.Now,
	}
}

func (w *Sender) Handle(ctx context.Context, job *jobqueue.Job) error {
	var p model.SendPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return jobqueue.Permanent(fmt.Errorf("decode send payload: %w", err))
	}
	if p.Slug == "" || p.SubscriberID == "" {
		return jobqueue.Permanent(errors.New("send payload: missing slug or subscriber_id"))
	}
	log := w.Log.With(zap.String("slug", p.Slug), zap.String("subscriber_id", p.SubscriberID))

	// 1) ledger row + recipient
	d, err := w.Store.FindForSend(ctx, p.Slug, p.SubscriberID)
	if err != nil {
		return fmt.Errorf("find delivery: %w", err)
	}
	if d == nil {
		log.Info("delivery not found, skipping")
		return nil
	}

	// 2) already sent by an earlier run
	if !d.Status.Sendable() {
		log.Debug("delivery already settled", zap.String("status", d.Status.String()))
		return nil
	}

	// 3) render, throttle, send
	email, err := w.Render.Newsletter(*d)
	if err != nil {
		return jobqueue.Permanent(err)
	}
	email.IdempotencyKey = model.IdempotencyKey(d.ID)

	if err := w.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	res, sendErr := w.Dispatch.Send(ctx, email)
	now := w.Now()

	// 4) failure: record and let the queue retry
	if sendErr != nil {
		if _, err := w.Store.MarkFailed(ctx, d.ID, sendErr.Error(), now); err != nil {
			return errors.Join(sendErr, fmt.Errorf("mark failed %s: %w", d.ID, err))
		}
		metrics.DeliveriesTotal.WithLabelValues(model.DeliveryFailed.String()).Inc()
		w.publish(ctx, d, model.DeliveryFailed, sendErr.Error(), now)

		log.Warn("send failed",
			zap.String("delivery_id", d.ID),
			zap.Int("attempt", d.Attempts+1),
			zap.Error(sendErr))
		if errors.Is(sendErr, dispatcher.ErrRejected) {
			return jobqueue.Permanent(sendErr)
		}
		return sendErr
	}

	// 5) success
	ok, err := w.Store.MarkSent(ctx, d.ID, res.MessageID, now)
	if err != nil {
		// a retry re-sends with the same idempotency key
		return fmt.Errorf("mark sent %s: %w", d.ID, err)
	}
	if ok {
		metrics.DeliveriesTotal.WithLabelValues(model.DeliverySent.String()).Inc()
		w.publish(ctx, d, model.DeliverySent, "", now)
	}

	log.Info("email sent",
		zap.String("delivery_id", d.ID),
		zap.String("provider", res.Provider),
		zap.String("provider_message_id", res.MessageID))
	return nil
}

// publish is best effort: the ledger is the source of truth.
func (w *Sender) publish(ctx context.Context, d *model.DeliveryDetail, st model.DeliveryStatus, errMsg string, at time.Time) {
	if w.Events == nil {
		return
	}
	ectx, cancel := context.WithTimeout(ctx, w.EventTimeout)
	defer cancel()

	err := w.Events.Publish(ectx, model.DeliveryEvent{
		DeliveryID:   d.ID,
		PostID:       d.PostID,
		Slug:         d.Slug,
		SubscriberID: d.SubscriberID,
		Status:       st,
		Attempt:      d.Attempts + 1,
		Error:        errMsg,
		OccurredAt:   at,
	})
	if err != nil {
		w.Log.Warn("publish delivery event", zap.String("delivery_id", d.ID), zap.Error(err))
	}
}
