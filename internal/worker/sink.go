package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmehdipour/newsletter/internal/kafka"
	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/jmehdipour/newsletter/internal/repository"
	"go.uber.org/zap"
)

// EventSource is the Kafka side of the sink.
type EventSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// Sink copies delivery events from Kafka into ClickHouse with a size/time based flush.
// Offsets are committed only after the batch containing them is stored.
type Sink struct {
	Source EventSource
	Store  repository.CHDeliveriesRepository
	Log    *zap.Logger

	BatchSize int           // max buffered events per flush
	BatchWait time.Duration // max time to wait before flush
}

func NewSink(src EventSource, store repository.CHDeliveriesRepository, log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{Source: src, Store: store, Log: log, BatchSize: 500, BatchWait: time.Second}
}

// Run blocks until ctx is cancelled. Buffered events are flushed on the way out.
func (w *Sink) Run(ctx context.Context) error {
	if w.BatchSize <= 0 {
		w.BatchSize = 500
	}
	if w.BatchWait <= 0 {
		w.BatchWait = time.Second
	}

	msgCh := make(chan kafka.Message, w.BatchSize)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			m, err := w.Source.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.Log.Error("kafka fetch", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(200 * time.Millisecond):
				}
				continue
			}
			select {
			case msgCh <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	w.runBatchWriter(ctx, msgCh)
	return nil
}

func (w *Sink) runBatchWriter(ctx context.Context, in <-chan kafka.Message) {
	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	var (
		events []model.DeliveryEvent
		msgs   []kafka.Message
	)

	flush := func(ctx context.Context) bool {
		if len(msgs) == 0 {
			return true
		}
		if err := w.Store.InsertBatch(ctx, events); err != nil {
			w.Log.Error("clickhouse insert", zap.Int("events", len(events)), zap.Error(err))
			return false
		}
		if err := w.Source.Commit(ctx, msgs...); err != nil {
			// events are stored; a redelivery only duplicates report rows
			w.Log.Error("kafka commit", zap.Error(err))
		}
		w.Log.Debug("sink flushed", zap.Int("events", len(events)), zap.Int("messages", len(msgs)))
		events = events[:0]
		msgs = msgs[:0]
		return true
	}

	// src is nil while a failed batch waits for the next tick
	src := in
	for {
		select {
		case <-ctx.Done():
			flush(context.WithoutCancel(ctx))
			return

		case m, ok := <-src:
			if !ok {
				flush(context.WithoutCancel(ctx))
				return
			}
			var e model.DeliveryEvent
			if err := json.Unmarshal(m.Value, &e); err != nil || e.DeliveryID == "" {
				// poison: commit with the batch, store nothing
				w.Log.Warn("bad delivery event", zap.Int64("offset", m.Offset), zap.Error(err))
			} else {
				events = append(events, e)
			}
			msgs = append(msgs, m)

			if len(msgs) >= w.BatchSize && !flush(ctx) {
				src = nil
			}

		case <-tick.C:
			if flush(ctx) {
				src = in
			}
		}
	}
}
