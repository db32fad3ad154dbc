package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config is shared by the producer and the consumer. Zero reader knobs fall back
// to values sized for small delivery-event payloads.
type Config struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int
	MaxBytes       int
	CommitInterval time.Duration
	MaxWait        time.Duration
}

func (c Config) readerConfig() kafka.ReaderConfig {
	rc := kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       1 << 10,
		MaxBytes:       10 << 20,
		CommitInterval: time.Second,
		MaxWait:        50 * time.Millisecond,
	}
	if c.MinBytes > 0 {
		rc.MinBytes = c.MinBytes
	}
	if c.MaxBytes > 0 {
		rc.MaxBytes = c.MaxBytes
	}
	if c.CommitInterval > 0 {
		rc.CommitInterval = c.CommitInterval
	}
	if c.MaxWait > 0 {
		rc.MaxWait = c.MaxWait
	}
	return rc
}

type Message = kafka.Message

// Consumer feeds the ClickHouse sink. Offsets only move on Commit, after a batch is stored.
type Consumer struct {
	r *kafka.Reader
}

func NewConsumer(c Config) *Consumer {
	return &Consumer{r: kafka.NewReader(c.readerConfig())}
}

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return c.r.CommitMessages(ctx, msgs...)
}

func (c *Consumer) Close() error { return c.r.Close() }
