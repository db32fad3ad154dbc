package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/segmentio/kafka-go"
)

// Producer publishes delivery events keyed by post id, so events of one post keep their order.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers []string, topic string, writeTimeout time.Duration) *Producer {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Producer{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           writeTimeout,
		AllowAutoTopicCreation: true,
	}}
}

func (p *Producer) Publish(ctx context.Context, e model.DeliveryEvent) error {
	msg, err := encode(e)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, msg)
}

func encode(e model.DeliveryEvent) (kafka.Message, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Key: []byte(e.PostID), Value: b, Time: e.OccurredAt}, nil
}

func (p *Producer) Close() error { return p.w.Close() }
