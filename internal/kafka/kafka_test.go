package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeKeysByPost(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	msg, err := encode(model.DeliveryEvent{
		DeliveryID: "d1", PostID: "p1", Slug: "hello", SubscriberID: "s1",
		Status: model.DeliverySent, Attempt: 1, OccurredAt: at,
	})
	require.NoError(t, err)
	assert.Equal(t, "p1", string(msg.Key))
	assert.Equal(t, at, msg.Time)

	var back model.DeliveryEvent
	require.NoError(t, json.Unmarshal(msg.Value, &back))
	assert.Equal(t, "d1", back.DeliveryID)
	assert.Equal(t, model.DeliverySent, back.Status)
}

func TestNewConsumerDefaults(t *testing.T) {
	c := NewConsumer(Config{Brokers: []string{"127.0.0.1:9092"}, Topic: "events"})
	defer c.Close()

	cfg := c.r.Config()
	assert.Equal(t, 1<<10, cfg.MinBytes)
	assert.Equal(t, 10<<20, cfg.MaxBytes)
	assert.Equal(t, time.Second, cfg.CommitInterval)
	assert.Equal(t, 50*time.Millisecond, cfg.MaxWait)

	assert.NoError(t, c.Commit(context.Background()))
}

func TestReaderConfigKeepsOverrides(t *testing.T) {
	rc := Config{
		Brokers:        []string{"b1", "b2"},
		Topic:          "events",
		GroupID:        "sink",
		MinBytes:       64,
		CommitInterval: 250 * time.Millisecond,
	}.readerConfig()

	assert.Equal(t, []string{"b1", "b2"}, rc.Brokers)
	assert.Equal(t, "sink", rc.GroupID)
	assert.Equal(t, 64, rc.MinBytes)
	assert.Equal(t, 10<<20, rc.MaxBytes)
	assert.Equal(t, 250*time.Millisecond, rc.CommitInterval)
	assert.Equal(t, 50*time.Millisecond, rc.MaxWait)
}
