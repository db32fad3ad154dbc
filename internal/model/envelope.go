package model

import "time"

// PublishPayload is the payload of newsletter.publish-post jobs.
type PublishPayload struct {
	Slug string `json:"slug"`
}

// SendPayload is the payload of newsletter.send-email jobs.
type SendPayload struct {
	Slug         string `json:"slug"`
	SubscriberID string `json:"subscriber_id"`
}

// DeliveryEvent is published to Kafka after every ledger transition made by the send worker.
type DeliveryEvent struct {
	DeliveryID   string         `json:"delivery_id"`
	PostID       string         `json:"post_id"`
	Slug         string         `json:"slug"`
	SubscriberID string         `json:"subscriber_id"`
	Status       DeliveryStatus `json:"status"`
	Attempt      int            `json:"attempt"`
	Error        string         `json:"error,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}
