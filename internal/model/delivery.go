package model

import "time"

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) Valid() bool {
	return s == DeliveryPending || s == DeliverySent || s == DeliveryFailed
}

// Sendable reports whether a delivery in this status may still be attempted.
func (s DeliveryStatus) Sendable() bool {
	return s == DeliveryPending || s == DeliveryFailed
}

// CanTransition reports whether the ledger allows s -> to.
// sent is terminal; failed may be retried into sent or failed again.
func (s DeliveryStatus) CanTransition(to DeliveryStatus) bool {
	if !s.Sendable() {
		return false
	}
	return to == DeliverySent || to == DeliveryFailed
}

// Delivery is one row of the delivery ledger, unique per (post_id, subscriber_id).
type Delivery struct {
	ID                string         `db:"id"                  json:"id"`
	PostID            string         `db:"post_id"             json:"post_id"`
	SubscriberID      string         `db:"subscriber_id"       json:"subscriber_id"`
	Status            DeliveryStatus `db:"status"              json:"status"`
	Attempts          int            `db:"attempts"            json:"attempts"`
	SentAt            *time.Time     `db:"sent_at"             json:"sent_at,omitempty"`
	LastError         *string        `db:"last_error"          json:"last_error,omitempty"`
	ProviderMessageID *string        `db:"provider_message_id" json:"provider_message_id,omitempty"`
	CreatedAt         time.Time      `db:"created_at"          json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"          json:"updated_at"`
}

// DeliveryDetail is a delivery joined with what the send worker needs to render the email.
type DeliveryDetail struct {
	Delivery
	Email   string `db:"email"`
	Slug    string `db:"slug"`
	Title   string `db:"title"`
	Excerpt string `db:"excerpt"`
}

// DeliveryCounts is the per-status summary of a post's ledger.
type DeliveryCounts struct {
	Pending int64 `json:"pending"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
}

func (c DeliveryCounts) Total() int64 { return c.Pending + c.Sent + c.Failed }
