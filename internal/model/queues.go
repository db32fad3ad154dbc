package model

import "time"

const (
	QueuePublishPost = "newsletter.publish-post"
	QueueSendEmail   = "newsletter.send-email"
)

// PublishSingletonKey dedups publish jobs of a post. Scheduled publishes include the
// target time so a rescheduled post gets its own job.
func PublishSingletonKey(postID string, scheduleAt *time.Time) string {
	if scheduleAt == nil {
		return "publish:" + postID
	}
	return "publish:" + postID + ":" + scheduleAt.UTC().Format(time.RFC3339)
}

// SendSingletonKey allows one outstanding send job per (post, subscriber).
func SendSingletonKey(slug, subscriberID string) string {
	return "send:" + slug + ":" + subscriberID
}

// IdempotencyKey is handed to the email provider; retries of one delivery reuse it.
func IdempotencyKey(deliveryID string) string {
	return "delivery-" + deliveryID
}
