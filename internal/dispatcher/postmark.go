package dispatcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/mrz1836/postmark"
)

// Postmark API error codes that reject the message itself.
// 300 invalid email request, 406 inactive recipient.
var postmarkRejectCodes = map[int64]bool{300: true, 406: true}

// PostmarkProvider sends through the Postmark transactional API.
type PostmarkProvider struct {
	name    string
	from    string
	replyTo string
	client  *postmark.Client
}

func NewPostmarkProvider(name, serverToken, accountToken, from, replyTo string, timeoutMs int) *PostmarkProvider {
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}
	c := postmark.NewClient(serverToken, accountToken)
	c.HTTPClient = &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond}

	return &PostmarkProvider{name: name, from: from, replyTo: replyTo, client: c}
}

// WithBaseURL points the client at another API root (sandbox or tests).
func (p *PostmarkProvider) WithBaseURL(u string) *PostmarkProvider {
	p.client.BaseURL = u
	return p
}

func (p *PostmarkProvider) Name() string { return p.name }

func (p *PostmarkProvider) Send(ctx context.Context, email model.Email) (string, error) {
	msg := postmark.Email{
		From:       p.from,
		ReplyTo:    p.replyTo,
		To:         email.To,
		Subject:    email.Subject,
		Tag:        email.Tag,
		HTMLBody:   email.HTML,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	}
	// Postmark has no request deduplication; the key only travels with the message.
	if email.IdempotencyKey != "" {
		msg.Headers = []postmark.Header{{Name: "X-Idempotency-Key", Value: email.IdempotencyKey}}
		msg.Metadata = map[string]string{"idempotency_key": email.IdempotencyKey}
	}

	// the API error code may come back alongside a non-nil err
	resp, err := p.client.SendEmail(ctx, msg)
	if resp.ErrorCode > 0 {
		if postmarkRejectCodes[resp.ErrorCode] {
			return "", fmt.Errorf("%w: provider=%s postmark %d - %s", ErrRejected, p.name, resp.ErrorCode, resp.Message)
		}
		return "", fmt.Errorf("%w: provider=%s postmark %d - %s", ErrNotAccepted, p.name, resp.ErrorCode, resp.Message)
	}
	if err != nil {
		return "", fmt.Errorf("provider=%s: %w", p.name, err)
	}
	return resp.MessageID, nil
}
