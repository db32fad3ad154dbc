package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jmehdipour/newsletter/internal/metrics"
	"github.com/jmehdipour/newsletter/internal/model"
)

// ErrRejected wraps provider answers that refuse the message itself (bad recipient,
// suppressed address). Retrying the same email will not help.
var ErrRejected = errors.New("email rejected by provider")

// ErrNotAccepted wraps provider answers that did not take the message (5xx, 408, 429,
// API error codes). Handing the email to another provider cannot send it twice.
var ErrNotAccepted = errors.New("email not accepted by provider")

// Sender is a raw email transport.
type Sender interface {
	Name() string
	// Send delivers one email and returns the provider's message id.
	Send(ctx context.Context, email model.Email) (string, error)
}

// Provider is a Sender guarded by a circuit breaker.
type Provider interface {
	Sender
	Ready() bool
	Acquire() bool
}

type guarded struct {
	Sender
	br *MicroBreaker
}

// Guard puts s behind a MicroBreaker. Rejections count as a healthy answer.
// State changes are exported as newsletter_provider_breaker_state.
func Guard(s Sender, failThreshold int, openFor time.Duration) Provider {
	br := NewMicroBreaker(failThreshold, openFor)
	gauge := metrics.ProviderBreakerState.WithLabelValues(s.Name())
	gauge.Set(float64(closed))
	br.onChange = func(to state) { gauge.Set(float64(to)) }
	return &guarded{Sender: s, br: br}
}

func (g *guarded) Ready() bool   { return g.br.Ready() }
func (g *guarded) Acquire() bool { return g.br.TryAcquire() }

func (g *guarded) Send(ctx context.Context, email model.Email) (string, error) {
	id, err := g.Sender.Send(ctx, email)
	if err != nil && !errors.Is(err, ErrRejected) {
		g.br.OnFailure()
		return "", err
	}
	g.br.OnSuccess()
	return id, err
}

// HTTPProvider posts the email as JSON to a generic relay endpoint.
type HTTPProvider struct {
	name    string
	baseURL string
	path    string
	token   string
	client  *http.Client
}

func NewHTTPProvider(name, baseURL, path, token string, timeoutMs int) *HTTPProvider {
	if timeoutMs <= 0 {
		timeoutMs = 3000
	}
	if path == "" {
		path = "/v1/email"
	}

	return &HTTPProvider{
		name:    name,
		baseURL: baseURL,
		path:    path,
		token:   token,
		client:  &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
	}
}

func (p *HTTPProvider) Name() string { return p.name }

type relayResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

func (p *HTTPProvider) Send(ctx context.Context, email model.Email) (string, error) {
	b, err := json.Marshal(email)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.path, bytes.NewReader(b))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	if email.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", email.IdempotencyKey)
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	var rr relayResponse
	_ = json.Unmarshal(body, &rr)

	switch {
	case res.StatusCode/100 == 2:
		return rr.MessageID, nil
	case res.StatusCode/100 == 4 && res.StatusCode != http.StatusRequestTimeout && res.StatusCode != http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: provider=%s status=%d %s", ErrRejected, p.name, res.StatusCode, rr.Error)
	default:
		return "", fmt.Errorf("%w: provider=%s status=%d %s", ErrNotAccepted, p.name, res.StatusCode, rr.Error)
	}
}
