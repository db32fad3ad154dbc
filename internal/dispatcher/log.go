package dispatcher

import (
	"context"

	"github.com/jmehdipour/newsletter/internal/model"
	"go.uber.org/zap"
)

// LogProvider writes emails to the log instead of sending them (local development).
type LogProvider struct {
	name string
	log  *zap.Logger
}

func NewLogProvider(name string, log *zap.Logger) *LogProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogProvider{name: name, log: log}
}

func (p *LogProvider) Name() string { return p.name }

func (p *LogProvider) Send(_ context.Context, email model.Email) (string, error) {
	p.log.Info("email",
		zap.String("provider", p.name),
		zap.String("to", email.To),
		zap.String("subject", email.Subject),
		zap.String("idempotency_key", email.IdempotencyKey),
		zap.Int("html_bytes", len(email.HTML)))
	return "log-" + email.IdempotencyKey, nil
}
