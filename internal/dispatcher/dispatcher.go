package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jmehdipour/newsletter/internal/model"
)

var (
	ErrNoHealthy = fmt.Errorf("no healthy providers")
	ErrNoAcquire = fmt.Errorf("provider not acquired")
)

// Result identifies who accepted an email.
type Result struct {
	Provider  string
	MessageID string
}

// Dispatcher spreads sends round-robin over the providers whose breaker is closed.
// Every attempt of one Send carries the same idempotency key.
type Dispatcher struct {
	providers         []Provider
	roundRobinCounter atomic.Uint64
	maxAttempts       int
}

func NewDispatcher(provs []Provider, maxAttempts int) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 2
	}
	return &Dispatcher{providers: provs, maxAttempts: maxAttempts}
}

func (d *Dispatcher) Providers() []Provider { return d.providers }

func (d *Dispatcher) selectProvider() (Provider, error) {
	healthy := make([]Provider, 0, len(d.providers))
	for _, p := range d.providers {
		if p.Ready() {
			healthy = append(healthy, p)
		}
	}

	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}

	x := d.roundRobinCounter.Add(1)
	idx := int((x - 1) % uint64(len(healthy)))

	return healthy[idx], nil
}

func (d *Dispatcher) tryOnce(ctx context.Context, email model.Email) (Result, error) {
	p, err := d.selectProvider()
	if err != nil {
		return Result{}, err
	}

	if !p.Acquire() {
		return Result{}, ErrNoAcquire
	}

	id, err := p.Send(ctx, email)
	if err != nil {
		return Result{Provider: p.Name()}, err
	}
	return Result{Provider: p.Name(), MessageID: id}, nil
}

// Send tries up to maxAttempts providers. It only moves on when the previous provider
// provably did not take the email; a timeout or dropped connection may have delivered
// it, so those are left to the job retry.
func (d *Dispatcher) Send(ctx context.Context, email model.Email) (Result, error) {
	var last error
	for i := 0; i < d.maxAttempts; i++ {
		res, err := d.tryOnce(ctx, email)
		if err == nil {
			return res, nil
		}
		last = err
		if ctx.Err() != nil || !failoverSafe(err) {
			break
		}
	}

	if last == nil {
		last = fmt.Errorf("send email failed")
	}

	return Result{}, last
}

func failoverSafe(err error) bool {
	return errors.Is(err, ErrNotAccepted) || errors.Is(err, ErrNoAcquire)
}
