package dispatcher

import (
	"sync"
	"time"
)

type state int

const (
	closed state = iota
	halfOpen
	open
)

func (s state) String() string {
	switch s {
	case open:
		return "open"
	case halfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// MicroBreaker opens after failThreshold consecutive failures and lets a single
// probe through once openFor has elapsed.
type MicroBreaker struct {
	mu            sync.Mutex
	st            state
	fails         int
	failThreshold int
	openFor       time.Duration
	reopenAt      time.Time
	probing       bool

	now      func() time.Time
	onChange func(to state)
}

func NewMicroBreaker(threshold int, openFor time.Duration) *MicroBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if openFor <= 0 {
		openFor = 15 * time.Second
	}
	return &MicroBreaker{failThreshold: threshold, openFor: openFor, now: time.Now}
}

func (b *MicroBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.String()
}

// probeDueLocked: an open breaker may let one probe through once its timer ran out.
func (b *MicroBreaker) probeDueLocked() bool {
	return !b.probing && (b.st == halfOpen || !b.now().Before(b.reopenAt))
}

func (b *MicroBreaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.st == closed {
		return true
	}
	return b.probeDueLocked()
}

// TryAcquire reserves the single half-open probe; closed breakers always pass.
func (b *MicroBreaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.st == closed {
		return true
	}
	if !b.probeDueLocked() {
		return false
	}
	b.probing = true
	b.setLocked(halfOpen)
	return true
}

func (b *MicroBreaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fails = 0
	b.probing = false
	b.setLocked(closed)
}

func (b *MicroBreaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fails++
	if b.st == halfOpen || b.fails >= b.failThreshold {
		b.probing = false
		b.reopenAt = b.now().Add(b.openFor)
		b.setLocked(open)
	}
}

func (b *MicroBreaker) setLocked(to state) {
	if b.st == to {
		return
	}
	b.st = to
	if b.onChange != nil {
		b.onChange(to)
	}
}
