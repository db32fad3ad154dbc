// Package jobqueue is a durable, table-backed task queue: delayed jobs, at-least-once
// delivery to polling consumers, per-job retry with exponential backoff, singleton keys
// and a dead state for jobs that exhausted their retries.
package jobqueue

import (
	"context"
	"errors"
	"time"
)

type State string

const (
	StateCreated   State = "created"
	StateRetry     State = "retry"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed" // dead: retries exhausted or permanent error
)

func (s State) String() string { return string(s) }

// Claimable reports whether a consumer may pick up a job in this state.
func (s State) Claimable() bool { return s == StateCreated || s == StateRetry }

// Terminal states release the singleton key.
func (s State) Terminal() bool { return s == StateCompleted || s == StateFailed }

var (
	ErrDuplicateJob = errors.New("job with the same singleton key is already queued")
	ErrPayloadNil   = errors.New("payload cannot be nil")
	ErrEmptyQueue   = errors.New("queue name cannot be empty")
	ErrNoHandler    = errors.New("consumer has no handler")
	ErrJobNotFound  = errors.New("job not found")
	ErrJobLost      = errors.New("job is no longer active")
)

// Job is one row of the jobs table.
type Job struct {
	ID            string     `db:"id"              json:"id"`
	Queue         string     `db:"queue"           json:"queue"`
	Payload       []byte     `db:"payload"         json:"payload"`
	SingletonKey  *string    `db:"singleton_key"   json:"singleton_key,omitempty"`
	State         State      `db:"state"           json:"state"`
	RetryCount    int        `db:"retry_count"     json:"retry_count"`
	RetryLimit    int        `db:"retry_limit"     json:"retry_limit"`
	RetryDelay    int        `db:"retry_delay"     json:"retry_delay"`     // seconds
	RetryDelayMax int        `db:"retry_delay_max" json:"retry_delay_max"` // seconds, 0 = uncapped
	RetryBackoff  bool       `db:"retry_backoff"   json:"retry_backoff"`
	StartAfter    time.Time  `db:"start_after"     json:"start_after"`
	LockedBy      *string    `db:"locked_by"       json:"locked_by,omitempty"`
	LockedUntil   *time.Time `db:"locked_until"    json:"locked_until,omitempty"`
	LastError     *string    `db:"last_error"      json:"last_error,omitempty"`
	CreatedAt     time.Time  `db:"created_at"      json:"created_at"`
	CompletedAt   *time.Time `db:"completed_at"    json:"completed_at,omitempty"`
}

// Policy rebuilds the retry policy the job was enqueued with.
func (j *Job) Policy() RetryPolicy {
	return RetryPolicy{
		Limit:    j.RetryLimit,
		Delay:    time.Duration(j.RetryDelay) * time.Second,
		Backoff:  j.RetryBackoff,
		MaxDelay: time.Duration(j.RetryDelayMax) * time.Second,
	}
}

// Exhausted reports whether another failure must bury the job.
func (j *Job) Exhausted() bool { return j.RetryCount >= j.RetryLimit }

// RetryPolicy controls how many times a failed job is retried and how long to wait.
// Limit counts retries after the first attempt.
type RetryPolicy struct {
	Limit    int
	Delay    time.Duration
	Backoff  bool
	MaxDelay time.Duration
}

// DefaultRetryPolicy is used when the caller does not pass one.
var DefaultRetryPolicy = RetryPolicy{Limit: 3, Delay: 10 * time.Second, Backoff: true, MaxDelay: time.Hour}

// DelayFor returns the wait before retry number n (1-based).
// With Backoff the delay doubles on every retry: Delay, 2*Delay, 4*Delay...
func (p RetryPolicy) DelayFor(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.Delay
	if p.Backoff {
		for i := 1; i < n; i++ {
			d *= 2
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Store persists jobs. Implementations must make Claim atomic across consumers
// and keep at most one non-terminal job per (queue, singleton key).
type Store interface {
	// Insert returns false when an outstanding job holds the same singleton key.
	Insert(ctx context.Context, job *Job) (bool, error)
	// InsertMany skips singleton duplicates and returns the number of inserted jobs.
	InsertMany(ctx context.Context, jobs []*Job) (int64, error)
	// Claim locks the next due job of queue until lockUntil. It returns nil, nil when nothing is due.
	Claim(ctx context.Context, queue, workerID string, now, lockUntil time.Time) (*Job, error)
	Complete(ctx context.Context, id string, now time.Time) error
	// Retry increments the retry count and makes the job due again at startAfter.
	Retry(ctx context.Context, id, lastError string, startAfter time.Time) error
	// Bury marks the job dead; it stays inspectable through ListDead.
	Bury(ctx context.Context, id, lastError string, now time.Time) error
	// ReleaseExpired hands active jobs whose lock expired back to the queue. Each release
	// counts as a retry; a job with no retries left is buried instead.
	ReleaseExpired(ctx context.Context, now time.Time) (int64, error)
	Get(ctx context.Context, id string) (*Job, error)
	ListDead(ctx context.Context, queue string, limit int) ([]Job, error)
}

// LockExpiredMessage is recorded on jobs released by ReleaseExpired.
const LockExpiredMessage = "lock expired before the job finished"

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying: the consumer buries the job at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
