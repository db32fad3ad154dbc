package util

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID generates a new ULID string for posts, subscribers, deliveries and jobs.
func NewID() string {
	return NewIDAt(time.Now())
}

// NewIDAt generates a ULID whose timestamp part is t.
// IDs from the same millisecond stay sortable thanks to the shared monotonic reader.
func NewIDAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
