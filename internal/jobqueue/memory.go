package jobqueue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps jobs in process memory. It is used by tests and by
// single-process demos; jobs are lost on restart.
type MemoryStore struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	singleton map[string]string // queue + "\x00" + key -> job id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]*Job),
		singleton: make(map[string]string),
	}
}

func singletonIndex(queue, key string) string { return queue + "\x00" + key }

func (s *MemoryStore) Insert(_ context.Context, job *Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(job), nil
}

func (s *MemoryStore) InsertMany(_ context.Context, jobs []*Job) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, j := range jobs {
		if s.insertLocked(j) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) insertLocked(job *Job) bool {
	if job.SingletonKey != nil {
		idx := singletonIndex(job.Queue, *job.SingletonKey)
		if _, held := s.singleton[idx]; held {
			return false
		}
		s.singleton[idx] = job.ID
	}
	cp := *job
	cp.Payload = append([]byte(nil), job.Payload...)
	s.jobs[job.ID] = &cp
	return true
}

func (s *MemoryStore) Claim(_ context.Context, queue, workerID string, now, lockUntil time.Time) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *Job
	for _, j := range s.jobs {
		if j.Queue != queue || !j.State.Claimable() || j.StartAfter.After(now) {
			continue
		}
		if next == nil || j.StartAfter.Before(next.StartAfter) ||
			(j.StartAfter.Equal(next.StartAfter) && j.ID < next.ID) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}

	by := workerID
	until := lockUntil
	next.State = StateActive
	next.LockedBy = &by
	next.LockedUntil = &until

	cp := *next
	return &cp, nil
}

func (s *MemoryStore) Complete(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.activeLocked(id)
	if err != nil {
		return err
	}
	j.State = StateCompleted
	j.CompletedAt = &now
	s.unlockLocked(j)
	s.releaseSingletonLocked(j)
	return nil
}

func (s *MemoryStore) Retry(_ context.Context, id, lastError string, startAfter time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.activeLocked(id)
	if err != nil {
		return err
	}
	j.State = StateRetry
	j.RetryCount++
	j.StartAfter = startAfter
	j.LastError = &lastError
	s.unlockLocked(j)
	return nil
}

func (s *MemoryStore) Bury(_ context.Context, id, lastError string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.activeLocked(id)
	if err != nil {
		return err
	}
	j.State = StateFailed
	j.LastError = &lastError
	j.CompletedAt = &now
	s.unlockLocked(j)
	s.releaseSingletonLocked(j)
	return nil
}

func (s *MemoryStore) ReleaseExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, j := range s.jobs {
		if j.State != StateActive || j.LockedUntil == nil || j.LockedUntil.After(now) {
			continue
		}
		msg := LockExpiredMessage
		j.LastError = &msg
		if j.Exhausted() {
			j.State = StateFailed
			at := now
			j.CompletedAt = &at
			s.releaseSingletonLocked(j)
		} else {
			j.State = StateRetry
			j.RetryCount++
			j.StartAfter = now
		}
		s.unlockLocked(j)
		n++
	}
	return n, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) ListDead(_ context.Context, queue string, limit int) ([]Job, error) {
	out := s.List(queue, StateFailed)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// List returns the jobs of queue in the given states (all states when none given), oldest first.
func (s *MemoryStore) List(queue string, states ...State) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0)
	for _, j := range s.jobs {
		if j.Queue != queue {
			continue
		}
		if len(states) > 0 && !hasState(states, j.State) {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func hasState(states []State, s State) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

// activeLocked returns the job when it is still held by a consumer.
func (s *MemoryStore) activeLocked(id string) (*Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if j.State != StateActive {
		return nil, ErrJobLost
	}
	return j, nil
}

func (s *MemoryStore) unlockLocked(j *Job) {
	j.LockedBy = nil
	j.LockedUntil = nil
}

func (s *MemoryStore) releaseSingletonLocked(j *Job) {
	if j.SingletonKey == nil {
		return
	}
	idx := singletonIndex(j.Queue, *j.SingletonKey)
	if s.singleton[idx] == j.ID {
		delete(s.singleton, idx)
	}
}
