package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmehdipour/newsletter/internal/jobqueue"
	"github.com/jmoiron/sqlx"
)

// JobsRepository is the MySQL jobqueue.Store. Singleton uniqueness is enforced by the
// unique index on (queue, singleton_on), where singleton_on is a stored generated column
// that is NULL once a job reaches a terminal state.
type JobsRepository struct {
	db *sqlx.DB
}

func NewJobsRepository(db *sqlx.DB) *JobsRepository {
	return &JobsRepository{db: db}
}

var _ jobqueue.Store = (*JobsRepository)(nil)

const jobColumns = `id, queue, payload, singleton_key, state, retry_count, retry_limit, retry_delay,
		       retry_delay_max, retry_backoff, start_after, locked_by, locked_until, last_error,
		       created_at, completed_at`

const jobInsertPrefix = `INSERT INTO jobs
		(id, queue, payload, singleton_key, state, retry_count, retry_limit, retry_delay,
		 retry_delay_max, retry_backoff, start_after, created_at)
	VALUES `

const jobPlaceholders = "(?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)"

func jobArgs(j *jobqueue.Job) []any {
	return []any{
		j.ID, j.Queue, j.Payload, j.SingletonKey, j.State.String(), j.RetryLimit, j.RetryDelay,
		j.RetryDelayMax, j.RetryBackoff, j.StartAfter, j.CreatedAt,
	}
}

// Insert reports false when the singleton key is held by an outstanding job.
func (r *JobsRepository) Insert(ctx context.Context, job *jobqueue.Job) (bool, error) {
	n, err := r.InsertMany(ctx, []*jobqueue.Job{job})
	return n == 1, err
}

func (r *JobsRepository) InsertMany(ctx context.Context, jobs []*jobqueue.Job) (int64, error) {
	var total int64
	for start := 0; start < len(jobs); start += insertChunk {
		end := start + insertChunk
		if end > len(jobs) {
			end = len(jobs)
		}
		chunk := jobs[start:end]

		var sb strings.Builder
		args := make([]any, 0, len(chunk)*11)
		sb.WriteString(jobInsertPrefix)
		for i, j := range chunk {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(jobPlaceholders)
			args = append(args, jobArgs(j)...)
		}
		sb.WriteString(` ON DUPLICATE KEY UPDATE id = id`)

		res, err := r.db.ExecContext(ctx, sb.String(), args...)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Claim locks the oldest due job with SKIP LOCKED so concurrent consumers never share a row.
func (r *JobsRepository) Claim(ctx context.Context, queue, workerID string, now, lockUntil time.Time) (*jobqueue.Job, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var j jobqueue.Job
	err = tx.GetContext(ctx, &j, `
		SELECT `+jobColumns+`
		  FROM jobs
		 WHERE queue = ? AND state IN ('created', 'retry') AND start_after <= ?
		 ORDER BY start_after, id
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED
	`, queue, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET state = 'active', locked_by = ?, locked_until = ?
		 WHERE id = ?
	`, workerID, lockUntil, j.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	j.State = jobqueue.StateActive
	j.LockedBy = &workerID
	j.LockedUntil = &lockUntil
	return &j, nil
}

func (r *JobsRepository) Complete(ctx context.Context, id string, now time.Time) error {
	return r.finish(ctx, id, `
		UPDATE jobs SET state = 'completed', completed_at = ?, locked_by = NULL, locked_until = NULL
		 WHERE id = ? AND state = 'active'
	`, now, id)
}

func (r *JobsRepository) Retry(ctx context.Context, id, lastError string, startAfter time.Time) error {
	return r.finish(ctx, id, `
		UPDATE jobs
		   SET state = 'retry', retry_count = retry_count + 1, start_after = ?, last_error = ?,
		       locked_by = NULL, locked_until = NULL
		 WHERE id = ? AND state = 'active'
	`, startAfter, truncate(lastError, lastErrorMax), id)
}

func (r *JobsRepository) Bury(ctx context.Context, id, lastError string, now time.Time) error {
	return r.finish(ctx, id, `
		UPDATE jobs
		   SET state = 'failed', last_error = ?, completed_at = ?, locked_by = NULL, locked_until = NULL
		 WHERE id = ? AND state = 'active'
	`, truncate(lastError, lastErrorMax), now, id)
}

// finish runs a state change on an active job. Zero affected rows means the lock
// expired and the job was handed back to the queue.
func (r *JobsRepository) finish(ctx context.Context, id, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return jobqueue.ErrJobLost
	}
	return nil
}

func (r *JobsRepository) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	// retry_count is assigned last: MySQL applies SET left to right.
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		   SET state        = IF(retry_count >= retry_limit, 'failed', 'retry'),
		       completed_at = IF(retry_count >= retry_limit, ?, completed_at),
		       start_after  = IF(retry_count >= retry_limit, start_after, ?),
		       last_error   = ?,
		       locked_by    = NULL,
		       locked_until = NULL,
		       retry_count  = IF(retry_count >= retry_limit, retry_count, retry_count + 1)
		 WHERE state = 'active' AND locked_until <= ?
	`, now, now, jobqueue.LockExpiredMessage, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *JobsRepository) Get(ctx context.Context, id string) (*jobqueue.Job, error) {
	var j jobqueue.Job
	err := r.db.GetContext(ctx, &j, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobqueue.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *JobsRepository) ListDead(ctx context.Context, queue string, limit int) ([]jobqueue.Job, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	var out []jobqueue.Job
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+jobColumns+`
		  FROM jobs
		 WHERE queue = ? AND state = 'failed'
		 ORDER BY completed_at DESC, id DESC
		 LIMIT ?
	`, queue, limit)
	if err != nil {
		return nil, err
	}
	return out, nil
}
