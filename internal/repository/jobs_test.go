package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmehdipour/newsletter/internal/jobqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobCols = []string{"id", "queue", "payload", "singleton_key", "state", "retry_count", "retry_limit",
	"retry_delay", "retry_delay_max", "retry_backoff", "start_after", "locked_by", "locked_until",
	"last_error", "created_at", "completed_at"}

func TestJobsInsertReportsSingletonDuplicate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobsRepository(db)

	key := "publish:p1"
	job := &jobqueue.Job{
		ID: "j1", Queue: "newsletter.publish-post", Payload: []byte(`{"slug":"hello"}`),
		SingletonKey: &key, State: jobqueue.StateCreated, RetryLimit: 5, RetryDelay: 10,
		RetryBackoff: true, StartAfter: testNow, CreatedAt: testNow,
	}

	q := regexp.QuoteMeta("INSERT INTO jobs")
	mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Insert(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Insert(context.Background(), job)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobsClaimLocksDueJob(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobsRepository(db)
	lockUntil := testNow.Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs("q", testNow).
		WillReturnRows(sqlmock.NewRows(jobCols).AddRow(
			"j1", "q", []byte(`{"slug":"hello"}`), nil, "created", 0, 5,
			10, 0, true, testNow, nil, nil,
			nil, testNow, nil,
		))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET state = 'active'")).
		WithArgs("worker-1", lockUntil, "j1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job, err := repo.Claim(context.Background(), "q", "worker-1", testNow, lockUntil)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobqueue.StateActive, job.State)
	assert.Equal(t, `{"slug":"hello"}`, string(job.Payload))
	assert.True(t, job.RetryBackoff)
	assert.Equal(t, 10*time.Second, job.Policy().Delay)
	require.NotNil(t, job.LockedBy)
	assert.Equal(t, "worker-1", *job.LockedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobsClaimEmptyQueue(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobsRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	job, err := repo.Claim(context.Background(), "q", "worker-1", testNow, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, job)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobsRetryOnLostLock(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobsRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("SET state = 'retry', retry_count = retry_count + 1")).
		WithArgs(testNow, "timeout", "j1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Retry(context.Background(), "j1", "timeout", testNow)
	assert.ErrorIs(t, err, jobqueue.ErrJobLost)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobsReleaseExpired(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobsRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("retry_count = IF(retry_count >= retry_limit, retry_count, retry_count + 1) WHERE state = 'active' AND locked_until <= ?")).
		WithArgs(testNow, testNow, jobqueue.LockExpiredMessage, testNow).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.ReleaseExpired(context.Background(), testNow)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobsListDeadDefaultsLimit(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobsRepository(db)
	msg := "boom"

	mock.ExpectQuery(regexp.QuoteMeta("WHERE queue = ? AND state = 'failed'")).
		WithArgs("newsletter.send-email", 50).
		WillReturnRows(sqlmock.NewRows(jobCols).AddRow(
			"j9", "newsletter.send-email", []byte(`{}`), nil, "failed", 10, 10,
			10, 0, true, testNow, nil, nil,
			msg, testNow, testNow,
		))

	dead, err := repo.ListDead(context.Background(), "newsletter.send-email", 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, jobqueue.StateFailed, dead[0].State)
	require.NotNil(t, dead[0].LastError)
	assert.Equal(t, msg, *dead[0].LastError)
	require.NoError(t, mock.ExpectationsWereMet())
}
