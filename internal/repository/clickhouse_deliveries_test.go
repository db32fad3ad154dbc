package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCHInsertBatchPreparesOneBlock(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCHDeliveriesRepository(db)

	events := []model.DeliveryEvent{
		{DeliveryID: "d1", PostID: "p1", Slug: "hello", SubscriberID: "s1", Status: model.DeliverySent, Attempt: 1, OccurredAt: testNow},
		{DeliveryID: "d2", PostID: "p1", Slug: "hello", SubscriberID: "s2", Status: model.DeliveryFailed, Attempt: 2, Error: "boom", OccurredAt: testNow},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO newsletter.delivery_events"))
	prep.ExpectExec().
		WithArgs("d1", "p1", "hello", "s1", "sent", sqlmock.AnyArg(), "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("d2", "p1", "hello", "s2", "failed", sqlmock.AnyArg(), "boom", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.InsertBatch(context.Background(), events))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCHInsertBatchEmptyIsNoop(t *testing.T) {
	db, mock := newMock(t)
	require.NoError(t, NewCHDeliveriesRepository(db).InsertBatch(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCHListByPostFiltersStatus(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCHDeliveriesRepository(db)

	cols := []string{"delivery_id", "post_id", "slug", "subscriber_id", "status", "attempt", "error", "occurred_at"}
	mock.ExpectQuery(regexp.QuoteMeta("AND status = ? ORDER BY occurred_at DESC LIMIT ? OFFSET ?")).
		WithArgs("hello", "failed", 50, 0).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("d2", "p1", "hello", "s2", "failed", 2, "boom", testNow))

	rows, err := repo.ListByPost(context.Background(), "hello", model.DeliveryFailed, 0, -5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "d2", rows[0].DeliveryID)
	assert.Equal(t, uint32(2), rows[0].Attempt)
	assert.Equal(t, testNow, rows[0].OccurredAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
