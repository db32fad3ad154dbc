package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/jmehdipour/newsletter/internal/util"
	"github.com/jmoiron/sqlx"
)

// insertChunk bounds the number of rows per multi-row INSERT.
const insertChunk = 500

const lastErrorMax = 1024

// DeliveriesRepository persists the delivery ledger.
type DeliveriesRepository interface {
	InsertPendingBatch(ctx context.Context, tx *sqlx.Tx, postID string, subscriberIDs []string, at time.Time) (int64, error)
	FindForSend(ctx context.Context, slug, subscriberID string) (*model.DeliveryDetail, error)
	MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, lastError string, at time.Time) (bool, error)
	CountsByPost(ctx context.Context, postID string) (model.DeliveryCounts, error)
}

type DeliveriesRepositoryImpl struct {
	db *sqlx.DB
}

func NewDeliveriesRepository(db *sqlx.DB) *DeliveriesRepositoryImpl {
	return &DeliveriesRepositoryImpl{db: db}
}

var _ DeliveriesRepository = (*DeliveriesRepositoryImpl)(nil)

// InsertPendingBatch writes one pending row per subscriber. Existing (post_id, subscriber_id)
// pairs are left untouched; the returned count only includes new rows.
func (r *DeliveriesRepositoryImpl) InsertPendingBatch(ctx context.Context, tx *sqlx.Tx, postID string, subscriberIDs []string, at time.Time) (int64, error) {
	var total int64
	for start := 0; start < len(subscriberIDs); start += insertChunk {
		end := start + insertChunk
		if end > len(subscriberIDs) {
			end = len(subscriberIDs)
		}
		n, err := r.insertPending(ctx, tx, postID, subscriberIDs[start:end], at)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *DeliveriesRepositoryImpl) insertPending(ctx context.Context, tx *sqlx.Tx, postID string, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(ids)*6)

	sb.WriteString(`INSERT INTO deliveries (id, post_id, subscriber_id, status, created_at, updated_at) VALUES `)
	for i, sid := range ids {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, 'pending', ?, ?)")
		args = append(args, util.NewIDAt(at), postID, sid, at, at)
	}
	sb.WriteString(` ON DUPLICATE KEY UPDATE id = id`)

	var ex sqlx.ExecerContext = r.db
	if tx != nil {
		ex = tx
	}
	res, err := ex.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FindForSend loads the delivery of (slug, subscriber) with the recipient email and
// post fields used by the template. It returns nil, nil when any side is missing.
func (r *DeliveriesRepositoryImpl) FindForSend(ctx context.Context, slug, subscriberID string) (*model.DeliveryDetail, error) {
	var d model.DeliveryDetail
	err := r.db.GetContext(ctx, &d, `
		SELECT d.id, d.post_id, d.subscriber_id, d.status, d.attempts, d.sent_at,
		       d.last_error, d.provider_message_id, d.created_at, d.updated_at,
		       s.email, p.slug, p.title, p.excerpt
		  FROM deliveries d
		  JOIN posts p       ON p.id = d.post_id
		  JOIN subscribers s ON s.id = d.subscriber_id
		 WHERE p.slug = ? AND d.subscriber_id = ?
		 LIMIT 1
	`, slug, subscriberID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// MarkSent records a successful send. Rows already sent are not touched and false is returned.
func (r *DeliveriesRepositoryImpl) MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) (bool, error) {
	var pmid *string
	if providerMessageID != "" {
		pmid = &providerMessageID
	}
	return r.transition(ctx, `
		UPDATE deliveries
		   SET status = 'sent', sent_at = ?, provider_message_id = ?, last_error = NULL,
		       attempts = attempts + 1, updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'failed')
	`, at, pmid, at, id)
}

// MarkFailed records a failed attempt with its error detail.
func (r *DeliveriesRepositoryImpl) MarkFailed(ctx context.Context, id, lastError string, at time.Time) (bool, error) {
	return r.transition(ctx, `
		UPDATE deliveries
		   SET status = 'failed', last_error = ?, attempts = attempts + 1, updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'failed')
	`, truncate(lastError, lastErrorMax), at, id)
}

func (r *DeliveriesRepositoryImpl) transition(ctx context.Context, q string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *DeliveriesRepositoryImpl) CountsByPost(ctx context.Context, postID string) (model.DeliveryCounts, error) {
	var rows []struct {
		Status model.DeliveryStatus `db:"status"`
		N      int64                `db:"n"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS n
		  FROM deliveries
		 WHERE post_id = ?
		 GROUP BY status
	`, postID)
	if err != nil {
		return model.DeliveryCounts{}, err
	}

	var c model.DeliveryCounts
	for _, row := range rows {
		switch row.Status {
		case model.DeliveryPending:
			c.Pending = row.N
		case model.DeliverySent:
			c.Sent = row.N
		case model.DeliveryFailed:
			c.Failed = row.N
		}
	}
	return c, nil
}
