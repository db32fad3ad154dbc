package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/jmoiron/sqlx"
)

// CHDeliveriesRepository stores delivery events in ClickHouse for reporting.
type CHDeliveriesRepository interface {
	InsertBatch(ctx context.Context, events []model.DeliveryEvent) error
	ListByPost(ctx context.Context, slug string, status model.DeliveryStatus, limit, offset int) ([]DeliveryEventRow, error)
}

// DeliveryEventRow is one row of newsletter.delivery_events.
type DeliveryEventRow struct {
	DeliveryID   string    `db:"delivery_id"   json:"delivery_id"`
	PostID       string    `db:"post_id"       json:"post_id"`
	Slug         string    `db:"slug"          json:"slug"`
	SubscriberID string    `db:"subscriber_id" json:"subscriber_id"`
	Status       string    `db:"status"        json:"status"`
	Attempt      uint32    `db:"attempt"       json:"attempt"`
	Error        string    `db:"error"         json:"error,omitempty"`
	OccurredAt   time.Time `db:"occurred_at"   json:"occurred_at"`
}

type chDeliveriesRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHDeliveriesRepository(ch *sqlx.DB) CHDeliveriesRepository {
	return &chDeliveriesRepository{ch: ch}
}

// InsertBatch sends all events as one ClickHouse block (prepared insert inside a tx).
func (r *chDeliveriesRepository) InsertBatch(ctx context.Context, events []model.DeliveryEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO newsletter.delivery_events
		    (delivery_id, post_id, slug, subscriber_id, status, attempt, error, occurred_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.DeliveryID, e.PostID, e.Slug, e.SubscriberID, e.Status.String(),
			uint32(e.Attempt), e.Error, e.OccurredAt.UTC(),
		); err != nil {
			return fmt.Errorf("append %s: %w", e.DeliveryID, err)
		}
	}
	return tx.Commit()
}

func (r *chDeliveriesRepository) ListByPost(ctx context.Context, slug string, status model.DeliveryStatus, limit, offset int) ([]DeliveryEventRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT delivery_id, post_id, slug, subscriber_id, status, attempt, error, occurred_at
		FROM newsletter.delivery_events
		WHERE slug = ?
	`
	args := []any{slug}

	if status != "" {
		q += " AND status = ?"
		args = append(args, status.String())
	}

	q += " ORDER BY occurred_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []DeliveryEventRow
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
