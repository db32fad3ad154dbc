package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/jmoiron/sqlx"
)

type SubscribersRepository interface {
	Create(ctx context.Context, s model.Subscriber) error
	GetByEmail(ctx context.Context, email string) (*model.Subscriber, error)
	SetSubscribed(ctx context.Context, email string, subscribed bool, at time.Time) (bool, error)
	ListSubscribed(ctx context.Context, tx *sqlx.Tx) ([]model.Subscriber, error)
}

type SubscribersRepositoryImpl struct {
	db *sqlx.DB
}

func NewSubscribersRepository(db *sqlx.DB) *SubscribersRepositoryImpl {
	return &SubscribersRepositoryImpl{db: db}
}

var _ SubscribersRepository = (*SubscribersRepositoryImpl)(nil)

// Create inserts a subscriber. An existing email returns ErrDuplicate.
func (r *SubscribersRepositoryImpl) Create(ctx context.Context, s model.Subscriber) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscribers (id, email, subscribed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.ID, s.Email, s.Subscribed, s.CreatedAt, s.UpdatedAt)
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}

// GetByEmail returns nil, nil for an unknown email.
func (r *SubscribersRepositoryImpl) GetByEmail(ctx context.Context, email string) (*model.Subscriber, error) {
	var s model.Subscriber
	err := r.db.GetContext(ctx, &s, `
		SELECT id, email, subscribed, created_at, updated_at
		  FROM subscribers
		 WHERE email = ? LIMIT 1
	`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SetSubscribed flips the flag and reports whether a row changed.
func (r *SubscribersRepositoryImpl) SetSubscribed(ctx context.Context, email string, subscribed bool, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscribers SET subscribed = ?, updated_at = ?
		 WHERE email = ? AND subscribed <> ?
	`, subscribed, at, email, subscribed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListSubscribed reads the current audience. Inside the publish transaction this is the snapshot.
func (r *SubscribersRepositoryImpl) ListSubscribed(ctx context.Context, tx *sqlx.Tx) ([]model.Subscriber, error) {
	var q sqlx.QueryerContext = r.db
	if tx != nil {
		q = tx
	}
	var out []model.Subscriber
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT id, email, subscribed, created_at, updated_at
		  FROM subscribers
		 WHERE subscribed = TRUE
		 ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	return out, nil
}
