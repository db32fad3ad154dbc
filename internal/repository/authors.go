package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/jmoiron/sqlx"
)

type AuthorsRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Author, error)
	Upsert(ctx context.Context, a model.Author) error
}

type AuthorsRepositoryImpl struct {
	db *sqlx.DB
}

func NewAuthorsRepository(db *sqlx.DB) *AuthorsRepositoryImpl {
	return &AuthorsRepositoryImpl{db: db}
}

var _ AuthorsRepository = (*AuthorsRepositoryImpl)(nil)

// GetByAPIKey returns nil, nil when no author owns the key.
func (r *AuthorsRepositoryImpl) GetByAPIKey(ctx context.Context, apiKey string) (*model.Author, error) {
	var a model.Author
	err := r.db.GetContext(ctx, &a, `
		SELECT id, name, api_key, status, created_at, updated_at
		  FROM authors
		 WHERE api_key = ? LIMIT 1
	`, apiKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Upsert creates the author or refreshes name and status for an existing api key.
func (r *AuthorsRepositoryImpl) Upsert(ctx context.Context, a model.Author) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO authors (id, name, api_key, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE name = VALUES(name), status = VALUES(status), updated_at = VALUES(updated_at)
	`, a.ID, a.Name, a.APIKey, a.Status, a.CreatedAt, a.UpdatedAt)
	return err
}
