package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/jmoiron/sqlx"
)

// PostsRepository persists the posts table.
// Methods taking a *sqlx.Tx run inside it; a nil tx uses the pool.
type PostsRepository interface {
	Create(ctx context.Context, tx *sqlx.Tx, p model.Post) error
	GetBySlug(ctx context.Context, tx *sqlx.Tx, slug string) (*model.Post, error)
	GetBySlugForUpdate(ctx context.Context, tx *sqlx.Tx, slug string) (*model.Post, error)
	UpdateStatus(ctx context.Context, tx *sqlx.Tx, id string, to model.PostStatus, at time.Time) (bool, error)
}

type PostsRepositoryImpl struct {
	db *sqlx.DB
}

func NewPostsRepository(db *sqlx.DB) *PostsRepositoryImpl {
	return &PostsRepositoryImpl{db: db}
}

var _ PostsRepository = (*PostsRepositoryImpl)(nil)

const postColumns = `id, slug, title, excerpt, content, category, read_time, status,
		       schedule_at, published_at, created_at, updated_at`

func (r *PostsRepositoryImpl) ext(tx *sqlx.Tx) sqlx.ExtContext {
	if tx != nil {
		return tx
	}
	return r.db
}

// Create inserts a post. A slug collision returns ErrDuplicate.
func (r *PostsRepositoryImpl) Create(ctx context.Context, tx *sqlx.Tx, p model.Post) error {
	const q = `
		INSERT INTO posts
		    (id, slug, title, excerpt, content, category, read_time, status, schedule_at, published_at, created_at, updated_at)
		VALUES
		    (?,  ?,    ?,     ?,       ?,       ?,        ?,         ?,      ?,           ?,            ?,          ?)
	`
	_, err := r.ext(tx).ExecContext(ctx, q,
		p.ID, p.Slug, p.Title, p.Excerpt, p.Content, p.Category, p.ReadTime, p.Status.String(),
		p.ScheduleAt, p.PublishedAt, p.CreatedAt, p.UpdatedAt,
	)
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}

// GetBySlug returns nil, nil when the slug is unknown.
func (r *PostsRepositoryImpl) GetBySlug(ctx context.Context, tx *sqlx.Tx, slug string) (*model.Post, error) {
	return r.getBySlug(ctx, r.ext(tx), `SELECT `+postColumns+` FROM posts WHERE slug = ? LIMIT 1`, slug)
}

// GetBySlugForUpdate row-locks the post until tx ends, so a concurrent cancel waits for the publish.
func (r *PostsRepositoryImpl) GetBySlugForUpdate(ctx context.Context, tx *sqlx.Tx, slug string) (*model.Post, error) {
	if tx == nil {
		return nil, errors.New("posts: locking read needs a transaction")
	}
	return r.getBySlug(ctx, tx, `SELECT `+postColumns+` FROM posts WHERE slug = ? LIMIT 1 FOR UPDATE`, slug)
}

func (r *PostsRepositoryImpl) getBySlug(ctx context.Context, q sqlx.QueryerContext, query, slug string) (*model.Post, error) {
	var p model.Post
	err := sqlx.GetContext(ctx, q, &p, query, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateStatus moves a draft post to published (stamping published_at) or deleted.
// It reports false when the post was not a draft, so published_at is written exactly once.
func (r *PostsRepositoryImpl) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id string, to model.PostStatus, at time.Time) (bool, error) {
	var (
		res sql.Result
		err error
	)
	switch to {
	case model.PostStatusPublished:
		res, err = r.ext(tx).ExecContext(ctx, `
			UPDATE posts SET status = 'published', published_at = ?, updated_at = ?
			 WHERE id = ? AND status = 'draft'
		`, at, at, id)
	case model.PostStatusDeleted:
		res, err = r.ext(tx).ExecContext(ctx, `
			UPDATE posts SET status = 'deleted', updated_at = ?
			 WHERE id = ? AND status = 'draft'
		`, at, id)
	default:
		return false, fmt.Errorf("posts: unsupported status transition to %q", to)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
