package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/jmoiron/sqlx"
)

// PublishResult is what one publish transaction decided.
type PublishResult struct {
	Post      *model.Post
	Flipped   bool               // draft -> published happened in this transaction
	Audience  []model.Subscriber // subscribed snapshot
	NewLedger int64              // delivery rows created (duplicates excluded)
}

// ContentStore is everything the pipeline needs from the primary database.
type ContentStore interface {
	CreatePost(ctx context.Context, p model.Post) error
	GetPostBySlug(ctx context.Context, slug string) (*model.Post, error)
	CancelPost(ctx context.Context, id string, at time.Time) (bool, error)
	// PublishPost returns nil, nil when the post is missing or deleted.
	PublishPost(ctx context.Context, slug string, at time.Time) (*PublishResult, error)
	FindForSend(ctx context.Context, slug, subscriberID string) (*model.DeliveryDetail, error)
	MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, lastError string, at time.Time) (bool, error)
	DeliveryCounts(ctx context.Context, postID string) (model.DeliveryCounts, error)
}

// SQLContentStore composes the MySQL repositories.
type SQLContentStore struct {
	db          *sqlx.DB
	posts       PostsRepository
	subscribers SubscribersRepository
	deliveries  DeliveriesRepository
}

func NewSQLContentStore(db *sqlx.DB, posts PostsRepository, subs SubscribersRepository, dels DeliveriesRepository) *SQLContentStore {
	return &SQLContentStore{db: db, posts: posts, subscribers: subs, deliveries: dels}
}

var _ ContentStore = (*SQLContentStore)(nil)

func (s *SQLContentStore) CreatePost(ctx context.Context, p model.Post) error {
	return s.posts.Create(ctx, nil, p)
}

func (s *SQLContentStore) GetPostBySlug(ctx context.Context, slug string) (*model.Post, error) {
	return s.posts.GetBySlug(ctx, nil, slug)
}

func (s *SQLContentStore) CancelPost(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.posts.UpdateStatus(ctx, nil, id, model.PostStatusDeleted, at)
}

// PublishPost flips the post, snapshots the audience and writes the pending ledger in one transaction.
func (s *SQLContentStore) PublishPost(ctx context.Context, slug string, at time.Time) (*PublishResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// 1) post, locked against a concurrent cancel
	post, err := s.posts.GetBySlugForUpdate(ctx, tx, slug)
	if err != nil {
		return nil, fmt.Errorf("get post %q: %w", slug, err)
	}
	if post == nil || post.Status == model.PostStatusDeleted {
		return nil, nil
	}

	res := &PublishResult{Post: post}

	// 2) status flip, once
	if !post.IsPublished() {
		ok, err := s.posts.UpdateStatus(ctx, tx, post.ID, model.PostStatusPublished, at)
		if err != nil {
			return nil, fmt.Errorf("publish post %s: %w", post.ID, err)
		}
		if !ok {
			// left draft under us; nothing to fan out
			return nil, nil
		}
		res.Flipped = true
		post.Status = model.PostStatusPublished
		post.PublishedAt = &at
		post.UpdatedAt = at
	}

	// 3) audience snapshot
	subs, err := s.subscribers.ListSubscribed(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	res.Audience = subs

	// 4) pending ledger
	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ID)
	}
	n, err := s.deliveries.InsertPendingBatch(ctx, tx, post.ID, ids, at)
	if err != nil {
		return nil, fmt.Errorf("insert deliveries: %w", err)
	}
	res.NewLedger = n

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *SQLContentStore) FindForSend(ctx context.Context, slug, subscriberID string) (*model.DeliveryDetail, error) {
	return s.deliveries.FindForSend(ctx, slug, subscriberID)
}

func (s *SQLContentStore) MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) (bool, error) {
	return s.deliveries.MarkSent(ctx, id, providerMessageID, at)
}

func (s *SQLContentStore) MarkFailed(ctx context.Context, id, lastError string, at time.Time) (bool, error) {
	return s.deliveries.MarkFailed(ctx, id, lastError, at)
}

func (s *SQLContentStore) DeliveryCounts(ctx context.Context, postID string) (model.DeliveryCounts, error) {
	return s.deliveries.CountsByPost(ctx, postID)
}
