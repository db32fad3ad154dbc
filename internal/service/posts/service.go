package posts

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jmehdipour/newsletter/internal/jobqueue"
	"github.com/jmehdipour/newsletter/internal/metrics"
	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/jmehdipour/newsletter/internal/repository"
	"github.com/jmehdipour/newsletter/internal/util"
	"go.uber.org/zap"
)

var (
	ErrSlugTaken      = errors.New("slug already taken")
	ErrInvalidPost    = errors.New("invalid post")
	ErrNotFound       = errors.New("post not found")
	ErrNotCancellable = errors.New("only scheduled drafts can be cancelled")
	ErrAlreadyQueued  = errors.New("publish job already queued")
)

var slugRe = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Service owns the authoring side of the pipeline: it stores a post and decides
// whether the publish job runs now or at schedule_at.
type Service struct {
	store        repository.ContentStore
	queue        *jobqueue.Client
	log          *zap.Logger
	publishRetry jobqueue.RetryPolicy

	Now func() time.Time
}

func New(store repository.ContentStore, queue *jobqueue.Client, log *zap.Logger, publishRetry jobqueue.RetryPolicy) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, queue: queue, log: log, publishRetry: publishRetry, Now: time.Now}
}

// Created is the outcome of Create.
type Created struct {
	Post      model.Post
	JobID     string
	Scheduled bool
}

func validate(in model.NewPost) error {
	switch {
	case !slugRe.MatchString(in.Slug):
		return fmt.Errorf("%w: slug must be lowercase words joined by dashes", ErrInvalidPost)
	case in.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidPost)
	case in.Content == "":
		return fmt.Errorf("%w: content is required", ErrInvalidPost)
	}
	return nil
}

// Create stores the post and enqueues its publish job.
// schedule_at absent or not after now publishes immediately; otherwise the post
// stays a draft and the job starts at schedule_at.
func (s *Service) Create(ctx context.Context, in model.NewPost) (*Created, error) {
	in.Normalize()
	if err := validate(in); err != nil {
		return nil, err
	}

	existing, err := s.store.GetPostBySlug(ctx, in.Slug)
	if err != nil {
		return nil, fmt.Errorf("check slug: %w", err)
	}
	if existing != nil {
		return nil, ErrSlugTaken
	}

	now := s.Now().UTC()
	post := model.Post{
		ID:         util.NewIDAt(now),
		Slug:       in.Slug,
		Title:      in.Title,
		Excerpt:    in.Excerpt,
		Content:    in.Content,
		Category:   in.Category,
		ReadTime:   in.ReadTime,
		ScheduleAt: in.ScheduleAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	scheduled := in.ScheduleAt != nil && in.ScheduleAt.After(now)
	var due *time.Time
	if scheduled {
		at := in.ScheduleAt.UTC()
		post.ScheduleAt = &at
		post.Status = model.PostStatusDraft
		due = &at
	} else {
		post.Status = model.PostStatusPublished
		post.PublishedAt = &now
	}
	opts := s.publishOpts(post.ID, due)

	if err := s.store.CreatePost(ctx, post); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrSlugTaken
		}
		return nil, fmt.Errorf("create post: %w", err)
	}

	jobID, err := s.queue.Enqueue(ctx, model.QueuePublishPost, model.PublishPayload{Slug: post.Slug}, opts...)
	if err != nil && !errors.Is(err, jobqueue.ErrDuplicateJob) {
		s.log.Error("post stored but publish job not enqueued",
			zap.String("post_id", post.ID), zap.String("slug", post.Slug), zap.Error(err))
		return nil, fmt.Errorf("enqueue publish: %w", err)
	}

	mode := "immediate"
	if scheduled {
		mode = "scheduled"
	}
	metrics.PostsTotal.WithLabelValues(mode).Inc()
	s.log.Info("post created",
		zap.String("post_id", post.ID),
		zap.String("slug", post.Slug),
		zap.String("mode", mode),
		zap.String("job_id", jobID))

	return &Created{Post: post, JobID: jobID, Scheduled: scheduled}, nil
}

// publishOpts starts the job at due, or now when due is nil.
func (s *Service) publishOpts(postID string, due *time.Time) []jobqueue.EnqueueOption {
	opts := []jobqueue.EnqueueOption{
		jobqueue.WithRetryPolicy(s.publishRetry),
		jobqueue.WithSingletonKey(model.PublishSingletonKey(postID, due)),
	}
	if due != nil {
		opts = append(opts, jobqueue.WithStartAfter(*due))
	}
	return opts
}

// Requeue enqueues the publish job of an existing post again, e.g. after Create
// stored the post but failed to enqueue. A draft still scheduled in the future keeps
// its schedule. ErrAlreadyQueued means a publish job for the post is outstanding.
func (s *Service) Requeue(ctx context.Context, slug string) (string, error) {
	p, err := s.Get(ctx, slug)
	if err != nil {
		return "", err
	}

	var due *time.Time
	if !p.IsPublished() && p.ScheduleAt != nil && p.ScheduleAt.After(s.Now()) {
		at := p.ScheduleAt.UTC()
		due = &at
	}

	jobID, err := s.queue.Enqueue(ctx, model.QueuePublishPost, model.PublishPayload{Slug: p.Slug}, s.publishOpts(p.ID, due)...)
	if errors.Is(err, jobqueue.ErrDuplicateJob) {
		return "", ErrAlreadyQueued
	}
	if err != nil {
		return "", fmt.Errorf("enqueue publish: %w", err)
	}
	s.log.Info("publish job requeued", zap.String("slug", slug), zap.String("job_id", jobID))
	return jobID, nil
}

func (s *Service) Get(ctx context.Context, slug string) (*model.Post, error) {
	p, err := s.store.GetPostBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if p == nil || p.Status == model.PostStatusDeleted {
		return nil, ErrNotFound
	}
	return p, nil
}

// Cancel deletes a scheduled draft. Its publish job still fires and finds nothing to do.
func (s *Service) Cancel(ctx context.Context, slug string) error {
	p, err := s.Get(ctx, slug)
	if err != nil {
		return err
	}
	ok, err := s.store.CancelPost(ctx, p.ID, s.Now().UTC())
	if err != nil {
		return fmt.Errorf("cancel post: %w", err)
	}
	if !ok {
		return ErrNotCancellable
	}
	s.log.Info("scheduled post cancelled", zap.String("slug", slug))
	return nil
}

// Deliveries summarizes the ledger of a post.
func (s *Service) Deliveries(ctx context.Context, slug string) (*model.Post, model.DeliveryCounts, error) {
	p, err := s.Get(ctx, slug)
	if err != nil {
		return nil, model.DeliveryCounts{}, err
	}
	c, err := s.store.DeliveryCounts(ctx, p.ID)
	if err != nil {
		return nil, model.DeliveryCounts{}, err
	}
	return p, c, nil
}
