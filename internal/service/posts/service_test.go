package posts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmehdipour/newsletter/internal/jobqueue"
	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/jmehdipour/newsletter/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var publishRetry = jobqueue.RetryPolicy{Limit: 5, Delay: 10 * time.Second, Backoff: true}

func newService(t *testing.T) (*Service, *repository.MemoryStore, *jobqueue.MemoryStore, *time.Time) {
	t.Helper()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	content := repository.NewMemoryStore()
	jobs := jobqueue.NewMemoryStore()
	client := jobqueue.NewClient(jobs, nil)
	client.Now = func() time.Time { return now }

	svc := New(content, client, nil, publishRetry)
	svc.Now = func() time.Time { return now }
	return svc, content, jobs, &now
}

func post(slug string, at *time.Time) model.NewPost {
	return model.NewPost{Slug: slug, Title: "Title", Excerpt: "Excerpt", Content: "Body", ScheduleAt: at}
}

func TestCreateWithoutScheduleIsImmediate(t *testing.T) {
	svc, _, jobs, now := newService(t)

	c, err := svc.Create(context.Background(), post("hello", nil))
	require.NoError(t, err)
	assert.False(t, c.Scheduled)
	assert.Equal(t, model.PostStatusPublished, c.Post.Status)
	require.NotNil(t, c.Post.PublishedAt)
	assert.Equal(t, *now, *c.Post.PublishedAt)
	assert.Equal(t, "Architecture", c.Post.Category)
	assert.Equal(t, 2, c.Post.ReadTime)

	queued := jobs.List(model.QueuePublishPost)
	require.Len(t, queued, 1)
	assert.Equal(t, *now, queued[0].StartAfter)
	require.NotNil(t, queued[0].SingletonKey)
	assert.Equal(t, "publish:"+c.Post.ID, *queued[0].SingletonKey)
	assert.Equal(t, 5, queued[0].RetryLimit)
	assert.JSONEq(t, `{"slug":"hello"}`, string(queued[0].Payload))
}

func TestCreateScheduledAtNowIsImmediate(t *testing.T) {
	svc, _, _, now := newService(t)
	at := *now

	c, err := svc.Create(context.Background(), post("boundary", &at))
	require.NoError(t, err)
	assert.False(t, c.Scheduled)
	assert.Equal(t, model.PostStatusPublished, c.Post.Status)
}

func TestCreateScheduledInFutureIsDraft(t *testing.T) {
	svc, content, jobs, now := newService(t)
	at := now.Add(time.Second)

	c, err := svc.Create(context.Background(), post("later", &at))
	require.NoError(t, err)
	assert.True(t, c.Scheduled)
	assert.Equal(t, model.PostStatusDraft, c.Post.Status)
	assert.Nil(t, c.Post.PublishedAt)

	stored, _ := content.GetPostBySlug(context.Background(), "later")
	assert.Equal(t, model.PostStatusDraft, stored.Status)

	queued := jobs.List(model.QueuePublishPost)
	require.Len(t, queued, 1)
	assert.Equal(t, at, queued[0].StartAfter)
	assert.Equal(t, "publish:"+c.Post.ID+":2025-03-01T12:00:01Z", *queued[0].SingletonKey)
}

func TestCreateRejectsTakenSlug(t *testing.T) {
	svc, _, jobs, _ := newService(t)

	_, err := svc.Create(context.Background(), post("hello", nil))
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), post("  HELLO ", nil))
	assert.ErrorIs(t, err, ErrSlugTaken)
	assert.Len(t, jobs.List(model.QueuePublishPost), 1)
}

func TestCreateValidates(t *testing.T) {
	svc, _, _, _ := newService(t)

	_, err := svc.Create(context.Background(), post("Not a slug!", nil))
	assert.ErrorIs(t, err, ErrInvalidPost)

	in := post("ok", nil)
	in.Title = ""
	_, err = svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, ErrInvalidPost)
}

func TestCancelOnlyDrafts(t *testing.T) {
	svc, _, _, now := newService(t)
	at := now.Add(time.Hour)

	_, err := svc.Create(context.Background(), post("later", &at))
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), post("now", nil))
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), "later"))
	_, err = svc.Get(context.Background(), "later")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, svc.Cancel(context.Background(), "now"), ErrNotCancellable)
	assert.ErrorIs(t, svc.Cancel(context.Background(), "missing"), ErrNotFound)
}

func TestDeliveries(t *testing.T) {
	svc, content, _, now := newService(t)
	_, err := svc.Create(context.Background(), post("hello", nil))
	require.NoError(t, err)
	require.NoError(t, content.Create(context.Background(), model.Subscriber{ID: "s1", Email: "a@example.com", Subscribed: true}))
	_, err = content.PublishPost(context.Background(), "hello", *now)
	require.NoError(t, err)

	p, counts, err := svc.Deliveries(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", p.Slug)
	assert.Equal(t, model.DeliveryCounts{Pending: 1}, counts)
}

type flakyJobs struct {
	*jobqueue.MemoryStore
	down bool
}

func (f *flakyJobs) Insert(ctx context.Context, j *jobqueue.Job) (bool, error) {
	if f.down {
		return false, errors.New("jobs table unavailable")
	}
	return f.MemoryStore.Insert(ctx, j)
}

func TestRequeueAfterEnqueueFailure(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	content := repository.NewMemoryStore()
	jobs := &flakyJobs{MemoryStore: jobqueue.NewMemoryStore(), down: true}
	client := jobqueue.NewClient(jobs, nil)
	client.Now = func() time.Time { return now }
	svc := New(content, client, nil, publishRetry)
	svc.Now = func() time.Time { return now }

	_, err := svc.Create(context.Background(), post("hello", nil))
	require.Error(t, err)
	stored, _ := content.GetPostBySlug(context.Background(), "hello")
	require.NotNil(t, stored, "post is kept")
	assert.Empty(t, jobs.List(model.QueuePublishPost))

	_, err = svc.Create(context.Background(), post("hello", nil))
	assert.ErrorIs(t, err, ErrSlugTaken)

	jobs.down = false
	jobID, err := svc.Requeue(context.Background(), "hello")
	require.NoError(t, err)
	queued := jobs.List(model.QueuePublishPost)
	require.Len(t, queued, 1)
	assert.Equal(t, jobID, queued[0].ID)
	assert.Equal(t, now, queued[0].StartAfter)
	assert.Equal(t, "publish:"+stored.ID, *queued[0].SingletonKey)

	_, err = svc.Requeue(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrAlreadyQueued)
}

func TestRequeueKeepsFutureSchedule(t *testing.T) {
	svc, _, jobs, now := newService(t)
	ctx := context.Background()
	at := now.Add(time.Hour)

	c, err := svc.Create(ctx, post("later", &at))
	require.NoError(t, err)

	_, err = svc.Requeue(ctx, "later")
	assert.ErrorIs(t, err, ErrAlreadyQueued, "the scheduled job is still outstanding")

	// the scheduled job died
	claimed, err := jobs.Claim(ctx, model.QueuePublishPost, "w", at, at.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, jobs.Bury(ctx, c.JobID, "lost", at))

	jobID, err := svc.Requeue(ctx, "later")
	require.NoError(t, err)
	job, err := jobs.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, at, job.StartAfter)
	assert.Equal(t, "publish:"+c.Post.ID+":2025-03-01T13:00:00Z", *job.SingletonKey)

	_, err = svc.Requeue(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
