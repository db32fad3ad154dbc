package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/jmehdipour/newsletter/internal/util"
	"github.com/jmoiron/sqlx"
)

// MemoryStore is an in-process ContentStore and SubscribersRepository with the
// same uniqueness and transition rules as the MySQL schema. Used by tests and demos.
type MemoryStore struct {
	mu          sync.Mutex
	posts       map[string]*model.Post       // by slug
	subscribers map[string]*model.Subscriber // by email
	deliveries  map[string]*model.Delivery   // by post_id + "/" + subscriber_id

	// FailPublish, when set, is returned by PublishPost before anything is written.
	FailPublish error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		posts:       make(map[string]*model.Post),
		subscribers: make(map[string]*model.Subscriber),
		deliveries:  make(map[string]*model.Delivery),
	}
}

var (
	_ ContentStore          = (*MemoryStore)(nil)
	_ SubscribersRepository = (*MemoryStore)(nil)
)

func deliveryKey(postID, subscriberID string) string { return postID + "/" + subscriberID }

func (m *MemoryStore) CreatePost(_ context.Context, p model.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[p.Slug]; ok {
		return ErrDuplicate
	}
	cp := p
	m.posts[p.Slug] = &cp
	return nil
}

func (m *MemoryStore) GetPostBySlug(_ context.Context, slug string) (*model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[slug]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) CancelPost(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.posts {
		if p.ID == id && p.Status == model.PostStatusDraft {
			p.Status = model.PostStatusDeleted
			p.UpdatedAt = at
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) PublishPost(_ context.Context, slug string, at time.Time) (*PublishResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPublish != nil {
		return nil, m.FailPublish
	}

	p, ok := m.posts[slug]
	if !ok || p.Status == model.PostStatusDeleted {
		return nil, nil
	}

	res := &PublishResult{}
	if p.Status == model.PostStatusDraft {
		t := at
		p.Status = model.PostStatusPublished
		p.PublishedAt = &t
		p.UpdatedAt = at
		res.Flipped = true
	}
	post := *p
	res.Post = &post

	for _, s := range m.sortedSubscribersLocked() {
		if !s.Subscribed {
			continue
		}
		res.Audience = append(res.Audience, *s)
		key := deliveryKey(p.ID, s.ID)
		if _, exists := m.deliveries[key]; exists {
			continue
		}
		m.deliveries[key] = &model.Delivery{
			ID:           util.NewIDAt(at),
			PostID:       p.ID,
			SubscriberID: s.ID,
			Status:       model.DeliveryPending,
			CreatedAt:    at,
			UpdatedAt:    at,
		}
		res.NewLedger++
	}
	return res, nil
}

func (m *MemoryStore) FindForSend(_ context.Context, slug, subscriberID string) (*model.DeliveryDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.posts[slug]
	if !ok {
		return nil, nil
	}
	d, ok := m.deliveries[deliveryKey(p.ID, subscriberID)]
	if !ok {
		return nil, nil
	}
	var email string
	for _, s := range m.subscribers {
		if s.ID == subscriberID {
			email = s.Email
		}
	}
	if email == "" {
		return nil, nil
	}
	return &model.DeliveryDetail{
		Delivery: *d,
		Email:    email,
		Slug:     p.Slug,
		Title:    p.Title,
		Excerpt:  p.Excerpt,
	}, nil
}

func (m *MemoryStore) MarkSent(_ context.Context, id, providerMessageID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.deliveryByIDLocked(id)
	if d == nil || !d.Status.CanTransition(model.DeliverySent) {
		return false, nil
	}
	t := at
	d.Status = model.DeliverySent
	d.SentAt = &t
	d.LastError = nil
	if providerMessageID != "" {
		pmid := providerMessageID
		d.ProviderMessageID = &pmid
	}
	d.Attempts++
	d.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, id, lastError string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.deliveryByIDLocked(id)
	if d == nil || !d.Status.CanTransition(model.DeliveryFailed) {
		return false, nil
	}
	msg := truncate(lastError, lastErrorMax)
	d.Status = model.DeliveryFailed
	d.LastError = &msg
	d.Attempts++
	d.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) DeliveryCounts(_ context.Context, postID string) (model.DeliveryCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var c model.DeliveryCounts
	for _, d := range m.deliveries {
		if d.PostID != postID {
			continue
		}
		switch d.Status {
		case model.DeliveryPending:
			c.Pending++
		case model.DeliverySent:
			c.Sent++
		case model.DeliveryFailed:
			c.Failed++
		}
	}
	return c, nil
}

// Deliveries returns the ledger rows of a post ordered by subscriber id.
func (m *MemoryStore) Deliveries(postID string) []model.Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Delivery, 0)
	for _, d := range m.deliveries {
		if d.PostID == postID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubscriberID < out[j].SubscriberID })
	return out
}

// SubscribersRepository

func (m *MemoryStore) Create(_ context.Context, s model.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscribers[s.Email]; ok {
		return ErrDuplicate
	}
	cp := s
	m.subscribers[s.Email] = &cp
	return nil
}

func (m *MemoryStore) GetByEmail(_ context.Context, email string) (*model.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscribers[email]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) SetSubscribed(_ context.Context, email string, subscribed bool, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscribers[email]
	if !ok || s.Subscribed == subscribed {
		return false, nil
	}
	s.Subscribed = subscribed
	s.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) ListSubscribed(_ context.Context, _ *sqlx.Tx) ([]model.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscriber
	for _, s := range m.sortedSubscribersLocked() {
		if s.Subscribed {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *MemoryStore) sortedSubscribersLocked() []*model.Subscriber {
	out := make([]*model.Subscriber, 0, len(m.subscribers))
	for _, s := range m.subscribers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) deliveryByIDLocked(id string) *model.Delivery {
	for _, d := range m.deliveries {
		if d.ID == id {
			return d
		}
	}
	return nil
}
