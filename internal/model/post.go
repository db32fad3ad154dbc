package model

import (
	"strings"
	"time"
)

type PostStatus string

const (
	PostStatusDraft     PostStatus = "draft"
	PostStatusPublished PostStatus = "published"
	PostStatusDeleted   PostStatus = "deleted"
)

func (s PostStatus) String() string { return string(s) }

func (s PostStatus) Valid() bool {
	return s == PostStatusDraft || s == PostStatusPublished || s == PostStatusDeleted
}

// Post is the DB entity persisted in posts table.
// PublishedAt is set iff Status is published.
type Post struct {
	ID          string     `db:"id"           json:"id"`
	Slug        string     `db:"slug"         json:"slug"`
	Title       string     `db:"title"        json:"title"`
	Excerpt     string     `db:"excerpt"      json:"excerpt"`
	Content     string     `db:"content"      json:"content"`
	Category    string     `db:"category"     json:"category"`
	ReadTime    int        `db:"read_time"    json:"read_time"`
	Status      PostStatus `db:"status"       json:"status"`
	ScheduleAt  *time.Time `db:"schedule_at"  json:"schedule_at,omitempty"`
	PublishedAt *time.Time `db:"published_at" json:"published_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
}

func (p *Post) IsPublished() bool { return p.Status == PostStatusPublished }

// NewPost is the authoring input for a post.
type NewPost struct {
	Slug       string
	Title      string
	Excerpt    string
	Content    string
	Category   string
	ReadTime   int
	ScheduleAt *time.Time
}

// Normalize trims text fields and fills defaults (read time 2, category Architecture).
func (n *NewPost) Normalize() {
	n.Slug = strings.ToLower(strings.TrimSpace(n.Slug))
	n.Title = strings.TrimSpace(n.Title)
	n.Excerpt = strings.TrimSpace(n.Excerpt)
	n.Category = strings.TrimSpace(n.Category)
	if n.Category == "" {
		n.Category = "Architecture"
	}
	if n.ReadTime <= 0 {
		n.ReadTime = 2
	}
}
