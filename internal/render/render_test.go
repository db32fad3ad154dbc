package render

import (
	"testing"

	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewsletter(t *testing.T) {
	r := New("https://blog.example.com/", "", "")
	d := model.DeliveryDetail{
		Email:   "a+b@example.com",
		Slug:    "event-sourcing",
		Title:   "Event <sourcing>",
		Excerpt: "Why logs win",
	}

	e, err := r.Newsletter(d)
	require.NoError(t, err)
	assert.Equal(t, "a+b@example.com", e.To)
	assert.Equal(t, DefaultSubject, e.Subject)
	assert.Equal(t, "newsletter", e.Tag)
	assert.Empty(t, e.IdempotencyKey)

	assert.Contains(t, e.HTML, "Event &lt;sourcing&gt;")
	assert.Contains(t, e.HTML, "Why logs win")
	assert.Contains(t, e.HTML, `href="https://blog.example.com/post/event-sourcing"`)
	assert.Contains(t, e.HTML, "https://blog.example.com/unsubscribe?email=a%2Bb%40example.com")
}

func TestCustomSubject(t *testing.T) {
	r := New("http://localhost:3000", "Weekly digest", "Digest")
	e, err := r.Newsletter(model.DeliveryDetail{Email: "x@example.com", Slug: "s", Title: "T"})
	require.NoError(t, err)
	assert.Equal(t, "Weekly digest", e.Subject)
	assert.Contains(t, e.HTML, "Digest")
}
