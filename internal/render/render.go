// Package render builds the newsletter email for one delivery.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/jmehdipour/newsletter/internal/model"
)

//go:embed templates/*.html
var files embed.FS

var newsletterTmpl = template.Must(template.ParseFS(files, "templates/newsletter.html"))

const DefaultSubject = "Bla bla newsletter - Fresh content 🥳!"

// Renderer turns a delivery into an email body with links back to the site.
type Renderer struct {
	clientURL string
	subject   string
	brand     string
}

func New(clientURL, subject, brand string) *Renderer {
	if subject == "" {
		subject = DefaultSubject
	}
	if brand == "" {
		brand = "Bla bla newsletter"
	}
	return &Renderer{clientURL: strings.TrimRight(clientURL, "/"), subject: subject, brand: brand}
}

type newsletterData struct {
	Brand          string
	Title          string
	Excerpt        string
	PostURL        string
	UnsubscribeURL string
}

func (r *Renderer) PostURL(slug string) string {
	return r.clientURL + "/post/" + url.PathEscape(slug)
}

func (r *Renderer) UnsubscribeURL(email string) string {
	return r.clientURL + "/unsubscribe?email=" + url.QueryEscape(email)
}

// Newsletter renders the subject and HTML for d. The idempotency key is left to the caller.
func (r *Renderer) Newsletter(d model.DeliveryDetail) (model.Email, error) {
	var buf bytes.Buffer
	err := newsletterTmpl.Execute(&buf, newsletterData{
		Brand:          r.brand,
		Title:          d.Title,
		Excerpt:        d.Excerpt,
		PostURL:        r.PostURL(d.Slug),
		UnsubscribeURL: r.UnsubscribeURL(d.Email),
	})
	if err != nil {
		return model.Email{}, fmt.Errorf("render newsletter %s: %w", d.Slug, err)
	}

	return model.Email{
		To:      d.Email,
		Subject: r.subject,
		HTML:    buf.String(),
		Tag:     "newsletter",
	}, nil
}
