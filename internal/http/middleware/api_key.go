package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/jmehdipour/newsletter/internal/model"
	echo "github.com/labstack/echo/v4"
)

const ctxAuthorID = "author_id"

// AuthorLookup resolves an API key to its author (nil when unknown).
type AuthorLookup interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Author, error)
}

// AuthorIDFromCtx extracts the author id set by APIKeyMiddleware.
func AuthorIDFromCtx(c echo.Context) (string, bool) {
	id, ok := c.Get(ctxAuthorID).(string)
	return id, ok && id != ""
}

// APIKeyMiddleware authenticates authors using the X-API-Key header.
// Suspended authors are rejected like unknown keys.
func APIKeyMiddleware(authors AuthorLookup) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			a, err := authors.GetByAPIKey(c.Request().Context(), key)
			if err != nil {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
			}
			if a == nil || !a.Active() {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			c.Set(ctxAuthorID, a.ID)
			return next(c)
		}
	}
}
