package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jmehdipour/newsletter/internal/ratelimit"
	echo "github.com/labstack/echo/v4"
)

// RateLimitConfig config for the Redis-based per-IP limiter of public endpoints.
type RateLimitConfig struct {
	Window         *ratelimit.FixedWindow // nil disables limiting
	RetryAfterHint bool                   // set Retry-After header when limited
}

// RateLimitMiddleware applies a fixed-window limit per client IP.
// Redis errors let the request through.
func RateLimitMiddleware(cfg RateLimitConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Window == nil {
				return next(c)
			}

			ok, remain, err := cfg.Window.Allow(c.Request().Context(), c.RealIP())
			if err != nil {
				c.Logger().Warnf("rate limiter unavailable: %v", err)
				return next(c)
			}

			if !ok {
				if cfg.RetryAfterHint && remain > 0 {
					secs := int((remain + time.Second - 1) / time.Second)
					c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				}
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			}
			return next(c)
		}
	}
}
