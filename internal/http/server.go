package http

import (
	"context"
	"net/http"

	"github.com/jmehdipour/newsletter/internal/http/middleware"
	"github.com/jmehdipour/newsletter/internal/ratelimit"
	"github.com/jmehdipour/newsletter/internal/repository"
	"github.com/jmehdipour/newsletter/internal/service/posts"
	"github.com/jmehdipour/newsletter/internal/service/subscribers"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps is everything the API needs. Reports and SubscribeLimit are optional.
type Deps struct {
	Posts          *posts.Service
	Subscribers    *subscribers.Service
	Authors        middleware.AuthorLookup
	Reports        repository.CHDeliveriesRepository
	SubscribeLimit *ratelimit.FixedWindow
	Gatherer       prometheus.Gatherer
	Log            *zap.Logger
	LogLevel       string
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLevel(d.LogLevel))
	log.SetLevel(echoLevel(d.LogLevel))
	e.Use(echoMid.Recover(), echoMid.Logger())

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(d.Authors)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Window:         d.SubscribeLimit,
		RetryAfterHint: true,
	})

	// routes (authors)
	v1 := e.Group("/v1")
	v1.POST("/posts", createPostHandler(d.Posts), authMW)
	v1.GET("/posts/:slug", getPostHandler(d.Posts), authMW)
	v1.DELETE("/posts/:slug", cancelPostHandler(d.Posts), authMW)
	v1.GET("/posts/:slug/deliveries", postDeliveriesHandler(d.Posts), authMW)
	if d.Reports != nil {
		v1.GET("/reports/deliveries", listDeliveryEventsHandler(d.Reports), authMW)
	}

	// routes (public)
	v1.POST("/subscribers", subscribeHandler(d.Subscribers), rlMW)
	v1.POST("/subscribers/unsubscribe", unsubscribeHandler(d.Subscribers), rlMW)

	return &Server{e: e, log: d.Log}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func echoLevel(level string) log.Lvl {
	switch level {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}
