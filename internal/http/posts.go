package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/jmehdipour/newsletter/internal/service/posts"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type createPostReq struct {
	Slug       string     `json:"slug"`
	Title      string     `json:"title"`
	Excerpt    string     `json:"excerpt"`
	Content    string     `json:"content"`
	Category   string     `json:"category"`
	ReadTime   int        `json:"read_time"`
	ScheduleAt *time.Time `json:"schedule_at"` // RFC 3339; absent or past publishes now
}

func createPostHandler(svc *posts.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createPostReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		created, err := svc.Create(c.Request().Context(), model.NewPost{
			Slug:       req.Slug,
			Title:      req.Title,
			Excerpt:    req.Excerpt,
			Content:    req.Content,
			Category:   req.Category,
			ReadTime:   req.ReadTime,
			ScheduleAt: req.ScheduleAt,
		})
		switch {
		case errors.Is(err, posts.ErrInvalidPost):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, posts.ErrSlugTaken):
			return c.JSON(http.StatusConflict, map[string]string{"error": "slug_taken"})
		case err != nil:
			log.Errorf("create post failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusCreated, map[string]any{
			"post":      created.Post,
			"scheduled": created.Scheduled,
			"job_id":    created.JobID,
		})
	}
}

func getPostHandler(svc *posts.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := svc.Get(c.Request().Context(), c.Param("slug"))
		if errors.Is(err, posts.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}
		if err != nil {
			log.Errorf("get post failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, p)
	}
}

func cancelPostHandler(svc *posts.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := svc.Cancel(c.Request().Context(), c.Param("slug"))
		switch {
		case errors.Is(err, posts.ErrNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		case errors.Is(err, posts.ErrNotCancellable):
			return c.JSON(http.StatusConflict, map[string]string{"error": "already_published"})
		case err != nil:
			log.Errorf("cancel post failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func postDeliveriesHandler(svc *posts.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, counts, err := svc.Deliveries(c.Request().Context(), c.Param("slug"))
		if errors.Is(err, posts.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}
		if err != nil {
			log.Errorf("delivery counts failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"slug":       p.Slug,
			"status":     p.Status,
			"deliveries": counts,
			"total":      counts.Total(),
		})
	}
}
