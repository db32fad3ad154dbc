package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/jmehdipour/newsletter/internal/repository"
	echo "github.com/labstack/echo/v4"
)

const (
	defaultPageSize = 50
	maxPageSize     = 1000
)

// page reads limit/offset. Out-of-range values keep the defaults.
func page(c echo.Context) (limit, offset int) {
	limit = defaultPageSize
	if n, err := strconv.Atoi(c.QueryParam("limit")); err == nil && n > 0 && n <= maxPageSize {
		limit = n
	}
	if n, err := strconv.Atoi(c.QueryParam("offset")); err == nil && n >= 0 {
		offset = n
	}
	return limit, offset
}

// statusFilter returns the zero status (no filter) for unknown values.
func statusFilter(c echo.Context) model.DeliveryStatus {
	st := model.DeliveryStatus(strings.TrimSpace(c.QueryParam("status")))
	if !st.Valid() {
		return ""
	}
	return st
}

func listDeliveryEventsHandler(events repository.CHDeliveriesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		slug := strings.TrimSpace(c.QueryParam("slug"))
		if slug == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "slug is required"})
		}
		limit, offset := page(c)

		rows, err := events.ListByPost(c.Request().Context(), slug, statusFilter(c), limit, offset)
		if err != nil {
			c.Logger().Errorf("delivery events for %s: %v", slug, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"slug":    slug,
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
