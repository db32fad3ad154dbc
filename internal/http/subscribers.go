package http

import (
	"errors"
	"net/http"

	"github.com/jmehdipour/newsletter/internal/service/subscribers"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type emailReq struct {
	Email string `json:"email"`
}

func subscribeHandler(svc *subscribers.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req emailReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		sub, created, err := svc.Subscribe(c.Request().Context(), req.Email)
		switch {
		case errors.Is(err, subscribers.ErrInvalidEmail):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid email"})
		case errors.Is(err, subscribers.ErrAlreadySubscribed):
			return c.JSON(http.StatusConflict, map[string]string{"error": "already_subscribed"})
		case err != nil:
			log.Errorf("subscribe failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		return c.JSON(status, sub)
	}
}

func unsubscribeHandler(svc *subscribers.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req emailReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if req.Email == "" {
			req.Email = c.QueryParam("email")
		}

		err := svc.Unsubscribe(c.Request().Context(), req.Email)
		switch {
		case errors.Is(err, subscribers.ErrInvalidEmail):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid email"})
		case errors.Is(err, subscribers.ErrNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		case err != nil:
			log.Errorf("unsubscribe failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, map[string]bool{"unsubscribed": true})
	}
}
