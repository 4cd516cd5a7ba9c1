package handlers

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"path"

	"github.com/labstack/echo/v4"

	"github.com/colmenacrm/colmena/internal/media"
)

// MediaHandler streams stored attachments to the dashboard.
type MediaHandler struct {
	service *media.Service
	logger  *slog.Logger
}

func NewMediaHandler(log *slog.Logger, service *media.Service) *MediaHandler {
	if log == nil {
		log = slog.Default()
	}
	return &MediaHandler{
		service: service,
		logger:  log.With(slog.String("handler", "media")),
	}
}

func (h *MediaHandler) Register(e *echo.Echo) {
	e.GET("/media/*", h.Get)
}

// Get streams one stored object with its recorded mime type. The key is
// everything after /media/.
func (h *MediaHandler) Get(c echo.Context) error {
	key := c.Param("*")
	reader, err := h.service.Open(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "media not found")
		}
		h.logger.Error("open media failed",
			slog.String("key", key),
			slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "media unavailable")
	}
	defer reader.Close()

	// The stored extension was derived from the provider-declared mime
	// type at save time.
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Response().Header().Set("Cache-Control", "private, max-age=3600")
	return c.Stream(http.StatusOK, contentType, reader)
}
