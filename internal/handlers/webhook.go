package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/colmenacrm/colmena/internal/whatsapp"
)

// BatchProcessor consumes one normalized provider event.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, value whatsapp.Value)
}

// WebhookHandler terminates the WhatsApp Cloud API webhook: the GET
// verification handshake and the POST event delivery.
type WebhookHandler struct {
	processor   BatchProcessor
	verifyToken string
	logger      *slog.Logger
}

func NewWebhookHandler(log *slog.Logger, processor BatchProcessor, verifyToken string) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		processor:   processor,
		verifyToken: verifyToken,
		logger:      log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/webhook", h.Verify)
	e.POST("/webhook", h.Receive)
}

// Verify answers the provider's subscription handshake: echo the
// challenge when the pre-shared token matches, 403 otherwise.
func (h *WebhookHandler) Verify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")

	if mode == "subscribe" && token == h.verifyToken && challenge != "" {
		return c.String(http.StatusOK, challenge)
	}
	h.logger.Warn("webhook verification rejected", slog.String("mode", mode))
	return echo.NewHTTPError(http.StatusForbidden, "verification failed")
}

// Receive takes one event delivery. Recognized envelopes are always
// acknowledged with 200 even when individual messages fail internally;
// redelivery storms cost more than logged partial loss.
func (h *WebhookHandler) Receive(c echo.Context) error {
	var payload whatsapp.WebhookPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed payload")
	}
	if payload.Object != "whatsapp_business_account" {
		return echo.NewHTTPError(http.StatusBadRequest, "unexpected event object")
	}

	ctx := c.Request().Context()
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			h.processor.ProcessBatch(ctx, change.Value)
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "received"})
}
