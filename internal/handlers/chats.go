package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/colmenacrm/colmena/internal/conversation"
)

// ChatsHandler is the dashboard read surface: list chats, list
// messages, release a handover back to the bot.
type ChatsHandler struct {
	service *conversation.Service
	logger  *slog.Logger
}

func NewChatsHandler(log *slog.Logger, service *conversation.Service) *ChatsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ChatsHandler{
		service: service,
		logger:  log.With(slog.String("handler", "chats")),
	}
}

func (h *ChatsHandler) Register(e *echo.Echo) {
	group := e.Group("/organizations/:org_id/chats")
	group.GET("", h.ListChats)
	group.GET("/:chat_id/messages", h.ListMessages)
	group.DELETE("/:chat_id/handover", h.ClearHandover)
}

func (h *ChatsHandler) ListChats(c echo.Context) error {
	chats, err := h.service.ListChats(c.Request().Context(), c.Param("org_id"), limitParam(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if chats == nil {
		chats = []conversation.Chat{}
	}
	return c.JSON(http.StatusOK, chats)
}

func (h *ChatsHandler) ListMessages(c echo.Context) error {
	chat, err := h.service.GetChat(c.Request().Context(), c.Param("chat_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "chat not found")
	}
	if chat.OrganizationID != c.Param("org_id") {
		return echo.NewHTTPError(http.StatusNotFound, "chat not found")
	}
	messages, err := h.service.RecentMessages(c.Request().Context(), chat.ID, limitParam(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if messages == nil {
		messages = []conversation.Message{}
	}
	return c.JSON(http.StatusOK, messages)
}

// ClearHandover returns a chat to the bot after a human agent closes
// out the thread.
func (h *ChatsHandler) ClearHandover(c echo.Context) error {
	chat, err := h.service.GetChat(c.Request().Context(), c.Param("chat_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "chat not found")
	}
	if chat.OrganizationID != c.Param("org_id") {
		return echo.NewHTTPError(http.StatusNotFound, "chat not found")
	}
	if err := h.service.ClearHandover(c.Request().Context(), chat.ID); err != nil {
		if errors.Is(err, conversation.ErrMessageNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "chat not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.logger.Info("handover cleared", slog.String("chat_id", chat.ID))
	return c.JSON(http.StatusOK, map[string]string{"status": "cleared"})
}

func limitParam(c echo.Context) int32 {
	raw := c.QueryParam("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || limit < 0 {
		return 0
	}
	return int32(limit)
}
