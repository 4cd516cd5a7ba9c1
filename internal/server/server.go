package server

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/colmenacrm/colmena/internal/handlers"
)

type Server struct {
	echo *echo.Echo
	addr string
}

func NewServer(
	addr string,
	log *slog.Logger,
	pingHandler *handlers.PingHandler,
	webhookHandler *handlers.WebhookHandler,
	mediaHandler *handlers.MediaHandler,
	chatsHandler *handlers.ChatsHandler,
) *Server {
	if addr == "" {
		addr = ":8080"
	}
	if log == nil {
		log = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
			)
			return nil
		},
	}))

	if pingHandler != nil {
		pingHandler.Register(e)
	}
	if webhookHandler != nil {
		webhookHandler.Register(e)
	}
	if mediaHandler != nil {
		mediaHandler.Register(e)
	}
	if chatsHandler != nil {
		chatsHandler.Register(e)
	}

	return &Server{
		echo: e,
		addr: addr,
	}
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown() error {
	return s.echo.Close()
}
