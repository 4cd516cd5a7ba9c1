package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/colmenacrm/colmena/internal/bot"
	"github.com/colmenacrm/colmena/internal/config"
	"github.com/colmenacrm/colmena/internal/conversation"
	"github.com/colmenacrm/colmena/internal/db"
	"github.com/colmenacrm/colmena/internal/events"
	"github.com/colmenacrm/colmena/internal/handlers"
	"github.com/colmenacrm/colmena/internal/inbound"
	"github.com/colmenacrm/colmena/internal/logger"
	"github.com/colmenacrm/colmena/internal/media"
	"github.com/colmenacrm/colmena/internal/media/fsstore"
	"github.com/colmenacrm/colmena/internal/notify"
	"github.com/colmenacrm/colmena/internal/server"
	"github.com/colmenacrm/colmena/internal/tenant"
	"github.com/colmenacrm/colmena/internal/whatsapp"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideWhatsAppClient,
			provideMediaService,
			provideTenantService,
			provideConversationService,
			provideBotEngine,
			providePublisher,
			provideNotifier,
			provideProcessor,
			providePingHandler,
			provideWebhookHandler,
			provideMediaHandler,
			provideChatsHandler,
			provideServer,
		),
		fx.Invoke(
			startSessionJanitor,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func runMigrate() error {
	cfg, err := provideConfig()
	if err != nil {
		return err
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	if err := db.Migrate(cfg.Postgres); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.L.Info("migrations applied")
	return nil
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideWhatsAppClient(log *slog.Logger, cfg config.Config) *whatsapp.Client {
	return whatsapp.NewClient(log, cfg.WhatsApp.BaseURL, cfg.WhatsApp.AccessToken)
}

func provideMediaService(log *slog.Logger, cfg config.Config) (*media.Service, error) {
	store, err := fsstore.New(cfg.Media.Root)
	if err != nil {
		return nil, fmt.Errorf("media store: %w", err)
	}
	return media.NewService(log, store), nil
}

func provideTenantService(log *slog.Logger, conn *pgxpool.Pool) *tenant.Service {
	return tenant.NewService(log, conn)
}

func provideConversationService(log *slog.Logger, conn *pgxpool.Pool) *conversation.Service {
	return conversation.NewService(log, conn)
}

func provideBotEngine(log *slog.Logger, cfg config.Config) *bot.Engine {
	return bot.NewEngine(log, cfg.Bot)
}

func providePublisher(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (events.Publisher, error) {
	publisher, err := events.NewPublisher(log, cfg.Events)
	if err != nil {
		return nil, fmt.Errorf("events publisher: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return publisher.Close() }})
	return publisher, nil
}

func provideNotifier(log *slog.Logger, cfg config.Config) *notify.Notifier {
	return notify.NewNotifier(log, cfg.Notify)
}

func provideProcessor(
	log *slog.Logger,
	cfg config.Config,
	tenants *tenant.Service,
	chats *conversation.Service,
	client *whatsapp.Client,
	mediaService *media.Service,
	engine *bot.Engine,
	publisher events.Publisher,
	notifier *notify.Notifier,
) *inbound.Processor {
	return inbound.NewProcessor(log, tenants, chats, client, mediaService,
		client, engine, publisher, notifier, cfg.Bot.HistoryLimit)
}

func providePingHandler(log *slog.Logger) *handlers.PingHandler {
	return handlers.NewPingHandler(log)
}

func provideWebhookHandler(log *slog.Logger, cfg config.Config, processor *inbound.Processor) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, processor, cfg.WhatsApp.VerifyToken)
}

func provideMediaHandler(log *slog.Logger, mediaService *media.Service) *handlers.MediaHandler {
	return handlers.NewMediaHandler(log, mediaService)
}

func provideChatsHandler(log *slog.Logger, chats *conversation.Service) *handlers.ChatsHandler {
	return handlers.NewChatsHandler(log, chats)
}

func provideServer(
	log *slog.Logger,
	cfg config.Config,
	pingHandler *handlers.PingHandler,
	webhookHandler *handlers.WebhookHandler,
	mediaHandler *handlers.MediaHandler,
	chatsHandler *handlers.ChatsHandler,
) *server.Server {
	return server.NewServer(cfg.Server.Addr, log, pingHandler, webhookHandler, mediaHandler, chatsHandler)
}

// startSessionJanitor runs the stale-session release on a schedule so
// abandoned chats do not keep session references forever.
func startSessionJanitor(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, chats *conversation.Service) {
	hours := cfg.Sessions.ReleaseAfterHours
	if hours <= 0 {
		hours = 24
	}
	scheduler := cron.New()
	_, err := scheduler.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
		released, err := chats.ReleaseStaleSessions(ctx, cutoff)
		if err != nil {
			log.Error("release stale sessions failed", slog.Any("error", err))
			return
		}
		if released > 0 {
			log.Info("released stale sessions", slog.Int64("count", released))
		}
	})
	if err != nil {
		log.Error("schedule session janitor failed", slog.Any("error", err))
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { scheduler.Start(); return nil },
		OnStop:  func(ctx context.Context) error { scheduler.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server stopped", slog.Any("error", err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown()
		},
	})
}
