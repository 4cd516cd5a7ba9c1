package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "colmena"
	DefaultPGSSLMode    = "disable"
	DefaultGraphBaseURL = "https://graph.facebook.com/v19.0"
	DefaultBotModel     = "gpt-4o-mini"
	DefaultMediaRoot    = "data/media"
	DefaultHistoryLimit = 20
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	WhatsApp WhatsAppConfig `toml:"whatsapp"`
	Bot      BotConfig      `toml:"bot"`
	Media    MediaConfig    `toml:"media"`
	Events   EventsConfig   `toml:"events"`
	Notify   NotifyConfig   `toml:"notify"`
	Sessions SessionsConfig `toml:"sessions"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type PostgresConfig struct {
	Host     string `toml:"host" validate:"required"`
	Port     int    `toml:"port" validate:"gt=0"`
	User     string `toml:"user" validate:"required"`
	Password string `toml:"password"`
	Database string `toml:"database" validate:"required"`
	SSLMode  string `toml:"sslmode"`
}

type WhatsAppConfig struct {
	// AccessToken authorizes Graph API calls for all tenants.
	AccessToken string `toml:"access_token"`
	// VerifyToken is the pre-shared webhook verification token.
	VerifyToken string `toml:"verify_token" validate:"required"`
	BaseURL     string `toml:"base_url"`
}

type BotConfig struct {
	// APIKey enables the decision engine; when empty the engine is skipped.
	APIKey       string `toml:"api_key"`
	BaseURL      string `toml:"base_url"`
	Model        string `toml:"model"`
	HistoryLimit int    `toml:"history_limit"`
}

type MediaConfig struct {
	Root string `toml:"root"`
}

type EventsConfig struct {
	// URL is the RabbitMQ connection string; empty disables event publishing.
	URL      string `toml:"url"`
	Exchange string `toml:"exchange"`
}

type NotifyConfig struct {
	// MailgunAPIKey enables handover email alerts; empty disables them.
	MailgunAPIKey string `toml:"mailgun_api_key"`
	MailgunDomain string `toml:"mailgun_domain"`
	Region        string `toml:"region"`
}

type SessionsConfig struct {
	// ReleaseAfterHours is how long an active session reference may stay
	// attached to a chat before the maintenance job releases it.
	ReleaseAfterHours int `toml:"release_after_hours"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		WhatsApp: WhatsAppConfig{
			BaseURL: DefaultGraphBaseURL,
		},
		Bot: BotConfig{
			Model:        DefaultBotModel,
			HistoryLimit: DefaultHistoryLimit,
		},
		Media: MediaConfig{
			Root: DefaultMediaRoot,
		},
		Events: EventsConfig{
			Exchange: "colmena.events",
		},
		Notify: NotifyConfig{
			Region: "us",
		},
		Sessions: SessionsConfig{
			ReleaseAfterHours: 24,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the required fields for a runnable server.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
