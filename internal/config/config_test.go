package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultGraphBaseURL, cfg.WhatsApp.BaseURL)
	assert.Equal(t, DefaultBotModel, cfg.Bot.Model)
	assert.Equal(t, DefaultHistoryLimit, cfg.Bot.HistoryLimit)
	assert.Equal(t, "colmena.events", cfg.Events.Exchange)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
addr = ":9090"

[whatsapp]
verify_token = "shh"
access_token = "EAAG..."

[bot]
model = "gpt-4.1-mini"
history_limit = 40

[postgres]
password = "secret"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "shh", cfg.WhatsApp.VerifyToken)
	assert.Equal(t, "gpt-4.1-mini", cfg.Bot.Model)
	assert.Equal(t, 40, cfg.Bot.HistoryLimit)
	// Untouched sections keep defaults.
	assert.Equal(t, DefaultPGHost, cfg.Postgres.Host)
	assert.Equal(t, "secret", cfg.Postgres.Password)
}

func TestValidateRequiresVerifyToken(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())

	cfg.WhatsApp.VerifyToken = "token"
	assert.NoError(t, cfg.Validate())
}
