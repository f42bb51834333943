package internal

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, uint16(3000), cfg.Port)
	assert.Equal(t, "local", cfg.Commerce.Backend)
	assert.Equal(t, 5*time.Second, cfg.Checkout.RevalidateInterval)
	assert.Equal(t, "memory", cfg.Storage.Provider)
	assert.Equal(t, "en", cfg.Checkout.Locale)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, int64(64*1024), cfg.HTTP.MaxBodyBytes)
}

func TestNewConfig_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REVALIDATE_INTERVAL", "250ms")
	t.Setenv("COMMERCE_BACKEND", "http")
	t.Setenv("COMMERCE_BASE_URL", "https://api.example.com/v1")
	t.Setenv("STATE_STORAGE", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("LOG_LEVEL", "shout")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://shop.example, ,https://www.shop.example")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Checkout.RevalidateInterval)
	assert.Equal(t, "https://api.example.com/v1", cfg.Commerce.BaseURL)
	assert.Equal(t, "info", cfg.LogLevel, "invalid level falls back to info")
	assert.Equal(t, []string{"https://shop.example", "https://www.shop.example"}, cfg.HTTP.AllowedOrigins)
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"http backend without url", map[string]string{"COMMERCE_BACKEND": "http"}},
		{"unknown backend", map[string]string{"COMMERCE_BACKEND": "graphql"}},
		{"redis without url", map[string]string{"STATE_STORAGE": "redis"}},
		{"postgres without dsn", map[string]string{"STATE_STORAGE": "postgres"}},
		{"prod persistence without key", map[string]string{"ENV": "prod", "STATE_STORAGE": "local"}},
		{"zero revalidate interval", map[string]string{"REVALIDATE_INTERVAL": "0s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewConfig()
			assert.Error(t, err)
		})
	}
}

func TestNewLogger_ProdIsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "prod", "info")
	logger.Info("checkout loaded", slog.String("checkout_id", "chk_1"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "checkout loaded", rec["msg"])
	assert.Equal(t, ServiceName, rec["service"])
	assert.Equal(t, "chk_1", rec["checkout_id"])
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "dev", "warn")
	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}
