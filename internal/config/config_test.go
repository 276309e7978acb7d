package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8090", cfg.BackendURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 50, cfg.MessagePageSize)
	assert.Equal(t, int64(5<<20), cfg.MaxImageSize)
	assert.Equal(t, ":8090", cfg.ListenAddr)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BACKEND_URL", "http://example.com:9000")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:9000", cfg.BackendURL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadEnvOnlyKeys(t *testing.T) {
	// These keys have no defaults and reach Load through the
	// environment alone.
	t.Setenv("AUTH_TOKEN", "tok-from-env")
	t.Setenv("JWT_SECRET", "supersecret")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/chat")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "tok-from-env", cfg.AuthToken)
	assert.Equal(t, "supersecret", cfg.JWTSecret)
	assert.Equal(t, "postgres://localhost:5432/chat", cfg.DatabaseURL)
}

func TestMaxFileSize(t *testing.T) {
	cfg := &Config{
		MaxImageSize:    1,
		MaxVideoSize:    2,
		MaxAudioSize:    3,
		MaxDocumentSize: 4,
	}

	assert.Equal(t, int64(1), cfg.MaxFileSize("image"))
	assert.Equal(t, int64(2), cfg.MaxFileSize("video"))
	assert.Equal(t, int64(3), cfg.MaxFileSize("audio"))
	assert.Equal(t, int64(4), cfg.MaxFileSize("document"))
	assert.Equal(t, int64(4), cfg.MaxFileSize("unknown"))
}
