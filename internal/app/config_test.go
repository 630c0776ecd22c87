package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SESSION_SECRET", "session-secret")
	t.Setenv("CSRF_SECRET", "csrf-secret")
	t.Setenv("TOKEN_SECRET", "0123456789abcdef0123456789abcdef")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 72*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 1025, cfg.SMTPPort)
	assert.False(t, cfg.IsProduction())
	assert.Empty(t, cfg.GateAllowPrefixes)
	assert.Equal(t, "0 * * * *", cfg.SessionPurgeSpec)
	assert.Equal(t, 24*time.Hour, cfg.SessionPurgeGrace)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigParsesGateLists(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GATE_ALLOW_PREFIXES", "/docs/,/public/")
	t.Setenv("GATE_ALLOW_PATHS", "/about")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"/docs/", "/public/"}, cfg.GateAllowPrefixes)
	assert.Equal(t, []string{"/about"}, cfg.GateAllowPaths)
}

func TestLoadConfigRejectsShortTokenSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TOKEN_SECRET", "short")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token secret")
}

func TestLoadConfigRequiresSessionSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SESSION_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
}
