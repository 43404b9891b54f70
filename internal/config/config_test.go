package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTokenKey = "000102030405060708090a0b0c0d0e0f000102030405060708090a0b0c0d0e0f"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("COLLAB_TOKEN_KEY", testTokenKey)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "jessie_session", cfg.Collab.SessionCookieName)
	assert.Equal(t, 2*time.Minute, cfg.Collab.PresenceWindow)
	assert.Equal(t, time.Hour, cfg.Collab.PresenceMaxAge)
	assert.Equal(t, 30*time.Minute, cfg.Collab.LockDuration)
}

func TestLoad_YAMLFile(t *testing.T) {
	t.Setenv("COLLAB_TOKEN_KEY", testTokenKey)

	yaml := strings.Join([]string{
		"server:",
		"  port: \"9090\"",
		"collab:",
		"  session_cookie_name: custom_session",
		"  cleanup_interval: 1m",
	}, "\n")

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "custom_session", cfg.Collab.SessionCookieName)
	assert.Equal(t, time.Minute, cfg.Collab.CleanupInterval)
	// Untouched values keep defaults
	assert.Equal(t, "localhost", cfg.Postgres.Host)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("COLLAB_TOKEN_KEY", testTokenKey)
	t.Setenv("COLLAB_SERVER_PORT", "7070")
	t.Setenv("COLLAB_REDIS_DB", "3")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, 3, cfg.Redis.DB)
}

func TestValidate(t *testing.T) {
	t.Run("MissingTokenKey", func(t *testing.T) {
		cfg := getDefaultConfig()
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "token key")
	})

	t.Run("ShortTokenKey", func(t *testing.T) {
		cfg := getDefaultConfig()
		cfg.Collab.TokenKeyHex = "abcd"
		assert.Error(t, cfg.Validate())
	})

	t.Run("Valid", func(t *testing.T) {
		cfg := getDefaultConfig()
		cfg.Collab.TokenKeyHex = testTokenKey
		assert.NoError(t, cfg.Validate())
	})
}

func TestPostgresDSN(t *testing.T) {
	cfg := getDefaultConfig()
	dsn := cfg.PostgresDSN()
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "dbname=jessie")
	assert.Contains(t, dsn, "sslmode=disable")
}
