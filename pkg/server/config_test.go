package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courier.toml")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5000, config.Server.ListenPort)
	assert.Equal(t, 8080, config.Server.HTTPPort)

	// The default file was written and parses back to the same values.
	_, err = os.Stat(path)
	require.NoError(t, err)

	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config, again)
}

func TestLoadConfigParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courier.toml")
	content := `
[server]
listen_port = 6000
http_port = 0
metrics_port = 9191
database_path = "/var/lib/courier/courier.db"
files_dir = "/var/lib/courier/files"

[limits]
session_timeout_seconds = 300
write_timeout_seconds = 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 6000, config.Server.ListenPort)
	assert.Equal(t, 0, config.Server.HTTPPort)
	assert.Equal(t, 9191, config.Server.MetricsPort)

	cfg := config.ToServerConfig()
	assert.Equal(t, 6000, cfg.ListenPort)
	assert.Equal(t, 5*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)

	dbPath, err := config.GetDatabasePath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/courier/courier.db", dbPath)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courier.toml")
	t.Setenv("COURIER_SERVER_LISTEN_PORT", "7123")
	t.Setenv("COURIER_LIMITS_SESSION_TIMEOUT_SECONDS", "30")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7123, config.Server.ListenPort)
	assert.Equal(t, 30, config.Limits.SessionTimeoutSeconds)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	expanded, err := expandHome("~/.courier/courier.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".courier/courier.db"), expanded)

	// Absolute paths pass through untouched.
	expanded, err = expandHome("/tmp/x.db")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", expanded)
}
