package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	ListenPort   int    `toml:"listen_port"`
	HTTPPort     int    `toml:"http_port"`
	MetricsPort  int    `toml:"metrics_port"`
	DatabasePath string `toml:"database_path"`
	FilesDir     string `toml:"files_dir"`
}

type LimitsSection struct {
	SessionTimeoutSeconds int `toml:"session_timeout_seconds"`
	WriteTimeoutSeconds   int `toml:"write_timeout_seconds"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			ListenPort:   5000,
			HTTPPort:     8080,
			MetricsPort:  9090,
			DatabasePath: "~/.courier/courier.db",
			FilesDir:     "~/.courier/files",
		},
		Limits: LimitsSection{
			SessionTimeoutSeconds: 0, // disabled: clients block idle awaiting pushes
			WriteTimeoutSeconds:   30,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not
// found, and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// Best effort: if the default file can't be written we still run
		// with defaults.
		_ = writeDefaultConfig(path)
		return applyEnvOverrides(config), nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables follow the pattern: COURIER_SECTION_KEY
// Example: COURIER_SERVER_LISTEN_PORT=6000
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	if val := os.Getenv("COURIER_SERVER_LISTEN_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.ListenPort = port
		}
	}
	if val := os.Getenv("COURIER_SERVER_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.HTTPPort = port
		}
	}
	if val := os.Getenv("COURIER_SERVER_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.MetricsPort = port
		}
	}
	if val := os.Getenv("COURIER_SERVER_DATABASE_PATH"); val != "" {
		config.Server.DatabasePath = val
	}
	if val := os.Getenv("COURIER_SERVER_FILES_DIR"); val != "" {
		config.Server.FilesDir = val
	}
	if val := os.Getenv("COURIER_LIMITS_SESSION_TIMEOUT_SECONDS"); val != "" {
		if timeout, err := strconv.Atoi(val); err == nil {
			config.Limits.SessionTimeoutSeconds = timeout
		}
	}
	if val := os.Getenv("COURIER_LIMITS_WRITE_TIMEOUT_SECONDS"); val != "" {
		if timeout, err := strconv.Atoi(val); err == nil {
			config.Limits.WriteTimeoutSeconds = timeout
		}
	}
	return config
}

// writeDefaultConfig writes the default config to a file with all options
// documented
func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := `# Courier Server Configuration
# This file was auto-generated with default values.
# Restart the server for changes to take effect.
#
# Environment variables can override these settings:
# COURIER_SECTION_KEY (e.g., COURIER_SERVER_LISTEN_PORT=6000)

[server]
# Port for client TCP connections
listen_port = 5000

# Port for the public HTTP server (/ws WebSocket endpoint)
# Set to 0 to disable
http_port = 8080

# Port for the internal metrics server (/metrics, /health)
# Never expose publicly. Set to 0 to disable.
metrics_port = 9090

# Path to the SQLite database file
database_path = "~/.courier/courier.db"

# Directory for relayed file payloads
files_dir = "~/.courier/files"

[limits]
# Idle session timeout in seconds. Sessions that send no request for this
# long are disconnected. 0 disables the idle reaper (clients with no
# keepalive traffic would otherwise lose their push connection).
session_timeout_seconds = 0

# Per-envelope write timeout in seconds
write_timeout_seconds = 30
`

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ServerConfig holds the resolved runtime configuration.
type ServerConfig struct {
	ListenPort     int
	HTTPPort       int // 0 = WebSocket endpoint disabled
	MetricsPort    int // 0 = metrics endpoint disabled
	SessionTimeout time.Duration
	WriteTimeout   time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		ListenPort:     5000,
		HTTPPort:       8080,
		MetricsPort:    9090,
		SessionTimeout: 0,
		WriteTimeout:   30 * time.Second,
	}
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if c.Server.ListenPort != 0 {
		cfg.ListenPort = c.Server.ListenPort
	}
	cfg.HTTPPort = c.Server.HTTPPort
	cfg.MetricsPort = c.Server.MetricsPort
	cfg.SessionTimeout = time.Duration(c.Limits.SessionTimeoutSeconds) * time.Second
	if c.Limits.WriteTimeoutSeconds != 0 {
		cfg.WriteTimeout = time.Duration(c.Limits.WriteTimeoutSeconds) * time.Second
	}
	return cfg
}

// GetDatabasePath returns the database path with ~ expanded
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	return expandHome(c.Server.DatabasePath)
}

// GetFilesDir returns the file store directory with ~ expanded
func (c *TOMLConfig) GetFilesDir() (string, error) {
	return expandHome(c.Server.FilesDir)
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}
