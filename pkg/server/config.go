package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// envPrefix namespaces environment overrides: ROOMCHAT_SECTION_KEY.
const envPrefix = "ROOMCHAT"

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server  ServerSection  `toml:"server"`
	Limits  LimitsSection  `toml:"limits"`
	Logging LoggingSection `toml:"logging"`
}

type ServerSection struct {
	Host           string   `toml:"host" split_words:"true"`
	Port           int      `toml:"port" split_words:"true"`
	WebsocketAddr  string   `toml:"websocket_addr" split_words:"true"`
	AllowedOrigins []string `toml:"allowed_origins" split_words:"true"`
	SSHAddr        string   `toml:"ssh_addr" split_words:"true"`
	SSHHostKey     string   `toml:"ssh_host_key" split_words:"true"`
	MetricsAddr    string   `toml:"metrics_addr" split_words:"true"`
	KeyFile        string   `toml:"key_file" split_words:"true"`
	DatabasePath   string   `toml:"database_path" split_words:"true"`
}

type LimitsSection struct {
	ReadTimeoutMS int `toml:"read_timeout_ms" split_words:"true"`
	MaxLineBytes  int `toml:"max_line_bytes" split_words:"true"`
}

type LoggingSection struct {
	Level string `toml:"level" split_words:"true"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			Host:       "127.0.0.1",
			Port:       8888,
			SSHHostKey: "~/.roomchat/ssh_host_key",
		},
		Limits: LimitsSection{
			ReadTimeoutMS: 500,
			MaxLineBytes:  64 * 1024,
		},
		Logging: LoggingSection{
			Level: "info",
		},
	}
}

// LoadConfig builds the configuration from defaults, the TOML file at path
// (if path is non-empty) and ROOMCHAT_SECTION_KEY environment overrides, in
// that order. A missing file is created with the documented defaults.
func LoadConfig(path string) (TOMLConfig, error) {
	config := DefaultTOMLConfig()

	if path != "" {
		expanded, err := expandHome(path)
		if err != nil {
			return TOMLConfig{}, err
		}
		if _, err := os.Stat(expanded); os.IsNotExist(err) {
			// Can't write (permissions?) - still run on defaults
			_ = writeDefaultConfig(expanded)
		} else if _, err := toml.DecodeFile(expanded, &config); err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(&config); err != nil {
		return TOMLConfig{}, err
	}
	return config, nil
}

// applyEnvOverrides overwrites only the fields whose variable is set.
// Example: ROOMCHAT_SERVER_PORT=9000
func applyEnvOverrides(config *TOMLConfig) error {
	if err := envconfig.Process(envPrefix, config); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}
	return nil
}

// writeDefaultConfig writes the default config to a file with all options documented
func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := `# roomchat server configuration
# Environment variables override these settings:
# ROOMCHAT_SECTION_KEY (e.g., ROOMCHAT_SERVER_PORT=9000)

[server]
# Address for the line protocol over TCP
host = "127.0.0.1"
port = 8888

# Optional extra transports, disabled when empty
# websocket_addr = "127.0.0.1:8889"
# Browser origins allowed to connect to /ws. Empty allows any origin.
# allowed_origins = ["https://chat.example.com"]
# ssh_addr = "127.0.0.1:8890"
ssh_host_key = "~/.roomchat/ssh_host_key"

# Prometheus /metrics and /health, disabled when empty. Keep it internal.
# metrics_addr = "127.0.0.1:9090"

# X25519 server key. Empty means a fresh key on every start.
# key_file = "~/.roomchat/server_key"

# SQLite database. Empty keeps everything in memory.
# database_path = "~/.roomchat/roomchat.db"

[limits]
# How long the session loop waits for a command before draining the mailbox
read_timeout_ms = 500

# Longest accepted line in bytes
max_line_bytes = 65536

[logging]
# trace, debug, info, warn, error
level = "info"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() (ServerConfig, error) {
	cfg := DefaultConfig()

	if strings.TrimSpace(c.Server.Host) != "" {
		cfg.Host = c.Server.Host
	}
	if c.Server.Port != 0 {
		cfg.Port = c.Server.Port
	}
	cfg.WebsocketAddr = c.Server.WebsocketAddr
	cfg.AllowedOrigins = c.Server.AllowedOrigins
	cfg.SSHAddr = c.Server.SSHAddr
	cfg.MetricsAddr = c.Server.MetricsAddr

	var err error
	if cfg.SSHHostKeyPath, err = expandHome(c.Server.SSHHostKey); err != nil {
		return ServerConfig{}, err
	}
	if cfg.KeyPath, err = expandHome(c.Server.KeyFile); err != nil {
		return ServerConfig{}, err
	}
	if cfg.DatabasePath, err = expandHome(c.Server.DatabasePath); err != nil {
		return ServerConfig{}, err
	}

	if c.Limits.ReadTimeoutMS > 0 {
		cfg.ReadTimeout = time.Duration(c.Limits.ReadTimeoutMS) * time.Millisecond
	}
	if c.Limits.MaxLineBytes > 0 {
		cfg.MaxLineBytes = c.Limits.MaxLineBytes
	}
	if strings.TrimSpace(c.Logging.Level) != "" {
		cfg.LogLevel = c.Logging.Level
	}
	return cfg, nil
}

// expandHome expands a leading ~/ to the user's home directory.
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
