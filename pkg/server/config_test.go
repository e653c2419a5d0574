package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "roomchat.toml")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig(), config)

	// The documented default file parses back to the same values
	_, err = os.Stat(path)
	require.NoError(t, err)
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config, again)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roomchat.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
host = "0.0.0.0"
port = 7000
websocket_addr = ":7001"
allowed_origins = ["https://chat.local"]
database_path = "/var/lib/roomchat.db"

[limits]
read_timeout_ms = 250

[logging]
level = "debug"
`), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	server, err := config.ToServerConfig()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", server.Host)
	assert.Equal(t, 7000, server.Port)
	assert.Equal(t, ":7001", server.WebsocketAddr)
	assert.Equal(t, []string{"https://chat.local"}, server.AllowedOrigins)
	assert.Equal(t, "", server.SSHAddr)
	assert.Equal(t, "/var/lib/roomchat.db", server.DatabasePath)
	assert.Equal(t, 250*time.Millisecond, server.ReadTimeout)
	assert.Equal(t, 64*1024, server.MaxLineBytes)
	assert.Equal(t, "debug", server.LogLevel)
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roomchat.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nport = "), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ROOMCHAT_SERVER_PORT", "9000")
	t.Setenv("ROOMCHAT_SERVER_SSH_ADDR", "127.0.0.1:2222")
	t.Setenv("ROOMCHAT_LIMITS_READ_TIMEOUT_MS", "100")
	t.Setenv("ROOMCHAT_LOGGING_LEVEL", "warn")
	t.Setenv("ROOMCHAT_SERVER_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, "127.0.0.1:2222", config.Server.SSHAddr)
	assert.Equal(t, 100, config.Limits.ReadTimeoutMS)
	assert.Equal(t, "warn", config.Logging.Level)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, config.Server.AllowedOrigins)

	// Unset variables keep their defaults
	assert.Equal(t, "127.0.0.1", config.Server.Host)
}

func TestEnvOverrideInvalid(t *testing.T) {
	t.Setenv("ROOMCHAT_SERVER_PORT", "not-a-number")

	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestToServerConfigExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	config := DefaultTOMLConfig()
	config.Server.KeyFile = "~/.roomchat/server_key"

	server, err := config.ToServerConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".roomchat", "server_key"), server.KeyPath)
	assert.Equal(t, filepath.Join(home, ".roomchat", "ssh_host_key"), server.SSHHostKeyPath)
}

func TestConfigureLogging(t *testing.T) {
	assert.Error(t, ConfigureLogging("loud"))
}
