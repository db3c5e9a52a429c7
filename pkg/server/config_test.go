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
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig(), cfg)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Craftlink Server Configuration")
	assert.Contains(t, string(data), "tcp_port = 8000")

	// A second load parses the file it just wrote
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadConfigRejectsInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\ntcp_port = "), 0644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestToServerConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
tcp_port = 9100

[limits]
max_frame_size = 1024
idle_timeout_seconds = 30

[rewards]
coin_gift_daily_limit = 7

[rcon]
enabled = true
password = "hunter2"
`), 0644))

	toml, err := LoadConfig(path)
	require.NoError(t, err)
	cfg := toml.ToServerConfig()

	assert.Equal(t, 9100, cfg.TCPPort)
	assert.Equal(t, 8080, cfg.HTTPPort, "unset keys keep defaults")
	assert.Equal(t, uint32(1024), cfg.MaxFrameSize)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 7, cfg.CoinGiftDailyLimit)
	assert.Equal(t, 1, cfg.StarGiftDailyLimit)
	assert.True(t, toml.RCON.Enabled)
	assert.Equal(t, 5*time.Second, toml.RCONTimeout())
}

func TestGetDatabasePathExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg := DefaultTOMLConfig()
	path, err := cfg.GetDatabasePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".craftlink", "craftlink.db"), path)
}
