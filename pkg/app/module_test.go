package app

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/aeolun/craftlink/pkg/database"
	"github.com/aeolun/craftlink/pkg/protocol"
	"github.com/aeolun/craftlink/pkg/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func testParams(t *testing.T) Params {
	dir := t.TempDir()
	return Params{
		ConfigPath: filepath.Join(dir, "config.toml"),
		DBPath:     filepath.Join(dir, "data", "craftlink.db"),
		Version:    "test",
	}
}

// randomPorts moves the listeners to ephemeral ports and turns HTTP off
func randomPorts(cfg server.ServerConfig) server.ServerConfig {
	cfg.TCPPort = 0
	cfg.HTTPPort = 0
	return cfg
}

func TestModuleStartsServer(t *testing.T) {
	p := testParams(t)

	var srv *server.Server
	var db *database.DB
	app := fxtest.New(t,
		Module(p),
		fx.Decorate(randomPorts),
		fx.Populate(&srv, &db),
	)
	app.RequireStart()

	// A default config file is written on first run
	_, err := os.Stat(p.ConfigPath)
	require.NoError(t, err)
	_, err = os.Stat(p.DBPath)
	require.NoError(t, err)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, protocol.WriteFrame(conn, map[string]any{"type": "get_users_count", "seq": 1}))
	body, err := protocol.ReadFrame(conn, 0)
	require.NoError(t, err)
	var resp protocol.CountResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 0, resp.Count)

	app.RequireStop()

	// Stopping closes the database
	_, err = db.CountUsers()
	assert.Error(t, err)
}

func TestProvideConfigOverrides(t *testing.T) {
	p := testParams(t)
	p.TCPPort = 9100
	p.HTTPPort = 9101
	p.Debug = true

	cfg, err := provideConfig(p)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.TCPPort)
	assert.Equal(t, 9101, cfg.Server.HTTPPort)
	assert.Equal(t, p.DBPath, cfg.Server.DatabasePath)
	assert.True(t, cfg.Logging.Debug)
}

func TestProvideCommandsDisabled(t *testing.T) {
	cfg := server.DefaultTOMLConfig()
	lc := fxtest.NewLifecycle(t)
	assert.Nil(t, provideCommands(cfg, zap.NewNop(), lc))

	cfg.RCON.Enabled = true
	assert.NotNil(t, provideCommands(cfg, zap.NewNop(), lc))
}
