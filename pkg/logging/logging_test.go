package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")

	logger, level, err := New(false, path)
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, level.Level())

	logger.Debug("hidden")
	logger.Info("visible")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"msg":"visible"`)
	assert.Contains(t, out, `"ts":`)
	assert.NotContains(t, out, "hidden")
}

func TestSetDebugFlipsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	logger, level, err := New(false, path)
	require.NoError(t, err)

	SetDebug(level, true)
	logger.Debug("now visible")
	SetDebug(level, false)
	logger.Debug("hidden again")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "visible"))
	assert.NotContains(t, string(data), "hidden again")
}
