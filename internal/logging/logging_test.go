package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richardanaya/agent-office/internal/config"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, "json", slog.LevelInfo))

	logger.Debug("hidden")
	logger.Info("created node", "id", "n1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "created node", entry["msg"])
	assert.Equal(t, "n1", entry["id"])
}

func TestNewHandler_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, "text", slog.LevelDebug))

	logger.Debug("search", "limit", 50)
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "limit=50")
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "office.log")
	cfg := config.Default().Log
	cfg.Output = "file"
	cfg.File = path
	cfg.Format = "json"

	logger, closer, err := New(cfg)
	require.NoError(t, err)
	logger.Info("hello", "component", "test")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestNew_Errors(t *testing.T) {
	cfg := config.Default().Log
	cfg.Level = "loud"
	_, _, err := New(cfg)
	assert.Error(t, err)

	cfg = config.Default().Log
	cfg.Output = "file"
	_, _, err = New(cfg)
	assert.Error(t, err)

	cfg = config.Default().Log
	cfg.Output = "syslog"
	_, _, err = New(cfg)
	assert.Error(t, err)

	cfg = config.Default().Log
	logger, closer, err := New(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.NoError(t, closer.Close())
}
