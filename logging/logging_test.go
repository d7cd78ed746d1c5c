package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWithoutPathIsNop(t *testing.T) {
	logger, err := New("", true)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.ErrorLevel))
}

func TestNewWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.log")
	logger, err := New(path, true)
	require.NoError(t, err)

	Component(logger, "acp").Debug("received", zap.String("method", "initialize"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	require.NotEmpty(t, line)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "received", entry["msg"])
	assert.Equal(t, "acp", entry["component"])
	assert.Equal(t, "initialize", entry["method"])
}

func TestComponentToleratesNil(t *testing.T) {
	assert.NotNil(t, Component(nil, "x"))
}
