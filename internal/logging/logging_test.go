package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConsoleLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: "warn", Output: &buf})
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown", zap.Int("n", 1))
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "WARN")
}

func TestBadLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestQuietDiscards(t *testing.T) {
	log, err := New(Options{Quiet: true})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zap.ErrorLevel))
}

func TestTeeWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	base, err := New(Options{Level: "info", Output: &buf})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "coordinator.log")
	log, closeFn, err := Tee(base, path)
	require.NoError(t, err)
	log.Debug("file only", zap.String("run_id", "r1"))
	log.Info("both")
	require.NoError(t, closeFn())

	assert.NotContains(t, buf.String(), "file only")
	assert.Contains(t, buf.String(), "both")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "file only", entry["msg"])
	assert.Equal(t, "r1", entry["run_id"])
}
