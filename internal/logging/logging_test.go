package logging

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestSetup_WritesJSONLines(t *testing.T) {
	// Given: a logger writing to a temp file
	path := filepath.Join(t.TempDir(), "logs", "mapview.log")
	logger, cleanup, err := Setup(Config{Level: "debug", FilePath: path, MaxSizeMB: 1, MaxFiles: 2})
	require.NoError(t, err)

	// When: logging a structured record
	logger.Debug("archive indexed", slog.String("archive", "mem://a"), slog.Int64("version", 7))
	cleanup()

	// Then: the file holds one JSON object with the attributes
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var rec map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
	assert.Equal(t, "archive indexed", rec["msg"])
	assert.Equal(t, "mem://a", rec["archive"])
	assert.Equal(t, float64(7), rec["version"])
}

func TestSetup_LevelFiltersRecords(t *testing.T) {
	// Given: an info-level logger
	path := filepath.Join(t.TempDir(), "mapview.log")
	logger, cleanup, err := Setup(Config{Level: "info", FilePath: path})
	require.NoError(t, err)

	// When: logging below the level
	logger.Debug("hidden")
	logger.Info("shown")
	cleanup()

	// Then: only the info record is written
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestSetup_NoOutputs(t *testing.T) {
	logger, cleanup, err := Setup(Config{})
	require.NoError(t, err)
	logger.Info("discarded")
	cleanup()
}

func TestSetup_RotatesLogFile(t *testing.T) {
	// Given: a file logger with a 1MB limit and two backups
	dir := t.TempDir()
	path := filepath.Join(dir, "mapview.log")
	logger, cleanup, err := Setup(Config{Level: "info", FilePath: path, MaxSizeMB: 1, MaxFiles: 2})
	require.NoError(t, err)
	defer cleanup()

	// When: logging past the limit
	payload := strings.Repeat("x", 600*1024)
	for i := 0; i < 3; i++ {
		logger.Info("bulk", "payload", payload)
	}

	// Then: the live file is under the limit and a timestamped backup exists
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(1024*1024))
	backups, err := filepath.Glob(filepath.Join(dir, "mapview-*.log"))
	require.NoError(t, err)
	assert.NotEmpty(t, backups)
}

func TestSetup_CleanupClosesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.log")
	logger, cleanup, err := Setup(Config{FilePath: path})
	require.NoError(t, err)

	logger.Info("before")
	cleanup()
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "before")
}

func TestDefaultPaths(t *testing.T) {
	assert.True(t, strings.HasSuffix(DefaultLogPath(), filepath.Join(".mapview", "logs", "mapview.log")))
	assert.True(t, DebugConfig().WriteToStderr)
	assert.False(t, ServeConfig("debug").WriteToStderr)
}
