package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_PlacesLogFileUnderHome(t *testing.T) {
	// Given/When: building the default config for a home directory
	cfg := DefaultConfig("/home/test/.lifearchivist")

	// Then: the log path is nested under logs/, with sane rotation defaults
	assert.Equal(t, "/home/test/.lifearchivist/logs/archivist.log", cfg.FilePath)
	assert.Equal(t, 10, cfg.MaxSizeMB)
	assert.Equal(t, 5, cfg.MaxFiles)
	assert.True(t, cfg.WriteToStderr)
}

func TestSetup_WritesJSONLinesToFile(t *testing.T) {
	// Given: a config pointing at a file in a temp dir
	path := filepath.Join(t.TempDir(), "archivist.log")
	cfg := Config{Level: "info", FilePath: path, MaxSizeMB: 1, MaxFiles: 2}

	// When: setting up and logging a line
	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	defer cleanup()

	logger.Info("archive ready", slog.String("vault", "/tmp/vault"))

	// Then: the file contains the structured message
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "archive ready")
	assert.Contains(t, string(data), "/tmp/vault")
}

func TestSetup_EmptyFilePathWritesToStderrOnly(t *testing.T) {
	// Given: a config with no file path
	cfg := Config{Level: "info"}

	// When: setting up
	logger, cleanup, err := Setup(cfg)

	// Then: it succeeds and returns a no-op cleanup
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.NotPanics(t, cleanup)
}

func TestParseLevel_MapsNamesCaseInsensitively(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("Error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("unknown"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestRotatingWriter_RotatesWhenSizeExceeded(t *testing.T) {
	// Given: a writer with a tiny max size
	path := filepath.Join(t.TempDir(), "rotate.log")
	w, err := NewRotatingWriter(path, 0, 2)
	w.maxSize = 10
	require.NoError(t, err)
	defer w.Close()

	// When: writing past the size threshold twice
	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)
	_, err = w.Write([]byte("more-bytes"))
	require.NoError(t, err)

	// Then: a .1 rotated file exists alongside the active file
	_, err = os.Stat(path + ".1")
	assert.NoError(t, err)
}

func TestRotatingWriter_KeepsAtMostMaxFilesRotations(t *testing.T) {
	// Given: a writer capped at 2 rotations
	path := filepath.Join(t.TempDir(), "rotate.log")
	w, err := NewRotatingWriter(path, 0, 2)
	require.NoError(t, err)
	w.maxSize = 1
	defer w.Close()

	// When: writing enough lines to rotate three times
	for i := 0; i < 3; i++ {
		_, err := w.Write([]byte("xx"))
		require.NoError(t, err)
	}

	// Then: only .1 and .2 exist, not .3
	_, err = os.Stat(path + ".2")
	assert.NoError(t, err)
	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingWriter_Close_FlushesUnderlyingFile(t *testing.T) {
	// Given: an opened writer with content written
	path := filepath.Join(t.TempDir(), "rotate.log")
	w, err := NewRotatingWriter(path, 0, 0)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)

	// When: closing
	err = w.Close()

	// Then: it succeeds and the content is on disk
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}
