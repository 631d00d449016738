package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alesr/tidslinje"
	"github.com/alesr/tidslinje/compress"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	t.Parallel()

	data := []byte(`
log:
  level: debug
  format: json
grabber:
  width: 320
  height: 240
  format: bgra8
  fps: 15
  capacity: 45
  exhaustion_policy: drop-newest
tracker:
  tools: [pointer, stylus, reference]
  rate_hz: 120
synchronizer:
  tolerance_ms: 8.5
snapshot:
  compression: lz4
exporter:
  base_url: http://localhost:8080
  compression: s2
  timeout: 2s
`)

	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Log.Format)
	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	assert.Equal(t, 320, cfg.Grabber.Width)
	assert.Equal(t, "bgra8", cfg.Grabber.Format)
	assert.Equal(t, 45, cfg.Grabber.Capacity)
	assert.Equal(t, 85, cfg.Grabber.JPEGQuality, "unset values keep their default")
	assert.Equal(t, "out", cfg.Grabber.OutputDir)

	assert.Equal(t, []string{"pointer", "stylus", "reference"}, cfg.Tracker.Tools)
	assert.Equal(t, 180, cfg.Tracker.Capacity)
	assert.InDelta(t, 8.5, cfg.Synchronizer.ToleranceMs, 1e-9)

	assert.Equal(t, compress.LZ4, cfg.Snapshot.Compression)
	assert.Equal(t, compress.S2, cfg.Exporter.Compression)
	assert.Equal(t, 2*time.Second, cfg.Exporter.Timeout)
	assert.Equal(t, "http://localhost:8080", cfg.Exporter.BaseURL)
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		yaml     string
		contains string
	}{
		{name: "malformed yaml", yaml: "grabber: [", contains: "failed to parse config"},
		{name: "unknown compression", yaml: "snapshot:\n  compression: brotli", contains: "unknown compression type"},
		{name: "bad level", yaml: "log:\n  level: loud", contains: "log.level"},
		{name: "bad format", yaml: "log:\n  format: xml", contains: "log.format"},
		{name: "zero width", yaml: "grabber:\n  width: 0", contains: "grabber size"},
		{name: "bad pixel format", yaml: "grabber:\n  format: yuv", contains: "grabber.format"},
		{name: "zero fps", yaml: "grabber:\n  fps: 0", contains: "grabber.fps"},
		{name: "bad policy", yaml: "grabber:\n  exhaustion_policy: block", contains: "grabber.exhaustion_policy"},
		{name: "jpeg quality", yaml: "grabber:\n  jpeg_quality: 101", contains: "jpeg_quality"},
		{name: "no tools", yaml: "tracker:\n  tools: []", contains: "tracker.tools"},
		{name: "negative tolerance", yaml: "synchronizer:\n  tolerance_ms: -1", contains: "tolerance_ms"},
		{name: "exporter timeout", yaml: "exporter:\n  base_url: http://x\n  timeout: 0s", contains: "exporter.timeout"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tc.contains)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tlgrab.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grabber:\n  fps: 25\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Grabber.FPS)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseExhaustionPolicy(t *testing.T) {
	t.Parallel()

	p, err := ParseExhaustionPolicy("evict-oldest")
	require.NoError(t, err)
	assert.Equal(t, tidslinje.EvictOldest, p)

	p, err = ParseExhaustionPolicy("")
	require.NoError(t, err)
	assert.Equal(t, tidslinje.DropNewest, p)

	_, err = ParseExhaustionPolicy("block")
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	for _, format := range []string{"text", "json"} {
		logger, err := LogConfig{Level: "warn", Format: format}.NewLogger()
		require.NoError(t, err)
		assert.False(t, logger.Enabled(t.Context(), slog.LevelInfo))
		assert.True(t, logger.Enabled(t.Context(), slog.LevelError))
	}
}
