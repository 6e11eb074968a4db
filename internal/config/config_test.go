package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "nonexistent")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, int64(32768), cfg.ReadLimit)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.Equal(t, uint16(40000), cfg.Engine.RTCMinPort)
	assert.Equal(t, uint16(49999), cfg.Engine.RTCMaxPort)
	assert.Equal(t, "127.0.0.1", cfg.Engine.AnnouncedIP)
}

func TestLoadRejectsZeroWorkers(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "config", "config.test.yaml"),
		[]byte("engine:\n  workers: 0\n"),
		0o644,
	))
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.workers")
}
