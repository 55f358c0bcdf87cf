package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corevk.toml")
	doc := `
application_name = "demo"
width = 640
height = 480
cache_path = "` + filepath.Join(dir, "cache") + `"
log_path = "` + filepath.Join(dir, "logs") + `"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.ApplicationName)
	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, 480, cfg.Height)
	// untouched fields keep their defaults
	assert.Equal(t, uint64(256), cfg.ChunkSizeMiB)
	assert.Equal(t, 1, cfg.MemoryBatchCount)

	_, err = os.Stat(cfg.CachePath)
	assert.NoError(t, err)
	_, err = os.Stat(cfg.LogPath)
	assert.NoError(t, err)
}

func TestChunkSizeBytesDisambiguatesMiBFromBytes(t *testing.T) {
	cfg := Config{ChunkSizeMiB: 256}
	assert.Equal(t, uint64(256<<20), cfg.ChunkSizeBytes())

	cfg.ChunkSizeMiB = 256 * 1024 // exactly the 256 KiB threshold: taken as bytes
	assert.Equal(t, uint64(256*1024), cfg.ChunkSizeBytes())

	cfg.ChunkSizeMiB = 8 * 1024 * 1024 // 8 MiB given directly as bytes
	assert.Equal(t, uint64(8*1024*1024), cfg.ChunkSizeBytes())
}

func TestLogLevelFallsBackToInfoOnGarbage(t *testing.T) {
	assert.Equal(t, "info", LogLevel("not-a-level").String())
	assert.Equal(t, "debug", LogLevel("debug").String())
}
