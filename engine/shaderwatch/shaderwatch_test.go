package shaderwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherMarksSpvWriteDirty(t *testing.T) {
	dir := t.TempDir()
	spv := filepath.Join(dir, "shader.spv")
	require.NoError(t, os.WriteFile(spv, []byte{0}, 0o644))

	w, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(spv, []byte{1, 2, 3}, 0o644))

	require.Eventually(t, func() bool {
		return w.IsDirty(spv)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherIgnoresNonSpvWrites(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte{0}, 0o644))

	w, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(txt, []byte{1}, 0o644))
	time.Sleep(200 * time.Millisecond)

	assert.False(t, w.IsDirty(txt))
}

func TestClearDirtyRemovesPath(t *testing.T) {
	w := &Watcher{dirty: map[string]bool{"a.spv": true}}
	w.ClearDirty("a.spv")
	assert.False(t, w.IsDirty("a.spv"))
}

func TestDirtyPathsReturnsEveryMarkedPath(t *testing.T) {
	w := &Watcher{dirty: map[string]bool{"a.spv": true, "b.spv": true}}
	assert.ElementsMatch(t, []string{"a.spv", "b.spv"}, w.DirtyPaths())
}
