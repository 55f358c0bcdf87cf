package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytesEqual(t *testing.T) {
	assert.True(t, bytesEqual([]byte{1, 2, 3}, []byte{1, 2, 3}))
	assert.True(t, bytesEqual(nil, nil))
	assert.False(t, bytesEqual([]byte{1, 2}, []byte{1, 2, 3}))
	assert.False(t, bytesEqual([]byte{1, 2, 3}, []byte{1, 2, 4}))
}

func TestReleaseUnusedMemoryFiresOncePerFrame(t *testing.T) {
	calls := 0
	c := &Context{}
	release := func() { calls++ }

	c.ReleaseUnusedMemory(release)
	c.ReleaseUnusedMemory(release)
	assert.Equal(t, 1, calls, "a second call within the same frame must be suppressed")

	c.EndOfFrame()
	c.ReleaseUnusedMemory(release)
	assert.Equal(t, 2, calls, "EndOfFrame must reset the guard for the next frame")
}
