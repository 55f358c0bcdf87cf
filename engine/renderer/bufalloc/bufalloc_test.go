package bufalloc

import (
	"testing"
	"time"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T, blockSize int) *Allocator {
	t.Helper()
	buf := vk.Buffer(unsafe.Pointer(uintptr(1)))
	return New(nil, buf, nil, blockSize, false, nil)
}

func TestAcquireReleaseRoundTripRestoresSingleFreeRange(t *testing.T) {
	a := newTestAllocator(t, 4096)

	sub, err := a.AcquireBuffer(256)
	require.NoError(t, err)
	assert.Equal(t, 0, sub.Offset)
	assert.Equal(t, 256, sub.Size)

	a.ReleaseBuffer(sub)

	require.Len(t, a.buckets, 1)
	assert.Equal(t, 4096, a.buckets[0].size)
}

func TestAcquireBufferSplitsRemainderIntoNewBucket(t *testing.T) {
	a := newTestAllocator(t, 4096)

	sub, err := a.AcquireBuffer(1024)
	require.NoError(t, err)
	assert.Equal(t, 1024, sub.Size)

	var total int
	for _, b := range a.buckets {
		for range b.ranges {
			total += b.size
		}
	}
	assert.Equal(t, 4096-1024, total)
}

func TestAcquireBufferFailsWhenNothingFits(t *testing.T) {
	a := newTestAllocator(t, 128)
	_, err := a.AcquireBuffer(256)
	assert.Error(t, err)
}

func TestAcquireBufferRoundsUpToUniformAlignment(t *testing.T) {
	a := newTestAllocator(t, 4096)
	a.isUniform = true
	SetUniformOffsetAlignment(256)

	sub, err := a.AcquireBuffer(10)
	require.NoError(t, err)
	assert.Equal(t, 256, sub.Size)
}

func TestReleaseBufferCoalescesAdjacentFreeRanges(t *testing.T) {
	a := newTestAllocator(t, 4096)

	first, err := a.AcquireBuffer(1024)
	require.NoError(t, err)
	second, err := a.AcquireBuffer(1024)
	require.NoError(t, err)

	a.ReleaseBuffer(first)
	a.ReleaseBuffer(second)

	// every freed range should have recombined with the remaining
	// untouched tail into one 4096-byte bucket again
	require.Len(t, a.buckets, 1)
	assert.Equal(t, 4096, a.buckets[0].size)
}

func TestFastAcquireBufferIsABumpAllocator(t *testing.T) {
	a := newTestAllocator(t, 1024)

	first, ok := a.FastAcquireBuffer(512)
	require.True(t, ok)
	assert.Equal(t, 0, first.Offset)

	second, ok := a.FastAcquireBuffer(512)
	require.True(t, ok)
	assert.Equal(t, 512, second.Offset)

	_, ok = a.FastAcquireBuffer(1)
	assert.False(t, ok)

	a.Reset()
	third, ok := a.FastAcquireBuffer(512)
	require.True(t, ok)
	assert.Equal(t, 0, third.Offset)
}

func TestAsyncReleaseEventuallyCoalesces(t *testing.T) {
	a := newTestAllocator(t, 4096)
	a.EnableAsyncRelease()
	defer a.DisableAsyncRelease()

	sub, err := a.AcquireBuffer(512)
	require.NoError(t, err)
	a.ReleaseBufferAsync(sub)

	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return len(a.buckets) == 1 && a.buckets[0].size == 4096
	}, time.Second, time.Millisecond)
}
