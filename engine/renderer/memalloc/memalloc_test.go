package memalloc

import (
	"testing"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMemHandle fabricates a distinct, comparable vk.DeviceMemory value
// for free-list tests that never touch the driver.
func fakeMemHandle(n uintptr) vk.DeviceMemory {
	return vk.DeviceMemory(unsafe.Pointer(n))
}

func newTestAllocator(chunkSize vk.DeviceSize) *Allocator {
	return &Allocator{
		chunkSize: chunkSize,
		batches:   []*memoryBatch{{mappedMemory: map[vk.DeviceMemory]*mappedMemory{}}},
	}
}

func TestInsertKeepsFreeListSortedAscendingBySize(t *testing.T) {
	a := newTestAllocator(1024)
	b := a.batches[0]
	mem := fakeMemHandle(1)

	a.insert(b, SubMemory{Memory: mem, Offset: 0, Size: 300, MemoryIndex: 0})
	a.insert(b, SubMemory{Memory: mem, Offset: 300, Size: 100, MemoryIndex: 0})
	a.insert(b, SubMemory{Memory: mem, Offset: 400, Size: 200, MemoryIndex: 0})

	sizes := make([]vk.DeviceSize, 0, 3)
	for _, s := range b.memory[0].availableSpaces {
		sizes = append(sizes, s.Size)
	}
	assert.Equal(t, []vk.DeviceSize{100, 200, 300}, sizes)
}

func TestMergeCoalescesAdjacentFreeRanges(t *testing.T) {
	a := newTestAllocator(1024)
	b := a.batches[0]
	mem := fakeMemHandle(1)

	a.insert(b, SubMemory{Memory: mem, Offset: 0, Size: 100, MemoryIndex: 0})
	a.insert(b, SubMemory{Memory: mem, Offset: 200, Size: 100, MemoryIndex: 0})

	middle := SubMemory{Memory: mem, Offset: 100, Size: 100, MemoryIndex: 0}
	a.merge(b, &middle)

	require.Equal(t, vk.DeviceSize(0), middle.Offset)
	require.Equal(t, vk.DeviceSize(300), middle.Size)
	assert.Empty(t, b.memory[0].availableSpaces)
}

func TestMergeIgnoresRangesFromADifferentChunk(t *testing.T) {
	a := newTestAllocator(1024)
	b := a.batches[0]

	a.insert(b, SubMemory{Memory: fakeMemHandle(2), Offset: 100, Size: 100, MemoryIndex: 0})

	sub := SubMemory{Memory: fakeMemHandle(1), Offset: 0, Size: 100, MemoryIndex: 0}
	a.merge(b, &sub)

	assert.Equal(t, vk.DeviceSize(100), sub.Size)
	assert.Len(t, b.memory[0].availableSpaces, 1)
}

func TestAllocateInSubMemorySplitsAlignmentPrefixAndSuffix(t *testing.T) {
	a := newTestAllocator(1024)
	b := a.batches[0]
	mem := fakeMemHandle(1)

	sub := SubMemory{Memory: mem, Offset: 16, Size: 256, MemoryIndex: 0}
	reqs := vk.MemoryRequirements{Size: 64, Alignment: 32}
	a.allocateInSubMemory(b, reqs, &sub)

	assert.Equal(t, vk.DeviceSize(64), sub.Size)
	assert.Equal(t, vk.DeviceSize(32), sub.Offset) // rounded up to the next alignment boundary

	var total vk.DeviceSize
	for _, free := range b.memory[0].availableSpaces {
		total += free.Size
	}
	assert.Equal(t, vk.DeviceSize(256-64), total) // the non-used prefix+suffix is preserved, nothing lost
}

func TestDedicatedSubMemoryReportsIsDedicated(t *testing.T) {
	mem := fakeMemHandle(1)
	sub := SubMemory{Memory: mem, Size: dedicatedSize}
	assert.True(t, sub.IsDedicated())
	assert.False(t, SubMemory{Memory: mem, Size: 128}.IsDedicated())
}

func TestShouldReleaseLowMemoryRespectsOncePerFrameGuard(t *testing.T) {
	a := newTestAllocator(256 * 1024 * 1024)
	a.hasReleasedUnusedMemory = true
	a.availableDeviceMemoryMB = 1
	a.deviceMemoryHeap = 0
	assert.False(t, a.shouldReleaseLowMemory(0))
}
