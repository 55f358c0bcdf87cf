package vertex

import (
	"testing"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/corevk/engine/renderer/bufalloc"
)

// newTestAllocator backs a bufalloc.Allocator with real Go-owned memory
// (rather than a fake pointer) so Buffer/IndexBuffer's AddModel can
// safely write through bufalloc.Allocator.GetPtr without touching any
// real Vulkan call.
func newTestAllocator(t *testing.T, blockSize int) *bufalloc.Allocator {
	t.Helper()
	backing := make([]byte, blockSize)
	buf := vk.Buffer(unsafe.Pointer(uintptr(1)))
	return bufalloc.New(nil, buf, nil, blockSize, false, unsafe.Pointer(&backing[0]))
}

func TestArrayAccumulatesBindingsAndAttributesInOrder(t *testing.T) {
	a := New()
	a.AddBinding(0, 32, vk.VertexInputRateVertex)
	a.AddAttribute(0, 0, vk.FormatR32g32b32Sfloat, 0)
	a.AddAttribute(1, 0, vk.FormatR32g32Sfloat, 12)

	require.Len(t, a.BindingDescriptions(), 1)
	assert.Equal(t, uint32(32), a.BindingDescriptions()[0].Stride)

	require.Len(t, a.AttributeDescriptions(), 2)
	assert.Equal(t, uint32(12), a.AttributeDescriptions()[1].Offset)
}

func TestBufferAddModelReturnsSequentialVertexOffsets(t *testing.T) {
	alloc := newTestAllocator(t, 4096)
	buf, err := NewBuffer(alloc, 16, 64)
	require.NoError(t, err)

	off0, err := buf.AddModel(make([]byte, 16*4))
	require.NoError(t, err)
	assert.Equal(t, int32(0), off0)

	off1, err := buf.AddModel(make([]byte, 16*2))
	require.NoError(t, err)
	assert.Equal(t, int32(4), off1)
}

func TestBufferAddModelRejectsMisalignedData(t *testing.T) {
	alloc := newTestAllocator(t, 4096)
	buf, err := NewBuffer(alloc, 16, 64)
	require.NoError(t, err)

	_, err = buf.AddModel(make([]byte, 10))
	assert.Error(t, err)
}

func TestBufferAddModelRejectsDataPastCapacity(t *testing.T) {
	alloc := newTestAllocator(t, 4096)
	buf, err := NewBuffer(alloc, 16, 4)
	require.NoError(t, err)

	_, err = buf.AddModel(make([]byte, 16*8))
	assert.Error(t, err)
}

func TestBufferAddModelCopiesDataIntoBackingMemory(t *testing.T) {
	alloc := newTestAllocator(t, 4096)
	buf, err := NewBuffer(alloc, 4, 64)
	require.NoError(t, err)

	payload := []byte{1, 2, 3, 4}
	_, err = buf.AddModel(payload)
	require.NoError(t, err)

	got := unsafe.Slice((*byte)(alloc.GetPtr(buf.sub)), 4)
	assert.Equal(t, payload, got)
}

func TestIndexBufferAddModelReturnsSequentialIndexOffsets(t *testing.T) {
	alloc := newTestAllocator(t, 4096)
	ib, err := NewIndexBuffer(alloc, vk.IndexTypeUint16, 64)
	require.NoError(t, err)

	first0, err := ib.AddModel(make([]byte, 2*6))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), first0)

	first1, err := ib.AddModel(make([]byte, 2*3))
	require.NoError(t, err)
	assert.Equal(t, uint32(6), first1)
}

func TestIndexStrideMatchesIndexType(t *testing.T) {
	assert.Equal(t, 2, indexStride(vk.IndexTypeUint16))
	assert.Equal(t, 4, indexStride(vk.IndexTypeUint32))
}
