package pipeline

import (
	"testing"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddBindingQueuesBySet(t *testing.T) {
	l := NewLayout(nil)
	l.AddBinding(0, vk.DescriptorSetLayoutBinding{Binding: 0})
	l.AddBinding(0, vk.DescriptorSetLayoutBinding{Binding: 1})
	l.AddBinding(1, vk.DescriptorSetLayoutBinding{Binding: 0})

	assert.Len(t, l.pending[0], 2)
	assert.Len(t, l.pending[1], 1)
}

func TestAddPushConstantRangeAccumulates(t *testing.T) {
	l := NewLayout(nil)
	l.AddPushConstantRange(vk.ShaderStageFlags(vk.ShaderStageVertexBit), 0, 16)
	l.AddPushConstantRange(vk.ShaderStageFlags(vk.ShaderStageFragmentBit), 16, 32)

	require.Len(t, l.pushConstants, 2)
	assert.Equal(t, uint32(16), l.pushConstants[0].Size)
	assert.Equal(t, uint32(16), l.pushConstants[1].Offset)
}

func TestSetGlobalPipelineLayoutRedirectsBuild(t *testing.T) {
	shared := NewLayout(nil)

	dependent := NewLayout(nil)
	dependent.SetGlobalPipelineLayout(shared)

	assert.Same(t, shared, dependent.global)
}

func TestBuildReturnsCachedHandleWithoutRebuilding(t *testing.T) {
	l := NewLayout(nil)
	sentinel := vk.PipelineLayout(unsafe.Pointer(uintptr(1)))
	l.handle = sentinel

	handle, err := l.Build()
	require.NoError(t, err)
	assert.Equal(t, sentinel, handle)
}
