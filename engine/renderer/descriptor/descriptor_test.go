package descriptor

import (
	"testing"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeLayout(n uintptr) vk.DescriptorSetLayout {
	return vk.DescriptorSetLayout(unsafe.Pointer(n))
}

func fakeSet(n uintptr) vk.DescriptorSet {
	return vk.DescriptorSet(unsafe.Pointer(n))
}

func newTestManager() *Manager {
	return &Manager{reclaim: make(map[vk.DescriptorSetLayout][]vk.DescriptorSet)}
}

func TestWriteBufferMarksSetDirty(t *testing.T) {
	s := &Set{handle: fakeSet(1)}
	assert.False(t, s.dirty)

	s.WriteBuffer(0, vk.DescriptorTypeUniformBuffer, vk.DescriptorBufferInfo{Range: vk.WholeSize})

	require.Len(t, s.writes, 1)
	assert.True(t, s.dirty)
	assert.Equal(t, s.handle, s.writes[0].DstSet)
}

func TestWriteImageAppendsSeparateWriteFromWriteBuffer(t *testing.T) {
	s := &Set{handle: fakeSet(1)}
	s.WriteBuffer(0, vk.DescriptorTypeUniformBuffer, vk.DescriptorBufferInfo{})
	s.WriteImage(1, vk.DescriptorTypeCombinedImageSampler, vk.DescriptorImageInfo{})

	require.Len(t, s.writes, 2)
	assert.Equal(t, vk.DescriptorTypeUniformBuffer, s.writes[0].DescriptorType)
	assert.Equal(t, vk.DescriptorTypeCombinedImageSampler, s.writes[1].DescriptorType)
}

func TestReleaseQueuesHandleUnderItsLayout(t *testing.T) {
	m := newTestManager()
	layout := fakeLayout(7)
	s := &Set{manager: m, handle: fakeSet(1), layout: layout}

	s.Release()

	require.Len(t, m.reclaim[layout], 1)
	assert.Equal(t, s.handle, m.reclaim[layout][0])
}

func TestAcquireReusesAReleasedSetForTheSameLayout(t *testing.T) {
	m := newTestManager()
	layout := fakeLayout(7)
	released := fakeSet(42)
	m.reclaim[layout] = []vk.DescriptorSet{released}

	set, err := m.Acquire(layout)
	require.NoError(t, err)
	assert.Equal(t, released, set.Handle())
	assert.Empty(t, m.reclaim[layout])
}

func TestReclaimQueuesAreIsolatedPerLayout(t *testing.T) {
	m := newTestManager()
	layout := fakeLayout(7)
	other := fakeLayout(9)
	m.reclaim[other] = []vk.DescriptorSet{fakeSet(5)}

	assert.Empty(t, m.reclaim[layout])
	assert.Len(t, m.reclaim[other], 1)
}

func TestPushWriteBufferQueuesWrite(t *testing.T) {
	p := NewPush(nil, 0)
	p.WriteBuffer(0, vk.DescriptorTypeUniformBuffer, vk.DescriptorBufferInfo{})
	require.Len(t, p.writes, 1)
}
