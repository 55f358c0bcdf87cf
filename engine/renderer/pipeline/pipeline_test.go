package pipeline

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecializationArenaPacksEntriesAtSequentialOffsets(t *testing.T) {
	var a SpecializationArena
	a.AddConstant(0, []byte{1, 2, 3, 4})
	a.AddConstant(1, []byte{5, 6})

	require.Len(t, a.entries, 2)
	assert.Equal(t, uint32(0), a.entries[0].Offset)
	assert.Equal(t, uint(4), a.entries[0].Size)
	assert.Equal(t, uint32(4), a.entries[1].Offset)
	assert.Equal(t, uint(2), a.entries[1].Size)
	assert.Len(t, a.blob, 6)
}

func TestSpecializationArenaInfoNilWhenEmpty(t *testing.T) {
	var a SpecializationArena
	assert.Nil(t, a.Info())
}

func TestSpecializationArenaInfoPointsAtPackedBlob(t *testing.T) {
	var a SpecializationArena
	a.AddConstant(3, []byte{9, 9})

	info := a.Info()
	require.NotNil(t, info)
	assert.Equal(t, uint32(1), info.MapEntryCount)
	assert.Equal(t, uint(2), info.DataSize)
	assert.NotNil(t, info.PData)
}

func TestAddStageRecordsStageAndSpecializationInLockstep(t *testing.T) {
	b := New(nil, NewLayout(nil), nil, 0)
	var spec SpecializationArena
	spec.AddConstant(0, []byte{1})

	b.AddStage(vk.ShaderStageVertexBit, nil, "main", &spec)
	b.AddStage(vk.ShaderStageFragmentBit, nil, "main", nil)

	require.Len(t, b.stages, 2)
	require.Len(t, b.specializations, 2)
	assert.Same(t, &spec, b.specializations[0])
	assert.Nil(t, b.specializations[1])
	assert.Equal(t, "main\x00", b.stages[0].PName)
}

func TestCloneLinksSiblingIntoBatch(t *testing.T) {
	layout := NewLayout(nil)
	b := New(nil, layout, nil, 0)
	sibling := b.Clone()

	require.Len(t, b.clones, 1)
	assert.Same(t, sibling, b.clones[0])
	assert.Same(t, layout, sibling.layout)
}

func TestCreateInfoDefaultsOneFullColorWriteMaskWhenNoBlendAttachmentAdded(t *testing.T) {
	b := New(nil, NewLayout(nil), nil, 0)
	info := b.createInfo()

	require.NotNil(t, info.PColorBlendState)
	require.Equal(t, uint32(1), info.PColorBlendState.AttachmentCount)
}

func TestCreateInfoOmitsDepthStencilStateWhenDisabled(t *testing.T) {
	b := New(nil, NewLayout(nil), nil, 0)
	info := b.createInfo()
	assert.Nil(t, info.PDepthStencilState)
}

func TestCreateInfoIncludesDepthStencilStateWhenEnabled(t *testing.T) {
	b := New(nil, NewLayout(nil), nil, 0)
	b.SetDepthStencil(true, true, vk.CompareOpLess)
	info := b.createInfo()

	require.NotNil(t, info.PDepthStencilState)
	assert.Equal(t, vk.True, info.PDepthStencilState.DepthTestEnable)
}

func TestCreateInfoIncludesTessellationStateOnlyWhenSet(t *testing.T) {
	b := New(nil, NewLayout(nil), nil, 0)
	assert.Nil(t, b.createInfo().PTessellationState)

	b.SetTessellation(4)
	info := b.createInfo()
	require.NotNil(t, info.PTessellationState)
	assert.Equal(t, uint32(4), info.PTessellationState.PatchControlPoints)
}
