package renderpass

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachReturnsSequentialIDs(t *testing.T) {
	b := New(nil, 256, 256)
	color := b.Attach(vk.AttachmentDescription{Format: vk.FormatR8g8b8a8Unorm})
	depth := b.Attach(vk.AttachmentDescription{Format: vk.FormatD32Sfloat})

	assert.Equal(t, 0, color)
	assert.Equal(t, 1, depth)
	assert.Len(t, b.attachments, 2)
}

func TestSetupClearGrowsToFitID(t *testing.T) {
	b := New(nil, 1, 1)
	clear := vk.ClearValue{}
	clear.SetColor([]float32{0, 0, 0, 1})
	b.SetupClear(2, clear)

	require.Len(t, b.clearValues, 3)
}

func TestPushLayerFinalizesBoundReferences(t *testing.T) {
	b := New(nil, 1, 1)
	color := b.Attach(vk.AttachmentDescription{})
	depth := b.Attach(vk.AttachmentDescription{})

	b.BindColor(color, vk.ImageLayoutColorAttachmentOptimal)
	b.BindDepth(depth, vk.ImageLayoutDepthStencilAttachmentOptimal)
	b.PushLayer()

	require.Len(t, b.layers, 1)
	l := b.layers[0]
	assert.Equal(t, uint32(1), l.description.ColorAttachmentCount)
	require.NotNil(t, l.description.PDepthStencilAttachment)
	assert.Equal(t, uint32(depth), l.description.PDepthStencilAttachment.Attachment)

	// current resets so a second layer starts empty
	assert.Empty(t, b.current.colorRefs)
	assert.Nil(t, b.current.depthRef)
}

func TestAddDependencyUsesCurrentSubpassAsSource(t *testing.T) {
	b := New(nil, 1, 1)
	b.PushLayer() // subpass 0
	b.AddDependency(2, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit), 0, vk.AccessFlags(vk.AccessShaderReadBit))

	require.Len(t, b.deps, 1)
	assert.Equal(t, uint32(1), b.deps[0].SrcSubpass)
	assert.Equal(t, uint32(2), b.deps[0].DstSubpass)
}

func TestAddSelfDependencySetsByRegionFlag(t *testing.T) {
	b := New(nil, 1, 1)
	b.AddSelfDependency(vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit), vk.AccessFlags(vk.AccessColorAttachmentWriteBit), vk.AccessFlags(vk.AccessInputAttachmentReadBit))

	require.Len(t, b.deps, 1)
	d := b.deps[0]
	assert.Equal(t, d.SrcSubpass, d.DstSubpass)
	assert.NotZero(t, d.DependencyFlags&vk.DependencyFlags(vk.DependencyByRegionBit))
}

func TestResolvedDependenciesRetargetsDependencyPastLastSubpassToExternal(t *testing.T) {
	b := New(nil, 1, 1)
	color := b.Attach(vk.AttachmentDescription{})
	b.BindColor(color, vk.ImageLayoutColorAttachmentOptimal)
	// "to next" dependency recorded before PushLayer names subpass 1,
	// which this render pass never fills.
	b.AddDependency(1, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), vk.AccessFlags(vk.AccessColorAttachmentWriteBit), vk.AccessFlags(vk.AccessColorAttachmentReadBit))
	b.PushLayer()

	resolved := b.resolvedDependencies()
	require.Len(t, resolved, 1)
	assert.Equal(t, vk.SubpassExternal, resolved[0].DstSubpass)
}

func TestResolvedDependenciesLeavesInternalSubpassTargetsAlone(t *testing.T) {
	b := New(nil, 1, 1)
	b.PushLayer() // subpass 0
	b.PushLayer() // subpass 1
	b.AddDependency(1, 0, 0, 0, 0)

	resolved := b.resolvedDependencies()
	require.Len(t, resolved, 1)
	assert.Equal(t, uint32(1), resolved[0].DstSubpass)
}

func TestSubpassDescriptionsPreservesPushOrder(t *testing.T) {
	b := New(nil, 1, 1)
	first := b.Attach(vk.AttachmentDescription{})
	second := b.Attach(vk.AttachmentDescription{})

	b.BindColor(first, vk.ImageLayoutColorAttachmentOptimal)
	b.PushLayer()
	b.BindColor(second, vk.ImageLayoutColorAttachmentOptimal)
	b.PushLayer()

	descs := b.subpassDescriptions()
	require.Len(t, descs, 2)
	assert.Equal(t, uint32(first), descs[0].PColorAttachments[0].Attachment)
	assert.Equal(t, uint32(second), descs[1].PColorAttachments[0].Attachment)
}
