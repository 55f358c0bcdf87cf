package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiateFeaturesEnablesRequiredAndPreferred(t *testing.T) {
	available := vk.PhysicalDeviceFeatures{
		SamplerAnisotropy: vk.True,
		GeometryShader:    vk.True,
	}
	required := vk.PhysicalDeviceFeatures{SamplerAnisotropy: vk.True}
	preferred := vk.PhysicalDeviceFeatures{GeometryShader: vk.True, TessellationShader: vk.True}

	enabled, err := negotiateFeatures(available, required, preferred)
	require.NoError(t, err)

	assert.Equal(t, vk.True, enabled.SamplerAnisotropy)
	assert.Equal(t, vk.True, enabled.GeometryShader)
	assert.Equal(t, vk.False, enabled.TessellationShader, "unsupported preferred feature must be pruned, not enabled")
}

func TestNegotiateFeaturesFailsOnUnsupportedRequired(t *testing.T) {
	available := vk.PhysicalDeviceFeatures{}
	required := vk.PhysicalDeviceFeatures{SamplerAnisotropy: vk.True}

	_, err := negotiateFeatures(available, required, vk.PhysicalDeviceFeatures{})
	assert.Error(t, err)
}

func TestUniqueFamilyIndicesDeduplicates(t *testing.T) {
	families := []*QueueFamily{
		{Index: 0},
		{Index: 1},
		{Index: 0},
	}
	assert.Equal(t, []uint32{0, 1}, uniqueFamilyIndices(families))
}

func TestHasCapability(t *testing.T) {
	families := []*QueueFamily{
		{Index: 0, Graphics: true},
		{Index: 1, Transfer: true},
	}
	assert.True(t, hasCapability(families, func(f *QueueFamily) bool { return f.Transfer }))
	assert.False(t, hasCapability(families, func(f *QueueFamily) bool { return f.Compute }))
}

func TestFirstFamily(t *testing.T) {
	c := &Context{Families: []*QueueFamily{
		{Index: 0, Graphics: true},
		{Index: 1, Compute: true},
	}}
	f := c.firstFamily(func(f *QueueFamily) bool { return f.Compute })
	require.NotNil(t, f)
	assert.Equal(t, uint32(1), f.Index)

	assert.Nil(t, c.firstFamily(func(f *QueueFamily) bool { return f.Present }))
}
