package syncevent

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
)

func TestCompatConvStagePreservesKnownBits(t *testing.T) {
	in := vk.PipelineStageFlags2KHR(vk.PipelineStageFragmentShaderBit) | vk.PipelineStageFlags2KHR(vk.PipelineStageTransferBit)
	out := compatConvStage(in)
	assert.NotZero(t, out&vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit))
	assert.NotZero(t, out&vk.PipelineStageFlags(vk.PipelineStageTransferBit))
}

func TestCompatConvStageFallsBackToAllCommandsForUnknownBits(t *testing.T) {
	out := compatConvStage(vk.PipelineStageFlags2KHR(1) << 40)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit), out)
}

func TestCompatConvAccessPreservesKnownBits(t *testing.T) {
	in := vk.AccessFlags2KHR(vk.AccessShaderReadBit) | vk.AccessFlags2KHR(vk.AccessShaderWriteBit)
	out := compatConvAccess(in)
	assert.NotZero(t, out&vk.AccessFlags(vk.AccessShaderReadBit))
	assert.NotZero(t, out&vk.AccessFlags(vk.AccessShaderWriteBit))
}
