package syncevent

import vk "github.com/goki/vulkan"

// compatConvStage downgrades a VkPipelineStageFlags2 value to its
// classic VkPipelineStageFlags equivalent, for drivers lacking
// VK_KHR_synchronization2. COPY, RESOLVE, BLIT and CLEAR collapse onto
// TRANSFER. Other sync2-only bits are dropped rather than rejected when
// classic bits are also present; a value made only of them becomes
// ALL_COMMANDS.
func compatConvStage(stage vk.PipelineStageFlags2KHR) vk.PipelineStageFlags {
	var out vk.PipelineStageFlags
	add := func(bit2 vk.PipelineStageFlags2KHR, bit1 vk.PipelineStageFlagBits) {
		if stage&bit2 != 0 {
			out |= vk.PipelineStageFlags(bit1)
		}
	}
	add(vk.PipelineStageFlags2KHR(vk.PipelineStageTopOfPipeBit), vk.PipelineStageTopOfPipeBit)
	add(vk.PipelineStageFlags2KHR(vk.PipelineStageDrawIndirectBit), vk.PipelineStageDrawIndirectBit)
	add(vk.PipelineStageFlags2KHR(vk.PipelineStageVertexInputBit), vk.PipelineStageVertexInputBit)
	add(vk.PipelineStageFlags2KHR(vk.PipelineStageVertexShaderBit), vk.PipelineStageVertexShaderBit)
	add(vk.PipelineStageFlags2KHR(vk.PipelineStageFragmentShaderBit), vk.PipelineStageFragmentShaderBit)
	add(vk.PipelineStageFlags2KHR(vk.PipelineStageEarlyFragmentTestsBit), vk.PipelineStageEarlyFragmentTestsBit)
	add(vk.PipelineStageFlags2KHR(vk.PipelineStageLateFragmentTestsBit), vk.PipelineStageLateFragmentTestsBit)
	add(vk.PipelineStageFlags2KHR(vk.PipelineStageColorAttachmentOutputBit), vk.PipelineStageColorAttachmentOutputBit)
	add(vk.PipelineStageFlags2KHR(vk.PipelineStageComputeShaderBit), vk.PipelineStageComputeShaderBit)
	add(vk.PipelineStageFlags2KHR(vk.PipelineStageTransferBit), vk.PipelineStageTransferBit)
	add(vk.PipelineStageFlags2KHR(vk.PipelineStageBottomOfPipeBit), vk.PipelineStageBottomOfPipeBit)
	add(vk.PipelineStageFlags2KHR(vk.PipelineStageHostBit), vk.PipelineStageHostBit)
	add(vk.PipelineStageFlags2KHR(vk.PipelineStageAllGraphicsBit), vk.PipelineStageAllGraphicsBit)
	add(vk.PipelineStageFlags2KHR(vk.PipelineStageAllCommandsBit), vk.PipelineStageAllCommandsBit)
	// sync2 COPY, RESOLVE, BLIT and CLEAR (bits 32-35) are transfer
	// operations in the classic API.
	if stage&vk.PipelineStageFlags2KHR(0xF<<32) != 0 {
		out |= vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	}
	if out == 0 {
		// sync2-only stage (INDEX_INPUT_BIT, VERTEX_ATTRIBUTE_INPUT_BIT,
		// ...) with no 1:1 classic equivalent: treat it
		// as a conservative ALL_COMMANDS dependency.
		out = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	}
	return out
}

// compatConvAccess downgrades a VkAccessFlags2 value to its classic
// VkAccessFlags equivalent, same rationale as compatConvStage.
func compatConvAccess(access vk.AccessFlags2KHR) vk.AccessFlags {
	var out vk.AccessFlags
	add := func(bit2 vk.AccessFlags2KHR, bit1 vk.AccessFlagBits) {
		if access&bit2 != 0 {
			out |= vk.AccessFlags(bit1)
		}
	}
	add(vk.AccessFlags2KHR(vk.AccessIndirectCommandReadBit), vk.AccessIndirectCommandReadBit)
	add(vk.AccessFlags2KHR(vk.AccessIndexReadBit), vk.AccessIndexReadBit)
	add(vk.AccessFlags2KHR(vk.AccessVertexAttributeReadBit), vk.AccessVertexAttributeReadBit)
	add(vk.AccessFlags2KHR(vk.AccessUniformReadBit), vk.AccessUniformReadBit)
	add(vk.AccessFlags2KHR(vk.AccessShaderReadBit), vk.AccessShaderReadBit)
	add(vk.AccessFlags2KHR(vk.AccessShaderWriteBit), vk.AccessShaderWriteBit)
	add(vk.AccessFlags2KHR(vk.AccessColorAttachmentReadBit), vk.AccessColorAttachmentReadBit)
	add(vk.AccessFlags2KHR(vk.AccessColorAttachmentWriteBit), vk.AccessColorAttachmentWriteBit)
	add(vk.AccessFlags2KHR(vk.AccessDepthStencilAttachmentReadBit), vk.AccessDepthStencilAttachmentReadBit)
	add(vk.AccessFlags2KHR(vk.AccessDepthStencilAttachmentWriteBit), vk.AccessDepthStencilAttachmentWriteBit)
	add(vk.AccessFlags2KHR(vk.AccessTransferReadBit), vk.AccessTransferReadBit)
	add(vk.AccessFlags2KHR(vk.AccessTransferWriteBit), vk.AccessTransferWriteBit)
	add(vk.AccessFlags2KHR(vk.AccessHostReadBit), vk.AccessHostReadBit)
	add(vk.AccessFlags2KHR(vk.AccessHostWriteBit), vk.AccessHostWriteBit)
	add(vk.AccessFlags2KHR(vk.AccessMemoryReadBit), vk.AccessMemoryReadBit)
	add(vk.AccessFlags2KHR(vk.AccessMemoryWriteBit), vk.AccessMemoryWriteBit)
	return out
}
