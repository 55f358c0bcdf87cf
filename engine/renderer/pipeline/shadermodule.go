package pipeline

import (
	"encoding/binary"
	"fmt"

	vk "github.com/goki/vulkan"
)

// NewShaderModule creates a VkShaderModule from raw SPIR-V bytes. code
// must be a multiple of 4 bytes; decoding the bytecode itself (GLSL to
// SPIR-V compilation) is out of scope, code is assumed already
// compiled.
func NewShaderModule(device vk.Device, code []byte) (vk.ShaderModule, error) {
	if len(code)%4 != 0 {
		return nil, fmt.Errorf("shader bytecode length %d is not a multiple of 4", len(code))
	}

	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}

	info := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    words,
	}
	info.Deref()

	var module vk.ShaderModule
	if res := vk.CreateShaderModule(device, &info, nil, &module); res != vk.Success {
		return nil, fmt.Errorf("failed to create shader module: %d", res)
	}
	return module, nil
}

// DestroyShaderModule destroys a module created by NewShaderModule.
func DestroyShaderModule(device vk.Device, module vk.ShaderModule) {
	if module != nil {
		vk.DestroyShaderModule(device, module, nil)
	}
}
