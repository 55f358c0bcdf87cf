package pipeline

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/corevk/engine/core"
)

// Layout accumulates descriptor-set-layout bindings per set and
// push-constant ranges, producing a VkPipelineLayout on Build. A
// layout can instead reference another already-built one via
// SetGlobalPipelineLayout, in which case Build defers to it entirely.
type Layout struct {
	device vk.Device

	pending    map[uint32][]vk.DescriptorSetLayoutBinding
	setLayouts []vk.DescriptorSetLayout

	pushConstants []vk.PushConstantRange

	global *Layout
	handle vk.PipelineLayout
}

// NewLayout creates an empty layout builder.
func NewLayout(device vk.Device) *Layout {
	return &Layout{device: device, pending: make(map[uint32][]vk.DescriptorSetLayoutBinding)}
}

// AddBinding queues binding for inclusion the next time BuildSetLayout
// is called for set.
func (l *Layout) AddBinding(set uint32, binding vk.DescriptorSetLayoutBinding) {
	l.pending[set] = append(l.pending[set], binding)
}

// BuildSetLayout builds a VkDescriptorSetLayout from the bindings
// queued for set, stores it at that set index, and clears the pending
// bindings for set.
func (l *Layout) BuildSetLayout(set uint32) (vk.DescriptorSetLayout, error) {
	bindings := l.pending[set]
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var handle vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(l.device, &info, nil, &handle); res != vk.Success {
		err := fmt.Errorf("failed to build descriptor set layout for set %d", set)
		core.LogError(err.Error())
		return nil, err
	}
	if int(set) >= len(l.setLayouts) {
		grown := make([]vk.DescriptorSetLayout, set+1)
		copy(grown, l.setLayouts)
		l.setLayouts = grown
	}
	l.setLayouts[set] = handle
	delete(l.pending, set)
	return handle, nil
}

// SetGlobalPipelineLayout makes Build defer to other's layout instead
// of building one of its own, for pipelines sharing a common layout.
func (l *Layout) SetGlobalPipelineLayout(other *Layout) {
	l.global = other
}

// AddPushConstantRange records a push-constant range covering the
// given shader stages.
func (l *Layout) AddPushConstantRange(stages vk.ShaderStageFlags, offset, size uint32) {
	l.pushConstants = append(l.pushConstants, vk.PushConstantRange{
		StageFlags: stages,
		Offset:     offset,
		Size:       size,
	})
}

// Build produces the VkPipelineLayout, or returns the referenced
// global layout's handle if SetGlobalPipelineLayout was used. Repeated
// calls return the same handle without recreating it.
func (l *Layout) Build() (vk.PipelineLayout, error) {
	if l.global != nil {
		return l.global.Build()
	}
	if l.handle != nil {
		return l.handle, nil
	}
	info := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(l.setLayouts)),
		PSetLayouts:            l.setLayouts,
		PushConstantRangeCount: uint32(len(l.pushConstants)),
		PPushConstantRanges:    l.pushConstants,
	}
	var handle vk.PipelineLayout
	if res := vk.CreatePipelineLayout(l.device, &info, nil, &handle); res != vk.Success {
		err := fmt.Errorf("failed to build pipeline layout")
		core.LogError(err.Error())
		return nil, err
	}
	l.handle = handle
	return handle, nil
}

// Destroy releases the built set layouts and pipeline layout, if this
// builder owns one (global references own nothing here).
func (l *Layout) Destroy() {
	if l.global == nil && l.handle != nil {
		vk.DestroyPipelineLayout(l.device, l.handle, nil)
		l.handle = nil
	}
	for _, sl := range l.setLayouts {
		if sl != nil {
			vk.DestroyDescriptorSetLayout(l.device, sl, nil)
		}
	}
	l.setLayouts = nil
}
