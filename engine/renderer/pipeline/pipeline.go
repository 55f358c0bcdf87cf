// Package pipeline implements the graphics-pipeline and
// pipeline-layout builders: stateful accumulators over the dozen
// VkGraphicsPipelineCreateInfo sub-structs that batch-create a
// pipeline plus its clones in one vkCreateGraphicsPipelines call.
package pipeline

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/corevk/engine/core"
)

// Builder owns one pipeline's worth of Vulkan sub-info structs. Clone
// produces a sibling sharing renderPass/subpass wiring but with
// independent shader stages and fixed-function state; Build batches
// self and every clone into a single vkCreateGraphicsPipelines call.
type Builder struct {
	device     vk.Device
	renderPass vk.RenderPass
	subpass    uint32
	layout     *Layout

	bindings   []vk.VertexInputBindingDescription
	attributes []vk.VertexInputAttributeDescription

	topology         vk.PrimitiveTopology
	primitiveRestart bool

	cullMode    vk.CullModeFlagBits
	wireframe   bool
	frontFace   vk.FrontFace

	depthTestEnabled  bool
	depthWriteEnabled bool
	depthCompareOp    vk.CompareOp

	samples vk.SampleCountFlagBits

	blendAttachments []vk.PipelineColorBlendAttachmentState

	viewport vk.Viewport
	scissor  vk.Rect2D

	patchControlPoints uint32
	hasTessellation    bool

	dynamicStates []vk.DynamicState

	stages          []vk.PipelineShaderStageCreateInfo
	specializations []*SpecializationArena

	handle vk.Pipeline
	clones []*Builder
}

// New creates a pipeline builder targeting renderPass/subpass, with
// sane defaults matching a typical opaque-geometry pass: solid fill,
// back-face culling, counter-clockwise front face, one sample, no
// depth test, dynamic viewport/scissor/line-width.
func New(device vk.Device, layout *Layout, renderPass vk.RenderPass, subpass uint32) *Builder {
	return &Builder{
		device:     device,
		layout:     layout,
		renderPass: renderPass,
		subpass:    subpass,
		topology:   vk.PrimitiveTopologyTriangleList,
		cullMode:   vk.CullModeBackBit,
		frontFace:  vk.FrontFaceCounterClockwise,
		samples:    vk.SampleCount1Bit,
		depthCompareOp: vk.CompareOpLess,
		dynamicStates: []vk.DynamicState{
			vk.DynamicStateViewport,
			vk.DynamicStateScissor,
			vk.DynamicStateLineWidth,
		},
	}
}

// SetVertexInput replaces the vertex binding and attribute descriptions.
func (b *Builder) SetVertexInput(bindings []vk.VertexInputBindingDescription, attributes []vk.VertexInputAttributeDescription) {
	b.bindings = bindings
	b.attributes = attributes
}

// SetInputAssembly sets the primitive topology and restart behavior.
func (b *Builder) SetInputAssembly(topology vk.PrimitiveTopology, primitiveRestart bool) {
	b.topology = topology
	b.primitiveRestart = primitiveRestart
}

// SetRasterizer configures face culling, winding and wireframe mode.
func (b *Builder) SetRasterizer(cullMode vk.CullModeFlagBits, frontFace vk.FrontFace, wireframe bool) {
	b.cullMode = cullMode
	b.frontFace = frontFace
	b.wireframe = wireframe
}

// SetDepthStencil enables or disables the depth test.
func (b *Builder) SetDepthStencil(testEnabled, writeEnabled bool, compareOp vk.CompareOp) {
	b.depthTestEnabled = testEnabled
	b.depthWriteEnabled = writeEnabled
	b.depthCompareOp = compareOp
}

// SetMultisample sets the rasterization sample count.
func (b *Builder) SetMultisample(samples vk.SampleCountFlagBits) {
	b.samples = samples
}

// AddColorBlendAttachment appends a per-attachment blend state; one is
// required per color attachment the target subpass writes.
func (b *Builder) AddColorBlendAttachment(state vk.PipelineColorBlendAttachmentState) {
	b.blendAttachments = append(b.blendAttachments, state)
}

// SetViewport sets the (dynamic, but still required at create time)
// viewport and scissor.
func (b *Builder) SetViewport(viewport vk.Viewport, scissor vk.Rect2D) {
	b.viewport = viewport
	b.scissor = scissor
}

// SetTessellation enables the tessellation stage with the given patch
// size.
func (b *Builder) SetTessellation(patchControlPoints uint32) {
	b.patchControlPoints = patchControlPoints
	b.hasTessellation = true
}

// SetDynamicStates replaces the default dynamic-state list.
func (b *Builder) SetDynamicStates(states ...vk.DynamicState) {
	b.dynamicStates = states
}

// AddStage appends a shader stage, with an optional specialization
// arena (nil if the stage has no specialization constants).
func (b *Builder) AddStage(stage vk.ShaderStageFlagBits, module vk.ShaderModule, entryPoint string, spec *SpecializationArena) {
	info := vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageFlags(stage),
		Module: module,
		PName:  entryPoint + "\x00",
	}
	b.stages = append(b.stages, info)
	b.specializations = append(b.specializations, spec)
}

// Clone produces a linked sibling pipeline sharing this builder's
// render-pass/subpass/layout wiring, to be batch-created alongside it
// in Build. The clone starts with no stages and default
// fixed-function state of its own to fill in.
func (b *Builder) Clone() *Builder {
	sibling := New(b.device, b.layout, b.renderPass, b.subpass)
	b.clones = append(b.clones, sibling)
	return sibling
}

func (b *Builder) createInfo() vk.GraphicsPipelineCreateInfo {
	stages := make([]vk.PipelineShaderStageCreateInfo, len(b.stages))
	copy(stages, b.stages)
	for i, spec := range b.specializations {
		if spec != nil {
			stages[i].PSpecializationInfo = spec.Info()
		}
	}

	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(b.bindings)),
		PVertexBindingDescriptions:      b.bindings,
		VertexAttributeDescriptionCount: uint32(len(b.attributes)),
		PVertexAttributeDescriptions:    b.attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               b.topology,
		PrimitiveRestartEnable: vk.Bool32(boolToUint32(b.primitiveRestart)),
	}

	polygonMode := vk.PolygonModeFill
	if b.wireframe {
		polygonMode = vk.PolygonModeLine
	}
	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: polygonMode,
		CullMode:    vk.CullModeFlags(b.cullMode),
		FrontFace:   b.frontFace,
		LineWidth:   1.0,
	}

	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: b.samples,
		MinSampleShading:     1.0,
	}

	var depthStencil *vk.PipelineDepthStencilStateCreateInfo
	if b.depthTestEnabled {
		depthStencil = &vk.PipelineDepthStencilStateCreateInfo{
			SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:  vk.True,
			DepthWriteEnable: vk.Bool32(boolToUint32(b.depthWriteEnabled)),
			DepthCompareOp:   b.depthCompareOp,
		}
	}

	blendAttachments := b.blendAttachments
	if len(blendAttachments) == 0 {
		blendAttachments = []vk.PipelineColorBlendAttachmentState{{
			ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
				vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
		}}
	}
	blendState := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports:    []vk.Viewport{b.viewport},
		ScissorCount:  1,
		PScissors:     []vk.Rect2D{b.scissor},
	}

	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(b.dynamicStates)),
		PDynamicStates:    b.dynamicStates,
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisample,
		PDepthStencilState:  depthStencil,
		PColorBlendState:    &blendState,
		PDynamicState:       &dynamicState,
		RenderPass:          b.renderPass,
		Subpass:             b.subpass,
		BasePipelineIndex:   -1,
	}
	if b.hasTessellation {
		info.PTessellationState = &vk.PipelineTessellationStateCreateInfo{
			SType:              vk.StructureTypePipelineTessellationStateCreateInfo,
			PatchControlPoints: b.patchControlPoints,
		}
	}
	return info
}

func boolToUint32(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}

// Build resolves this builder's VkPipelineLayout, then creates this
// pipeline and every clone registered via Clone in a single
// vkCreateGraphicsPipelines call, assigning each builder's handle in
// order.
func (b *Builder) Build() ([]vk.Pipeline, error) {
	layoutHandle, err := b.layout.Build()
	if err != nil {
		return nil, err
	}

	batch := append([]*Builder{b}, b.clones...)
	infos := make([]vk.GraphicsPipelineCreateInfo, len(batch))
	for i, builder := range batch {
		info := builder.createInfo()
		info.Layout = layoutHandle
		infos[i] = info
	}

	handles := make([]vk.Pipeline, len(batch))
	if res := vk.CreateGraphicsPipelines(b.device, vk.NullPipelineCache, uint32(len(infos)), infos, nil, handles); res != vk.Success {
		err := fmt.Errorf("failed to build %d graphics pipeline(s)", len(infos))
		core.LogError(err.Error())
		return nil, err
	}
	for i, builder := range batch {
		builder.handle = handles[i]
	}
	return handles, nil
}

// Handle returns the built VkPipeline.
func (b *Builder) Handle() vk.Pipeline {
	return b.handle
}

// Bind records a bind-pipeline command.
func (b *Builder) Bind(cmd vk.CommandBuffer, bindPoint vk.PipelineBindPoint) {
	vk.CmdBindPipeline(cmd, bindPoint, b.handle)
}

// Destroy releases the VkPipeline. It does not release the layout,
// which may be shared with clones or other pipelines.
func (b *Builder) Destroy() {
	if b.handle != nil {
		vk.DestroyPipeline(b.device, b.handle, nil)
		b.handle = nil
	}
}
