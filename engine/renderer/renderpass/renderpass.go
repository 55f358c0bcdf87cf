// Package renderpass implements the render-pass builder: a stateful
// accumulator of attachments, subpasses and their dependencies that
// produces a VkRenderPass plus a per-framebuffer array of begin-infos.
package renderpass

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/corevk/engine/core"
)

type layer struct {
	description  vk.SubpassDescription
	inputRefs    []vk.AttachmentReference
	colorRefs    []vk.AttachmentReference
	resolveRefs  []vk.AttachmentReference
	depthRef     *vk.AttachmentReference
	preserveRefs []uint32
}

// Builder accumulates attachments and subpasses in order, finalizing
// each subpass on PushLayer, until Build produces the VkRenderPass.
type Builder struct {
	device      vk.Device
	attachments []vk.AttachmentDescription
	clearValues []vk.ClearValue
	layers      []layer
	deps        []vk.SubpassDependency

	current layer

	handle   vk.RenderPass
	begins   []vk.RenderPassBeginInfo
	width    uint32
	height   uint32
}

// New creates an empty builder targeting device. width/height size the
// render area recorded into every pre-built begin-info.
func New(device vk.Device, width, height uint32) *Builder {
	return &Builder{device: device, width: width, height: height}
}

// Attach appends an attachment description and returns its id, used by
// the Bind* calls and by SetupClear.
func (b *Builder) Attach(desc vk.AttachmentDescription) int {
	id := len(b.attachments)
	b.attachments = append(b.attachments, desc)
	return id
}

// SetupClear records the clear value used for attachment id when the
// render pass begins. Grows the clear-value slice as needed; unset
// slots hold the zero ClearValue (all-zero color, depth 0, stencil 0).
func (b *Builder) SetupClear(id int, clear vk.ClearValue) {
	if id >= len(b.clearValues) {
		grown := make([]vk.ClearValue, id+1)
		copy(grown, b.clearValues)
		b.clearValues = grown
	}
	b.clearValues[id] = clear
}

// currentIndex is the index the subpass being built will occupy once
// PushLayer is called.
func (b *Builder) currentIndex() uint32 {
	return uint32(len(b.layers))
}

// AddDependency records a dependency from the current subpass (the
// index it takes at PushLayer) to toSubpass: the index of another
// subpass, or vk.SubpassExternal directly. The index right after the
// current subpass means "the subpass after this one"; Build() retargets
// a destination equal to the final subpass count to vk.SubpassExternal,
// so such a dependency becomes external if no subpass fills that index.
func (b *Builder) AddDependency(toSubpass uint32, srcStage, dstStage vk.PipelineStageFlags, srcAccess, dstAccess vk.AccessFlags) {
	b.deps = append(b.deps, vk.SubpassDependency{
		SrcSubpass:    b.currentIndex(),
		DstSubpass:    toSubpass,
		SrcStageMask:  srcStage,
		DstStageMask:  dstStage,
		SrcAccessMask: srcAccess,
		DstAccessMask: dstAccess,
	})
}

// AddSelfDependency records a dependency of the current subpass on
// itself, used for read-after-write hazards within one subpass (e.g.
// input attachments written earlier in the same pass).
func (b *Builder) AddSelfDependency(srcStage, dstStage vk.PipelineStageFlags, srcAccess, dstAccess vk.AccessFlags) {
	idx := b.currentIndex()
	b.deps = append(b.deps, vk.SubpassDependency{
		SrcSubpass:      idx,
		DstSubpass:      idx,
		SrcStageMask:    srcStage,
		DstStageMask:    dstStage,
		SrcAccessMask:   srcAccess,
		DstAccessMask:   dstAccess,
		DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
	})
}

// BindInput attaches attachmentID as an input attachment of the
// current layer.
func (b *Builder) BindInput(attachmentID int, layout vk.ImageLayout) {
	b.current.inputRefs = append(b.current.inputRefs, vk.AttachmentReference{
		Attachment: uint32(attachmentID),
		Layout:     layout,
	})
}

// BindColor attaches attachmentID as a color attachment of the current
// layer.
func (b *Builder) BindColor(attachmentID int, layout vk.ImageLayout) {
	b.current.colorRefs = append(b.current.colorRefs, vk.AttachmentReference{
		Attachment: uint32(attachmentID),
		Layout:     layout,
	})
}

// BindDepth sets attachmentID as the current layer's depth-stencil
// attachment. A layer has at most one.
func (b *Builder) BindDepth(attachmentID int, layout vk.ImageLayout) {
	b.current.depthRef = &vk.AttachmentReference{
		Attachment: uint32(attachmentID),
		Layout:     layout,
	}
}

// BindResolveDst attaches attachmentID as the multisample-resolve
// destination of the current layer. Must be called at most once per
// color attachment, in the same order as BindColor.
func (b *Builder) BindResolveDst(attachmentID int, layout vk.ImageLayout) {
	b.current.resolveRefs = append(b.current.resolveRefs, vk.AttachmentReference{
		Attachment: uint32(attachmentID),
		Layout:     layout,
	})
}

// BindPreserve marks attachmentID as preserved across the current
// layer without the layer itself reading or writing it.
func (b *Builder) BindPreserve(attachmentID int) {
	b.current.preserveRefs = append(b.current.preserveRefs, uint32(attachmentID))
}

// PushLayer finalizes the subpass being accumulated and starts a fresh
// one.
func (b *Builder) PushLayer() {
	l := b.current
	l.description = vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		InputAttachmentCount:    uint32(len(l.inputRefs)),
		PInputAttachments:       l.inputRefs,
		ColorAttachmentCount:    uint32(len(l.colorRefs)),
		PColorAttachments:       l.colorRefs,
		PResolveAttachments:     l.resolveRefs,
		PreserveAttachmentCount: uint32(len(l.preserveRefs)),
		PPreserveAttachments:    l.preserveRefs,
	}
	if l.depthRef != nil {
		l.description.PDepthStencilAttachment = l.depthRef
	}
	b.layers = append(b.layers, l)
	b.current = layer{}
}

// Build constructs the VkRenderPass from the accumulated attachments,
// subpasses and dependencies, retargeting any dependency whose
// destination is one past the last subpass to vk.SubpassExternal, and
// pre-sizes an array of RenderPassBeginInfo indexed by framebuffer id.
func (b *Builder) Build(maxFramebuffers int) (vk.RenderPass, error) {
	if len(b.current.colorRefs) > 0 || len(b.current.inputRefs) > 0 || b.current.depthRef != nil {
		b.PushLayer()
	}
	descriptions := b.subpassDescriptions()
	deps := b.resolvedDependencies()

	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(b.attachments)),
		PAttachments:    b.attachments,
		SubpassCount:    uint32(len(descriptions)),
		PSubpasses:      descriptions,
		DependencyCount: uint32(len(deps)),
		PDependencies:   deps,
	}

	var handle vk.RenderPass
	if res := vk.CreateRenderPass(b.device, &info, nil, &handle); res != vk.Success {
		err := fmt.Errorf("failed to build render pass")
		core.LogError(err.Error())
		return nil, err
	}
	b.handle = handle

	b.begins = make([]vk.RenderPassBeginInfo, maxFramebuffers)
	for i := range b.begins {
		b.begins[i] = vk.RenderPassBeginInfo{
			SType:           vk.StructureTypeRenderPassBeginInfo,
			RenderPass:      handle,
			ClearValueCount: uint32(len(b.clearValues)),
			PClearValues:    b.clearValues,
			RenderArea: vk.Rect2D{
				Offset: vk.Offset2D{X: 0, Y: 0},
				Extent: vk.Extent2D{Width: b.width, Height: b.height},
			},
		}
	}
	return handle, nil
}

// subpassDescriptions flattens the pushed layers into the slice form
// vk.RenderPassCreateInfo needs.
func (b *Builder) subpassDescriptions() []vk.SubpassDescription {
	descriptions := make([]vk.SubpassDescription, len(b.layers))
	for i, l := range b.layers {
		descriptions[i] = l.description
	}
	return descriptions
}

// resolvedDependencies returns a copy of the accumulated dependencies
// with any "one past the last subpass" destination retargeted to
// vk.SubpassExternal.
func (b *Builder) resolvedDependencies() []vk.SubpassDependency {
	lastIndex := uint32(len(b.layers))
	deps := make([]vk.SubpassDependency, len(b.deps))
	copy(deps, b.deps)
	for i := range deps {
		if deps[i].DstSubpass == lastIndex {
			deps[i].DstSubpass = vk.SubpassExternal
		}
	}
	return deps
}

// Bind records framebuffer as the target for framebuffer id, to be
// used by BeginInfo.
func (b *Builder) Bind(id int, framebuffer vk.Framebuffer) {
	info := b.begins[id]
	info.Framebuffer = framebuffer
	b.begins[id] = info
}

// BeginInfo returns the pre-built begin-info for framebuffer id.
func (b *Builder) BeginInfo(id int) *vk.RenderPassBeginInfo {
	return &b.begins[id]
}

// Handle returns the built VkRenderPass.
func (b *Builder) Handle() vk.RenderPass {
	return b.handle
}

// PassCount returns the number of subpasses the builder has pushed.
func (b *Builder) PassCount() int {
	return len(b.layers)
}

// Destroy releases the VkRenderPass.
func (b *Builder) Destroy() {
	if b.handle != nil {
		vk.DestroyRenderPass(b.device, b.handle, nil)
		b.handle = nil
	}
}
