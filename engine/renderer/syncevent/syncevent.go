// Package syncevent implements the sync primitive: a VkEvent-backed
// dependency that can be placed by one command buffer and waited on by
// another, with a classic vkCmdPipelineBarrier shadow maintained in
// parallel for drivers lacking VK_KHR_synchronization2.
package syncevent

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/corevk/engine/core"
)

// synchronization2Enabled is process-wide, matching SyncEvent::enabled:
// once the Device Context confirms VK_KHR_synchronization2, every
// Primitive emits sync2 commands instead of the compatibility shadow.
var synchronization2Enabled = false

// Enable switches every subsequently built Primitive onto the sync2
// code path. Call once VK_KHR_synchronization2 is confirmed present.
func Enable() { synchronization2Enabled = true }

// Primitive is the sync primitive described by the spec: it can either
// own a VkEvent (for a cross-command-buffer wait) or be barrier-only
// (a same-command-buffer pipeline barrier), and it accumulates global,
// buffer and image barriers before build() fixes them into a
// dependency structure.
type Primitive struct {
	device vk.Device
	event  vk.Event

	dependencyFlags vk.DependencyFlags
	global          []vk.MemoryBarrier2KHR
	buffers         []vk.BufferMemoryBarrier2KHR
	images          []vk.ImageMemoryBarrier2KHR

	multiEvents []vk.Event
	multiDeps   []vk.DependencyInfoKHR

	// compatibility shadow, built in parallel, used when
	// synchronization2Enabled is false
	compatGlobal  []vk.MemoryBarrier
	compatBuffers []vk.BufferMemoryBarrier
	compatImages  []vk.ImageMemoryBarrier
	compatSrc     vk.PipelineStageFlags
	compatDst     vk.PipelineStageFlags
}

// BufferRange is the minimal buffer-barrier target: a handle plus
// byte range, matching the source's three bufferBarrier overloads
// collapsed into one parameter struct.
type BufferRange struct {
	Buffer vk.Buffer
	Offset uint32
	Size   uint32
}

// ImageRange is the minimal image-barrier target.
type ImageRange struct {
	Image         vk.Image
	Aspect        vk.ImageAspectFlags
	BaseMipLevel  uint32
	MipLevelCount uint32
}

// NewEventPrimitive creates a Primitive that owns a VkEvent, for
// cross-command-buffer dependencies (src sets it, dst waits on it).
func NewEventPrimitive(device vk.Device, deviceOnly bool) (*Primitive, error) {
	p := &Primitive{device: device}
	flags := vk.EventCreateFlags(0)
	if deviceOnly {
		flags = vk.EventCreateFlags(vk.EventCreateDeviceOnlyBitKhr)
	}
	info := vk.EventCreateInfo{SType: vk.StructureTypeEventCreateInfo, Flags: flags}
	if res := vk.CreateEvent(device, &info, nil, &p.event); res != vk.Success {
		return nil, fmt.Errorf("vkCreateEvent: %v", res)
	}
	return p, nil
}

// NewBarrierPrimitive creates a barrier-only Primitive (no VkEvent),
// for a same-command-buffer pipeline barrier.
func NewBarrierPrimitive(dependencyFlags vk.DependencyFlags) *Primitive {
	return &Primitive{dependencyFlags: dependencyFlags}
}

func (p *Primitive) Destroy() {
	if p.event != nil {
		vk.DestroyEvent(p.device, p.event, nil)
		p.event = nil
	}
}

// GlobalBarrier adds a memory-wide dependency.
func (p *Primitive) GlobalBarrier(srcStage, dstStage vk.PipelineStageFlags2KHR, srcAccess, dstAccess vk.AccessFlags2KHR) {
	p.global = append(p.global, vk.MemoryBarrier2KHR{
		SType:       vk.StructureTypeMemoryBarrier2Khr,
		SrcStageMask: srcStage, SrcAccessMask: srcAccess,
		DstStageMask: dstStage, DstAccessMask: dstAccess,
	})
	p.compatGlobal = append(p.compatGlobal, vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: compatConvAccess(srcAccess),
		DstAccessMask: compatConvAccess(dstAccess),
	})
	p.compatSrc |= compatConvStage(srcStage)
	p.compatDst |= compatConvStage(dstStage)
}

// BufferBarrier adds a dependency scoped to one buffer range.
func (p *Primitive) BufferBarrier(buf BufferRange, srcStage, dstStage vk.PipelineStageFlags2KHR, srcAccess, dstAccess vk.AccessFlags2KHR) {
	p.buffers = append(p.buffers, vk.BufferMemoryBarrier2KHR{
		SType:               vk.StructureTypeBufferMemoryBarrier2Khr,
		SrcStageMask:        srcStage,
		SrcAccessMask:       srcAccess,
		DstStageMask:        dstStage,
		DstAccessMask:       dstAccess,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Buffer:              buf.Buffer,
		Offset:              vk.DeviceSize(buf.Offset),
		Size:                vk.DeviceSize(buf.Size),
	})
	p.compatBuffers = append(p.compatBuffers, vk.BufferMemoryBarrier{
		SType:               vk.StructureTypeBufferMemoryBarrier,
		SrcAccessMask:       compatConvAccess(srcAccess),
		DstAccessMask:       compatConvAccess(dstAccess),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Buffer:              buf.Buffer,
		Offset:              vk.DeviceSize(buf.Offset),
		Size:                vk.DeviceSize(buf.Size),
	})
	p.compatSrc |= compatConvStage(srcStage)
	p.compatDst |= compatConvStage(dstStage)
}

// ImageBarrier adds a dependency scoped to one image's mip range,
// including a layout transition.
func (p *Primitive) ImageBarrier(img ImageRange, srcLayout, dstLayout vk.ImageLayout, srcStage, dstStage vk.PipelineStageFlags2KHR, srcAccess, dstAccess vk.AccessFlags2KHR) {
	mipCount := img.MipLevelCount
	if mipCount == 0 {
		mipCount = vk.RemainingMipLevels
	}
	subrange := vk.ImageSubresourceRange{
		AspectMask:     img.Aspect,
		BaseMipLevel:   img.BaseMipLevel,
		LevelCount:     mipCount,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
	p.images = append(p.images, vk.ImageMemoryBarrier2KHR{
		SType:               vk.StructureTypeImageMemoryBarrier2Khr,
		SrcStageMask:        srcStage,
		SrcAccessMask:       srcAccess,
		DstStageMask:        dstStage,
		DstAccessMask:       dstAccess,
		OldLayout:           srcLayout,
		NewLayout:           dstLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.Image,
		SubresourceRange:    subrange,
	})
	p.compatImages = append(p.compatImages, vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       compatConvAccess(srcAccess),
		DstAccessMask:       compatConvAccess(dstAccess),
		OldLayout:           srcLayout,
		NewLayout:           dstLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.Image,
		SubresourceRange:    subrange,
	})
	p.compatSrc |= compatConvStage(srcStage)
	p.compatDst |= compatConvStage(dstStage)
}

// Build fixes the accumulated barriers into a dependency structure.
// Must not be mutated between Build and the next use.
func (p *Primitive) Build() {
	// Vulkan struct slices are referenced by pointer/count at command
	// time in the command-recording helpers below; nothing to
	// precompute beyond having stopped appending.
}

func (p *Primitive) dependencyInfo() vk.DependencyInfoKHR {
	info := vk.DependencyInfoKHR{
		SType:                    vk.StructureTypeDependencyInfoKhr,
		DependencyFlags:          p.dependencyFlags,
		MemoryBarrierCount:       uint32(len(p.global)),
		BufferMemoryBarrierCount: uint32(len(p.buffers)),
		ImageMemoryBarrierCount:  uint32(len(p.images)),
	}
	if len(p.global) > 0 {
		info.PMemoryBarriers = p.global
	}
	if len(p.buffers) > 0 {
		info.PBufferMemoryBarriers = p.buffers
	}
	if len(p.images) > 0 {
		info.PImageMemoryBarriers = p.images
	}
	return info
}

// SrcDependency sets this primitive's event, recording every
// accumulated barrier as the signal condition.
func (p *Primitive) SrcDependency(cmd vk.CommandBuffer) {
	if synchronization2Enabled {
		dep := p.dependencyInfo()
		vk.CmdSetEvent2KHR(cmd, p.event, &dep)
		return
	}
	vk.CmdPipelineBarrier(cmd, p.compatSrc, p.compatDst, p.dependencyFlags,
		uint32(len(p.compatGlobal)), compatGlobalPtr(p.compatGlobal),
		uint32(len(p.compatBuffers)), compatBuffersPtr(p.compatBuffers),
		uint32(len(p.compatImages)), compatImagesPtr(p.compatImages))
}

// DstDependency waits on this primitive's event before continuing.
func (p *Primitive) DstDependency(cmd vk.CommandBuffer) {
	if synchronization2Enabled {
		dep := p.dependencyInfo()
		vk.CmdWaitEvents2KHR(cmd, 1, []vk.Event{p.event}, &dep)
		return
	}
	vk.CmdPipelineBarrier(cmd, p.compatSrc, p.compatDst, p.dependencyFlags,
		uint32(len(p.compatGlobal)), compatGlobalPtr(p.compatGlobal),
		uint32(len(p.compatBuffers)), compatBuffersPtr(p.compatBuffers),
		uint32(len(p.compatImages)), compatImagesPtr(p.compatImages))
}

// CombineDstDependencies folds with's event and dependency info into
// this primitive's multi-wait set, so a single MultiDstDependency call
// can wait on several producers at once.
func (p *Primitive) CombineDstDependencies(with *Primitive) {
	p.multiEvents = append(p.multiEvents, with.event)
	p.multiDeps = append(p.multiDeps, with.dependencyInfo())
}

// HasMultiDstDependency reports whether CombineDstDependencies has
// accumulated any producer to wait on.
func (p *Primitive) HasMultiDstDependency() bool { return len(p.multiEvents) > 0 }

// MultiDstDependency waits on every combined producer event at once.
func (p *Primitive) MultiDstDependency(cmd vk.CommandBuffer) {
	if len(p.multiEvents) == 0 {
		return
	}
	if synchronization2Enabled {
		vk.CmdWaitEvents2KHR(cmd, uint32(len(p.multiEvents)), p.multiEvents, &p.multiDeps[0])
		return
	}
	vk.CmdPipelineBarrier(cmd, p.compatSrc, p.compatDst, p.dependencyFlags,
		uint32(len(p.compatGlobal)), compatGlobalPtr(p.compatGlobal),
		uint32(len(p.compatBuffers)), compatBuffersPtr(p.compatBuffers),
		uint32(len(p.compatImages)), compatImagesPtr(p.compatImages))
}

// ResetDependency resets this primitive's event so it can be reused.
func (p *Primitive) ResetDependency(cmd vk.CommandBuffer, stage vk.PipelineStageFlags2KHR) {
	if synchronization2Enabled {
		vk.CmdResetEvent2KHR(cmd, p.event, stage)
		return
	}
	vk.CmdResetEvent(cmd, p.event, compatConvStage(stage))
}

// PlaceBarrier records an in-place pipeline barrier (no event
// involved), for a same-command-buffer dependency.
func (p *Primitive) PlaceBarrier(cmd vk.CommandBuffer) {
	if synchronization2Enabled {
		dep := p.dependencyInfo()
		vk.CmdPipelineBarrier2KHR(cmd, &dep)
		return
	}
	vk.CmdPipelineBarrier(cmd, p.compatSrc, p.compatDst, p.dependencyFlags,
		uint32(len(p.compatGlobal)), compatGlobalPtr(p.compatGlobal),
		uint32(len(p.compatBuffers)), compatBuffersPtr(p.compatBuffers),
		uint32(len(p.compatImages)), compatImagesPtr(p.compatImages))
}

// IsSet reports whether this primitive's event has been signalled.
func (p *Primitive) IsSet() (bool, error) {
	res := vk.GetEventStatus(p.device, p.event)
	switch res {
	case vk.EventSet:
		return true, nil
	case vk.EventReset:
		return false, nil
	default:
		return false, fmt.Errorf("vkGetEventStatus: %v: %w", res, core.ErrUnknown)
	}
}

func compatGlobalPtr(b []vk.MemoryBarrier) []vk.MemoryBarrier {
	if len(b) == 0 {
		return nil
	}
	return b
}

func compatBuffersPtr(b []vk.BufferMemoryBarrier) []vk.BufferMemoryBarrier {
	if len(b) == 0 {
		return nil
	}
	return b
}

func compatImagesPtr(b []vk.ImageMemoryBarrier) []vk.ImageMemoryBarrier {
	if len(b) == 0 {
		return nil
	}
	return b
}
