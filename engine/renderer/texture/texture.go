// Package texture implements the Texture thin wrapper: an image, an
// image view, backing device sub-memory, an optional staging
// sub-buffer, and aspect/layout state. Use uploads staged content,
// builds a mipmap chain by iterated vkCmdBlitImage, and transitions to
// the shader-read-only layout; Unuse releases the backing memory and
// Detach releases the staging sub-buffer.
package texture

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/corevk/engine/core"
	"github.com/spaghettifunk/corevk/engine/renderer/bufalloc"
	"github.com/spaghettifunk/corevk/engine/renderer/memalloc"
)

// CreateInfo describes the image a Texture wraps.
type CreateInfo struct {
	Width, Height uint32
	MipLevels     uint32
	Format        vk.Format
	Usage         vk.ImageUsageFlags
	AspectMask    vk.ImageAspectFlags
}

// Texture is a GPU image plus the state needed to upload and mip it.
type Texture struct {
	device   vk.Device
	physical vk.PhysicalDevice
	memAlloc *memalloc.Allocator
	bufAlloc *bufalloc.Allocator

	info CreateInfo

	image  vk.Image
	view   vk.ImageView
	memory memalloc.SubMemory
	layout vk.ImageLayout

	staging    bufalloc.SubRange
	hasStaging bool
}

// New creates an empty texture, for use as a framebuffer attachment or
// as the destination of a later device-to-device copy. No staging
// sub-buffer is allocated.
func New(device vk.Device, physical vk.PhysicalDevice, memAlloc *memalloc.Allocator, info CreateInfo) (*Texture, error) {
	if info.MipLevels == 0 {
		info.MipLevels = 1
	}
	t := &Texture{
		device:   device,
		physical: physical,
		memAlloc: memAlloc,
		info:     info,
		layout:   vk.ImageLayoutUndefined,
	}
	if err := t.createImage(); err != nil {
		return nil, err
	}
	return t, nil
}

// NewFromBytes creates a texture backed by pixels, staged through
// bufAlloc for upload on the next Use. pixels is raw, already-decoded
// image data (decoding itself happens outside this package); width and
// height must match info.
func NewFromBytes(device vk.Device, physical vk.PhysicalDevice, memAlloc *memalloc.Allocator, bufAlloc *bufalloc.Allocator, info CreateInfo, pixels []byte) (*Texture, error) {
	if info.MipLevels == 0 {
		info.MipLevels = mipLevelsFor(info.Width, info.Height)
	}
	info.Usage |= vk.ImageUsageFlags(vk.ImageUsageTransferDstBit | vk.ImageUsageTransferSrcBit | vk.ImageUsageSampledBit)

	t := &Texture{
		device:   device,
		physical: physical,
		memAlloc: memAlloc,
		bufAlloc: bufAlloc,
		info:     info,
		layout:   vk.ImageLayoutUndefined,
	}
	if err := t.createImage(); err != nil {
		return nil, err
	}

	sub, err := bufAlloc.AcquireBuffer(len(pixels))
	if err != nil {
		t.Unuse()
		return nil, err
	}
	dst := unsafe.Slice((*byte)(bufAlloc.GetPtr(sub)), len(pixels))
	copy(dst, pixels)
	if err := bufAlloc.Flush(sub); err != nil {
		bufAlloc.ReleaseBuffer(sub)
		t.Unuse()
		return nil, err
	}
	t.staging = sub
	t.hasStaging = true
	return t, nil
}

// mipLevelsFor returns floor(log2(max(width, height))) + 1, the full
// mip chain depth for a 2D image of that size.
func mipLevelsFor(width, height uint32) uint32 {
	dim := width
	if height > dim {
		dim = height
	}
	levels := uint32(1)
	for dim > 1 {
		dim >>= 1
		levels++
	}
	return levels
}

func (t *Texture) createImage() error {
	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  t.info.Width,
			Height: t.info.Height,
			Depth:  1,
		},
		MipLevels:     t.info.MipLevels,
		ArrayLayers:   1,
		Format:        t.info.Format,
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         t.info.Usage,
		Samples:       vk.SampleCount1Bit,
		SharingMode:   vk.SharingModeExclusive,
	}
	if res := vk.CreateImage(t.device, &imageInfo, nil, &t.image); res != vk.Success {
		err := fmt.Errorf("failed to create image")
		core.LogError(err.Error())
		return err
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(t.device, t.image, &reqs)
	reqs.Deref()

	sub, err := t.memAlloc.Malloc(reqs, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), 0, 0)
	if err != nil {
		vk.DestroyImage(t.device, t.image, nil)
		t.image = nil
		return err
	}
	t.memory = sub

	if res := vk.BindImageMemory(t.device, t.image, sub.Memory, sub.Offset); res != vk.Success {
		err := fmt.Errorf("failed to bind image memory")
		core.LogError(err.Error())
		return err
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    t.image,
		ViewType: vk.ImageViewType2d,
		Format:   t.info.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     t.info.AspectMask,
			BaseMipLevel:   0,
			LevelCount:     t.info.MipLevels,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	if res := vk.CreateImageView(t.device, &viewInfo, nil, &t.view); res != vk.Success {
		err := fmt.Errorf("failed to create image view")
		core.LogError(err.Error())
		return err
	}
	return nil
}

func (t *Texture) barrier(cmd vk.CommandBuffer, oldLayout, newLayout vk.ImageLayout, baseMip, mipCount uint32, srcStage, dstStage vk.PipelineStageFlags, srcAccess, dstAccess vk.AccessFlags) {
	b := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               t.image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     t.info.AspectMask,
			BaseMipLevel:   baseMip,
			LevelCount:     mipCount,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		SrcAccessMask: srcAccess,
		DstAccessMask: dstAccess,
	}
	vk.CmdPipelineBarrier(cmd, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{b})
}

// Use uploads any staged content. With more than one mip level it then
// builds the mipmap chain, which leaves the image
// shader-read-only-optimal whether or not includeTransition is set;
// with a single level, includeTransition decides whether the image
// moves to shader-read-only-optimal or stays transfer-dst-optimal.
// With no staged content, includeTransition
// alone moves the image straight to shader-read-only-optimal (for
// render targets read back as a texture).
func (t *Texture) Use(cmd vk.CommandBuffer, includeTransition bool) error {
	if t.hasStaging {
		t.barrier(cmd, t.layout, vk.ImageLayoutTransferDstOptimal, 0, t.info.MipLevels,
			vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			0, vk.AccessFlags(vk.AccessTransferWriteBit))
		t.layout = vk.ImageLayoutTransferDstOptimal

		region := vk.BufferImageCopy{
			BufferOffset:     vk.DeviceSize(t.staging.Offset),
			ImageSubresource: vk.ImageSubresourceLayers{AspectMask: t.info.AspectMask, MipLevel: 0, BaseArrayLayer: 0, LayerCount: 1},
			ImageOffset:      vk.Offset3D{X: 0, Y: 0, Z: 0},
			ImageExtent:      vk.Extent3D{Width: t.info.Width, Height: t.info.Height, Depth: 1},
		}
		vk.CmdCopyBufferToImage(cmd, t.staging.Buffer, t.image, t.layout, 1, []vk.BufferImageCopy{region})

		if t.info.MipLevels > 1 {
			t.generateMipChain(cmd)
		} else if includeTransition {
			t.barrier(cmd, t.layout, vk.ImageLayoutShaderReadOnlyOptimal, 0, t.info.MipLevels,
				vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
				vk.AccessFlags(vk.AccessTransferWriteBit), vk.AccessFlags(vk.AccessShaderReadBit))
			t.layout = vk.ImageLayoutShaderReadOnlyOptimal
		}
		return nil
	}

	if includeTransition && t.layout != vk.ImageLayoutShaderReadOnlyOptimal {
		t.barrier(cmd, t.layout, vk.ImageLayoutShaderReadOnlyOptimal, 0, t.info.MipLevels,
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			vk.AccessFlags(vk.AccessColorAttachmentWriteBit), vk.AccessFlags(vk.AccessShaderReadBit))
		t.layout = vk.ImageLayoutShaderReadOnlyOptimal
	}
	return nil
}

// mipStep describes one level's extent in a mip chain, in texels.
type mipStep struct {
	Width, Height int32
}

// mipExtents returns the width/height of every level 0..levels-1 of a
// chain starting at width x height, halving (floor, minimum 1) each
// step. Level 0 is always the full size.
func mipExtents(width, height uint32, levels uint32) []mipStep {
	steps := make([]mipStep, levels)
	w, h := int32(width), int32(height)
	for i := uint32(0); i < levels; i++ {
		steps[i] = mipStep{Width: w, Height: h}
		if w > 1 {
			w /= 2
		}
		if h > 1 {
			h /= 2
		}
	}
	return steps
}

// generateMipChain blits level i down into level i+1, halving extent
// each step, transitioning each source level to transfer-src as it is
// consumed and leaving the whole chain in shader-read-only-optimal.
func (t *Texture) generateMipChain(cmd vk.CommandBuffer) {
	steps := mipExtents(t.info.Width, t.info.Height, t.info.MipLevels)

	for level := uint32(1); level < t.info.MipLevels; level++ {
		srcLevel := level - 1
		t.barrier(cmd, t.layout, vk.ImageLayoutTransferSrcOptimal, srcLevel, 1,
			vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			vk.AccessFlags(vk.AccessTransferWriteBit), vk.AccessFlags(vk.AccessTransferReadBit))

		src, dst := steps[srcLevel], steps[level]
		blit := vk.ImageBlit{
			SrcSubresource: vk.ImageSubresourceLayers{AspectMask: t.info.AspectMask, MipLevel: srcLevel, BaseArrayLayer: 0, LayerCount: 1},
			DstSubresource: vk.ImageSubresourceLayers{AspectMask: t.info.AspectMask, MipLevel: level, BaseArrayLayer: 0, LayerCount: 1},
		}
		blit.SrcOffsets[0] = vk.Offset3D{X: 0, Y: 0, Z: 0}
		blit.SrcOffsets[1] = vk.Offset3D{X: src.Width, Y: src.Height, Z: 1}
		blit.DstOffsets[0] = vk.Offset3D{X: 0, Y: 0, Z: 0}
		blit.DstOffsets[1] = vk.Offset3D{X: dst.Width, Y: dst.Height, Z: 1}

		vk.CmdBlitImage(cmd, t.image, vk.ImageLayoutTransferSrcOptimal, t.image, vk.ImageLayoutTransferDstOptimal, 1, []vk.ImageBlit{blit}, vk.FilterLinear)
	}

	// Every level but the last was left in transfer-src-optimal by the
	// loop above; the last level is still transfer-dst-optimal from
	// either the initial copy or the final blit's destination.
	t.barrier(cmd, vk.ImageLayoutTransferSrcOptimal, vk.ImageLayoutShaderReadOnlyOptimal, 0, t.info.MipLevels-1,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		vk.AccessFlags(vk.AccessTransferReadBit), vk.AccessFlags(vk.AccessShaderReadBit))
	t.barrier(cmd, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal, t.info.MipLevels-1, 1,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		vk.AccessFlags(vk.AccessTransferWriteBit), vk.AccessFlags(vk.AccessShaderReadBit))
	t.layout = vk.ImageLayoutShaderReadOnlyOptimal
}

// Handle returns the underlying VkImage.
func (t *Texture) Handle() vk.Image { return t.image }

// View returns the underlying VkImageView.
func (t *Texture) View() vk.ImageView { return t.view }

// Layout reports the image's current layout, as tracked across Use
// calls.
func (t *Texture) Layout() vk.ImageLayout { return t.layout }

// Unuse destroys the view and image and releases the backing device
// memory back to its allocator.
func (t *Texture) Unuse() {
	if t.view != nil {
		vk.DestroyImageView(t.device, t.view, nil)
		t.view = nil
	}
	if t.image != nil {
		vk.DestroyImage(t.device, t.image, nil)
		t.image = nil
	}
	if t.memory.IsValid() {
		t.memAlloc.Free(&t.memory)
	}
}

// Detach releases the staging sub-buffer, once its upload has been
// submitted and is known to have completed. A no-op if this texture
// was never given staged content.
func (t *Texture) Detach() {
	if !t.hasStaging {
		return
	}
	t.bufAlloc.ReleaseBuffer(t.staging)
	t.hasStaging = false
}
