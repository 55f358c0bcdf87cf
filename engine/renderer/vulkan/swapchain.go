package vulkan

import (
	"fmt"
	"math"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/corevk/engine/core"
)

// SwapchainSupportInfo is the surface capability/format/present-mode
// triple queried per physical device during selection and again on
// every regenerate.
type SwapchainSupportInfo struct {
	Capabilities     vk.SurfaceCapabilities
	FormatCount      uint32
	Formats          []vk.SurfaceFormat
	PresentModeCount uint32
	PresentModes     []vk.PresentMode
}

func querySwapchainSupport(device vk.PhysicalDevice, surface vk.Surface, out *SwapchainSupportInfo) error {
	var caps vk.SurfaceCapabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(device, surface, &caps); !VulkanResultIsSuccess(res) {
		return fmt.Errorf("failed to get surface capabilities")
	}
	caps.Deref()
	out.Capabilities = caps

	if res := vk.GetPhysicalDeviceSurfaceFormats(device, surface, &out.FormatCount, nil); !VulkanResultIsSuccess(res) {
		return fmt.Errorf("failed to get surface formats")
	}
	if out.FormatCount > 0 {
		out.Formats = make([]vk.SurfaceFormat, out.FormatCount)
		if res := vk.GetPhysicalDeviceSurfaceFormats(device, surface, &out.FormatCount, out.Formats); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("failed to get surface formats")
		}
		for i := range out.Formats {
			out.Formats[i].Deref()
		}
	}

	if res := vk.GetPhysicalDeviceSurfacePresentModes(device, surface, &out.PresentModeCount, nil); !VulkanResultIsSuccess(res) {
		return fmt.Errorf("failed to get surface present modes")
	}
	if out.PresentModeCount > 0 {
		out.PresentModes = make([]vk.PresentMode, out.PresentModeCount)
		if res := vk.GetPhysicalDeviceSurfacePresentModes(device, surface, &out.PresentModeCount, out.PresentModes); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("failed to get surface present modes")
		}
	}
	return nil
}

// Swapchain is the live swap-chain plus the image views built from it.
// A superseded generation's handle and views are not destroyed
// immediately on Regenerate — they move to Context's pending-destroy
// fields and are torn down only at the start of the *next* Regenerate
// (or at Destroy), so an in-flight present referencing the old views is
// never invalidated out from under it.
type Swapchain struct {
	Handle     vk.Swapchain
	ImageCount uint32
	Format     vk.SurfaceFormat
	Extent     vk.Extent2D
	Images     []vk.Image
	Views      []vk.ImageView
}

func (c *Context) newSwapchain(width, height uint32) (*Swapchain, error) {
	var support SwapchainSupportInfo
	if err := querySwapchainSupport(c.PhysicalDevice, c.Surface, &support); err != nil {
		return nil, err
	}
	c.SwapchainSupport = support
	return buildSwapchain(c, width, height, nil)
}

// Regenerate destroys the generation the previous call left pending,
// creates a replacement using the current handle as oldSwapchain, and
// moves the current handle and image views to pendingSwapchain and
// pendingViews, where they stay until the next Regenerate. Returns false
// without modifying state if width or height is zero (e.g. a minimized
// window).
func (c *Context) Regenerate(width, height uint32) (bool, error) {
	if width == 0 || height == 0 {
		return false, nil
	}

	var support SwapchainSupportInfo
	if err := querySwapchainSupport(c.PhysicalDevice, c.Surface, &support); err != nil {
		return false, err
	}
	c.SwapchainSupport = support

	// The previous call's pending generation has had a full frame to
	// drain; safe to destroy now, before this call creates its own.
	c.flushPendingSwapchain()

	old := c.Swapchain
	next, err := buildSwapchain(c, width, height, old)
	if err != nil {
		return false, err
	}

	if old != nil {
		c.pendingViews = old.Views
		c.pendingSwapchain = old.Handle
	}

	c.Swapchain = next
	return true, nil
}

// flushPendingSwapchain destroys whatever the previous Regenerate left
// in the pending-destroy list.
func (c *Context) flushPendingSwapchain() {
	for _, v := range c.pendingViews {
		vk.DestroyImageView(c.Device, v, c.Allocator)
	}
	c.pendingViews = nil
	if c.pendingSwapchain != nil {
		vk.DestroySwapchain(c.Device, c.pendingSwapchain, c.Allocator)
		c.pendingSwapchain = nil
	}
}

func buildSwapchain(c *Context, width, height uint32, old *Swapchain) (*Swapchain, error) {
	sc := &Swapchain{}

	support := c.SwapchainSupport
	sc.Format = chooseSurfaceFormat(support.Formats, c.cfg.ColorSpaceSRGB)
	presentMode := choosePresentMode(support.PresentModes)

	extent := support.Capabilities.CurrentExtent
	if extent.Width == math.MaxUint32 {
		extent = vk.Extent2D{Width: width, Height: height}
	}
	extent.Width = clampU32(extent.Width, support.Capabilities.MinImageExtent.Width, support.Capabilities.MaxImageExtent.Width)
	extent.Height = clampU32(extent.Height, support.Capabilities.MinImageExtent.Height, support.Capabilities.MaxImageExtent.Height)
	sc.Extent = extent

	imageCount := support.Capabilities.MinImageCount + 1
	if c.cfg.ForceSwapchainCount > 0 {
		imageCount = uint32(c.cfg.ForceSwapchainCount)
	}
	if support.Capabilities.MaxImageCount > 0 && imageCount > support.Capabilities.MaxImageCount {
		imageCount = support.Capabilities.MaxImageCount
	}

	usage := vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit) | vk.ImageUsageFlags(c.cfg.SwapchainUsage)
	if c.cfg.Headless {
		usage |= vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit)
	}

	info := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          c.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      sc.Format.Format,
		ImageColorSpace:  sc.Format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       usage,
		PreTransform:     support.Capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
	}

	graphics := c.firstFamily(func(f *QueueFamily) bool { return f.Graphics })
	present := c.firstFamily(func(f *QueueFamily) bool { return f.Present })
	if graphics != nil && present != nil && graphics.Index != present.Index {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{graphics.Index, present.Index}
	} else {
		info.ImageSharingMode = vk.SharingModeExclusive
	}

	if old != nil {
		info.OldSwapchain = old.Handle
	}
	info.Deref()

	var handle vk.Swapchain
	if res := vk.CreateSwapchain(c.Device, &info, c.Allocator, &handle); !VulkanResultIsSuccess(res) {
		return nil, fmt.Errorf("failed to create swapchain: %s", VulkanResultString(res, true))
	}
	sc.Handle = handle

	if res := vk.GetSwapchainImages(c.Device, handle, &sc.ImageCount, nil); !VulkanResultIsSuccess(res) {
		return nil, fmt.Errorf("failed to get swapchain images")
	}
	sc.Images = make([]vk.Image, sc.ImageCount)
	if res := vk.GetSwapchainImages(c.Device, handle, &sc.ImageCount, sc.Images); !VulkanResultIsSuccess(res) {
		return nil, fmt.Errorf("failed to get swapchain images")
	}

	sc.Views = make([]vk.ImageView, sc.ImageCount)
	for i := range sc.Images {
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    sc.Images[i],
			ViewType: vk.ImageViewType2d,
			Format:   sc.Format.Format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}
		viewInfo.Deref()
		if res := vk.CreateImageView(c.Device, &viewInfo, c.Allocator, &sc.Views[i]); !VulkanResultIsSuccess(res) {
			return nil, fmt.Errorf("failed to create swapchain image view %d", i)
		}
		c.SetDebugObjectName(vk.ObjectTypeImage, uint64(uintptr(unsafe.Pointer(sc.Images[i]))), fmt.Sprintf("Swapchain Image %d", i))
	}

	core.LogInfo("swapchain created: %dx%d, %d images", extent.Width, extent.Height, sc.ImageCount)
	return sc, nil
}

// AcquireNextImage wraps vkAcquireNextImage, triggering a regenerate on
// VK_ERROR_OUT_OF_DATE_KHR per the transient-swapchain-error policy.
func (c *Context) AcquireNextImage(timeoutNS uint64, available vk.Semaphore, fence vk.Fence) (uint32, bool) {
	var index uint32
	result := vk.AcquireNextImage(c.Device, c.Swapchain.Handle, timeoutNS, available, fence, &index)
	switch result {
	case vk.Success, vk.Suboptimal:
		return index, true
	case vk.ErrorOutOfDate:
		c.Regenerate(c.Swapchain.Extent.Width, c.Swapchain.Extent.Height)
		return 0, false
	default:
		core.LogError("failed to acquire swapchain image: %s", VulkanResultString(result, true))
		return 0, false
	}
}

// Present wraps vkQueuePresent, triggering a regenerate on
// VK_ERROR_OUT_OF_DATE_KHR or VK_SUBOPTIMAL_KHR.
func (c *Context) Present(presentQueue vk.Queue, renderComplete vk.Semaphore, imageIndex uint32) {
	info := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{renderComplete},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{c.Swapchain.Handle},
		PImageIndices:      []uint32{imageIndex},
	}
	info.Deref()

	result := vk.QueuePresent(presentQueue, &info)
	if result == vk.ErrorOutOfDate || result == vk.Suboptimal {
		c.Regenerate(c.Swapchain.Extent.Width, c.Swapchain.Extent.Height)
	} else if result != vk.Success {
		core.LogError("failed to present swapchain image: %s", VulkanResultString(result, true))
	}
}

// Destroy tears down the swap-chain's image views and handle.
func (sc *Swapchain) Destroy(c *Context) {
	for _, v := range sc.Views {
		vk.DestroyImageView(c.Device, v, c.Allocator)
	}
	vk.DestroySwapchain(c.Device, sc.Handle, c.Allocator)
}

func chooseSurfaceFormat(formats []vk.SurfaceFormat, srgb bool) vk.SurfaceFormat {
	want := vk.FormatB8g8r8a8Unorm
	if srgb {
		want = vk.FormatB8g8r8a8Srgb
	}
	for _, f := range formats {
		if f.Format == want && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	if len(formats) > 0 {
		return formats[0]
	}
	return vk.SurfaceFormat{Format: want, ColorSpace: vk.ColorSpaceSrgbNonlinear}
}

func choosePresentMode(modes []vk.PresentMode) vk.PresentMode {
	for _, m := range modes {
		if m == vk.PresentModeMailbox {
			return m
		}
	}
	return vk.PresentModeFifo
}

func clampU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
