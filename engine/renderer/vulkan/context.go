// Package vulkan implements the Device Context: instance creation,
// physical/logical device selection, queue-family carving, swap-chain
// lifecycle, pipeline-cache persistence, sampler caching and the
// validation callback. Every other renderer package borrows its
// handles from a Context and must be torn down before it.
package vulkan

import (
	"fmt"
	"os"
	"path/filepath"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/corevk/engine/config"
	"github.com/spaghettifunk/corevk/engine/core"
	"github.com/spaghettifunk/corevk/engine/renderer/memalloc"
	"github.com/spaghettifunk/corevk/engine/renderer/syncevent"
)

var lockPool = NewVulkanLockPool()

// Context is the process-wide Device Context singleton described by
// the data model: instance, chosen physical device, logical device,
// queue families, an optional swap-chain, a persistent pipeline cache,
// a sampler cache and the validation sink. It is immutable after
// Construct/Finish except for its sampler cache and log sink, both
// guarded for concurrent use.
type Context struct {
	cfg config.Config

	Instance       vk.Instance
	Allocator      *vk.AllocationCallbacks
	DebugMessenger vk.DebugUtilsMessenger
	debugEnabled   bool

	PhysicalDevice vk.PhysicalDevice
	Device         vk.Device
	Properties     vk.PhysicalDeviceProperties
	Features       vk.PhysicalDeviceFeatures
	Memory         vk.PhysicalDeviceMemoryProperties

	Surface          vk.Surface
	SwapchainSupport SwapchainSupportInfo
	Swapchain        *Swapchain

	// pendingViews/pendingSwapchain hold the previous swap-chain
	// generation's image views and handle across one Regenerate call,
	// so a present still in flight against them is not invalidated;
	// the next Regenerate destroys them before building its own.
	pendingViews     []vk.ImageView
	pendingSwapchain vk.Swapchain

	Families []*QueueFamily

	GraphicsCommandPool vk.CommandPool

	pipelineCache     vk.PipelineCache
	pipelineCachePath string

	samplers map[vk.SamplerCreateInfo]vk.Sampler

	hasReleasedThisFrame bool

	memoryBudgetEnabled     bool
	synchronization2Enabled bool
}

// MemoryBudgetEnabled reports whether VK_EXT_memory_budget was
// available and enabled on this device. memalloc.Allocator.QueryMemory
// only trusts the driver's reported budget when this is true.
func (c *Context) MemoryBudgetEnabled() bool { return c.memoryBudgetEnabled }

// Synchronization2Enabled reports whether VK_KHR_synchronization2 was
// available and enabled on this device.
func (c *Context) Synchronization2Enabled() bool { return c.synchronization2Enabled }

// Construct builds the instance (and, if enabled, the validation
// debug messenger) for cfg. Instance creation is split from the rest
// of device construction because a windowed caller needs the instance
// to create its VkSurfaceKHR before physical-device selection, which
// filters on surface support; a headless caller calls Finish with a
// zero Surface immediately after Construct.
func Construct(cfg config.Config) (*Context, error) {
	ctx := &Context{cfg: cfg, debugEnabled: cfg.EnableDebugLayers}
	if err := ctx.createInstance(); err != nil {
		return nil, err
	}
	if cfg.EnableDebugLayers {
		if err := ctx.createDebugMessenger(); err != nil {
			return nil, err
		}
	}
	return ctx, nil
}

// Finish completes construction once a surface (or none, for headless)
// is available: physical device selection, logical device, queue
// families, the graphics command pool, the pipeline cache and, if a
// surface was given, the initial swap-chain.
func (c *Context) Finish(surface vk.Surface) error {
	c.Surface = surface

	if err := c.selectPhysicalDevice(); err != nil {
		core.LogFatal("no suitable physical device: %s", err.Error())
		return err
	}
	if err := c.createLogicalDevice(); err != nil {
		core.LogFatal("failed to create logical device: %s", err.Error())
		return err
	}
	if c.synchronization2Enabled {
		syncevent.Enable()
	}
	if err := c.createCommandPool(); err != nil {
		return err
	}
	if err := c.loadPipelineCache(); err != nil {
		core.LogWarn("pipeline cache not loaded: %s", err.Error())
	}

	if !c.cfg.Headless && c.Surface != nil {
		sc, err := c.newSwapchain(uint32(c.cfg.Width), uint32(c.cfg.Height))
		if err != nil {
			return err
		}
		c.Swapchain = sc
	}

	c.samplers = make(map[vk.SamplerCreateInfo]vk.Sampler)
	return nil
}

// Destroy tears down everything Construct/Finish created, in reverse
// order. Every object borrowed from the context (allocators, frame
// orchestrators, render passes, ...) must already be destroyed by the
// caller.
func (c *Context) Destroy() {
	if c.Device != nil {
		vk.DeviceWaitIdle(c.Device)
	}

	for info, sampler := range c.samplers {
		vk.DestroySampler(c.Device, sampler, c.Allocator)
		delete(c.samplers, info)
	}

	c.flushPendingSwapchain()
	if c.Swapchain != nil {
		c.Swapchain.Destroy(c)
		c.Swapchain = nil
	}

	c.savePipelineCache()
	if c.pipelineCache != nil {
		vk.DestroyPipelineCache(c.Device, c.pipelineCache, c.Allocator)
		c.pipelineCache = nil
	}

	if c.GraphicsCommandPool != nil {
		vk.DestroyCommandPool(c.Device, c.GraphicsCommandPool, c.Allocator)
		c.GraphicsCommandPool = nil
	}

	if c.Device != nil {
		vk.DestroyDevice(c.Device, c.Allocator)
		c.Device = nil
	}
	c.PhysicalDevice = nil

	if c.Surface != nil {
		vk.DestroySurface(c.Instance, c.Surface, c.Allocator)
		c.Surface = nil
	}

	if c.DebugMessenger != nil {
		vk.DestroyDebugUtilsMessenger(c.Instance, c.DebugMessenger, c.Allocator)
		c.DebugMessenger = nil
	}

	if c.Instance != nil {
		vk.DestroyInstance(c.Instance, c.Allocator)
		c.Instance = nil
	}
}

// CreateBufferWithMemory creates a VkBuffer of size bytes with usage,
// inspects its memory requirements and binds a sub-allocation from
// memAlloc satisfying required (falling back from preferred). On any
// failure the buffer is destroyed and a nil handle returned.
func (c *Context) CreateBufferWithMemory(memAlloc *memalloc.Allocator, size vk.DeviceSize, usage vk.BufferUsageFlags, required, preferred vk.MemoryPropertyFlags) (vk.Buffer, memalloc.SubMemory, error) {
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	info.Deref()

	var buffer vk.Buffer
	if res := vk.CreateBuffer(c.Device, &info, c.Allocator, &buffer); res != vk.Success {
		return nil, memalloc.SubMemory{}, fmt.Errorf("failed to create buffer: %s", VulkanResultString(res, true))
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(c.Device, buffer, &reqs)
	reqs.Deref()

	sub, err := memAlloc.Malloc(reqs, required, preferred, 0)
	if err != nil {
		vk.DestroyBuffer(c.Device, buffer, c.Allocator)
		return nil, memalloc.SubMemory{}, err
	}
	if res := vk.BindBufferMemory(c.Device, buffer, sub.Memory, sub.Offset); res != vk.Success {
		vk.DestroyBuffer(c.Device, buffer, c.Allocator)
		memAlloc.Free(&sub)
		return nil, memalloc.SubMemory{}, fmt.Errorf("failed to bind buffer memory: %s", VulkanResultString(res, true))
	}
	return buffer, sub, nil
}

// SetDebugObjectName attaches a human-readable name to a Vulkan handle
// via VK_EXT_debug_utils's vkSetDebugUtilsObjectNameEXT, so the name
// shows up in validation-layer messages that reference the object. A
// no-op when debug layers are off.
func (c *Context) SetDebugObjectName(objectType vk.ObjectType, handle uint64, name string) {
	if !c.debugEnabled {
		return
	}
	info := vk.DebugUtilsObjectNameInfo{
		SType:        vk.StructureTypeDebugUtilsObjectNameInfo,
		ObjectType:   objectType,
		ObjectHandle: handle,
		PObjectName:  name,
	}
	info.Deref()
	if res := vk.SetDebugUtilsObjectName(c.Device, &info); res != vk.Success {
		core.LogWarn("failed to set debug object name %q: %s", name, VulkanResultString(res, true))
	}
}

// ReleaseUnusedMemory is the callback the memory allocator invokes when
// a heap's tracked budget drops below the low-memory threshold. It
// fires at most once per frame, guarded by hasReleasedThisFrame;
// EndOfFrame resets the guard.
func (c *Context) ReleaseUnusedMemory(release func()) {
	if c.hasReleasedThisFrame {
		return
	}
	c.hasReleasedThisFrame = true
	if c.cfg.CustomReleaseMemory != nil {
		c.cfg.CustomReleaseMemory()
	}
	if release != nil {
		release()
	}
}

// EndOfFrame resets the once-per-frame release-memory guard.
func (c *Context) EndOfFrame() {
	c.hasReleasedThisFrame = false
}

func (c *Context) loadPipelineCache() error {
	c.pipelineCachePath = filepath.Join(c.cfg.CachePath, "pipelineCache.dat")

	var initialData []byte
	if data, err := os.ReadFile(c.pipelineCachePath); err == nil {
		initialData = data
	}

	info := vk.PipelineCacheCreateInfo{
		SType:           vk.StructureTypePipelineCacheCreateInfo,
		InitialDataSize: uint(len(initialData)),
	}
	if len(initialData) > 0 {
		info.PInitialData = initialData
	}
	info.Deref()

	var cache vk.PipelineCache
	err := lockPool.SafeCall(PipelineManagement, func() error {
		if res := vk.CreatePipelineCache(c.Device, &info, c.Allocator, &cache); res != vk.Success {
			return fmt.Errorf("failed to create pipeline cache: %s", VulkanResultString(res, true))
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.pipelineCache = cache
	return nil
}

func (c *Context) savePipelineCache() {
	if c.pipelineCache == nil || c.pipelineCachePath == "" {
		return
	}

	var size uint
	if res := vk.GetPipelineCacheData(c.Device, c.pipelineCache, &size, nil); res != vk.Success || size == 0 {
		return
	}
	data := make([]byte, size)
	if res := vk.GetPipelineCacheData(c.Device, c.pipelineCache, &size, data); res != vk.Success {
		return
	}
	data = data[:size]

	if existing, err := os.ReadFile(c.pipelineCachePath); err == nil && bytesEqual(existing, data) {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.pipelineCachePath), 0o755); err != nil {
		core.LogWarn("failed to create cache directory: %s", err.Error())
		return
	}
	if err := os.WriteFile(c.pipelineCachePath, data, 0o644); err != nil {
		core.LogWarn("failed to write pipeline cache: %s", err.Error())
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// PhysicalDeviceProperties returns the selected physical device's
// properties, for callers (e.g. the platform package) that need the
// device name or limits without reaching into Context's fields.
func (c *Context) PhysicalDeviceProperties() vk.PhysicalDeviceProperties {
	return c.Properties
}
