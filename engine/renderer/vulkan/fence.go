package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/corevk/engine/core"
)

// Fence is a thin wrapper tracking whether a vk.Fence is currently
// signaled, so callers don't re-issue a wait against an
// already-signaled fence.
type Fence struct {
	Handle     vk.Fence
	IsSignaled bool
}

// NewFence creates a fence, optionally pre-signaled.
func NewFence(c *Context, createSignaled bool) (*Fence, error) {
	fence := &Fence{IsSignaled: createSignaled}

	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if fence.IsSignaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	info.Deref()

	var handle vk.Fence
	if res := vk.CreateFence(c.Device, &info, c.Allocator, &handle); !VulkanResultIsSuccess(res) {
		return nil, fmt.Errorf("failed to create fence: %s", VulkanResultString(res, true))
	}
	fence.Handle = handle
	return fence, nil
}

// Destroy destroys the underlying fence handle.
func (f *Fence) Destroy(c *Context) {
	if f.Handle != nil {
		vk.DestroyFence(c.Device, f.Handle, c.Allocator)
		f.Handle = nil
	}
	f.IsSignaled = false
}

// Wait blocks up to timeoutNs for the fence to signal, a no-op if it
// is already known to be signaled.
func (f *Fence) Wait(c *Context, timeoutNs uint64) bool {
	if f.IsSignaled {
		return true
	}
	result := vk.WaitForFences(c.Device, 1, []vk.Fence{f.Handle}, vk.True, timeoutNs)
	switch result {
	case vk.Success:
		f.IsSignaled = true
		return true
	case vk.Timeout:
		core.LogWarn("fence wait timed out")
	case vk.ErrorDeviceLost:
		core.LogError("fence wait: device lost")
	default:
		core.LogError("fence wait: %s", VulkanResultString(result, true))
	}
	return false
}

// Reset clears the fence's signaled state, if set.
func (f *Fence) Reset(c *Context) error {
	if !f.IsSignaled {
		return nil
	}
	if res := vk.ResetFences(c.Device, 1, []vk.Fence{f.Handle}); !VulkanResultIsSuccess(res) {
		return fmt.Errorf("failed to reset fence: %s", VulkanResultString(res, true))
	}
	f.IsSignaled = false
	return nil
}
