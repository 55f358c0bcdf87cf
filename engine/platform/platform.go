// Package platform wraps the optional glfw window a windowed Device
// Context needs for its VkSurfaceKHR. A Device Context configured
// headless never touches this package.
package platform

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/corevk/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread.
	runtime.LockOSThread()
}

// Platform owns the glfw window backing a windowed Device Context.
type Platform struct {
	Window    *glfw.Window
	startTime float64
}

// New creates an unopened Platform; call Startup to open the window.
func New() (*Platform, error) {
	return &Platform{}, nil
}

// Startup opens a Vulkan-ready, initially-hidden window at (x, y) sized
// width x height, titled applicationName.
func (p *Platform) Startup(applicationName string, x, y, width, height uint32) error {
	if err := glfw.Init(); err != nil {
		core.LogFatal("failed to initialize glfw: %s", err)
		return err
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		core.LogFatal("failed to create window: %s", err)
		return err
	}
	p.Window = window

	p.Window.SetKeyCallback(keyCallback)
	p.Window.SetMouseButtonCallback(mouseButtonCallback)
	p.Window.SetCursorPosCallback(cursorPosCallback)
	p.Window.SetScrollCallback(scrollCallback)
	p.Window.SetFramebufferSizeCallback(framebufferSizeCallback)
	p.Window.SetPos(int(x), int(y))
	p.Window.Show()

	p.startTime = glfw.GetTime()
	return nil
}

// RequiredInstanceExtensions reports the VK_KHR_*_surface extensions
// glfw needs for this platform, for the Device Context to fold into
// its instance extension list.
func RequiredInstanceExtensions() []string {
	if !glfw.VulkanSupported() {
		return nil
	}
	return glfw.GetRequiredInstanceExtensions()
}

// CreateSurface creates a VkSurfaceKHR for this window against
// instance. Must be called after the instance exists but before
// physical-device selection, since selection filters on surface
// support.
func (p *Platform) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	surfacePtr, err := p.Window.CreateWindowSurface(instance, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create window surface: %w", err)
	}
	return vk.SurfaceFromPointer(surfacePtr), nil
}

// FramebufferSize returns the window's current framebuffer size,
// which can differ from its logical size on HiDPI displays.
func (p *Platform) FramebufferSize() (uint32, uint32) {
	w, h := p.Window.GetFramebufferSize()
	return uint32(w), uint32(h)
}

// ShouldClose reports whether the user has requested the window close.
func (p *Platform) ShouldClose() bool {
	return p.Window.ShouldClose()
}

// PumpMessages polls the window system's event queue.
func (p *Platform) PumpMessages() {
	glfw.PollEvents()
}

// Shutdown destroys the window and terminates glfw.
func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
	}
	glfw.Terminate()
	return nil
}

func keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {}

func mouseButtonCallback(w *glfw.Window, button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) {
}

func cursorPosCallback(w *glfw.Window, xpos, ypos float64) {}

func scrollCallback(w *glfw.Window, xoff, yoff float64) {}

func framebufferSizeCallback(w *glfw.Window, width, height int) {}
