package vulkan

import "runtime"

// platformSurfaceExtensions returns the instance extensions needed to
// create a VkSurfaceKHR on the current OS, plus the portability
// extensions macOS (MoltenVK) requires. A headless context never
// creates a surface, but listing these costs nothing and keeps
// instance creation identical between headless and windowed runs.
func platformSurfaceExtensions() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"VK_MVK_macos_surface", "VK_KHR_portability_enumeration"}
	case "windows":
		return []string{"VK_KHR_win32_surface"}
	default:
		return []string{"VK_KHR_xcb_surface", "VK_KHR_xlib_surface", "VK_KHR_wayland_surface"}
	}
}
