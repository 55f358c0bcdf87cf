package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
)

func TestChooseSurfaceFormatPrefersExactMatch(t *testing.T) {
	formats := []vk.SurfaceFormat{
		{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
	}
	got := chooseSurfaceFormat(formats, false)
	assert.Equal(t, vk.FormatB8g8r8a8Unorm, got.Format)
}

func TestChooseSurfaceFormatSRGBWanted(t *testing.T) {
	formats := []vk.SurfaceFormat{
		{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear},
	}
	got := chooseSurfaceFormat(formats, true)
	assert.Equal(t, vk.FormatB8g8r8a8Srgb, got.Format)
}

func TestChooseSurfaceFormatFallsBackToFirst(t *testing.T) {
	formats := []vk.SurfaceFormat{
		{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
	}
	got := chooseSurfaceFormat(formats, false)
	assert.Equal(t, vk.FormatR8g8b8a8Unorm, got.Format)
}

func TestChoosePresentModePrefersMailbox(t *testing.T) {
	modes := []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox}
	assert.Equal(t, vk.PresentModeMailbox, choosePresentMode(modes))
}

func TestChoosePresentModeFallsBackToFifo(t *testing.T) {
	modes := []vk.PresentMode{vk.PresentModeImmediate}
	assert.Equal(t, vk.PresentModeFifo, choosePresentMode(modes))
}

func TestClampU32(t *testing.T) {
	assert.Equal(t, uint32(10), clampU32(5, 10, 20))
	assert.Equal(t, uint32(20), clampU32(25, 10, 20))
	assert.Equal(t, uint32(15), clampU32(15, 10, 20))
}
