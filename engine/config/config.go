// Package config loads the Device Context configuration struct from a
// TOML document, applying the teacher's "defaults then overrides"
// pattern rather than requiring every field to be present on disk.
package config

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"

	vk "github.com/goki/vulkan"
)

// QueueRequest mirrors EntityCore's QueueRequirement: which capability
// combinations the caller wants a dedicated queue family for.
type QueueRequest struct {
	Transfer                  bool `toml:"transfer"`
	DedicatedGraphic          bool `toml:"dedicated_graphic"`
	DedicatedCompute          bool `toml:"dedicated_compute"`
	DedicatedGraphicAndCompute bool `toml:"dedicated_graphic_and_compute"`
	DedicatedTransfer         bool `toml:"dedicated_transfer"`
}

// Config is the Device Context configuration struct enumerated in §6.
type Config struct {
	ApplicationName string `toml:"application_name"`
	Version         uint32 `toml:"version"`
	VulkanVersion   uint32 `toml:"vulkan_version"`

	Headless bool `toml:"headless"`
	Width    int  `toml:"width"`
	Height   int  `toml:"height"`

	QueueRequest QueueRequest `toml:"queue_request"`

	RequiredExtensions []string `toml:"required_extensions"`

	// RequiredFeatures/PreferredFeatures are not TOML-settable (a
	// vk.PhysicalDeviceFeatures field is a Bool32 per feature, not a
	// scalar a TOML table maps cleanly onto); callers set them in code
	// before Finish. negotiateFeatures fails device creation if a
	// physical device lacks a required feature, and silently drops a
	// preferred one it lacks.
	RequiredFeatures  vk.PhysicalDeviceFeatures `toml:"-"`
	PreferredFeatures vk.PhysicalDeviceFeatures `toml:"-"`

	CachePath string `toml:"cache_path"`
	LogPath   string `toml:"log_path"`

	SwapchainUsage       uint32 `toml:"swapchain_usage"`
	PreferredPresentMode int32  `toml:"preferred_present_mode"`
	ForceSwapchainCount  int    `toml:"force_swapchain_count"`

	ChunkSizeMiB      uint64 `toml:"chunk_size"`
	MemoryBatchCount  int    `toml:"memory_batch_count"`

	EnableDebugLayers bool `toml:"enable_debug_layers"`
	DrawLogs          bool `toml:"draw_logs"`
	SaveLogs          bool `toml:"save_logs"`
	PreferIntegrated  bool `toml:"prefer_integrated"`
	ColorSpaceSRGB    bool `toml:"color_space_srgb"`

	MinLogPrintLevel string `toml:"min_log_print_level"`
	MinLogWriteLevel string `toml:"min_log_write_level"`

	// CustomReleaseMemory, when set, is invoked on low-memory detection
	// just before the default chunk-release routine; both run. Not
	// TOML-settable.
	CustomReleaseMemory func() `toml:"-"`
}

// Default returns the engine defaults applied before any TOML override
// is read, matching how this corpus separates baseline from per-run
// configuration.
func Default() Config {
	return Config{
		ApplicationName:     "corevk",
		Version:             1,
		VulkanVersion:       1<<22 | 2<<12, // VK_API_VERSION_1_2 equivalent
		Width:               1280,
		Height:              720,
		CachePath:           "cache",
		LogPath:             "logs",
		PreferredPresentMode: 2, // FIFO
		ChunkSizeMiB:        256,
		MemoryBatchCount:    1,
		MinLogPrintLevel:    "info",
		MinLogWriteLevel:    "debug",
		RequiredFeatures:    vk.PhysicalDeviceFeatures{SamplerAnisotropy: vk.True},
	}
}

// Load reads path as a TOML document and merges it over Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if err := os.MkdirAll(cfg.CachePath, 0o755); err != nil {
		return cfg, err
	}
	if err := os.MkdirAll(cfg.LogPath, 0o755); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// chunkSizeByteThreshold is the smallest raw chunk_size value taken as
// already being in bytes rather than MiB (256 KiB).
const chunkSizeByteThreshold = 256 * 1024

// ChunkSizeBytes resolves the configured chunk_size to bytes: a value
// at or above 256 KiB is assumed already given in bytes, anything
// smaller is assumed given in MiB and scaled up. Callers building a
// memalloc.Allocator use this instead of reading ChunkSizeMiB directly.
func (c Config) ChunkSizeBytes() uint64 {
	if c.ChunkSizeMiB >= chunkSizeByteThreshold {
		return c.ChunkSizeMiB
	}
	return c.ChunkSizeMiB << 20
}

// LogLevel parses the configured min_log_print_level / min_log_write_level
// strings into a charmbracelet/log level, defaulting to Info on garbage
// input rather than failing configuration load.
func LogLevel(s string) log.Level {
	lvl, err := log.ParseLevel(s)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
