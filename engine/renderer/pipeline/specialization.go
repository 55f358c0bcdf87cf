package pipeline

import (
	"unsafe"

	vk "github.com/goki/vulkan"
)

// SpecializationArena packs specialization-constant entries and their
// raw bytes into a single growable blob, so a pipeline stage's
// VkSpecializationInfo can point at one contiguous buffer instead of
// per-constant allocations.
type SpecializationArena struct {
	entries []vk.SpecializationMapEntry
	blob    []byte
}

// AddConstant appends a constant's raw bytes to the blob and records
// an entry for it at the byte offset it landed at.
func (a *SpecializationArena) AddConstant(constantID uint32, data []byte) {
	offset := uint32(len(a.blob))
	a.entries = append(a.entries, vk.SpecializationMapEntry{
		ConstantID: constantID,
		Offset:     offset,
		Size:       uint(len(data)),
	})
	a.blob = append(a.blob, data...)
}

// Info builds the VkSpecializationInfo pointing at this arena's blob,
// or nil if no constants were added.
func (a *SpecializationArena) Info() *vk.SpecializationInfo {
	if len(a.entries) == 0 {
		return nil
	}
	info := &vk.SpecializationInfo{
		MapEntryCount: uint32(len(a.entries)),
		PMapEntries:   a.entries,
		DataSize:      uint(len(a.blob)),
	}
	if len(a.blob) > 0 {
		info.PData = unsafe.Pointer(&a.blob[0])
	}
	return info
}
