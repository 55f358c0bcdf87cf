// Package memalloc implements the device-memory allocator: N
// independent, mutex-guarded batches, each carving chunk-sized
// vkDeviceMemory allocations into size-sorted free lists of
// SubMemory ranges.
package memalloc

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/corevk/engine/core"
)

const maxMemoryTypes = 32

// dedicatedSize is the sentinel used in place of a real Size for an
// allocation that owns its whole vkDeviceMemory (never sub-divided,
// freed with vkFreeMemory directly instead of returned to a free list).
const dedicatedSize = vk.DeviceSize(^uint64(0))

// SubMemory is a contiguous range inside a chunk-sized vkDeviceMemory
// allocation, or (when Size == dedicatedSize) a whole dedicated
// allocation in its own right.
type SubMemory struct {
	Memory      vk.DeviceMemory
	Offset      vk.DeviceSize
	Size        vk.DeviceSize
	MemoryIndex uint32
	MemoryBatch uint32
}

func (s SubMemory) IsDedicated() bool { return s.Size == dedicatedSize }
func (s SubMemory) IsValid() bool     { return s.Memory != nil }

type mappedMemory struct {
	data      unsafe.Pointer
	nbMapping int
}

type memoryTypeState struct {
	availableSpaces []SubMemory // ascending by Size
	memoryChunks    []vk.DeviceMemory
}

type memoryBatch struct {
	mu            sync.Mutex
	memory        [maxMemoryTypes]memoryTypeState
	mappedMemory  map[vk.DeviceMemory]*mappedMemory
}

// MemoryQuery reports a single heap's budget, as returned by
// VK_EXT_memory_budget.
type MemoryQuery struct {
	Total     vk.DeviceSize
	Available vk.DeviceSize
	Used      vk.DeviceSize
	Free      vk.DeviceSize
	Flags     vk.MemoryHeapFlags
}

// Allocator is the device-memory allocator described by the Memory
// Allocator component: chunk-size driven, batch-partitioned, with
// low-memory detection feeding a configurable release callback.
type Allocator struct {
	device              vk.Device
	physicalDevice      vk.PhysicalDevice
	chunkSize           vk.DeviceSize
	usingBatches        bool
	batches             []*memoryBatch
	memoryBudgetEnabled bool

	releaseUnusedMemory func()

	resourceMu              sync.Mutex
	availableDeviceMemoryMB uint64
	deviceMemoryHeap        uint32
	hasReleasedUnusedMemory bool
	displayInFlight         bool
	releaseInFlight         bool
}

// New constructs an Allocator. chunkSize is in bytes. batchCount == 0
// means a single batch (usingBatches == false); batchCount > 0 creates
// that many independent, contention-free batches. memoryBudgetEnabled
// must reflect whether the device enabled VK_EXT_memory_budget
// (Context.MemoryBudgetEnabled); without it, QueryMemory falls back to
// reporting a heap's full size as available.
func New(device vk.Device, physicalDevice vk.PhysicalDevice, chunkSize vk.DeviceSize, batchCount int, onReleaseUnusedMemory func(), memoryBudgetEnabled bool) *Allocator {
	n := batchCount
	if n <= 0 {
		n = 1
	}
	a := &Allocator{
		device:              device,
		physicalDevice:      physicalDevice,
		chunkSize:           chunkSize,
		usingBatches:        batchCount > 0,
		batches:             make([]*memoryBatch, n),
		releaseUnusedMemory: onReleaseUnusedMemory,
		memoryBudgetEnabled: memoryBudgetEnabled,
	}
	for i := range a.batches {
		a.batches[i] = &memoryBatch{mappedMemory: map[vk.DeviceMemory]*mappedMemory{}}
	}
	a.displayResources()
	return a
}

func (a *Allocator) GetChunkSize() vk.DeviceSize { return a.chunkSize }

// EndOfFrame resets the once-per-frame low-memory release guard.
func (a *Allocator) EndOfFrame() {
	a.resourceMu.Lock()
	a.hasReleasedUnusedMemory = false
	a.resourceMu.Unlock()
}

// Malloc allocates a SubMemory satisfying memRequirements from the
// given batch, preferring preferredProperties but falling back to
// properties alone.
func (a *Allocator) Malloc(memRequirements vk.MemoryRequirements, properties, preferredProperties vk.MemoryPropertyFlags, memoryBatch uint32) (SubMemory, error) {
	var sub SubMemory
	sub.MemoryBatch = memoryBatch
	idx, ok := a.findMemoryIndex(memRequirements, properties, preferredProperties)
	if !ok {
		return sub, core.ErrOutOfDeviceMemory
	}
	sub.MemoryIndex = idx

	b := a.batches[memoryBatch]
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := a.acquireSubMemory(b, memRequirements, &sub); err != nil {
		return sub, err
	}
	if sub.IsValid() {
		a.allocateInSubMemory(b, memRequirements, &sub)
	}
	return sub, nil
}

// DMalloc performs a dedicated allocation owning its whole
// vkDeviceMemory, used for resources large enough that sub-allocating
// them would waste a chunk anyway (images, typically).
func (a *Allocator) DMalloc(memRequirements vk.MemoryRequirements, dedicatedInfo *vk.MemoryDedicatedAllocateInfo, properties, preferredProperties vk.MemoryPropertyFlags) (SubMemory, error) {
	var sub SubMemory
	idx, ok := a.findMemoryIndex(memRequirements, properties, preferredProperties)
	if !ok {
		return sub, core.ErrOutOfDeviceMemory
	}
	sub.MemoryIndex = idx

	a.resourceMu.Lock()
	if a.shouldReleaseLowMemory(idx) {
		a.triggerReleaseLocked()
	}
	a.resourceMu.Unlock()

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		PNext:           unsafe.Pointer(dedicatedInfo),
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: idx,
	}
	if res := vk.AllocateMemory(a.device, &allocInfo, nil, &sub.Memory); res != vk.Success {
		core.LogError("failed dedicated allocation of %d MiB of GPU memory", memRequirements.Size/1024/1024)
		return sub, fmt.Errorf("vkAllocateMemory (dedicated): %v", res)
	}
	core.LogDebug("dedicated allocation of %d MiB of GPU memory", memRequirements.Size/1024/1024)
	sub.Offset = 0
	sub.Size = dedicatedSize
	a.displayResources()
	return sub, nil
}

// Free returns sub to its batch's free list, coalescing with
// neighboring free ranges first. Dedicated allocations are freed
// immediately instead.
func (a *Allocator) Free(sub *SubMemory) {
	if !sub.IsValid() {
		return
	}
	if sub.IsDedicated() {
		vk.FreeMemory(a.device, sub.Memory, nil)
		return
	}
	b := a.batches[sub.MemoryBatch]
	b.mu.Lock()
	defer b.mu.Unlock()
	a.merge(b, sub)
	a.insert(b, *sub)
}

// MapMemory returns a pointer to sub's data, ref-counting concurrent
// mappers of the same underlying vkDeviceMemory chunk.
func (a *Allocator) MapMemory(sub *SubMemory) (unsafe.Pointer, error) {
	b := a.batches[sub.MemoryBatch]
	b.mu.Lock()
	mm, ok := b.mappedMemory[sub.Memory]
	if !ok {
		mm = &mappedMemory{}
		b.mappedMemory[sub.Memory] = mm
	}
	mm.nbMapping++
	if mm.nbMapping == 1 {
		if res := vk.MapMemory(a.device, sub.Memory, 0, vk.DeviceSize(vk.WholeSize), 0, &mm.data); res != vk.Success {
			mm.nbMapping--
			b.mu.Unlock()
			return nil, fmt.Errorf("vkMapMemory: %v", res)
		}
	}
	b.mu.Unlock()
	return unsafe.Add(mm.data, sub.Offset), nil
}

// UnmapMemory releases one reference obtained via MapMemory.
func (a *Allocator) UnmapMemory(sub *SubMemory) {
	b := a.batches[sub.MemoryBatch]
	b.mu.Lock()
	defer b.mu.Unlock()
	mm, ok := b.mappedMemory[sub.Memory]
	if !ok {
		return
	}
	mm.nbMapping--
	if mm.nbMapping == 0 {
		vk.UnmapMemory(a.device, sub.Memory)
		delete(b.mappedMemory, sub.Memory)
	}
}

func (a *Allocator) findMemoryIndex(memRequirements vk.MemoryRequirements, properties, preferredProperties vk.MemoryPropertyFlags) (uint32, bool) {
	var memProps vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(a.physicalDevice, &memProps)
	memProps.Deref()

	wanted := preferredProperties | properties
	for i := uint32(0); i < memProps.MemoryTypeCount; i++ {
		memProps.MemoryTypes[i].Deref()
		flags := vk.MemoryPropertyFlags(memProps.MemoryTypes[i].PropertyFlags)
		if memRequirements.MemoryTypeBits&(1<<i) != 0 && flags&wanted == wanted {
			return i, true
		}
	}
	for i := uint32(0); i < memProps.MemoryTypeCount; i++ {
		memProps.MemoryTypes[i].Deref()
		flags := vk.MemoryPropertyFlags(memProps.MemoryTypes[i].PropertyFlags)
		if memRequirements.MemoryTypeBits&(1<<i) != 0 && flags&properties == properties {
			return i, true
		}
	}
	return 0, false
}

// acquireSubMemory finds or creates a chunk range big enough for
// memRequirements, splitting out the remainder via allocateInSubMemory.
func (a *Allocator) acquireSubMemory(b *memoryBatch, memRequirements vk.MemoryRequirements, sub *SubMemory) error {
	if memRequirements.Size > a.chunkSize {
		chunk, err := a.allocateChunk(sub.MemoryIndex, sub.MemoryBatch, memRequirements.Size, false)
		if err != nil {
			return err
		}
		*sub = chunk
		return nil
	}

	mt := &b.memory[sub.MemoryIndex]
	for i, free := range mt.availableSpaces {
		fits := memRequirements.Size <= free.Size
		alignable := free.Offset%memRequirements.Alignment == 0 ||
			memRequirements.Size+memRequirements.Alignment-(free.Offset%memRequirements.Alignment) <= free.Size
		if fits && alignable {
			*sub = free
			mt.availableSpaces = append(mt.availableSpaces[:i], mt.availableSpaces[i+1:]...)
			return nil
		}
	}

	var memProps vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(a.physicalDevice, &memProps)
	memProps.Deref()
	memProps.MemoryTypes[sub.MemoryIndex].Deref()
	hostVisible := vk.MemoryPropertyFlags(memProps.MemoryTypes[sub.MemoryIndex].PropertyFlags)&vk.MemoryPropertyHostVisibleBit != 0

	if !a.usingBatches && hostVisible {
		chunk, err := a.allocateChunk(sub.MemoryIndex, sub.MemoryBatch, memRequirements.Size, false)
		if err != nil {
			return err
		}
		*sub = chunk
		return nil
	}

	a.resourceMu.Lock()
	shouldRelease := a.shouldReleaseLowMemory(sub.MemoryIndex)
	if shouldRelease {
		a.hasReleasedUnusedMemory = true
	}
	a.resourceMu.Unlock()

	if shouldRelease {
		b.mu.Unlock()
		a.triggerReleaseLocked()
		b.mu.Lock()
		a.displayResources()
		return a.acquireSubMemory(b, memRequirements, sub)
	}

	chunk, err := a.allocateChunk(sub.MemoryIndex, sub.MemoryBatch, 0, true)
	if err != nil {
		return err
	}
	*sub = chunk
	return nil
}

// allocateInSubMemory trims sub down to exactly memRequirements' size,
// returning the unused prefix (for alignment) and suffix to the free
// list.
func (a *Allocator) allocateInSubMemory(b *memoryBatch, memRequirements vk.MemoryRequirements, sub *SubMemory) {
	if sub.IsDedicated() {
		return
	}
	if pad := sub.Offset % memRequirements.Alignment; pad > 0 {
		prefix := SubMemory{
			Memory:      sub.Memory,
			Offset:      sub.Offset,
			Size:        memRequirements.Alignment - pad,
			MemoryIndex: sub.MemoryIndex,
			MemoryBatch: sub.MemoryBatch,
		}
		sub.Offset += prefix.Size
		sub.Size -= prefix.Size
		a.insert(b, prefix)
	}
	suffix := SubMemory{
		Memory:      sub.Memory,
		Offset:      sub.Offset + memRequirements.Size,
		Size:        sub.Size - memRequirements.Size,
		MemoryIndex: sub.MemoryIndex,
		MemoryBatch: sub.MemoryBatch,
	}
	sub.Size = memRequirements.Size
	if suffix.Size > 0 {
		a.insert(b, suffix)
	}
}

// insert places sub into its memory type's free list, kept sorted
// ascending by Size so acquireSubMemory's linear scan finds the
// smallest fit first.
func (a *Allocator) insert(b *memoryBatch, sub SubMemory) {
	mt := &b.memory[sub.MemoryIndex]
	for i, free := range mt.availableSpaces {
		if free.Size >= sub.Size {
			mt.availableSpaces = append(mt.availableSpaces, SubMemory{})
			copy(mt.availableSpaces[i+1:], mt.availableSpaces[i:])
			mt.availableSpaces[i] = sub
			return
		}
	}
	mt.availableSpaces = append(mt.availableSpaces, sub)
}

// merge coalesces sub with adjacent free ranges in the same chunk
// before it is reinserted.
func (a *Allocator) merge(b *memoryBatch, sub *SubMemory) {
	mt := &b.memory[sub.MemoryIndex]
	memBegin := sub.Offset
	memEnd := memBegin + sub.Size

	for {
		merged := false
		for i, free := range mt.availableSpaces {
			if free.Memory != sub.Memory {
				continue
			}
			switch {
			case free.Offset == memEnd:
				sub.Size += free.Size
				memEnd = sub.Offset + sub.Size
			case free.Offset+free.Size == memBegin:
				sub.Offset = free.Offset
				sub.Size += free.Size
				memBegin = sub.Offset
			default:
				continue
			}
			mt.availableSpaces = append(mt.availableSpaces[:i], mt.availableSpaces[i+1:]...)
			merged = true
			break
		}
		if !merged {
			return
		}
	}
}

// allocateChunk allocates a new vkDeviceMemory. When specificSize is 0
// the configured chunk size is used and the chunk is registered for
// later release-unused-chunks bookkeeping; a non-zero specificSize
// (oversized request) allocates an unregistered, effectively dedicated
// chunk whose Size is reported as dedicatedSize.
func (a *Allocator) allocateChunk(memoryIndex uint32, memoryBatch uint32, specificSize vk.DeviceSize, register bool) (SubMemory, error) {
	size := a.chunkSize
	if specificSize != 0 {
		size = specificSize
	}
	sub := SubMemory{Offset: 0, Size: size, MemoryIndex: memoryIndex, MemoryBatch: memoryBatch}
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  size,
		MemoryTypeIndex: memoryIndex,
	}
	if res := vk.AllocateMemory(a.device, &allocInfo, nil, &sub.Memory); res != vk.Success {
		core.LogError("failed to allocate chunk of %d MiB", size/1024/1024)
		return SubMemory{}, fmt.Errorf("vkAllocateMemory (chunk): %v", res)
	}
	core.LogDebug("allocate chunk of %d MiB", size/1024/1024)
	if register {
		b := a.batches[memoryBatch]
		b.memory[memoryIndex].memoryChunks = append(b.memory[memoryIndex].memoryChunks, sub.Memory)
	} else {
		sub.Size = dedicatedSize
	}
	a.displayResources()
	return sub, nil
}

// shouldReleaseLowMemory reports whether the tracked device-local
// heap's free budget has dropped below 64 MiB plus one chunk, the same
// threshold the source's dmalloc/acquireSubMemory paths use.
func (a *Allocator) shouldReleaseLowMemory(memoryIndex uint32) bool {
	if a.hasReleasedUnusedMemory {
		return false
	}
	var memProps vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(a.physicalDevice, &memProps)
	memProps.Deref()
	memProps.MemoryTypes[memoryIndex].Deref()
	heapIndex := memProps.MemoryTypes[memoryIndex].HeapIndex
	thresholdMB := uint64(64) + uint64(a.chunkSize)/1024/1024
	return a.availableDeviceMemoryMB <= thresholdMB && heapIndex == a.deviceMemoryHeap
}

func (a *Allocator) triggerReleaseLocked() {
	if a.releaseUnusedMemory != nil {
		a.releaseUnusedMemory()
	}
}

// displayResources refreshes and logs the per-heap budget, skipping
// overlapping calls the way the source's test-and-set flag does.
func (a *Allocator) displayResources() {
	a.resourceMu.Lock()
	if a.displayInFlight {
		a.resourceMu.Unlock()
		return
	}
	a.displayInFlight = true
	a.resourceMu.Unlock()

	for i, q := range a.QueryMemory() {
		if q.Flags&vk.MemoryHeapDeviceLocalBit != 0 {
			a.resourceMu.Lock()
			a.deviceMemoryHeap = uint32(i)
			a.availableDeviceMemoryMB = uint64(q.Free) / 1024 / 1024
			a.resourceMu.Unlock()
		}
		kind := "local"
		if q.Flags&vk.MemoryHeapDeviceLocalBit != 0 {
			kind = "GPU"
		}
		core.LogDebug("%s memory total=%dMiB available=%dMiB used=%dMiB free=%dMiB", kind,
			q.Total/1024/1024, q.Available/1024/1024, q.Used/1024/1024, q.Free/1024/1024)
	}

	a.resourceMu.Lock()
	a.displayInFlight = false
	a.resourceMu.Unlock()
}

// QueryMemory reports every heap's current budget. When the device has
// VK_EXT_memory_budget enabled, Available/Used/Free come from the
// driver's VkPhysicalDeviceMemoryBudgetPropertiesEXT; otherwise every
// heap reports its full Size as available, since no real budget is
// obtainable.
func (a *Allocator) QueryMemory() []MemoryQuery {
	budget := vk.PhysicalDeviceMemoryBudgetProperties{
		SType: vk.StructureTypePhysicalDeviceMemoryBudgetProperties,
	}
	budget.Deref()

	memProps2 := vk.PhysicalDeviceMemoryProperties2{
		SType: vk.StructureTypePhysicalDeviceMemoryProperties2,
	}
	if a.memoryBudgetEnabled {
		memProps2.PNext = unsafe.Pointer(&budget)
	}
	memProps2.Deref()
	vk.GetPhysicalDeviceMemoryProperties2(a.physicalDevice, &memProps2)
	memProps2.Deref()
	if a.memoryBudgetEnabled {
		budget.Deref()
	}

	memProps := memProps2.MemoryProperties
	memProps.Deref()

	out := make([]MemoryQuery, memProps.MemoryHeapCount)
	for i := uint32(0); i < memProps.MemoryHeapCount; i++ {
		memProps.MemoryHeaps[i].Deref()
		heap := memProps.MemoryHeaps[i]
		if a.memoryBudgetEnabled {
			available := budget.HeapBudget[i]
			used := budget.HeapUsage[i]
			out[i] = MemoryQuery{
				Total:     heap.Size,
				Available: available,
				Used:      used,
				Free:      available - used,
				Flags:     heap.Flags,
			}
			continue
		}
		out[i] = MemoryQuery{
			Total:     heap.Size,
			Available: heap.Size,
			Used:      0,
			Free:      heap.Size,
			Flags:     heap.Flags,
		}
	}
	return out
}

// ReleaseUnusedChunks frees every chunk-sized (i.e. whole, untouched)
// free range back to the driver, guarded against concurrent callers
// the same way the source's atomic test-and-set flag is.
func (a *Allocator) ReleaseUnusedChunks() {
	a.resourceMu.Lock()
	if a.releaseInFlight {
		a.resourceMu.Unlock()
		return
	}
	a.releaseInFlight = true
	a.resourceMu.Unlock()

	for _, b := range a.batches {
		b.mu.Lock()
		for i := range b.memory {
			mt := &b.memory[i]
			kept := mt.availableSpaces[:0]
			for _, free := range mt.availableSpaces {
				if free.Size != a.chunkSize {
					kept = append(kept, free)
					continue
				}
				for j, chunk := range mt.memoryChunks {
					if chunk == free.Memory {
						mt.memoryChunks = append(mt.memoryChunks[:j], mt.memoryChunks[j+1:]...)
						break
					}
				}
				vk.FreeMemory(a.device, free.Memory, nil)
			}
			mt.availableSpaces = kept
		}
		b.mu.Unlock()
	}

	a.resourceMu.Lock()
	a.releaseInFlight = false
	a.resourceMu.Unlock()
}

// Destroy frees every chunk still owned by the allocator. The caller
// must ensure the device is idle first.
func (a *Allocator) Destroy() {
	for _, b := range a.batches {
		b.mu.Lock()
		for i := range b.memory {
			for _, chunk := range b.memory[i].memoryChunks {
				vk.FreeMemory(a.device, chunk, nil)
			}
		}
		b.mu.Unlock()
	}
}
