// Package bufalloc implements the host-visible buffer sub-allocator: a
// single backing vkBuffer carved into sub-ranges kept in a
// size-bucketed free list (a list of equally-sized-range lists,
// themselves kept sorted by bucket size).
package bufalloc

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/corevk/engine/containers"
	"github.com/spaghettifunk/corevk/engine/core"
)

// SubRange is a contiguous range inside the backing vkBuffer.
type SubRange struct {
	Buffer vk.Buffer
	Offset int
	Size   int
}

func (s SubRange) IsValid() bool { return s.Buffer != nil }

// uniformOffsetAlignment is process-wide, matching BufferMgr's static
// member: it is whatever VkPhysicalDeviceLimits::minUniformBufferOffsetAlignment
// the Device Context discovered.
var uniformOffsetAlignment = 256

// SetUniformOffsetAlignment configures the rounding applied to
// AcquireBuffer when isUniform is true.
func SetUniformOffsetAlignment(alignment int) {
	uniformOffsetAlignment = alignment
}

// bucket holds every currently-free SubRange of one exact size.
type bucket struct {
	size   int
	ranges []SubRange
}

// Allocator is the buffer sub-allocator: one backing vkBuffer, a
// size-bucketed free list, a high-water mark for a bump-allocator fast
// path, and an optional asynchronous release queue.
type Allocator struct {
	device vk.Device
	buffer vk.Buffer
	memory vk.DeviceMemory
	data   unsafe.Pointer

	blockSize int
	isUniform bool

	mu        sync.Mutex
	buckets   []bucket // ascending by size
	maxOffset int

	releaseMu    sync.Mutex
	releaseQueue *containers.RingQueue
	alive        bool
}

// New creates an Allocator over an already-created buffer/memory pair
// and seeds the free list with one range spanning it entirely.
func New(device vk.Device, buffer vk.Buffer, memory vk.DeviceMemory, blockSize int, isUniform bool, mappedData unsafe.Pointer) *Allocator {
	a := &Allocator{
		device:       device,
		buffer:       buffer,
		memory:       memory,
		data:         mappedData,
		blockSize:    blockSize,
		isUniform:    isUniform,
		releaseQueue: containers.NewRingQueue(512),
	}
	a.insert(SubRange{Buffer: buffer, Offset: 0, Size: blockSize})
	return a
}

// AcquireBuffer finds the smallest free range at least size bytes,
// splitting off and reinserting the remainder.
func (a *Allocator) AcquireBuffer(size int) (SubRange, error) {
	if a.isUniform {
		size = ((size-1)/uniformOffsetAlignment + 1) * uniformOffsetAlignment
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	idx := -1
	for i, b := range a.buckets {
		if b.size >= size {
			idx = i
			break
		}
	}
	if idx == -1 {
		return SubRange{}, core.ErrOutOfBufferSpace
	}

	b := &a.buckets[idx]
	n := len(b.ranges)
	sub := b.ranges[n-1]
	b.ranges = b.ranges[:n-1]
	if len(b.ranges) == 0 {
		a.buckets = append(a.buckets[:idx], a.buckets[idx+1:]...)
	}

	if sub.Size > size {
		remainder := SubRange{Buffer: sub.Buffer, Offset: sub.Offset + size, Size: sub.Size - size}
		sub.Size = size
		a.insert(remainder)
	}
	if sub.Offset+sub.Size > a.maxOffset {
		a.maxOffset = sub.Offset + sub.Size
	}
	return sub, nil
}

// FastAcquireBuffer is the bump-allocator fast path: it only ever
// grows maxOffset and never consults the free list, for callers that
// Reset() every frame instead of releasing individually.
func (a *Allocator) FastAcquireBuffer(size int) (SubRange, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.maxOffset+size > a.blockSize {
		return SubRange{}, false
	}
	sub := SubRange{Buffer: a.buffer, Offset: a.maxOffset, Size: size}
	a.maxOffset += size
	return sub, true
}

// Reset rewinds the bump-allocator high-water mark to zero.
func (a *Allocator) Reset() {
	a.mu.Lock()
	a.maxOffset = 0
	a.mu.Unlock()
}

// insert places sub into the bucket matching its exact size, creating
// a new bucket (kept ascending by size) if none matches yet.
func (a *Allocator) insert(sub SubRange) {
	for i, b := range a.buckets {
		if b.size == sub.Size {
			a.buckets[i].ranges = append(a.buckets[i].ranges, sub)
			return
		}
		if b.size > sub.Size {
			nb := bucket{size: sub.Size, ranges: []SubRange{sub}}
			a.buckets = append(a.buckets, bucket{})
			copy(a.buckets[i+1:], a.buckets[i:])
			a.buckets[i] = nb
			return
		}
	}
	a.buckets = append(a.buckets, bucket{size: sub.Size, ranges: []SubRange{sub}})
}

// ReleaseBuffer returns sub to the allocator, coalescing it with
// adjacent free ranges across every bucket first.
func (a *Allocator) ReleaseBuffer(sub SubRange) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releaseLocked(sub)
}

func (a *Allocator) releaseLocked(sub SubRange) {
	begin := sub.Offset
	end := begin + sub.Size

	for bi := 0; bi < len(a.buckets); {
		b := &a.buckets[bi]
		merged := false
		for i := 0; i < len(b.ranges); i++ {
			r := b.ranges[i]
			switch {
			case r.Offset == end:
				sub.Size += r.Size
				end = sub.Offset + sub.Size
			case r.Offset+r.Size == begin:
				sub.Offset = r.Offset
				sub.Size += r.Size
				begin = sub.Offset
			default:
				continue
			}
			b.ranges = append(b.ranges[:i], b.ranges[i+1:]...)
			merged = true
			i--
		}
		if len(b.ranges) == 0 {
			a.buckets = append(a.buckets[:bi], a.buckets[bi+1:]...)
			continue
		}
		if merged {
			bi = 0
			continue
		}
		bi++
	}

	if sub.Offset+sub.Size >= a.maxOffset && sub.Offset < a.maxOffset {
		a.maxOffset = sub.Offset
	}
	a.insert(sub)
}

// EnableAsyncRelease starts a goroutine draining the release queue so
// ReleaseBufferAsync callers don't pay the coalescing cost inline.
// Mirrors BufferMgr's releaseThread/startMainloop pair, with the ring
// buffer standing in for its release stack.
func (a *Allocator) EnableAsyncRelease() {
	a.releaseMu.Lock()
	if a.alive {
		a.releaseMu.Unlock()
		return
	}
	a.alive = true
	a.releaseMu.Unlock()
	go a.releaseLoop()
}

func (a *Allocator) DisableAsyncRelease() {
	a.releaseMu.Lock()
	a.alive = false
	a.releaseMu.Unlock()
}

// ReleaseBufferAsync pushes sub onto the release queue for the
// background goroutine to coalesce, or releases inline if async
// release was never enabled.
func (a *Allocator) ReleaseBufferAsync(sub SubRange) {
	a.releaseMu.Lock()
	alive := a.alive
	if alive {
		if err := a.releaseQueue.Enqueue(sub); err != nil {
			alive = false // queue full: fall back to inline release
		}
	}
	a.releaseMu.Unlock()
	if !alive {
		a.ReleaseBuffer(sub)
	}
}

func (a *Allocator) releaseLoop() {
	for {
		a.releaseMu.Lock()
		if !a.alive && a.releaseQueue.IsEmpty() {
			a.releaseMu.Unlock()
			return
		}
		v, err := a.releaseQueue.Dequeue()
		a.releaseMu.Unlock()
		if err != nil {
			time.Sleep(400 * time.Microsecond)
			continue
		}
		a.ReleaseBuffer(v.(SubRange))
	}
}

// GetPtr returns a pointer to sub's mapped data. Only valid for
// allocators backed by host-visible memory.
func (a *Allocator) GetPtr(sub SubRange) unsafe.Pointer {
	return unsafe.Add(a.data, sub.Offset)
}

// Invalidate makes device writes in sub visible to the host.
func (a *Allocator) Invalidate(sub SubRange) error {
	r := vk.MappedMemoryRange{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: a.memory,
		Offset: vk.DeviceSize(sub.Offset),
		Size:   vk.DeviceSize(sub.Size),
	}
	if res := vk.InvalidateMappedMemoryRanges(a.device, 1, []vk.MappedMemoryRange{r}); res != vk.Success {
		return fmt.Errorf("vkInvalidateMappedMemoryRanges: %v", res)
	}
	return nil
}

// InvalidateRegion makes every device write up to the allocator's
// current high-water mark visible to the host in one call, for a
// caller that wrote an unknown set of sub-ranges this frame and would
// rather invalidate everything-so-far than track each one.
func (a *Allocator) InvalidateRegion() error {
	a.mu.Lock()
	size := vk.DeviceSize(a.maxOffset)
	a.mu.Unlock()

	r := vk.MappedMemoryRange{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: a.memory,
		Offset: 0,
		Size:   size,
	}
	if res := vk.InvalidateMappedMemoryRanges(a.device, 1, []vk.MappedMemoryRange{r}); res != vk.Success {
		return fmt.Errorf("vkInvalidateMappedMemoryRanges: %v", res)
	}
	return nil
}

// InvalidateRanges batches Invalidate across every sub in subs into a
// single vkInvalidateMappedMemoryRanges call.
func (a *Allocator) InvalidateRanges(subs []SubRange) error {
	if len(subs) == 0 {
		return nil
	}
	ranges := make([]vk.MappedMemoryRange, len(subs))
	for i, sub := range subs {
		ranges[i] = vk.MappedMemoryRange{
			SType:  vk.StructureTypeMappedMemoryRange,
			Memory: a.memory,
			Offset: vk.DeviceSize(sub.Offset),
			Size:   vk.DeviceSize(sub.Size),
		}
	}
	if res := vk.InvalidateMappedMemoryRanges(a.device, uint32(len(ranges)), ranges); res != vk.Success {
		return fmt.Errorf("vkInvalidateMappedMemoryRanges: %v", res)
	}
	return nil
}

// Flush makes host writes in sub visible to the device.
func (a *Allocator) Flush(sub SubRange) error {
	r := vk.MappedMemoryRange{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: a.memory,
		Offset: vk.DeviceSize(sub.Offset),
		Size:   vk.DeviceSize(sub.Size),
	}
	if res := vk.FlushMappedMemoryRanges(a.device, 1, []vk.MappedMemoryRange{r}); res != vk.Success {
		return fmt.Errorf("vkFlushMappedMemoryRanges: %v", res)
	}
	return nil
}

// FlushRegion makes every host write up to the allocator's current
// high-water mark visible to the device in one call.
func (a *Allocator) FlushRegion() error {
	a.mu.Lock()
	size := vk.DeviceSize(a.maxOffset)
	a.mu.Unlock()

	r := vk.MappedMemoryRange{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: a.memory,
		Offset: 0,
		Size:   size,
	}
	if res := vk.FlushMappedMemoryRanges(a.device, 1, []vk.MappedMemoryRange{r}); res != vk.Success {
		return fmt.Errorf("vkFlushMappedMemoryRanges: %v", res)
	}
	return nil
}

// FlushRanges batches Flush across every sub in subs into a single
// vkFlushMappedMemoryRanges call.
func (a *Allocator) FlushRanges(subs []SubRange) error {
	if len(subs) == 0 {
		return nil
	}
	ranges := make([]vk.MappedMemoryRange, len(subs))
	for i, sub := range subs {
		ranges[i] = vk.MappedMemoryRange{
			SType:  vk.StructureTypeMappedMemoryRange,
			Memory: a.memory,
			Offset: vk.DeviceSize(sub.Offset),
			Size:   vk.DeviceSize(sub.Size),
		}
	}
	if res := vk.FlushMappedMemoryRanges(a.device, uint32(len(ranges)), ranges); res != vk.Success {
		return fmt.Errorf("vkFlushMappedMemoryRanges: %v", res)
	}
	return nil
}

// Copy records a vkCmdCopyBuffer from src to dst, the full size of src.
func Copy(cmd vk.CommandBuffer, src, dst SubRange) {
	region := vk.BufferCopy{
		SrcOffset: vk.DeviceSize(src.Offset),
		DstOffset: vk.DeviceSize(dst.Offset),
		Size:      vk.DeviceSize(src.Size),
	}
	vk.CmdCopyBuffer(cmd, src.Buffer, dst.Buffer, 1, &region)
}

// CopyRange is the explicit-size overload of Copy.
func CopyRange(cmd vk.CommandBuffer, src, dst SubRange, size int) {
	region := vk.BufferCopy{
		SrcOffset: vk.DeviceSize(src.Offset),
		DstOffset: vk.DeviceSize(dst.Offset),
		Size:      vk.DeviceSize(size),
	}
	vk.CmdCopyBuffer(cmd, src.Buffer, dst.Buffer, 1, &region)
}

// Destroy releases the backing buffer. The async-release goroutine, if
// running, must be stopped first via DisableAsyncRelease.
func (a *Allocator) Destroy() {
	vk.DestroyBuffer(a.device, a.buffer, nil)
}
