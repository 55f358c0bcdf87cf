// Package descriptor implements the descriptor-set manager and set:
// a pool sized by uniform/sampler/storage-buffer capacity, a reclaim
// queue for temporary sets, and deferred vkUpdateDescriptorSets
// batching so a set is only updated once between writes and its first
// bind.
package descriptor

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/corevk/engine/core"
)

// Capacity sizes a Manager's underlying VkDescriptorPool.
type Capacity struct {
	Uniforms       uint32
	Samplers       uint32
	StorageBuffers uint32
}

// Manager owns one descriptor pool and hands out sets against
// caller-supplied layouts. Released temporary sets are kept on a
// reclaim queue instead of being freed, to avoid the allocate/free
// churn a per-frame transient set would otherwise cause.
type Manager struct {
	device vk.Device
	pool   vk.DescriptorPool

	mu      sync.Mutex
	reclaim map[vk.DescriptorSetLayout][]vk.DescriptorSet
}

// NewManager creates a descriptor pool sized by capacity, able to hold
// up to maxSets sets at once.
func NewManager(device vk.Device, capacity Capacity, maxSets uint32) (*Manager, error) {
	sizes := make([]vk.DescriptorPoolSize, 0, 3)
	if capacity.Uniforms > 0 {
		sizes = append(sizes, vk.DescriptorPoolSize{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: capacity.Uniforms})
	}
	if capacity.Samplers > 0 {
		sizes = append(sizes, vk.DescriptorPoolSize{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: capacity.Samplers})
	}
	if capacity.StorageBuffers > 0 {
		sizes = append(sizes, vk.DescriptorPoolSize{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: capacity.StorageBuffers})
	}

	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}

	var pool vk.DescriptorPool
	if res := vk.CreateDescriptorPool(device, &info, nil, &pool); res != vk.Success {
		err := fmt.Errorf("failed to create descriptor pool")
		core.LogError(err.Error())
		return nil, err
	}
	return &Manager{
		device:  device,
		pool:    pool,
		reclaim: make(map[vk.DescriptorSetLayout][]vk.DescriptorSet),
	}, nil
}

// Acquire returns a descriptor set for layout, reusing a previously
// Released one for the same layout if one is queued, or allocating a
// fresh one from the pool otherwise.
func (m *Manager) Acquire(layout vk.DescriptorSetLayout) (*Set, error) {
	m.mu.Lock()
	if queue := m.reclaim[layout]; len(queue) > 0 {
		handle := queue[len(queue)-1]
		m.reclaim[layout] = queue[:len(queue)-1]
		m.mu.Unlock()
		return &Set{manager: m, handle: handle, layout: layout}, nil
	}
	m.mu.Unlock()

	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     m.pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}
	handles := make([]vk.DescriptorSet, 1)
	if res := vk.AllocateDescriptorSets(m.device, &allocInfo, handles); res != vk.Success {
		err := fmt.Errorf("failed to allocate descriptor set")
		core.LogError(err.Error())
		return nil, err
	}
	return &Set{manager: m, handle: handles[0], layout: layout}, nil
}

// Release queues set's handle for reuse by a later Acquire against the
// same layout, rather than freeing it back to the pool.
func (m *Manager) Release(set *Set) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reclaim[set.layout] = append(m.reclaim[set.layout], set.handle)
}

// Destroy destroys the underlying descriptor pool, invalidating every
// set it ever handed out.
func (m *Manager) Destroy() {
	if m.pool != nil {
		vk.DestroyDescriptorPool(m.device, m.pool, nil)
		m.pool = nil
	}
}

// Set accumulates pending writes against one VkDescriptorSet and
// issues a single vkUpdateDescriptorSets the first time it is bound
// after being written.
type Set struct {
	manager *Manager
	handle  vk.DescriptorSet
	layout  vk.DescriptorSetLayout

	writes []vk.WriteDescriptorSet
	dirty  bool
}

// WriteBuffer queues a buffer-backed descriptor write at binding.
func (s *Set) WriteBuffer(binding uint32, descType vk.DescriptorType, info vk.DescriptorBufferInfo) {
	s.writes = append(s.writes, vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          s.handle,
		DstBinding:      binding,
		DescriptorType:  descType,
		DescriptorCount: 1,
		PBufferInfo:     []vk.DescriptorBufferInfo{info},
	})
	s.dirty = true
}

// WriteImage queues an image-backed descriptor write at binding.
func (s *Set) WriteImage(binding uint32, descType vk.DescriptorType, info vk.DescriptorImageInfo) {
	s.writes = append(s.writes, vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          s.handle,
		DstBinding:      binding,
		DescriptorType:  descType,
		DescriptorCount: 1,
		PImageInfo:      []vk.DescriptorImageInfo{info},
	})
	s.dirty = true
}

// BindIfDirty issues the queued writes via a single
// vkUpdateDescriptorSets if any are pending, then clears them. Safe to
// call every frame; it is a no-op once nothing new has been written.
func (s *Set) BindIfDirty() {
	if !s.dirty {
		return
	}
	vk.UpdateDescriptorSets(s.manager.device, uint32(len(s.writes)), s.writes, 0, nil)
	s.writes = nil
	s.dirty = false
}

// Handle returns the underlying VkDescriptorSet.
func (s *Set) Handle() vk.DescriptorSet {
	return s.handle
}

// Release returns this set to its manager's reclaim queue.
func (s *Set) Release() {
	s.manager.Release(s)
}

// Push is the push-descriptor variant: it writes directly into the
// command buffer via vkCmdPushDescriptorSetKHR instead of updating a
// persistent VkDescriptorSet, for sets that change every draw call and
// would otherwise force a fresh Acquire/Release cycle.
type Push struct {
	layout vk.PipelineLayout
	set    uint32
	writes []vk.WriteDescriptorSet
}

// NewPush creates a push-descriptor writer targeting set within
// layout.
func NewPush(layout vk.PipelineLayout, set uint32) *Push {
	return &Push{layout: layout, set: set}
}

// WriteBuffer queues a buffer-backed descriptor write at binding.
func (p *Push) WriteBuffer(binding uint32, descType vk.DescriptorType, info vk.DescriptorBufferInfo) {
	p.writes = append(p.writes, vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstBinding:      binding,
		DescriptorType:  descType,
		DescriptorCount: 1,
		PBufferInfo:     []vk.DescriptorBufferInfo{info},
	})
}

// Push emits the queued writes against cmd without ever touching a
// real VkDescriptorSet, then clears them for the next draw call.
func (p *Push) Push(cmd vk.CommandBuffer, bindPoint vk.PipelineBindPoint) {
	vk.CmdPushDescriptorSetKHR(cmd, bindPoint, p.layout, p.set, uint32(len(p.writes)), p.writes)
	p.writes = nil
}
