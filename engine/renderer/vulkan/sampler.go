package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// GetOrCreateSampler compares info byte-wise (field-wise, since the Go
// binding already strips the opaque pNext/sType padding a raw memcmp
// would see) against every previously created sampler. A match returns
// the cached handle; a miss creates and caches one. Samplers live
// until device teardown. The whole lookup-or-create sequence runs
// under the SamplerManagement lock so two goroutines racing to create
// an identical sampler can't both miss the cache.
func (c *Context) GetOrCreateSampler(info vk.SamplerCreateInfo) (vk.Sampler, error) {
	info.SType = vk.StructureTypeSamplerCreateInfo
	info.PNext = nil

	var sampler vk.Sampler
	err := lockPool.SafeCall(SamplerManagement, func() error {
		if cached, ok := c.samplers[info]; ok {
			sampler = cached
			return nil
		}

		refInfo := info
		refInfo.Deref()

		var created vk.Sampler
		if res := vk.CreateSampler(c.Device, &refInfo, c.Allocator, &created); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("failed to create sampler: %s", VulkanResultString(res, true))
		}
		c.samplers[info] = created
		sampler = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sampler, nil
}
