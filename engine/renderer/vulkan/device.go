package vulkan

import (
	"fmt"
	"reflect"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/corevk/engine/config"
	"github.com/spaghettifunk/corevk/engine/core"
)

// QueueRole names the capability an AcquireQueue caller wants from a
// queue family.
type QueueRole int

const (
	RoleGraphics QueueRole = iota
	RolePresent
	RoleCompute
	RoleTransfer
)

// QueueFamily mirrors the data model: a family index, its total and
// remaining queue counts, the capabilities it exposes, and how many
// queues were pre-reserved for each dedicated role at carve time.
// Allocation out of Remaining is monotonic — AcquireQueue never
// returns a queue to the pool.
type QueueFamily struct {
	Index     uint32
	Count     uint32
	Remaining uint32

	Graphics bool
	Compute  bool
	Transfer bool
	Present  bool

	DedicatedGraphic           uint32
	DedicatedCompute           uint32
	DedicatedGraphicAndCompute uint32
	DedicatedTransfer          uint32

	nextIndex uint32
}

func (c *Context) selectPhysicalDevice() error {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(c.Instance, &count, nil); !VulkanResultIsSuccess(res) {
		return fmt.Errorf("failed to enumerate physical devices: %s", VulkanResultString(res, true))
	}
	if count == 0 {
		return fmt.Errorf("no devices which support Vulkan were found")
	}
	devices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(c.Instance, &count, devices); !VulkanResultIsSuccess(res) {
		return fmt.Errorf("failed to enumerate physical devices: %s", VulkanResultString(res, true))
	}

	requiredExtensions := append([]string{}, c.cfg.RequiredExtensions...)
	if !c.cfg.Headless {
		requiredExtensions = append(requiredExtensions, vk.KhrSwapchainExtensionName)
	}

	var bestFallback vk.PhysicalDevice
	var bestFallbackProps vk.PhysicalDeviceProperties

	for _, device := range devices {
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(device, &props)
		props.Deref()

		var features vk.PhysicalDeviceFeatures
		vk.GetPhysicalDeviceFeatures(device, &features)
		features.Deref()

		if !deviceSupportsExtensions(device, requiredExtensions) {
			core.LogInfo("device %q skipped: missing a required extension", vk.ToString(props.DeviceName[:]))
			continue
		}

		if !c.cfg.Headless {
			var support SwapchainSupportInfo
			if err := querySwapchainSupport(device, c.Surface, &support); err != nil || support.FormatCount == 0 || support.PresentModeCount == 0 {
				core.LogInfo("device %q skipped: inadequate swap-chain support", vk.ToString(props.DeviceName[:]))
				continue
			}
		}

		preferredType := vk.PhysicalDeviceTypeDiscreteGpu
		if c.cfg.PreferIntegrated {
			preferredType = vk.PhysicalDeviceTypeIntegratedGpu
		}
		if runtime.GOOS == "darwin" {
			// MoltenVK reports integrated-class devices even on
			// discrete hardware; never hard-require a type on macOS.
			preferredType = props.DeviceType
		}

		if props.DeviceType == preferredType {
			c.commitPhysicalDevice(device, props, features)
			return nil
		}
		if bestFallback == nil {
			bestFallback = device
			bestFallbackProps = props
		}
	}

	if bestFallback == nil {
		return fmt.Errorf("no physical device satisfies the required extensions and swap-chain support")
	}
	var features vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(bestFallback, &features)
	features.Deref()
	c.commitPhysicalDevice(bestFallback, bestFallbackProps, features)
	return nil
}

func (c *Context) commitPhysicalDevice(device vk.PhysicalDevice, props vk.PhysicalDeviceProperties, features vk.PhysicalDeviceFeatures) {
	c.PhysicalDevice = device
	c.Properties = props
	c.Features = features

	var memory vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(device, &memory)
	memory.Deref()
	c.Memory = memory

	core.LogInfo("selected physical device: %q", vk.ToString(props.DeviceName[:]))
	core.LogInfo("driver version: %d.%d.%d",
		vk.Version(props.DriverVersion).Major(),
		vk.Version(props.DriverVersion).Minor(),
		vk.Version(props.DriverVersion).Patch())
}

func deviceSupportsExtensions(device vk.PhysicalDevice, required []string) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); !VulkanResultIsSuccess(res) {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if count > 0 {
		if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, available); !VulkanResultIsSuccess(res) {
			return false
		}
	}
	for _, want := range required {
		found := false
		for i := range available {
			available[i].Deref()
			end := FindFirstZeroInByteArray(available[i].ExtensionName[:])
			if vk.ToString(available[i].ExtensionName[:end+1]) == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// negotiateFeatures walks the Bool32 fields of vk.PhysicalDeviceFeatures
// by reflection: a field is enabled in the result if the device
// supports it and either required or preferred asked for it. A field
// required-but-unsupported fails construction; a field merely
// preferred-but-unsupported is silently pruned.
func negotiateFeatures(available, required, preferred vk.PhysicalDeviceFeatures) (vk.PhysicalDeviceFeatures, error) {
	enabled := preferred
	rEnabled := reflect.ValueOf(&enabled).Elem()
	rRequired := reflect.ValueOf(required)
	rAvailable := reflect.ValueOf(available)

	for i := 0; i < rEnabled.NumField(); i++ {
		field := rEnabled.Field(i)
		if field.Kind() != reflect.Uint32 {
			continue
		}
		name := rEnabled.Type().Field(i).Name
		isRequired := rRequired.Field(i).Uint() != 0
		isAvailable := rAvailable.Field(i).Uint() != 0
		wanted := field.Uint() != 0 || isRequired

		if wanted && !isAvailable {
			if isRequired {
				return enabled, fmt.Errorf("required feature %s is not supported by the device", name)
			}
			wanted = false
		}
		if wanted {
			field.SetUint(1)
		} else {
			field.SetUint(0)
		}
	}
	return enabled, nil
}

func (c *Context) createLogicalDevice() error {
	families, err := carveQueueFamilies(c.PhysicalDevice, c.Surface, c.cfg.QueueRequest, !c.cfg.Headless)
	if err != nil {
		return err
	}
	c.Families = families

	enabled, err := negotiateFeatures(c.Features, c.cfg.RequiredFeatures, c.cfg.PreferredFeatures)
	if err != nil {
		return err
	}

	uniqueIndices := uniqueFamilyIndices(families)
	queueInfos := make([]vk.DeviceQueueCreateInfo, len(uniqueIndices))
	priority := float32(1.0)
	for i, idx := range uniqueIndices {
		priorities := make([]float32, families[idx].Count)
		for j := range priorities {
			priorities[j] = priority
		}
		queueInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: idx,
			QueueCount:       families[idx].Count,
			PQueuePriorities: priorities,
		}
		queueInfos[i].Deref()
	}

	extensions := append([]string{}, c.cfg.RequiredExtensions...)
	if !c.cfg.Headless {
		extensions = append(extensions, vk.KhrSwapchainExtensionName)
	}

	// Both are optional: a device lacking either still works, just
	// without a trustworthy memory budget and with syncevent's
	// compat-shadow barrier path permanently in use.
	c.memoryBudgetEnabled = deviceSupportsExtensions(c.PhysicalDevice, []string{vk.ExtMemoryBudgetExtensionName})
	if c.memoryBudgetEnabled {
		extensions = append(extensions, vk.ExtMemoryBudgetExtensionName)
	}
	c.synchronization2Enabled = deviceSupportsExtensions(c.PhysicalDevice, []string{vk.KhrSynchronization2ExtensionName})
	if c.synchronization2Enabled {
		extensions = append(extensions, vk.KhrSynchronization2ExtensionName)
	}

	createInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{enabled},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
	}
	createInfo.Deref()

	var device vk.Device
	err = lockPool.SafeCall(DeviceManagement, func() error {
		if res := vk.CreateDevice(c.PhysicalDevice, &createInfo, c.Allocator, &device); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("failed to create logical device: %s", VulkanResultString(res, true))
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.Device = device
	vk.InitDevice(device)

	core.LogInfo("logical device created")
	return nil
}

func (c *Context) createCommandPool() error {
	graphics := c.firstFamily(func(f *QueueFamily) bool { return f.Graphics })
	if graphics == nil {
		return fmt.Errorf("no graphics-capable queue family available")
	}

	info := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: graphics.Index,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	info.Deref()

	var pool vk.CommandPool
	err := lockPool.SafeCall(CommandPoolManagement, func() error {
		if res := vk.CreateCommandPool(c.Device, &info, c.Allocator, &pool); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("failed to create command pool: %s", VulkanResultString(res, true))
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.GraphicsCommandPool = pool
	return nil
}

func (c *Context) firstFamily(match func(*QueueFamily) bool) *QueueFamily {
	for _, f := range c.Families {
		if match(f) {
			return f
		}
	}
	return nil
}

func uniqueFamilyIndices(families []*QueueFamily) []uint32 {
	seen := make(map[uint32]bool)
	var out []uint32
	for _, f := range families {
		if !seen[f.Index] {
			seen[f.Index] = true
			out = append(out, f.Index)
		}
	}
	return out
}

// carveQueueFamilies enumerates the physical device's queue families
// and tags each with the capabilities it exposes, applying the
// "lowest transfer score so far" heuristic so a family that does only
// transfer is preferred for the transfer role over one that also does
// graphics or compute. Dedicated-role reservations from req are
// recorded against the family best suited to each, but do not yet
// remove capacity from Remaining — reservation is informational until
// AcquireQueue actually hands a queue out.
func carveQueueFamilies(device vk.PhysicalDevice, surface vk.Surface, req config.QueueRequest, needsPresent bool) ([]*QueueFamily, error) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &count, nil)
	props := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &count, props)

	families := make([]*QueueFamily, count)
	minTransferScore := 255
	transferCandidate := -1

	for i := uint32(0); i < count; i++ {
		props[i].Deref()
		flags := uint32(props[i].QueueFlags)

		f := &QueueFamily{
			Index:     i,
			Count:     props[i].QueueCount,
			Remaining: props[i].QueueCount,
			Graphics:  flags&uint32(vk.QueueGraphicsBit) != 0,
			Compute:   flags&uint32(vk.QueueComputeBit) != 0,
			Transfer:  flags&uint32(vk.QueueTransferBit) != 0,
		}

		if needsPresent {
			var supportsPresent vk.Bool32
			if res := vk.GetPhysicalDeviceSurfaceSupport(device, i, surface, &supportsPresent); !VulkanResultIsSuccess(res) {
				return nil, fmt.Errorf("failed to query surface support for family %d", i)
			}
			f.Present = supportsPresent == vk.True
		}

		if f.Transfer {
			score := 0
			if f.Graphics {
				score++
			}
			if f.Compute {
				score++
			}
			if score <= minTransferScore {
				minTransferScore = score
				transferCandidate = int(i)
			}
		}

		families[i] = f
	}

	if transferCandidate >= 0 && req.DedicatedTransfer {
		families[transferCandidate].DedicatedTransfer = 1
	}
	for _, f := range families {
		switch {
		case f.Graphics && f.Compute && req.DedicatedGraphicAndCompute:
			f.DedicatedGraphicAndCompute = 1
		case f.Graphics && req.DedicatedGraphic:
			f.DedicatedGraphic = 1
		case f.Compute && req.DedicatedCompute:
			f.DedicatedCompute = 1
		}
	}

	if !hasCapability(families, func(f *QueueFamily) bool { return f.Graphics }) {
		return nil, fmt.Errorf("no graphics-capable queue family found")
	}
	if needsPresent && !hasCapability(families, func(f *QueueFamily) bool { return f.Present }) {
		return nil, fmt.Errorf("no present-capable queue family found")
	}
	return families, nil
}

func hasCapability(families []*QueueFamily, match func(*QueueFamily) bool) bool {
	for _, f := range families {
		if match(f) {
			return true
		}
	}
	return false
}

// AcquireQueue returns a (queue, family) pair for role, or ok=false if
// every queue of that role has already been handed out. Allocation is
// monotonic: Remaining only ever decreases.
func (c *Context) AcquireQueue(role QueueRole) (vk.Queue, *QueueFamily, bool) {
	matches := func(f *QueueFamily) bool {
		switch role {
		case RoleGraphics:
			return f.Graphics
		case RolePresent:
			return f.Present
		case RoleCompute:
			return f.Compute
		case RoleTransfer:
			return f.Transfer
		}
		return false
	}

	for _, f := range c.Families {
		if !matches(f) || f.Remaining == 0 {
			continue
		}
		var queue vk.Queue
		vk.GetDeviceQueue(c.Device, f.Index, f.nextIndex, &queue)
		c.SetDebugObjectName(vk.ObjectTypeQueue, uint64(uintptr(unsafe.Pointer(queue))), fmt.Sprintf("Queue family %d #%d", f.Index, f.nextIndex))
		f.nextIndex++
		f.Remaining--
		return queue, f, true
	}
	return nil, nil, false
}
