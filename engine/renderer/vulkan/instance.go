package vulkan

import (
	"fmt"
	"strings"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/corevk/engine/core"
)

func (c *Context) createInstance() error {
	if err := vk.Init(); err != nil {
		return fmt.Errorf("failed to initialize vulkan loader: %w", err)
	}

	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         c.vulkanVersion(),
		ApplicationVersion: c.cfg.Version,
		PApplicationName:   VulkanSafeString(c.cfg.ApplicationName),
		PEngineName:        VulkanSafeString("corevk"),
		EngineVersion:      vk.MakeVersion(1, 0, 0),
	}
	appInfo.Deref()

	requiredExtensions := []string{vk.KhrSurfaceExtensionName}
	requiredExtensions = append(requiredExtensions, platformSurfaceExtensions()...)
	if c.cfg.EnableDebugLayers {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugUtilsExtensionName)
	}

	var requiredLayers []string
	if c.cfg.EnableDebugLayers {
		core.LogInfo("validation layers requested, enumerating...")
		requiredLayers = append(requiredLayers, "VK_LAYER_KHRONOS_validation")
		if err := checkLayersAvailable(requiredLayers); err != nil {
			return err
		}
	}

	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(requiredExtensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(requiredExtensions),
		EnabledLayerCount:       uint32(len(requiredLayers)),
		PpEnabledLayerNames:     VulkanSafeStrings(requiredLayers),
	}
	createInfo.Deref()

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, c.Allocator, &instance); !VulkanResultIsSuccess(res) {
		return fmt.Errorf("failed to create vulkan instance: %s", VulkanResultString(res, true))
	}
	c.Instance = instance

	vk.InitInstance(instance)

	core.LogInfo("vulkan instance created")
	return nil
}

func (c *Context) vulkanVersion() uint32 {
	if c.cfg.VulkanVersion != 0 {
		return c.cfg.VulkanVersion
	}
	return vk.MakeVersion(1, 2, 0)
}

func checkLayersAvailable(required []string) error {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); !VulkanResultIsSuccess(res) {
		return fmt.Errorf("failed to enumerate instance layers")
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); !VulkanResultIsSuccess(res) {
		return fmt.Errorf("failed to enumerate instance layers")
	}

	for _, want := range required {
		found := false
		for i := range available {
			available[i].Deref()
			end := FindFirstZeroInByteArray(available[i].LayerName[:])
			if vk.ToString(available[i].LayerName[:end+1]) == want {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("required validation layer not found: %s", want)
		}
		core.LogInfo("validation layer found: %s", want)
	}
	return nil
}

func (c *Context) createDebugMessenger() error {
	info := vk.DebugUtilsMessengerCreateInfo{
		SType: vk.StructureTypeDebugUtilsMessengerCreateInfo,
		MessageSeverity: vk.DebugUtilsMessageSeverityFlags(
			vk.DebugUtilsMessageSeverityVerboseBit |
				vk.DebugUtilsMessageSeverityInfoBit |
				vk.DebugUtilsMessageSeverityWarningBit |
				vk.DebugUtilsMessageSeverityErrorBit),
		MessageType: vk.DebugUtilsMessageTypeFlags(
			vk.DebugUtilsMessageTypeGeneralBit |
				vk.DebugUtilsMessageTypeValidationBit |
				vk.DebugUtilsMessageTypePerformanceBit),
		PfnUserCallback: dbgUtilsCallbackFunc,
	}
	info.Deref()

	var messenger vk.DebugUtilsMessenger
	if res := vk.CreateDebugUtilsMessenger(c.Instance, &info, c.Allocator, &messenger); !VulkanResultIsSuccess(res) {
		return fmt.Errorf("failed to create debug utils messenger: %s", VulkanResultString(res, true))
	}
	c.DebugMessenger = messenger
	core.LogInfo("vulkan debug utils messenger created")
	return nil
}

// objectPrettyPrinter formats an object reference's address portion of
// a validation message. Registered per 6-bit tag (ASCII 0x40-0x7e, the
// first byte of the tag-prefixed name) so callers can teach the
// callback how to render their own handle types; unregistered tags
// fall back to the raw hex address.
type objectPrettyPrinter func(addr uintptr) string

var objectPrettyPrinters = map[byte]objectPrettyPrinter{}

// RegisterObjectPrettyPrinter installs a printer for validation-message
// object names of the form "<tag><name> at <addr>", where tag is a
// single byte in the 0x40-0x7e range.
func RegisterObjectPrettyPrinter(tag byte, fn objectPrettyPrinter) {
	objectPrettyPrinters[tag] = fn
}

// formatObjectName renders a validation-message object name, applying
// the tag-selected pretty printer to the " at <addr>" suffix when the
// name carries one.
func formatObjectName(name string) string {
	const marker = " at "
	idx := strings.Index(name, marker)
	if idx < 0 || len(name) == 0 {
		return name
	}
	tag := name[0]
	if tag < 0x40 || tag > 0x7e {
		return name
	}
	printer, ok := objectPrettyPrinters[tag]
	if !ok {
		return name
	}
	addrStr := name[idx+len(marker):]
	var addr uintptr
	fmt.Sscanf(addrStr, "0x%x", &addr)
	return name[1:idx] + " at " + printer(addr)
}

// debugUtilsTypeString renders messageTypes the same way the source's
// validation dump labels a message: by its most specific category.
func debugUtilsTypeString(messageTypes vk.DebugUtilsMessageTypeFlags) string {
	switch {
	case messageTypes&vk.DebugUtilsMessageTypeFlags(vk.DebugUtilsMessageTypeValidationBit) != 0:
		return "validation"
	case messageTypes&vk.DebugUtilsMessageTypeFlags(vk.DebugUtilsMessageTypePerformanceBit) != 0:
		return "performance"
	default:
		return "general"
	}
}

// debugUtilsLabels renders a queue/command-buffer label chain as
// "name, name, ...", the Go stand-in for the source's indented
// pQueueLabels/pCmdBufLabels dump.
func debugUtilsLabels(labels []vk.DebugUtilsLabel) string {
	if len(labels) == 0 {
		return ""
	}
	names := make([]string, len(labels))
	for i := range labels {
		labels[i].Deref()
		names[i] = labels[i].PLabelName
	}
	return strings.Join(names, ", ")
}

func dbgUtilsCallbackFunc(
	messageSeverity vk.DebugUtilsMessageSeverityFlagBits,
	messageTypes vk.DebugUtilsMessageTypeFlags,
	pCallbackData *vk.DebugUtilsMessengerCallbackData,
	pUserData unsafe.Pointer,
) vk.Bool32 {
	pCallbackData.Deref()
	message := formatObjectName(pCallbackData.PMessage)
	kind := debugUtilsTypeString(messageTypes)

	if queueLabels := debugUtilsLabels(pCallbackData.PQueueLabels); queueLabels != "" {
		message += " queues=[" + queueLabels + "]"
	}
	if cmdLabels := debugUtilsLabels(pCallbackData.PCmdBufLabels); cmdLabels != "" {
		message += " cmdbufs=[" + cmdLabels + "]"
	}

	switch {
	case messageSeverity&vk.DebugUtilsMessageSeverityFlagBits(vk.DebugUtilsMessageSeverityErrorBit) != 0:
		core.LogError("[%s] %s", kind, message)
	case messageSeverity&vk.DebugUtilsMessageSeverityFlagBits(vk.DebugUtilsMessageSeverityWarningBit) != 0:
		core.LogWarn("[%s] %s", kind, message)
	case messageSeverity&vk.DebugUtilsMessageSeverityFlagBits(vk.DebugUtilsMessageSeverityInfoBit) != 0:
		core.LogInfo("[%s] %s", kind, message)
	default:
		core.LogDebug("[%s] %s", kind, message)
	}
	return vk.Bool32(vk.False)
}
