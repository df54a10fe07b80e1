package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/keel/engine/core"
)

func createInstance(ctx *Context, appName string, debug bool) error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return fmt.Errorf("vulkan: GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		return fmt.Errorf("vulkan: initializing loader: %w", err)
	}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   safeString(appName),
		PEngineName:        safeString("Keel Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// GLFW reports VK_KHR_surface plus the platform surface extension.
	requiredExtensions := glfw.GetRequiredInstanceExtensions()

	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1 // VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
	}

	if debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
		core.LogDebug("Required instance extensions:")
		for _, ext := range requiredExtensions {
			core.LogDebug("  %s", ext)
		}
	}

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = safeStrings(requiredExtensions)

	var validationLayers []string
	if debug {
		validationLayers = []string{"VK_LAYER_KHRONOS_validation"}
		if err := verifyValidationLayers(validationLayers); err != nil {
			return err
		}
	}
	createInfo.EnabledLayerCount = uint32(len(validationLayers))
	createInfo.PpEnabledLayerNames = safeStrings(validationLayers)

	if res := vk.CreateInstance(&createInfo, ctx.allocator, &ctx.instance); res != vk.Success {
		return fmt.Errorf("vulkan: creating instance: %s", resultString(res))
	}
	if err := vk.InitInstance(ctx.instance); err != nil {
		return fmt.Errorf("vulkan: initializing instance: %w", err)
	}
	core.LogInfo("Vulkan instance created.")

	if debug {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit),
			PfnCallback: debugCallback,
		}
		if res := vk.CreateDebugReportCallback(ctx.instance, &debugCreateInfo, nil, &ctx.debugMessenger); res != vk.Success {
			return fmt.Errorf("vulkan: creating debug callback: %s", resultString(res))
		}
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func verifyValidationLayers(required []string) error {
	var availableCount uint32
	if res := vk.EnumerateInstanceLayerProperties(&availableCount, nil); res != vk.Success {
		return fmt.Errorf("vulkan: enumerating layers: %s", resultString(res))
	}
	available := make([]vk.LayerProperties, availableCount)
	if res := vk.EnumerateInstanceLayerProperties(&availableCount, available); res != vk.Success {
		return fmt.Errorf("vulkan: enumerating layers: %s", resultString(res))
	}

	for _, name := range required {
		found := false
		for i := range available {
			available[i].Deref()
			if name == vk.ToString(available[i].LayerName[:]) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("vulkan: required validation layer missing: %s", name)
		}
	}
	core.LogDebug("All required validation layers are present.")
	return nil
}

func debugCallback(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, layerPrefix string, message string, userData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] %s", layerPrefix, message)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0,
		flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("[%s] %s", layerPrefix, message)
	default:
		core.LogDebug("[%s] %s", layerPrefix, message)
	}
	return vk.Bool32(vk.False)
}
