package vulkan

import (
	"fmt"
	"runtime"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/keel/engine/core"
)

type queueFamilyInfo struct {
	graphicsFamilyIndex uint32
	presentFamilyIndex  uint32
	transferFamilyIndex uint32
}

func selectPhysicalDevice(ctx *Context) error {
	var deviceCount uint32
	if res := vk.EnumeratePhysicalDevices(ctx.instance, &deviceCount, nil); res != vk.Success {
		return fmt.Errorf("vulkan: enumerating physical devices: %s", resultString(res))
	}
	if deviceCount == 0 {
		return fmt.Errorf("vulkan: no devices which support Vulkan were found")
	}
	devices := make([]vk.PhysicalDevice, deviceCount)
	if res := vk.EnumeratePhysicalDevices(ctx.instance, &deviceCount, devices); res != vk.Success {
		return fmt.Errorf("vulkan: enumerating physical devices: %s", resultString(res))
	}

	requireDiscrete := runtime.GOOS != "darwin"

	for _, candidate := range devices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(candidate, &properties)
		properties.Deref()

		var features vk.PhysicalDeviceFeatures
		vk.GetPhysicalDeviceFeatures(candidate, &features)
		features.Deref()

		var memory vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(candidate, &memory)
		memory.Deref()

		if requireDiscrete && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
			core.LogDebug("Device is not a discrete GPU, and one is required. Skipping.")
			continue
		}
		if features.SamplerAnisotropy == vk.False {
			core.LogDebug("Device does not support samplerAnisotropy, skipping.")
			continue
		}

		queueInfo, ok := findQueueFamilies(candidate, ctx.surface)
		if !ok {
			continue
		}
		if !hasDeviceExtension(candidate, vk.KhrSwapchainExtensionName) {
			core.LogDebug("Required extension not found: '%s', skipping device.", vk.KhrSwapchainExtensionName)
			continue
		}
		if err := querySwapchainSupport(candidate, ctx.surface, &ctx.swapchainSupport); err != nil {
			return err
		}
		if len(ctx.swapchainSupport.formats) == 0 || len(ctx.swapchainSupport.presentModes) == 0 {
			core.LogDebug("Required swapchain support not present, skipping device.")
			continue
		}

		core.LogInfo("Selected device: '%s'.", vk.ToString(properties.DeviceName[:]))
		core.LogInfo(
			"Vulkan API version: %d.%d.%d",
			vk.Version.Major(vk.Version(properties.ApiVersion)),
			vk.Version.Minor(vk.Version(properties.ApiVersion)),
			vk.Version.Patch(vk.Version(properties.ApiVersion)),
		)

		ctx.physicalDevice = candidate
		ctx.graphicsQueueIndex = queueInfo.graphicsFamilyIndex
		ctx.presentQueueIndex = queueInfo.presentFamilyIndex
		ctx.transferQueueIndex = queueInfo.transferFamilyIndex
		ctx.properties = properties
		ctx.features = features
		ctx.memory = memory
		return nil
	}

	return fmt.Errorf("vulkan: no physical devices were found which meet the requirements")
}

func findQueueFamilies(device vk.PhysicalDevice, surface vk.Surface) (queueFamilyInfo, bool) {
	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &familyCount, families)

	info := queueFamilyInfo{}
	haveGraphics, havePresent, haveTransfer := false, false, false

	// Prefer a low-flag family for transfer, which increases the likelihood
	// of landing on a dedicated transfer queue.
	minTransferScore := 255
	for i := range families {
		families[i].Deref()
		transferScore := 0

		if vk.QueueFlagBits(families[i].QueueFlags)&vk.QueueGraphicsBit != 0 {
			info.graphicsFamilyIndex = uint32(i)
			haveGraphics = true
			transferScore++
		}
		if vk.QueueFlagBits(families[i].QueueFlags)&vk.QueueTransferBit != 0 {
			if transferScore <= minTransferScore {
				minTransferScore = transferScore
				info.transferFamilyIndex = uint32(i)
				haveTransfer = true
			}
		}

		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &supportsPresent); res != vk.Success {
			return info, false
		}
		if supportsPresent == vk.True && !havePresent {
			info.presentFamilyIndex = uint32(i)
			havePresent = true
		}
	}

	return info, haveGraphics && havePresent && haveTransfer
}

func hasDeviceExtension(device vk.PhysicalDevice, name string) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, available); res != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if vk.ToString(available[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

func createLogicalDevice(ctx *Context) error {
	core.LogInfo("Creating logical device...")

	// Do not create additional queues for shared indices.
	indices := []uint32{ctx.graphicsQueueIndex}
	if ctx.presentQueueIndex != ctx.graphicsQueueIndex {
		indices = append(indices, ctx.presentQueueIndex)
	}
	if ctx.transferQueueIndex != ctx.graphicsQueueIndex && ctx.transferQueueIndex != ctx.presentQueueIndex {
		indices = append(indices, ctx.transferQueueIndex)
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i, index := range indices {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: index,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	deviceFeatures := vk.PhysicalDeviceFeatures{}
	deviceFeatures.SamplerAnisotropy = vk.True

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if hasDeviceExtension(ctx.physicalDevice, "VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: safeStrings(extensionNames),
	}

	if res := vk.CreateDevice(ctx.physicalDevice, &deviceCreateInfo, ctx.allocator, &ctx.device); res != vk.Success {
		return fmt.Errorf("vulkan: creating logical device: %s", resultString(res))
	}
	core.LogInfo("Logical device created.")

	vk.GetDeviceQueue(ctx.device, ctx.graphicsQueueIndex, 0, &ctx.graphicsQueue)
	vk.GetDeviceQueue(ctx.device, ctx.presentQueueIndex, 0, &ctx.presentQueue)
	core.LogInfo("Queues obtained.")

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: ctx.graphicsQueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if res := vk.CreateCommandPool(ctx.device, &poolCreateInfo, ctx.allocator, &ctx.graphicsPool); res != vk.Success {
		return fmt.Errorf("vulkan: creating graphics command pool: %s", resultString(res))
	}
	core.LogInfo("Graphics command pool created.")

	return nil
}

func destroyDevice(ctx *Context) {
	ctx.graphicsQueue = nil
	ctx.presentQueue = nil

	if ctx.graphicsPool != vk.NullCommandPool {
		vk.DestroyCommandPool(ctx.device, ctx.graphicsPool, ctx.allocator)
		ctx.graphicsPool = vk.NullCommandPool
	}
	if ctx.device != nil {
		core.LogDebug("Destroying logical device...")
		vk.DestroyDevice(ctx.device, ctx.allocator)
		ctx.device = nil
	}
	ctx.physicalDevice = nil
	ctx.swapchainSupport = swapchainSupport{}
}

func detectDepthFormat(ctx *Context) error {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureDepthStencilAttachmentBit
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(ctx.physicalDevice, candidate, &properties)
		properties.Deref()
		if vk.FormatFeatureFlagBits(properties.LinearTilingFeatures)&flags == flags ||
			vk.FormatFeatureFlagBits(properties.OptimalTilingFeatures)&flags == flags {
			ctx.depthFormat = candidate
			return nil
		}
	}
	return fmt.Errorf("vulkan: no supported depth format found")
}
