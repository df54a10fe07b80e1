// Package vulkan implements the device interfaces on top of goki/vulkan.
// It owns the instance, logical device, swapchain and synchronization
// primitives; everything above it speaks the engine/renderer/device types.
package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/keel/engine/core"
)

// Context bundles the Vulkan handles shared by every part of the backend.
type Context struct {
	instance       vk.Instance
	allocator      *vk.AllocationCallbacks
	surface        vk.Surface
	debugMessenger vk.DebugReportCallback

	physicalDevice vk.PhysicalDevice
	device         vk.Device

	graphicsQueueIndex uint32
	presentQueueIndex  uint32
	transferQueueIndex uint32

	graphicsQueue vk.Queue
	presentQueue  vk.Queue

	graphicsPool vk.CommandPool

	properties       vk.PhysicalDeviceProperties
	features         vk.PhysicalDeviceFeatures
	memory           vk.PhysicalDeviceMemoryProperties
	swapchainSupport swapchainSupport
	depthFormat      vk.Format
}

// findMemoryIndex returns the index of a memory type matching the filter and
// the requested property flags, or -1 when the device offers none.
func (c *Context) findMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) int32 {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(c.physicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (memoryProperties.MemoryTypes[i].PropertyFlags&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}
