package vulkan

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/keel/engine/core"
)

type swapchainSupport struct {
	capabilities vk.SurfaceCapabilities
	formats      []vk.SurfaceFormat
	presentModes []vk.PresentMode
}

func querySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface, support *swapchainSupport) error {
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &support.capabilities); res != vk.Success {
		return fmt.Errorf("vulkan: querying surface capabilities: %s", resultString(res))
	}
	support.capabilities.Deref()
	support.capabilities.CurrentExtent.Deref()
	support.capabilities.MinImageExtent.Deref()
	support.capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil); res != vk.Success {
		return fmt.Errorf("vulkan: querying surface formats: %s", resultString(res))
	}
	if formatCount != 0 {
		support.formats = make([]vk.SurfaceFormat, formatCount)
		if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, support.formats); res != vk.Success {
			return fmt.Errorf("vulkan: querying surface formats: %s", resultString(res))
		}
		for i := range support.formats {
			support.formats[i].Deref()
		}
	}

	var presentModeCount uint32
	if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &presentModeCount, nil); res != vk.Success {
		return fmt.Errorf("vulkan: querying present modes: %s", resultString(res))
	}
	if presentModeCount != 0 {
		support.presentModes = make([]vk.PresentMode, presentModeCount)
		if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &presentModeCount, support.presentModes); res != vk.Success {
			return fmt.Errorf("vulkan: querying present modes: %s", resultString(res))
		}
	}
	return nil
}

type swapchain struct {
	handle     vk.Swapchain
	format     vk.SurfaceFormat
	extent     vk.Extent2D
	imageCount uint32
	images     []vk.Image
	views      []vk.ImageView
}

func createSwapchain(ctx *Context, width, height uint32) (*swapchain, error) {
	sc := &swapchain{}

	// Prefer BGRA8 sRGB; otherwise take whatever the surface offers first.
	sc.format = ctx.swapchainSupport.formats[0]
	for _, format := range ctx.swapchainSupport.formats {
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			sc.format = format
			break
		}
	}

	presentMode := vk.PresentModeFifo
	for _, mode := range ctx.swapchainSupport.presentModes {
		if mode == vk.PresentModeMailbox {
			presentMode = mode
			break
		}
	}

	extent := vk.Extent2D{Width: width, Height: height}
	caps := ctx.swapchainSupport.capabilities
	if caps.CurrentExtent.Width != math.MaxUint32 {
		extent = caps.CurrentExtent
	}
	extent.Width = clamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = clamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	sc.extent = extent

	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          ctx.surface,
		MinImageCount:    imageCount,
		ImageFormat:      sc.format.Format,
		ImageColorSpace:  sc.format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
	}

	if ctx.graphicsQueueIndex != ctx.presentQueueIndex {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{ctx.graphicsQueueIndex, ctx.presentQueueIndex}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	if res := vk.CreateSwapchain(ctx.device, &createInfo, ctx.allocator, &sc.handle); res != vk.Success {
		return nil, fmt.Errorf("vulkan: creating swapchain: %s", resultString(res))
	}

	if res := vk.GetSwapchainImages(ctx.device, sc.handle, &sc.imageCount, nil); res != vk.Success {
		return nil, fmt.Errorf("vulkan: getting swapchain images: %s", resultString(res))
	}
	sc.images = make([]vk.Image, sc.imageCount)
	if res := vk.GetSwapchainImages(ctx.device, sc.handle, &sc.imageCount, sc.images); res != vk.Success {
		return nil, fmt.Errorf("vulkan: getting swapchain images: %s", resultString(res))
	}

	sc.views = make([]vk.ImageView, sc.imageCount)
	for i := range sc.images {
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    sc.images[i],
			ViewType: vk.ImageViewType2d,
			Format:   sc.format.Format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}
		if res := vk.CreateImageView(ctx.device, &viewInfo, ctx.allocator, &sc.views[i]); res != vk.Success {
			return nil, fmt.Errorf("vulkan: creating swapchain image view %d: %s", i, resultString(res))
		}
	}

	core.LogInfo("Swapchain created: %dx%d, %d images.", extent.Width, extent.Height, sc.imageCount)
	return sc, nil
}

func (sc *swapchain) destroy(ctx *Context) {
	vk.DeviceWaitIdle(ctx.device)
	// Only destroy the views, not the images; those are owned by the
	// swapchain and go down with it.
	for _, view := range sc.views {
		vk.DestroyImageView(ctx.device, view, ctx.allocator)
	}
	vk.DestroySwapchain(ctx.device, sc.handle, ctx.allocator)
	sc.handle = vk.NullSwapchain
}

func clamp(value, lower, upper uint32) uint32 {
	if value < lower {
		return lower
	}
	if value > upper {
		return upper
	}
	return value
}
