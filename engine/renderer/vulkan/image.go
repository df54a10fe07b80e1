package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/keel/engine/renderer/device"
)

func formatToVk(format device.Format) vk.Format {
	switch format {
	case device.FormatBGRA8:
		return vk.FormatB8g8r8a8Unorm
	case device.FormatR8:
		return vk.FormatR8Unorm
	case device.FormatBC1:
		return vk.FormatBc1RgbaUnormBlock
	case device.FormatBC3:
		return vk.FormatBc3UnormBlock
	case device.FormatBC7:
		return vk.FormatBc7UnormBlock
	default:
		return vk.FormatR8g8b8a8Unorm
	}
}

type imageView struct {
	handle  vk.ImageView
	arrayed bool
}

func (v imageView) Arrayed() bool { return v.arrayed }

// image implements device.Image. The view kind (2D or 2D-array) is fixed at
// creation from the spec's layer count.
type image struct {
	ctx    *Context
	handle vk.Image
	memory vk.DeviceMemory
	view   imageView
	spec   device.ImageSpec
}

func createImage(ctx *Context, spec device.ImageSpec) (*image, error) {
	if spec.Layers == 0 {
		spec.Layers = 1
	}
	if spec.MipLevels == 0 {
		spec.MipLevels = 1
	}

	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    formatToVk(spec.Format),
		Extent: vk.Extent3D{
			Width:  spec.Width,
			Height: spec.Height,
			Depth:  1,
		},
		MipLevels:     spec.MipLevels,
		ArrayLayers:   spec.Layers,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageSampledBit | vk.ImageUsageTransferDstBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	img := &image{ctx: ctx, spec: spec}
	if res := vk.CreateImage(ctx.device, &createInfo, ctx.allocator, &img.handle); res != vk.Success {
		return nil, fmt.Errorf("vulkan: creating image %q: %s", spec.Name, resultString(res))
	}

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(ctx.device, img.handle, &requirements)
	requirements.Deref()

	memoryIndex := ctx.findMemoryIndex(requirements.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if memoryIndex < 0 {
		vk.DestroyImage(ctx.device, img.handle, ctx.allocator)
		return nil, fmt.Errorf("vulkan: no suitable memory type for image %q: %w", spec.Name, device.ErrNoDeviceMemory)
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	if res := vk.AllocateMemory(ctx.device, &allocateInfo, ctx.allocator, &img.memory); res != vk.Success {
		vk.DestroyImage(ctx.device, img.handle, ctx.allocator)
		return nil, fmt.Errorf("vulkan: allocating memory for image %q: %w", spec.Name, device.ErrNoDeviceMemory)
	}
	if res := vk.BindImageMemory(ctx.device, img.handle, img.memory, 0); res != vk.Success {
		img.Destroy()
		return nil, fmt.Errorf("vulkan: binding memory for image %q: %s", spec.Name, resultString(res))
	}

	viewType := vk.ImageViewType2d
	arrayed := spec.Layers > 1
	if arrayed {
		viewType = vk.ImageViewType2dArray
	}
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.handle,
		ViewType: viewType,
		Format:   createInfo.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: spec.MipLevels,
			LayerCount: spec.Layers,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(ctx.device, &viewInfo, ctx.allocator, &view); res != vk.Success {
		img.Destroy()
		return nil, fmt.Errorf("vulkan: creating view for image %q: %s", spec.Name, resultString(res))
	}
	img.view = imageView{handle: view, arrayed: arrayed}

	return img, nil
}

func (img *image) View() device.ImageView { return img.view }
func (img *image) Spec() device.ImageSpec { return img.spec }

func (img *image) Destroy() {
	if img.view.handle != vk.NullImageView {
		vk.DestroyImageView(img.ctx.device, img.view.handle, img.ctx.allocator)
		img.view.handle = vk.NullImageView
	}
	if img.memory != vk.NullDeviceMemory {
		vk.FreeMemory(img.ctx.device, img.memory, img.ctx.allocator)
		img.memory = vk.NullDeviceMemory
	}
	if img.handle != vk.NullImage {
		vk.DestroyImage(img.ctx.device, img.handle, img.ctx.allocator)
		img.handle = vk.NullImage
	}
}

// transitionLayout records a pipeline barrier moving every subresource of the
// image between layouts.
func (img *image) transitionLayout(cb vk.CommandBuffer, oldLayout, newLayout vk.ImageLayout) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.handle,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: img.spec.MipLevels,
			LayerCount: img.spec.Layers,
		},
	}

	var srcStage, dstStage vk.PipelineStageFlags
	switch {
	case oldLayout == vk.ImageLayoutUndefined && newLayout == vk.ImageLayoutTransferDstOptimal:
		barrier.SrcAccessMask = 0
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case oldLayout == vk.ImageLayoutTransferDstOptimal && newLayout == vk.ImageLayoutShaderReadOnlyOptimal:
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	default:
		srcStage = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	}

	vk.CmdPipelineBarrier(cb, srcStage, dstStage, 0,
		0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}
