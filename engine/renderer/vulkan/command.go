package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/keel/engine/renderer/device"
)

func allocateCommandBuffer(ctx *Context, pool vk.CommandPool) (vk.CommandBuffer, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}

	buffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(ctx.device, &allocateInfo, buffers); res != vk.Success {
		return nil, fmt.Errorf("vulkan: allocating command buffer: %s", resultString(res))
	}
	return buffers[0], nil
}

func beginCommandBuffer(cb vk.CommandBuffer, singleUse bool) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if singleUse {
		beginInfo.Flags = vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if res := vk.BeginCommandBuffer(cb, &beginInfo); res != vk.Success {
		return fmt.Errorf("vulkan: beginning command buffer: %s", resultString(res))
	}
	return nil
}

func endCommandBuffer(cb vk.CommandBuffer) error {
	if res := vk.EndCommandBuffer(cb); res != vk.Success {
		return fmt.Errorf("vulkan: ending command buffer: %s", resultString(res))
	}
	return nil
}

// recorder implements device.Recorder over one command buffer.
type recorder struct {
	ctx *Context
	cb  vk.CommandBuffer
}

func (r recorder) CopyBufferToImage(src device.Buffer, dst device.Image, regions []device.BufferImageCopy) {
	srcBuf := src.(*buffer)
	dstImg := dst.(*image)

	copies := make([]vk.BufferImageCopy, len(regions))
	for i, region := range regions {
		copies[i] = vk.BufferImageCopy{
			BufferOffset: vk.DeviceSize(region.BufferOffset),
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
				MipLevel:       region.MipLevel,
				BaseArrayLayer: region.Layer,
				LayerCount:     1,
			},
			ImageExtent: vk.Extent3D{
				Width:  region.Width,
				Height: region.Height,
				Depth:  1,
			},
		}
	}

	dstImg.transitionLayout(r.cb, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal)
	vk.CmdCopyBufferToImage(r.cb, srcBuf.handle, dstImg.handle, vk.ImageLayoutTransferDstOptimal, uint32(len(copies)), copies)
	dstImg.transitionLayout(r.cb, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal)
}

func (r recorder) CopyBuffer(src, dst device.Buffer, srcOffset, dstOffset, size uint64) {
	region := vk.BufferCopy{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}
	vk.CmdCopyBuffer(r.cb, src.(*buffer).handle, dst.(*buffer).handle, 1, []vk.BufferCopy{region})
}
