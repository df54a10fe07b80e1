package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/keel/engine/renderer/device"
)

// buffer implements device.Buffer. Host-visible buffers stay persistently
// mapped for their whole lifetime; Bytes hands out the mapped window.
type buffer struct {
	ctx    *Context
	handle vk.Buffer
	memory vk.DeviceMemory
	mapped []byte
	spec   device.BufferSpec
}

func usageFlags(usage device.BufferUsage) vk.BufferUsageFlags {
	switch usage {
	case device.UsageUniform:
		return vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit | vk.BufferUsageTransferDstBit)
	case device.UsageVertex:
		return vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit | vk.BufferUsageTransferDstBit)
	case device.UsageIndex:
		return vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit | vk.BufferUsageTransferDstBit)
	case device.UsageStorage:
		return vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit | vk.BufferUsageTransferDstBit)
	default:
		return vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit)
	}
}

func createBuffer(ctx *Context, spec device.BufferSpec) (*buffer, error) {
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(spec.Size),
		Usage:       usageFlags(spec.Usage),
		SharingMode: vk.SharingModeExclusive,
	}

	b := &buffer{ctx: ctx, spec: spec}
	if res := vk.CreateBuffer(ctx.device, &createInfo, ctx.allocator, &b.handle); res != vk.Success {
		return nil, fmt.Errorf("vulkan: creating buffer %q: %s", spec.Name, resultString(res))
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(ctx.device, b.handle, &requirements)
	requirements.Deref()

	properties := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	if spec.HostVisible {
		properties = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	memoryIndex := ctx.findMemoryIndex(requirements.MemoryTypeBits, properties)
	if memoryIndex < 0 {
		vk.DestroyBuffer(ctx.device, b.handle, ctx.allocator)
		return nil, fmt.Errorf("vulkan: no suitable memory type for buffer %q: %w", spec.Name, device.ErrNoDeviceMemory)
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	if res := vk.AllocateMemory(ctx.device, &allocateInfo, ctx.allocator, &b.memory); res != vk.Success {
		vk.DestroyBuffer(ctx.device, b.handle, ctx.allocator)
		return nil, fmt.Errorf("vulkan: allocating %d bytes for buffer %q: %w", spec.Size, spec.Name, device.ErrNoDeviceMemory)
	}
	if res := vk.BindBufferMemory(ctx.device, b.handle, b.memory, 0); res != vk.Success {
		b.Destroy()
		return nil, fmt.Errorf("vulkan: binding memory for buffer %q: %s", spec.Name, resultString(res))
	}

	if spec.HostVisible {
		var data unsafe.Pointer
		if res := vk.MapMemory(ctx.device, b.memory, 0, vk.DeviceSize(spec.Size), 0, &data); res != vk.Success {
			b.Destroy()
			return nil, fmt.Errorf("vulkan: mapping buffer %q: %s", spec.Name, resultString(res))
		}
		b.mapped = unsafe.Slice((*byte)(data), spec.Size)
	}

	return b, nil
}

func (b *buffer) Bytes() []byte { return b.mapped }
func (b *buffer) Cap() uint64   { return b.spec.Size }
func (b *buffer) Visible() bool { return b.spec.HostVisible }

func (b *buffer) Destroy() {
	if b.mapped != nil {
		vk.UnmapMemory(b.ctx.device, b.memory)
		b.mapped = nil
	}
	if b.memory != vk.NullDeviceMemory {
		vk.FreeMemory(b.ctx.device, b.memory, b.ctx.allocator)
		b.memory = vk.NullDeviceMemory
	}
	if b.handle != vk.NullBuffer {
		vk.DestroyBuffer(b.ctx.device, b.handle, b.ctx.allocator)
		b.handle = vk.NullBuffer
	}
}
