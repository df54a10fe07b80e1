package vulkan

import (
	"fmt"
	"math"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/keel/engine/core"
	"github.com/spaghettifunk/keel/engine/platform"
	"github.com/spaghettifunk/keel/engine/renderer/device"
)

// frameSync is the per-frame-slot command stream and its binary semaphores.
type frameSync struct {
	commandBuffer  vk.CommandBuffer
	imageAvailable vk.Semaphore
	renderComplete vk.Semaphore
}

// Backend implements device.Device, device.Queue and device.Surface over one
// GPU, one graphics queue and one window surface.
type Backend struct {
	platform *platform.Platform
	ctx      *Context

	swapchain *swapchain
	slots     []frameSync
	fences    *submitFences
	samplers  *samplerCache

	descriptors *DescriptorTables
	debug       bool
}

// Options configures backend creation.
type Options struct {
	AppName             string
	Width               uint32
	Height              uint32
	FramesInFlight      uint32
	MaxBindlessTextures uint32
	Debug               bool
}

// New brings up the full Vulkan stack: instance, device, swapchain,
// per-slot command buffers and semaphores, and the descriptor tables.
func New(p *platform.Platform, opts Options) (*Backend, error) {
	b := &Backend{
		platform: p,
		ctx:      &Context{},
		debug:    opts.Debug,
	}

	if err := createInstance(b.ctx, opts.AppName, opts.Debug); err != nil {
		return nil, err
	}

	core.LogDebug("Creating Vulkan surface...")
	surfacePtr, err := p.Window.CreateWindowSurface(b.ctx.instance, nil)
	if err != nil {
		b.Shutdown()
		return nil, fmt.Errorf("vulkan: creating window surface: %w", err)
	}
	b.ctx.surface = vk.SurfaceFromPointer(surfacePtr)

	if err := selectPhysicalDevice(b.ctx); err != nil {
		b.Shutdown()
		return nil, err
	}
	if err := createLogicalDevice(b.ctx); err != nil {
		b.Shutdown()
		return nil, err
	}
	if err := detectDepthFormat(b.ctx); err != nil {
		b.Shutdown()
		return nil, err
	}

	sc, err := createSwapchain(b.ctx, opts.Width, opts.Height)
	if err != nil {
		b.Shutdown()
		return nil, err
	}
	b.swapchain = sc

	b.fences = newSubmitFences(b.ctx)
	b.samplers = newSamplerCache(b.ctx)

	b.slots = make([]frameSync, opts.FramesInFlight)
	for i := range b.slots {
		cb, err := allocateCommandBuffer(b.ctx, b.ctx.graphicsPool)
		if err != nil {
			b.Shutdown()
			return nil, err
		}
		b.slots[i].commandBuffer = cb

		semaphoreInfo := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
		if res := vk.CreateSemaphore(b.ctx.device, &semaphoreInfo, b.ctx.allocator, &b.slots[i].imageAvailable); res != vk.Success {
			b.Shutdown()
			return nil, fmt.Errorf("vulkan: creating image-available semaphore: %s", resultString(res))
		}
		if res := vk.CreateSemaphore(b.ctx.device, &semaphoreInfo, b.ctx.allocator, &b.slots[i].renderComplete); res != vk.Success {
			b.Shutdown()
			return nil, fmt.Errorf("vulkan: creating render-complete semaphore: %s", resultString(res))
		}
	}

	tables, err := createDescriptorTables(b.ctx, opts.FramesInFlight, opts.MaxBindlessTextures)
	if err != nil {
		b.Shutdown()
		return nil, err
	}
	b.descriptors = tables

	core.LogInfo("Vulkan backend initialized successfully.")
	return b, nil
}

// Descriptors returns the backend descriptor tables, which implement the
// binding and bindless writer interfaces.
func (b *Backend) Descriptors() *DescriptorTables {
	return b.descriptors
}

// --- device.Device ---

func (b *Backend) CreateBuffer(spec device.BufferSpec) (device.Buffer, error) {
	return createBuffer(b.ctx, spec)
}

func (b *Backend) CreateImage(spec device.ImageSpec) (device.Image, error) {
	return createImage(b.ctx, spec)
}

func (b *Backend) NewSampler(sampling device.Sampling) (device.Sampler, error) {
	return b.samplers.get(sampling)
}

func (b *Backend) CompletedSerial() uint64 {
	return b.fences.poll()
}

func (b *Backend) WaitSerial(serial uint64, timeout time.Duration) error {
	return b.fences.wait(serial, timeout)
}

func (b *Backend) ImmediateSubmit(record func(device.Recorder) error) error {
	cb, err := allocateCommandBuffer(b.ctx, b.ctx.graphicsPool)
	if err != nil {
		return err
	}
	defer vk.FreeCommandBuffers(b.ctx.device, b.ctx.graphicsPool, 1, []vk.CommandBuffer{cb})

	if err := beginCommandBuffer(cb, true); err != nil {
		return err
	}
	if err := record(recorder{ctx: b.ctx, cb: cb}); err != nil {
		return err
	}
	if err := endCommandBuffer(cb); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb},
	}
	if res := vk.QueueSubmit(b.ctx.graphicsQueue, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence); res != vk.Success {
		return fmt.Errorf("vulkan: immediate submit: %s", resultString(res))
	}
	if res := vk.QueueWaitIdle(b.ctx.graphicsQueue); res != vk.Success {
		return fmt.Errorf("vulkan: waiting for immediate submit: %s", resultString(res))
	}
	return nil
}

func (b *Backend) WaitIdle() {
	vk.DeviceWaitIdle(b.ctx.device)
}

// --- device.Queue ---

func (b *Backend) BeginRecording(slot uint32) (device.Recorder, error) {
	cb := b.slots[slot].commandBuffer
	if res := vk.ResetCommandBuffer(cb, 0); res != vk.Success {
		return nil, fmt.Errorf("vulkan: resetting command buffer for slot %d: %s", slot, resultString(res))
	}
	if err := beginCommandBuffer(cb, false); err != nil {
		return nil, err
	}
	return recorder{ctx: b.ctx, cb: cb}, nil
}

func (b *Backend) Submit(slot uint32, imageIndex uint32) (uint64, error) {
	sync := &b.slots[slot]
	if err := endCommandBuffer(sync.commandBuffer); err != nil {
		return 0, err
	}

	fence, serial, err := b.fences.next()
	if err != nil {
		return 0, err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{sync.commandBuffer},
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{sync.imageAvailable},
		// Color writes hold until the acquired image is actually ready.
		PWaitDstStageMask:    []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{sync.renderComplete},
	}
	if res := vk.QueueSubmit(b.ctx.graphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence); res != vk.Success {
		if res == vk.ErrorDeviceLost {
			return 0, fmt.Errorf("vulkan: submitting slot %d: %w", slot, device.ErrDeviceLost)
		}
		return 0, fmt.Errorf("vulkan: submitting slot %d: %s", slot, resultString(res))
	}
	return serial, nil
}

// --- device.Surface ---

func (b *Backend) Acquire(slot uint32) (uint32, error) {
	var imageIndex uint32
	result := vk.AcquireNextImage(b.ctx.device, b.swapchain.handle, math.MaxUint64,
		b.slots[slot].imageAvailable, vk.NullFence, &imageIndex)
	switch result {
	case vk.Success, vk.Suboptimal:
		return imageIndex, nil
	case vk.ErrorOutOfDate:
		return 0, device.ErrOutOfDate
	default:
		return 0, fmt.Errorf("vulkan: acquiring swapchain image: %s", resultString(result))
	}
}

func (b *Backend) Present(slot uint32, imageIndex uint32) error {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{b.slots[slot].renderComplete},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{b.swapchain.handle},
		PImageIndices:      []uint32{imageIndex},
	}
	switch result := vk.QueuePresent(b.ctx.presentQueue, &presentInfo); result {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDate, vk.Suboptimal:
		return device.ErrOutOfDate
	default:
		return fmt.Errorf("vulkan: presenting image %d: %s", imageIndex, resultString(result))
	}
}

func (b *Backend) Recreate(width, height uint32) error {
	vk.DeviceWaitIdle(b.ctx.device)
	if err := querySwapchainSupport(b.ctx.physicalDevice, b.ctx.surface, &b.ctx.swapchainSupport); err != nil {
		return err
	}
	b.swapchain.destroy(b.ctx)
	sc, err := createSwapchain(b.ctx, width, height)
	if err != nil {
		return err
	}
	b.swapchain = sc
	return nil
}

func (b *Backend) Extent() (uint32, uint32) {
	return b.swapchain.extent.Width, b.swapchain.extent.Height
}

func (b *Backend) ImageCount() uint32 {
	return b.swapchain.imageCount
}

// Shutdown tears everything down in reverse creation order. Safe to call on
// a partially constructed backend.
func (b *Backend) Shutdown() {
	if b.ctx.device != nil {
		vk.DeviceWaitIdle(b.ctx.device)
	}

	if b.descriptors != nil {
		b.descriptors.destroy()
		b.descriptors = nil
	}

	for i := range b.slots {
		if b.slots[i].imageAvailable != vk.NullSemaphore {
			vk.DestroySemaphore(b.ctx.device, b.slots[i].imageAvailable, b.ctx.allocator)
		}
		if b.slots[i].renderComplete != vk.NullSemaphore {
			vk.DestroySemaphore(b.ctx.device, b.slots[i].renderComplete, b.ctx.allocator)
		}
		if b.slots[i].commandBuffer != nil {
			vk.FreeCommandBuffers(b.ctx.device, b.ctx.graphicsPool, 1, []vk.CommandBuffer{b.slots[i].commandBuffer})
		}
	}
	b.slots = nil

	if b.samplers != nil {
		b.samplers.destroy()
		b.samplers = nil
	}
	if b.fences != nil {
		b.fences.destroy()
		b.fences = nil
	}
	if b.swapchain != nil {
		b.swapchain.destroy(b.ctx)
		b.swapchain = nil
	}

	destroyDevice(b.ctx)

	if b.ctx.surface != vk.NullSurface {
		core.LogDebug("Destroying Vulkan surface...")
		vk.DestroySurface(b.ctx.instance, b.ctx.surface, b.ctx.allocator)
		b.ctx.surface = vk.NullSurface
	}
	if b.debug && b.ctx.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(b.ctx.instance, b.ctx.debugMessenger, b.ctx.allocator)
	}
	if b.ctx.instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(b.ctx.instance, b.ctx.allocator)
		b.ctx.instance = nil
	}
}
