// Package device defines the narrow GPU interface consumed by the resource
// lifecycle core. It is designed so platform APIs (Vulkan in particular) can
// implement it in a mostly straightforward manner, and so the lifecycle
// packages can be exercised against fakes.
package device

import (
	"errors"
	"time"
)

var (
	// ErrOutOfDate means the swapchain no longer matches the surface and
	// must be recreated before another image can be acquired or presented.
	ErrOutOfDate = errors.New("device: swapchain out of date")

	// ErrDeviceLost means the device is in an unrecoverable state.
	ErrDeviceLost = errors.New("device: device lost")

	// ErrNoDeviceMemory means device memory could not be allocated.
	ErrNoDeviceMemory = errors.New("device: out of device memory")

	// ErrWaitTimeout means a serial wait exceeded its bound.
	ErrWaitTimeout = errors.New("device: wait timed out")
)

// Destroyer is the interface wrapping the Destroy method.
// Destroying a resource the GPU may still read is a contract violation; all
// lifecycle-managed resources go through serial-gated release instead.
type Destroyer interface {
	Destroy()
}

// Format is the pixel format of an image asset.
type Format int

const (
	FormatRGBA8 Format = iota
	FormatBGRA8
	FormatR8
	FormatBC1
	FormatBC3
	FormatBC7
)

// BlockCompressed reports whether the format stores 4x4 texel blocks.
func (f Format) BlockCompressed() bool {
	switch f {
	case FormatBC1, FormatBC3, FormatBC7:
		return true
	}
	return false
}

// BlockSize returns the byte size of one compressed block.
// Only meaningful for block-compressed formats.
func (f Format) BlockSize() uint64 {
	if f == FormatBC1 {
		return 8
	}
	return 16
}

// ImageSpec describes an image to create. Layers > 1 produces a 2D-array
// image whose view is an array view; Layers == 1 produces a plain 2D view.
// The view kind is decided here, at creation, so a resident texture can never
// carry a view that mismatches its layer count.
type ImageSpec struct {
	Width     uint32
	Height    uint32
	Layers    uint32
	MipLevels uint32
	Format    Format
	Name      string
}

// Image is a GPU image together with the single view the lifecycle core
// binds. Destroy releases both.
type Image interface {
	Destroyer

	View() ImageView
	Spec() ImageSpec
}

// ImageView is an opaque, bindable view of an Image.
type ImageView interface {
	// Arrayed reports whether this is an array view.
	Arrayed() bool
}

// Filter is a sampler filter mode.
type Filter int

const (
	FilterLinear Filter = iota
	FilterNearest
)

// AddressMode is a sampler addressing mode.
type AddressMode int

const (
	AddressRepeat AddressMode = iota
	AddressClampToEdge
	AddressMirroredRepeat
)

// Sampling is the hashable sampler state key. Backends cache samplers by it.
type Sampling struct {
	Filter  Filter
	Address AddressMode
}

// Sampler is an opaque image sampler.
type Sampler interface{}

// BufferUsage selects what a buffer will be bound as.
type BufferUsage int

const (
	UsageUniform BufferUsage = iota
	UsageVertex
	UsageIndex
	UsageStaging
	UsageStorage
)

// BufferSpec describes a buffer to create.
type BufferSpec struct {
	Size        uint64
	Usage       BufferUsage
	HostVisible bool
	Name        string
}

// Buffer is a GPU buffer. Bytes returns the mapped window for host-visible
// buffers and nil otherwise; the slice is valid for the buffer's lifetime.
type Buffer interface {
	Destroyer

	Bytes() []byte
	Cap() uint64
	Visible() bool
}

// BufferImageCopy describes one buffer-to-image copy region.
// BufferOffset must be 4-byte aligned.
type BufferImageCopy struct {
	BufferOffset uint64
	Layer        uint32
	MipLevel     uint32
	Width        uint32
	Height       uint32
}

// Recorder records transfer work onto a command stream. Copies recorded
// through it are submitted before any draw of the same frame reads them.
type Recorder interface {
	CopyBufferToImage(src Buffer, dst Image, regions []BufferImageCopy)
	CopyBuffer(src, dst Buffer, srcOffset, dstOffset, size uint64)
}

// Device is the GPU as seen by the lifecycle core.
type Device interface {
	CreateBuffer(BufferSpec) (Buffer, error)
	CreateImage(ImageSpec) (Image, error)
	NewSampler(Sampling) (Sampler, error)

	// CompletedSerial reports the highest submission serial the GPU has
	// finished executing. It never regresses.
	CompletedSerial() uint64

	// WaitSerial blocks until the given serial completes or the timeout
	// elapses, in which case it returns ErrWaitTimeout.
	WaitSerial(serial uint64, timeout time.Duration) error

	// ImmediateSubmit records transfer work on a one-off command stream,
	// submits it and blocks until the GPU finishes it. Used by the
	// dedicated upload path for assets too large for the staging ring.
	ImmediateSubmit(record func(Recorder) error) error

	// WaitIdle blocks until all submitted work completes. Shutdown only.
	WaitIdle()
}

// Queue issues per-frame-slot command recording and submission.
type Queue interface {
	// BeginRecording resets the slot's command stream and opens it.
	BeginRecording(slot uint32) (Recorder, error)

	// Submit closes and submits the slot's command stream. The returned
	// serial is the monotonic submission serial the timeline signals when
	// the GPU finishes this work.
	Submit(slot uint32, imageIndex uint32) (uint64, error)
}

// Surface presents rendered images to a window system surface.
type Surface interface {
	// Acquire obtains the next presentable image index for the slot.
	// Returns ErrOutOfDate when the swapchain must be recreated first.
	Acquire(slot uint32) (uint32, error)

	// Present queues the image for presentation. Returns ErrOutOfDate
	// when the swapchain must be recreated before the next acquire.
	Present(slot uint32, imageIndex uint32) error

	// Recreate rebuilds the swapchain for the given framebuffer size.
	// It fails when the surface cannot currently be rendered to (for
	// example a zero-sized, minimized window).
	Recreate(width, height uint32) error

	Extent() (width, height uint32)
	ImageCount() uint32
}
