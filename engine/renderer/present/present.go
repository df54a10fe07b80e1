// Package present manages the swapchain lifecycle: image acquisition,
// presentation and recreation. Every recreation bumps a generation counter;
// image tokens are stamped with the generation they were acquired under, so
// work recorded against a destroyed swapchain can never be presented.
package present

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/keel/engine/core"
	"github.com/spaghettifunk/keel/engine/renderer/device"
)

// Layout is the tracked image layout of a swapchain image.
type Layout int

const (
	LayoutUndefined Layout = iota
	LayoutColorAttachment
	LayoutPresent
)

// SizeFunc reports the current framebuffer size for recreation. A zero extent
// means the surface cannot currently be rendered to.
type SizeFunc func() (width, height uint32)

// ImageToken proves a swapchain image was acquired this frame and under the
// current generation. It is constructed only by Acquire and consumed by
// Present; presenting it twice or across a recreation is a contract violation.
type ImageToken struct {
	index      uint32
	generation uint64
	presented  bool
}

// Index returns the swapchain image index.
func (t *ImageToken) Index() uint32 {
	core.Assert(t != nil, "present: nil image token")
	return t.index
}

// Generation returns the swapchain generation the token was acquired under.
func (t *ImageToken) Generation() uint64 {
	core.Assert(t != nil, "present: nil image token")
	return t.generation
}

// Lifecycle drives one surface's swapchain. Not safe for concurrent use.
type Lifecycle struct {
	surface    device.Surface
	size       SizeFunc
	generation uint64
	stale      bool
	layouts    []Layout
}

// New wraps a surface whose swapchain already exists. The initial generation
// is 1; generation 0 never names a live swapchain.
func New(surface device.Surface, size SizeFunc) *Lifecycle {
	core.Assert(surface != nil, "present: nil surface")
	core.Assert(size != nil, "present: nil size callback")
	return &Lifecycle{
		surface:    surface,
		size:       size,
		generation: 1,
		layouts:    make([]Layout, surface.ImageCount()),
	}
}

// Generation returns the current swapchain generation.
func (l *Lifecycle) Generation() uint64 {
	return l.generation
}

// Invalidate marks the swapchain for recreation before the next acquire.
// Called from the window resize notification.
func (l *Lifecycle) Invalidate() {
	l.stale = true
}

// Acquire obtains the next presentable image. An out-of-date swapchain is
// recreated and the acquire retried exactly once; if recreation is impossible
// (zero-sized surface) the error wraps core.ErrFrameSkipped and the caller
// must not record the frame.
func (l *Lifecycle) Acquire(frameSlot uint32) (*ImageToken, error) {
	if l.stale {
		if err := l.recreate(); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrFrameSkipped, err)
		}
	}

	index, err := l.surface.Acquire(frameSlot)
	if errors.Is(err, device.ErrOutOfDate) {
		if err := l.recreate(); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrFrameSkipped, err)
		}
		index, err = l.surface.Acquire(frameSlot)
	}
	if err != nil {
		if errors.Is(err, device.ErrOutOfDate) {
			// Still out of date right after a successful recreation:
			// skip the frame rather than loop.
			return nil, fmt.Errorf("%w: swapchain out of date after recreation", core.ErrFrameSkipped)
		}
		return nil, fmt.Errorf("present: acquiring image: %w", err)
	}

	core.Assertf(int(index) < len(l.layouts), "present: acquired image %d beyond swapchain size %d", index, len(l.layouts))
	return &ImageToken{index: index, generation: l.generation}, nil
}

// Present queues the token's image for presentation and consumes the token.
// An out-of-date result is not an error; the swapchain is recreated before
// the next acquire.
func (l *Lifecycle) Present(frameSlot uint32, token *ImageToken) error {
	core.Assert(token != nil, "present: nil image token")
	core.Assert(!token.presented, "present: image token presented twice")
	core.Assertf(token.generation == l.generation,
		"present: token from generation %d presented against generation %d", token.generation, l.generation)
	token.presented = true

	err := l.surface.Present(frameSlot, token.index)
	if errors.Is(err, device.ErrOutOfDate) {
		l.stale = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("present: presenting image %d: %w", token.index, err)
	}
	return nil
}

// Layout returns the tracked layout of the token's image. Layout state never
// survives a recreation, so stale tokens cannot read it.
func (l *Lifecycle) Layout(token *ImageToken) Layout {
	l.checkToken(token)
	return l.layouts[token.index]
}

// SetLayout records a layout transition performed on the token's image.
func (l *Lifecycle) SetLayout(token *ImageToken, layout Layout) {
	l.checkToken(token)
	l.layouts[token.index] = layout
}

func (l *Lifecycle) checkToken(token *ImageToken) {
	core.Assert(token != nil, "present: nil image token")
	core.Assertf(token.generation == l.generation,
		"present: token from generation %d used against generation %d", token.generation, l.generation)
}

func (l *Lifecycle) recreate() error {
	width, height := l.size()
	if width == 0 || height == 0 {
		return fmt.Errorf("present: surface has zero extent %dx%d", width, height)
	}
	if err := l.surface.Recreate(width, height); err != nil {
		return fmt.Errorf("present: recreating swapchain: %w", err)
	}
	l.generation++
	l.stale = false
	// The old images are gone; cached layout state goes with them.
	l.layouts = make([]Layout, l.surface.ImageCount())
	core.LogInfo("present: swapchain recreated at %dx%d, generation %d", width, height, l.generation)
	return nil
}
