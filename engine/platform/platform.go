// Package platform owns the window and input surface the renderer draws to.
package platform

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/spaghettifunk/keel/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// ResizeFunc is invoked from the GLFW callback when the framebuffer size
// changes. The renderer uses it to invalidate the swapchain.
type ResizeFunc func(width, height uint32)

type Platform struct {
	Window *glfw.Window

	onResize ResizeFunc
}

func New() (*Platform, error) {
	return &Platform{}, nil
}

func (p *Platform) Startup(applicationName string, x, y, width, height uint32) error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("platform: initializing glfw: %w", err)
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		return fmt.Errorf("platform: creating window: %w", err)
	}
	p.Window = window

	p.Window.SetFramebufferSizeCallback(func(w *glfw.Window, fbWidth, fbHeight int) {
		core.LogDebug("platform: framebuffer resized to %dx%d", fbWidth, fbHeight)
		if p.onResize != nil {
			p.onResize(uint32(fbWidth), uint32(fbHeight))
		}
	})
	p.Window.SetPos(int(x), int(y))
	p.Window.Show()

	return nil
}

// OnResize registers the resize notification target.
func (p *Platform) OnResize(fn ResizeFunc) {
	p.onResize = fn
}

// FramebufferSize returns the current framebuffer size in pixels. A zero
// extent means the window is minimized and cannot be rendered to.
func (p *Platform) FramebufferSize() (uint32, uint32) {
	width, height := p.Window.GetFramebufferSize()
	return uint32(width), uint32(height)
}

// ShouldClose reports whether the user asked to close the window.
func (p *Platform) ShouldClose() bool {
	return p.Window.ShouldClose()
}

// PumpMessages processes pending window events. Must run on the main thread.
func (p *Platform) PumpMessages() {
	glfw.PollEvents()
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}
