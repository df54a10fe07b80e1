// Package renderer is the front end of the rendering core. It owns the
// backend, the frame tracker, the swapchain lifecycle, the texture residency
// manager and the buffer manager, and wires them into the per-frame sequence
// the application drives: BeginFrame, record passes, EndFrame.
package renderer

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/keel/engine/assets"
	"github.com/spaghettifunk/keel/engine/config"
	"github.com/spaghettifunk/keel/engine/core"
	"github.com/spaghettifunk/keel/engine/platform"
	"github.com/spaghettifunk/keel/engine/renderer/binding"
	"github.com/spaghettifunk/keel/engine/renderer/buffers"
	"github.com/spaghettifunk/keel/engine/renderer/device"
	"github.com/spaghettifunk/keel/engine/renderer/frame"
	"github.com/spaghettifunk/keel/engine/renderer/present"
	"github.com/spaghettifunk/keel/engine/renderer/residency"
	"github.com/spaghettifunk/keel/engine/renderer/timeline"
	"github.com/spaghettifunk/keel/engine/renderer/vulkan"
)

// Options configures renderer creation.
type Options struct {
	AppName  string
	Width    uint32
	Height   uint32
	AssetDir string
	Debug    bool
	Config   config.RendererConfig
}

// Renderer coordinates the rendering subsystems around one window. All frame
// methods must be called from the render thread.
type Renderer struct {
	backend  *vulkan.Backend
	timeline *timeline.Tracker
	frames   *frame.Tracker
	swapchain *present.Lifecycle

	textures *residency.Manager
	buffers  *buffers.Manager

	provider *assets.DirProvider
	watcher  *assets.Watcher

	// reloads come in from the watcher goroutine and drain at BeginFrame.
	reloadMu sync.Mutex
	reloads  []residency.AssetID

	image *present.ImageToken
}

// New brings up the backend and every subsystem over it. On error nothing
// leaks; partially constructed state is torn back down.
func New(p *platform.Platform, opts Options) (*Renderer, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend, err := vulkan.New(p, vulkan.Options{
		AppName:             opts.AppName,
		Width:               opts.Width,
		Height:              opts.Height,
		FramesInFlight:      cfg.FramesInFlight,
		MaxBindlessTextures: cfg.MaxBindlessTextures,
		Debug:               opts.Debug,
	})
	if err != nil {
		return nil, err
	}

	r := &Renderer{
		backend:  backend,
		timeline: timeline.New(),
	}

	coord := binding.NewCoordinator(cfg.FramesInFlight)
	r.frames, err = frame.NewTracker(backend, backend, r.timeline, coord, frame.Options{
		FramesInFlight:  int(cfg.FramesInFlight),
		UniformRingSize: cfg.UniformRingSize,
		VertexRingSize:  cfg.VertexRingSize,
		StagingRingSize: cfg.StagingRingSize,
		WaitTimeout:     cfg.FrameWaitTimeout,
	})
	if err != nil {
		r.Shutdown()
		return nil, err
	}

	r.swapchain = present.New(backend, p.FramebufferSize)
	p.OnResize(func(width, height uint32) {
		r.swapchain.Invalidate()
	})

	r.provider, err = assets.NewDirProvider(opts.AssetDir)
	if err != nil {
		r.Shutdown()
		return nil, err
	}
	r.textures, err = residency.New(backend, r.provider, r.timeline, residency.Config{
		MaxBindlessTextures: cfg.MaxBindlessTextures,
		FramesInFlight:      cfg.FramesInFlight,
		Sampling:            device.Sampling{Filter: device.FilterLinear, Address: device.AddressRepeat},
	})
	if err != nil {
		r.Shutdown()
		return nil, err
	}

	r.buffers = buffers.New(backend, r.timeline, cfg.FramesInFlight)

	r.watcher, err = assets.Watch(r.provider, r.queueReload)
	if err != nil {
		// Hot reload is a convenience, not a requirement.
		core.LogWarn("renderer: asset watcher unavailable: %v", err)
	}

	core.LogInfo("renderer: initialized with %d frames in flight, %d assets", cfg.FramesInFlight, r.provider.Len())
	return r, nil
}

func (r *Renderer) queueReload(id residency.AssetID) {
	r.reloadMu.Lock()
	r.reloads = append(r.reloads, id)
	r.reloadMu.Unlock()
}

// drainReloads applies watcher notifications on the render thread. A reloaded
// asset that was resident is retired and re-queued; one that was never
// requested stays absent.
func (r *Renderer) drainReloads() {
	r.reloadMu.Lock()
	pending := r.reloads
	r.reloads = nil
	r.reloadMu.Unlock()

	for _, id := range pending {
		switch {
		case r.textures.Resident(id):
			core.LogInfo("renderer: hot reloading asset %d", id)
			r.textures.Retire(id)
			r.textures.RequestUpload(id)
		case r.textures.FailedError(id) != nil:
			// A rewritten file deserves a fresh attempt.
			r.textures.Forget(id)
			r.textures.RequestUpload(id)
		}
	}
}

// LoadTexture queues the named asset for upload and returns its id. Until the
// upload lands, draws through the id sample the fallback texture.
func (r *Renderer) LoadTexture(name string) (residency.AssetID, error) {
	id, ok := r.provider.Lookup(name)
	if !ok {
		return 0, fmt.Errorf("renderer: unknown asset %q", name)
	}
	r.textures.RequestUpload(id)
	return id, nil
}

// Textures returns the texture residency manager.
func (r *Renderer) Textures() *residency.Manager {
	return r.textures
}

// Buffers returns the persistent buffer manager.
func (r *Renderer) Buffers() *buffers.Manager {
	return r.buffers
}

// Generation returns the current swapchain generation.
func (r *Renderer) Generation() uint64 {
	return r.swapchain.Generation()
}

// BeginFrame claims the next frame slot, acquires a swapchain image and
// flushes pending texture uploads into the frame's command stream. A skipped
// frame (minimized window, swapchain churn) returns an error wrapping
// core.ErrFrameSkipped; the caller pumps events and tries again next frame.
func (r *Renderer) BeginFrame() (*frame.Recording, error) {
	r.drainReloads()

	var token *present.ImageToken
	rec, err := r.frames.BeginFrame(func(frameSlot uint32) (uint32, error) {
		t, err := r.swapchain.Acquire(frameSlot)
		if err != nil {
			return 0, err
		}
		token = t
		return t.Index(), nil
	})
	if err != nil {
		return nil, err
	}
	r.image = token

	if _, err := r.textures.FlushPendingUploads(rec.UploadContext()); err != nil {
		return nil, fmt.Errorf("renderer: flushing texture uploads: %w", err)
	}
	return rec, nil
}

// BeginSwapchainPass opens a render pass against the swapchain image acquired
// for this frame, stamped with the current generation.
func (r *Renderer) BeginSwapchainPass(rec *frame.Recording) *frame.RenderPass {
	return rec.BeginRender(frame.Target{Kind: frame.TargetSwapchain, Generation: r.swapchain.Generation()})
}

// BeginDeferredPass opens the geometry phase of the deferred sequence.
func (r *Renderer) BeginDeferredPass(rec *frame.Recording) *frame.GeometryPass {
	return rec.BeginGeometryPass(r.swapchain.Generation())
}

// EndFrame flushes descriptor updates, submits the frame, presents the
// acquired image and collects every retirement the GPU has caught up with.
func (r *Renderer) EndFrame(rec *frame.Recording) error {
	if _, err := rec.Bindings().Flush(r.backend.Descriptors()); err != nil {
		return fmt.Errorf("renderer: flushing frame bindings: %w", err)
	}
	if _, err := r.textures.FlushSlotWrites(r.backend.Descriptors()); err != nil {
		return fmt.Errorf("renderer: flushing bindless writes: %w", err)
	}

	info, err := r.frames.EndFrame(rec)
	if err != nil {
		return err
	}
	if r.image != nil {
		if err := r.swapchain.Present(info.FrameSlot, r.image); err != nil {
			return err
		}
		r.image = nil
	}

	completed := r.backend.CompletedSerial()
	r.timeline.Observe(completed)
	r.textures.ProcessRetirements(completed)
	r.buffers.ProcessRetirements(completed)
	return nil
}

// Shutdown idles the device and tears every subsystem down in reverse
// dependency order. Safe to call on a partially constructed renderer.
func (r *Renderer) Shutdown() {
	if r.watcher != nil {
		if err := r.watcher.Close(); err != nil {
			core.LogWarn("renderer: closing asset watcher: %v", err)
		}
		r.watcher = nil
	}

	r.backend.WaitIdle()

	if r.textures != nil {
		r.textures.Shutdown()
		r.textures = nil
	}
	if r.buffers != nil {
		r.buffers.Shutdown()
		r.buffers = nil
	}
	if r.frames != nil {
		r.frames.Destroy()
		r.frames = nil
	}
	r.backend.Shutdown()
}
