package frame

import (
	"github.com/spaghettifunk/keel/engine/core"
	"github.com/spaghettifunk/keel/engine/renderer/binding"
	"github.com/spaghettifunk/keel/engine/renderer/device"
	"github.com/spaghettifunk/keel/engine/renderer/residency"
	"github.com/spaghettifunk/keel/engine/renderer/transient"
)

// TargetKind names a render target class.
type TargetKind int

const (
	TargetSwapchain TargetKind = iota
	TargetGBuffer
	TargetOffscreen
)

// Target identifies the render target a pass draws into. Generation is the
// swapchain generation for swapchain targets; a pass token is only valid for
// the generation it was created against.
type Target struct {
	Kind       TargetKind
	Generation uint64
}

// Allocation is a transient region together with the buffer it lives in and
// the mapped window to write through.
type Allocation struct {
	Region transient.Region
	Buffer device.Buffer
	Bytes  []byte
}

// Recording is the capability token for an open frame. It is only ever
// constructed by Tracker.BeginFrame and consumed by Tracker.EndFrame;
// operations requiring "recording is active" take it instead of checking a
// flag. Using it after EndFrame is a contract violation.
type Recording struct {
	tracker      *Tracker
	slot         *Slot
	recorder     device.Recorder
	imageIndex   uint32
	renderActive bool
	consumed     bool
}

func (r *Recording) live() {
	core.Assert(r != nil, "frame: nil recording token")
	core.Assert(!r.consumed, "frame: recording token used after EndFrame")
}

// Slot returns the frame slot this recording occupies.
func (r *Recording) Slot() *Slot {
	r.live()
	return r.slot
}

// ImageIndex returns the swapchain image this frame will present to.
func (r *Recording) ImageIndex() uint32 {
	r.live()
	return r.imageIndex
}

// Recorder exposes the frame's command stream for transfer recording.
func (r *Recording) Recorder() device.Recorder {
	r.live()
	return r.recorder
}

// Bindings returns the binding table of this frame's slot. Updates here can
// never race a previous frame's GPU reads.
func (r *Recording) Bindings() *binding.Table {
	r.live()
	return r.slot.bindings
}

// AllocUniform reserves transient uniform space for this frame.
func (r *Recording) AllocUniform(size, align uint64) (Allocation, error) {
	return r.alloc(classUniform, size, align)
}

// AllocVertex reserves transient vertex space for this frame.
func (r *Recording) AllocVertex(size, align uint64) (Allocation, error) {
	return r.alloc(classVertex, size, align)
}

// AllocStaging reserves transient staging space for this frame.
func (r *Recording) AllocStaging(size, align uint64) (Allocation, error) {
	return r.alloc(classStaging, size, align)
}

func (r *Recording) alloc(class ringClass, size, align uint64) (Allocation, error) {
	r.live()
	a := r.slot.arenas[class]
	region, err := a.ring.Allocate(size, align)
	if err != nil {
		return Allocation{}, err
	}
	return Allocation{Region: region, Buffer: a.buffer, Bytes: a.ring.Bytes(region)}, nil
}

// UploadContext grants the residency manager the capability to stage and
// record texture uploads for this frame. Upload-only APIs take this instead
// of a command stream so they are uncallable from draw paths.
func (r *Recording) UploadContext() residency.UploadContext {
	r.live()
	a := r.slot.arenas[classStaging]
	return residency.NewUploadContext(r.recorder, a.ring, a.buffer, r.slot.index)
}

// BeginRender opens a render pass against one target. Only one pass may be
// active at a time; the returned token is tied to this target and invalidated
// by End. Passes may be entered and exited several times per frame.
func (r *Recording) BeginRender(target Target) *RenderPass {
	r.live()
	core.Assert(!r.renderActive, "frame: render target already active, end the current pass first")
	r.renderActive = true
	return &RenderPass{rec: r, target: target}
}

// RenderPass is the capability token for an active render target. Draw-only
// operations take it by value so they cannot be reached while no target is
// bound.
type RenderPass struct {
	rec    *Recording
	target Target
	ended  bool
}

// Target returns the target this pass was opened against.
func (p *RenderPass) Target() Target {
	core.Assert(!p.ended, "frame: render pass token used after End")
	return p.target
}

// End closes the pass and invalidates the token.
func (p *RenderPass) End() {
	core.Assert(!p.ended, "frame: render pass ended twice")
	p.ended = true
	p.rec.renderActive = false
}

// BeginGeometryPass opens the deferred-shading geometry phase. The lighting
// phase is only reachable through the returned token, which encodes the
// begin -> lighting -> end ordering in types instead of runtime state.
func (r *Recording) BeginGeometryPass(generation uint64) *GeometryPass {
	r.live()
	core.Assert(!r.renderActive, "frame: render target already active, end the current pass first")
	r.renderActive = true
	return &GeometryPass{rec: r, generation: generation}
}

// GeometryPass is the token proving the G-buffer target is active.
type GeometryPass struct {
	rec        *Recording
	generation uint64
	ended      bool
}

// EndIntoLighting transitions the G-buffer to shader reads and opens the
// lighting phase. The geometry token is consumed; only the returned lighting
// token can end the sequence.
func (g *GeometryPass) EndIntoLighting() *LightingPass {
	core.Assert(!g.ended, "frame: geometry pass ended twice")
	g.ended = true
	return &LightingPass{rec: g.rec, generation: g.generation}
}

// LightingPass is the token proving the lighting phase is active.
type LightingPass struct {
	rec        *Recording
	generation uint64
	ended      bool
}

// End closes the deferred sequence and releases the render target.
func (l *LightingPass) End() {
	core.Assert(!l.ended, "frame: lighting pass ended twice")
	l.ended = true
	l.rec.renderActive = false
}
