// Package frame rotates the K frames-in-flight contexts and hands out the
// phase tokens that gate recording. A frame slot is reused only after the GPU
// provably completed its previous submission, which is what makes resetting
// its rings and rewriting its bindings safe.
package frame

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/keel/engine/core"
	"github.com/spaghettifunk/keel/engine/renderer/binding"
	"github.com/spaghettifunk/keel/engine/renderer/device"
	"github.com/spaghettifunk/keel/engine/renderer/timeline"
)

// Options sizes the tracker at creation. The ring sizes are starting
// capacities; arenas grow at slot reset when a frame's demand outruns them.
type Options struct {
	FramesInFlight  int
	UniformRingSize uint64
	VertexRingSize  uint64
	StagingRingSize uint64
	Alignment       uint64
	WaitTimeout     time.Duration
}

// SubmitInfo reports where a finished frame went.
type SubmitInfo struct {
	Serial     uint64
	FrameSlot  uint32
	ImageIndex uint32
}

// AcquireFunc obtains the presentation image for a frame slot. Returning
// core.ErrFrameSkipped aborts the frame before any token exists.
type AcquireFunc func(frameSlot uint32) (uint32, error)

// Tracker owns the frame slots and the begin/end lifecycle. Not safe for
// concurrent use; recording is single-threaded.
type Tracker struct {
	dev      device.Device
	queue    device.Queue
	timeline *timeline.Tracker

	slots       []*Slot
	cursor      int
	active      *Recording
	alignment   uint64
	waitTimeout time.Duration
	frameCount  uint64
}

// NewTracker creates the K frame slots with their arenas and binding tables.
func NewTracker(dev device.Device, queue device.Queue, tl *timeline.Tracker, coord *binding.Coordinator, opts Options) (*Tracker, error) {
	core.Assert(opts.FramesInFlight > 0, "frame: FramesInFlight must be positive")
	if opts.Alignment == 0 {
		opts.Alignment = 256
	}
	if opts.WaitTimeout == 0 {
		opts.WaitTimeout = 5 * time.Second
	}

	t := &Tracker{
		dev:         dev,
		queue:       queue,
		timeline:    tl,
		alignment:   opts.Alignment,
		waitTimeout: opts.WaitTimeout,
	}
	capacities := [ringClassCount]uint64{
		classUniform: opts.UniformRingSize,
		classVertex:  opts.VertexRingSize,
		classStaging: opts.StagingRingSize,
	}
	for i := 0; i < opts.FramesInFlight; i++ {
		slot, err := newSlot(dev, uint32(i), coord.Table(uint32(i)), capacities, opts.Alignment)
		if err != nil {
			t.Destroy()
			return nil, fmt.Errorf("frame: creating slot %d: %w", i, err)
		}
		t.slots = append(t.slots, slot)
	}
	return t, nil
}

// FramesInFlight returns K.
func (t *Tracker) FramesInFlight() int {
	return len(t.slots)
}

// FrameCount returns the number of frames begun since creation.
func (t *Tracker) FrameCount() uint64 {
	return t.frameCount
}

// BeginFrame claims the next slot in rotation, blocking until its previous
// submission has completed. The wait is bounded by the configured timeout and
// a timeout is fatal: a slot that never frees means the device hung or serial
// accounting broke, and retrying would hide either. acquire obtains the
// presentation image once the slot is safe to reuse; a nil acquire records a
// headless frame against image 0. If acquire reports the frame skipped, no
// token is issued and the slot is left untouched for the next attempt.
func (t *Tracker) BeginFrame(acquire AcquireFunc) (*Recording, error) {
	core.Assert(t.active == nil, "frame: BeginFrame while a frame is already recording")

	slot := t.slots[t.cursor]
	t.timeline.Observe(t.dev.CompletedSerial())
	if !t.timeline.Completed(slot.lastSerial) {
		if err := t.dev.WaitSerial(slot.lastSerial, t.waitTimeout); err != nil {
			core.Assertf(false, "frame: slot %d wait for serial %d failed: %v", slot.index, slot.lastSerial, err)
		}
		t.timeline.Observe(t.dev.CompletedSerial())
	}

	var imageIndex uint32
	if acquire != nil {
		idx, err := acquire(slot.index)
		if err != nil {
			return nil, err
		}
		imageIndex = idx
	}

	if err := slot.reset(t.dev, t.alignment); err != nil {
		return nil, err
	}
	recorder, err := t.queue.BeginRecording(slot.index)
	if err != nil {
		return nil, fmt.Errorf("frame: beginning recording for slot %d: %w", slot.index, err)
	}

	rec := &Recording{
		tracker:    t,
		slot:       slot,
		recorder:   recorder,
		imageIndex: imageIndex,
	}
	t.active = rec
	t.cursor = (t.cursor + 1) % len(t.slots)
	t.frameCount++
	return rec, nil
}

// EndFrame submits the frame's command stream, stamps the slot with the
// submission serial and consumes the token. Any further use of the token is a
// contract violation.
func (t *Tracker) EndFrame(rec *Recording) (SubmitInfo, error) {
	rec.live()
	core.Assert(rec.tracker == t, "frame: recording token belongs to another tracker")
	core.Assert(!rec.renderActive, "frame: EndFrame with a render pass still active")

	rec.consumed = true
	t.active = nil

	serial, err := t.queue.Submit(rec.slot.index, rec.imageIndex)
	if err != nil {
		return SubmitInfo{}, fmt.Errorf("frame: submitting slot %d: %w", rec.slot.index, err)
	}
	core.Assertf(serial == t.timeline.NextSerial(),
		"frame: queue issued serial %d, timeline expected %d", serial, t.timeline.NextSerial())
	t.timeline.Submit()
	rec.slot.lastSerial = serial

	return SubmitInfo{Serial: serial, FrameSlot: rec.slot.index, ImageIndex: rec.imageIndex}, nil
}

// Destroy releases every slot's arenas. The caller must have idled the device.
func (t *Tracker) Destroy() {
	for _, slot := range t.slots {
		slot.destroy()
	}
	t.slots = nil
}
