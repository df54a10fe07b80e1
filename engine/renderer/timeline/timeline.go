// Package timeline tracks the GPU submission timeline. A Tracker hands out
// monotonically increasing submission serials and records the device-reported
// completion point; every "is it safe to reuse/destroy this yet" question in
// the renderer reduces to a comparison against these two counters.
package timeline

import (
	"github.com/spaghettifunk/keel/engine/core"
)

// Tracker is the monotonic submission counter. Serial 0 means "never
// submitted" and is always completed.
type Tracker struct {
	submitted uint64
	completed uint64
}

func New() *Tracker {
	return &Tracker{}
}

// NextSerial returns the serial the next Submit call will produce, without
// advancing. Retirement stamps taken during recording use this value.
func (t *Tracker) NextSerial() uint64 {
	return t.submitted + 1
}

// Submit advances the timeline and returns the serial of the submission.
func (t *Tracker) Submit() uint64 {
	t.submitted++
	return t.submitted
}

// LastSubmitted returns the serial of the most recent submission.
func (t *Tracker) LastSubmitted() uint64 {
	return t.submitted
}

// Observe records the completion point reported by the device. The device
// timeline never runs backwards and never ahead of what was submitted;
// either would mean the serial bookkeeping has desynchronized from reality.
func (t *Tracker) Observe(completed uint64) {
	core.Assertf(completed >= t.completed,
		"timeline: completed serial regressed from %d to %d", t.completed, completed)
	core.Assertf(completed <= t.submitted,
		"timeline: device reports serial %d complete but only %d were submitted", completed, t.submitted)
	t.completed = completed
}

// CompletedSerial returns the last observed completion point.
func (t *Tracker) CompletedSerial() uint64 {
	return t.completed
}

// Completed reports whether the GPU has finished executing the submission
// identified by serial.
func (t *Tracker) Completed(serial uint64) bool {
	return t.completed >= serial
}

// RetireStamp returns the serial after which a resource referenced by the
// upcoming submission may be destroyed, given the pipelining depth.
func (t *Tracker) RetireStamp(framesInFlight uint32) uint64 {
	return t.NextSerial() + uint64(framesInFlight) - 1
}
