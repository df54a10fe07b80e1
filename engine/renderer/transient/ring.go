// Package transient implements the per-frame scratch arenas. A Ring bump
// allocates forward over a fixed capacity and is reset exactly once per
// frame-slot reuse, after the GPU provably finished the slot's previous
// submission. It never wraps within a frame: wrapping would silently hand out
// bytes the GPU may still be reading.
package transient

import (
	"errors"
	"fmt"

	"golang.org/x/exp/constraints"

	"github.com/spaghettifunk/keel/engine/core"
)

var (
	// ErrExhausted means the remaining arena capacity cannot satisfy the
	// request this frame. The caller may fall back to a dedicated
	// allocation or defer the work to the next frame.
	ErrExhausted = errors.New("transient: ring exhausted")

	// ErrOversized means the request exceeds the arena's total capacity
	// and can never succeed against this ring. Not retryable.
	ErrOversized = errors.New("transient: allocation exceeds ring capacity")
)

// Region is an allocated (offset, size) range inside a ring arena. It is
// implicitly retired when the owning frame slot's serial completes and the
// arena is reset.
type Region struct {
	Offset uint64
	Size   uint64
}

// Ring is a bump allocator over a fixed byte arena. Not safe for concurrent
// use; each ring belongs to exactly one frame slot.
type Ring struct {
	backing   []byte
	capacity  uint64
	alignment uint64
	cursor    uint64
	highWater uint64
	demand    uint64
}

// New creates an unbacked ring for pure offset bookkeeping.
func New(capacity, alignment uint64) *Ring {
	core.Assert(capacity > 0, "transient: ring capacity must be non-zero")
	if alignment == 0 {
		alignment = 1
	}
	return &Ring{capacity: capacity, alignment: alignment}
}

// NewBacked creates a ring over a mapped host-visible window. Writers access
// their region through Bytes.
func NewBacked(backing []byte, alignment uint64) *Ring {
	r := New(uint64(len(backing)), alignment)
	r.backing = backing
	return r
}

// Allocate reserves size bytes at the requested alignment (0 means the ring's
// default). On exhaustion it fails; it never wraps back to offset 0 within a
// frame.
func (r *Ring) Allocate(size, alignment uint64) (Region, error) {
	if alignment == 0 {
		alignment = r.alignment
	}
	if size > r.capacity {
		return Region{}, fmt.Errorf("%w: need %d bytes, capacity %d", ErrOversized, size, r.capacity)
	}

	offset := alignUp(r.cursor, alignment)
	if offset+size > r.capacity {
		// Remember what this frame wanted so the owning slot can grow
		// the arena at the next reset.
		if offset+size > r.demand {
			r.demand = offset + size
		}
		return Region{}, fmt.Errorf("%w: need %d bytes at offset %d, capacity %d", ErrExhausted, size, offset, r.capacity)
	}

	r.cursor = offset + size
	if r.cursor > r.highWater {
		r.highWater = r.cursor
	}
	if r.cursor > r.demand {
		r.demand = r.cursor
	}
	return Region{Offset: offset, Size: size}, nil
}

// Bytes returns the mapped window for a region of a backed ring.
func (r *Ring) Bytes(region Region) []byte {
	core.Assert(r.backing != nil, "transient: Bytes called on an unbacked ring")
	core.Assertf(region.Offset+region.Size <= r.capacity,
		"transient: region [%d, %d) outside arena of %d bytes", region.Offset, region.Offset+region.Size, r.capacity)
	return r.backing[region.Offset : region.Offset+region.Size]
}

// Reset returns the cursor to zero. Only legal once the owning slot's
// previous serial has completed; the frame slot enforces that ordering.
func (r *Ring) Reset() {
	r.cursor = 0
}

// Used returns the current cursor position.
func (r *Ring) Used() uint64 {
	return r.cursor
}

// Capacity returns the arena size in bytes.
func (r *Ring) Capacity() uint64 {
	return r.capacity
}

// HighWater returns the peak cursor observed since creation.
func (r *Ring) HighWater() uint64 {
	return r.highWater
}

// Demand returns the peak capacity this ring would have needed to satisfy
// every request, counting failed ones. Frame slots compare it against
// Capacity at reset time to grow the arena, never mid-frame.
func (r *Ring) Demand() uint64 {
	return r.demand
}

func alignUp[T constraints.Unsigned](value, alignment T) T {
	return (value + alignment - 1) / alignment * alignment
}
