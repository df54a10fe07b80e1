package residency

import (
	"github.com/spaghettifunk/keel/engine/core"
)

// Reserved bindless slots. Slot 0 is the fallback (black) texture so bindless
// sampling never touches a destroyed image; 1..3 are well-known defaults so
// shaders never need an "absent texture" sentinel.
const (
	SlotFallback        uint32 = 0
	SlotDefaultBase     uint32 = 1
	SlotDefaultNormal   uint32 = 2
	SlotDefaultSpecular uint32 = 3
	firstDynamicSlot    uint32 = 4
)

// slotTable manages the dynamic range of the bindless texture table.
// A freed slot is only a reuse *candidate*: it cools until the GPU completes
// the last submission that may still read a descriptor from it, then joins
// the free list. Reuse is gated on the slot's own last-used serial, not the
// retired record's stamp.
type slotTable struct {
	free     []uint32
	cooling  []coolingSlot
	lastUsed []uint64
}

type coolingSlot struct {
	slot   uint32
	serial uint64
}

func newSlotTable(capacity uint32) *slotTable {
	core.Assertf(capacity > firstDynamicSlot,
		"residency: bindless table of %d slots cannot hold the reserved defaults", capacity)
	t := &slotTable{
		free:     make([]uint32, 0, capacity-firstDynamicSlot),
		lastUsed: make([]uint64, capacity),
	}
	// Descending so popping from the end hands out low indices first.
	for slot := capacity - 1; slot >= firstDynamicSlot; slot-- {
		t.free = append(t.free, slot)
	}
	return t
}

func (t *slotTable) capacity() uint32 {
	return uint32(len(t.lastUsed))
}

// acquire returns a slot safe to rebind given the completed serial, or false
// under slot pressure (every candidate still cooling).
func (t *slotTable) acquire(completedSerial uint64) (uint32, bool) {
	t.cool(completedSerial)
	if len(t.free) == 0 {
		return 0, false
	}
	slot := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	return slot, true
}

// markUsed records that the upcoming submission identified by serial may read
// the slot's descriptor.
func (t *slotTable) markUsed(slot uint32, serial uint64) {
	core.Assertf(slot < t.capacity(), "residency: slot %d out of range", slot)
	if serial > t.lastUsed[slot] {
		t.lastUsed[slot] = serial
	}
}

// release returns a dynamic slot to the candidate set.
func (t *slotTable) release(slot uint32) {
	core.Assertf(slot >= firstDynamicSlot,
		"residency: reserved slot %d must never be released", slot)
	t.cooling = append(t.cooling, coolingSlot{slot: slot, serial: t.lastUsed[slot]})
}

// restore returns a slot that was acquired but never bound. No descriptor
// ever pointed at it, so it is immediately reusable.
func (t *slotTable) restore(slot uint32) {
	t.free = append(t.free, slot)
}

// cool promotes candidates whose last-used serial has completed.
func (t *slotTable) cool(completedSerial uint64) {
	kept := t.cooling[:0]
	for _, c := range t.cooling {
		if c.serial <= completedSerial {
			t.free = append(t.free, c.slot)
		} else {
			kept = append(kept, c)
		}
	}
	t.cooling = kept
}
