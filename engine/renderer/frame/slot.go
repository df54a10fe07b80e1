package frame

import (
	"fmt"

	"github.com/spaghettifunk/keel/engine/core"
	"github.com/spaghettifunk/keel/engine/renderer/binding"
	"github.com/spaghettifunk/keel/engine/renderer/device"
	"github.com/spaghettifunk/keel/engine/renderer/transient"
)

// ringClass indexes a slot's transient arenas.
type ringClass int

const (
	classUniform ringClass = iota
	classVertex
	classStaging
	ringClassCount
)

func (c ringClass) String() string {
	switch c {
	case classUniform:
		return "uniform"
	case classVertex:
		return "vertex"
	case classStaging:
		return "staging"
	}
	return "unknown"
}

func (c ringClass) usage() device.BufferUsage {
	switch c {
	case classUniform:
		return device.UsageUniform
	case classVertex:
		return device.UsageVertex
	default:
		return device.UsageStaging
	}
}

// arena pairs a transient ring with the host-visible buffer backing it.
type arena struct {
	ring   *transient.Ring
	buffer device.Buffer
}

// Slot is one of K rotating per-frame-in-flight contexts. It owns one arena
// per resource class, a binding table and the serial of its last submission.
// Slots are created once at initialization and reused until shutdown; a slot
// must not begin recording again until its previous serial has completed.
type Slot struct {
	index      uint32
	arenas     [ringClassCount]arena
	bindings   *binding.Table
	lastSerial uint64
}

func newSlot(dev device.Device, index uint32, table *binding.Table, capacities [ringClassCount]uint64, alignment uint64) (*Slot, error) {
	s := &Slot{index: index, bindings: table}
	for class := ringClass(0); class < ringClassCount; class++ {
		a, err := newArena(dev, index, class, capacities[class], alignment)
		if err != nil {
			s.destroy()
			return nil, err
		}
		s.arenas[class] = a
	}
	return s, nil
}

func newArena(dev device.Device, slot uint32, class ringClass, capacity, alignment uint64) (arena, error) {
	buf, err := dev.CreateBuffer(device.BufferSpec{
		Size:        capacity,
		Usage:       class.usage(),
		HostVisible: true,
		Name:        fmt.Sprintf("frame%d-%s-ring", slot, class),
	})
	if err != nil {
		return arena{}, fmt.Errorf("frame: creating %s arena for slot %d: %w", class, slot, err)
	}
	return arena{ring: transient.NewBacked(buf.Bytes(), alignment), buffer: buf}, nil
}

// Index returns the slot's position in the frames-in-flight rotation.
func (s *Slot) Index() uint32 {
	return s.index
}

// LastSerial returns the serial of the slot's most recent submission, or 0 if
// it has never been submitted.
func (s *Slot) LastSerial() uint64 {
	return s.lastSerial
}

// Bindings returns the slot's binding table.
func (s *Slot) Bindings() *binding.Table {
	return s.bindings
}

// reset prepares the slot for reuse. Callers must have proven the slot's
// previous serial completed. Arenas whose demand outgrew their capacity are
// reallocated larger here, while provably unreferenced, never mid-frame.
func (s *Slot) reset(dev device.Device, alignment uint64) error {
	for class := ringClass(0); class < ringClassCount; class++ {
		a := &s.arenas[class]
		if demand := a.ring.Demand(); demand > a.ring.Capacity() {
			newCap := a.ring.Capacity()
			for newCap < demand {
				newCap *= 2
			}
			core.LogInfo("frame slot %d: growing %s arena %d -> %d bytes",
				s.index, class, a.ring.Capacity(), newCap)
			a.buffer.Destroy()
			grown, err := newArena(dev, s.index, class, newCap, alignment)
			if err != nil {
				return err
			}
			*a = grown
			continue
		}
		a.ring.Reset()
	}
	return nil
}

func (s *Slot) destroy() {
	for class := ringClass(0); class < ringClassCount; class++ {
		if s.arenas[class].buffer != nil {
			s.arenas[class].buffer.Destroy()
			s.arenas[class].buffer = nil
		}
	}
}
