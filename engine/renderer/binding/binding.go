// Package binding coordinates descriptor updates across frames in flight.
// Every frame slot owns its own Table; updating bindings for the frame being
// recorded never touches the table a previous frame's GPU work may still be
// reading. Dirty entries are collected and applied as one bulk write per
// flush, never one API call per slot.
package binding

import (
	"sort"

	"github.com/spaghettifunk/keel/engine/core"
	"github.com/spaghettifunk/keel/engine/renderer/device"
)

// Kind discriminates what a table slot is bound as.
type Kind int

const (
	KindUniformBuffer Kind = iota
	KindSampledImage
	KindStorageBuffer
)

// Binding is the full payload of one table slot.
type Binding struct {
	Kind    Kind
	Buffer  device.Buffer
	Offset  uint64
	Size    uint64
	View    device.ImageView
	Sampler device.Sampler
}

// Write pairs a slot index with its new binding.
type Write struct {
	Slot    uint32
	Binding Binding
}

// TableWriter applies a batch of binding writes to the backend table of one
// frame slot. A single call corresponds to a single bulk descriptor update.
type TableWriter interface {
	WriteBindings(frameSlot uint32, writes []Write) error
}

// Table is the CPU-side shadow of one frame slot's binding table.
type Table struct {
	frameSlot uint32
	entries   map[uint32]Binding
	dirty     map[uint32]struct{}
}

func newTable(frameSlot uint32) *Table {
	return &Table{
		frameSlot: frameSlot,
		entries:   make(map[uint32]Binding),
		dirty:     make(map[uint32]struct{}),
	}
}

// Set records a binding for the slot and marks it dirty if it changed.
func (t *Table) Set(slot uint32, b Binding) {
	if current, ok := t.entries[slot]; ok && current == b {
		return
	}
	t.entries[slot] = b
	t.dirty[slot] = struct{}{}
}

// Dirty returns the number of slots awaiting a flush.
func (t *Table) Dirty() int {
	return len(t.dirty)
}

// Flush applies all dirty slots through the writer in one batched update and
// clears the dirty set. Returns the number of slots written.
func (t *Table) Flush(w TableWriter) (int, error) {
	if len(t.dirty) == 0 {
		return 0, nil
	}

	writes := make([]Write, 0, len(t.dirty))
	for slot := range t.dirty {
		writes = append(writes, Write{Slot: slot, Binding: t.entries[slot]})
	}
	sort.Slice(writes, func(i, j int) bool { return writes[i].Slot < writes[j].Slot })

	if err := w.WriteBindings(t.frameSlot, writes); err != nil {
		return 0, err
	}
	t.dirty = make(map[uint32]struct{})
	return len(writes), nil
}

// Coordinator owns one table per frame in flight, rotated the same way as
// the transient rings.
type Coordinator struct {
	tables []*Table
}

func NewCoordinator(framesInFlight uint32) *Coordinator {
	core.Assert(framesInFlight > 0, "binding: framesInFlight must be non-zero")
	tables := make([]*Table, framesInFlight)
	for i := range tables {
		tables[i] = newTable(uint32(i))
	}
	return &Coordinator{tables: tables}
}

// Table returns the binding table owned by the given frame slot.
func (c *Coordinator) Table(frameSlot uint32) *Table {
	core.Assertf(int(frameSlot) < len(c.tables),
		"binding: frame slot %d out of range (%d tables)", frameSlot, len(c.tables))
	return c.tables[frameSlot]
}
