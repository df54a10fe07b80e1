package binding

import (
	"testing"

	"github.com/spaghettifunk/keel/engine/renderer/device"
)

type fakeBuffer struct {
	device.Buffer
	name string
}

type recordingWriter struct {
	batches []struct {
		frameSlot uint32
		writes    []Write
	}
}

func (w *recordingWriter) WriteBindings(frameSlot uint32, writes []Write) error {
	w.batches = append(w.batches, struct {
		frameSlot uint32
		writes    []Write
	}{frameSlot, writes})
	return nil
}

func TestFlushBatchesAllDirtySlots(t *testing.T) {
	c := NewCoordinator(2)
	table := c.Table(0)
	buf := &fakeBuffer{name: "globals"}

	table.Set(3, Binding{Kind: KindUniformBuffer, Buffer: buf, Size: 64})
	table.Set(1, Binding{Kind: KindUniformBuffer, Buffer: buf, Offset: 64, Size: 64})
	table.Set(7, Binding{Kind: KindStorageBuffer, Buffer: buf})

	w := &recordingWriter{}
	n, err := table.Flush(w)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("flushed:\nhave %v\nwant 3", n)
	}
	if len(w.batches) != 1 {
		t.Fatalf("batches:\nhave %v\nwant 1 (updates must be bulk-applied)", len(w.batches))
	}
	slots := []uint32{w.batches[0].writes[0].Slot, w.batches[0].writes[1].Slot, w.batches[0].writes[2].Slot}
	if slots[0] != 1 || slots[1] != 3 || slots[2] != 7 {
		t.Fatalf("write order:\nhave %v\nwant [1 3 7]", slots)
	}

	// Second flush with nothing dirty must not touch the writer.
	n, err = table.Flush(w)
	if err != nil || n != 0 {
		t.Fatalf("idle flush: n=%v err=%v", n, err)
	}
	if len(w.batches) != 1 {
		t.Fatalf("idle flush issued a write batch")
	}
}

func TestSetUnchangedBindingStaysClean(t *testing.T) {
	c := NewCoordinator(2)
	table := c.Table(1)
	buf := &fakeBuffer{name: "camera"}
	b := Binding{Kind: KindUniformBuffer, Buffer: buf, Size: 256}

	table.Set(0, b)
	if _, err := table.Flush(&recordingWriter{}); err != nil {
		t.Fatal(err)
	}
	table.Set(0, b)
	if got := table.Dirty(); got != 0 {
		t.Fatalf("Dirty after re-setting identical binding:\nhave %v\nwant 0", got)
	}
}

func TestTablesAreIsolatedPerFrameSlot(t *testing.T) {
	c := NewCoordinator(3)
	buf := &fakeBuffer{name: "lighting"}

	c.Table(0).Set(2, Binding{Kind: KindUniformBuffer, Buffer: buf, Size: 16})
	if got := c.Table(1).Dirty(); got != 0 {
		t.Fatalf("frame 1 table dirtied by frame 0 update:\nhave %v\nwant 0", got)
	}
	if got := c.Table(2).Dirty(); got != 0 {
		t.Fatalf("frame 2 table dirtied by frame 0 update:\nhave %v\nwant 0", got)
	}
}

func TestTableOutOfRangePanics(t *testing.T) {
	c := NewCoordinator(2)
	defer func() {
		if recover() == nil {
			t.Fatal("Table(5) did not panic")
		}
	}()
	c.Table(5)
}
