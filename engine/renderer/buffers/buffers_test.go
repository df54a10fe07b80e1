package buffers

import (
	"errors"
	"testing"
	"time"

	"github.com/spaghettifunk/keel/engine/renderer/device"
	"github.com/spaghettifunk/keel/engine/renderer/timeline"
)

type fakeBuffer struct {
	data      []byte
	destroyed bool
}

func (b *fakeBuffer) Destroy()      { b.destroyed = true }
func (b *fakeBuffer) Bytes() []byte { return b.data }
func (b *fakeBuffer) Cap() uint64   { return uint64(len(b.data)) }
func (b *fakeBuffer) Visible() bool { return true }

type fakeDevice struct {
	created   []*fakeBuffer
	createErr error
}

func (d *fakeDevice) CreateBuffer(spec device.BufferSpec) (device.Buffer, error) {
	if d.createErr != nil {
		return nil, d.createErr
	}
	b := &fakeBuffer{data: make([]byte, spec.Size)}
	d.created = append(d.created, b)
	return b, nil
}
func (d *fakeDevice) CreateImage(device.ImageSpec) (device.Image, error) {
	return nil, errors.New("not implemented")
}
func (d *fakeDevice) NewSampler(device.Sampling) (device.Sampler, error)      { return struct{}{}, nil }
func (d *fakeDevice) CompletedSerial() uint64                                 { return 0 }
func (d *fakeDevice) WaitSerial(uint64, time.Duration) error                  { return nil }
func (d *fakeDevice) ImmediateSubmit(record func(device.Recorder) error) error { return nil }
func (d *fakeDevice) WaitIdle()                                               {}

const framesInFlight = 2

func newManager() (*Manager, *fakeDevice, *timeline.Tracker) {
	dev := &fakeDevice{}
	tl := timeline.New()
	return New(dev, tl, framesInFlight), dev, tl
}

func TestCreateUpdateRead(t *testing.T) {
	m, dev, _ := newManager()

	h, err := m.Create(64, device.UsageVertex, "quad")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !h.Valid() {
		t.Fatal("issued handle is not valid")
	}
	if err := m.Update(h, []byte("vertices")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := m.UpdateAt(h, 8, []byte("more")); err != nil {
		t.Fatalf("UpdateAt: %v", err)
	}
	if got := string(dev.created[0].data[:12]); got != "verticesmore" {
		t.Fatalf("contents:\nhave %q\nwant %q", got, "verticesmore")
	}
}

func TestUpdateBeyondCapacityFails(t *testing.T) {
	m, _, _ := newManager()
	h, err := m.Create(8, device.UsageUniform, "tiny")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateAt(h, 4, []byte("overflow")); err == nil {
		t.Fatal("out-of-bounds write did not fail")
	}
}

func TestUnknownHandleIsHardError(t *testing.T) {
	m, _, _ := newManager()

	if err := m.Update(Handle{}, nil); err == nil {
		t.Fatal("zero handle accepted")
	}
	if err := m.Update(Handle{id: 42}, nil); err == nil {
		t.Fatal("forged handle accepted")
	}

	h, err := m.Create(16, device.UsageStorage, "doomed")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(h); err != nil {
		t.Fatal(err)
	}
	if err := m.Update(h, []byte("x")); err == nil {
		t.Fatal("deleted handle accepted")
	}
	if err := m.Delete(h); err == nil {
		t.Fatal("double delete accepted")
	}
}

func TestDeleteIsSerialGated(t *testing.T) {
	m, dev, tl := newManager()

	h, err := m.Create(16, device.UsageVertex, "mesh")
	if err != nil {
		t.Fatal(err)
	}
	// One frame in flight references the buffer.
	tl.Submit()

	if err := m.Delete(h); err != nil {
		t.Fatal(err)
	}
	buf := dev.created[0]
	if buf.destroyed {
		t.Fatal("buffer destroyed immediately on delete")
	}
	if m.Retiring() != 1 {
		t.Fatalf("Retiring:\nhave %v\nwant 1", m.Retiring())
	}

	// Retire stamp is NextSerial + K - 1 = 2 + 2 - 1 = 3.
	m.ProcessRetirements(2)
	if buf.destroyed {
		t.Fatal("buffer destroyed before its gating serial completed")
	}
	m.ProcessRetirements(3)
	if !buf.destroyed {
		t.Fatal("buffer not destroyed after its gating serial completed")
	}
	if m.Retiring() != 0 {
		t.Fatalf("Retiring:\nhave %v\nwant 0", m.Retiring())
	}
}

func TestResizeSwapsBufferAndRetiresOld(t *testing.T) {
	m, dev, _ := newManager()

	h, err := m.Create(16, device.UsageVertex, "growing")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Update(h, []byte("keep")); err != nil {
		t.Fatal(err)
	}

	grown, err := m.Resize(h, 64)
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if grown.Cap() != 64 {
		t.Fatalf("Cap:\nhave %v\nwant 64", grown.Cap())
	}
	if size, _ := m.Size(h); size != 64 {
		t.Fatalf("Size:\nhave %v\nwant 64", size)
	}

	old := dev.created[0]
	if old.destroyed {
		t.Fatal("old buffer destroyed before its gating serial completed")
	}
	// Retire stamp with nothing submitted is 1 + 2 - 1 = 2.
	m.ProcessRetirements(2)
	if !old.destroyed {
		t.Fatal("old buffer not destroyed after its gating serial completed")
	}

	// The handle still works against the new buffer.
	if err := m.UpdateAt(h, 32, []byte("tail")); err != nil {
		t.Fatalf("UpdateAt after resize: %v", err)
	}
}

func TestResizeToSameSizeIsNoOp(t *testing.T) {
	m, dev, _ := newManager()
	h, err := m.Create(32, device.UsageUniform, "stable")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Resize(h, 32); err != nil {
		t.Fatal(err)
	}
	if len(dev.created) != 1 {
		t.Fatalf("buffers created:\nhave %v\nwant 1", len(dev.created))
	}
	if m.Retiring() != 0 {
		t.Fatal("no-op resize queued a retirement")
	}
}

func TestShutdownDestroysEverything(t *testing.T) {
	m, dev, _ := newManager()

	if _, err := m.Create(8, device.UsageUniform, "a"); err != nil {
		t.Fatal(err)
	}
	h, err := m.Create(8, device.UsageUniform, "b")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(h); err != nil {
		t.Fatal(err)
	}

	m.Shutdown()
	for i, b := range dev.created {
		if !b.destroyed {
			t.Fatalf("buffer %d not destroyed at shutdown", i)
		}
	}
	if m.Live() != 0 {
		t.Fatalf("Live:\nhave %v\nwant 0", m.Live())
	}
}
