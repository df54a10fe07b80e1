// Package buffers manages long-lived GPU buffers behind opaque handles.
// Transient per-frame data lives in the ring arenas instead; this manager is
// for meshes, persistent uniforms and storage buffers whose lifetime spans
// frames. Deletion and resize never destroy a buffer the GPU may still read:
// the old buffer is parked on a serial-gated release queue.
package buffers

import (
	"fmt"

	"github.com/spaghettifunk/keel/engine/core"
	"github.com/spaghettifunk/keel/engine/renderer/device"
	"github.com/spaghettifunk/keel/engine/renderer/timeline"
)

// Handle names a live buffer. The zero Handle is never valid. Handles are
// opaque; a stale or forged handle is a hard error on every operation.
type Handle struct {
	id uint64
}

// Valid reports whether the handle was ever issued by a manager.
func (h Handle) Valid() bool {
	return h.id != 0
}

type entry struct {
	buffer device.Buffer
	spec   device.BufferSpec
}

// Manager owns the long-lived buffers. Not safe for concurrent use.
type Manager struct {
	dev            device.Device
	tracker        *timeline.Tracker
	framesInFlight uint32

	nextID   uint64
	live     map[uint64]*entry
	retiring timeline.ReleaseQueue
}

// New creates an empty manager.
func New(dev device.Device, tracker *timeline.Tracker, framesInFlight uint32) *Manager {
	core.Assert(dev != nil, "buffers: nil device")
	core.Assert(tracker != nil, "buffers: nil timeline tracker")
	core.Assert(framesInFlight > 0, "buffers: framesInFlight must be non-zero")
	return &Manager{
		dev:            dev,
		tracker:        tracker,
		framesInFlight: framesInFlight,
		live:           make(map[uint64]*entry),
	}
}

// Create allocates a host-visible buffer of the given size and usage and
// returns its handle.
func (m *Manager) Create(size uint64, usage device.BufferUsage, name string) (Handle, error) {
	if size == 0 {
		return Handle{}, fmt.Errorf("buffers: zero-sized buffer %q", name)
	}
	spec := device.BufferSpec{Size: size, Usage: usage, HostVisible: true, Name: name}
	buf, err := m.dev.CreateBuffer(spec)
	if err != nil {
		return Handle{}, fmt.Errorf("buffers: creating %q: %w", name, err)
	}
	m.nextID++
	m.live[m.nextID] = &entry{buffer: buf, spec: spec}
	return Handle{id: m.nextID}, nil
}

func (m *Manager) lookup(h Handle) (*entry, error) {
	if !h.Valid() {
		return nil, fmt.Errorf("buffers: zero handle")
	}
	e, ok := m.live[h.id]
	if !ok {
		return nil, fmt.Errorf("buffers: unknown or deleted handle %d", h.id)
	}
	return e, nil
}

// Size returns the byte capacity of the handle's buffer.
func (m *Manager) Size(h Handle) (uint64, error) {
	e, err := m.lookup(h)
	if err != nil {
		return 0, err
	}
	return e.spec.Size, nil
}

// Buffer returns the device buffer behind the handle, for binding.
func (m *Manager) Buffer(h Handle) (device.Buffer, error) {
	e, err := m.lookup(h)
	if err != nil {
		return nil, err
	}
	return e.buffer, nil
}

// Update replaces the buffer's contents from offset 0.
func (m *Manager) Update(h Handle, data []byte) error {
	return m.UpdateAt(h, 0, data)
}

// UpdateAt writes data at the given byte offset. The write must fit.
func (m *Manager) UpdateAt(h Handle, offset uint64, data []byte) error {
	e, err := m.lookup(h)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > e.spec.Size {
		return fmt.Errorf("buffers: write of %d bytes at offset %d exceeds %q (%d bytes)",
			len(data), offset, e.spec.Name, e.spec.Size)
	}
	copy(e.buffer.Bytes()[offset:], data)
	return nil
}

// Resize swaps in a new buffer of the requested size under the same handle.
// The previous buffer is destroyed only after every frame that may reference
// it has completed; copying any live contents across is the caller's job,
// recorded before the frame is submitted.
func (m *Manager) Resize(h Handle, size uint64) (device.Buffer, error) {
	e, err := m.lookup(h)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, fmt.Errorf("buffers: resizing %q to zero", e.spec.Name)
	}
	if size == e.spec.Size {
		return e.buffer, nil
	}

	spec := e.spec
	spec.Size = size
	grown, err := m.dev.CreateBuffer(spec)
	if err != nil {
		return nil, fmt.Errorf("buffers: resizing %q to %d bytes: %w", spec.Name, size, err)
	}

	old := e.buffer
	m.retiring.Enqueue(m.tracker.RetireStamp(m.framesInFlight), old.Destroy)
	e.buffer = grown
	e.spec = spec
	return grown, nil
}

// Delete retires the handle. The buffer is destroyed once the GPU is done
// with every submitted frame that may reference it; the handle is invalid
// immediately.
func (m *Manager) Delete(h Handle) error {
	e, err := m.lookup(h)
	if err != nil {
		return err
	}
	delete(m.live, h.id)
	m.retiring.Enqueue(m.tracker.RetireStamp(m.framesInFlight), e.buffer.Destroy)
	return nil
}

// Live returns the number of live handles.
func (m *Manager) Live() int {
	return len(m.live)
}

// Retiring returns the number of buffers awaiting serial-gated destruction.
func (m *Manager) Retiring() int {
	return m.retiring.Len()
}

// ProcessRetirements destroys every retired buffer whose gating serial has
// completed. Called once per frame with the observed completed serial.
func (m *Manager) ProcessRetirements(completedSerial uint64) int {
	return m.retiring.Collect(completedSerial)
}

// Shutdown destroys everything. The caller must have idled the device.
func (m *Manager) Shutdown() {
	m.retiring.Drain()
	for id, e := range m.live {
		e.buffer.Destroy()
		delete(m.live, id)
	}
}
