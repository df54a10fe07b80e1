// Package residency manages the GPU lifecycle of texture assets. An asset is
// in exactly one of four disjoint containers at any time: pending (queued for
// upload), resident (uploaded, holds a valid image, view and bindless slot),
// retiring (logically gone, destruction gated on a GPU serial), or absent
// (not tracked at all). Membership in a container IS the state; records carry
// no status enum.
package residency

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/spaghettifunk/keel/engine/core"
	"github.com/spaghettifunk/keel/engine/renderer/device"
	"github.com/spaghettifunk/keel/engine/renderer/timeline"
)

// ErrUploadFailed wraps provider/decode errors remembered for an asset.
var ErrUploadFailed = errors.New("residency: upload failed")

// AssetID identifies one image asset. Valid ids are non-negative; the
// boundary into the manager asserts this.
type AssetID int32

// Info is the metadata the asset provider reports for an id.
type Info struct {
	Width  uint32
	Height uint32
	Layers uint32
	Format device.Format
}

// Provider supplies raw pixel data for assets. It is an external
// collaborator: decode, palette expansion and format conversion happen behind
// it. Pixels returns tightly packed data matching Info's format.
type Provider interface {
	Info(id AssetID) (Info, error)
	Pixels(id AssetID, layer uint32) ([]byte, error)
}

// Descriptor is a GPU-usable binding for a texture: view, sampler and the
// bindless slot it occupies. It is only ever constructed from a fully
// resident record or from the built-in defaults, never empty.
type Descriptor struct {
	Slot    uint32
	View    device.ImageView
	Sampler device.Sampler
}

// SlotWrite is one bindless table update.
type SlotWrite struct {
	Slot    uint32
	View    device.ImageView
	Sampler device.Sampler
}

// BindlessWriter applies a batch of bindless slot updates in one bulk write.
type BindlessWriter interface {
	WriteSlots(writes []SlotWrite) error
}

// record is a fully resident texture. It is constructed whole from a
// successful upload; a partially valid record is unrepresentable.
type record struct {
	image          device.Image
	sampler        device.Sampler
	slot           uint32
	byteSize       uint64
	lastUsedSerial uint64
}

func (r *record) descriptor() Descriptor {
	return Descriptor{Slot: r.slot, View: r.image.View(), Sampler: r.sampler}
}

// Manager owns the four containers, the bindless slot table and the deferred
// destruction queue.
type Manager struct {
	dev            device.Device
	provider       Provider
	tracker        *timeline.Tracker
	framesInFlight uint32

	pendingOrder []AssetID
	pendingSet   map[AssetID]struct{}
	resident     map[AssetID]*record
	retiring     timeline.ReleaseQueue
	failed       map[AssetID]error

	slots      *slotTable
	dirtySlots map[uint32]SlotWrite

	defaultSampler device.Sampler
	builtins       []device.Image
	fallback       Descriptor
	defaults       [3]Descriptor
}

// Config carries the manager's construction parameters.
type Config struct {
	MaxBindlessTextures uint32
	FramesInFlight      uint32
	Sampling            device.Sampling
}

// New creates the manager and uploads the built-in fallback and default
// textures through the dedicated path. The bindless table starts
// fallback-filled: every slot points at a valid texture from the first frame.
func New(dev device.Device, provider Provider, tracker *timeline.Tracker, cfg Config) (*Manager, error) {
	core.Assert(dev != nil, "residency: device must not be nil")
	core.Assert(provider != nil, "residency: asset provider must not be nil")
	core.Assert(tracker != nil, "residency: timeline tracker must not be nil")

	sampler, err := dev.NewSampler(cfg.Sampling)
	if err != nil {
		return nil, fmt.Errorf("residency: creating default sampler: %w", err)
	}

	m := &Manager{
		dev:            dev,
		provider:       provider,
		tracker:        tracker,
		framesInFlight: cfg.FramesInFlight,
		pendingSet:     make(map[AssetID]struct{}),
		resident:       make(map[AssetID]*record),
		failed:         make(map[AssetID]error),
		slots:          newSlotTable(cfg.MaxBindlessTextures),
		dirtySlots:     make(map[uint32]SlotWrite),
		defaultSampler: sampler,
	}

	if err := m.createBuiltins(); err != nil {
		return nil, err
	}

	// Fallback-fill the whole table so no slot is ever unbound.
	for slot := firstDynamicSlot; slot < m.slots.capacity(); slot++ {
		m.dirtySlots[slot] = SlotWrite{Slot: slot, View: m.fallback.View, Sampler: m.fallback.Sampler}
	}
	return m, nil
}

// builtin solid colors: fallback black, base white, flat normal, black spec.
var builtinColors = [4][4]byte{
	{0, 0, 0, 255},
	{255, 255, 255, 255},
	{128, 128, 255, 255},
	{0, 0, 0, 255},
}

func (m *Manager) createBuiltins() error {
	for i, color := range builtinColors {
		slot := uint32(i)
		img, err := m.createSolidTexture(color)
		if err != nil {
			return fmt.Errorf("residency: creating builtin texture for slot %d: %w", slot, err)
		}
		m.builtins = append(m.builtins, img)

		desc := Descriptor{Slot: slot, View: img.View(), Sampler: m.defaultSampler}
		m.dirtySlots[slot] = SlotWrite{Slot: slot, View: desc.View, Sampler: desc.Sampler}
		if slot == SlotFallback {
			m.fallback = desc
		} else {
			m.defaults[slot-1] = desc
		}
	}
	return nil
}

func (m *Manager) createSolidTexture(rgba [4]byte) (device.Image, error) {
	img, err := m.dev.CreateImage(device.ImageSpec{
		Width:     1,
		Height:    1,
		Layers:    1,
		MipLevels: 1,
		Format:    device.FormatRGBA8,
		Name:      "builtin-" + uuid.New().String(),
	})
	if err != nil {
		return nil, err
	}

	staging, err := m.dev.CreateBuffer(device.BufferSpec{
		Size:        4,
		Usage:       device.UsageStaging,
		HostVisible: true,
	})
	if err != nil {
		img.Destroy()
		return nil, err
	}
	copy(staging.Bytes(), rgba[:])

	err = m.dev.ImmediateSubmit(func(rec device.Recorder) error {
		rec.CopyBufferToImage(staging, img, []device.BufferImageCopy{{Width: 1, Height: 1}})
		return nil
	})
	staging.Destroy()
	if err != nil {
		img.Destroy()
		return nil, err
	}
	return img, nil
}

// FallbackDescriptor returns the permanent fallback (slot 0) descriptor.
func (m *Manager) FallbackDescriptor() Descriptor {
	return m.fallback
}

// DefaultDescriptor returns one of the reserved default descriptors
// (SlotDefaultBase, SlotDefaultNormal, SlotDefaultSpecular).
func (m *Manager) DefaultDescriptor(slot uint32) Descriptor {
	core.Assertf(slot >= SlotDefaultBase && slot <= SlotDefaultSpecular,
		"residency: %d is not a reserved default slot", slot)
	return m.defaults[slot-1]
}

// RequestUpload queues an asset for upload. Idempotent: an asset already
// pending or resident is left alone, so repeated calls never grow the queue.
// Assets remembered as failed are not re-queued until Forget is called.
func (m *Manager) RequestUpload(id AssetID) {
	core.Assertf(id >= 0, "residency: invalid asset id %d", id)
	if _, ok := m.pendingSet[id]; ok {
		return
	}
	if _, ok := m.resident[id]; ok {
		return
	}
	if _, ok := m.failed[id]; ok {
		return
	}
	m.pendingSet[id] = struct{}{}
	m.pendingOrder = append(m.pendingOrder, id)
}

// Pending reports the number of queued uploads.
func (m *Manager) Pending() int {
	return len(m.pendingOrder)
}

// Resident reports whether the asset currently has a complete GPU
// representation.
func (m *Manager) Resident(id AssetID) bool {
	_, ok := m.resident[id]
	return ok
}

// FailedError returns the remembered error for a failed asset, or nil.
func (m *Manager) FailedError(id AssetID) error {
	return m.failed[id]
}

// Forget clears a remembered failure so the asset may be requested again.
func (m *Manager) Forget(id AssetID) {
	delete(m.failed, id)
}

// ResidentDescriptor returns the descriptor of a resident asset. Calling it
// for a non-resident asset is a contract violation; callers that cannot prove
// residency must use DrawDescriptor instead.
func (m *Manager) ResidentDescriptor(id AssetID) Descriptor {
	rec, ok := m.resident[id]
	core.Assertf(ok, "residency: ResidentDescriptor called for non-resident asset %d", id)
	m.markUsed(rec)
	return rec.descriptor()
}

// DrawDescriptor always returns a valid, GPU-usable descriptor: the asset's
// own if resident, otherwise the permanent fallback (queueing an upload for
// the asset as a side effect). Callers never branch on validity.
func (m *Manager) DrawDescriptor(id AssetID) Descriptor {
	core.Assertf(id >= 0, "residency: invalid asset id %d", id)
	if rec, ok := m.resident[id]; ok {
		m.markUsed(rec)
		return rec.descriptor()
	}
	m.RequestUpload(id)
	m.slots.markUsed(SlotFallback, m.tracker.NextSerial())
	return m.fallback
}

// BindlessIndex returns a stable bindless slot for the asset, or the fallback
// slot when the asset is not resident (queueing an upload). The returned
// index is always sampleable.
func (m *Manager) BindlessIndex(id AssetID) uint32 {
	return m.DrawDescriptor(id).Slot
}

func (m *Manager) markUsed(rec *record) {
	serial := m.tracker.NextSerial()
	rec.lastUsedSerial = serial
	m.slots.markUsed(rec.slot, serial)
}

// Retire moves a resident asset to the retiring container, stamped with the
// serial after which destruction is safe. Its slot immediately becomes a
// reuse candidate (gated on the slot's last-used serial) and is rebound to
// the fallback so the table stays fully populated. Retiring an asset that is
// not resident is a no-op.
func (m *Manager) Retire(id AssetID) {
	rec, ok := m.resident[id]
	if !ok {
		return
	}
	delete(m.resident, id)

	stamp := m.tracker.RetireStamp(m.framesInFlight)
	img := rec.image
	m.retiring.Enqueue(stamp, func() { img.Destroy() })

	m.slots.release(rec.slot)
	m.dirtySlots[rec.slot] = SlotWrite{Slot: rec.slot, View: m.fallback.View, Sampler: m.fallback.Sampler}
	core.LogDebug("retired texture %d (slot %d, safe after serial %d)", id, rec.slot, stamp)
}

// Retiring reports the number of textures awaiting destruction.
func (m *Manager) Retiring() int {
	return m.retiring.Len()
}

// ProcessRetirements destroys every retiring texture whose stamped serial has
// completed and promotes cooled bindless slots back to the free list. Called
// once per frame with the device-observed completed serial.
func (m *Manager) ProcessRetirements(completedSerial uint64) int {
	m.slots.cool(completedSerial)
	return m.retiring.Collect(completedSerial)
}

// FlushSlotWrites applies all dirty bindless slots in one batched update.
func (m *Manager) FlushSlotWrites(w BindlessWriter) (int, error) {
	if len(m.dirtySlots) == 0 {
		return 0, nil
	}
	writes := make([]SlotWrite, 0, len(m.dirtySlots))
	for _, write := range m.dirtySlots {
		writes = append(writes, write)
	}
	sort.Slice(writes, func(i, j int) bool { return writes[i].Slot < writes[j].Slot })
	if err := w.WriteSlots(writes); err != nil {
		return 0, err
	}
	m.dirtySlots = make(map[uint32]SlotWrite)
	return len(writes), nil
}

// Shutdown destroys every tracked resource unconditionally. The caller must
// have waited for the device to go idle.
func (m *Manager) Shutdown() {
	m.retiring.Drain()
	for id, rec := range m.resident {
		rec.image.Destroy()
		delete(m.resident, id)
	}
	for _, img := range m.builtins {
		img.Destroy()
	}
	m.builtins = nil
	m.pendingOrder = nil
	m.pendingSet = make(map[AssetID]struct{})
}
