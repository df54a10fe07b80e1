package residency

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/keel/engine/core"
	"github.com/spaghettifunk/keel/engine/renderer/device"
	"github.com/spaghettifunk/keel/engine/renderer/transient"
)

// Buffer-to-image copy offsets must be 4-byte aligned.
const copyOffsetAlignment = 4

// UploadContext is the capability to record upload work for the frame being
// recorded. Only the frame recording path constructs one; draw-path code
// never sees it, which keeps "record a transfer" uncallable from draw code.
type UploadContext struct {
	recorder      device.Recorder
	staging       *transient.Ring
	stagingBuffer device.Buffer
	frameSlot     uint32
}

// NewUploadContext wraps the pieces a frame slot exposes during recording.
func NewUploadContext(rec device.Recorder, staging *transient.Ring, stagingBuffer device.Buffer, frameSlot uint32) UploadContext {
	core.Assert(rec != nil, "residency: upload context requires a recorder")
	core.Assert(staging != nil, "residency: upload context requires a staging ring")
	return UploadContext{recorder: rec, staging: staging, stagingBuffer: stagingBuffer, frameSlot: frameSlot}
}

// uploadLayout describes where each layer of an asset lands in staging.
type uploadLayout struct {
	layerSize    uint64
	totalSize    uint64
	layerOffsets []uint64
}

func layerByteSize(info Info) uint64 {
	f := info.Format
	if f.BlockCompressed() {
		blocksWide := uint64(info.Width+3) / 4
		blocksHigh := uint64(info.Height+3) / 4
		return blocksWide * blocksHigh * f.BlockSize()
	}
	if f == device.FormatR8 {
		return uint64(info.Width) * uint64(info.Height)
	}
	// Everything else is expanded to 4 bytes/pixel by the provider.
	return uint64(info.Width) * uint64(info.Height) * 4
}

func buildUploadLayout(info Info) uploadLayout {
	layout := uploadLayout{
		layerSize:    layerByteSize(info),
		layerOffsets: make([]uint64, 0, info.Layers),
	}
	var offset uint64
	for layer := uint32(0); layer < info.Layers; layer++ {
		offset = alignUp(offset, copyOffsetAlignment)
		layout.layerOffsets = append(layout.layerOffsets, offset)
		offset += layout.layerSize
	}
	layout.totalSize = alignUp(offset, copyOffsetAlignment)
	return layout
}

func alignUp(value, alignment uint64) uint64 {
	return (value + alignment - 1) / alignment * alignment
}

func validateInfo(id AssetID, info Info) error {
	if info.Width == 0 || info.Height == 0 {
		return fmt.Errorf("asset %d has zero extent %dx%d", id, info.Width, info.Height)
	}
	if info.Layers == 0 {
		return fmt.Errorf("asset %d has zero layers", id)
	}
	return nil
}

// errDeferred marks an asset that must stay pending for the next flush
// (staging pressure or bindless slot pressure), as opposed to a failure.
var errDeferred = errors.New("residency: deferred to next flush")

// FlushPendingUploads processes the pending queue against the staging ring's
// byte budget. Assets whose total size exceeds the entire budget are uploaded
// through the dedicated immediate path in this same call; they are neither
// requeued forever nor marked failed for being large. Assets that merely do
// not fit the remaining budget this frame stay pending. Returns the number of
// assets made resident.
func (m *Manager) FlushPendingUploads(ctx UploadContext) (int, error) {
	if len(m.pendingOrder) == 0 {
		return 0, nil
	}

	budget := ctx.staging.Capacity()
	uploaded := 0
	remaining := m.pendingOrder[:0]

	for _, id := range m.pendingOrder {
		if _, ok := m.resident[id]; ok {
			delete(m.pendingSet, id)
			continue
		}

		info, err := m.provider.Info(id)
		if err != nil {
			m.fail(id, err)
			continue
		}
		if err := validateInfo(id, info); err != nil {
			m.fail(id, err)
			continue
		}
		layout := buildUploadLayout(info)

		if layout.totalSize > budget {
			// Too large for the staging ring in any frame: dedicated
			// one-off allocation, uploaded and waited on right now.
			if err := m.uploadDedicated(id, info, layout); err != nil {
				if errors.Is(err, errDeferred) {
					remaining = append(remaining, id)
					continue
				}
				m.fail(id, err)
				continue
			}
			delete(m.pendingSet, id)
			uploaded++
			continue
		}

		if err := m.uploadStaged(ctx, id, info, layout); err != nil {
			if errors.Is(err, errDeferred) {
				remaining = append(remaining, id)
				continue
			}
			m.fail(id, err)
			continue
		}
		delete(m.pendingSet, id)
		uploaded++
	}

	m.pendingOrder = remaining
	return uploaded, nil
}

// uploadStaged stages every layer into the frame's staging ring and records
// the copies on the frame's command stream. The copies are submitted with the
// frame, before any draw that reads the texture.
func (m *Manager) uploadStaged(ctx UploadContext, id AssetID, info Info, layout uploadLayout) error {
	slot, ok := m.slots.acquire(m.tracker.CompletedSerial())
	if !ok {
		return fmt.Errorf("%w: bindless slot pressure for asset %d", errDeferred, id)
	}

	regions := make([]device.BufferImageCopy, 0, info.Layers)
	for layer := uint32(0); layer < info.Layers; layer++ {
		region, err := ctx.staging.Allocate(layout.layerSize, copyOffsetAlignment)
		if err != nil {
			// Staging pressure from earlier uploads this frame; the
			// budget check guarantees the asset fits an empty ring.
			m.slots.restore(slot)
			return fmt.Errorf("%w: staging ring pressure for asset %d: %v", errDeferred, id, err)
		}

		pixels, err := m.provider.Pixels(id, layer)
		if err != nil {
			m.slots.restore(slot)
			return fmt.Errorf("reading pixels for asset %d layer %d: %w", id, layer, err)
		}
		if uint64(len(pixels)) != layout.layerSize {
			m.slots.restore(slot)
			return fmt.Errorf("asset %d layer %d: got %d bytes, expected %d (mismatched layers?)",
				id, layer, len(pixels), layout.layerSize)
		}
		copy(ctx.staging.Bytes(region), pixels)

		regions = append(regions, device.BufferImageCopy{
			BufferOffset: region.Offset,
			Layer:        layer,
			Width:        info.Width,
			Height:       info.Height,
		})
	}

	img, err := m.dev.CreateImage(device.ImageSpec{
		Width:     info.Width,
		Height:    info.Height,
		Layers:    info.Layers,
		MipLevels: 1,
		Format:    info.Format,
		Name:      fmt.Sprintf("texture-%d", id),
	})
	if err != nil {
		m.slots.restore(slot)
		return fmt.Errorf("creating image for asset %d: %w", id, err)
	}

	ctx.recorder.CopyBufferToImage(ctx.stagingBuffer, img, regions)
	m.makeResident(id, img, slot, layout.totalSize)
	return nil
}

// uploadDedicated uploads through a one-off host-visible buffer and an
// immediate, waited-on submission. Used for assets larger than the entire
// staging budget and for the built-in textures at startup.
func (m *Manager) uploadDedicated(id AssetID, info Info, layout uploadLayout) error {
	slot, ok := m.slots.acquire(m.tracker.CompletedSerial())
	if !ok {
		return fmt.Errorf("%w: bindless slot pressure for asset %d", errDeferred, id)
	}

	staging, err := m.dev.CreateBuffer(device.BufferSpec{
		Size:        layout.totalSize,
		Usage:       device.UsageStaging,
		HostVisible: true,
		Name:        fmt.Sprintf("dedicated-upload-%d", id),
	})
	if err != nil {
		m.slots.restore(slot)
		return fmt.Errorf("dedicated staging for asset %d: %w", id, err)
	}
	defer staging.Destroy()

	regions := make([]device.BufferImageCopy, 0, info.Layers)
	window := staging.Bytes()
	for layer := uint32(0); layer < info.Layers; layer++ {
		pixels, err := m.provider.Pixels(id, layer)
		if err != nil {
			m.slots.restore(slot)
			return fmt.Errorf("reading pixels for asset %d layer %d: %w", id, layer, err)
		}
		if uint64(len(pixels)) != layout.layerSize {
			m.slots.restore(slot)
			return fmt.Errorf("asset %d layer %d: got %d bytes, expected %d (mismatched layers?)",
				id, layer, len(pixels), layout.layerSize)
		}
		offset := layout.layerOffsets[layer]
		copy(window[offset:offset+layout.layerSize], pixels)
		regions = append(regions, device.BufferImageCopy{
			BufferOffset: offset,
			Layer:        layer,
			Width:        info.Width,
			Height:       info.Height,
		})
	}

	img, err := m.dev.CreateImage(device.ImageSpec{
		Width:     info.Width,
		Height:    info.Height,
		Layers:    info.Layers,
		MipLevels: 1,
		Format:    info.Format,
		Name:      fmt.Sprintf("texture-%d", id),
	})
	if err != nil {
		m.slots.restore(slot)
		return fmt.Errorf("creating image for asset %d: %w", id, err)
	}

	if err := m.dev.ImmediateSubmit(func(rec device.Recorder) error {
		rec.CopyBufferToImage(staging, img, regions)
		return nil
	}); err != nil {
		img.Destroy()
		m.slots.restore(slot)
		return fmt.Errorf("dedicated upload for asset %d: %w", id, err)
	}

	m.makeResident(id, img, slot, layout.totalSize)
	return nil
}

func (m *Manager) makeResident(id AssetID, img device.Image, slot uint32, byteSize uint64) {
	rec := &record{
		image:    img,
		sampler:  m.defaultSampler,
		slot:     slot,
		byteSize: byteSize,
	}
	m.resident[id] = rec
	m.dirtySlots[slot] = SlotWrite{Slot: slot, View: img.View(), Sampler: rec.sampler}
	core.LogDebug("texture %d resident (slot %d, %d bytes, %d layers)",
		id, slot, byteSize, img.Spec().Layers)
}

func (m *Manager) fail(id AssetID, err error) {
	delete(m.pendingSet, id)
	m.failed[id] = fmt.Errorf("%w: %v", ErrUploadFailed, err)
	core.LogError("texture %d upload failed, draws fall back to slot 0: %v", id, err)
}
