package frame

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spaghettifunk/keel/engine/core"
	"github.com/spaghettifunk/keel/engine/renderer/binding"
	"github.com/spaghettifunk/keel/engine/renderer/device"
	"github.com/spaghettifunk/keel/engine/renderer/timeline"
)

type fakeBuffer struct {
	data      []byte
	destroyed *int
}

func (b *fakeBuffer) Destroy() {
	if b.destroyed != nil {
		*b.destroyed++
	}
}
func (b *fakeBuffer) Bytes() []byte { return b.data }
func (b *fakeBuffer) Cap() uint64   { return uint64(len(b.data)) }
func (b *fakeBuffer) Visible() bool { return true }

type fakeRecorder struct{}

func (fakeRecorder) CopyBufferToImage(device.Buffer, device.Image, []device.BufferImageCopy) {}
func (fakeRecorder) CopyBuffer(_, _ device.Buffer, _, _, _ uint64)                           {}

// fakeDevice completes serials only when waited on, which lets tests observe
// the bounded slot wait.
type fakeDevice struct {
	completed        uint64
	waits            []uint64
	waitErr          error
	buffersDestroyed int
}

func (d *fakeDevice) CreateBuffer(spec device.BufferSpec) (device.Buffer, error) {
	return &fakeBuffer{data: make([]byte, spec.Size), destroyed: &d.buffersDestroyed}, nil
}
func (d *fakeDevice) CreateImage(device.ImageSpec) (device.Image, error) {
	return nil, errors.New("not implemented")
}
func (d *fakeDevice) NewSampler(device.Sampling) (device.Sampler, error) { return struct{}{}, nil }
func (d *fakeDevice) CompletedSerial() uint64                            { return d.completed }
func (d *fakeDevice) WaitSerial(serial uint64, _ time.Duration) error {
	d.waits = append(d.waits, serial)
	if d.waitErr != nil {
		return d.waitErr
	}
	if serial > d.completed {
		d.completed = serial
	}
	return nil
}
func (d *fakeDevice) ImmediateSubmit(record func(device.Recorder) error) error {
	return record(fakeRecorder{})
}
func (d *fakeDevice) WaitIdle() {}

type fakeQueue struct {
	submitted uint64
	recording []uint32
	submits   []uint32
	submitErr error
}

func (q *fakeQueue) BeginRecording(slot uint32) (device.Recorder, error) {
	q.recording = append(q.recording, slot)
	return fakeRecorder{}, nil
}

func (q *fakeQueue) Submit(slot uint32, _ uint32) (uint64, error) {
	if q.submitErr != nil {
		return 0, q.submitErr
	}
	q.submitted++
	q.submits = append(q.submits, slot)
	return q.submitted, nil
}

type env struct {
	dev     *fakeDevice
	queue   *fakeQueue
	tl      *timeline.Tracker
	tracker *Tracker
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	if opts.FramesInFlight == 0 {
		opts.FramesInFlight = 2
	}
	if opts.UniformRingSize == 0 {
		opts.UniformRingSize = 4 << 10
	}
	if opts.VertexRingSize == 0 {
		opts.VertexRingSize = 4 << 10
	}
	if opts.StagingRingSize == 0 {
		opts.StagingRingSize = 4 << 10
	}
	dev := &fakeDevice{}
	queue := &fakeQueue{}
	tl := timeline.New()
	coord := binding.NewCoordinator(uint32(opts.FramesInFlight))
	tracker, err := NewTracker(dev, queue, tl, coord, opts)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	t.Cleanup(tracker.Destroy)
	return &env{dev: dev, queue: queue, tl: tl, tracker: tracker}
}

func (e *env) frame(t *testing.T) SubmitInfo {
	t.Helper()
	rec, err := e.tracker.BeginFrame(nil)
	if err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	info, err := e.tracker.EndFrame(rec)
	if err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
	return info
}

func TestSlotsRotateAndSerialsAdvance(t *testing.T) {
	e := newEnv(t, Options{FramesInFlight: 3})

	wantSlots := []uint32{0, 1, 2, 0, 1}
	for i, want := range wantSlots {
		info := e.frame(t)
		if info.FrameSlot != want {
			t.Fatalf("frame %d slot:\nhave %v\nwant %v", i, info.FrameSlot, want)
		}
		if info.Serial != uint64(i+1) {
			t.Fatalf("frame %d serial:\nhave %v\nwant %v", i, info.Serial, i+1)
		}
	}
	if got := e.tracker.FrameCount(); got != 5 {
		t.Fatalf("FrameCount:\nhave %v\nwant 5", got)
	}
}

func TestBeginFrameWaitsForSlotSerial(t *testing.T) {
	e := newEnv(t, Options{FramesInFlight: 2})

	// Frames 1 and 2 fit the pipeline without waiting.
	e.frame(t)
	e.frame(t)
	if len(e.dev.waits) != 0 {
		t.Fatalf("waits before the pipeline filled: %v", e.dev.waits)
	}

	// Frame 3 reuses slot 0, whose serial 1 has not completed yet.
	e.frame(t)
	if len(e.dev.waits) != 1 || e.dev.waits[0] != 1 {
		t.Fatalf("waits:\nhave %v\nwant [1]", e.dev.waits)
	}
	if got := e.tl.CompletedSerial(); got != 1 {
		t.Fatalf("observed completion:\nhave %v\nwant 1", got)
	}
}

func TestBeginFrameSkipsWaitWhenSerialCompleted(t *testing.T) {
	e := newEnv(t, Options{FramesInFlight: 2})
	e.frame(t)
	e.frame(t)
	e.dev.completed = 2

	e.frame(t)
	if len(e.dev.waits) != 0 {
		t.Fatalf("waited despite completed serial: %v", e.dev.waits)
	}
}

func TestWaitTimeoutIsFatal(t *testing.T) {
	e := newEnv(t, Options{FramesInFlight: 1})
	e.frame(t)
	e.dev.waitErr = device.ErrWaitTimeout

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("slot wait timeout did not panic")
		}
		if !strings.Contains(r.(string), "wait") {
			t.Fatalf("panic message %q does not name the wait", r)
		}
	}()
	e.tracker.BeginFrame(nil)
}

func TestBeginFrameWhileRecordingPanics(t *testing.T) {
	e := newEnv(t, Options{})
	if _, err := e.tracker.BeginFrame(nil); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("concurrent BeginFrame did not panic")
		}
	}()
	e.tracker.BeginFrame(nil)
}

func TestConsumedTokenPanics(t *testing.T) {
	e := newEnv(t, Options{})
	rec, err := e.tracker.BeginFrame(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.tracker.EndFrame(rec); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("using a consumed recording token did not panic")
		}
	}()
	rec.Recorder()
}

func TestEndFrameWithActivePassPanics(t *testing.T) {
	e := newEnv(t, Options{})
	rec, err := e.tracker.BeginFrame(nil)
	if err != nil {
		t.Fatal(err)
	}
	rec.BeginRender(Target{Kind: TargetOffscreen})
	defer func() {
		if recover() == nil {
			t.Fatal("EndFrame with an open render pass did not panic")
		}
	}()
	e.tracker.EndFrame(rec)
}

func TestRenderPassReentry(t *testing.T) {
	e := newEnv(t, Options{})
	rec, err := e.tracker.BeginFrame(nil)
	if err != nil {
		t.Fatal(err)
	}

	first := rec.BeginRender(Target{Kind: TargetOffscreen})
	first.End()
	second := rec.BeginRender(Target{Kind: TargetSwapchain, Generation: 7})
	if got := second.Target().Generation; got != 7 {
		t.Fatalf("Generation:\nhave %v\nwant 7", got)
	}
	second.End()

	if _, err := e.tracker.EndFrame(rec); err != nil {
		t.Fatal(err)
	}
}

func TestOverlappingRenderTargetsPanic(t *testing.T) {
	e := newEnv(t, Options{})
	rec, err := e.tracker.BeginFrame(nil)
	if err != nil {
		t.Fatal(err)
	}
	rec.BeginRender(Target{Kind: TargetOffscreen})
	defer func() {
		if recover() == nil {
			t.Fatal("opening a second render target did not panic")
		}
	}()
	rec.BeginRender(Target{Kind: TargetSwapchain})
}

func TestDeferredPassSequence(t *testing.T) {
	e := newEnv(t, Options{})
	rec, err := e.tracker.BeginFrame(nil)
	if err != nil {
		t.Fatal(err)
	}

	geo := rec.BeginGeometryPass(1)
	lit := geo.EndIntoLighting()
	lit.End()

	// The sequence released the target, so another pass may begin.
	p := rec.BeginRender(Target{Kind: TargetOffscreen})
	p.End()

	if _, err := e.tracker.EndFrame(rec); err != nil {
		t.Fatal(err)
	}
}

func TestLightingEndTwicePanics(t *testing.T) {
	e := newEnv(t, Options{})
	rec, err := e.tracker.BeginFrame(nil)
	if err != nil {
		t.Fatal(err)
	}
	lit := rec.BeginGeometryPass(1).EndIntoLighting()
	lit.End()
	defer func() {
		if recover() == nil {
			t.Fatal("double End of the lighting pass did not panic")
		}
	}()
	lit.End()
}

func TestAcquireSkipLeavesNoToken(t *testing.T) {
	e := newEnv(t, Options{})

	_, err := e.tracker.BeginFrame(func(uint32) (uint32, error) {
		return 0, core.ErrFrameSkipped
	})
	if !errors.Is(err, core.ErrFrameSkipped) {
		t.Fatalf("error:\nhave %v\nwant ErrFrameSkipped", err)
	}
	if len(e.queue.recording) != 0 {
		t.Fatal("recording began for a skipped frame")
	}

	// The slot was not consumed; the next attempt reuses it.
	info := e.frame(t)
	if info.FrameSlot != 0 {
		t.Fatalf("FrameSlot after skip:\nhave %v\nwant 0", info.FrameSlot)
	}
}

func TestAcquirePassesSlotAndImageIndex(t *testing.T) {
	e := newEnv(t, Options{})

	var sawSlot uint32 = 99
	rec, err := e.tracker.BeginFrame(func(slot uint32) (uint32, error) {
		sawSlot = slot
		return 3, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if sawSlot != 0 {
		t.Fatalf("acquire slot:\nhave %v\nwant 0", sawSlot)
	}
	if got := rec.ImageIndex(); got != 3 {
		t.Fatalf("ImageIndex:\nhave %v\nwant 3", got)
	}
	info, err := e.tracker.EndFrame(rec)
	if err != nil {
		t.Fatal(err)
	}
	if info.ImageIndex != 3 {
		t.Fatalf("SubmitInfo.ImageIndex:\nhave %v\nwant 3", info.ImageIndex)
	}
}

func TestAllocationsWriteThroughBackingBuffer(t *testing.T) {
	e := newEnv(t, Options{})
	rec, err := e.tracker.BeginFrame(nil)
	if err != nil {
		t.Fatal(err)
	}

	a, err := rec.AllocUniform(16, 0)
	if err != nil {
		t.Fatal(err)
	}
	copy(a.Bytes, []byte("camera-matrices!"))
	if got := string(a.Buffer.Bytes()[a.Region.Offset : a.Region.Offset+16]); got != "camera-matrices!" {
		t.Fatalf("backing window:\nhave %q\nwant %q", got, "camera-matrices!")
	}

	b, err := rec.AllocUniform(16, 0)
	if err != nil {
		t.Fatal(err)
	}
	if b.Region.Offset <= a.Region.Offset {
		t.Fatalf("second allocation offset %d does not advance past %d", b.Region.Offset, a.Region.Offset)
	}

	if _, err := e.tracker.EndFrame(rec); err != nil {
		t.Fatal(err)
	}
}

func TestArenaGrowsAtResetWhenDemandExceedsCapacity(t *testing.T) {
	e := newEnv(t, Options{FramesInFlight: 1, VertexRingSize: 1 << 10})

	rec, err := e.tracker.BeginFrame(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rec.AllocVertex(900, 0); err != nil {
		t.Fatal(err)
	}
	// Overflow the vertex arena to record demand for the next reset.
	if _, err := rec.AllocVertex(900, 0); err == nil {
		t.Fatal("expected the vertex arena to be exhausted")
	}
	if _, err := e.tracker.EndFrame(rec); err != nil {
		t.Fatal(err)
	}

	destroyedBefore := e.dev.buffersDestroyed
	rec, err = e.tracker.BeginFrame(nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.dev.buffersDestroyed != destroyedBefore+1 {
		t.Fatalf("destroyed buffers:\nhave %v\nwant %v (old arena replaced)", e.dev.buffersDestroyed, destroyedBefore+1)
	}
	// Both allocations fit the grown arena in one frame now.
	if _, err := rec.AllocVertex(900, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := rec.AllocVertex(900, 0); err != nil {
		t.Fatalf("allocation after growth: %v", err)
	}
	if _, err := e.tracker.EndFrame(rec); err != nil {
		t.Fatal(err)
	}
}

func TestSubmitSerialMismatchPanics(t *testing.T) {
	e := newEnv(t, Options{})
	// Desynchronize the queue's serials from the timeline.
	e.queue.submitted = 5

	rec, err := e.tracker.BeginFrame(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("serial mismatch between queue and timeline did not panic")
		}
	}()
	e.tracker.EndFrame(rec)
}
