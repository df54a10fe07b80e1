package present

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/keel/engine/core"
	"github.com/spaghettifunk/keel/engine/renderer/device"
)

type fakeSurface struct {
	width, height uint32
	images        uint32
	next          uint32

	acquireErrs []error
	presentErr  error
	recreateErr error

	acquires  int
	presents  []uint32
	recreates int
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{width: 800, height: 600, images: 3}
}

func (s *fakeSurface) Acquire(uint32) (uint32, error) {
	s.acquires++
	if len(s.acquireErrs) > 0 {
		err := s.acquireErrs[0]
		s.acquireErrs = s.acquireErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	idx := s.next
	s.next = (s.next + 1) % s.images
	return idx, nil
}

func (s *fakeSurface) Present(_ uint32, imageIndex uint32) error {
	s.presents = append(s.presents, imageIndex)
	return s.presentErr
}

func (s *fakeSurface) Recreate(width, height uint32) error {
	s.recreates++
	if s.recreateErr != nil {
		return s.recreateErr
	}
	s.width, s.height = width, height
	return nil
}

func (s *fakeSurface) Extent() (uint32, uint32) { return s.width, s.height }
func (s *fakeSurface) ImageCount() uint32       { return s.images }

func TestAcquirePresentRoundTrip(t *testing.T) {
	surf := newFakeSurface()
	l := New(surf, func() (uint32, uint32) { return 800, 600 })

	token, err := l.Acquire(0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if token.Generation() != 1 {
		t.Fatalf("Generation:\nhave %v\nwant 1", token.Generation())
	}
	if err := l.Present(0, token); err != nil {
		t.Fatalf("Present: %v", err)
	}
	if len(surf.presents) != 1 || surf.presents[0] != token.Index() {
		t.Fatalf("presents:\nhave %v\nwant [%d]", surf.presents, token.Index())
	}
}

func TestOutOfDateAcquireRecreatesAndRetriesOnce(t *testing.T) {
	surf := newFakeSurface()
	surf.acquireErrs = []error{device.ErrOutOfDate}
	l := New(surf, surf.Extent)

	token, err := l.Acquire(0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if surf.recreates != 1 {
		t.Fatalf("recreates:\nhave %v\nwant 1", surf.recreates)
	}
	if surf.acquires != 2 {
		t.Fatalf("acquires:\nhave %v\nwant 2 (exactly one retry)", surf.acquires)
	}
	if got := token.Generation(); got != 2 {
		t.Fatalf("Generation after recreate:\nhave %v\nwant 2", got)
	}
}

func TestZeroExtentSkipsFrame(t *testing.T) {
	surf := newFakeSurface()
	surf.acquireErrs = []error{device.ErrOutOfDate}
	l := New(surf, func() (uint32, uint32) { return 0, 0 }) // minimized window

	_, err := l.Acquire(0)
	if !errors.Is(err, core.ErrFrameSkipped) {
		t.Fatalf("error:\nhave %v\nwant ErrFrameSkipped", err)
	}
	if surf.recreates != 0 {
		t.Fatal("attempted to recreate a zero-sized swapchain")
	}
	if l.Generation() != 1 {
		t.Fatalf("Generation changed on a skipped frame:\nhave %v\nwant 1", l.Generation())
	}
}

func TestStillOutOfDateAfterRecreateSkipsInsteadOfLooping(t *testing.T) {
	surf := newFakeSurface()
	surf.acquireErrs = []error{device.ErrOutOfDate, device.ErrOutOfDate}
	l := New(surf, surf.Extent)

	_, err := l.Acquire(0)
	if !errors.Is(err, core.ErrFrameSkipped) {
		t.Fatalf("error:\nhave %v\nwant ErrFrameSkipped", err)
	}
	if surf.acquires != 2 {
		t.Fatalf("acquires:\nhave %v\nwant 2 (no retry loop)", surf.acquires)
	}
}

func TestInvalidateRecreatesBeforeNextAcquire(t *testing.T) {
	surf := newFakeSurface()
	l := New(surf, surf.Extent)

	l.Invalidate()
	token, err := l.Acquire(0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if surf.recreates != 1 {
		t.Fatalf("recreates:\nhave %v\nwant 1", surf.recreates)
	}
	if token.Generation() != 2 {
		t.Fatalf("Generation:\nhave %v\nwant 2", token.Generation())
	}
}

func TestStaleGenerationPresentPanics(t *testing.T) {
	surf := newFakeSurface()
	l := New(surf, surf.Extent)

	token, err := l.Acquire(0)
	if err != nil {
		t.Fatal(err)
	}
	l.Invalidate()
	if _, err := l.Acquire(1); err != nil { // bumps the generation
		t.Fatal(err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("presenting a stale-generation token did not panic")
		}
	}()
	l.Present(0, token)
}

func TestDoublePresentPanics(t *testing.T) {
	surf := newFakeSurface()
	l := New(surf, surf.Extent)

	token, err := l.Acquire(0)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Present(0, token); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("presenting a token twice did not panic")
		}
	}()
	l.Present(0, token)
}

func TestOutOfDatePresentMarksStale(t *testing.T) {
	surf := newFakeSurface()
	l := New(surf, surf.Extent)

	token, err := l.Acquire(0)
	if err != nil {
		t.Fatal(err)
	}
	surf.presentErr = device.ErrOutOfDate
	if err := l.Present(0, token); err != nil {
		t.Fatalf("out-of-date present must not be an error, got %v", err)
	}
	surf.presentErr = nil

	if _, err := l.Acquire(1); err != nil {
		t.Fatal(err)
	}
	if surf.recreates != 1 {
		t.Fatalf("recreates:\nhave %v\nwant 1 (deferred to next acquire)", surf.recreates)
	}
}

func TestLayoutCacheDiscardedOnRecreate(t *testing.T) {
	surf := newFakeSurface()
	l := New(surf, surf.Extent)

	token, err := l.Acquire(0)
	if err != nil {
		t.Fatal(err)
	}
	l.SetLayout(token, LayoutPresent)
	if got := l.Layout(token); got != LayoutPresent {
		t.Fatalf("Layout:\nhave %v\nwant LayoutPresent", got)
	}
	if err := l.Present(0, token); err != nil {
		t.Fatal(err)
	}

	surf.next = token.Index() // force the same image index after recreation
	l.Invalidate()
	fresh, err := l.Acquire(1)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Index() != token.Index() {
		t.Fatalf("test setup: image index %d != %d", fresh.Index(), token.Index())
	}
	if got := l.Layout(fresh); got != LayoutUndefined {
		t.Fatalf("Layout after recreate:\nhave %v\nwant LayoutUndefined", got)
	}
}

func TestStaleTokenLayoutAccessPanics(t *testing.T) {
	surf := newFakeSurface()
	l := New(surf, surf.Extent)

	token, err := l.Acquire(0)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Present(0, token); err != nil {
		t.Fatal(err)
	}
	l.Invalidate()
	if _, err := l.Acquire(1); err != nil {
		t.Fatal(err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("layout access through a stale token did not panic")
		}
	}()
	l.Layout(token)
}
