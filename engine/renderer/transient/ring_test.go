package transient

import (
	"errors"
	"testing"
)

func TestAllocateMonotonicNonOverlapping(t *testing.T) {
	r := New(1024, 16)

	var prevEnd uint64
	var regions []Region
	for _, size := range []uint64{10, 100, 1, 255, 64} {
		region, err := r.Allocate(size, 0)
		if err != nil {
			t.Fatalf("Allocate(%d): %v", size, err)
		}
		if region.Offset < prevEnd {
			t.Fatalf("offset %d overlaps previous end %d", region.Offset, prevEnd)
		}
		if region.Offset%16 != 0 {
			t.Fatalf("offset %d not aligned to 16", region.Offset)
		}
		for _, other := range regions {
			if region.Offset < other.Offset+other.Size && other.Offset < region.Offset+region.Size {
				t.Fatalf("region %+v overlaps %+v", region, other)
			}
		}
		regions = append(regions, region)
		prevEnd = region.Offset + region.Size
	}
}

func TestAllocateAlignmentOverride(t *testing.T) {
	r := New(1024, 4)
	if _, err := r.Allocate(3, 0); err != nil {
		t.Fatal(err)
	}
	region, err := r.Allocate(8, 256)
	if err != nil {
		t.Fatal(err)
	}
	if region.Offset != 256 {
		t.Fatalf("Offset:\nhave %v\nwant 256", region.Offset)
	}
}

func TestExhaustionIsDeterministic(t *testing.T) {
	r := New(128, 1)
	if _, err := r.Allocate(100, 0); err != nil {
		t.Fatal(err)
	}
	_, err := r.Allocate(64, 0)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("error:\nhave %v\nwant ErrExhausted", err)
	}
	// The failed allocation must not have moved the cursor or reset it.
	if got := r.Used(); got != 100 {
		t.Fatalf("Used after failed allocation:\nhave %v\nwant 100", got)
	}
	// A smaller request that still fits must succeed at the current cursor.
	region, err := r.Allocate(28, 0)
	if err != nil {
		t.Fatal(err)
	}
	if region.Offset != 100 {
		t.Fatalf("Offset:\nhave %v\nwant 100 (no silent wrap to 0)", region.Offset)
	}
}

func TestOversizedIsDistinctFromExhausted(t *testing.T) {
	r := New(128, 1)
	_, err := r.Allocate(256, 0)
	if !errors.Is(err, ErrOversized) {
		t.Fatalf("error:\nhave %v\nwant ErrOversized", err)
	}
	if errors.Is(err, ErrExhausted) {
		t.Fatal("oversized request must not be reported as transient exhaustion")
	}
}

func TestResetAndHighWater(t *testing.T) {
	r := New(256, 1)
	if _, err := r.Allocate(200, 0); err != nil {
		t.Fatal(err)
	}
	r.Reset()
	if got := r.Used(); got != 0 {
		t.Fatalf("Used after Reset:\nhave %v\nwant 0", got)
	}
	if got := r.HighWater(); got != 200 {
		t.Fatalf("HighWater survives Reset:\nhave %v\nwant 200", got)
	}
	region, err := r.Allocate(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if region.Offset != 0 {
		t.Fatalf("Offset after Reset:\nhave %v\nwant 0", region.Offset)
	}
}

func TestDemandCountsFailedRequests(t *testing.T) {
	r := New(128, 1)
	if _, err := r.Allocate(100, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Allocate(64, 0); !errors.Is(err, ErrExhausted) {
		t.Fatal(err)
	}
	if got := r.Demand(); got != 164 {
		t.Fatalf("Demand:\nhave %v\nwant 164 (must include the failed request)", got)
	}
	if got := r.HighWater(); got != 100 {
		t.Fatalf("HighWater:\nhave %v\nwant 100 (only satisfied requests)", got)
	}
}

func TestBackedBytes(t *testing.T) {
	backing := make([]byte, 64)
	r := NewBacked(backing, 1)
	region, err := r.Allocate(8, 0)
	if err != nil {
		t.Fatal(err)
	}
	window := r.Bytes(region)
	copy(window, []byte("deadbeef"))
	if string(backing[:8]) != "deadbeef" {
		t.Fatalf("backing:\nhave %q\nwant %q", backing[:8], "deadbeef")
	}
}

func TestBytesOnUnbackedRingPanics(t *testing.T) {
	r := New(64, 1)
	region, _ := r.Allocate(8, 0)
	defer func() {
		if recover() == nil {
			t.Fatal("Bytes on an unbacked ring did not panic")
		}
	}()
	r.Bytes(region)
}
