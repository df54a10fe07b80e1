package timeline

import "testing"

func TestCollectGatesOnSerial(t *testing.T) {
	var q ReleaseQueue
	destroyed := 0
	q.Enqueue(5, func() { destroyed++ })

	// Simulate the GPU crawling toward the retire serial: no destruction
	// may be observed before it completes.
	for completed := uint64(0); completed < 5; completed++ {
		if n := q.Collect(completed); n != 0 {
			t.Fatalf("Collect(%d) released %d entries before retire serial", completed, n)
		}
	}
	if destroyed != 0 {
		t.Fatalf("destroyed:\nhave %v\nwant 0", destroyed)
	}

	if n := q.Collect(5); n != 1 {
		t.Fatalf("Collect(5):\nhave %v\nwant 1", n)
	}
	if destroyed != 1 {
		t.Fatalf("destroyed:\nhave %v\nwant 1", destroyed)
	}

	// Exactly once: further collects must not re-run the callback.
	if n := q.Collect(10); n != 0 {
		t.Fatalf("Collect(10) after release:\nhave %v\nwant 0", n)
	}
	if destroyed != 1 {
		t.Fatalf("destroyed after second collect:\nhave %v\nwant 1", destroyed)
	}
}

func TestCollectKeepsLaterEntries(t *testing.T) {
	var q ReleaseQueue
	var order []int
	q.Enqueue(2, func() { order = append(order, 2) })
	q.Enqueue(7, func() { order = append(order, 7) })
	q.Enqueue(3, func() { order = append(order, 3) })

	q.Collect(3)
	if len(order) != 2 || order[0] != 2 || order[1] != 3 {
		t.Fatalf("released order:\nhave %v\nwant [2 3]", order)
	}
	if q.Len() != 1 {
		t.Fatalf("Len:\nhave %v\nwant 1", q.Len())
	}
}

func TestDrainReleasesEverything(t *testing.T) {
	var q ReleaseQueue
	destroyed := 0
	q.Enqueue(100, func() { destroyed++ })
	q.Enqueue(200, func() { destroyed++ })

	if n := q.Drain(); n != 2 {
		t.Fatalf("Drain:\nhave %v\nwant 2", n)
	}
	if destroyed != 2 || q.Len() != 0 {
		t.Fatalf("after Drain: destroyed=%v len=%v", destroyed, q.Len())
	}
}
