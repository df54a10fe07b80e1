package timeline

// ReleaseQueue defers resource destruction until the GPU provably finished
// every submission that may reference the resource. "Safe to reclaim" is
// always the comparison completedSerial >= retireSerial, never a flag.
type ReleaseQueue struct {
	entries []releaseEntry
}

type releaseEntry struct {
	retireSerial uint64
	release      func()
}

// Enqueue registers a release callback to run once retireSerial completes.
func (q *ReleaseQueue) Enqueue(retireSerial uint64, release func()) {
	q.entries = append(q.entries, releaseEntry{retireSerial: retireSerial, release: release})
}

// Collect runs and removes every entry whose retire serial has completed.
// Each entry runs exactly once. Returns the number of entries released.
func (q *ReleaseQueue) Collect(completedSerial uint64) int {
	released := 0
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.retireSerial <= completedSerial {
			e.release()
			released++
		} else {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	return released
}

// Drain releases everything regardless of serial. Shutdown only, after the
// device has gone idle.
func (q *ReleaseQueue) Drain() int {
	released := len(q.entries)
	for _, e := range q.entries {
		e.release()
	}
	q.entries = nil
	return released
}

// Len returns the number of pending entries.
func (q *ReleaseQueue) Len() int {
	return len(q.entries)
}
