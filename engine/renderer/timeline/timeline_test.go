package timeline

import (
	"testing"
)

func TestSubmitAdvances(t *testing.T) {
	tr := New()
	if got := tr.LastSubmitted(); got != 0 {
		t.Fatalf("LastSubmitted:\nhave %v\nwant 0", got)
	}
	if got := tr.NextSerial(); got != 1 {
		t.Fatalf("NextSerial:\nhave %v\nwant 1", got)
	}
	for want := uint64(1); want <= 5; want++ {
		if got := tr.Submit(); got != want {
			t.Fatalf("Submit:\nhave %v\nwant %v", got, want)
		}
	}
	if got := tr.NextSerial(); got != 6 {
		t.Fatalf("NextSerial after submits:\nhave %v\nwant 6", got)
	}
}

func TestCompletedComparison(t *testing.T) {
	tr := New()
	for i := 0; i < 4; i++ {
		tr.Submit()
	}
	if tr.Completed(1) {
		t.Fatal("serial 1 reported complete before any observation")
	}
	tr.Observe(2)
	for serial, want := range map[uint64]bool{1: true, 2: true, 3: false, 4: false} {
		if got := tr.Completed(serial); got != want {
			t.Fatalf("Completed(%d):\nhave %v\nwant %v", serial, got, want)
		}
	}
}

func TestObserveRegressionPanics(t *testing.T) {
	tr := New()
	tr.Submit()
	tr.Submit()
	tr.Observe(2)

	defer func() {
		if recover() == nil {
			t.Fatal("Observe with a regressing serial did not panic")
		}
	}()
	tr.Observe(1)
}

func TestObserveAheadOfSubmitPanics(t *testing.T) {
	tr := New()
	tr.Submit()

	defer func() {
		if recover() == nil {
			t.Fatal("Observe ahead of submitted serial did not panic")
		}
	}()
	tr.Observe(2)
}

func TestRetireStamp(t *testing.T) {
	tr := New()
	tr.Submit() // serial 1 submitted, next is 2
	if got := tr.RetireStamp(2); got != 3 {
		t.Fatalf("RetireStamp(2):\nhave %v\nwant 3", got)
	}
	if got := tr.RetireStamp(3); got != 4 {
		t.Fatalf("RetireStamp(3):\nhave %v\nwant 4", got)
	}
}
