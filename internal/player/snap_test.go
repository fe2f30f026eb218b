package player

import "testing"

func TestTrySnapToOriginalFrame(t *testing.T) {
	d := TrySnap(1000, 990, 2000, 15)
	if !d.Snapped {
		t.Fatalf("expected a snap to the nearby lower frame, got %+v", d)
	}
	if d.InPts != 990 {
		t.Fatalf("expected snap InPts=990, got %d", d.InPts)
	}
}

func TestTrySnapToUpperFrame(t *testing.T) {
	d := TrySnap(1995, 0, 2000, 10)
	if !d.Snapped || d.InPts != 2000 {
		t.Fatalf("expected a snap to the upper frame, got %+v", d)
	}
}

func TestTrySnapSubFraction(t *testing.T) {
	// Halfway between 0 and 1000 is 500; tolerance wide enough to hit it,
	// narrow enough to miss the endpoints.
	d := TrySnap(505, 0, 1000, 10)
	if d.Snapped {
		t.Fatalf("did not expect a full snap, got %+v", d)
	}
	if !d.SubSnapped || d.InPts != 500 {
		t.Fatalf("expected a sub-snap to the midpoint, got %+v", d)
	}
}

func TestTrySnapNoneWithinTolerance(t *testing.T) {
	// 510 is 10 ticks from the nearest ladder point (1/2 at 500), far
	// outside a tolerance of 1.
	d := TrySnap(510, 0, 1000, 1)
	if d.Snapped || d.SubSnapped {
		t.Fatalf("expected no snap decision, got %+v", d)
	}
	if d.InPts != 510 {
		t.Fatalf("expected InPts unchanged at 510, got %d", d.InPts)
	}
}

func TestTrySnapEqualBoundsNoSubSnap(t *testing.T) {
	d := TrySnap(50, 100, 100, 1)
	if d.Snapped || d.SubSnapped {
		t.Fatalf("expected no snap when bounds are equal and out of tolerance, got %+v", d)
	}
}
