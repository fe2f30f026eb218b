package player

import (
	"testing"
	"time"

	"github.com/prosyslab-warehouse/futatabi/internal/domain"
)

func TestAdvanceToFrameNormalSpeed(t *testing.T) {
	clip := &domain.Clip{PtsIn: 0, PtsOut: domain.Timebase, Speed: 1.0}
	tl := NewTimelineTracker(1.0, 0)
	tl.NewClip(time.Unix(0, 0), clip, 0)

	const fps = 60.0
	inst := tl.AdvanceToFrame(1, fps)
	wantInPts := int64(domain.Timebase / fps)
	if inst.InPts != wantInPts {
		t.Fatalf("InPts: got %d, want %d", inst.InPts, wantInPts)
	}
	if inst.OutPts != wantInPts {
		t.Fatalf("OutPts: got %d, want %d (1x speed)", inst.OutPts, wantInPts)
	}
}

func TestAdvanceToFrameHalfSpeed(t *testing.T) {
	clip := &domain.Clip{PtsIn: 0, PtsOut: domain.Timebase, Speed: 0.5}
	tl := NewTimelineTracker(1.0, 0)
	tl.NewClip(time.Unix(0, 0), clip, 0)

	const fps = 60.0
	inst := tl.AdvanceToFrame(2, fps)
	wantOutPts := int64(2 * domain.Timebase / fps)
	wantInPts := int64(0.5 * float64(wantOutPts))
	if inst.OutPts != wantOutPts {
		t.Fatalf("OutPts: got %d, want %d", inst.OutPts, wantOutPts)
	}
	if inst.InPts != wantInPts {
		t.Fatalf("InPts: got %d, want %d (half speed)", inst.InPts, wantInPts)
	}
}

func TestPlayingAtNormalSpeed(t *testing.T) {
	clip := &domain.Clip{PtsIn: 0, PtsOut: domain.Timebase, Speed: 1.0}
	tl := NewTimelineTracker(1.0, 0)
	tl.NewClip(time.Unix(0, 0), clip, 0)
	if !tl.PlayingAtNormalSpeed() {
		t.Fatal("expected normal speed at 1.0x1.0")
	}

	tl2 := NewTimelineTracker(0.5, 0)
	tl2.NewClip(time.Unix(0, 0), clip, 0)
	if tl2.PlayingAtNormalSpeed() {
		t.Fatal("did not expect normal speed at 0.5x master")
	}
}

func TestStartEasingEndsAfterLength(t *testing.T) {
	clip := &domain.Clip{PtsIn: 0, PtsOut: domain.Timebase * 10, Speed: 1.0}
	tl := NewTimelineTracker(1.0, 0)
	tl.NewClip(time.Unix(0, 0), clip, 0)

	const fps = 60.0
	now := tl.AdvanceToFrame(0, fps)
	tl.StartEasing(0.5, domain.Timebase/5, now) // 200ms ease to half speed

	if !tl.inEasing {
		t.Fatal("expected inEasing to be true right after StartEasing")
	}

	// Step forward until comfortably past the ease length in out_pts.
	var lastInst Instant
	for f := int64(1); f < 30; f++ {
		lastInst = tl.AdvanceToFrame(f, fps)
	}
	if tl.inEasing {
		t.Fatal("expected easing to have completed by 0.5s of output time")
	}
	if tl.masterSpeed != 0.5 {
		t.Fatalf("expected master speed to have settled at 0.5, got %v", tl.masterSpeed)
	}
	_ = lastInst
}

func TestFindEasingLengthPrefersDesiredWhenFramesAlign(t *testing.T) {
	clip := &domain.Clip{PtsIn: 0, PtsOut: domain.Timebase * 10, Speed: 1.0}
	tl := NewTimelineTracker(1.0, 0)
	tl.NewClip(time.Unix(0, 0), clip, 0)

	const fps = 60.0
	now := tl.AdvanceToFrame(0, fps)

	// Frames exactly on the output cadence: easing should find a length
	// very close to the desired 200ms without needing much adjustment.
	frames := make([]int64, 600)
	for i := range frames {
		frames[i] = int64(i) * domain.Timebase / fps
	}

	length := tl.FindEasingLength(0.5, domain.Timebase/5, frames, now, fps)
	if length < 0 {
		t.Fatalf("expected a non-negative ease length, got %d", length)
	}
	if length > domain.Timebase*2 {
		t.Fatalf("expected the ease length to stay within the 2s cap, got %d", length)
	}
}

func TestFirstAtOrAfterIndex(t *testing.T) {
	pts := []int64{0, 10, 20, 30}
	if got := firstAtOrAfterIndex(pts, 15); got != 2 {
		t.Fatalf("got %d, want 2", got)
	}
	if got := firstAtOrAfterIndex(pts, 30); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
	if got := firstAtOrAfterIndex(pts, 31); got != 4 {
		t.Fatalf("got %d, want 4 (past the end)", got)
	}
}
