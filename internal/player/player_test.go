package player

import (
	"context"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/prosyslab-warehouse/futatabi/internal/domain"
)

type fakeStore struct {
	pts map[uint32][]int64
}

func newFakeStore() *fakeStore { return &fakeStore{pts: make(map[uint32][]int64)} }

func (s *fakeStore) Append(streamIdx uint32, pts int64, video, audio []byte) (domain.FrameRef, error) {
	s.pts[streamIdx] = append(s.pts[streamIdx], pts)
	return domain.FrameRef{PTS: pts}, nil
}

func (s *fakeStore) Surrounding(streamIdx uint32, pts int64) (lower, upper domain.FrameRef, ok bool) {
	arr := s.pts[streamIdx]
	if len(arr) == 0 {
		return domain.FrameRef{}, domain.FrameRef{}, false
	}
	i := sort.Search(len(arr), func(i int) bool { return arr[i] >= pts })
	if i < len(arr) && arr[i] == pts {
		return domain.FrameRef{PTS: pts}, domain.FrameRef{PTS: pts}, true
	}
	var lo, hi int64
	var haveLo, haveHi bool
	if i > 0 {
		lo, haveLo = arr[i-1], true
	}
	if i < len(arr) {
		hi, haveHi = arr[i], true
	}
	if !haveLo {
		lo = hi
	}
	if !haveHi {
		hi = lo
	}
	return domain.FrameRef{PTS: lo}, domain.FrameRef{PTS: hi}, true
}

func (s *fakeStore) FirstAtOrAfter(streamIdx uint32, pts int64) (domain.FrameRef, bool) {
	arr := s.pts[streamIdx]
	i := sort.Search(len(arr), func(i int) bool { return arr[i] >= pts })
	if i >= len(arr) {
		return domain.FrameRef{}, false
	}
	return domain.FrameRef{PTS: arr[i]}, true
}

func (s *fakeStore) LastBefore(streamIdx uint32, pts int64) (domain.FrameRef, bool) {
	arr := s.pts[streamIdx]
	i := sort.Search(len(arr), func(i int) bool { return arr[i] >= pts })
	if i == 0 {
		return domain.FrameRef{}, false
	}
	return domain.FrameRef{PTS: arr[i-1]}, true
}

func (s *fakeStore) StreamLen(streamIdx uint32) int { return len(s.pts[streamIdx]) }

func (s *fakeStore) FrameAt(streamIdx uint32, i int) (domain.FrameRef, bool) {
	arr := s.pts[streamIdx]
	if i < 0 || i >= len(arr) {
		return domain.FrameRef{}, false
	}
	return domain.FrameRef{PTS: arr[i]}, true
}

type scheduledCall struct {
	kind   domain.FrameKind
	outPts int64
	alpha  float64
}

type fakeVS struct {
	calls []scheduledCall
}

func (v *fakeVS) ScheduleOriginal(localPts time.Time, outPts int64, ref domain.FrameRef, subtitle string, includeAudio bool) error {
	v.calls = append(v.calls, scheduledCall{kind: domain.KindOriginal, outPts: outPts})
	return nil
}

func (v *fakeVS) ScheduleFaded(localPts time.Time, outPts int64, ref1, ref2 domain.FrameRef, alpha float64, subtitle string) error {
	v.calls = append(v.calls, scheduledCall{kind: domain.KindFaded, outPts: outPts, alpha: alpha})
	return nil
}

func (v *fakeVS) ScheduleInterpolated(localPts time.Time, outPts int64, ref1, ref2 domain.FrameRef, alpha float64, secondary *domain.FrameRef, fadeAlpha float64, subtitle string, includeAudio bool) error {
	kind := domain.KindInterpolated
	if secondary != nil {
		kind = domain.KindFadedInterpolated
	}
	v.calls = append(v.calls, scheduledCall{kind: kind, outPts: outPts, alpha: alpha})
	return nil
}

func (v *fakeVS) ScheduleRefresh(localPts time.Time, outPts int64, subtitle string) error {
	v.calls = append(v.calls, scheduledCall{kind: domain.KindRefresh, outPts: outPts})
	return nil
}

func (v *fakeVS) ScheduleSilence(localPts time.Time, outPts int64, lengthPts int64) error {
	v.calls = append(v.calls, scheduledCall{kind: domain.KindSilence, outPts: outPts})
	return nil
}

func (v *fakeVS) QueueDepth() int    { return 0 }
func (v *fakeVS) MaxQueueDepth() int { return 64 }

func TestScenarioS1PurePassthrough(t *testing.T) {
	const fps = 60.0
	store := newFakeStore()
	for i := 0; i < 120; i++ {
		store.pts[0] = append(store.pts[0], int64(i)*domain.Timebase/fps)
	}
	vs := &fakeVS{}
	p := New(store, vs, fps, slog.Default())

	playlist := domain.Playlist{{
		ID:   1,
		Clip: domain.Clip{PtsIn: 0, PtsOut: 24000000, StreamIdx: 0, Speed: 1.0},
	}}
	start := time.Unix(0, 0)
	p.Play(playlist, start)

	for i := 0; i < 120; i++ {
		if err := p.Step(context.Background(), start); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}

	if len(vs.calls) != 120 {
		t.Fatalf("expected 120 scheduled frames, got %d", len(vs.calls))
	}
	for i, c := range vs.calls {
		if c.kind != domain.KindOriginal {
			t.Fatalf("call %d: expected ORIGINAL, got %v", i, c.kind)
		}
		wantOutPts := int64(i) * domain.Timebase / fps
		if c.outPts != wantOutPts {
			t.Fatalf("call %d: outPts got %d, want %d", i, c.outPts, wantOutPts)
		}
	}
}

func TestScenarioS2HalfSpeedInterpolatesOddFrames(t *testing.T) {
	const fps = 60.0
	store := newFakeStore()
	for i := 0; i < 120; i++ {
		store.pts[0] = append(store.pts[0], int64(i)*domain.Timebase/fps)
	}
	vs := &fakeVS{}
	p := New(store, vs, fps, slog.Default())

	playlist := domain.Playlist{{
		ID:   1,
		Clip: domain.Clip{PtsIn: 0, PtsOut: 24000000, StreamIdx: 0, Speed: 0.5},
	}}
	start := time.Unix(0, 0)
	p.Play(playlist, start)

	for i := 0; i < 240; i++ {
		if err := p.Step(context.Background(), start); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}

	originals, interpolated := 0, 0
	for _, c := range vs.calls {
		switch c.kind {
		case domain.KindOriginal:
			originals++
		case domain.KindInterpolated:
			interpolated++
		}
	}
	if originals == 0 {
		t.Fatal("expected at least some ORIGINAL (snapped) frames at half speed")
	}
	if interpolated == 0 {
		t.Fatal("expected at least some INTERPOLATED frames at half speed")
	}
}

func TestScenarioS3CrossfadeIntoNextClip(t *testing.T) {
	const fps = 60.0
	store := newFakeStore()

	// Clip 1's footage is a 50fps recording on stream 0, so it never lands
	// exactly on the 60fps output grid: every output frame needs
	// interpolation, which lets the cross-fade ride along on the
	// already-interpolated path.
	for i := 0; i <= 50; i++ {
		store.pts[0] = append(store.pts[0], int64(i)*domain.Timebase/50)
	}
	// Clip 2 is a different camera (stream 1), its own 50fps footage.
	for i := 0; i <= 50; i++ {
		store.pts[1] = append(store.pts[1], int64(i)*domain.Timebase/50)
	}

	vs := &fakeVS{}
	p := New(store, vs, fps, slog.Default())

	playlist := domain.Playlist{
		{ID: 1, Clip: domain.Clip{PtsIn: 0, PtsOut: domain.Timebase, StreamIdx: 0, Speed: 1.0, FadeTime: 0.2}},
		{ID: 2, Clip: domain.Clip{PtsIn: 0, PtsOut: domain.Timebase, StreamIdx: 1, Speed: 1.0}},
	}
	start := time.Unix(0, 0)
	p.Play(playlist, start)

	sawFadedInterpolated := false
	for i := 0; i < 70; i++ {
		if err := p.Step(context.Background(), start); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
		if len(vs.calls) > 0 && vs.calls[len(vs.calls)-1].kind == domain.KindFadedInterpolated {
			sawFadedInterpolated = true
		}
	}

	if !sawFadedInterpolated {
		t.Fatal("expected at least one FADED_INTERPOLATED frame during the cross-fade window into clip 2")
	}
}
