// Package player implements the timeline scheduler (PL): clip playback,
// master-speed easing, frame snapping, cross-fades, splicing and progress
// reporting. It owns no GPU state; it drives an ports.VideoStream to
// schedule output frames and reads frame references from a
// ports.FrameStore.
package player

import (
	"math"
	"time"

	"github.com/prosyslab-warehouse/futatabi/internal/domain"
)

// Instant is one sampled point on the timeline: a wall-clock time paired
// with the in_pts/out_pts/frameno it corresponds to.
type Instant struct {
	Wallclock time.Time
	InPts     int64
	OutPts    int64
	FrameNo   int64
}

// TimelineTracker tracks the (wallclock, in_pts, out_pts, frameno) origin of
// the currently playing clip and re-bases it whenever a non-linearity
// occurs (new clip, completed ease, snap), matching the source's
// TimelineTracker.
type TimelineTracker struct {
	masterSpeed float64
	clip        *domain.Clip
	origin      Instant
	lastOutPts  int64

	inEasing        bool
	easeStartedPts  int64
	masterSpeedEase float64
	easeLengthPts   int64
}

// NewTimelineTracker creates a tracker starting at outPtsOrigin with the
// given initial master speed.
func NewTimelineTracker(masterSpeed float64, outPtsOrigin int64) *TimelineTracker {
	return &TimelineTracker{
		masterSpeed:     masterSpeed,
		masterSpeedEase: masterSpeed,
		origin:          Instant{OutPts: outPtsOrigin},
		lastOutPts:      outPtsOrigin,
	}
}

// NewClip rebases the tracker's origin for the start of a new clip, at
// frameno 0, starting at clip.PtsIn plus startPtsOffset.
func (t *TimelineTracker) NewClip(wallclockOrigin time.Time, clip *domain.Clip, startPtsOffset int64) {
	t.clip = clip
	t.origin = Instant{
		Wallclock: wallclockOrigin,
		InPts:     clip.PtsIn + startPtsOffset,
		OutPts:    t.lastOutPts,
		FrameNo:   0,
	}
}

// InPtsOrigin returns the in_pts the tracker currently rebases from.
func (t *TimelineTracker) InPtsOrigin() int64 { return t.origin.InPts }

// PlayingAtNormalSpeed reports whether the effective speed (clip speed
// times master speed) is within 0.1% of 1.0 and no ease is in progress.
func (t *TimelineTracker) PlayingAtNormalSpeed() bool {
	if t.inEasing || t.clip == nil {
		return false
	}
	effective := t.clip.Speed * t.masterSpeed
	return effective >= 0.999 && effective <= 1.001
}

// SnapBy nudges the in_pts origin by offset, used once a snap decision has
// been made. A no-op while easing, so a snap's jitter doesn't disturb an
// ease aiming to land on a frame at its very end.
func (t *TimelineTracker) SnapBy(offset int64) {
	if t.inEasing {
		return
	}
	t.origin.InPts += offset
}

// AdvanceToFrame computes the Instant for output frameno, given the output
// frame rate in frames/sec, applying any in-progress ease adjustment and
// ending the ease once its length has elapsed.
func (t *TimelineTracker) AdvanceToFrame(frameno int64, outputFramerate float64) Instant {
	inPtsDouble := float64(t.origin.InPts) + float64(domain.Timebase)*t.clip.Speed*float64(frameno-t.origin.FrameNo)*t.masterSpeed/outputFramerate
	outPtsDouble := float64(t.origin.OutPts) + float64(domain.Timebase)*float64(frameno-t.origin.FrameNo)/outputFramerate

	if t.inEasing {
		inPtsDouble += t.easingOutPtsAdjustment(outPtsDouble) * t.clip.Speed
	}

	ret := Instant{
		InPts:   lrint(inPtsDouble),
		OutPts:  lrint(outPtsDouble),
		FrameNo: frameno,
	}
	ret.Wallclock = t.origin.Wallclock.Add(time.Duration(lrint((outPtsDouble-float64(t.origin.OutPts))*1e6/float64(domain.Timebase))) * time.Microsecond)
	t.lastOutPts = ret.OutPts

	if t.inEasing && ret.OutPts >= t.easeStartedPts+t.easeLengthPts {
		t.origin.OutPts += int64(t.easingOutPtsAdjustment(outPtsDouble))
		t.ChangeMasterSpeed(t.masterSpeedEase, ret)
		t.inEasing = false
	}

	return ret
}

// ChangeMasterSpeed applies new speed effective immediately, rebasing the
// origin to now since all advancement math assumes linear interpolation at
// a single fixed speed since the last rebase.
func (t *TimelineTracker) ChangeMasterSpeed(newMasterSpeed float64, now Instant) {
	t.masterSpeed = newMasterSpeed
	t.origin = now
}

// StartEasing begins a linear ramp from the current master speed to
// newMasterSpeed over lengthOutPts of output pts, starting at now.
func (t *TimelineTracker) StartEasing(newMasterSpeed float64, lengthOutPts int64, now Instant) {
	if t.inEasing {
		t.origin.OutPts += int64(t.easingOutPtsAdjustment(float64(now.OutPts)))
		reached := t.masterSpeed + (t.masterSpeedEase-t.masterSpeed)*t.findEaseT(float64(now.OutPts))
		t.ChangeMasterSpeed(reached, now)
	}
	t.inEasing = true
	t.easeStartedPts = now.OutPts
	t.masterSpeedEase = newMasterSpeed
	t.easeLengthPts = lengthOutPts
}

func (t *TimelineTracker) findEaseT(outPts float64) float64 {
	return (outPts - float64(t.easeStartedPts)) / float64(t.easeLengthPts)
}

func (t *TimelineTracker) easingOutPtsAdjustment(outPts float64) float64 {
	tt := t.findEaseT(outPts)
	areaFactor := (t.masterSpeedEase - t.masterSpeed) * float64(t.easeLengthPts)
	clamped := math.Min(tt, 1.0)
	val := 0.5 * clamped * clamped * areaFactor
	if tt > 1.0 {
		val += areaFactor * (tt - 1.0)
	}
	return val
}

// FindEasingLength picks the ease length (in output pts) closest to
// desiredLengthOutPts, subject to the constraint that the ease ends exactly
// on an original input frame of frames (a stream's FrameRef index sorted by
// pts), searching output-frame offsets in [-2,2] and input-frame offsets in
// [-2,2]. Falls back to desiredLengthOutPts if no candidate within 2 seconds
// is found.
func (t *TimelineTracker) FindEasingLength(masterSpeedTarget float64, desiredLengthOutPts int64, framePts []int64, now Instant, outputFramerate float64) int64 {
	inPtsLength := 0.5 * (masterSpeedTarget + t.masterSpeed) * float64(desiredLengthOutPts) * t.clip.Speed
	inputFrameNum := firstAtOrAfterIndex(framePts, lrint(float64(now.InPts)+inPtsLength))

	frameLength := float64(domain.Timebase) / outputFramerate
	lengthOutFrames := lrint(float64(desiredLengthOutPts) / frameLength)

	bestLengthOutPts := domain.Timebase * 10
	for outputFrameOffset := -2; outputFrameOffset <= 2; outputFrameOffset++ {
		aimLengthOutPts := lrint(float64(lengthOutFrames+int64(outputFrameOffset)) * frameLength)
		if aimLengthOutPts < 0 {
			continue
		}
		for inputFrameOffset := -2; inputFrameOffset <= 2; inputFrameOffset++ {
			idx := inputFrameNum + inputFrameOffset
			if idx < 0 || idx >= len(framePts) {
				continue
			}
			inPts := framePts[idx]
			shortenByOutPts := (2.0*float64(inPts-now.InPts)/t.clip.Speed - (masterSpeedTarget+t.masterSpeed)*float64(aimLengthOutPts)) / (masterSpeedTarget - t.masterSpeed)
			lengthOutPts := lrint(float64(aimLengthOutPts) - shortenByOutPts)

			if lengthOutPts >= 0 && absInt64(lengthOutPts-desiredLengthOutPts) < absInt64(bestLengthOutPts-desiredLengthOutPts) {
				bestLengthOutPts = lengthOutPts
			}
		}
	}

	if bestLengthOutPts > domain.Timebase*2 {
		return desiredLengthOutPts
	}
	return bestLengthOutPts
}

func lrint(f float64) int64 {
	return int64(math.Round(f))
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// firstAtOrAfterIndex returns the index of the first entry in the
// ascending-sorted pts slice that is >= query, or len(pts) if none is.
func firstAtOrAfterIndex(pts []int64, query int64) int {
	lo, hi := 0, len(pts)
	for lo < hi {
		mid := (lo + hi) / 2
		if pts[mid] < query {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
