package player

import "math"

// subSnapFractions are the rational sub-fractions checked between two
// surrounding input frames when no frame itself is close enough to snap to.
// Snapping to these as well as to original frames reduces cumulative phase
// drift for conversions like 25fps -> 2x59.94fps, where an exact-frame snap
// would otherwise occur only once every several dozen output frames.
var subSnapFractions = []float64{
	1.0 / 2.0, 1.0 / 3.0, 2.0 / 3.0, 1.0 / 4.0, 3.0 / 4.0,
	1.0 / 5.0, 2.0 / 5.0, 3.0 / 5.0, 4.0 / 5.0,
}

// SnapDecision is the outcome of trying to snap in_pts to an original frame
// or a rational sub-fraction between two surrounding frames.
type SnapDecision struct {
	// Snapped is true if in_pts was replaced outright by an original
	// frame's pts (display as ORIGINAL, no interpolation needed).
	Snapped bool
	// SubSnapped is true if in_pts was nudged to a rational sub-fraction
	// between lower and upper (still requires interpolation at the new,
	// exact alpha).
	SubSnapped bool
	// InPts is the (possibly adjusted) in_pts after this decision.
	InPts int64
	// Offset is the amount in_pts moved by; SnapBy should be called with
	// this on the owning TimelineTracker when Snapped is true (SubSnapped
	// does not rebase the timeline, since it still needs interpolation).
	Offset int64
}

// TrySnap attempts to lock inPts to lowerPts or upperPts (the frames
// surrounding it) when within tolerance, then falls back to the rational
// sub-fraction ladder. tolerance is typically
// 0.01 * TIMEBASE * clip.speed / outputFramerate (1% of an output frame).
func TrySnap(inPts, lowerPts, upperPts int64, tolerance float64) SnapDecision {
	for _, framePts := range []int64{lowerPts, upperPts} {
		if math.Abs(float64(framePts-inPts)) < tolerance {
			return SnapDecision{Snapped: true, InPts: framePts, Offset: framePts - inPts}
		}
	}

	if lowerPts == upperPts {
		return SnapDecision{InPts: inPts}
	}

	for _, fraction := range subSnapFractions {
		subsnapPts := float64(lowerPts) + fraction*float64(upperPts-lowerPts)
		if math.Abs(subsnapPts-float64(inPts)) < tolerance {
			snapped := lrint(subsnapPts)
			return SnapDecision{SubSnapped: true, InPts: snapped, Offset: snapped - inPts}
		}
	}

	return SnapDecision{InPts: inPts}
}
