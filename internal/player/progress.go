package player

import "github.com/prosyslab-warehouse/futatabi/internal/domain"

// infiniteClipSeconds is the duration threshold above which a
// finite clip is still treated as "infinite" for progress-reporting
// purposes: a day-long clip is effectively a live feed to an operator.
const infiniteClipSeconds = 86400.0

// CalcProgress returns pts's fractional position within clip, in [0,1) for
// a pts still inside the clip (may exceed 1 briefly during a fade-out).
func CalcProgress(clip domain.Clip, pts int64) float64 {
	return float64(pts-clip.PtsIn) / float64(clip.PtsOut-clip.PtsIn)
}

// ComputeTimeRemaining sums the remaining playback time of playlist from
// currentIdx (whose current position is inPts) to the end: infinite
// clips (open or >= 86400s) contribute to NumInfinite;
// finite clips contribute their remaining seconds, minus an overlap equal
// to the *previous* clip's min(fade_time, clip_length), since that overlap
// is spent cross-fading rather than playing serially.
func ComputeTimeRemaining(playlist domain.Playlist, currentIdx int, inPts int64) domain.TimeRemaining {
	var tr domain.TimeRemaining
	var previousOverlap float64

	for i := currentIdx; i < len(playlist); i++ {
		clip := playlist[i].Clip
		if clip.Open() || clip.Duration() >= infiniteClipSeconds {
			tr.NumInfinite++
			continue
		}

		remaining := clip.Duration()
		if i == currentIdx {
			elapsed := float64(inPts-clip.PtsIn) / float64(domain.Timebase) / clip.Speed
			remaining -= elapsed
		}
		remaining -= previousOverlap
		if remaining < 0 {
			remaining = 0
		}
		tr.Seconds += remaining

		overlap := clip.FadeTime
		if clip.Duration() < overlap {
			overlap = clip.Duration()
		}
		previousOverlap = overlap
	}
	return tr
}
