package player

import "github.com/prosyslab-warehouse/futatabi/internal/domain"

// FadeDecision describes how to render one output frame during a
// cross-fade between the current clip and the next one.
type FadeDecision struct {
	// Fading is true once the remaining duration of the current clip has
	// dropped to or below the fade window.
	Fading bool
	// Alpha is the cross-fade mix factor in [0,1): 0 is all-current,
	// approaching 1 is all-next.
	Alpha float64
	// PrimaryIsNext reports whether the *next* clip's stream should be
	// treated as primary (the one interpolation runs on) for this frame,
	// per the documented cross-fade primary/secondary swap convention:
	// the swap happens once Alpha reaches 0.5, mirroring the source's
	// secondary_stream_idx swap at the fade's midpoint. Player.Step does
	// not act on it: interpolation always runs on the current clip's
	// frames, with the next clip's frame as the fade target.
	PrimaryIsNext bool
}

// FadeWindow returns the fade window (seconds) for a transition out of
// current into next: the smallest of current's fade_time, current's own
// duration, and next's duration.
func FadeWindow(current, next domain.Clip) float64 {
	window := current.FadeTime
	if d := current.Duration(); d >= 0 && d < window {
		window = d
	}
	if d := next.Duration(); d >= 0 && d < window {
		window = d
	}
	return window
}

// EvaluateFade decides the fade state for the current clip given
// timeLeftSeconds until it ends and the fade window computed by FadeWindow.
func EvaluateFade(timeLeftSeconds, fadeWindow float64) FadeDecision {
	if fadeWindow <= 0 || timeLeftSeconds > fadeWindow {
		return FadeDecision{}
	}
	alpha := 1.0 - timeLeftSeconds/fadeWindow
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return FadeDecision{Fading: true, Alpha: alpha, PrimaryIsNext: alpha >= 0.5}
}
