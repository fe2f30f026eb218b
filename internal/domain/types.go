package domain

import "fmt"

const (
	// Timebase is the fixed integer tick rate used for every pts in the
	// system. It is highly composite so that common frame rates (24, 25,
	// 30, 50, 60, 59.94, ...) divide it exactly.
	Timebase int64 = 12_000_000

	// MaxStreams bounds the number of simultaneous camera feeds.
	MaxStreams = 16

	// FramesPerFile is the number of records a single frame file holds
	// before a new one is sealed and started.
	FramesPerFile = 1000

	// FrameFileMagic is the 8-byte marker prefixing every record.
	FrameFileMagic = "Ftbifrm0"
)

// FrameRef is an immutable on-disk locator for one video frame and its
// trailing audio chunk. It is created once at ingest and never mutated.
type FrameRef struct {
	PTS       int64  // presentation timestamp, in Timebase ticks
	FileIdx   uint32 // index into the catalog's file table
	Offset    uint64 // byte offset of the record within that file
	VideoSize uint32 // bytes of MJPEG following the header
	AudioSize uint32 // bytes of interleaved stereo s32le PCM following the video
}

// Empty reports whether the ref is the zero value, standing in for "no
// frame" in surrounding()-style lookups that may not find a bound.
func (f FrameRef) Empty() bool {
	return f == FrameRef{}
}

func (f FrameRef) String() string {
	return fmt.Sprintf("FrameRef{pts=%d file=%d off=%d v=%d a=%d}", f.PTS, f.FileIdx, f.Offset, f.VideoSize, f.AudioSize)
}

// Clip describes one edited segment of one stream: an in/out point, a
// per-clip speed multiplier, and a fade duration applied against its
// neighbors.
type Clip struct {
	PtsIn        int64
	PtsOut       int64 // -1 means open (plays to the live edge)
	StreamIdx    uint32
	Speed        float64 // > 0
	FadeTime     float64 // seconds
	Descriptions [MaxStreams]string
}

// Open reports whether the clip has no fixed out point.
func (c Clip) Open() bool {
	return c.PtsOut == -1
}

// Duration returns the clip's nominal length in seconds at its own speed,
// or -1 if the clip is open. A Speed of zero or below counts as 1.
func (c Clip) Duration() float64 {
	if c.Open() {
		return -1
	}
	ticks := c.PtsOut - c.PtsIn
	if ticks < 0 {
		ticks = 0
	}
	d := float64(ticks) / float64(Timebase)
	if c.Speed > 0 {
		d /= c.Speed
	}
	return d
}

// ClipWithID pairs a Clip with an identity stable across edits, used as
// the splice point identity in Player.SplicePlay.
type ClipWithID struct {
	Clip
	ID uint64
}

// FrameKind classifies one output frame scheduled by the player, mirroring
// VS's QueuedFrame tagged union.
type FrameKind int

const (
	KindOriginal FrameKind = iota
	KindFaded
	KindInterpolated
	KindFadedInterpolated
	KindRefresh
	KindSilence
)

func (k FrameKind) String() string {
	switch k {
	case KindOriginal:
		return "original"
	case KindFaded:
		return "faded"
	case KindInterpolated:
		return "interpolated"
	case KindFadedInterpolated:
		return "faded_interpolated"
	case KindRefresh:
		return "refresh"
	case KindSilence:
		return "silence"
	default:
		return "unknown"
	}
}

// Playlist is an ordered sequence of clips to be played back-to-back.
type Playlist []ClipWithID

// Progress maps a clip id to fractional playback progress in [0,1].
type Progress map[uint64]float64

// TimeRemaining summarizes how much playlist is left to play.
type TimeRemaining struct {
	NumInfinite int     // count of clips with no fixed duration
	Seconds     float64 // remaining seconds across finite clips
}

// Format renders the remaining time the way the subtitle/status track
// does: "M:SS.mmm" (minutes, seconds, milliseconds), optionally prefixed
// with a clip count when more than one clip remains.
func (t TimeRemaining) Format(numClips int) string {
	totalMs := int64(t.Seconds*1000 + 0.5)
	base := fmt.Sprintf("%d:%02d.%03d", totalMs/60000, (totalMs/1000)%60, totalMs%1000)
	if t.NumInfinite > 0 {
		base += "+"
	}
	switch {
	case numClips <= 1:
		return base
	case numClips == 1:
		return "1 clip " + base
	default:
		return fmt.Sprintf("%d clips %s", numClips, base)
	}
}
