package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prosyslab-warehouse/futatabi/internal/domain"
	"github.com/prosyslab-warehouse/futatabi/internal/domain/ports"
)

// easeLength is the nominal master-speed ease length: 200ms
const easeLength = domain.Timebase / 5

// refreshInterval is how often PL schedules a REFRESH frame while idle, so
// downstream HTTP consumers keep a live session.
const refreshInterval = 100 * time.Millisecond

// Player is the timeline scheduler (PL). It owns one goroutine (driven by
// repeated calls to Step from that goroutine, mirroring the source's single
// player thread) and is otherwise safe to call from other goroutines to
// change state (Play, SplicePlay, SetMasterSpeed, OverrideAngle).
type Player struct {
	fs     ports.FrameStore
	vs     ports.VideoStream
	logger *slog.Logger
	fps    float64

	mu                sync.Mutex
	playlist          domain.Playlist
	clipIdx           int
	playing           bool
	pauseStatus       string
	masterSpeedTarget float64
	overrideStreamIdx *uint32
	lastPlayedPts     int64
	lastRefresh       time.Time

	// timeline is nil until Play is called; it is the single source of
	// truth for the currently effective master speed (including whatever
	// an in-progress ease has reached).
	timeline   *TimelineTracker
	frameno    int64
	idleOutPts int64

	onDone     func()
	onProgress func(domain.Progress, domain.TimeRemaining)
}

// New creates a Player driving vs (the video stream pipeline) by reading
// frames from fs, at the given output frame rate (frames/sec).
func New(fs ports.FrameStore, vs ports.VideoStream, fps float64, logger *slog.Logger) *Player {
	return &Player{
		fs:                fs,
		vs:                vs,
		logger:            logger,
		fps:               fps,
		masterSpeedTarget: 1.0,
		pauseStatus:       "PAUSED",
	}
}

// OnDone registers a callback invoked once the playlist is exhausted.
func (p *Player) OnDone(f func()) { p.onDone = f }

// OnProgress registers a callback invoked after every scheduled frame with
// the current per-clip progress map and time remaining.
func (p *Player) OnProgress(f func(domain.Progress, domain.TimeRemaining)) { p.onProgress = f }

// Play replaces the current playlist and starts playing it from the start,
// clearing any pending splice.
func (p *Player) Play(playlist domain.Playlist, wallclockNow time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playlist = playlist
	p.clipIdx = 0
	p.frameno = 0
	p.playing = len(playlist) > 0
	if p.playing {
		clip := &p.playlist[0].Clip
		p.timeline = NewTimelineTracker(p.masterSpeedTarget, 0)
		p.timeline.NewClip(wallclockNow, clip, 0)
	}
}

// SplicePlay merges newList into the currently playing playlist per
// splice algorithm, preserving whatever has already played
// or is playing.
func (p *Player) SplicePlay(newList domain.Playlist) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing || len(p.playlist) == 0 {
		p.playlist = newList
		return
	}
	p.playlist = Splice(newList, p.playlist, p.clipIdx, -1)
}

// SetMasterSpeed begins easing the master speed to newSpeed over ~200ms,
// timed to land on an original input frame
func (p *Player) SetMasterSpeed(newSpeed float64, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.masterSpeedTarget = newSpeed
	if p.timeline == nil || p.clipIdx >= len(p.playlist) {
		return
	}
	clip := p.playlist[p.clipIdx].Clip
	instant := p.timeline.AdvanceToFrame(p.frameno, p.fps)

	var framePts []int64
	if n := p.fs.StreamLen(clip.StreamIdx); n > 0 {
		framePts = make([]int64, n)
		for i := 0; i < n; i++ {
			ref, _ := p.fs.FrameAt(clip.StreamIdx, i)
			framePts[i] = ref.PTS
		}
	}
	length := int64(easeLength)
	if len(framePts) > 0 {
		length = p.timeline.FindEasingLength(newSpeed, easeLength, framePts, instant, p.fps)
	}
	p.timeline.StartEasing(newSpeed, length, instant)
}

// OverrideAngle switches the stream used for the currently playing (or
// about-to-play) clip to streamIdx, or if idle displays the closest frame
// in that stream to the last played position as a still (// "Angle override").
func (p *Player) OverrideAngle(streamIdx uint32) (domain.FrameRef, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		p.overrideStreamIdx = &streamIdx
		return domain.FrameRef{}, false
	}
	lower, upper, ok := p.fs.Surrounding(streamIdx, p.lastPlayedPts)
	if !ok {
		return domain.FrameRef{}, false
	}
	ref := lower
	if lower.Empty() || (!upper.Empty() && upper.PTS-p.lastPlayedPts < p.lastPlayedPts-lower.PTS) {
		ref = upper
	}
	p.idleOutPts += domain.Timebase / 10
	if err := p.vs.ScheduleOriginal(time.Now(), p.idleOutPts, ref, p.pauseStatus, false); err != nil {
		p.logger.Warn("angle override schedule failed", slog.Any("error", err))
	}
	return ref, true
}

// Progress returns the current fractional progress of every clip still
// queued.
func (p *Player) Progress(inPts int64) domain.Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	progress := make(domain.Progress, len(p.playlist)-p.clipIdx)
	for i := p.clipIdx; i < len(p.playlist); i++ {
		clip := p.playlist[i]
		if i == p.clipIdx {
			progress[clip.ID] = CalcProgress(clip.Clip, inPts)
		} else {
			progress[clip.ID] = 0
		}
	}
	return progress
}

// TimeRemaining reports how much of the remaining playlist is left to
// play, from the current clip's position.
func (p *Player) TimeRemaining(inPts int64) domain.TimeRemaining {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clipIdx >= len(p.playlist) {
		return domain.TimeRemaining{}
	}
	return ComputeTimeRemaining(p.playlist, p.clipIdx, inPts)
}

// Step advances playback by one output frame at wall-clock time now,
// scheduling exactly one frame via vs (or a REFRESH/idle no-op if there is
// nothing to play). It is meant to be called in a tight loop from the
// player's owning goroutine; ctx governs the FrameStore/DecodeCache calls it
// makes indirectly through vs.
func (p *Player) Step(ctx context.Context, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.playing || p.clipIdx >= len(p.playlist) {
		return p.stepIdle(now)
	}

	clip := p.playlist[p.clipIdx].Clip
	if p.overrideStreamIdx != nil {
		clip.StreamIdx = *p.overrideStreamIdx
		p.overrideStreamIdx = nil
	}

	instant := p.timeline.AdvanceToFrame(p.frameno, p.fps)
	p.frameno++

	lower, upper, ok := p.fs.Surrounding(clip.StreamIdx, instant.InPts)
	if !ok {
		// Nothing ingested yet for this stream; hold with a refresh.
		return p.scheduleRefresh(instant, now)
	}

	tolerance := 0.01 * float64(domain.Timebase) * clip.Speed / p.fps
	decision := TrySnap(instant.InPts, lower.PTS, upper.PTS, tolerance)
	inPts := instant.InPts
	if decision.Snapped {
		p.timeline.SnapBy(decision.Offset)
		inPts = decision.InPts
	} else if decision.SubSnapped {
		inPts = decision.InPts
	}

	ref := lower
	if decision.Snapped {
		ref = lower
		if decision.InPts == upper.PTS {
			ref = upper
		}
	}

	p.lastPlayedPts = inPts
	subtitle := p.subtitle(inPts)

	fadeDecision, secondary := p.evaluateFadeAt(inPts)

	var err error
	switch {
	case decision.Snapped:
		err = p.vs.ScheduleOriginal(instant.Wallclock, instant.OutPts, ref, subtitle, true)
	case lower.PTS == upper.PTS:
		err = p.vs.ScheduleOriginal(instant.Wallclock, instant.OutPts, lower, subtitle, true)
	case fadeDecision.Fading && secondary != nil:
		err = p.vs.ScheduleInterpolated(instant.Wallclock, instant.OutPts, lower, upper, fractionBetween(lower.PTS, upper.PTS, inPts), secondary, fadeDecision.Alpha, subtitle, true)
	default:
		err = p.vs.ScheduleInterpolated(instant.Wallclock, instant.OutPts, lower, upper, fractionBetween(lower.PTS, upper.PTS, inPts), nil, 0, subtitle, true)
	}
	if err != nil {
		p.logger.Warn("schedule failed", slog.Any("error", err))
	}

	if CalcProgress(clip, inPts) >= 1.0 {
		p.advanceClip(now)
	}

	if p.onProgress != nil {
		p.onProgress(p.progressLocked(inPts), ComputeTimeRemaining(p.playlist, p.clipIdx, inPts))
	}
	return err
}

func (p *Player) progressLocked(inPts int64) domain.Progress {
	progress := make(domain.Progress, len(p.playlist)-p.clipIdx)
	for i := p.clipIdx; i < len(p.playlist); i++ {
		clip := p.playlist[i]
		if i == p.clipIdx {
			progress[clip.ID] = CalcProgress(clip.Clip, inPts)
		} else {
			progress[clip.ID] = 0
		}
	}
	return progress
}

// evaluateFadeAt decides whether the current clip is in its cross-fade
// window into the next clip, and if so returns the next clip's surrounding
// frame to fade toward.
func (p *Player) evaluateFadeAt(inPts int64) (FadeDecision, *domain.FrameRef) {
	if p.clipIdx+1 >= len(p.playlist) {
		return FadeDecision{}, nil
	}
	current := p.playlist[p.clipIdx].Clip
	next := p.playlist[p.clipIdx+1].Clip
	if current.Open() {
		return FadeDecision{}, nil
	}
	timeLeft := float64(current.PtsOut-inPts) / float64(domain.Timebase) / current.Speed
	window := FadeWindow(current, next)
	decision := EvaluateFade(timeLeft, window)
	if !decision.Fading {
		return decision, nil
	}
	_, upper, ok := p.fs.Surrounding(next.StreamIdx, next.PtsIn)
	if !ok {
		return decision, nil
	}
	return decision, &upper
}

func (p *Player) advanceClip(now time.Time) {
	p.clipIdx++
	if p.clipIdx >= len(p.playlist) {
		p.playing = false
		if p.onDone != nil {
			p.onDone()
		}
		return
	}
	clip := &p.playlist[p.clipIdx].Clip
	p.timeline.NewClip(now, clip, 0)
	p.frameno = 0
}

func (p *Player) stepIdle(now time.Time) error {
	if now.Sub(p.lastRefresh) < refreshInterval {
		return nil
	}
	p.lastRefresh = now
	p.idleOutPts += domain.Timebase / 10 // refreshInterval in TIMEBASE ticks
	return p.vs.ScheduleRefresh(now, p.idleOutPts, p.pauseStatus)
}

func (p *Player) scheduleRefresh(instant Instant, now time.Time) error {
	return p.vs.ScheduleRefresh(instant.Wallclock, instant.OutPts, p.pauseStatus)
}

func (p *Player) subtitle(inPts int64) string {
	tr := ComputeTimeRemaining(p.playlist, p.clipIdx, inPts)
	numClips := len(p.playlist) - p.clipIdx
	return fmt.Sprintf("PLAYING;%s left", tr.Format(numClips))
}

// fractionBetween returns pts's position between lower and upper as a
// fraction in [0,1], or 0 if lower==upper.
func fractionBetween(lower, upper, pts int64) float64 {
	if upper == lower {
		return 0
	}
	return float64(pts-lower) / float64(upper-lower)
}
