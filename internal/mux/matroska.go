package mux

import (
	"bytes"
	"fmt"
	"math"
	"sync"

	"github.com/prosyslab-warehouse/futatabi/internal/domain"
)

// Track numbers are fixed for the lifetime of a Muxer.
const (
	trackVideo    = 1
	trackAudio    = 2
	trackSubtitle = 3

	// maxClusterSpanMs bounds how long a cluster accumulates blocks before
	// being flushed, so a consumer joining mid-stream never waits more than
	// this long for the next cluster boundary.
	maxClusterSpanMs = 200
)

// WriteFunc receives one self-contained chunk of muxed bytes: either the
// init segment (emitted once, first) or a completed cluster. keyframe is
// true when the chunk contains at least one video key frame, which the
// output muxer treats every MJPEG frame as (there is no inter-frame
// prediction in motion JPEG).
type WriteFunc func(chunk []byte, keyframe bool)

// Muxer assembles ORIGINAL/FADED/INTERPOLATED video frames, PCM audio, and
// optional subtitle text into a Matroska container: MJPEG video, PCM_S32LE
// audio, chroma location overridden to "left" (FFmpeg's JFIF default is
// "center"; frame_on_disk.h's byte layout requires the override),
// timebase {1, TIMEBASE}. Safe for concurrent use; callers are still expected
// to serialize per-stream writes themselves since mux order is significant
// (subtitle packets for frame F must precede F's video packet).
type Muxer struct {
	mu            sync.Mutex
	width, height uint32
	withAudio     bool
	withSubtitle  bool
	write         WriteFunc

	wroteInit      bool
	clusterOpen    bool
	clusterStartMs int64
	clusterIsKey   bool
	blocks         bytes.Buffer

	baseMs  int64
	baseSet bool
}

// New creates a Muxer. withAudio/withSubtitle control whether the init
// segment advertises an audio or subtitle track at all; omitting unused
// tracks keeps the container simpler for codecs that never produce them.
func New(width, height uint32, withAudio, withSubtitle bool, write WriteFunc) *Muxer {
	return &Muxer{
		width:        width,
		height:       height,
		withAudio:    withAudio,
		withSubtitle: withSubtitle,
		write:        write,
	}
}

func (m *Muxer) ptsToMs(pts int64) int64 {
	if !m.baseSet {
		m.baseMs = pts * 1000 / domain.Timebase
		m.baseSet = true
	}
	return pts*1000/domain.Timebase - m.baseMs
}

func (m *Muxer) ensureInit() {
	if m.wroteInit {
		return
	}
	m.wroteInit = true
	m.write(m.initSegment(), false)
}

func (m *Muxer) initSegment() []byte {
	var buf bytes.Buffer

	header := ebmlConcat(
		ebmlElem(idEBMLVersion, ebmlUint(1)),
		ebmlElem(idEBMLReadVer, ebmlUint(1)),
		ebmlElem(idEBMLMaxIDLen, ebmlUint(4)),
		ebmlElem(idEBMLMaxSzLen, ebmlUint(8)),
		ebmlElem(idDocType, []byte("matroska")),
		ebmlElem(idDocTypeVer, ebmlUint(4)),
		ebmlElem(idDocTypeRdVer, ebmlUint(2)),
	)
	buf.Write(ebmlElem(idEBML, header))

	buf.Write(idSegment)
	buf.Write(ebmlUnknownSize)

	info := ebmlConcat(
		ebmlElem(idTcScale, ebmlUint(1_000_000)), // TimecodeScale: 1ms per tick
		ebmlElem(idMuxApp, []byte("futatabi")),
		ebmlElem(idWrtApp, []byte("futatabi")),
	)
	buf.Write(ebmlElem(idInfo, info))

	colour := ebmlElem(idColour, ebmlElem(idChromaSLoc, ebmlUint(1))) // 1 = left
	videoBody := ebmlConcat(
		ebmlElem(idPixelW, ebmlUint(uint64(m.width))),
		ebmlElem(idPixelH, ebmlUint(uint64(m.height))),
		colour,
	)
	videoEntry := ebmlConcat(
		ebmlElem(idTrackNum, ebmlUint(trackVideo)),
		ebmlElem(idTrackUID, ebmlUint(trackVideo)),
		ebmlElem(idTrackType, ebmlUint(1)), // 1 = video
		ebmlElem(idCodecID, []byte("V_MJPEG")),
		ebmlElem(idVideo, videoBody),
	)
	tracksBody := ebmlElem(idTrackEntry, videoEntry)

	if m.withAudio {
		audioBody := ebmlConcat(
			ebmlElem(idSampFreq, ebmlFloat64(48000)),
			ebmlElem(idChannels, ebmlUint(2)),
			ebmlElem(idBitDepth, ebmlUint(32)),
		)
		audioEntry := ebmlConcat(
			ebmlElem(idTrackNum, ebmlUint(trackAudio)),
			ebmlElem(idTrackUID, ebmlUint(trackAudio)),
			ebmlElem(idTrackType, ebmlUint(2)), // 2 = audio
			ebmlElem(idCodecID, []byte("A_PCM/INT/LIT")),
			ebmlElem(idAudio, audioBody),
		)
		tracksBody = ebmlConcat(tracksBody, ebmlElem(idTrackEntry, audioEntry))
	}

	if m.withSubtitle {
		subEntry := ebmlConcat(
			ebmlElem(idTrackNum, ebmlUint(trackSubtitle)),
			ebmlElem(idTrackUID, ebmlUint(trackSubtitle)),
			ebmlElem(idTrackType, ebmlUint(0x11)), // 0x11 = subtitle
			ebmlElem(idCodecID, []byte("S_TEXT/UTF8")),
		)
		tracksBody = ebmlConcat(tracksBody, ebmlElem(idTrackEntry, subEntry))
	}
	buf.Write(ebmlElem(idTracks, tracksBody))
	return buf.Bytes()
}

// WriteVideoPacket writes one MJPEG frame at the given pts (Timebase
// ticks). Every MJPEG frame is a key frame.
func (m *Muxer) WriteVideoPacket(pts int64, jpegData []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureInit()
	ms := m.ptsToMs(pts)
	m.openClusterIfNeeded(ms)
	m.blocks.Write(simpleBlock(trackVideo, int16(ms-m.clusterStartMs), true, jpegData))
	m.clusterIsKey = true
	return m.flushIfDue(ms)
}

// WriteAudioPacket writes one interleaved stereo s32le PCM chunk at pts.
func (m *Muxer) WriteAudioPacket(pts int64, pcm []byte) error {
	if !m.withAudio {
		return fmt.Errorf("mux: audio track not enabled")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureInit()
	ms := m.ptsToMs(pts)
	m.openClusterIfNeeded(ms)
	m.blocks.Write(simpleBlock(trackAudio, int16(ms-m.clusterStartMs), false, pcm))
	return m.flushIfDue(ms)
}

// WriteSubtitlePacket writes one subtitle text cue at pts. Callers must call
// this before WriteVideoPacket for the frame the subtitle describes, since
// mux byte order is the only ordering guarantee downstream consumers get.
func (m *Muxer) WriteSubtitlePacket(pts int64, text string) error {
	if !m.withSubtitle {
		return fmt.Errorf("mux: subtitle track not enabled")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureInit()
	ms := m.ptsToMs(pts)
	m.openClusterIfNeeded(ms)
	m.blocks.Write(simpleBlock(trackSubtitle, int16(ms-m.clusterStartMs), false, []byte(text)))
	return nil
}

func (m *Muxer) openClusterIfNeeded(ms int64) {
	if !m.clusterOpen {
		m.clusterOpen = true
		m.clusterStartMs = ms
		m.clusterIsKey = false
		m.blocks.Reset()
	}
}

func (m *Muxer) flushIfDue(ms int64) error {
	if ms-m.clusterStartMs < maxClusterSpanMs {
		return nil
	}
	return m.flushLocked()
}

// Flush forces the current cluster to be emitted even if it hasn't reached
// maxClusterSpanMs yet, so the HP layer can push out whatever has
// accumulated when the pipeline goes idle.
func (m *Muxer) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked()
}

func (m *Muxer) flushLocked() error {
	if !m.clusterOpen || m.blocks.Len() == 0 {
		m.clusterOpen = false
		return nil
	}
	tc := ebmlElem(idTimecode, ebmlUint(uint64(m.clusterStartMs)))
	cluster := ebmlElem(idCluster, ebmlConcat(tc, m.blocks.Bytes()))
	m.write(cluster, m.clusterIsKey)
	m.clusterOpen = false
	return nil
}

func simpleBlock(trackNum int, relMs int16, keyframe bool, data []byte) []byte {
	trackVint := ebmlVint(uint64(trackNum))
	content := make([]byte, len(trackVint)+2+1+len(data))
	copy(content, trackVint)
	content[len(trackVint)] = byte(uint16(relMs) >> 8)
	content[len(trackVint)+1] = byte(uint16(relMs))
	if keyframe {
		content[len(trackVint)+2] = 0x80
	}
	copy(content[len(trackVint)+3:], data)
	return ebmlElem(idSimpleBlock, content)
}

func ebmlFloat64(f float64) []byte {
	bits := make([]byte, 8)
	u := math.Float64bits(f)
	for i := 7; i >= 0; i-- {
		bits[i] = byte(u)
		u >>= 8
	}
	return bits
}
