// Package mux assembles decoded frames into an output container (Matroska,
// MJPEG+PCM+subtitles) and optionally wraps every write in Metacube2 framing
// for self-synchronizing HTTP delivery.
package mux

import "bytes"

// ebmlVint encodes v as an EBML variable-length integer, used for element
// sizes. Valid range: 0..268435454 (4-byte encoding is enough for any
// element this muxer ever writes).
func ebmlVint(v uint64) []byte {
	switch {
	case v < 0x7F:
		return []byte{byte(0x80 | v)}
	case v < 0x3FFF:
		return []byte{byte(0x40 | (v >> 8)), byte(v)}
	case v < 0x1FFFFF:
		return []byte{byte(0x20 | (v >> 16)), byte(v >> 8), byte(v)}
	default:
		return []byte{byte(0x10 | (v >> 24)), byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

// ebmlUnknownSize is the 8-byte marker for a Segment/Cluster whose length is
// not known up front, which is always true here since we stream live.
var ebmlUnknownSize = []byte{0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

func ebmlElem(id, data []byte) []byte {
	b := make([]byte, 0, len(id)+8+len(data))
	b = append(b, id...)
	b = append(b, ebmlVint(uint64(len(data)))...)
	return append(b, data...)
}

// ebmlUint encodes v in the minimal number of big-endian bytes.
func ebmlUint(v uint64) []byte {
	if v == 0 {
		return []byte{0}
	}
	n := 0
	for x := v; x > 0; x >>= 8 {
		n++
	}
	b := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// ebmlInt encodes a signed integer the same way ebmlUint does, by widening
// to its two's-complement unsigned representation at the same byte width.
func ebmlInt(v int64) []byte {
	if v >= 0 {
		return ebmlUint(uint64(v))
	}
	return ebmlUint(uint64(v) & 0xFFFFFFFFFFFFFF) // 7 bytes max, ample headroom
}

func ebmlConcat(slices ...[]byte) []byte {
	var buf bytes.Buffer
	for _, s := range slices {
		buf.Write(s)
	}
	return buf.Bytes()
}

// EBML element IDs used by this muxer. Track numbers are fixed: 1=video,
// 2=audio, 3=subtitle.
var (
	idEBML         = []byte{0x1A, 0x45, 0xDF, 0xA3}
	idEBMLVersion  = []byte{0x42, 0x86}
	idEBMLReadVer  = []byte{0x42, 0xF7}
	idEBMLMaxIDLen = []byte{0x42, 0xF2}
	idEBMLMaxSzLen = []byte{0x42, 0xF3}
	idDocType      = []byte{0x42, 0x82}
	idDocTypeVer   = []byte{0x42, 0x87}
	idDocTypeRdVer = []byte{0x42, 0x85}

	idSegment = []byte{0x18, 0x53, 0x80, 0x67}

	idInfo     = []byte{0x15, 0x49, 0xA9, 0x66}
	idTcScale  = []byte{0x2A, 0xD7, 0xB1}
	idMuxApp   = []byte{0x4D, 0x80}
	idWrtApp   = []byte{0x57, 0x41}

	idTracks      = []byte{0x16, 0x54, 0xAE, 0x6B}
	idTrackEntry  = []byte{0xAE}
	idTrackNum    = []byte{0xD7}
	idTrackUID    = []byte{0x73, 0xC5}
	idTrackType   = []byte{0x83}
	idCodecID     = []byte{0x86}
	idVideo       = []byte{0xE0}
	idPixelW      = []byte{0xB0}
	idPixelH      = []byte{0xBA}
	idColour      = []byte{0x55, 0xB0}
	idChromaSLoc  = []byte{0x55, 0xB7}
	idAudio       = []byte{0xE1}
	idSampFreq    = []byte{0xB5}
	idChannels    = []byte{0x9F}
	idBitDepth    = []byte{0x62, 0x64}

	idCluster     = []byte{0x1F, 0x43, 0xB6, 0x75}
	idTimecode    = []byte{0xE7}
	idSimpleBlock = []byte{0xA3}
)
