package mux

import "encoding/binary"

// Metacube2 is a self-synchronizing framing format wrapped around arbitrary
// mux bytes so an HTTP consumer that joins mid-stream (or that drops and
// resumes) can resynchronize by scanning for the sync word, rather than
// depending on TCP segment boundaries lining up with container boundaries.
//
// Wire layout of one block header (16 bytes, all multi-byte fields network
// byte order / big-endian):
//
//	8 bytes  sync word ("Metacube")
//	4 bytes  size (payload length, not including this header)
//	2 bytes  flags
//	2 bytes  CRC-16 of the header with the CRC field itself zeroed
const (
	metacubeHeaderLen = 16

	// FlagHeader marks the very first block of a stream: the muxer's init
	// segment, which a client must have before decoding anything else.
	FlagHeader uint16 = 1 << 0
	// FlagKeyframe marks a block containing (or starting with) a video key
	// frame.
	FlagKeyframe uint16 = 1 << 4
	// FlagMetadata marks a block carrying out-of-band metadata (next-block
	// pts, encoder timestamp) rather than mux bytes.
	FlagMetadata uint16 = 1 << 6
)

var metacubeSync = [8]byte{'M', 'e', 't', 'a', 'c', 'u', 'b', 'e'}

// MetadataNextBlockPts is written immediately before a key frame block so a
// client can start decoding from the right presentation timestamp.
type MetadataNextBlockPts struct {
	Pts            int64
	TimebaseNumer  int32
	TimebaseDenom  int32
}

// MetadataEncoderTimestamp records wall-clock encode time for latency
// measurement by downstream consumers.
type MetadataEncoderTimestamp struct {
	TvSec  int64
	TvNsec int64
}

const (
	metadataTypeNextBlockPts      uint16 = 1
	metadataTypeEncoderTimestamp  uint16 = 2
)

// EncodeBlock wraps payload in a Metacube2 header. keyframe/header set the
// corresponding flag bits.
func EncodeBlock(payload []byte, header, keyframe bool) []byte {
	var flags uint16
	if header {
		flags |= FlagHeader
	}
	if keyframe {
		flags |= FlagKeyframe
	}
	return encodeFramed(payload, flags)
}

// EncodeNextBlockPts encodes a NEXT_BLOCK_PTS metadata block, written just
// before the key frame block it describes.
func EncodeNextBlockPts(m MetadataNextBlockPts) []byte {
	body := make([]byte, 2+8+4+4)
	binary.BigEndian.PutUint16(body[0:2], metadataTypeNextBlockPts)
	binary.BigEndian.PutUint64(body[2:10], uint64(m.Pts))
	binary.BigEndian.PutUint32(body[10:14], uint32(m.TimebaseNumer))
	binary.BigEndian.PutUint32(body[14:18], uint32(m.TimebaseDenom))
	return encodeFramed(body, FlagMetadata)
}

// EncodeEncoderTimestamp encodes an ENCODER_TIMESTAMP metadata block,
// written at each key frame.
func EncodeEncoderTimestamp(m MetadataEncoderTimestamp) []byte {
	body := make([]byte, 2+8+8)
	binary.BigEndian.PutUint16(body[0:2], metadataTypeEncoderTimestamp)
	binary.BigEndian.PutUint64(body[2:10], uint64(m.TvSec))
	binary.BigEndian.PutUint64(body[10:18], uint64(m.TvNsec))
	return encodeFramed(body, FlagMetadata)
}

func encodeFramed(payload []byte, flags uint16) []byte {
	block := make([]byte, metacubeHeaderLen+len(payload))
	copy(block[0:8], metacubeSync[:])
	binary.BigEndian.PutUint32(block[8:12], uint32(len(payload)))
	binary.BigEndian.PutUint16(block[12:14], flags)
	// CRC field (block[14:16]) is computed over the header with itself
	// zeroed, then patched in; the payload is not covered, matching the
	// wire format's role as a block-boundary integrity check rather than a
	// full-stream checksum.
	crc := metacubeCRC(block[:metacubeHeaderLen])
	binary.BigEndian.PutUint16(block[14:16], crc)
	return block
}

// metacubeCRC computes the CRC-16/CCITT-FALSE of hdr, treating the trailing
// 2-byte CRC field (already zeroed by the caller) as part of the covered
// range, matching metacube2_compute_crc.
func metacubeCRC(hdr []byte) uint16 {
	var crc uint16 = 0xFFFF
	for _, b := range hdr {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// VerifyBlockCRC reports whether block's embedded CRC is valid for its
// header. Used by tests exercising testable property #10.
func VerifyBlockCRC(block []byte) bool {
	if len(block) < metacubeHeaderLen {
		return false
	}
	want := binary.BigEndian.Uint16(block[14:16])
	hdr := make([]byte, metacubeHeaderLen)
	copy(hdr, block[:metacubeHeaderLen])
	hdr[14], hdr[15] = 0, 0
	return metacubeCRC(hdr) == want
}
