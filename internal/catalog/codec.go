// Package catalog persists the frame store's parsed file index so a
// restart does not have to resync-scan every frame file on disk.
package catalog

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// StreamFrames holds one stream's parallel frame arrays, the same shape
// the original FileContents protobuf used (repeated per-stream arrays of
// pts/offset/file_size/audio_size rather than a repeated message).
type StreamFrames struct {
	PTS       []int64
	Offset    []uint64
	VideoSize []uint32
	AudioSize []uint32
}

// FileContents is the decoded form of one filev2.frames blob: every
// stream's frame arrays for a single sealed frame file.
type FileContents struct {
	Streams map[uint32]StreamFrames
}

// codecMagic guards against decoding a blob written by an incompatible
// encoder version.
const codecMagic uint32 = 0xF7A71D01

// Encode serializes fc with a small hand-rolled binary layout: no
// protobuf toolchain is available here, so the per-stream parallel-array
// shape is written directly with encoding/binary instead of codegen.
func Encode(fc FileContents) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, codecMagic); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(fc.Streams))); err != nil {
		return nil, err
	}

	streamIdxs := make([]uint32, 0, len(fc.Streams))
	for idx := range fc.Streams {
		streamIdxs = append(streamIdxs, idx)
	}
	sortUint32(streamIdxs)

	for _, idx := range streamIdxs {
		sf := fc.Streams[idx]
		n := len(sf.PTS)
		if len(sf.Offset) != n || len(sf.VideoSize) != n || len(sf.AudioSize) != n {
			return nil, fmt.Errorf("catalog: stream %d has mismatched array lengths", idx)
		}
		if err := binary.Write(&buf, binary.BigEndian, idx); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, uint32(n)); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, sf.PTS); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, sf.Offset); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, sf.VideoSize); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, sf.AudioSize); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Decode is the inverse of Encode. It returns ErrBadMagic if blob was not
// produced by this codec version.
func Decode(blob []byte) (FileContents, error) {
	r := bytes.NewReader(blob)

	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return FileContents{}, fmt.Errorf("catalog: read magic: %w", err)
	}
	if magic != codecMagic {
		return FileContents{}, ErrBadMagic
	}

	var numStreams uint32
	if err := binary.Read(r, binary.BigEndian, &numStreams); err != nil {
		return FileContents{}, fmt.Errorf("catalog: read stream count: %w", err)
	}

	fc := FileContents{Streams: make(map[uint32]StreamFrames, numStreams)}
	for i := uint32(0); i < numStreams; i++ {
		var idx, n uint32
		if err := binary.Read(r, binary.BigEndian, &idx); err != nil {
			return FileContents{}, fmt.Errorf("catalog: read stream index: %w", err)
		}
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return FileContents{}, fmt.Errorf("catalog: read frame count: %w", err)
		}

		sf := StreamFrames{
			PTS:       make([]int64, n),
			Offset:    make([]uint64, n),
			VideoSize: make([]uint32, n),
			AudioSize: make([]uint32, n),
		}
		if err := binary.Read(r, binary.BigEndian, sf.PTS); err != nil {
			return FileContents{}, fmt.Errorf("catalog: read pts array: %w", err)
		}
		if err := binary.Read(r, binary.BigEndian, sf.Offset); err != nil {
			return FileContents{}, fmt.Errorf("catalog: read offset array: %w", err)
		}
		if err := binary.Read(r, binary.BigEndian, sf.VideoSize); err != nil {
			return FileContents{}, fmt.Errorf("catalog: read video size array: %w", err)
		}
		if err := binary.Read(r, binary.BigEndian, sf.AudioSize); err != nil {
			return FileContents{}, fmt.Errorf("catalog: read audio size array: %w", err)
		}
		fc.Streams[idx] = sf
	}
	return fc, nil
}

// sortUint32 is a tiny insertion sort; the slice is at most MaxStreams
// long so pulling in sort.Slice's reflection cost is not worth it.
func sortUint32(s []uint32) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
