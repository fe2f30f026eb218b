package framestore

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/prosyslab-warehouse/futatabi/internal/domain"
)

// recordHeaderSize is the fixed-width encoding of the per-record header
// that follows the magic and length prefix: stream_idx, pts, video_size,
// audio_size, each big-endian.
const recordHeaderSize = 4 + 8 + 4 + 4

type recordHeader struct {
	StreamIdx uint32
	PTS       int64
	VideoSize uint32
	AudioSize uint32
}

func encodeHeader(h recordHeader) []byte {
	buf := make([]byte, recordHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.StreamIdx)
	binary.BigEndian.PutUint64(buf[4:12], uint64(h.PTS))
	binary.BigEndian.PutUint32(buf[12:16], h.VideoSize)
	binary.BigEndian.PutUint32(buf[16:20], h.AudioSize)
	return buf
}

func decodeHeader(buf []byte) (recordHeader, error) {
	if len(buf) != recordHeaderSize {
		return recordHeader{}, fmt.Errorf("framestore: short header (%d bytes)", len(buf))
	}
	return recordHeader{
		StreamIdx: binary.BigEndian.Uint32(buf[0:4]),
		PTS:       int64(binary.BigEndian.Uint64(buf[4:12])),
		VideoSize: binary.BigEndian.Uint32(buf[12:16]),
		AudioSize: binary.BigEndian.Uint32(buf[16:20]),
	}, nil
}

// writeRecord appends one frame record to w, returning the byte offset
// the header describes for use in a FrameRef, and the total bytes
// written (so the caller can track the file's current size).
func writeRecord(w io.Writer, streamIdx uint32, pts int64, video, audio []byte) (totalBytes int, err error) {
	hdr := encodeHeader(recordHeader{
		StreamIdx: streamIdx,
		PTS:       pts,
		VideoSize: uint32(len(video)),
		AudioSize: uint32(len(audio)),
	})

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(hdr)))

	for _, chunk := range [][]byte{[]byte(domain.FrameFileMagic), lenPrefix[:], hdr, video, audio} {
		n, werr := w.Write(chunk)
		totalBytes += n
		if werr != nil {
			return totalBytes, werr
		}
	}
	return totalBytes, nil
}

// readRecordHeader reads one record's magic, length prefix and header
// from r, positioned at the start of a record. It returns
// io.EOF only when r is exactly at end of file (a clean stop point for
// scanning); any other short read is reported as a corrupted-file error.
func readRecordHeader(r io.Reader) (recordHeader, error) {
	magic := make([]byte, len(domain.FrameFileMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		if err == io.EOF {
			return recordHeader{}, io.EOF
		}
		return recordHeader{}, fmt.Errorf("%w: reading magic: %v", domain.ErrCorruptedFrameFile, err)
	}
	if string(magic) != domain.FrameFileMagic {
		return recordHeader{}, fmt.Errorf("%w: bad magic %q", domain.ErrCorruptedFrameFile, magic)
	}

	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return recordHeader{}, fmt.Errorf("%w: reading length: %v", domain.ErrCorruptedFrameFile, err)
	}
	hdrSize := binary.BigEndian.Uint32(lenPrefix[:])
	if hdrSize != recordHeaderSize {
		return recordHeader{}, fmt.Errorf("%w: unexpected header size %d", domain.ErrCorruptedFrameFile, hdrSize)
	}

	hdrBuf := make([]byte, hdrSize)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		return recordHeader{}, fmt.Errorf("%w: reading header: %v", domain.ErrCorruptedFrameFile, err)
	}
	return decodeHeader(hdrBuf)
}
