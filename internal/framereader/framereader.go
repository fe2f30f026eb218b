// Package framereader implements the frame reader (FR): a
// per-consumer object that caches one open file handle, refreshed
// lazily when a FrameRef's file_idx changes, matching the source's
// FrameReader (frame_on_disk.h) which keeps a single fd around so the
// kernel can do sequential readahead across consecutive reads.
package framereader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prosyslab-warehouse/futatabi/internal/domain"
	"github.com/prosyslab-warehouse/futatabi/internal/metrics"
)

// FilenameLookup resolves a file_idx to the frame file's path, relative
// to the frames directory. The frame store is the only component that
// knows this mapping; Reader depends on it through this narrow callback
// instead of importing framestore directly, keeping the one-way
// dependency DC -> FR -> (frame files on disk) intact.
type FilenameLookup func(fileIdx uint32) (string, bool)

// Reader is thread-compatible but not thread-safe, exactly like its
// source counterpart: each decode-cache worker goroutine should own one.
type Reader struct {
	framesDir string
	lookup    FilenameLookup

	f           *os.File
	lastFileIdx uint32
	haveLastIdx bool
}

// New creates a Reader rooted at framesDir (the frame store's
// "<workdir>/frames" directory), using lookup to resolve file indices to
// filenames.
func New(framesDir string, lookup FilenameLookup) *Reader {
	return &Reader{framesDir: framesDir, lookup: lookup}
}

// Read performs one or two positional reads at ref.Offset /
// ref.Offset+ref.VideoSize, returning whichever of video/audio was
// requested. It reopens the underlying file only when ref.FileIdx
// differs from the last read's.
func (r *Reader) Read(ctx context.Context, ref domain.FrameRef, wantVideo, wantAudio bool) (video, audio []byte, err error) {
	start := time.Now()
	defer func() {
		metrics.FrameReaderReadLatency.Observe(time.Since(start).Seconds())
	}()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	if !r.haveLastIdx || r.lastFileIdx != ref.FileIdx || r.f == nil {
		if err := r.reopen(ref.FileIdx); err != nil {
			return nil, nil, err
		}
	}

	if wantVideo {
		video = make([]byte, ref.VideoSize)
		n, err := r.f.ReadAt(video, int64(ref.Offset))
		if err != nil {
			return nil, nil, fmt.Errorf("framereader: read video: %w", err)
		}
		metrics.FrameReaderBytesRead.Add(float64(n))
	}
	if wantAudio && ref.AudioSize > 0 {
		audio = make([]byte, ref.AudioSize)
		n, err := r.f.ReadAt(audio, int64(ref.Offset)+int64(ref.VideoSize))
		if err != nil {
			return nil, nil, fmt.Errorf("framereader: read audio: %w", err)
		}
		metrics.FrameReaderBytesRead.Add(float64(n))
	}
	return video, audio, nil
}

func (r *Reader) reopen(fileIdx uint32) error {
	filename, ok := r.lookup(fileIdx)
	if !ok {
		return fmt.Errorf("framereader: unknown file_idx %d", fileIdx)
	}
	if r.f != nil {
		r.f.Close()
		r.f = nil
	}
	f, err := os.Open(filepath.Join(r.framesDir, filename))
	if err != nil {
		return fmt.Errorf("framereader: open %s: %w", filename, err)
	}
	hintSequentialReadahead(f)

	r.f = f
	r.lastFileIdx = fileIdx
	r.haveLastIdx = true
	metrics.FrameReaderOpensTotal.Inc()
	return nil
}

// Close releases the cached file handle, if any.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
