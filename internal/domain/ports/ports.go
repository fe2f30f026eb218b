// Package ports declares the narrow interfaces each component depends on,
// so that concrete implementations (frame store, decode cache, GPU
// pipeline, muxer) can be wired together without import cycles. Dependency
// direction is one-way: DC depends on FR; VS depends on DC
// and the GPU pipeline; PL depends on VS and FS; HP depends on the muxer
// only via a callback.
package ports

import (
	"context"
	"time"

	"github.com/prosyslab-warehouse/futatabi/internal/domain"
)

// FrameStore is the append-only frame index.
type FrameStore interface {
	Append(streamIdx uint32, pts int64, video, audio []byte) (domain.FrameRef, error)
	Surrounding(streamIdx uint32, pts int64) (lower, upper domain.FrameRef, ok bool)
	FirstAtOrAfter(streamIdx uint32, pts int64) (domain.FrameRef, bool)
	LastBefore(streamIdx uint32, pts int64) (domain.FrameRef, bool)
	StreamLen(streamIdx uint32) int
	FrameAt(streamIdx uint32, i int) (domain.FrameRef, bool)
}

// FrameReader reads the encoded bytes referenced by a FrameRef.
type FrameReader interface {
	Read(ctx context.Context, ref domain.FrameRef, wantVideo, wantAudio bool) (video, audio []byte, err error)
	Close() error
}

// DecodedFrame is the planar, GPU-resident result of decoding one
// FrameRef's video bytes. It intentionally has no GPU type in this
// package: concrete fields live in the gpu package, and callers interact
// with it through this opaque marker plus the Dims/Exif accessors.
type DecodedFrame interface {
	Width() int
	Height() int
	Exif() []byte
	Release()
}

// DecodeCache is the LRU decoded-frame cache.
type DecodeCache interface {
	GetOrDecode(ctx context.Context, ref domain.FrameRef, nullIfMissing bool) (DecodedFrame, error)
	Prune()
	BytesUsed() int64
}

// VideoStream is PL's scheduling dependency: the pipeline that
// decodes, interpolates, JPEG-encodes and hands packets to the muxer. PL
// depends on this interface only, never on the GPU/mux packages directly.
type VideoStream interface {
	ScheduleOriginal(localPts time.Time, outPts int64, ref domain.FrameRef, subtitle string, includeAudio bool) error
	ScheduleFaded(localPts time.Time, outPts int64, ref1, ref2 domain.FrameRef, alpha float64, subtitle string) error
	ScheduleInterpolated(localPts time.Time, outPts int64, ref1, ref2 domain.FrameRef, alpha float64, secondary *domain.FrameRef, fadeAlpha float64, subtitle string, includeAudio bool) error
	ScheduleRefresh(localPts time.Time, outPts int64, subtitle string) error
	ScheduleSilence(localPts time.Time, outPts int64, lengthPts int64) error
	QueueDepth() int
	MaxQueueDepth() int
}
