package gpu

import (
	"context"
	"time"

	"github.com/prosyslab-warehouse/futatabi/internal/domain/ports"
	"github.com/prosyslab-warehouse/futatabi/internal/metrics"
)

// Pipeline is the GPU pipeline's full public surface: upload a decoded
// frame, compute flow between two uploaded frames, interpolate a new
// frame along that flow, subsample its chroma and encode the result to
// MJPEG bytes for the muxer. VS (internal/videostream) is the only
// caller; it never reaches past this interface into GL or the headless
// backend directly.
type Pipeline interface {
	// Upload copies a decoded frame's planar samples into GPU (or host,
	// on the headless backend) storage, returning a handle valid until
	// Release.
	Upload(ctx context.Context, frame ports.DecodedFrame) (Texture, error)

	// ComputeFlow runs DIS optical flow from a to b at the given
	// quality, returning per-pixel motion vectors at full frame
	// resolution (computed down to the operating point's finest level,
	// then upsampled).
	ComputeFlow(ctx context.Context, a, b Texture, q Quality) (FlowField, error)

	// Interpolate produces the frame at fractional position alpha
	// in [0,1] between a and b, given the flow field from a to b,
	// via forward splatting, hole filling and blending.
	Interpolate(ctx context.Context, a, b Texture, flow FlowField, alpha float64, splatSize float64) (Texture, error)

	// Blend produces a plain cross-dissolve of a and b at weight alpha
	// (alpha=0 is pure a, alpha=1 is pure b), used for cross-fades that
	// do not also need motion interpolation.
	Blend(ctx context.Context, a, b Texture, alpha float64) (Texture, error)

	// ChromaSubsample downsamples tex's chroma planes to mode,
	// returning a new texture ready for JPEG encoding.
	ChromaSubsample(ctx context.Context, tex Texture, mode ChromaMode) (Texture, error)

	// EncodeJPEG reads back tex and encodes it as MJPEG bytes carrying
	// a COM marker identifying the chroma layout, matching the muxer's
	// expectation of ready-to-mux video payloads.
	EncodeJPEG(ctx context.Context, tex Texture, quality int) ([]byte, error)

	// Release returns tex's resources to the pool.
	Release(tex Texture)

	// Close tears down the pipeline's GPU context (or, headless, is a
	// no-op).
	Close() error
}

// timed runs fn and records its duration against hist, wrapping the
// expensive call the same way a ScopedTimer would.
func timed(hist interface{ Observe(float64) }, fn func() error) error {
	start := time.Now()
	err := fn()
	hist.Observe(time.Since(start).Seconds())
	return err
}

// observeFlow and observeInterpolate are small named wrappers so call
// sites read as "observe the flow compute" rather than repeating the
// metrics package name inline.
func observeFlow(fn func() error) error {
	return timed(metrics.FlowComputeDuration, fn)
}

func observeInterpolate(fn func() error) error {
	return timed(metrics.InterpolateDuration, fn)
}
