package decodecache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/prosyslab-warehouse/futatabi/internal/domain"
)

// Decoder turns MJPEG bytes into a DecodedFrame. HardwareDecoder marks
// the seam of a VA-API/GL upload path and always fails in this build;
// SoftwareDecoder is the stdlib fallback used when that fails or is
// unavailable: attempt hardware, fall back
// to software, and on an
// uncorrectable error return a 1x1 black frame while counting the
// failure.
type Decoder interface {
	Decode(ctx context.Context, video []byte) (*Frame, error)
}

// markerSOI/markerAPP1/markerSOS are the JPEG marker bytes needed to find the
// Exif payload without a full Exif parse: only the raw
// APP1 bytes be extracted and carried alongside the frame, not that
// they be interpreted.
const (
	markerSOI  = 0xD8
	markerAPP1 = 0xE1
	markerSOS  = 0xDA
)

// SoftwareDecoder decodes MJPEG bytes with the standard library's
// image/jpeg. There is no hardware decode path available in this
// environment (the contract's VA-API/hardware stage is an external
// collaborator), so this is always the effective
// decoder; HardwareDecoder exists to document the seam a GPU-backed
// implementation would occupy.
type SoftwareDecoder struct{}

func (SoftwareDecoder) Decode(ctx context.Context, video []byte) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := jpeg.Decode(bytes.NewReader(video))
	if err != nil {
		return nil, fmt.Errorf("decodecache: jpeg decode: %w", err)
	}

	ycbcr, ok := img.(*image.YCbCr)
	if !ok {
		return nil, fmt.Errorf("%w: decoded image is not 3-component YCbCr", domain.ErrUnsupportedLayout)
	}
	switch ycbcr.SubsampleRatio {
	case image.YCbCrSubsampleRatio420, image.YCbCrSubsampleRatio422, image.YCbCrSubsampleRatio444:
	default:
		return nil, fmt.Errorf("%w: unsupported chroma subsampling %v", domain.ErrUnsupportedLayout, ycbcr.SubsampleRatio)
	}

	b := ycbcr.Bounds()
	w, h := b.Dx(), b.Dy()
	y, cb, cr := make([]byte, w*h), make([]byte, w*h), make([]byte, w*h)
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			i := py*w + px
			y[i] = ycbcr.Y[ycbcr.YOffset(b.Min.X+px, b.Min.Y+py)]
			ci := ycbcr.COffset(b.Min.X+px, b.Min.Y+py)
			cb[i], cr[i] = ycbcr.Cb[ci], ycbcr.Cr[ci]
		}
	}
	f := &Frame{
		width:  w,
		height: h,
		Y:      y,
		Cb:     cb,
		Cr:     cr,
		exif:   extractExifAPP1(video),
		refs:   1,
	}
	return f, nil
}

// HardwareDecoder is the seam a real VA-API/GL-upload decode path would
// implement; Decode always reports failure here so callers fall
// through to SoftwareDecoder, matching the contract's "attempt
// hardware, fall back to software" ordering without requiring an actual
// GPU context to exist just to run the decode cache's tests.
type HardwareDecoder struct{}

var errNoHardwareDecoder = errors.New("decodecache: no hardware decode path in this build")

func (HardwareDecoder) Decode(ctx context.Context, video []byte) (*Frame, error) {
	return nil, errNoHardwareDecoder
}

// ChainDecoder tries Hardware first, then Software.
type ChainDecoder struct {
	Hardware Decoder
	Software Decoder
}

func (c ChainDecoder) Decode(ctx context.Context, video []byte) (*Frame, error) {
	if c.Hardware != nil {
		if f, err := c.Hardware.Decode(ctx, video); err == nil {
			return f, nil
		}
	}
	return c.Software.Decode(ctx, video)
}

// blackFrame returns the 1x1 black frame the decode contract mandates
// on an uncorrectable error, so the pipeline always has something to
// schedule rather than propagating a hard failure to the player.
func blackFrame() *Frame {
	return &Frame{width: 1, height: 1, Y: []byte{0}, Cb: []byte{128}, Cr: []byte{128}, refs: 1}
}

// extractExifAPP1 scans the JPEG marker stream for an APP1 segment and
// returns its raw payload (including the "Exif\x00\x00" prefix if
// present), or nil if none is found. This intentionally does not parse
// Exif fields: the decode contract only asks that the bytes be carried
// alongside the frame for the caller to reproduce, not interpreted.
func extractExifAPP1(video []byte) []byte {
	i := 0
	if len(video) < 2 || video[0] != 0xFF || video[1] != markerSOI {
		return nil
	}
	i = 2
	for i+4 <= len(video) {
		if video[i] != 0xFF {
			i++
			continue
		}
		marker := video[i+1]
		if marker == markerSOS || marker == 0x00 || marker == 0xFF {
			break
		}
		segLen := int(video[i+2])<<8 | int(video[i+3])
		if segLen < 2 || i+2+segLen > len(video) {
			break
		}
		if marker == markerAPP1 {
			return append([]byte(nil), video[i+4:i+2+segLen]...)
		}
		i += 2 + segLen
	}
	return nil
}
