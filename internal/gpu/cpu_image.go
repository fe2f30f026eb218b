package gpu

import "math"

// cpuImage is the pipeline's host-memory planar image representation:
// full-resolution planar YCbCr samples, exactly the shape
// internal/decodecache.Frame already carries, so Upload is a plain copy
// rather than a format conversion. The headless backend stores these
// directly as its textures; the GL backend uses them as the staging
// buffer it reads back into and uploads out of.
type cpuImage struct {
	width, height int
	// y is full resolution. cb/cr may be subsampled; cbW/cbH give their
	// actual plane dimensions (equal to width/height until
	// ChromaSubsample runs).
	y, cb, cr []byte
	cbW, cbH  int
}

func newCPUImage(width, height int, y, cb, cr []byte) *cpuImage {
	return &cpuImage{width: width, height: height, y: y, cb: cb, cr: cr, cbW: width, cbH: height}
}

// sampleY returns the luma sample at (x, y), clamping to the border.
func (im *cpuImage) sampleY(x, yy int) uint8 {
	x, yy = clamp(x, im.width), clamp(yy, im.height)
	return im.y[yy*im.width+x]
}

// sampleChroma returns the Cb/Cr samples at full-resolution (x, y),
// mapping down into the (possibly subsampled) chroma plane.
func (im *cpuImage) sampleChroma(x, yy int) (cb, cr uint8) {
	cx := x * im.cbW / im.width
	cyv := yy * im.cbH / im.height
	cx, cyv = clamp(cx, im.cbW), clamp(cyv, im.cbH)
	i := cyv*im.cbW + cx
	return im.cb[i], im.cr[i]
}

// sampleYBilinear returns a bilinearly interpolated luma sample at
// fractional position (x, y), clamping all four taps to the border.
func (im *cpuImage) sampleYBilinear(x, y float64) float32 {
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	fx, fy := x-float64(x0), y-float64(y0)
	v00 := float64(im.sampleY(x0, y0))
	v10 := float64(im.sampleY(x0+1, y0))
	v01 := float64(im.sampleY(x0, y0+1))
	v11 := float64(im.sampleY(x0+1, y0+1))
	top := v00*(1-fx) + v10*fx
	bot := v01*(1-fx) + v11*fx
	return float32(top*(1-fy) + bot*fy)
}

// sampleChromaBilinear is sampleChroma's bilinear counterpart, used by
// the motion-compensated blend pass so chroma doesn't visibly block
// where flow vectors point between full-resolution pixels.
func (im *cpuImage) sampleChromaBilinear(x, y float64) (cb, cr float32) {
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	fx, fy := x-float64(x0), y-float64(y0)
	cb00, cr00 := im.sampleChroma(x0, y0)
	cb10, cr10 := im.sampleChroma(x0+1, y0)
	cb01, cr01 := im.sampleChroma(x0, y0+1)
	cb11, cr11 := im.sampleChroma(x0+1, y0+1)
	cbTop := float64(cb00)*(1-fx) + float64(cb10)*fx
	cbBot := float64(cb01)*(1-fx) + float64(cb11)*fx
	crTop := float64(cr00)*(1-fx) + float64(cr10)*fx
	crBot := float64(cr01)*(1-fx) + float64(cr11)*fx
	return float32(cbTop*(1-fy) + cbBot*fy), float32(crTop*(1-fy) + crBot*fy)
}

func clamp(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v >= limit {
		return limit - 1
	}
	return v
}
