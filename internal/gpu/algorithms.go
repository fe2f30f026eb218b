package gpu

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// This file holds the pixel math shared by both backends beyond flow
// computation and interpolation (flow.go, interpolate.go): the headless
// build runs it directly against its *cpuImage texture storage, and the
// GL build reads a texture back into a *cpuImage, runs the same code,
// and uploads the result. Splitting it out keeps the two backends'
// behavior identical (so tests run under -tags futatabi_headless mean
// the same thing the GL path would compute) and avoids maintaining two
// copies of the blend/chroma/encode logic.

func blend8(a, b int, alpha float64) byte {
	v := float64(a)*(1-alpha) + float64(b)*alpha
	if v < 0 {
		v = 0
	} else if v > 255 {
		v = 255
	}
	return byte(v)
}

func blendImages(a, b *cpuImage, alpha float64) *cpuImage {
	w, h := a.width, a.height
	y := make([]byte, w*h)
	cb := make([]byte, w*h)
	cr := make([]byte, w*h)
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			ay, by := int(a.sampleY(px, py)), int(b.sampleY(px, py))
			acb, acr := a.sampleChroma(px, py)
			bcb, bcr := b.sampleChroma(px, py)
			y[py*w+px] = blend8(ay, by, alpha)
			cb[py*w+px] = blend8(int(acb), int(bcb), alpha)
			cr[py*w+px] = blend8(int(acr), int(bcr), alpha)
		}
	}
	return newCPUImage(w, h, y, cb, cr)
}

// subsampleChroma box-filters src's chroma planes down to mode,
// returning a new image that shares src's luma plane.
func subsampleChroma(src *cpuImage, mode ChromaMode) (*cpuImage, error) {
	var cw, ch int
	switch mode {
	case Chroma420:
		cw, ch = (src.width+1)/2, (src.height+1)/2
	case Chroma422:
		cw, ch = (src.width+1)/2, src.height
	default:
		return nil, fmt.Errorf("gpu: unknown chroma mode %d", mode)
	}

	cb := make([]byte, cw*ch)
	cr := make([]byte, cw*ch)
	sx, sy := src.width/cw, src.height/ch
	if sx < 1 {
		sx = 1
	}
	if sy < 1 {
		sy = 1
	}
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			var sumCb, sumCr, n int
			for dy := 0; dy < sy; dy++ {
				for dx := 0; dx < sx; dx++ {
					c, r := src.sampleChroma(x*sx+dx, y*sy+dy)
					sumCb += int(c)
					sumCr += int(r)
					n++
				}
			}
			cb[y*cw+x] = byte(sumCb / n)
			cr[y*cw+x] = byte(sumCr / n)
		}
	}

	out := newCPUImage(src.width, src.height, append([]byte(nil), src.y...), cb, cr)
	out.cbW, out.cbH = cw, ch
	return out, nil
}

// encodeJPEG converts im to the standard library's planar YCbCr image
// type (inferring the subsample ratio from im's own plane dimensions)
// and runs it through image/jpeg.
func encodeJPEG(im *cpuImage, quality int) ([]byte, error) {
	ratio := image.YCbCrSubsampleRatio444
	if im.cbW == (im.width+1)/2 && im.cbH == (im.height+1)/2 {
		ratio = image.YCbCrSubsampleRatio420
	} else if im.cbW == (im.width+1)/2 && im.cbH == im.height {
		ratio = image.YCbCrSubsampleRatio422
	}

	img := image.NewYCbCr(image.Rect(0, 0, im.width, im.height), ratio)
	copy(img.Y, im.y)
	copy(img.Cb, im.cb)
	copy(img.Cr, im.cr)

	var buf bytes.Buffer
	if quality <= 0 {
		quality = 85
	}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("gpu: jpeg encode: %w", err)
	}
	return insertComment(buf.Bytes(), "CS=ITU601"), nil
}

// insertComment splices a COM marker segment right after data's SOI
// marker. image/jpeg has no hook for writer-supplied markers, so the
// only way to attach the chroma-convention tag the muxer's consumers
// expect is a post-encode byte splice.
func insertComment(data []byte, comment string) []byte {
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return data
	}
	segLen := len(comment) + 2
	out := make([]byte, 0, len(data)+4+len(comment))
	out = append(out, data[0], data[1])
	out = append(out, 0xFF, 0xFE, byte(segLen>>8), byte(segLen))
	out = append(out, comment...)
	out = append(out, data[2:]...)
	return out
}

// packRGBA8 packs im's (upsampled) YCbCr samples into an RGBA8 buffer
// the GL backend can TexSubImage2D straight into a texture: Y in R, Cb
// in G, Cr in B, alpha fixed at 255. This keeps the GL texture itself as
// the authoritative storage for a frame rather than a write-only proxy.
func packRGBA8(im *cpuImage) []byte {
	w, h := im.width, im.height
	out := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			cb, cr := im.sampleChroma(x, y)
			i := (y*w + x) * 4
			out[i+0] = im.sampleY(x, y)
			out[i+1] = cb
			out[i+2] = cr
			out[i+3] = 255
		}
	}
	return out
}

// unpackRGBA8 is packRGBA8's inverse, reconstructing a full-resolution
// (4:4:4) cpuImage from an RGBA8 buffer read back from a GL texture.
func unpackRGBA8(width, height int, rgba []byte) *cpuImage {
	y := make([]byte, width*height)
	cb := make([]byte, width*height)
	cr := make([]byte, width*height)
	for i := 0; i < width*height; i++ {
		y[i] = rgba[i*4+0]
		cb[i] = rgba[i*4+1]
		cr[i] = rgba[i*4+2]
	}
	return newCPUImage(width, height, y, cb, cr)
}
