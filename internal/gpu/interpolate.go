package gpu

import "math"

// This file implements frame interpolation along a flow field: a
// depth-tested forward splat, four directional hole-fill sweeps, a
// hole-blend agreement pass and a flow-consistency-tolerant blend,
// grounded on flow.cpp's Splat/HoleFill/HoleBlend/Blend stages.

const invalidDepth = float32(math.MaxFloat32)

// warpField is the splat pass's output at the interpolated position: a
// (possibly sparse) flow estimate per destination pixel, its splat
// depth (post-warp luma disagreement, lower is better), and whether any
// source pixel landed there at all.
type warpField struct {
	w, h   int
	dx, dy []float32
	depth  []float32
	valid  []bool
}

func newWarpField(w, h int) *warpField {
	depth := make([]float32, w*h)
	for i := range depth {
		depth[i] = invalidDepth
	}
	return &warpField{w: w, h: h, dx: make([]float32, w*h), dy: make([]float32, w*h), depth: depth, valid: make([]bool, w*h)}
}

// splatGoodness scores how well b explains a under the hypothesis
// encoded by flow vector (dx, dy): the post-warp luma difference used as
// the splat pass's depth value, so the depth test keeps the
// best-agreeing candidate at each destination pixel (flow.cpp uses the
// same post-warp difference to build depth_rb before its Splat pass).
func splatGoodness(a, b *cpuImage, x, y int, dx, dy float32) float32 {
	av := float64(a.sampleY(x, y))
	bv := float64(b.sampleYBilinear(float64(x)+float64(dx), float64(y)+float64(dy)))
	return float32(math.Abs(av - bv))
}

// splatForward forward-warps every source pixel by alpha*flow (towards
// b) and by -(1-alpha)*flow (towards a, approximating the backward
// vector as the negated forward one since only the a->b direction was
// computed), splatting into a disc of radius splatSize and keeping
// whichever candidate has the lowest splatGoodness at each destination
// pixel, matching flow.cpp's Splat.
func splatForward(a, b *cpuImage, flow FlowField, alpha float64, splatSize float64) *warpField {
	w, h := flow.Width, flow.Height
	out := newWarpField(w, h)
	radius := int(math.Ceil(splatSize))
	if radius < 1 {
		radius = 1
	}
	radiusSq := splatSize * splatSize
	if radiusSq < 1 {
		radiusSq = 1
	}

	splat := func(destX, destY float64, ddx, ddy, goodness float32) {
		cx, cy := int(math.Round(destX)), int(math.Round(destY))
		for oy := -radius; oy <= radius; oy++ {
			for ox := -radius; ox <= radius; ox++ {
				if float64(ox*ox+oy*oy) > radiusSq {
					continue
				}
				px, py := cx+ox, cy+oy
				if px < 0 || px >= w || py < 0 || py >= h {
					continue
				}
				i := py*w + px
				if goodness < out.depth[i] {
					out.depth[i] = goodness
					out.dx[i], out.dy[i] = ddx, ddy
					out.valid[i] = true
				}
			}
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			fdx, fdy := flow.at(x, y)
			goodness := splatGoodness(a, b, x, y, fdx, fdy)
			splat(float64(x)+alpha*float64(fdx), float64(y)+alpha*float64(fdy), fdx, fdy, goodness)
			splat(float64(x)-(1-alpha)*float64(fdx), float64(y)-(1-alpha)*float64(fdy), fdx, fdy, goodness)
		}
	}
	return out
}

// holeFillDirection fills invalid pixels of src by marching in direction
// (stepX, stepY) with exponentially increasing offsets (1, 2, 4, ...)
// until a valid pixel is found or the field's edge is reached, matching
// flow.cpp's HoleFill, which shoots a ray in each of the four axis
// directions rather than searching a growing neighborhood.
func holeFillDirection(src *warpField, stepX, stepY int) *warpField {
	w, h := src.w, src.h
	out := &warpField{
		w: w, h: h,
		dx:    append([]float32(nil), src.dx...),
		dy:    append([]float32(nil), src.dy...),
		depth: append([]float32(nil), src.depth...),
		valid: append([]bool(nil), src.valid...),
	}
	limit := w + h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if out.valid[i] {
				continue
			}
			for step := 1; step <= limit; step *= 2 {
				sx, sy := x+stepX*step, y+stepY*step
				if sx < 0 || sx >= w || sy < 0 || sy >= h {
					break
				}
				si := sy*w + sx
				if src.valid[si] {
					out.dx[i], out.dy[i] = src.dx[si], src.dy[si]
					out.valid[i] = true
					break
				}
			}
		}
	}
	return out
}

// holeBlend merges the four directional hole-fills by averaging
// whichever of them found a candidate for each originally invalid pixel,
// matching flow.cpp's HoleBlend agreement pass.
func holeBlend(original, left, right, up, down *warpField) *warpField {
	w, h := original.w, original.h
	out := &warpField{w: w, h: h, dx: make([]float32, w*h), dy: make([]float32, w*h), valid: make([]bool, w*h)}
	dirs := [4]*warpField{left, right, up, down}
	for i := 0; i < w*h; i++ {
		if original.valid[i] {
			out.dx[i], out.dy[i], out.valid[i] = original.dx[i], original.dy[i], true
			continue
		}
		var sumDx, sumDy float32
		n := 0
		for _, d := range dirs {
			if d.valid[i] {
				sumDx += d.dx[i]
				sumDy += d.dy[i]
				n++
			}
		}
		if n > 0 {
			out.dx[i] = sumDx / float32(n)
			out.dy[i] = sumDy / float32(n)
			out.valid[i] = true
		}
	}
	return out
}

// flowConsistencyTolerance bounds how much the forward- and
// backward-warped luma samples may disagree before Blend distrusts the
// motion-compensated estimate and falls back to a plain cross-dissolve,
// matching flow.cpp's flow_consistency_tolerance.
const flowConsistencyTolerance = 16.0

// blendWithFlow produces the final interpolated frame from field's
// (possibly hole-filled) flow estimate: where the forward- and
// backward-warped samples agree within tolerance it blends the
// motion-compensated samples, and everywhere else (true holes, or
// flow disagreement) it falls back to a plain positional cross-dissolve,
// matching flow.cpp's Blend.
func blendWithFlow(a, b *cpuImage, field *warpField, alpha float64) *cpuImage {
	w, h := field.w, field.h
	y := make([]byte, w*h)
	cb := make([]byte, w*h)
	cr := make([]byte, w*h)

	dissolve := func(i, px, py int) {
		y[i] = blend8(int(a.sampleY(px, py)), int(b.sampleY(px, py)), alpha)
		acb, acr := a.sampleChroma(px, py)
		bcb, bcr := b.sampleChroma(px, py)
		cb[i] = blend8(int(acb), int(bcb), alpha)
		cr[i] = blend8(int(acr), int(bcr), alpha)
	}

	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			i := py*w + px
			if !field.valid[i] {
				dissolve(i, px, py)
				continue
			}

			dx, dy := field.dx[i], field.dy[i]
			ax := float64(px) - alpha*float64(dx)
			ay := float64(py) - alpha*float64(dy)
			bx := float64(px) + (1-alpha)*float64(dx)
			by := float64(py) + (1-alpha)*float64(dy)

			av := a.sampleYBilinear(ax, ay)
			bv := b.sampleYBilinear(bx, by)
			if math.Abs(float64(av)-float64(bv)) > flowConsistencyTolerance {
				dissolve(i, px, py)
				continue
			}

			y[i] = blendF(av, bv, alpha)
			acb, acr := a.sampleChromaBilinear(ax, ay)
			bcb, bcr := b.sampleChromaBilinear(bx, by)
			cb[i] = blendF(acb, bcb, alpha)
			cr[i] = blendF(acr, bcr, alpha)
		}
	}
	return newCPUImage(w, h, y, cb, cr)
}

func blendF(a, b float32, alpha float64) byte {
	v := float64(a)*(1-alpha) + float64(b)*alpha
	if v < 0 {
		v = 0
	} else if v > 255 {
		v = 255
	}
	return byte(v)
}

// interpolateFrames produces the frame at fractional position alpha
// between a and b along flow, running the full
// splat/hole-fill/hole-blend/blend pipeline with a splat footprint of
// radius splatSize (the operating point's SplatSize field).
func interpolateFrames(a, b *cpuImage, flow FlowField, alpha float64, splatSize float64) *cpuImage {
	if splatSize <= 0 {
		splatSize = 1.0
	}
	splatted := splatForward(a, b, flow, alpha, splatSize)
	left := holeFillDirection(splatted, -1, 0)
	right := holeFillDirection(splatted, 1, 0)
	up := holeFillDirection(splatted, 0, -1)
	down := holeFillDirection(splatted, 0, 1)
	filled := holeBlend(splatted, left, right, up, down)
	return blendWithFlow(a, b, filled, alpha)
}
