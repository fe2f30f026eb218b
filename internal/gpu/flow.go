package gpu

import "math"

// This file implements DIS (Dense Inverse Search) optical flow on the
// CPU: a coarse-to-fine pyramid, a Sobel gradient pass, an
// inverse-compositional Gauss-Newton patch search densified into a
// per-pixel field, and an optional variational (red/black SOR) refinement
// pass. It is grounded directly on flow.cpp/flow.h's GrayscaleConversion,
// Sobel, MotionSearch, Densify, SetupEquations and SOR stages, adapted to
// run against a host-memory mirror rather than as GLSL compute shaders
// (see gl_pipeline.go).

// grayLevel is one level of a grayscale mipmap pyramid: level 0 is full
// resolution, level L+1 is level L box-filtered down by half in each
// dimension, matching flow.cpp's pyramid construction.
type grayLevel struct {
	w, h int
	pix  []float32
}

func (g grayLevel) at(x, y int) float32 {
	x, y = clamp(x, g.w), clamp(y, g.h)
	return g.pix[y*g.w+x]
}

func (g grayLevel) bilinear(x, y float64) float32 {
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	fx, fy := x-float64(x0), y-float64(y0)
	top := float64(g.at(x0, y0))*(1-fx) + float64(g.at(x0+1, y0))*fx
	bot := float64(g.at(x0, y0+1))*(1-fx) + float64(g.at(x0+1, y0+1))*fx
	return float32(top*(1-fy) + bot*fy)
}

// buildGrayPyramid converts im's luma plane to floating-point grayscale
// at level 0 and box-filters it down through levels, up to and including
// level coarsest.
func buildGrayPyramid(im *cpuImage, coarsest int) []grayLevel {
	base := grayLevel{w: im.width, h: im.height, pix: make([]float32, im.width*im.height)}
	for i, v := range im.y {
		base.pix[i] = float32(v)
	}
	pyr := make([]grayLevel, coarsest+1)
	pyr[0] = base
	for l := 1; l <= coarsest; l++ {
		prev := pyr[l-1]
		w, h := (prev.w+1)/2, (prev.h+1)/2
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
		pix := make([]float32, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				x0, y0 := x*2, y*2
				pix[y*w+x] = (prev.at(x0, y0) + prev.at(x0+1, y0) + prev.at(x0, y0+1) + prev.at(x0+1, y0+1)) / 4
			}
		}
		pyr[l] = grayLevel{w: w, h: h, pix: pix}
	}
	return pyr
}

// sobelGradients computes the classic 3x3 Sobel gradient of level,
// matching flow.cpp's Sobel pass that runs ahead of the motion search so
// the inverse-compositional update can reuse a fixed template gradient
// across every Gauss-Newton iteration.
func sobelGradients(level grayLevel) (gx, gy []float32) {
	w, h := level.w, level.h
	gx = make([]float32, w*h)
	gy = make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			tl, t, tr := level.at(x-1, y-1), level.at(x, y-1), level.at(x+1, y-1)
			l, r := level.at(x-1, y), level.at(x+1, y)
			bl, b, br := level.at(x-1, y+1), level.at(x, y+1), level.at(x+1, y+1)
			gx[y*w+x] = (tr + 2*r + br) - (tl + 2*l + bl)
			gy[y*w+x] = (bl + 2*b + br) - (tl + 2*t + tr)
		}
	}
	return gx, gy
}

// denseFlow is a per-pixel flow field at some pyramid level's resolution.
type denseFlow struct {
	w, h  int
	dx, dy []float32
}

func newDenseFlow(w, h int) *denseFlow {
	return &denseFlow{w: w, h: h, dx: make([]float32, w*h), dy: make([]float32, w*h)}
}

func (f *denseFlow) at(x, y int) (float32, float32) {
	x, y = clamp(x, f.w), clamp(y, f.h)
	i := y*f.w + x
	return f.dx[i], f.dy[i]
}

func (f *denseFlow) bilinear(x, y float64) (float32, float32) {
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	fx, fy := x-float64(x0), y-float64(y0)
	dx00, dy00 := f.at(x0, y0)
	dx10, dy10 := f.at(x0+1, y0)
	dx01, dy01 := f.at(x0, y0+1)
	dx11, dy11 := f.at(x0+1, y0+1)
	dxTop, dxBot := float64(dx00)*(1-fx)+float64(dx10)*fx, float64(dx01)*(1-fx)+float64(dx11)*fx
	dyTop, dyBot := float64(dy00)*(1-fx)+float64(dy10)*fx, float64(dy01)*(1-fx)+float64(dy11)*fx
	return float32(dxTop*(1-fy) + dxBot*fy), float32(dyTop*(1-fy) + dyBot*fy)
}

// upsampleFlow scales src up to the (w, h) resolution of the next finer
// pyramid level, resampling bilinearly and scaling the vectors
// themselves by the same factor (flow is measured in pixels, so it grows
// with resolution), matching flow.cpp's ResizeFlow.
func upsampleFlow(src *denseFlow, w, h int) *denseFlow {
	out := newDenseFlow(w, h)
	sx := float64(src.w) / float64(w)
	sy := float64(src.h) / float64(h)
	scaleX := float64(w) / float64(src.w)
	scaleY := float64(h) / float64(src.h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := src.bilinear((float64(x)+0.5)*sx-0.5, (float64(y)+0.5)*sy-0.5)
			i := y*w + x
			out.dx[i] = float32(float64(dx) * scaleX)
			out.dy[i] = float32(float64(dy) * scaleY)
		}
	}
	return out
}

// patchResult is one patch's inverse-compositional Gauss-Newton search
// result: its pixel-space footprint, the estimated flow vector, and a
// goodness weight for densify.
type patchResult struct {
	x0, y0, w, h int
	dx, dy       float32
	weight       float32
}

// motionSearch runs an inverse-compositional Gauss-Newton patch search
// over a grid of overlapping patches covering la, seeded by guess,
// matching flow.cpp's MotionSearch: the template gradient (and hence the
// Hessian) is computed once per patch from the Sobel pass and reused
// across every iteration, only the residual against the warped b image
// is recomputed each step.
func motionSearch(la, lb grayLevel, gx, gy []float32, guess *denseFlow, op OperatingPoint) []patchResult {
	patch := op.PatchSizePixels
	if patch < 1 {
		patch = 8
	}
	overlap := op.PatchOverlapRatio
	if overlap < 0 {
		overlap = 0
	} else if overlap > 0.9 {
		overlap = 0.9
	}
	stride := int(float64(patch) * (1 - overlap))
	if stride < 1 {
		stride = 1
	}
	iterations := op.SearchIterations
	if iterations < 1 {
		iterations = 1
	}

	var results []patchResult
	for y0 := 0; y0 < la.h; y0 += stride {
		for x0 := 0; x0 < la.w; x0 += stride {
			pw, ph := patch, patch
			if x0+pw > la.w {
				pw = la.w - x0
			}
			if y0+ph > la.h {
				ph = la.h - y0
			}
			if pw <= 0 || ph <= 0 {
				continue
			}

			var h00, h01, h11 float64
			for py := y0; py < y0+ph; py++ {
				for px := x0; px < x0+pw; px++ {
					i := py*la.w + px
					tx, ty := float64(gx[i]), float64(gy[i])
					h00 += tx * tx
					h01 += tx * ty
					h11 += ty * ty
				}
			}
			det := h00*h11 - h01*h01

			cx, cy := x0+pw/2, y0+ph/2
			curDx, curDy := guess.at(cx, cy)

			if det > 1e-6 {
				for iter := 0; iter < iterations; iter++ {
					var b0, b1 float64
					for py := y0; py < y0+ph; py++ {
						for px := x0; px < x0+pw; px++ {
							i := py*la.w + px
							warped := lb.bilinear(float64(px)+float64(curDx), float64(py)+float64(curDy))
							residual := float64(la.at(px, py)) - float64(warped)
							tx, ty := float64(gx[i]), float64(gy[i])
							b0 += tx * residual
							b1 += ty * residual
						}
					}
					deltaDx := (h11*b0 - h01*b1) / det
					deltaDy := (h00*b1 - h01*b0) / det
					curDx += float32(deltaDx)
					curDy += float32(deltaDy)
				}
			}

			var sad float64
			for py := y0; py < y0+ph; py++ {
				for px := x0; px < x0+pw; px++ {
					warped := lb.bilinear(float64(px)+float64(curDx), float64(py)+float64(curDy))
					d := float64(la.at(px, py)) - float64(warped)
					if d < 0 {
						d = -d
					}
					sad += d
				}
			}
			meanSAD := sad / float64(pw*ph)

			results = append(results, patchResult{
				x0: x0, y0: y0, w: pw, h: ph,
				dx: curDx, dy: curDy,
				weight: float32(1 / (1 + meanSAD)),
			})
		}
	}
	return results
}

// densify accumulates each patch's weighted vote into the dense field it
// covers, per eq. 3 of the DIS paper (the R/G/B accumulate-and-normalize
// scheme flow.cpp's Densify implements as a weighted sum divided by the
// total weight). Pixels no patch covers fall back to guess.
func densify(patches []patchResult, w, h int, guess *denseFlow) *denseFlow {
	sumW := make([]float32, w*h)
	sumDx := make([]float32, w*h)
	sumDy := make([]float32, w*h)
	for _, p := range patches {
		for y := p.y0; y < p.y0+p.h; y++ {
			for x := p.x0; x < p.x0+p.w; x++ {
				i := y*w + x
				sumW[i] += p.weight
				sumDx[i] += p.weight * p.dx
				sumDy[i] += p.weight * p.dy
			}
		}
	}
	out := newDenseFlow(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if sumW[i] > 0 {
				out.dx[i] = sumDx[i] / sumW[i]
				out.dy[i] = sumDy[i] / sumW[i]
			} else {
				out.dx[i], out.dy[i] = guess.at(x, y)
			}
		}
	}
	return out
}

// variational refinement tuning constants, matching the rough scale of
// flow.cpp's diffusivity and SOR constants without reproducing its
// exact packed-texture numerics.
const (
	variationalSmoothWeight = 4.0
	variationalSOROmega     = 1.8
	variationalSORPasses    = 5
)

// variationalRefine adds a smooth differential correction to flow via a
// Horn-Schunck-style data + smoothness system, solved with red/black
// (checkerboard) successive over-relaxation, matching flow.cpp's
// Prewarp/Derivatives/SetupEquations/SOR/AddBaseFlow sequence: every
// outer iteration rewarps b by the current total flow estimate, takes
// central-difference derivatives of the rewarped image, and runs several
// red/black SOR sweeps solving for a differential flow update before
// folding it back into the base estimate.
func variationalRefine(la, lb grayLevel, flow *denseFlow, outerIterations int) *denseFlow {
	w, h := flow.w, flow.h
	if outerIterations < 1 {
		outerIterations = 1
	}
	diffDx := make([]float32, w*h)
	diffDy := make([]float32, w*h)

	for outer := 0; outer < outerIterations; outer++ {
		warped := make([]float32, w*h)
		it := make([]float32, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				bx := float64(x) + float64(flow.dx[i]) + float64(diffDx[i])
				by := float64(y) + float64(flow.dy[i]) + float64(diffDy[i])
				warped[i] = lb.bilinear(bx, by)
				it[i] = warped[i] - la.at(x, y)
			}
		}

		ix := make([]float32, w*h)
		iy := make([]float32, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				ix[i] = (warpedAt(warped, w, h, x+1, y) - warpedAt(warped, w, h, x-1, y)) / 2
				iy[i] = (warpedAt(warped, w, h, x, y+1) - warpedAt(warped, w, h, x, y-1)) / 2
			}
		}

		for pass := 0; pass < variationalSORPasses; pass++ {
			for parity := 0; parity < 2; parity++ {
				for y := 0; y < h; y++ {
					for x := 0; x < w; x++ {
						if (x+y)%2 != parity {
							continue
						}
						i := y*w + x
						nDx, nDy, n := neighborAvg(diffDx, diffDy, w, h, x, y)
						if n == 0 {
							continue
						}
						a11 := float64(ix[i])*float64(ix[i]) + variationalSmoothWeight
						a22 := float64(iy[i])*float64(iy[i]) + variationalSmoothWeight
						a12 := float64(ix[i]) * float64(iy[i])
						rhs1 := -float64(ix[i])*float64(it[i]) + variationalSmoothWeight*nDx
						rhs2 := -float64(iy[i])*float64(it[i]) + variationalSmoothWeight*nDy
						det := a11*a22 - a12*a12
						if det <= 1e-6 {
							continue
						}
						newDx := (a22*rhs1 - a12*rhs2) / det
						newDy := (a11*rhs2 - a12*rhs1) / det
						diffDx[i] += float32(variationalSOROmega * (newDx - float64(diffDx[i])))
						diffDy[i] += float32(variationalSOROmega * (newDy - float64(diffDy[i])))
					}
				}
			}
		}
	}

	out := newDenseFlow(w, h)
	for i := range out.dx {
		out.dx[i] = flow.dx[i] + diffDx[i]
		out.dy[i] = flow.dy[i] + diffDy[i]
	}
	return out
}

func warpedAt(plane []float32, w, h, x, y int) float32 {
	x, y = clamp(x, w), clamp(y, h)
	return plane[y*w+x]
}

func neighborAvg(dx, dy []float32, w, h, x, y int) (float64, float64, int) {
	var sumDx, sumDy float64
	n := 0
	offsets := [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}
	for _, o := range offsets {
		nx, ny := x+o[0], y+o[1]
		if nx < 0 || nx >= w || ny < 0 || ny >= h {
			continue
		}
		i := ny*w + nx
		sumDx += float64(dx[i])
		sumDy += float64(dy[i])
		n++
	}
	if n == 0 {
		return 0, 0, 0
	}
	return sumDx / float64(n), sumDy / float64(n), n
}

// disFlow computes DIS optical flow from a to b at the resolution and
// quality configured by op: a pyramid is built from full resolution down
// to CoarsestLevel, then for each level from CoarsestLevel down to
// FinestLevel the previous level's (upsampled) estimate seeds a Sobel
// gradient patch search, densified into a per-pixel field and optionally
// refined variationally, before the final level's field is upsampled back
// to full resolution.
func disFlow(a, b *cpuImage, op OperatingPoint) FlowField {
	w, h := a.width, a.height
	coarsest := op.CoarsestLevel
	finest := op.FinestLevel
	if coarsest < finest {
		coarsest = finest
	}
	if coarsest < 0 {
		coarsest = 0
	}
	if finest < 0 {
		finest = 0
	}

	pyrA := buildGrayPyramid(a, coarsest)
	pyrB := buildGrayPyramid(b, coarsest)

	var flow *denseFlow
	for level := coarsest; level >= finest; level-- {
		la, lb := pyrA[level], pyrB[level]
		var guess *denseFlow
		if flow == nil {
			guess = newDenseFlow(la.w, la.h)
		} else {
			guess = upsampleFlow(flow, la.w, la.h)
		}

		gx, gy := sobelGradients(la)
		patches := motionSearch(la, lb, gx, gy, guess, op)
		dense := densify(patches, la.w, la.h, guess)

		if op.VariationalRefinement {
			dense = variationalRefine(la, lb, dense, coarsest-level+1)
		}

		flow = dense
	}

	if flow.w != w || flow.h != h {
		flow = upsampleFlow(flow, w, h)
	}

	return FlowField{Width: w, Height: h, Dx: flow.dx, Dy: flow.dy}
}
