//go:build futatabi_headless

package gpu

import "testing"

// gradientFrame builds a frame whose luma ramps linearly in x, giving
// Sobel gradients nonzero texture for the motion search to lock onto.
func gradientFrame(w, h int) *cpuImage {
	y := make([]byte, w*h)
	cb := make([]byte, w*h)
	cr := make([]byte, w*h)
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			y[py*w+px] = byte(px * 255 / (w - 1))
			cb[py*w+px] = 128
			cr[py*w+px] = 128
		}
	}
	return newCPUImage(w, h, y, cb, cr)
}

// shiftFrame returns a's content shifted right by dx, dy pixels (border
// clamped), so the true flow from shifted back to a is (dx, dy).
func shiftFrame(a *cpuImage, dx, dy int) *cpuImage {
	w, h := a.width, a.height
	y := make([]byte, w*h)
	cb := make([]byte, w*h)
	cr := make([]byte, w*h)
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			y[py*w+px] = a.sampleY(px-dx, py-dy)
			sc, sr := a.sampleChroma(px-dx, py-dy)
			cb[py*w+px] = sc
			cr[py*w+px] = sr
		}
	}
	return newCPUImage(w, h, y, cb, cr)
}

func TestDISFlowZeroForIdenticalFrames(t *testing.T) {
	a := gradientFrame(64, 64)
	flow := disFlow(a, a, QualityFastest.Resolve())
	for i := range flow.Dx {
		if flow.Dx[i] != 0 || flow.Dy[i] != 0 {
			t.Fatalf("expected zero flow between identical frames at index %d, got (%v, %v)", i, flow.Dx[i], flow.Dy[i])
		}
	}
}

func TestDISFlowRecoversConstantShift(t *testing.T) {
	a := gradientFrame(64, 64)
	b := shiftFrame(a, 3, 0)

	flow := disFlow(a, b, QualityDefault.Resolve())

	// Sample well away from the border, where the shift's clamp
	// behavior doesn't contaminate the ramp texture motion search
	// relies on.
	dx, dy := flow.at(32, 32)
	if dx < 1.5 || dx > 4.5 {
		t.Fatalf("expected recovered horizontal flow near 3px, got dx=%v dy=%v", dx, dy)
	}
}

func TestInterpolateFramesMidpointIsBetweenInputs(t *testing.T) {
	a := gradientFrame(32, 32)
	b := shiftFrame(a, 2, 0)
	flow := disFlow(a, b, QualityFast.Resolve())

	out := interpolateFrames(a, b, flow, 0.5, QualityFast.Resolve().SplatSize)
	if out.width != 32 || out.height != 32 {
		t.Fatalf("expected 32x32 output, got %dx%d", out.width, out.height)
	}

	lo, hi := a.sampleY(16, 16), b.sampleY(16, 16)
	if lo > hi {
		lo, hi = hi, lo
	}
	got := out.sampleY(16, 16)
	// A motion-compensated or cross-dissolved blend both land within
	// the range spanned by the two inputs' samples at this point.
	if got < lo || got > hi {
		t.Fatalf("expected interpolated sample in [%d, %d], got %d", lo, hi, got)
	}
}

func TestSplatForwardMarksSplattedPixelsValid(t *testing.T) {
	a := gradientFrame(16, 16)
	b := shiftFrame(a, 1, 0)
	flow := disFlow(a, b, QualityFastest.Resolve())

	field := splatForward(a, b, flow, 0.5, 1.0)
	anyValid := false
	for _, v := range field.valid {
		if v {
			anyValid = true
			break
		}
	}
	if !anyValid {
		t.Fatal("expected splatForward to mark at least some destination pixels valid")
	}
}

func TestHoleFillDirectionFillsFromNearestValidPixel(t *testing.T) {
	field := newWarpField(5, 1)
	field.dx[2] = 7
	field.valid[2] = true

	filled := holeFillDirection(field, 1, 0)
	if !filled.valid[0] || filled.dx[0] != 7 {
		t.Fatalf("expected pixel 0 to inherit flow 7 from pixel 2 (offset 2) scanning rightward, got valid=%v dx=%v", filled.valid[0], filled.dx[0])
	}
}
