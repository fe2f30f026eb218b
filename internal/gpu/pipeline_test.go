//go:build futatabi_headless

package gpu

import (
	"context"
	"testing"
)

// planarFrame is a minimal ports.DecodedFrame with a Planes() method,
// standing in for decodecache.Frame without importing it (that would be
// a decodecache -> gpu -> decodecache cycle risk in test-only code).
type planarFrame struct {
	w, h      int
	y, cb, cr []byte
}

func (f planarFrame) Width() int                 { return f.w }
func (f planarFrame) Height() int                { return f.h }
func (f planarFrame) Exif() []byte               { return nil }
func (f planarFrame) Release()                   {}
func (f planarFrame) Planes() (y, cb, cr []byte) { return f.y, f.cb, f.cr }

func solidFrame(w, h int, yVal, cbVal, crVal byte) planarFrame {
	y := make([]byte, w*h)
	cb := make([]byte, w*h)
	cr := make([]byte, w*h)
	for i := range y {
		y[i], cb[i], cr[i] = yVal, cbVal, crVal
	}
	return planarFrame{w: w, h: h, y: y, cb: cb, cr: cr}
}

func TestHeadlessUploadAndEncodeRoundTrip(t *testing.T) {
	p, err := NewPipeline(64, 64)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	frame := solidFrame(16, 16, 128, 128, 128)
	tex, err := p.Upload(ctx, frame)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	defer p.Release(tex)

	jpegBytes, err := p.EncodeJPEG(ctx, tex, 90)
	if err != nil {
		t.Fatalf("EncodeJPEG: %v", err)
	}
	if len(jpegBytes) == 0 {
		t.Fatal("expected non-empty JPEG output")
	}
	if jpegBytes[0] != 0xFF || jpegBytes[1] != 0xD8 {
		t.Fatalf("expected a JPEG SOI marker, got %x %x", jpegBytes[0], jpegBytes[1])
	}
}

func TestHeadlessBlendIsMidpointForEqualWeights(t *testing.T) {
	p, _ := NewPipeline(64, 64)
	defer p.Close()
	ctx := context.Background()

	a, _ := p.Upload(ctx, solidFrame(8, 8, 0, 100, 100))
	b, _ := p.Upload(ctx, solidFrame(8, 8, 200, 100, 100))
	defer p.Release(a)
	defer p.Release(b)

	out, err := p.Blend(ctx, a, b, 0.5)
	if err != nil {
		t.Fatalf("Blend: %v", err)
	}
	defer p.Release(out)

	got := out.cpu.sampleY(4, 4)
	if got != 100 {
		t.Fatalf("expected Y=100 at the midpoint blend of 0 and 200, got %d", got)
	}
}

func TestHeadlessComputeFlowZeroForIdenticalFrames(t *testing.T) {
	p, _ := NewPipeline(64, 64)
	defer p.Close()
	ctx := context.Background()

	frame := solidFrame(32, 32, 64, 128, 128)
	a, _ := p.Upload(ctx, frame)
	b, _ := p.Upload(ctx, frame)
	defer p.Release(a)
	defer p.Release(b)

	flow, err := p.ComputeFlow(ctx, a, b, QualityFastest)
	if err != nil {
		t.Fatalf("ComputeFlow: %v", err)
	}
	for i := range flow.Dx {
		if flow.Dx[i] != 0 || flow.Dy[i] != 0 {
			t.Fatalf("expected zero flow between identical frames, got (%v, %v) at index %d", flow.Dx[i], flow.Dy[i], i)
		}
	}
}

func TestHeadlessChromaSubsample420HalvesPlaneDims(t *testing.T) {
	p, _ := NewPipeline(64, 64)
	defer p.Close()
	ctx := context.Background()

	a, _ := p.Upload(ctx, solidFrame(16, 16, 128, 64, 192))
	defer p.Release(a)

	out, err := p.ChromaSubsample(ctx, a, Chroma420)
	if err != nil {
		t.Fatalf("ChromaSubsample: %v", err)
	}
	defer p.Release(out)

	if out.cpu.cbW != 8 || out.cpu.cbH != 8 {
		t.Fatalf("expected 8x8 chroma plane after 4:2:0 subsampling of a 16x16 frame, got %dx%d", out.cpu.cbW, out.cpu.cbH)
	}
	cb, cr := out.cpu.sampleChroma(0, 0)
	if cb != 64 || cr != 192 {
		t.Fatalf("expected subsampled chroma to preserve a flat field's values, got cb=%d cr=%d", cb, cr)
	}
}
