//go:build futatabi_headless

package gpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/prosyslab-warehouse/futatabi/internal/domain/ports"
	"github.com/prosyslab-warehouse/futatabi/internal/metrics"
)

// headlessPipeline implements Pipeline entirely on the CPU, so the
// package builds and tests without a GPU or display. It runs the exact
// same DIS flow and splat/hole-fill/blend interpolation (flow.go,
// interpolate.go) as the GL backend's readback path, so -tags
// futatabi_headless exercises real algorithmic behavior, not a stub.
type headlessPipeline struct {
	mu     sync.Mutex
	inUse  map[uint32]*cpuImage
	nextID uint32
}

// NewPipeline returns the headless backend. Callers compile with
// -tags futatabi_headless to get this build instead of the GL one.
// width and height are accepted to keep the signature identical to the
// GL backend's; the CPU backend has no offscreen window to size.
func NewPipeline(width, height int) (Pipeline, error) {
	_ = width
	_ = height
	return &headlessPipeline{inUse: make(map[uint32]*cpuImage)}, nil
}

func (p *headlessPipeline) alloc(im *cpuImage) Texture {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	p.inUse[id] = im
	metrics.TexturePoolAllocationsTotal.Inc()
	metrics.TexturePoolInUse.Set(float64(len(p.inUse)))
	return Texture{id: id, width: im.width, height: im.height, cpu: im}
}

func (p *headlessPipeline) Upload(ctx context.Context, frame ports.DecodedFrame) (Texture, error) {
	if err := ctx.Err(); err != nil {
		return Texture{}, err
	}
	type planar interface {
		Planes() (y, cb, cr []byte)
	}
	pf, ok := frame.(planar)
	if !ok {
		return Texture{}, fmt.Errorf("gpu: headless Upload requires a planar DecodedFrame, got %T", frame)
	}
	y, cb, cr := pf.Planes()
	im := newCPUImage(frame.Width(), frame.Height(), y, cb, cr)
	return p.alloc(im), nil
}

func (p *headlessPipeline) ComputeFlow(ctx context.Context, a, b Texture, q Quality) (FlowField, error) {
	if err := ctx.Err(); err != nil {
		return FlowField{}, err
	}
	op := q.Resolve()
	var field FlowField
	err := observeFlow(func() error {
		field = disFlow(a.cpu, b.cpu, op)
		return nil
	})
	return field, err
}

func (p *headlessPipeline) Interpolate(ctx context.Context, a, b Texture, flow FlowField, alpha float64, splatSize float64) (Texture, error) {
	if err := ctx.Err(); err != nil {
		return Texture{}, err
	}
	var out *cpuImage
	err := observeInterpolate(func() error {
		out = interpolateFrames(a.cpu, b.cpu, flow, alpha, splatSize)
		return nil
	})
	if err != nil {
		return Texture{}, err
	}
	return p.alloc(out), nil
}

func (p *headlessPipeline) Blend(ctx context.Context, a, b Texture, alpha float64) (Texture, error) {
	if err := ctx.Err(); err != nil {
		return Texture{}, err
	}
	return p.alloc(blendImages(a.cpu, b.cpu, alpha)), nil
}

func (p *headlessPipeline) ChromaSubsample(ctx context.Context, tex Texture, mode ChromaMode) (Texture, error) {
	if err := ctx.Err(); err != nil {
		return Texture{}, err
	}
	out, err := subsampleChroma(tex.cpu, mode)
	if err != nil {
		return Texture{}, err
	}
	return p.alloc(out), nil
}

func (p *headlessPipeline) EncodeJPEG(ctx context.Context, tex Texture, quality int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return encodeJPEG(tex.cpu, quality)
}

func (p *headlessPipeline) Release(tex Texture) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, tex.id)
	metrics.TexturePoolInUse.Set(float64(len(p.inUse)))
}

func (p *headlessPipeline) Close() error {
	return nil
}
