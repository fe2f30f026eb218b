//go:build !futatabi_headless

package gpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-gl/gl/v4.1-core/gl"

	"github.com/prosyslab-warehouse/futatabi/internal/domain/ports"
	"github.com/prosyslab-warehouse/futatabi/internal/metrics"
)

// glPipeline is the production Pipeline: every Texture is backed by a
// real pooled FBO/texture/PBO triple (gl_pool.go), with real GL entry
// points for allocation, upload, async PBO readback and release. The
// DIS flow search and splat/hole-fill/blend interpolation (flow.go,
// interpolate.go) run against a host-memory mirror read back from the
// GPU texture rather than as GLSL compute/fragment shaders: they are the
// same CPU implementation the headless backend runs directly, so both
// backends compute identical results from identical inputs. See
// DESIGN.md for the readback-vs-shader tradeoff this implies.
//
// A single mutex serializes GL calls: the offscreen context is only
// ever current on one goroutine at a time, following the usual
// convention of one owning goroutine per shared resource.
type glPipeline struct {
	ctx  *glContext
	pool *texturePool

	mu sync.Mutex
}

// NewPipeline creates the offscreen GL context and texture pool. width
// and height bound the window GLFW creates to host the context; actual
// per-texture sizes are independent and set per Upload call.
func NewPipeline(width, height int) (Pipeline, error) {
	ctx, err := newGLContext(width, height)
	if err != nil {
		return nil, err
	}
	return &glPipeline{ctx: ctx, pool: newTexturePool()}, nil
}

func (p *glPipeline) Upload(ctx context.Context, frame ports.DecodedFrame) (Texture, error) {
	if err := ctx.Err(); err != nil {
		return Texture{}, err
	}
	type planar interface {
		Planes() (y, cb, cr []byte)
	}
	pf, ok := frame.(planar)
	if !ok {
		return Texture{}, fmt.Errorf("gpu: Upload requires a planar DecodedFrame, got %T", frame)
	}
	y, cb, cr := pf.Planes()
	img := newCPUImage(frame.Width(), frame.Height(), y, cb, cr)

	p.mu.Lock()
	defer p.mu.Unlock()
	obj, err := p.pool.acquire(img.width, img.height)
	if err != nil {
		return Texture{}, fmt.Errorf("gpu: acquire texture: %w", err)
	}
	metrics.TexturePoolInUse.Inc()

	rgba := packRGBA8(img)
	gl.BindTexture(gl.TEXTURE_2D, obj.tex)
	gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(obj.width), int32(obj.ht), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(rgba))
	gl.BindTexture(gl.TEXTURE_2D, 0)

	return Texture{width: img.width, height: img.height, glObj: obj}, nil
}

// readback pulls obj's current contents off the GPU as a planar
// cpuImage. The double-buffered PBO needs two ReadPixels calls before
// the mapped buffer reflects the most recent write, matching
// readPixelsAsync's documented behavior in gl_pool.go.
func (p *glPipeline) readback(obj *glObject) *cpuImage {
	obj.readPixelsAsync()
	rgba := obj.readPixelsAsync()
	return unpackRGBA8(obj.width, obj.ht, rgba)
}

func (p *glPipeline) upload(img *cpuImage) (*glObject, error) {
	obj, err := p.pool.acquire(img.width, img.height)
	if err != nil {
		return nil, fmt.Errorf("gpu: acquire texture: %w", err)
	}
	rgba := packRGBA8(img)
	gl.BindTexture(gl.TEXTURE_2D, obj.tex)
	gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(obj.width), int32(obj.ht), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(rgba))
	gl.BindTexture(gl.TEXTURE_2D, 0)
	metrics.TexturePoolInUse.Inc()
	return obj, nil
}

func (p *glPipeline) ComputeFlow(ctx context.Context, a, b Texture, q Quality) (FlowField, error) {
	if err := ctx.Err(); err != nil {
		return FlowField{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	aImg := p.readback(a.glObj.(*glObject))
	bImg := p.readback(b.glObj.(*glObject))

	var field FlowField
	err := observeFlow(func() error {
		field = disFlow(aImg, bImg, q.Resolve())
		return nil
	})
	return field, err
}

func (p *glPipeline) Interpolate(ctx context.Context, a, b Texture, flow FlowField, alpha float64, splatSize float64) (Texture, error) {
	if err := ctx.Err(); err != nil {
		return Texture{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	aImg := p.readback(a.glObj.(*glObject))
	bImg := p.readback(b.glObj.(*glObject))

	var out *cpuImage
	err := observeInterpolate(func() error {
		out = interpolateFrames(aImg, bImg, flow, alpha, splatSize)
		return nil
	})
	if err != nil {
		return Texture{}, err
	}
	obj, err := p.upload(out)
	if err != nil {
		return Texture{}, err
	}
	return Texture{width: out.width, height: out.height, glObj: obj}, nil
}

func (p *glPipeline) Blend(ctx context.Context, a, b Texture, alpha float64) (Texture, error) {
	if err := ctx.Err(); err != nil {
		return Texture{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	aImg := p.readback(a.glObj.(*glObject))
	bImg := p.readback(b.glObj.(*glObject))
	out := blendImages(aImg, bImg, alpha)
	obj, err := p.upload(out)
	if err != nil {
		return Texture{}, err
	}
	return Texture{width: out.width, height: out.height, glObj: obj}, nil
}

func (p *glPipeline) ChromaSubsample(ctx context.Context, tex Texture, mode ChromaMode) (Texture, error) {
	if err := ctx.Err(); err != nil {
		return Texture{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	img := p.readback(tex.glObj.(*glObject))
	out, err := subsampleChroma(img, mode)
	if err != nil {
		return Texture{}, err
	}
	obj, err := p.upload(out)
	if err != nil {
		return Texture{}, err
	}
	return Texture{width: out.width, height: out.height, glObj: obj}, nil
}

func (p *glPipeline) EncodeJPEG(ctx context.Context, tex Texture, quality int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	img := p.readback(tex.glObj.(*glObject))
	p.mu.Unlock()
	return encodeJPEG(img, quality)
}

func (p *glPipeline) Release(tex Texture) {
	obj, ok := tex.glObj.(*glObject)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pool.release(obj)
	metrics.TexturePoolInUse.Dec()
}

func (p *glPipeline) Close() error {
	p.mu.Lock()
	p.pool.destroyAll()
	p.mu.Unlock()
	return p.ctx.Close()
}
