//go:build !futatabi_headless

package gpu

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"

	"github.com/prosyslab-warehouse/futatabi/internal/metrics"
)

// glObject is one pooled GPU object: a texture bound to its own FBO,
// plus a pair of PBOs for double-buffered asynchronous readback. The
// FBO/PBO/texture triple and the ReadPixels-into-one-PBO-while-mapping-
// the-other pattern are both taken directly from other_examples'
// goshadertoy offscreen renderer.
type glObject struct {
	fbo, tex  uint32
	pbo       [2]uint32
	pboIndex  int
	width, ht int
}

// texturePool recycles glObjects by size so steady-state playback does
// not churn GL allocations every frame; it is the FBO/PBO equivalent of
// the decode cache's byte-budget LRU, just without eviction, since the
// working set of concurrently live textures (current frame, previous
// frame, flow field, interpolated output, chroma-subsampled output) is
// small and bounded by VS's own IFR pool depth.
type texturePool struct {
	free map[[2]int][]*glObject
}

func newTexturePool() *texturePool {
	return &texturePool{free: make(map[[2]int][]*glObject)}
}

func (p *texturePool) acquire(width, height int) (*glObject, error) {
	key := [2]int{width, height}
	if bucket := p.free[key]; len(bucket) > 0 {
		obj := bucket[len(bucket)-1]
		p.free[key] = bucket[:len(bucket)-1]
		return obj, nil
	}
	return p.allocate(width, height)
}

func (p *texturePool) release(obj *glObject) {
	key := [2]int{obj.width, obj.ht}
	p.free[key] = append(p.free[key], obj)
}

func (p *texturePool) allocate(width, height int) (*glObject, error) {
	obj := &glObject{width: width, ht: height}

	gl.GenTextures(1, &obj.tex)
	gl.BindTexture(gl.TEXTURE_2D, obj.tex)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(width), int32(height), 0, gl.RGBA, gl.UNSIGNED_BYTE, nil)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)

	gl.GenFramebuffers(1, &obj.fbo)
	gl.BindFramebuffer(gl.FRAMEBUFFER, obj.fbo)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, obj.tex, 0)
	if status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER); status != gl.FRAMEBUFFER_COMPLETE {
		return nil, fmt.Errorf("gpu: incomplete framebuffer (status 0x%x)", status)
	}

	gl.GenBuffers(2, &obj.pbo[0])
	rowBytes := width * 4
	for i := 0; i < 2; i++ {
		gl.BindBuffer(gl.PIXEL_PACK_BUFFER, obj.pbo[i])
		gl.BufferData(gl.PIXEL_PACK_BUFFER, rowBytes*height, nil, gl.STREAM_READ)
	}
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, 0)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)

	metrics.TexturePoolAllocationsTotal.Inc()
	return obj, nil
}

func (p *texturePool) destroyAll() {
	for _, bucket := range p.free {
		for _, obj := range bucket {
			gl.DeleteFramebuffers(1, &obj.fbo)
			gl.DeleteTextures(1, &obj.tex)
			gl.DeleteBuffers(2, &obj.pbo[0])
		}
	}
	p.free = make(map[[2]int][]*glObject)
}

// readPixelsAsync issues a ReadPixels into the current PBO slot, then
// maps the *other* slot (populated by the previous call) and returns its
// bytes. The first call for any given object therefore returns stale (or
// zeroed) data; callers that need the very first frame's pixels
// synchronously should call this twice. This is the same double-buffer
// trick other_examples' offscreen renderer uses to let the GPU keep
// rendering while the CPU reads back the previous frame's pixels.
func (o *glObject) readPixelsAsync() []byte {
	rowBytes := o.width * 4
	size := rowBytes * o.ht

	gl.BindFramebuffer(gl.FRAMEBUFFER, o.fbo)
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, o.pbo[o.pboIndex])
	gl.ReadPixels(0, 0, int32(o.width), int32(o.ht), gl.RGBA, gl.UNSIGNED_BYTE, nil)

	readIndex := 1 - o.pboIndex
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, o.pbo[readIndex])
	ptr := gl.MapBufferRange(gl.PIXEL_PACK_BUFFER, 0, size, gl.MAP_READ_BIT)

	var out []byte
	if ptr != nil {
		hdr := (*reflect.SliceHeader)(unsafe.Pointer(&out))
		hdr.Data = uintptr(ptr)
		hdr.Len = size
		hdr.Cap = size
		out = append([]byte(nil), out...) // copy out before unmapping
	}
	gl.UnmapBuffer(gl.PIXEL_PACK_BUFFER)
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, 0)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)

	o.pboIndex = readIndex
	return out
}
