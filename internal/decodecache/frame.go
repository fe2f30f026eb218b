package decodecache

import "sync/atomic"

// Frame is the decode cache's concrete ports.DecodedFrame: the planar
// result of decoding one FrameRef's video bytes. GPU-resident pipelines
// (internal/gpu) wrap texture handles behind the same interface; this
// software implementation carries raw 8-bit planar bytes instead, which
// is enough to satisfy DecodedFrame's contract for a decode cache that
// is exercised without a GPU context (tests, the headless build).
type Frame struct {
	width, height int
	exif          []byte

	// Y, Cb, Cr are full-resolution planar samples (Cb/Cr are later
	// chroma-subsampled by internal/gpu's chroma subsampler on the GPU
	// path; the cache itself stores full-resolution planes).
	Y, Cb, Cr []byte

	refs   int32
	onFree func()
}

func (f *Frame) Width() int   { return f.width }
func (f *Frame) Height() int  { return f.height }
func (f *Frame) Exif() []byte { return f.exif }

// Planes exposes the frame's full-resolution YCbCr samples. internal/gpu
// type-asserts for this method to upload a decoded frame without
// decodecache needing to depend on gpu's texture types.
func (f *Frame) Planes() (y, cb, cr []byte) {
	return f.Y, f.Cb, f.Cr
}

// Release decrements the frame's shared reference count, freeing
// underlying resources (via onFree) once it reaches zero. Every caller
// that receives a Frame from Cache.GetOrDecode must call Release exactly
// once when done with it; the cache itself holds one reference for as
// long as the entry is present.
func (f *Frame) Release() {
	if atomic.AddInt32(&f.refs, -1) == 0 && f.onFree != nil {
		f.onFree()
	}
}

func (f *Frame) addRef() {
	atomic.AddInt32(&f.refs, 1)
}

// sizeBytes estimates the frame's footprint for the cache's byte
// budget: one byte per sample across Y, Cb and Cr plus the raw Exif
// blob, roughly matching a 4:4:4 planar allocation before any
// GPU-side chroma subsampling shrinks it.
func (f *Frame) sizeBytes() int64 {
	return int64(len(f.Y)+len(f.Cb)+len(f.Cr)+len(f.exif)) + 64 // + bookkeeping overhead
}
