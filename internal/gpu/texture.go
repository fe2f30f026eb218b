package gpu

// ChromaMode selects the output chroma subsampling ratio, matching the
// two layouts the muxer advertises in its CodecPrivate.
type ChromaMode int

const (
	Chroma420 ChromaMode = iota
	Chroma422
)

// Texture is an opaque handle into the pipeline's GPU (or, under the
// futatabi_headless build tag, host-memory) frame storage. Its zero value
// is never valid; callers obtain one from Pipeline.Upload or a
// processing stage and must Release it through Pipeline.Release.
type Texture struct {
	id            uint32 // headless backend's in-use key; unused by the GL backend
	width, height int

	// cpu is the headless backend's host-memory image, which the shared
	// pixel code (algorithms.go) computes against. The GL backend leaves
	// it nil and keeps glObj (typed as *glObject, declared only under the
	// GL build tag; any avoids a forward reference from this untagged
	// file) as the real pooled GPU resource backing the texture, reading
	// it back into a *cpuImage when a stage needs host memory.
	cpu   *cpuImage
	glObj any
}

// Width and Height report the texture's pixel dimensions.
func (t Texture) Width() int  { return t.width }
func (t Texture) Height() int { return t.height }

// Valid reports whether t was ever populated by a pipeline call, as
// opposed to a zero Texture{} a caller constructed by mistake.
func (t Texture) Valid() bool { return t.width > 0 && t.height > 0 }

// FlowField holds the per-pixel motion vectors DIS optical flow computed
// from frame A to frame B: computed down to the finest pyramid level
// configured by the OperatingPoint, then upsampled to full frame
// resolution. Dx/Dy are in pixels, one float32 pair per output pixel,
// row-major.
type FlowField struct {
	Width, Height int
	Dx, Dy        []float32
}

// at returns the flow vector at (x, y), clamping to the field's bounds so
// interpolation code never has to special-case the border.
func (f FlowField) at(x, y int) (dx, dy float32) {
	if x < 0 {
		x = 0
	} else if x >= f.Width {
		x = f.Width - 1
	}
	if y < 0 {
		y = 0
	} else if y >= f.Height {
		y = f.Height - 1
	}
	i := y*f.Width + x
	return f.Dx[i], f.Dy[i]
}
