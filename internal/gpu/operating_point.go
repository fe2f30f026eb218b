// Package gpu implements the GPU pipeline: a texture pool, DIS optical
// flow, splat/hole-fill/blend interpolation and
// chroma subsampling. The pipeline is modeled on
// github.com/go-gl/gl/v4.1-core/gl's FBO/PBO/texture lifecycle (the same
// shape other_examples' goshadertoy offscreen renderer drives) behind the
// Pipeline interface; a build tag (futatabi_headless) swaps in a pure
// software implementation of the same interface so the package can be
// imported and tested without a GPU or display.
package gpu

// OperatingPoint is one of the four predefined DIS quality/speed presets.
// Field names and values are ported directly from the source's operating
// point table; only variational_refinement's double-pass shape is left
// for the flow implementation to interpret.
type OperatingPoint struct {
	CoarsestLevel         int
	FinestLevel           int
	SearchIterations      int
	PatchSizePixels       int
	PatchOverlapRatio     float64
	VariationalRefinement bool
	SplatSize             float64
}

// Quality selects one of the four operating points by name, matching
// --interpolation-quality's integer argument (1-4).
type Quality int

const (
	QualityFastest Quality = 1
	QualityFast    Quality = 2
	QualityDefault Quality = 3
	QualityBest    Quality = 4
)

// OperatingPoints maps --interpolation-quality to its OperatingPoint, in
// the same order and with the same constants as the source's
// operating_point1..4.
var OperatingPoints = map[Quality]OperatingPoint{
	QualityFastest: {CoarsestLevel: 5, FinestLevel: 3, SearchIterations: 8, PatchSizePixels: 8, PatchOverlapRatio: 0.30, VariationalRefinement: false, SplatSize: 1.0},
	QualityFast:    {CoarsestLevel: 5, FinestLevel: 3, SearchIterations: 6, PatchSizePixels: 8, PatchOverlapRatio: 0.40, VariationalRefinement: true, SplatSize: 1.0},
	QualityDefault: {CoarsestLevel: 5, FinestLevel: 1, SearchIterations: 8, PatchSizePixels: 12, PatchOverlapRatio: 0.75, VariationalRefinement: true, SplatSize: 4.0},
	QualityBest:    {CoarsestLevel: 5, FinestLevel: 0, SearchIterations: 128, PatchSizePixels: 12, PatchOverlapRatio: 0.75, VariationalRefinement: true, SplatSize: 8.0},
}

// Resolve returns the OperatingPoint for q, defaulting to QualityDefault
// for any value outside 1-4 rather than failing: interpolation quality is
// a tuning knob, not a correctness-critical input.
func (q Quality) Resolve() OperatingPoint {
	if op, ok := OperatingPoints[q]; ok {
		return op
	}
	return OperatingPoints[QualityDefault]
}
