package contrastive

import (
	"math"
	"testing"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

// Two samples, two views each, with exactly orthogonal per-sample embeddings.
// Similarities are 1 within a sample and 0 across samples, which keeps the
// expected losses in closed form: at temperature 1 every row's log-partition
// is log(2+e).
var twoOrthogonalSamples = [][][]float32{
	{{1, 0, 0}, {1, 0, 0}},
	{{0, 1, 0}, {0, 1, 0}},
}

// logPartition = log(2 + e), the shared per-row normalizer of the
// twoOrthogonalSamples fixture at temperature 1.
var logPartition = math.Log(2 + math.E)

// unitTemperature makes the expected values hand-computable.
func unitTemperature(mode ContrastMode) *SupCon {
	return &SupCon{Temperature: 1, BaseTemperature: 1, Mode: mode}
}

func TestPositivesMaskDefaultsToIdentity(t *testing.T) {
	graphtest.RunTestGraphFn(t, "PositivesMaskIdentity",
		func(g *Graph) (inputs, outputs []*Node) {
			outputs = []*Node{
				positivesMask(g, dtypes.Float32, 3, nil, nil),
			}
			return
		}, []any{
			[][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		}, -1)
}

func TestPositivesMaskFromLabels(t *testing.T) {
	graphtest.RunTestGraphFn(t, "PositivesMaskFromLabels",
		func(g *Graph) (inputs, outputs []*Node) {
			labels := Const(g, []int32{7, 3, 7})
			labelsColumn := Const(g, [][]int32{{7}, {3}, {7}})
			outputs = []*Node{
				positivesMask(g, dtypes.Float32, 3, labels, nil),
				positivesMask(g, dtypes.Float32, 3, labelsColumn, nil),
			}
			return
		}, []any{
			// Outer equality of the labels, symmetric by construction.
			[][]float32{{1, 0, 1}, {0, 1, 0}, {1, 0, 1}},
			[][]float32{{1, 0, 1}, {0, 1, 0}, {1, 0, 1}},
		}, -1)
}

func TestPositivesMaskExplicitIsUsedAsIs(t *testing.T) {
	graphtest.RunTestGraphFn(t, "PositivesMaskExplicit",
		func(g *Graph) (inputs, outputs []*Node) {
			// Asymmetric, with a soft weight: passed through untouched.
			mask := Const(g, [][]float32{{0, 0.5}, {0, 1}})
			outputs = []*Node{
				positivesMask(g, dtypes.Float32, 2, nil, mask),
			}
			return
		}, []any{
			[][]float32{{0, 0.5}, {0, 1}},
		}, -1)
}

func TestNotSelfMask(t *testing.T) {
	graphtest.RunTestGraphFn(t, "NotSelfMask",
		func(g *Graph) (inputs, outputs []*Node) {
			outputs = []*Node{
				// ContrastModeAll layout: square, zeros on the diagonal.
				ConvertDType(notSelfMask(g, 4, 4), dtypes.Float32),
				// ContrastModeOne layout with 2 views: anchors are the
				// leading flattened rows, so the zeros stay at column == row.
				ConvertDType(notSelfMask(g, 2, 4), dtypes.Float32),
			}
			return
		}, []any{
			[][]float32{
				{0, 1, 1, 1},
				{1, 0, 1, 1},
				{1, 1, 0, 1},
				{1, 1, 1, 0},
			},
			[][]float32{
				{0, 1, 1, 1},
				{1, 0, 1, 1},
			},
		}, -1)
}

func TestTile2D(t *testing.T) {
	graphtest.RunTestGraphFn(t, "Tile2D",
		func(g *Graph) (inputs, outputs []*Node) {
			m := Const(g, [][]float32{{1, 2}, {3, 4}})
			outputs = []*Node{
				tile2D(m, 2, 2),
				tile2D(m, 1, 1),
			}
			return
		}, []any{
			[][]float32{
				{1, 2, 1, 2},
				{3, 4, 3, 4},
				{1, 2, 1, 2},
				{3, 4, 3, 4},
			},
			[][]float32{{1, 2}, {3, 4}},
		}, -1)
}

func TestLossSelfSupervised(t *testing.T) {
	// Without labels or mask the only positive of each anchor is the same
	// sample seen through the other view: loss = log(2+e) - 1.
	graphtest.RunTestGraphFn(t, "LossSelfSupervised",
		func(g *Graph) (inputs, outputs []*Node) {
			features := Const(g, twoOrthogonalSamples)
			outputs = []*Node{
				unitTemperature(ContrastModeAll).Loss(features, nil, nil),
				unitTemperature(ContrastModeOne).Loss(features, nil, nil),
			}
			return
		}, []any{
			float32(logPartition - 1),
			float32(logPartition - 1),
		}, 1e-4)
}

func TestLossWithLabels(t *testing.T) {
	// labels=[0,1] matches the self-supervised positives. labels=[0,0]
	// forces the orthogonal cross-sample pairs to be positives too, a harder
	// objective: each row averages one similarity-1 and two similarity-0
	// positives, so the loss rises to log(2+e) - 1/3.
	graphtest.RunTestGraphFn(t, "LossWithLabels",
		func(g *Graph) (inputs, outputs []*Node) {
			features := Const(g, twoOrthogonalSamples)
			outputs = []*Node{
				unitTemperature(ContrastModeAll).Loss(features, Const(g, []int32{0, 1}), nil),
				unitTemperature(ContrastModeAll).Loss(features, Const(g, []int32{0, 0}), nil),
			}
			return
		}, []any{
			float32(logPartition - 1),
			float32(logPartition - 1.0/3.0),
		}, 1e-4)
}

func TestLossLabelSelectionOrdering(t *testing.T) {
	// Same comparison as TestLossWithLabels but at the default temperature,
	// checking finiteness and the ordering rather than closed-form values.
	backend := graphtest.BuildTestBackend()
	exec := NewExec(backend, func(g *Graph) []*Node {
		features := Const(g, twoOrthogonalSamples)
		return []*Node{
			New().Loss(features, Const(g, []int32{0, 1}), nil),
			New().Loss(features, Const(g, []int32{0, 0}), nil),
		}
	})
	results := exec.Call()
	matched := results[0].Value().(float32)
	collapsed := results[1].Value().(float32)
	require.False(t, math.IsNaN(float64(matched)) || math.IsInf(float64(matched), 0))
	require.Greater(t, matched, float32(0))
	require.Less(t, matched, collapsed)
}

func TestLossWithExplicitMask(t *testing.T) {
	// Cross-sample positives only: every positive pair has similarity 0, so
	// the mean log-probability is -log(2+e) on every row.
	graphtest.RunTestGraphFn(t, "LossWithExplicitMask",
		func(g *Graph) (inputs, outputs []*Node) {
			features := Const(g, twoOrthogonalSamples)
			mask := Const(g, [][]float32{{0, 1}, {1, 0}})
			outputs = []*Node{
				unitTemperature(ContrastModeAll).Loss(features, nil, mask),
			}
			return
		}, []any{
			float32(logPartition),
		}, 1e-4)
}

func TestLossModeEquivalenceSingleView(t *testing.T) {
	// With a single view the anchor set is the same in both modes.
	graphtest.RunTestGraphFn(t, "LossModeEquivalenceSingleView",
		func(g *Graph) (inputs, outputs []*Node) {
			features := Const(g, [][][]float32{
				{{1, 0, 0}},
				{{0.8, 0.6, 0}},
				{{0, 0, 1}},
				{{0, 0.6, 0.8}},
			})
			labels := Const(g, []int32{0, 0, 1, 1})
			all := unitTemperature(ContrastModeAll).Loss(features, labels, nil)
			one := unitTemperature(ContrastModeOne).Loss(features, labels, nil)
			outputs = []*Node{Sub(all, one)}
			return
		}, []any{
			float32(0),
		}, 1e-6)
}

func TestLossFlattensTrailingDimensions(t *testing.T) {
	// Rank-4 features must behave exactly as their rank-3 flattening.
	graphtest.RunTestGraphFn(t, "LossFlattensTrailingDimensions",
		func(g *Graph) (inputs, outputs []*Node) {
			rank4 := Const(g, [][][][]float32{
				{{{1, 0}, {0, 0.5}}, {{0.9, 0.1}, {0, 0.4}}},
				{{{0, 1}, {0.7, 0}}, {{0.1, 0.9}, {0.6, 0}}},
			})
			flat := Reshape(rank4, 2, 2, 4)
			s := unitTemperature(ContrastModeAll)
			outputs = []*Node{Sub(s.Loss(rank4, nil, nil), s.Loss(flat, nil, nil))}
			return
		}, []any{
			float32(0),
		}, 1e-6)
}

func TestLossHighTemperatureFlattens(t *testing.T) {
	// As temperature grows the logits flatten toward uniform and, with
	// base_temperature == temperature, the loss approaches
	// log(num_views*batch_size - 1): the log of the partition size.
	graphtest.RunTestGraphFn(t, "LossHighTemperatureFlattens",
		func(g *Graph) (inputs, outputs []*Node) {
			features := Const(g, twoOrthogonalSamples)
			s := &SupCon{Temperature: 1e4, BaseTemperature: 1e4, Mode: ContrastModeAll}
			outputs = []*Node{s.Loss(features, nil, nil)}
			return
		}, []any{
			float32(math.Log(3)),
		}, 1e-3)
}

func TestLossRowWithoutPositivesIsNaN(t *testing.T) {
	// A single view and no labels leaves every row with zero positives after
	// self-exclusion: the 0/0 must surface as NaN, not be silently guarded.
	backend := graphtest.BuildTestBackend()
	exec := NewExec(backend, func(g *Graph) *Node {
		features := Const(g, [][][]float32{{{1, 0}}, {{0, 1}}})
		return unitTemperature(ContrastModeAll).Loss(features, nil, nil)
	})
	results := exec.Call()
	loss := results[0].Value().(float32)
	require.True(t, math.IsNaN(float64(loss)), "zero-positive rows must propagate NaN, got %v", loss)
}

func TestLossInputErrors(t *testing.T) {
	backend := graphtest.BuildTestBackend()

	g := NewGraph(backend, "rank2Features")
	err := exceptions.TryCatch[error](func() {
		features := Const(g, [][]float32{{1, 0}, {0, 1}})
		_ = New().Loss(features, nil, nil)
	})
	require.ErrorIs(t, err, ErrInvalidShape)

	g = NewGraph(backend, "labelsAndMask")
	err = exceptions.TryCatch[error](func() {
		features := Const(g, twoOrthogonalSamples)
		labels := Const(g, []int32{0, 1})
		mask := Const(g, [][]float32{{1, 0}, {0, 1}})
		_ = New().Loss(features, labels, mask)
	})
	require.ErrorIs(t, err, ErrConflictingArguments)

	g = NewGraph(backend, "labelsLengthMismatch")
	err = exceptions.TryCatch[error](func() {
		features := Const(g, twoOrthogonalSamples)
		labels := Const(g, []int32{0, 1, 2})
		_ = New().Loss(features, labels, nil)
	})
	require.ErrorIs(t, err, ErrInvalidShape)

	g = NewGraph(backend, "maskShapeMismatch")
	err = exceptions.TryCatch[error](func() {
		features := Const(g, twoOrthogonalSamples)
		mask := Const(g, [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}})
		_ = New().Loss(features, nil, mask)
	})
	require.ErrorIs(t, err, ErrInvalidShape)

	g = NewGraph(backend, "unknownMode")
	err = exceptions.TryCatch[error](func() {
		features := Const(g, twoOrthogonalSamples)
		s := New()
		s.Mode = ContrastMode(7)
		_ = s.Loss(features, nil, nil)
	})
	require.ErrorIs(t, err, ErrInvalidConfiguration)

	g = NewGraph(backend, "zeroTemperature")
	err = exceptions.TryCatch[error](func() {
		features := Const(g, twoOrthogonalSamples)
		s := &SupCon{Temperature: 0, BaseTemperature: DefaultTemperature}
		_ = s.Loss(features, nil, nil)
	})
	require.ErrorIs(t, err, ErrInvalidConfiguration)
}
