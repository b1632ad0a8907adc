/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package contrastive implements the supervised contrastive loss ("SupCon")
// from "Supervised Contrastive Learning", https://arxiv.org/abs/2004.11362.
//
// Given a batch of multi-view embeddings shaped `[batch_size, num_views, ...]`
// and (optionally) class labels or an explicit positives mask, it builds a
// computation graph that pulls same-class embeddings together and pushes
// different-class embeddings apart, in a temperature-scaled log-softmax
// formulation. When neither labels nor mask is given it degenerates to the
// SimCLR self-supervised loss (https://arxiv.org/abs/2002.05709), where the
// only positives of a sample are its other views.
//
// The returned loss is a scalar *graph.Node, differentiable with respect to
// the features, so it can be plugged directly into gradient descent -- see
// SupCon.LossFn for a ready-made train.Trainer adapter.
//
// Memory and compute are dominated by the `[num_views*batch_size,
// num_views*batch_size]` similarity matrix, which in practice governs batch
// size and view count. That is a scaling property, not an enforced limit.
package contrastive

import (
	"github.com/pkg/errors"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

//go:generate enumer -type=ContrastMode -trimprefix=ContrastMode -transform=snake -values -text -json -yaml contrastive.go

// ContrastMode selects which views serve as anchors (rows of the loss).
type ContrastMode int

const (
	// ContrastModeAll uses every view of every sample as an anchor.
	ContrastModeAll ContrastMode = iota

	// ContrastModeOne uses only the first view of each sample as an anchor.
	ContrastModeOne
)

// DefaultTemperature is used by New for both Temperature and BaseTemperature.
// The value follows the SupCon paper.
const DefaultTemperature = 0.07

// Errors panicked by SupCon.Loss on invalid inputs or configuration. Graph
// building in GoMLX reports caller errors through panics; recover them with
// `exceptions.TryCatch[error]` and match with `errors.Is`.
var (
	// ErrInvalidShape is panicked when features are not rank >= 3
	// (`[batch_size, num_views, ...]`), or labels/mask dimensions don't
	// match the batch size.
	ErrInvalidShape = errors.New("invalid shape")

	// ErrConflictingArguments is panicked when both labels and mask are given.
	ErrConflictingArguments = errors.New("labels and mask are mutually exclusive")

	// ErrInvalidConfiguration is panicked on an unknown ContrastMode or
	// non-positive temperatures.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// SupCon computes the supervised contrastive loss. It holds only immutable
// hyperparameters, so one value can be shared freely across goroutines and
// graph builds.
//
// The zero value is not valid (zero temperatures); use New or fill all fields.
type SupCon struct {
	// Temperature scales the similarity logits before exponentiation; lower
	// values sharpen the distribution. Must be > 0.
	Temperature float64

	// BaseTemperature rescales the final loss magnitude independently of
	// Temperature: the per-row loss is multiplied by
	// Temperature/BaseTemperature. Must be > 0.
	BaseTemperature float64

	// Mode selects the anchor set. Defaults to ContrastModeAll.
	Mode ContrastMode
}

// New returns a SupCon with the paper's defaults: Temperature and
// BaseTemperature of 0.07, and ContrastModeAll.
func New() *SupCon {
	return &SupCon{
		Temperature:     DefaultTemperature,
		BaseTemperature: DefaultTemperature,
		Mode:            ContrastModeAll,
	}
}

// Loss builds the supervised contrastive loss for the batch of features and
// returns it as a scalar node of the features' dtype.
//
// features must be shaped `[batch_size, num_views, <feature dims...>]` (rank
// >= 3); extra trailing dimensions are flattened into a single feature axis.
//
// labels and mask are mutually exclusive and both optional (nil):
//   - labels: `[batch_size]` (or `[batch_size, 1]`) class identifiers, any
//     dtype comparable with Equal. Sample j is a positive of sample i iff
//     labels[i] == labels[j].
//   - mask: `[batch_size, batch_size]` where mask[i,j] != 0 marks sample j as
//     a positive of sample i. May be asymmetric and may carry soft weights;
//     it is converted to the features dtype and used as-is.
//   - neither: each sample is its own sole positive (identity mask), which
//     after self-exclusion leaves the sample's other views as positives --
//     the SimCLR case. This requires num_views >= 2.
//
// A sample comparing against the exact same view of itself is always excluded,
// from both the positives and the softmax partition.
//
// Every anchor row must have at least one positive: a row with none divides
// zero by zero and the NaN propagates to the result. This is intentionally
// not guarded -- it signals a misconfigured batch (e.g. a unique-label sample
// with a single view).
func (s *SupCon) Loss(features, labels, mask *Node) *Node {
	if s.Temperature <= 0 || s.BaseTemperature <= 0 {
		panic(errors.WithMessagef(ErrInvalidConfiguration,
			"temperatures must be > 0, got Temperature=%g, BaseTemperature=%g",
			s.Temperature, s.BaseTemperature))
	}
	if features.Rank() < 3 {
		panic(errors.WithMessagef(ErrInvalidShape,
			"features must be rank >= 3, shaped [batch_size, num_views, ...], got %s",
			features.Shape()))
	}
	g := features.Graph()
	dtype := features.DType()
	batchSize := features.Shape().Dim(0)
	numViews := features.Shape().Dim(1)
	if features.Rank() > 3 {
		featureDim := features.Shape().Size() / (batchSize * numViews)
		features = Reshape(features, batchSize, numViews, featureDim)
	}

	// Stage 1: resolve labels/mask/neither to a [batchSize, batchSize]
	// positives indicator.
	positives := positivesMask(g, dtype, batchSize, labels, mask)

	// Stage 2: flatten views into the batch axis and pick the anchor set.
	anchors, contrast, anchorViews := anchorsAndContrast(features, s.Mode)
	numRows := anchorViews * batchSize
	numCols := numViews * batchSize

	// Stage 3: per-pair log-probabilities, excluding self-pairs from the
	// partition.
	notSelf := notSelfMask(g, numRows, numCols)
	logProbs := stableLogProbs(anchors, contrast, s.Temperature, notSelf)

	// Stage 4: mean log-probability over each row's positives, scaled and
	// averaged over all anchor rows.
	positives = Mul(
		tile2D(positives, anchorViews, numViews),
		ConvertDType(notSelf, dtype))
	meanLogProbPos := Div(
		ReduceSum(Mul(positives, logProbs), -1),
		ReduceSum(positives, -1))
	loss := MulScalar(meanLogProbPos, -s.Temperature/s.BaseTemperature)
	return ReduceAllMean(loss)
}

// positivesMask resolves the (labels | mask | neither) union into a concrete
// `[batchSize, batchSize]` matrix of dtype, where entry (i, j) != 0 marks
// sample j as a positive of sample i. Self-pairs are not yet excluded here.
func positivesMask(g *Graph, dtype dtypes.DType, batchSize int, labels, mask *Node) *Node {
	if labels != nil && mask != nil {
		panic(errors.WithMessage(ErrConflictingArguments,
			"pass the class labels or a precomputed positives mask, not both"))
	}
	switch {
	case labels != nil:
		if labels.Rank() == 2 && labels.Shape().Dim(1) == 1 {
			labels = Reshape(labels, labels.Shape().Dim(0))
		}
		if labels.Rank() != 1 || labels.Shape().Dim(0) != batchSize {
			panic(errors.WithMessagef(ErrInvalidShape,
				"labels must be shaped [batch_size=%d] or [batch_size, 1], got %s",
				batchSize, labels.Shape()))
		}
		// Outer equality: same[i, j] = labels[i] == labels[j]. Symmetric by
		// construction.
		same := Equal(InsertAxes(labels, -1), InsertAxes(labels, 0))
		return ConvertDType(same, dtype)
	case mask != nil:
		if mask.Rank() != 2 || mask.Shape().Dim(0) != batchSize || mask.Shape().Dim(1) != batchSize {
			panic(errors.WithMessagef(ErrInvalidShape,
				"mask must be shaped [batch_size=%d, batch_size=%d], got %s",
				batchSize, batchSize, mask.Shape()))
		}
		return ConvertDType(mask, dtype)
	default:
		return ConvertDType(Diagonal(g, batchSize), dtype)
	}
}

// anchorsAndContrast concatenates the per-view slices of features along the
// batch axis, view-major -- rows [v*batchSize, (v+1)*batchSize) hold view v --
// to form the contrast set, and selects the anchor set according to mode.
//
// features must already be rank-3, `[batchSize, numViews, featureDim]`. The
// returned anchors span anchorViews views: all of them for ContrastModeAll,
// only view 0 for ContrastModeOne.
func anchorsAndContrast(features *Node, mode ContrastMode) (anchors, contrast *Node, anchorViews int) {
	batchSize := features.Shape().Dim(0)
	numViews := features.Shape().Dim(1)
	featureDim := features.Shape().Dim(2)
	views := make([]*Node, numViews)
	for v := range views {
		views[v] = Reshape(
			Slice(features, AxisRange(), AxisRange(v, v+1), AxisRange()),
			batchSize, featureDim)
	}
	contrast = Concatenate(views, 0)
	switch mode {
	case ContrastModeOne:
		anchors = views[0]
		anchorViews = 1
	case ContrastModeAll:
		anchors = contrast
		anchorViews = numViews
	default:
		panic(errors.WithMessagef(ErrInvalidConfiguration,
			"unknown contrast mode %d, valid values are %v", int(mode), ContrastModeStrings()))
	}
	return
}

// notSelfMask returns a `[numRows, numCols]` boolean matrix that is false only
// where a flattened anchor index meets the identical flattened contrast index:
// exactly one false per row, at column == row. Anchors are always the leading
// rows of the flattened view-major layout, so index equality holds for both
// contrast modes.
func notSelfMask(g *Graph, numRows, numCols int) *Node {
	shape := shapes.Make(dtypes.Int32, numRows, numCols)
	return NotEqual(Iota(g, shape, 0), Iota(g, shape, 1))
}

// stableLogProbs returns log(softmax) of the temperature-scaled similarities
// between every anchor row and every contrast column, with notSelf pairs
// excluded from the partition function.
//
// The row-wise maximum is subtracted before exponentiation for numerical
// stability. The subtracted maximum is wrapped in StopGradient: it is a
// constant that cancels out in the softmax normalization, and gradients must
// not flow through the max itself.
func stableLogProbs(anchors, contrast *Node, temperature float64, notSelf *Node) *Node {
	logits := DivScalar(MatMul(anchors, Transpose(contrast, 0, 1)), temperature)
	logitsMax := StopGradient(ReduceAndKeep(logits, ReduceMax, -1))
	logits = Sub(logits, logitsMax)
	expLogits := Mul(Exp(logits), ConvertDType(notSelf, logits.DType()))
	return Sub(logits, Log(ReduceAndKeep(expLogits, ReduceSum, -1)))
}

// tile2D repeats the matrix m rows times along axis 0 and cols times along
// axis 1, aligning the per-sample positives mask with the flattened
// view-major anchor/contrast layout.
func tile2D(m *Node, rows, cols int) *Node {
	if rows > 1 {
		copies := make([]*Node, rows)
		for i := range copies {
			copies[i] = m
		}
		m = Concatenate(copies, 0)
	}
	if cols > 1 {
		copies := make([]*Node, cols)
		for i := range copies {
			copies[i] = m
		}
		m = Concatenate(copies, 1)
	}
	return m
}
