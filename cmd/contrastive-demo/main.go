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

// contrastive-demo trains a small projection head with the supervised
// contrastive loss on synthetic Gaussian class clusters.
//
// Each sample is drawn around one of a few random class centers and observed
// through two independently-noised views. The projection head is trained so
// same-class projections attract and different-class projections repel; the
// loss should drop well below the uniform baseline log(2*batch_size - 1).
package main

import (
	"flag"
	"fmt"
	"math"

	"github.com/gomlx/contrastive"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagBatchSize    = flag.Int("batch_size", 128, "Samples per batch; each sample yields two views.")
	flagNumClasses   = flag.Int("classes", 4, "Number of synthetic classes.")
	flagInputDim     = flag.Int("input_dim", 16, "Dimension of the raw synthetic observations.")
	flagEmbeddingDim = flag.Int("embedding_dim", 8, "Dimension of the projected embeddings.")
	flagNoise        = flag.Float64("noise", 0.3, "Per-view Gaussian noise added around each class center.")
	flagNumSteps     = flag.Int("steps", 2000, "Number of gradient descent steps.")
	flagLearningRate = flag.Float64("learning_rate", 0.001, "Learning rate for Adam.")
	flagTemperature  = flag.Float64("temperature", contrastive.DefaultTemperature, "Similarity temperature.")
	flagMode         = flag.String("mode", contrastive.ContrastModeAll.String(), "Contrast mode: \"all\" or \"one\".")
	flagUnsupervised = flag.Bool("unsupervised", false, "Ignore class labels and train the SimCLR objective.")
)

const numViews = 2

// buildBatch samples class centers once and builds a batch of two-view
// observations around them: features shaped [batchSize, 2, inputDim] and the
// matching class labels.
func buildBatch(backend backends.Backend) (features, labels *tensors.Tensor) {
	classOf := make([]int32, *flagBatchSize)
	for i := range classOf {
		classOf[i] = int32(i % *flagNumClasses)
	}
	exec := NewExec(backend, func(g *Graph) []*Node {
		rngState := Const(g, RngState())
		var centers *Node
		rngState, centers = RandomNormal(rngState,
			shapes.Make(dtypes.Float32, *flagNumClasses, *flagInputDim))
		labelsNode := Const(g, classOf)
		sampleCenters := Gather(centers, InsertAxes(labelsNode, -1))
		var noise *Node
		rngState, noise = RandomNormal(rngState,
			shapes.Make(dtypes.Float32, *flagBatchSize, numViews, *flagInputDim))
		views := Add(InsertAxes(sampleCenters, 1), MulScalar(noise, *flagNoise))
		return []*Node{views, labelsNode}
	})
	results := exec.Call()
	return results[0], results[1]
}

// clustersDataset yields the same pre-built batch forever.
type clustersDataset struct {
	features, labels *tensors.Tensor
	unsupervised     bool
}

func (ds *clustersDataset) Name() string { return "synthetic clusters" }

func (ds *clustersDataset) Reset() {}

func (ds *clustersDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	spec = ds
	inputs = []*tensors.Tensor{ds.features}
	if !ds.unsupervised {
		labels = []*tensors.Tensor{ds.labels}
	}
	return
}

// modelGraph projects each view independently and L2-normalizes the result,
// returning embeddings shaped [batchSize, numViews, embeddingDim].
func modelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec
	observations := inputs[0]
	batchSize := observations.Shape().Dim(0)
	inputDim := observations.Shape().Dim(2)
	x := Reshape(observations, batchSize*numViews, inputDim)
	x = Tanh(layers.Dense(ctx.In("hidden"), x, true, *flagInputDim))
	x = layers.Dense(ctx.In("projection"), x, true, *flagEmbeddingDim)
	x = L2Normalize(x, -1)
	return []*Node{Reshape(x, batchSize, numViews, *flagEmbeddingDim)}
}

func main() {
	flag.Parse()
	backend := backends.MustNew()
	fmt.Printf("Backend: %s, %s\n", backend.Name(), backend.Description())

	features, labels := buildBatch(backend)
	fmt.Printf("Training data (features, labels): (%s, %s)\n", features.Shape(), labels.Shape())

	ctx := context.New()
	ctx.SetParam(optimizers.ParamLearningRate, *flagLearningRate)
	ctx.SetParam(contrastive.ParamTemperature, *flagTemperature)
	ctx.SetParam(contrastive.ParamContrastMode, *flagMode)
	lossFn := contrastive.FromContext(ctx).LossFn()

	trainer := train.NewTrainer(backend, ctx, modelGraph,
		lossFn,
		optimizers.Adam().Done(),
		nil, nil) // trainMetrics, evalMetrics

	loop := train.NewLoop(trainer)
	commandline.AttachProgressBar(loop)

	ds := &clustersDataset{features: features, labels: labels, unsupervised: *flagUnsupervised}
	metrics := must.M1(loop.RunSteps(ds, *flagNumSteps))
	if len(metrics) == 0 {
		klog.Fatalf("training loop returned no metrics")
	}
	fmt.Printf("Final training loss: %v\n", metrics[0].Value())
	fmt.Printf("Uniform baseline would be log(%d) = %.4f\n",
		numViews**flagBatchSize-1, math.Log(float64(numViews**flagBatchSize-1)))
}
