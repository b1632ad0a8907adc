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

package contrastive

import (
	"github.com/pkg/errors"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/losses"
)

// Context hyperparameters read by FromContext. They can be set with
// Context.SetParam at any scope.
const (
	// ParamTemperature is the similarity temperature. Defaults to 0.07.
	ParamTemperature = "contrastive_temperature"

	// ParamBaseTemperature rescales the loss magnitude. Defaults to 0.07.
	ParamBaseTemperature = "contrastive_base_temperature"

	// ParamContrastMode is the anchor selection mode, "all" or "one".
	// Defaults to "all".
	ParamContrastMode = "contrastive_mode"
)

// FromContext returns a SupCon configured from the context hyperparameters
// ParamTemperature, ParamBaseTemperature and ParamContrastMode, using the
// usual defaults where they are not set.
//
// It panics with ErrInvalidConfiguration if ParamContrastMode doesn't parse.
func FromContext(ctx *context.Context) *SupCon {
	s := New()
	s.Temperature = context.GetParamOr(ctx, ParamTemperature, DefaultTemperature)
	s.BaseTemperature = context.GetParamOr(ctx, ParamBaseTemperature, DefaultTemperature)
	modeName := context.GetParamOr(ctx, ParamContrastMode, ContrastModeAll.String())
	mode, err := ContrastModeString(modeName)
	if err != nil {
		panic(errors.WithMessagef(ErrInvalidConfiguration,
			"hyperparameter %q=%q, valid values are %v", ParamContrastMode, modeName, ContrastModeStrings()))
	}
	s.Mode = mode
	return s
}

// LossFn adapts the loss to the losses.LossFn signature used by
// train.Trainer: predictions[0] are the `[batch_size, num_views, ...]`
// embeddings output by the model, and labels[0] -- if the dataset yields any
// labels -- are the `[batch_size]` class labels. An empty labels slice selects
// the self-supervised (SimCLR) objective.
//
// The returned loss is already reduced to a scalar.
func (s *SupCon) LossFn() losses.LossFn {
	return func(labels, predictions []*Node) *Node {
		var labelsNode *Node
		if len(labels) > 0 {
			labelsNode = labels[0]
		}
		return s.Loss(predictions[0], labelsNode, nil)
	}
}
