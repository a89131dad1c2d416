// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"maps"
	"slices"

	"github.com/gomlx/aot/backends"
	"github.com/gomlx/aot/pkg/core/graph"
	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/aot/pkg/core/tensors"
	"github.com/gomlx/aot/pkg/ml/initializer"
	"github.com/gomlx/aot/pkg/ml/layers"
	"github.com/gomlx/aot/pkg/ml/model"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// demo is a built-in model with example inputs, used by the compile and check commands.
type demo struct {
	description string
	build       func(seed uint64) (model.Model, []any)
}

func randomInput(seed uint64, dims ...int) *tensors.Tensor {
	return initializer.Normal(initializer.NewRNG(seed), 1)(shapes.Make(dtypes.Float32, dims...))
}

var demos = map[string]demo{
	"add_linear": {
		description: "x + linear(y), 10x10",
		build: func(seed uint64) (model.Model, []any) {
			state := model.NewStateDict()
			fc := layers.NewLinear(state, "fc", dtypes.Float32, 10, 10, true,
				initializer.GlorotUniform(initializer.NewRNG(seed)))
			m := model.NewFunc(state, func(s *model.Scope, args []any) any {
				return graph.Add(args[0].(*graph.Node), fc.Apply(s, args[1].(*graph.Node)))
			})
			return m, []any{randomInput(seed+1, 10, 10), randomInput(seed+2, 10, 10)}
		},
	},
	"sin_mm_cos": {
		description: "cos(sin(x) @ w), returned with x + 1",
		build: func(seed uint64) (model.Model, []any) {
			state := model.NewStateDict().AddParameter("w", randomInput(seed, 8, 4))
			m := model.NewFunc(state, func(s *model.Scope, args []any) any {
				x := args[0].(*graph.Node)
				y := graph.Cos(graph.MatMul(graph.Sin(x), s.Param("w")))
				return []any{y, graph.Add(x, graph.Scalar(s.Graph(), dtypes.Float32, 1))}
			})
			return m, []any{randomInput(seed+1, 6, 8)}
		},
	},
	"conv_bn": {
		description: "grouped conv2d, batch norm, relu, global pooling and a linear head",
		build: func(seed uint64) (model.Model, []any) {
			state := model.NewStateDict()
			cfg := backends.DefaultConvConfig()
			cfg.Padding = [2]int{1, 1}
			cfg.Groups = 2
			conv := layers.NewConv2D(state, "conv", dtypes.Float32, 4, 8, 3, cfg, true,
				initializer.GlorotUniform(initializer.NewRNG(seed)))
			bn := layers.NewBatchNorm2D(state, "bn", dtypes.Float32, 8, 1e-5)
			head := layers.NewLinear(state, "head", dtypes.Float32, 8, 3, true,
				initializer.GlorotUniform(initializer.NewRNG(seed+1)))
			m := model.NewFunc(state, func(s *model.Scope, args []any) any {
				x := graph.Relu(bn.Apply(s, conv.Apply(s, args[0].(*graph.Node))))
				return head.Apply(s, graph.ReduceMean(x, 2, 3))
			})
			return m, []any{randomInput(seed+2, 2, 4, 12, 12)}
		},
	},
	"unsqueeze_cat": {
		description: "stack of two inputs, sigmoid of one row and the other row",
		build: func(seed uint64) (model.Model, []any) {
			m := model.NewFunc(nil, func(s *model.Scope, args []any) any {
				pair := args[0].(map[string]any)
				a, b := pair["a"].(*graph.Node), pair["b"].(*graph.Node)
				stacked := graph.Concatenate(0, graph.ExpandDims(a, 0), graph.ExpandDims(b, 0))
				return []any{graph.Sigmoid(graph.Index(stacked, 0, 1)), graph.Index(stacked, 0, 0)}
			})
			inputs := map[string]*tensors.Tensor{"a": randomInput(seed, 3, 5), "b": randomInput(seed+1, 3, 5)}
			return m, []any{inputs}
		},
	},
}

func demoNames() []string {
	return slices.Sorted(maps.Keys(demos))
}

func lookupDemo(name string) (demo, error) {
	d, found := demos[name]
	if !found {
		return demo{}, errors.Errorf("unknown model %q, valid models are %v", name, demoNames())
	}
	return d, nil
}
