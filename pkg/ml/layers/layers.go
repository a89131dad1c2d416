// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layers implements a few common neural network layers on top of the graph package.
//
// Each layer registers its parameters (and buffers) in a model.StateDict when created, under a name prefix,
// and reads them back from the model.Scope when applied.
package layers

import (
	"github.com/gomlx/aot/backends"
	"github.com/gomlx/aot/pkg/core/graph"
	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/aot/pkg/ml/initializer"
	"github.com/gomlx/aot/pkg/ml/model"
	"github.com/gomlx/gopjrt/dtypes"
)

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// Linear layer: y = x @ weight^T + bias, with weight [outputs, inputs] and bias [outputs].
type Linear struct {
	prefix  string
	useBias bool
}

// NewLinear creates a Linear layer, registering its parameters "<prefix>.weight" and "<prefix>.bias" in state.
// If init is nil, initializer.Zero is used.
func NewLinear(state *model.StateDict, prefix string, dtype dtypes.DType, inputs, outputs int, useBias bool,
	init initializer.Initializer) *Linear {
	if init == nil {
		init = initializer.Zero
	}
	state.AddParameter(join(prefix, "weight"), init(shapes.Make(dtype, outputs, inputs)))
	if useBias {
		state.AddParameter(join(prefix, "bias"), initializer.Zero(shapes.Make(dtype, outputs)))
	}
	return &Linear{prefix: prefix, useBias: useBias}
}

// Apply the layer to x [batch, inputs].
func (l *Linear) Apply(s *model.Scope, x *graph.Node) *graph.Node {
	var bias *graph.Node
	if l.useBias {
		bias = s.Param(join(l.prefix, "bias"))
	}
	return graph.Linear(x, s.Param(join(l.prefix, "weight")), bias)
}

// Conv2D layer over inputs shaped [batch, channels, height, width], with weight
// [outputChannels, channels/groups, kernelSize, kernelSize] and bias [outputChannels].
type Conv2D struct {
	prefix  string
	useBias bool
	config  backends.ConvConfig
}

// NewConv2D creates a Conv2D layer, registering its parameters "<prefix>.weight" and "<prefix>.bias" in state.
// If config is nil, backends.DefaultConvConfig is used. If init is nil, initializer.Zero is used.
func NewConv2D(state *model.StateDict, prefix string, dtype dtypes.DType, channels, outputChannels, kernelSize int,
	config *backends.ConvConfig, useBias bool, init initializer.Initializer) *Conv2D {
	if config == nil {
		config = backends.DefaultConvConfig()
	}
	if init == nil {
		init = initializer.Zero
	}
	groupChannels := channels / max(config.Groups, 1)
	state.AddParameter(join(prefix, "weight"), init(shapes.Make(dtype, outputChannels, groupChannels, kernelSize, kernelSize)))
	if useBias {
		state.AddParameter(join(prefix, "bias"), initializer.Zero(shapes.Make(dtype, outputChannels)))
	}
	return &Conv2D{prefix: prefix, useBias: useBias, config: *config}
}

// Apply the convolution to x.
func (c *Conv2D) Apply(s *model.Scope, x *graph.Node) *graph.Node {
	config := c.config
	output := graph.Conv2D(x, s.Param(join(c.prefix, "weight")), &config)
	if c.useBias {
		bias := s.Param(join(c.prefix, "bias"))
		output = graph.Add(output, graph.Reshape(bias, 1, -1, 1, 1))
	}
	return output
}

// BatchNorm2D normalizes inputs [batch, channels, height, width] per channel.
//
// It has the parameters "<prefix>.weight" (scale) and "<prefix>.bias" (offset), and the buffers
// "<prefix>.running_mean" and "<prefix>.running_var" with the statistics used for inference.
type BatchNorm2D struct {
	prefix  string
	epsilon float64
}

// NewBatchNorm2D creates a BatchNorm2D layer, registering its parameters and buffers in state.
// Scale is initialized to 1, offset and mean to 0 and variance to 1.
func NewBatchNorm2D(state *model.StateDict, prefix string, dtype dtypes.DType, channels int, epsilon float64) *BatchNorm2D {
	shape := shapes.Make(dtype, channels)
	state.AddParameter(join(prefix, "weight"), initializer.One(shape))
	state.AddParameter(join(prefix, "bias"), initializer.Zero(shape))
	state.AddBuffer(join(prefix, "running_mean"), initializer.Zero(shape))
	state.AddBuffer(join(prefix, "running_var"), initializer.One(shape))
	return &BatchNorm2D{prefix: prefix, epsilon: epsilon}
}

// Apply normalizes x. For inference (s.Training() == false) it uses the running statistics,
// while for training it uses the statistics of the batch. The running statistics are never updated.
func (bn *BatchNorm2D) Apply(s *model.Scope, x *graph.Node) *graph.Node {
	perChannel := func(n *graph.Node) *graph.Node { return graph.Reshape(n, 1, -1, 1, 1) }
	var mean, variance *graph.Node
	if s.Training() {
		mean = graph.ReduceMean(x, 0, 2, 3)
		variance = graph.ReduceMean(graph.Square(graph.Sub(x, perChannel(mean))), 0, 2, 3)
	} else {
		mean = s.Param(join(bn.prefix, "running_mean"))
		variance = s.Param(join(bn.prefix, "running_var"))
	}
	epsilon := graph.Scalar(x.Graph(), x.DType(), bn.epsilon)
	scale := graph.Mul(s.Param(join(bn.prefix, "weight")), graph.Rsqrt(graph.Add(variance, epsilon)))
	normalized := graph.Mul(graph.Sub(x, perChannel(mean)), perChannel(scale))
	return graph.Add(normalized, perChannel(s.Param(join(bn.prefix, "bias"))))
}
