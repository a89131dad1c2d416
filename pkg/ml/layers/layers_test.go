// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"testing"

	"github.com/gomlx/aot/backends"
	"github.com/gomlx/aot/pkg/core/graph"
	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/aot/pkg/core/tensors"
	"github.com/gomlx/aot/pkg/ml/initializer"
	"github.com/gomlx/aot/pkg/ml/model"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type convNet struct {
	state *model.StateDict
	conv  *Conv2D
	bn    *BatchNorm2D
}

func (m *convNet) State() *model.StateDict { return m.state }

func (m *convNet) Forward(s *model.Scope, args []any) any {
	return graph.Relu(m.bn.Apply(s, m.conv.Apply(s, args[0].(*graph.Node))))
}

func TestLinear(t *testing.T) {
	state := model.NewStateDict()
	linear := NewLinear(state, "fc", dtypes.Float32, 3, 2, true, initializer.One)
	assert.Equal(t, []string{"fc.weight", "fc.bias"}, state.Names())
	assert.Equal(t, []int{2, 3}, state.Get("fc.weight").Shape().Dimensions)

	m := model.NewFunc(state, func(s *model.Scope, args []any) any {
		return linear.Apply(s, args[0].(*graph.Node))
	})
	out, err := model.Call(m, tensors.FromValue([][]float32{{1, 2, 3}}))
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{6, 6}}, out.(*tensors.Tensor).Value())
}

func TestConvBatchNorm(t *testing.T) {
	state := model.NewStateDict()
	config := backends.DefaultConvConfig()
	config.Padding = [2]int{1, 1}
	m := &convNet{
		state: state,
		conv:  NewConv2D(state, "conv", dtypes.Float32, 2, 4, 3, config, true, initializer.Uniform(initializer.NewRNG(1), -1, 1)),
		bn:    NewBatchNorm2D(state, "bn", dtypes.Float32, 4, 1e-5),
	}
	// Parameters first, then buffers.
	assert.Equal(t, []string{"conv.weight", "conv.bias", "bn.weight", "bn.bias", "bn.running_mean", "bn.running_var"},
		state.Names())

	x := initializer.Normal(initializer.NewRNG(2), 1)(shapes.Make(dtypes.Float32, 2, 2, 5, 5))
	out, err := model.Call(m, x)
	require.NoError(t, err)
	result := out.(*tensors.Tensor)
	assert.Equal(t, []int{2, 4, 5, 5}, result.Shape().Dimensions)
	for _, v := range result.ToFloat64s() {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}
