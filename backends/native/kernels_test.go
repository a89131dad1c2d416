// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package native

import (
	"math/rand/v2"
	"testing"

	"github.com/gomlx/aot/backends"
	"github.com/gomlx/aot/internal/workerspool"
	"github.com/gomlx/aot/pkg/aot/artifact"
	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/aot/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

// execInstruction runs a single instruction on the given operands.
func execInstruction(t *testing.T, op backends.OpType, shape shapes.Shape, attrs backends.Attrs,
	operands ...*tensors.Tensor) *tensors.Tensor {
	inst := &artifact.Instruction{Op: op, Shape: shape, Attrs: attrs, Literal: artifact.NoLiteral}
	key, k, found := lookupKernel(inst)
	require.Truef(t, found, "kernel %s not found", key.Symbol())
	inputs := make([]*buffer, len(operands))
	for ii, operand := range operands {
		inputs[ii] = must.M1(bufferFromTensor(operand))
	}
	x := &executor{pool: workerspool.New(2)}
	result := k(x, inst, inputs)
	require.True(t, result.shape.Equal(shape))
	output := tensors.FromShape(shape)
	require.NoError(t, result.copyToTensor(output))
	return output
}

func TestShapeKernels(t *testing.T) {
	x := tensors.FromValue([][]int32{{1, 2, 3}, {4, 5, 6}})

	got := execInstruction(t, backends.OpTypeTranspose, shapes.Make(dtypes.Int32, 3, 2), backends.Attrs{Axes: []int{1, 0}}, x)
	assert.Equal(t, [][]int32{{1, 4}, {2, 5}, {3, 6}}, got.Value())

	got = execInstruction(t, backends.OpTypeReshape, shapes.Make(dtypes.Int32, 3, 2), backends.Attrs{Dimensions: []int{3, 2}}, x)
	assert.Equal(t, [][]int32{{1, 2}, {3, 4}, {5, 6}}, got.Value())

	row := tensors.FromValue([][]int32{{1, 2, 3}})
	got = execInstruction(t, backends.OpTypeBroadcastInDim, shapes.Make(dtypes.Int32, 2, 3),
		backends.Attrs{Dimensions: []int{2, 3}, Axes: []int{0, 1}}, row)
	assert.Equal(t, [][]int32{{1, 2, 3}, {1, 2, 3}}, got.Value())

	col := tensors.FromValue([]int32{7, 8})
	got = execInstruction(t, backends.OpTypeBroadcastInDim, shapes.Make(dtypes.Int32, 2, 3),
		backends.Attrs{Dimensions: []int{2, 3}, Axes: []int{0}}, col)
	assert.Equal(t, [][]int32{{7, 7, 7}, {8, 8, 8}}, got.Value())

	got = execInstruction(t, backends.OpTypeSlice, shapes.Make(dtypes.Int32, 2, 2),
		backends.Attrs{Starts: []int{0, 0}, Limits: []int{2, 3}, Strides: []int{1, 2}}, x)
	assert.Equal(t, [][]int32{{1, 3}, {4, 6}}, got.Value())

	got = execInstruction(t, backends.OpTypeSlice, shapes.Make(dtypes.Int32, 1, 2),
		backends.Attrs{Starts: []int{1, 1}, Limits: []int{2, 3}}, x)
	assert.Equal(t, [][]int32{{5, 6}}, got.Value())

	got = execInstruction(t, backends.OpTypeConcatenate, shapes.Make(dtypes.Int32, 2, 4), backends.Attrs{Axes: []int{1}},
		x, tensors.FromValue([][]int32{{0}, {-1}}))
	assert.Equal(t, [][]int32{{1, 2, 3, 0}, {4, 5, 6, -1}}, got.Value())

	got = execInstruction(t, backends.OpTypeConcatenate, shapes.Make(dtypes.Int32, 3, 3), backends.Attrs{Axes: []int{0}},
		x, row)
	assert.Equal(t, [][]int32{{1, 2, 3}, {4, 5, 6}, {1, 2, 3}}, got.Value())

	got = execInstruction(t, backends.OpTypeReduceSum, shapes.Make(dtypes.Int32, 3), backends.Attrs{Axes: []int{0}}, x)
	assert.Equal(t, []int32{5, 7, 9}, got.Value())
	got = execInstruction(t, backends.OpTypeReduceSum, shapes.Make(dtypes.Int32), backends.Attrs{Axes: []int{0, 1}}, x)
	assert.Equal(t, int32(21), got.Value())
}

func TestHalfPrecision(t *testing.T) {
	f16 := tensors.FromAnyValue([]float16.Float16{float16.Fromfloat32(1), float16.Fromfloat32(-2.5)})
	got := execInstruction(t, backends.OpTypeAbs, shapes.Make(dtypes.Float16, 2), backends.Attrs{}, f16)
	assert.Equal(t, []float16.Float16{float16.Fromfloat32(1), float16.Fromfloat32(2.5)}, got.Value())

	bf16 := tensors.FromAnyValue([]bfloat16.BFloat16{bfloat16.FromFloat32(1), bfloat16.FromFloat32(2)})
	got = execInstruction(t, backends.OpTypeMul, shapes.Make(dtypes.BFloat16, 2), backends.Attrs{}, bf16, bf16)
	assert.Equal(t, []bfloat16.BFloat16{bfloat16.FromFloat32(1), bfloat16.FromFloat32(4)}, got.Value())

	got = execInstruction(t, backends.OpTypeTranspose, shapes.Make(dtypes.BFloat16, 2), backends.Attrs{Axes: []int{0}}, bf16)
	assert.Equal(t, bf16.Value(), got.Value())
}

func TestDot(t *testing.T) {
	a := tensors.FromValue([][]float32{{1, 2}, {3, 4}, {5, 6}})
	b := tensors.FromValue([][]float32{{1, 0, 2}, {0, 1, -1}})
	want := [][]float32{{1, 2, 0}, {3, 4, 2}, {5, 6, 4}}
	got := execInstruction(t, backends.OpTypeDot, shapes.Make(dtypes.Float32, 3, 3), backends.Attrs{}, a, b)
	assert.Equal(t, want, got.Value())

	// Same with the right-hand-side transposed, and for the other dtypes.
	bT := tensors.FromValue([][]float32{{1, 0}, {0, 1}, {2, -1}})
	got = execInstruction(t, backends.OpTypeDot, shapes.Make(dtypes.Float32, 3, 3), backends.Attrs{TransposeB: true}, a, bT)
	assert.Equal(t, want, got.Value())

	a64 := tensors.FromValue([][]float64{{1, 2}, {3, 4}, {5, 6}})
	bT64 := tensors.FromValue([][]float64{{1, 0}, {0, 1}, {2, -1}})
	got = execInstruction(t, backends.OpTypeDot, shapes.Make(dtypes.Float64, 3, 3), backends.Attrs{TransposeB: true}, a64, bT64)
	assert.Equal(t, [][]float64{{1, 2, 0}, {3, 4, 2}, {5, 6, 4}}, got.Value())

	aInt := tensors.FromValue([][]int64{{1, 2}, {3, 4}, {5, 6}})
	bInt := tensors.FromValue([][]int64{{1, 0, 2}, {0, 1, -1}})
	got = execInstruction(t, backends.OpTypeDot, shapes.Make(dtypes.Int64, 3, 3), backends.Attrs{}, aInt, bInt)
	assert.Equal(t, [][]int64{{1, 2, 0}, {3, 4, 2}, {5, 6, 4}}, got.Value())
	bIntT := tensors.FromValue([][]int64{{1, 0}, {0, 1}, {2, -1}})
	got = execInstruction(t, backends.OpTypeDot, shapes.Make(dtypes.Int64, 3, 3), backends.Attrs{TransposeB: true}, aInt, bIntT)
	assert.Equal(t, [][]int64{{1, 2, 0}, {3, 4, 2}, {5, 6, 4}}, got.Value())
}

// toChannelsLast copies NCHW (row-major) data to NHWC memory order.
func toChannelsLast(data []float32, dims [4]int) []float32 {
	out := make([]float32, len(data))
	src, dst := ChannelsFirst(data, dims), ChannelsLast(out, dims)
	for n := range dims[0] {
		for c := range dims[1] {
			for h := range dims[2] {
				for w := range dims[3] {
					dst.Data[dst.Offset(n, c, h, w)] = src.Data[src.Offset(n, c, h, w)]
				}
			}
		}
	}
	return out
}

func TestConv2DStrided(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	randomData := func(size int) []float32 {
		data := make([]float32, size)
		for ii := range data {
			data[ii] = rng.Float32()*2 - 1
		}
		return data
	}
	cfg := &backends.ConvConfig{Strides: [2]int{2, 1}, Padding: [2]int{1, 1}, Dilations: [2]int{1, 2}, Groups: 2}
	inDims := [4]int{2, 4, 7, 6}
	kernelDims := [4]int{6, 2, 3, 3}
	outDims := [4]int{2, 6, cfg.OutputSpatialDim(0, 7, 3), cfg.OutputSpatialDim(1, 6, 3)}
	require.Equal(t, [4]int{2, 6, 4, 4}, outDims)
	input, kernel := randomData(2*4*7*6), randomData(6*2*3*3)
	outSize := outDims[0] * outDims[1] * outDims[2] * outDims[3]

	pool := workerspool.New(4)
	channelsFirst := make([]float32, outSize)
	Conv2DStrided(pool, ChannelsFirst(input, inDims), ChannelsFirst(kernel, kernelDims), cfg,
		ChannelsFirst(channelsFirst, outDims))
	channelsLast := make([]float32, outSize)
	Conv2DStrided(pool, ChannelsLast(toChannelsLast(input, inDims), inDims),
		ChannelsLast(toChannelsLast(kernel, kernelDims), kernelDims), cfg, ChannelsLast(channelsLast, outDims))
	channelsLast = toChannelsFirst(channelsLast, outDims)
	for ii := range channelsFirst {
		require.InDelta(t, channelsFirst[ii], channelsLast[ii], 1e-3, "element %d", ii)
	}

	// Compare with a naive implementation for one output element: out[1, 3, 2, 1].
	var want float32
	group := 3 / 3
	for kc := range 2 {
		for kh := range 3 {
			for kw := range 3 {
				ih, iw := 2*2-1+kh, 1-1+kw*2
				if ih < 0 || ih >= 7 || iw < 0 || iw >= 6 {
					continue
				}
				ic := group*2 + kc
				want += kernel[((3*2+kc)*3+kh)*3+kw] * input[((1*4+ic)*7+ih)*6+iw]
			}
		}
	}
	assert.InDelta(t, want, channelsFirst[((1*6+3)*4+2)*4+1], 1e-5)
}

// toChannelsFirst copies NHWC memory order data back to NCHW.
func toChannelsFirst(data []float32, dims [4]int) []float32 {
	out := make([]float32, len(data))
	src, dst := ChannelsLast(data, dims), ChannelsFirst(out, dims)
	for n := range dims[0] {
		for c := range dims[1] {
			for h := range dims[2] {
				for w := range dims[3] {
					dst.Data[dst.Offset(n, c, h, w)] = src.Data[src.Offset(n, c, h, w)]
				}
			}
		}
	}
	return out
}
