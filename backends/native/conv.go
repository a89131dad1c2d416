// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package native

import (
	"github.com/gomlx/aot/backends"
	"github.com/gomlx/aot/internal/workerspool"
	"github.com/gomlx/aot/pkg/aot/artifact"
	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

func init() {
	registerConv2D[float32]()
	registerConv2D[float64]()
	registerConv2D[int32]()
	registerConv2D[int64]()
	f32Kernel := kernels[kernelKey{backends.OpTypeConv2D, dtypes.Float32}]
	registerKernel(backends.OpTypeConv2D, dtypes.Float16, halfPrecision(f32Kernel))
	registerKernel(backends.OpTypeConv2D, dtypes.BFloat16, halfPrecision(f32Kernel))
}

func registerConv2D[T number]() {
	registerKernel(backends.OpTypeConv2D, dtypes.FromGenericsType[T](), execConv2D[T])
}

// Strided4D is a view of a rank-4 tensor over flat data with arbitrary strides.
//
// The logical axes are always [batch, channels, height, width] for images and
// [outputChannels, inputChannels, height, width] for kernels: only the memory layout changes.
type Strided4D[T any] struct {
	Data    []T
	Dims    [4]int
	Strides [4]int
}

// ChannelsFirst returns a view of data stored in row-major order of dims (NCHW).
func ChannelsFirst[T any](data []T, dims [4]int) Strided4D[T] {
	s := Strided4D[T]{Data: data, Dims: dims}
	copy(s.Strides[:], shapes.RowMajorStrides(dims[:]))
	return s
}

// ChannelsLast returns a view of data stored in the order [batch, height, width, channels] (NHWC),
// with logical axes dims given as [batch, channels, height, width].
func ChannelsLast[T any](data []T, dims [4]int) Strided4D[T] {
	s := Strided4D[T]{Data: data, Dims: dims}
	strides, err := shapes.StrideOrderedStrides(dims[:], []int{3, 0, 2, 1})
	if err != nil {
		panic(err)
	}
	copy(s.Strides[:], strides)
	return s
}

// Size returns the number of elements of the view.
func (s Strided4D[T]) Size() int {
	return s.Dims[0] * s.Dims[1] * s.Dims[2] * s.Dims[3]
}

func (s Strided4D[T]) Offset(i0, i1, i2, i3 int) int {
	return i0*s.Strides[0] + i1*s.Strides[1] + i2*s.Strides[2] + i3*s.Strides[3]
}

// Conv2DStrided computes a grouped 2D convolution of input with kernel into output, which must be zero
// initialized. The three views may have any memory layout.
//
// Work is split over (batch, output channel) pairs, and each output element accumulates in a fixed order,
// so the results don't depend on the parallelism.
func Conv2DStrided[T number](pool *workerspool.Pool, input, kernel Strided4D[T], cfg *backends.ConvConfig,
	output Strided4D[T]) {
	batchSize, outChannels := output.Dims[0], output.Dims[1]
	outHeight, outWidth := output.Dims[2], output.Dims[3]
	inHeight, inWidth := input.Dims[2], input.Dims[3]
	kernelChannels, kernelHeight, kernelWidth := kernel.Dims[1], kernel.Dims[2], kernel.Dims[3]
	outChannelsPerGroup := outChannels / cfg.Groups

	pool.ParallelFor(batchSize*outChannels, 1, func(start, end int) {
		for task := start; task < end; task++ {
			batchIdx, outChannel := task/outChannels, task%outChannels
			group := outChannel / outChannelsPerGroup
			for kernelChannel := range kernelChannels {
				inChannel := group*kernelChannels + kernelChannel
				for kh := range kernelHeight {
					for kw := range kernelWidth {
						weight := kernel.Data[kernel.Offset(outChannel, kernelChannel, kh, kw)]
						for oh := range outHeight {
							ih := oh*cfg.Strides[0] - cfg.Padding[0] + kh*cfg.Dilations[0]
							if ih < 0 || ih >= inHeight {
								continue
							}
							inRow := input.Offset(batchIdx, inChannel, ih, 0)
							outRow := output.Offset(batchIdx, outChannel, oh, 0)
							for ow := range outWidth {
								iw := ow*cfg.Strides[1] - cfg.Padding[1] + kw*cfg.Dilations[1]
								if iw < 0 || iw >= inWidth {
									continue
								}
								output.Data[outRow+ow*output.Strides[3]] += weight * input.Data[inRow+iw*input.Strides[3]]
							}
						}
					}
				}
			}
		}
	})
}

// execConv2D runs the convolution on row-major (NCHW) buffers.
func execConv2D[T number](x *executor, inst *artifact.Instruction, inputs []*buffer) *buffer {
	input, kernel := inputs[0], inputs[1]
	output := newBuffer(inst.Shape)
	dims4 := func(s shapes.Shape) (dims [4]int) {
		copy(dims[:], s.Dimensions)
		return
	}
	Conv2DStrided(x.pool,
		ChannelsFirst(input.flat.([]T), dims4(input.shape)),
		ChannelsFirst(kernel.flat.([]T), dims4(kernel.shape)),
		inst.Attrs.Conv,
		ChannelsFirst(output.flat.([]T), dims4(inst.Shape)))
	return output
}
