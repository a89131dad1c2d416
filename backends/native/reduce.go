// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package native

import (
	"github.com/gomlx/aot/backends"
	"github.com/gomlx/aot/pkg/aot/artifact"
	"github.com/gomlx/gopjrt/dtypes"
)

func init() {
	registerReduceSum[float32]()
	registerReduceSum[float64]()
	registerReduceSum[int32]()
	registerReduceSum[int64]()
	f32Kernel := kernels[kernelKey{backends.OpTypeReduceSum, dtypes.Float32}]
	registerKernel(backends.OpTypeReduceSum, dtypes.Float16, halfPrecision(f32Kernel))
	registerKernel(backends.OpTypeReduceSum, dtypes.BFloat16, halfPrecision(f32Kernel))
}

func registerReduceSum[T number]() {
	registerKernel(backends.OpTypeReduceSum, dtypes.FromGenericsType[T](), execReduceSum[T])
}

// execReduceSum accumulates the operand in row-major order, so results are deterministic.
// Attrs.Axes are the reduced axes, the output has the remaining axes in order.
func execReduceSum[T number](_ *executor, inst *artifact.Instruction, inputs []*buffer) *buffer {
	input := inputs[0]
	rank := input.shape.Rank()
	reduced := make([]bool, rank)
	for _, axis := range inst.Attrs.Axes {
		reduced[axis] = true
	}

	// Stride in the output of each operand axis, 0 for the reduced ones.
	outputStrides := make([]int, rank)
	stride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		if !reduced[axis] {
			outputStrides[axis] = stride
			stride *= input.shape.Dimensions[axis]
		}
	}

	output := newBuffer(inst.Shape)
	outputFlat := output.flat.([]T)
	inputFlat := input.flat.([]T)
	if len(inputFlat) == 0 {
		return output
	}
	indices := make([]int, rank)
	outputIdx := 0
	for _, value := range inputFlat {
		outputFlat[outputIdx] += value
		for axis := rank - 1; axis >= 0; axis-- {
			indices[axis]++
			outputIdx += outputStrides[axis]
			if indices[axis] < input.shape.Dimensions[axis] {
				break
			}
			outputIdx -= indices[axis] * outputStrides[axis]
			indices[axis] = 0
		}
	}
	return output
}
