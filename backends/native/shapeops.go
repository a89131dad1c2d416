// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package native

import (
	"github.com/gomlx/aot/backends"
	"github.com/gomlx/aot/pkg/aot/artifact"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

func init() {
	registerShapeOps[float32]()
	registerShapeOps[float64]()
	registerShapeOps[int32]()
	registerShapeOps[int64]()
	registerShapeOps[float16.Float16]()
	registerShapeOps[bfloat16.BFloat16]()
}

// registerShapeOps registers the data movement kernels, which don't depend on the arithmetic of T.
func registerShapeOps[T dtypes.Supported]() {
	dtype := dtypes.FromGenericsType[T]()
	registerKernel(backends.OpTypeConstant, dtype, execConstant)
	registerKernel(backends.OpTypeReshape, dtype, execReshape)
	registerKernel(backends.OpTypeTranspose, dtype, execTranspose[T])
	registerKernel(backends.OpTypeBroadcastInDim, dtype, execBroadcastInDim[T])
	registerKernel(backends.OpTypeConcatenate, dtype, execConcatenate[T])
	registerKernel(backends.OpTypeSlice, dtype, execSlice[T])
}

// execConstant returns the literal decoded during Load.
func execConstant(x *executor, inst *artifact.Instruction, _ []*buffer) *buffer {
	return x.literals[inst.Literal]
}

// execReshape shares the flat data of the operand: buffers are never mutated.
func execReshape(_ *executor, inst *artifact.Instruction, inputs []*buffer) *buffer {
	return &buffer{shape: inst.Shape, flat: inputs[0].flat}
}

// gatherStrided fills output, in row-major order of outputDims, with the input element at
// offset + sum(indices[axis] * inputStrides[axis]).
func gatherStrided[T any](input, output []T, outputDims, inputStrides []int, offset int) {
	rank := len(outputDims)
	if rank == 0 {
		output[0] = input[offset]
		return
	}
	indices := make([]int, rank)
	inputIdx := offset
	for outputIdx := range output {
		output[outputIdx] = input[inputIdx]
		for axis := rank - 1; axis >= 0; axis-- {
			indices[axis]++
			inputIdx += inputStrides[axis]
			if indices[axis] < outputDims[axis] {
				break
			}
			inputIdx -= indices[axis] * inputStrides[axis]
			indices[axis] = 0
		}
	}
}

func execTranspose[T any](_ *executor, inst *artifact.Instruction, inputs []*buffer) *buffer {
	input := inputs[0]
	inputStrides := input.shape.Strides()
	permutedStrides := make([]int, len(inst.Attrs.Axes))
	for ii, axis := range inst.Attrs.Axes {
		permutedStrides[ii] = inputStrides[axis]
	}
	output := newBuffer(inst.Shape)
	gatherStrided(input.flat.([]T), output.flat.([]T), inst.Shape.Dimensions, permutedStrides, 0)
	return output
}

// execBroadcastInDim: Attrs.Axes maps each operand axis to an output axis. Operand axes of dimension 1 and
// output axes not in Attrs.Axes are broadcast (stride 0).
func execBroadcastInDim[T any](_ *executor, inst *artifact.Instruction, inputs []*buffer) *buffer {
	input := inputs[0]
	inputStrides := input.shape.Strides()
	broadcastStrides := make([]int, inst.Shape.Rank())
	for inputAxis, outputAxis := range inst.Attrs.Axes {
		if input.shape.Dimensions[inputAxis] != 1 {
			broadcastStrides[outputAxis] = inputStrides[inputAxis]
		}
	}
	output := newBuffer(inst.Shape)
	gatherStrided(input.flat.([]T), output.flat.([]T), inst.Shape.Dimensions, broadcastStrides, 0)
	return output
}

func execSlice[T any](_ *executor, inst *artifact.Instruction, inputs []*buffer) *buffer {
	input := inputs[0]
	inputStrides := input.shape.Strides()
	offset := 0
	sliceStrides := make([]int, len(inputStrides))
	for axis, stride := range inputStrides {
		step := 1
		if len(inst.Attrs.Strides) > axis && inst.Attrs.Strides[axis] > 0 {
			step = inst.Attrs.Strides[axis]
		}
		offset += inst.Attrs.Starts[axis] * stride
		sliceStrides[axis] = step * stride
	}
	output := newBuffer(inst.Shape)
	if inst.Shape.Size() > 0 {
		gatherStrided(input.flat.([]T), output.flat.([]T), inst.Shape.Dimensions, sliceStrides, offset)
	}
	return output
}

func execConcatenate[T any](_ *executor, inst *artifact.Instruction, inputs []*buffer) *buffer {
	axis := inst.Attrs.Axes[0]
	outer := 1
	for _, dim := range inst.Shape.Dimensions[:axis] {
		outer *= dim
	}
	output := newBuffer(inst.Shape)
	outputFlat := output.flat.([]T)
	pos := 0
	for outerIdx := range outer {
		for _, input := range inputs {
			inputFlat := input.flat.([]T)
			chunk := len(inputFlat) / outer
			pos += copy(outputFlat[pos:], inputFlat[outerIdx*chunk:(outerIdx+1)*chunk])
		}
	}
	return output
}
