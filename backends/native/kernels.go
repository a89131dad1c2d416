// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package native

import (
	"fmt"
	"math"

	"github.com/gomlx/aot/backends"
	"github.com/gomlx/aot/pkg/aot/artifact"
	"github.com/gomlx/gopjrt/dtypes"
)

// kernel executes one instruction. It panics (with an error) on failure, the executor converts it to an error.
type kernel func(x *executor, inst *artifact.Instruction, inputs []*buffer) *buffer

// kernelKey identifies a kernel: the operation and the dtype of its output.
type kernelKey struct {
	op    backends.OpType
	dtype dtypes.DType
}

// Symbol is the name of the kernel, used in error messages when it can't be resolved.
func (k kernelKey) Symbol() string {
	return fmt.Sprintf("gomlx_native_%s_%s", k.op, k.dtype)
}

// kernels is the table of available kernels, populated in init() functions.
var kernels = make(map[kernelKey]kernel)

func registerKernel(op backends.OpType, dtype dtypes.DType, k kernel) {
	kernels[kernelKey{op, dtype}] = k
}

// lookupKernel resolves the kernel for the instruction.
func lookupKernel(inst *artifact.Instruction) (kernelKey, kernel, bool) {
	key := kernelKey{inst.Op, inst.Shape.DType}
	k, found := kernels[key]
	return key, k, found
}

// HasKernel reports whether an instruction of op with output dtype can be linked.
func HasKernel(op backends.OpType, dtype dtypes.DType) bool {
	_, found := kernels[kernelKey{op, dtype}]
	return found
}

// number are the Go types with native kernels. Float16 and BFloat16 are computed in float32.
type number interface {
	float32 | float64 | int32 | int64
}

// elementwiseMinChunk is the minimum number of elements processed per goroutine by element-wise kernels.
const elementwiseMinChunk = 32 * 1024

func init() {
	registerUnary[float32](true)
	registerUnary[float64](true)
	registerUnary[int32](false)
	registerUnary[int64](false)

	registerBinary[float32]()
	registerBinary[float64]()
	registerBinary[int32]()
	registerBinary[int64]()

	for op := backends.OpTypeNeg; op <= backends.OpTypeMin; op++ {
		if f32Kernel, found := kernels[kernelKey{op, dtypes.Float32}]; found {
			registerKernel(op, dtypes.Float16, halfPrecision(f32Kernel))
			registerKernel(op, dtypes.BFloat16, halfPrecision(f32Kernel))
		}
	}
}

// halfPrecision wraps a float32 kernel to work on Float16 or BFloat16 buffers: inputs are converted to float32
// and the output converted back.
func halfPrecision(f32Kernel kernel) kernel {
	return func(x *executor, inst *artifact.Instruction, inputs []*buffer) *buffer {
		f32Inputs := make([]*buffer, len(inputs))
		for ii, input := range inputs {
			f32Inputs[ii] = input.toFloat32()
		}
		f32Inst := *inst
		f32Inst.Shape = inst.Shape.Clone()
		f32Inst.Shape.DType = dtypes.Float32
		return f32Kernel(x, &f32Inst, f32Inputs).fromFloat32(inst.Shape.DType)
	}
}

func registerUnary[T number](isFloat bool) {
	dtype := dtypes.FromGenericsType[T]()
	registerKernel(backends.OpTypeNeg, dtype, unaryKernel(func(v T) T { return -v }))
	registerKernel(backends.OpTypeAbs, dtype, unaryKernel(func(v T) T {
		if v < 0 {
			return -v
		}
		return v
	}))
	if !isFloat {
		return
	}
	registerKernel(backends.OpTypeExp, dtype, unaryKernel(func(v T) T { return T(math.Exp(float64(v))) }))
	registerKernel(backends.OpTypeLog, dtype, unaryKernel(func(v T) T { return T(math.Log(float64(v))) }))
	registerKernel(backends.OpTypeSin, dtype, unaryKernel(func(v T) T { return T(math.Sin(float64(v))) }))
	registerKernel(backends.OpTypeCos, dtype, unaryKernel(func(v T) T { return T(math.Cos(float64(v))) }))
	registerKernel(backends.OpTypeTanh, dtype, unaryKernel(func(v T) T { return T(math.Tanh(float64(v))) }))
	registerKernel(backends.OpTypeLogistic, dtype, unaryKernel(func(v T) T {
		return T(1.0 / (1.0 + math.Exp(-float64(v))))
	}))
	registerKernel(backends.OpTypeSqrt, dtype, unaryKernel(func(v T) T { return T(math.Sqrt(float64(v))) }))
	registerKernel(backends.OpTypeRsqrt, dtype, unaryKernel(func(v T) T { return T(1.0 / math.Sqrt(float64(v))) }))
}

func unaryKernel[T number](fn func(T) T) kernel {
	return func(x *executor, inst *artifact.Instruction, inputs []*buffer) *buffer {
		input := inputs[0].flat.([]T)
		output := newBuffer(inst.Shape)
		outputFlat := output.flat.([]T)
		x.pool.ParallelFor(len(input), elementwiseMinChunk, func(start, end int) {
			for ii := start; ii < end; ii++ {
				outputFlat[ii] = fn(input[ii])
			}
		})
		return output
	}
}

func registerBinary[T number]() {
	dtype := dtypes.FromGenericsType[T]()
	registerKernel(backends.OpTypeAdd, dtype, binaryKernel(func(a, b T) T { return a + b }))
	registerKernel(backends.OpTypeSub, dtype, binaryKernel(func(a, b T) T { return a - b }))
	registerKernel(backends.OpTypeMul, dtype, binaryKernel(func(a, b T) T { return a * b }))
	// Integer division truncates toward zero, and panics on division by zero.
	registerKernel(backends.OpTypeDiv, dtype, binaryKernel(func(a, b T) T { return a / b }))
	// Builtin max and min propagate NaNs.
	registerKernel(backends.OpTypeMax, dtype, binaryKernel(func(a, b T) T { return max(a, b) }))
	registerKernel(backends.OpTypeMin, dtype, binaryKernel(func(a, b T) T { return min(a, b) }))
}

// binaryKernel operands always have the same shape: broadcasting is explicit in the program.
func binaryKernel[T number](fn func(a, b T) T) kernel {
	return func(x *executor, inst *artifact.Instruction, inputs []*buffer) *buffer {
		lhs, rhs := inputs[0].flat.([]T), inputs[1].flat.([]T)
		output := newBuffer(inst.Shape)
		outputFlat := output.flat.([]T)
		x.pool.ParallelFor(len(lhs), elementwiseMinChunk, func(start, end int) {
			for ii := start; ii < end; ii++ {
				outputFlat[ii] = fn(lhs[ii], rhs[ii])
			}
		})
		return output
	}
}
