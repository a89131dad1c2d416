// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package native

import (
	"github.com/gomlx/aot/backends"
	"github.com/gomlx/aot/pkg/aot/artifact"
	"github.com/gomlx/gopjrt/dtypes"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"
)

func init() {
	registerKernel(backends.OpTypeDot, dtypes.Float32, execDotFloat32)
	registerKernel(backends.OpTypeDot, dtypes.Float64, execDotFloat64)
	registerKernel(backends.OpTypeDot, dtypes.Int32, execDotInteger[int32])
	registerKernel(backends.OpTypeDot, dtypes.Int64, execDotInteger[int64])
	registerKernel(backends.OpTypeDot, dtypes.Float16, halfPrecision(execDotFloat32))
	registerKernel(backends.OpTypeDot, dtypes.BFloat16, halfPrecision(execDotFloat32))
}

// dotDims returns the dimensions of a [M, K] x [K, N] matrix multiplication. If transposeB the rhs is [N, K].
func dotDims(inst *artifact.Instruction, lhs, rhs *buffer) (m, k, n int) {
	m, k = lhs.shape.Dimensions[0], lhs.shape.Dimensions[1]
	if inst.Attrs.TransposeB {
		n = rhs.shape.Dimensions[0]
	} else {
		n = rhs.shape.Dimensions[1]
	}
	return
}

func blasTranspose(transposed bool) blas.Transpose {
	if transposed {
		return blas.Trans
	}
	return blas.NoTrans
}

func execDotFloat32(_ *executor, inst *artifact.Instruction, inputs []*buffer) *buffer {
	lhs, rhs := inputs[0], inputs[1]
	m, k, n := dotDims(inst, lhs, rhs)
	output := newBuffer(inst.Shape)
	if m == 0 || n == 0 || k == 0 {
		return output
	}
	a := blas32.General{Rows: m, Cols: k, Stride: k, Data: lhs.flat.([]float32)}
	b := blas32.General{Rows: rhs.shape.Dimensions[0], Cols: rhs.shape.Dimensions[1], Stride: rhs.shape.Dimensions[1],
		Data: rhs.flat.([]float32)}
	c := blas32.General{Rows: m, Cols: n, Stride: n, Data: output.flat.([]float32)}
	blas32.Gemm(blas.NoTrans, blasTranspose(inst.Attrs.TransposeB), 1, a, b, 0, c)
	return output
}

func execDotFloat64(_ *executor, inst *artifact.Instruction, inputs []*buffer) *buffer {
	lhs, rhs := inputs[0], inputs[1]
	m, k, n := dotDims(inst, lhs, rhs)
	output := newBuffer(inst.Shape)
	if m == 0 || n == 0 || k == 0 {
		return output
	}
	a := blas64.General{Rows: m, Cols: k, Stride: k, Data: lhs.flat.([]float64)}
	b := blas64.General{Rows: rhs.shape.Dimensions[0], Cols: rhs.shape.Dimensions[1], Stride: rhs.shape.Dimensions[1],
		Data: rhs.flat.([]float64)}
	c := blas64.General{Rows: m, Cols: n, Stride: n, Data: output.flat.([]float64)}
	blas64.Gemm(blas.NoTrans, blasTranspose(inst.Attrs.TransposeB), 1, a, b, 0, c)
	return output
}

// execDotInteger is the naive loop: BLAS only handles floats.
func execDotInteger[T int32 | int64](x *executor, inst *artifact.Instruction, inputs []*buffer) *buffer {
	lhs, rhs := inputs[0], inputs[1]
	m, k, n := dotDims(inst, lhs, rhs)
	output := newBuffer(inst.Shape)
	a, b, c := lhs.flat.([]T), rhs.flat.([]T), output.flat.([]T)
	rowStride, colStride := n, 1 // Strides of b over k and n.
	if inst.Attrs.TransposeB {
		rowStride, colStride = 1, k
	}
	x.pool.ParallelFor(m, 1, func(start, end int) {
		for row := start; row < end; row++ {
			for col := range n {
				var sum T
				for ii := range k {
					sum += a[row*k+ii] * b[ii*rowStride+col*colStride]
				}
				c[row*n+col] = sum
			}
		}
	})
	return output
}
