// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"math"

	"github.com/gomlx/aot/backends"
	"github.com/gomlx/aot/pkg/core/tensors"
	"github.com/gomlx/exceptions"
)

// eagerKernel computes the value of a node given the values of its inputs.
//
// The eager kernels are the reference implementation: they favor simplicity over speed, and compute
// everything in float64, converting back to the node's dtype at the end.
type eagerKernel func(n *Node, inputs []*tensors.Tensor) *tensors.Tensor

var eagerKernels [backends.OpTypeLast]eagerKernel

func init() {
	unaryFns := map[backends.OpType]func(float64) float64{
		backends.OpTypeNeg:      func(x float64) float64 { return -x },
		backends.OpTypeAbs:      math.Abs,
		backends.OpTypeExp:      math.Exp,
		backends.OpTypeLog:      math.Log,
		backends.OpTypeSin:      math.Sin,
		backends.OpTypeCos:      math.Cos,
		backends.OpTypeTanh:     math.Tanh,
		backends.OpTypeLogistic: func(x float64) float64 { return 1 / (1 + math.Exp(-x)) },
		backends.OpTypeSqrt:     math.Sqrt,
		backends.OpTypeRsqrt:    func(x float64) float64 { return 1 / math.Sqrt(x) },
	}
	for op, fn := range unaryFns {
		eagerKernels[op] = unaryKernel(fn)
	}
	binaryFns := map[backends.OpType]func(x, y float64) float64{
		backends.OpTypeAdd: func(x, y float64) float64 { return x + y },
		backends.OpTypeSub: func(x, y float64) float64 { return x - y },
		backends.OpTypeMul: func(x, y float64) float64 { return x * y },
		backends.OpTypeDiv: func(x, y float64) float64 { return x / y },
		backends.OpTypeMax: math.Max,
		backends.OpTypeMin: math.Min,
	}
	for op, fn := range binaryFns {
		eagerKernels[op] = binaryKernel(fn)
	}
	eagerKernels[backends.OpTypeReshape] = eagerReshape
	eagerKernels[backends.OpTypeTranspose] = eagerTranspose
	eagerKernels[backends.OpTypeBroadcastInDim] = eagerBroadcastInDim
	eagerKernels[backends.OpTypeConcatenate] = eagerConcatenate
	eagerKernels[backends.OpTypeSlice] = eagerSlice
	eagerKernels[backends.OpTypeDot] = eagerDot
	eagerKernels[backends.OpTypeReduceSum] = eagerReduceSum
	eagerKernels[backends.OpTypeConv2D] = eagerConv2D
	eagerKernels[backends.OpTypeHostCallback] = eagerHostCallback
}

// truncateInts makes integer results of divisions behave like integer divisions, including panicking
// on division by zero: integer operands are finite, so only a zero divisor yields Inf or NaN.
func truncateInts(n *Node, values []float64) []float64 {
	if n.op == backends.OpTypeDiv && !n.DType().IsFloat() {
		for ii, v := range values {
			if math.IsInf(v, 0) || math.IsNaN(v) {
				exceptions.Panicf("%s: integer divide by zero at element %d", n, ii)
			}
			values[ii] = math.Trunc(v)
		}
	}
	return values
}

func unaryKernel(fn func(float64) float64) eagerKernel {
	return func(n *Node, inputs []*tensors.Tensor) *tensors.Tensor {
		values := inputs[0].ToFloat64s()
		for ii, v := range values {
			values[ii] = fn(v)
		}
		return tensors.FromFloat64s(n.shape, values)
	}
}

func binaryKernel(fn func(x, y float64) float64) eagerKernel {
	return func(n *Node, inputs []*tensors.Tensor) *tensors.Tensor {
		xs := inputs[0].ToFloat64s()
		ys := inputs[1].ToFloat64s()
		for ii, x := range xs {
			xs[ii] = fn(x, ys[ii])
		}
		return tensors.FromFloat64s(n.shape, truncateInts(n, xs))
	}
}

func eagerReshape(n *Node, inputs []*tensors.Tensor) *tensors.Tensor {
	return tensors.FromFloat64s(n.shape, inputs[0].ToFloat64s())
}

func eagerTranspose(n *Node, inputs []*tensors.Tensor) *tensors.Tensor {
	in := inputs[0].ToFloat64s()
	inStrides := inputs[0].Shape().Strides()
	permutation := n.attrs.Axes
	out := make([]float64, n.shape.Size())
	for flatIdx, indices := range n.shape.Iter() {
		inIdx := 0
		for axis, index := range indices {
			inIdx += index * inStrides[permutation[axis]]
		}
		out[flatIdx] = in[inIdx]
	}
	return tensors.FromFloat64s(n.shape, out)
}

func eagerBroadcastInDim(n *Node, inputs []*tensors.Tensor) *tensors.Tensor {
	inShape := inputs[0].Shape()
	in := inputs[0].ToFloat64s()
	inStrides := inShape.Strides()
	out := make([]float64, n.shape.Size())
	for flatIdx, indices := range n.shape.Iter() {
		inIdx := 0
		for inAxis, outAxis := range n.attrs.Axes {
			if inShape.Dimensions[inAxis] != 1 {
				inIdx += indices[outAxis] * inStrides[inAxis]
			}
		}
		out[flatIdx] = in[inIdx]
	}
	return tensors.FromFloat64s(n.shape, out)
}

func eagerConcatenate(n *Node, inputs []*tensors.Tensor) *tensors.Tensor {
	axis := n.attrs.Axes[0]
	outStrides := n.shape.Strides()
	out := make([]float64, n.shape.Size())
	offset := 0
	for _, input := range inputs {
		in := input.ToFloat64s()
		for flatIdx, indices := range input.Shape().Iter() {
			outIdx := 0
			for a, index := range indices {
				if a == axis {
					index += offset
				}
				outIdx += index * outStrides[a]
			}
			out[outIdx] = in[flatIdx]
		}
		offset += input.Shape().Dimensions[axis]
	}
	return tensors.FromFloat64s(n.shape, out)
}

func eagerSlice(n *Node, inputs []*tensors.Tensor) *tensors.Tensor {
	in := inputs[0].ToFloat64s()
	inStrides := inputs[0].Shape().Strides()
	out := make([]float64, n.shape.Size())
	for flatIdx, indices := range n.shape.Iter() {
		inIdx := 0
		for axis, index := range indices {
			inIdx += (n.attrs.Starts[axis] + index*n.attrs.Strides[axis]) * inStrides[axis]
		}
		out[flatIdx] = in[inIdx]
	}
	return tensors.FromFloat64s(n.shape, out)
}

func eagerDot(n *Node, inputs []*tensors.Tensor) *tensors.Tensor {
	a, b := inputs[0].ToFloat64s(), inputs[1].ToFloat64s()
	m, k := inputs[0].Shape().Dimensions[0], inputs[0].Shape().Dimensions[1]
	cols := n.shape.Dimensions[1]
	transposeB := n.attrs != nil && n.attrs.TransposeB
	out := make([]float64, m*cols)
	for row := range m {
		for col := range cols {
			var sum float64
			for ii := range k {
				if transposeB {
					sum += a[row*k+ii] * b[col*k+ii]
				} else {
					sum += a[row*k+ii] * b[ii*cols+col]
				}
			}
			out[row*cols+col] = sum
		}
	}
	return tensors.FromFloat64s(n.shape, out)
}

func eagerReduceSum(n *Node, inputs []*tensors.Tensor) *tensors.Tensor {
	inShape := inputs[0].Shape()
	in := inputs[0].ToFloat64s()
	reduced := make([]bool, inShape.Rank())
	for _, axis := range n.attrs.Axes {
		reduced[axis] = true
	}
	outStrides := n.shape.Strides()
	out := make([]float64, n.shape.Size())
	for flatIdx, indices := range inShape.Iter() {
		outIdx, outAxis := 0, 0
		for axis, index := range indices {
			if reduced[axis] {
				continue
			}
			outIdx += index * outStrides[outAxis]
			outAxis++
		}
		out[outIdx] += in[flatIdx]
	}
	return tensors.FromFloat64s(n.shape, out)
}

func eagerConv2D(n *Node, inputs []*tensors.Tensor) *tensors.Tensor {
	x, kernel := inputs[0].ToFloat64s(), inputs[1].ToFloat64s()
	xShape, kShape := inputs[0].Shape(), inputs[1].Shape()
	conv := n.attrs.Conv
	xStrides, kStrides := xShape.Strides(), kShape.Strides()
	groupChannels := kShape.Dimensions[1]
	outPerGroup := n.shape.Dimensions[1] / conv.Groups
	out := make([]float64, n.shape.Size())
	for flatIdx, indices := range n.shape.Iter() {
		batch, outChannel, outH, outW := indices[0], indices[1], indices[2], indices[3]
		group := outChannel / outPerGroup
		var sum float64
		for c := range groupChannels {
			inChannel := group*groupChannels + c
			for kh := range kShape.Dimensions[2] {
				inH := outH*conv.Strides[0] - conv.Padding[0] + kh*conv.Dilations[0]
				if inH < 0 || inH >= xShape.Dimensions[2] {
					continue
				}
				for kw := range kShape.Dimensions[3] {
					inW := outW*conv.Strides[1] - conv.Padding[1] + kw*conv.Dilations[1]
					if inW < 0 || inW >= xShape.Dimensions[3] {
						continue
					}
					sum += x[batch*xStrides[0]+inChannel*xStrides[1]+inH*xStrides[2]+inW*xStrides[3]] *
						kernel[outChannel*kStrides[0]+c*kStrides[1]+kh*kStrides[2]+kw*kStrides[3]]
				}
			}
		}
		out[flatIdx] = sum
	}
	return tensors.FromFloat64s(n.shape, out)
}

func eagerHostCallback(n *Node, inputs []*tensors.Tensor) *tensors.Tensor {
	if n.callback == nil {
		exceptions.Panicf("HostCallback(%q): no callback function", n.attrs.Name)
	}
	result := n.callback(inputs)
	if result == nil || !result.Shape().Equal(n.shape) {
		exceptions.Panicf("HostCallback(%q): callback returned %v, expected shape %s", n.attrs.Name, result, n.shape)
	}
	return result
}
