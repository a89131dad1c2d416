// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/gomlx/aot/backends"
	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/aot/pkg/support/xslices"
	"github.com/gomlx/exceptions"
)

func unaryOp(op backends.OpType, x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	if op.IsTranscendental() && !x.DType().IsFloat() {
		exceptions.Panicf("%s requires a float operand, got %s", op, x.shape)
	}
	return g.opNode(op, x.shape.Clone(), nil, x)
}

// Neg returns -x.
func Neg(x *Node) *Node { return unaryOp(backends.OpTypeNeg, x) }

// Abs returns |x|.
func Abs(x *Node) *Node { return unaryOp(backends.OpTypeAbs, x) }

// Exp returns e^x.
func Exp(x *Node) *Node { return unaryOp(backends.OpTypeExp, x) }

// Log returns the natural logarithm of x.
func Log(x *Node) *Node { return unaryOp(backends.OpTypeLog, x) }

// Sin returns sin(x).
func Sin(x *Node) *Node { return unaryOp(backends.OpTypeSin, x) }

// Cos returns cos(x).
func Cos(x *Node) *Node { return unaryOp(backends.OpTypeCos, x) }

// Tanh returns the hyperbolic tangent of x.
func Tanh(x *Node) *Node { return unaryOp(backends.OpTypeTanh, x) }

// Logistic returns 1/(1+exp(-x)). Also known as Sigmoid.
func Logistic(x *Node) *Node { return unaryOp(backends.OpTypeLogistic, x) }

// Sqrt returns the square root of x.
func Sqrt(x *Node) *Node { return unaryOp(backends.OpTypeSqrt, x) }

// Rsqrt returns 1/sqrt(x).
func Rsqrt(x *Node) *Node { return unaryOp(backends.OpTypeRsqrt, x) }

// binaryOp broadcasts the operands to a common shape, and creates the node.
func binaryOp(op backends.OpType, x, y *Node) *Node {
	g := validateBuildingGraphFromInputs(x, y)
	if x.DType() != y.DType() {
		exceptions.Panicf("%s: operands have different dtypes, %s and %s", op, x.shape, y.shape)
	}
	if !x.shape.EqualDimensions(y.shape) {
		dims := broadcastDimensions(op, x.shape.Dimensions, y.shape.Dimensions)
		x = BroadcastToDims(x, dims...)
		y = BroadcastToDims(y, dims...)
	}
	return g.opNode(op, x.shape.Clone(), nil, x, y)
}

// broadcastDimensions returns the numpy-style broadcast of two sets of dimensions: axes are aligned
// from the last one, and axes of dimension 1 are expanded.
func broadcastDimensions(op backends.OpType, a, b []int) []int {
	rank := max(len(a), len(b))
	dims := make([]int, rank)
	for ii := range rank {
		dimA, dimB := 1, 1
		if axis := len(a) - rank + ii; axis >= 0 {
			dimA = a[axis]
		}
		if axis := len(b) - rank + ii; axis >= 0 {
			dimB = b[axis]
		}
		switch {
		case dimA == dimB || dimB == 1:
			dims[ii] = dimA
		case dimA == 1:
			dims[ii] = dimB
		default:
			exceptions.Panicf("%s: dimensions %v and %v can't be broadcast", op, a, b)
		}
	}
	return dims
}

// Add returns x+y, with broadcasting.
func Add(x, y *Node) *Node { return binaryOp(backends.OpTypeAdd, x, y) }

// Sub returns x-y, with broadcasting.
func Sub(x, y *Node) *Node { return binaryOp(backends.OpTypeSub, x, y) }

// Mul returns x*y, with broadcasting.
func Mul(x, y *Node) *Node { return binaryOp(backends.OpTypeMul, x, y) }

// Div returns x/y, with broadcasting.
func Div(x, y *Node) *Node { return binaryOp(backends.OpTypeDiv, x, y) }

// Max returns the element-wise maximum of x and y, with broadcasting.
func Max(x, y *Node) *Node { return binaryOp(backends.OpTypeMax, x, y) }

// Min returns the element-wise minimum of x and y, with broadcasting.
func Min(x, y *Node) *Node { return binaryOp(backends.OpTypeMin, x, y) }

// Reshape x to the given dimensions. One of the dimensions can be -1, in which case it is
// inferred from the size of x.
func Reshape(x *Node, dimensions ...int) *Node {
	g := validateBuildingGraphFromInputs(x)
	dims := slices.Clone(dimensions)
	inferred := -1
	size := 1
	for axis, dim := range dims {
		if dim == -1 {
			if inferred >= 0 {
				exceptions.Panicf("Reshape(%s, %v): only one dimension can be -1", x.shape, dimensions)
			}
			inferred = axis
			continue
		}
		size *= dim
	}
	if inferred >= 0 && size > 0 {
		dims[inferred] = x.shape.Size() / size
		size *= dims[inferred]
	}
	if size != x.shape.Size() {
		exceptions.Panicf("Reshape(%s, %v): new dimensions have a different size", x.shape, dimensions)
	}
	shape := shapes.Make(x.DType(), dims...)
	if shape.EqualDimensions(x.shape) {
		return x
	}
	return g.opNode(backends.OpTypeReshape, shape, &backends.Attrs{Dimensions: dims}, x)
}

// Transpose x with the given permutation of axes: output axis i is the input axis permutation[i].
func Transpose(x *Node, permutation ...int) *Node {
	g := validateBuildingGraphFromInputs(x)
	if len(permutation) != x.Rank() {
		exceptions.Panicf("Transpose(%s, %v): permutation must have one axis per input axis", x.shape, permutation)
	}
	seen := make([]bool, x.Rank())
	for _, axis := range permutation {
		if axis < 0 || axis >= x.Rank() || seen[axis] {
			exceptions.Panicf("Transpose(%s, %v): invalid permutation", x.shape, permutation)
		}
		seen[axis] = true
	}
	shape := shapes.Make(x.DType(), shapes.Permute(x.shape.Dimensions, permutation)...)
	return g.opNode(backends.OpTypeTranspose, shape, &backends.Attrs{Axes: slices.Clone(permutation)}, x)
}

// BroadcastInDim broadcasts x to the given output dimensions: input axis i is mapped to output axis axes[i],
// and it must either have the same dimension or dimension 1. Other output axes are new.
func BroadcastInDim(x *Node, dimensions []int, axes []int) *Node {
	g := validateBuildingGraphFromInputs(x)
	if len(axes) != x.Rank() {
		exceptions.Panicf("BroadcastInDim(%s, dims=%v, axes=%v): one axis mapping per input axis required",
			x.shape, dimensions, axes)
	}
	for ii, axis := range axes {
		if axis < 0 || axis >= len(dimensions) || (ii > 0 && axis <= axes[ii-1]) {
			exceptions.Panicf("BroadcastInDim(%s, dims=%v, axes=%v): axes must be increasing and valid",
				x.shape, dimensions, axes)
		}
		if dim := x.shape.Dimensions[ii]; dim != 1 && dim != dimensions[axis] {
			exceptions.Panicf("BroadcastInDim(%s, dims=%v, axes=%v): input axis %d can't be broadcast",
				x.shape, dimensions, axes, ii)
		}
	}
	shape := shapes.Make(x.DType(), dimensions...)
	return g.opNode(backends.OpTypeBroadcastInDim, shape,
		&backends.Attrs{Dimensions: slices.Clone(dimensions), Axes: slices.Clone(axes)}, x)
}

// BroadcastToDims broadcasts x to the given dimensions, numpy-style: axes are aligned from the last one.
func BroadcastToDims(x *Node, dimensions ...int) *Node {
	if slices.Equal(x.shape.Dimensions, dimensions) {
		return x
	}
	if x.Rank() > len(dimensions) {
		exceptions.Panicf("BroadcastToDims(%s, %v): target has smaller rank", x.shape, dimensions)
	}
	axes := xslices.Iota(len(dimensions)-x.Rank(), x.Rank())
	return BroadcastInDim(x, dimensions, axes)
}

// Concatenate the operands along the given axis. All other dimensions must be the same.
func Concatenate(axis int, operands ...*Node) *Node {
	g := validateBuildingGraphFromInputs(operands...)
	first := operands[0]
	if axis < 0 {
		axis += first.Rank()
	}
	if axis < 0 || axis >= first.Rank() {
		exceptions.Panicf("Concatenate: invalid axis %d for shape %s", axis, first.shape)
	}
	if len(operands) == 1 {
		return first
	}
	dims := slices.Clone(first.shape.Dimensions)
	for ii, operand := range operands[1:] {
		if operand.DType() != first.DType() || operand.Rank() != first.Rank() {
			exceptions.Panicf("Concatenate: operand #%d shape %s incompatible with %s", ii+1, operand.shape, first.shape)
		}
		for a, dim := range operand.shape.Dimensions {
			if a != axis && dim != dims[a] {
				exceptions.Panicf("Concatenate: operand #%d shape %s incompatible with %s", ii+1, operand.shape, first.shape)
			}
		}
		dims[axis] += operand.shape.Dimensions[axis]
	}
	shape := shapes.Make(first.DType(), dims...)
	return g.opNode(backends.OpTypeConcatenate, shape, &backends.Attrs{Axes: []int{axis}}, operands...)
}

// Slice x: for each axis, take the elements from starts[axis] (inclusive) to limits[axis] (exclusive),
// every strides[axis] elements. If strides is nil, it defaults to 1.
func Slice(x *Node, starts, limits, strides []int) *Node {
	g := validateBuildingGraphFromInputs(x)
	rank := x.Rank()
	if strides == nil {
		strides = slices.Repeat([]int{1}, rank)
	}
	if len(starts) != rank || len(limits) != rank || len(strides) != rank {
		exceptions.Panicf("Slice(%s): starts=%v, limits=%v and strides=%v must have one value per axis",
			x.shape, starts, limits, strides)
	}
	dims := make([]int, rank)
	for axis := range rank {
		if starts[axis] < 0 || limits[axis] > x.shape.Dimensions[axis] || starts[axis] >= limits[axis] || strides[axis] < 1 {
			exceptions.Panicf("Slice(%s): invalid range for axis %d: start=%d, limit=%d, stride=%d",
				x.shape, axis, starts[axis], limits[axis], strides[axis])
		}
		dims[axis] = (limits[axis] - starts[axis] + strides[axis] - 1) / strides[axis]
	}
	shape := shapes.Make(x.DType(), dims...)
	return g.opNode(backends.OpTypeSlice, shape, &backends.Attrs{
		Starts:  slices.Clone(starts),
		Limits:  slices.Clone(limits),
		Strides: slices.Clone(strides),
	}, x)
}

// Dot returns the matrix multiplication of a [M, K] and b [K, N], with shape [M, N].
func Dot(a, b *Node) *Node {
	g := validateBuildingGraphFromInputs(a, b)
	if a.Rank() != 2 || b.Rank() != 2 || a.DType() != b.DType() || a.shape.Dimensions[1] != b.shape.Dimensions[0] {
		exceptions.Panicf("Dot(%s, %s): requires matrices [M, K] x [K, N] of the same dtype", a.shape, b.shape)
	}
	shape := shapes.Make(a.DType(), a.shape.Dimensions[0], b.shape.Dimensions[1])
	return g.opNode(backends.OpTypeDot, shape, nil, a, b)
}

// MatMul is an alias to Dot.
func MatMul(a, b *Node) *Node { return Dot(a, b) }

// ReduceSum sums x over the given axes, which are removed from the output shape.
// If no axes are given, it sums over all axes, resulting in a scalar.
func ReduceSum(x *Node, axes ...int) *Node {
	g := validateBuildingGraphFromInputs(x)
	if len(axes) == 0 {
		axes = xslices.Iota(0, x.Rank())
	}
	reduced := make([]bool, x.Rank())
	for _, axis := range axes {
		if axis < 0 {
			axis += x.Rank()
		}
		if axis < 0 || axis >= x.Rank() || reduced[axis] {
			exceptions.Panicf("ReduceSum(%s, %v): invalid axes", x.shape, axes)
		}
		reduced[axis] = true
	}
	var dims, normalized []int
	for axis, dim := range x.shape.Dimensions {
		if reduced[axis] {
			normalized = append(normalized, axis)
		} else {
			dims = append(dims, dim)
		}
	}
	shape := shapes.Make(x.DType(), dims...)
	return g.opNode(backends.OpTypeReduceSum, shape, &backends.Attrs{Axes: normalized}, x)
}

// Conv2D convolves x [batch, channels, height, width] with kernel [outputChannels, channels/groups, kH, kW].
// If config is nil, backends.DefaultConvConfig is used.
func Conv2D(x, kernel *Node, config *backends.ConvConfig) *Node {
	g := validateBuildingGraphFromInputs(x, kernel)
	if config == nil {
		config = backends.DefaultConvConfig()
	}
	conv := *config
	if x.Rank() != 4 || kernel.Rank() != 4 || x.DType() != kernel.DType() {
		exceptions.Panicf("Conv2D(%s, %s): requires rank-4 operands of the same dtype", x.shape, kernel.shape)
	}
	batch, channels := x.shape.Dimensions[0], x.shape.Dimensions[1]
	outChannels, groupChannels := kernel.shape.Dimensions[0], kernel.shape.Dimensions[1]
	if conv.Groups < 1 || channels%conv.Groups != 0 || outChannels%conv.Groups != 0 || channels/conv.Groups != groupChannels {
		exceptions.Panicf("Conv2D(%s, %s): channels incompatible with %d groups", x.shape, kernel.shape, conv.Groups)
	}
	dims := []int{batch, outChannels, 0, 0}
	for axis := range 2 {
		if conv.Strides[axis] < 1 || conv.Dilations[axis] < 1 || conv.Padding[axis] < 0 {
			exceptions.Panicf("Conv2D: invalid configuration %+v", conv)
		}
		dims[2+axis] = conv.OutputSpatialDim(axis, x.shape.Dimensions[2+axis], kernel.shape.Dimensions[2+axis])
		if dims[2+axis] < 1 {
			exceptions.Panicf("Conv2D(%s, %s): kernel larger than padded input", x.shape, kernel.shape)
		}
	}
	shape := shapes.Make(x.DType(), dims...)
	return g.opNode(backends.OpTypeConv2D, shape, &backends.Attrs{Conv: &conv}, x, kernel)
}

// HostCallback calls fn with the values of the inputs, and returns a node with its result, that must
// have the given output shape.
//
// It only runs in eager graphs: it can be traced, but there is no native kernel, so it can't be AOT compiled.
func HostCallback(name string, fn HostCallbackFn, outputShape shapes.Shape, inputs ...*Node) *Node {
	g := validateBuildingGraphFromInputs(inputs...)
	n := g.newNode(backends.OpTypeHostCallback, outputShape, &backends.Attrs{Name: name}, inputs...)
	n.callback = fn
	if g.eager {
		n.execEager()
	}
	return n
}
