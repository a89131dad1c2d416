// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/gomlx/exceptions"
)

// Sigmoid returns Logistic(x).
func Sigmoid(x *Node) *Node { return Logistic(x) }

// Relu returns Max(x, 0).
func Relu(x *Node) *Node {
	return Max(x, Scalar(x.graph, x.DType(), 0))
}

// Square returns x*x.
func Square(x *Node) *Node { return Mul(x, x) }

// ExpandDims inserts a new axis of dimension 1 at the given position. Negative values count from the end,
// so -1 adds a new last axis.
func ExpandDims(x *Node, axis int) *Node {
	if axis < 0 {
		axis += x.Rank() + 1
	}
	if axis < 0 || axis > x.Rank() {
		exceptions.Panicf("ExpandDims(%s, %d): invalid axis", x.shape, axis)
	}
	dims := slices.Insert(slices.Clone(x.shape.Dimensions), axis, 1)
	return Reshape(x, dims...)
}

// Index returns x[..., index, ...] for the given axis, removing the axis from the result.
// Negative indices count from the end.
func Index(x *Node, axis, index int) *Node {
	if axis < 0 {
		axis += x.Rank()
	}
	if axis < 0 || axis >= x.Rank() {
		exceptions.Panicf("Index(%s, axis=%d): invalid axis", x.shape, axis)
	}
	dim := x.shape.Dimensions[axis]
	if index < 0 {
		index += dim
	}
	if index < 0 || index >= dim {
		exceptions.Panicf("Index(%s, axis=%d, index=%d): index out of range", x.shape, axis, index)
	}
	starts := make([]int, x.Rank())
	limits := slices.Clone(x.shape.Dimensions)
	starts[axis], limits[axis] = index, index+1
	sliced := Slice(x, starts, limits, nil)
	return Reshape(sliced, slices.Delete(slices.Clone(x.shape.Dimensions), axis, axis+1)...)
}

// SliceAxis returns x[..., start:limit, ...] for the given axis.
func SliceAxis(x *Node, axis, start, limit int) *Node {
	starts := make([]int, x.Rank())
	limits := slices.Clone(x.shape.Dimensions)
	starts[axis], limits[axis] = start, limit
	return Slice(x, starts, limits, nil)
}

// Linear returns x @ weights^T + bias, for x [batch, inputs], weights [outputs, inputs] and bias [outputs].
// The bias is optional (nil).
func Linear(x, weights, bias *Node) *Node {
	if weights.Rank() != 2 {
		exceptions.Panicf("Linear: weights must be [outputs, inputs], got %s", weights.shape)
	}
	output := Dot(x, Transpose(weights, 1, 0))
	if bias != nil {
		output = Add(output, bias)
	}
	return output
}

// ReduceMean returns the mean of x over the given axes.
func ReduceMean(x *Node, axes ...int) *Node {
	sum := ReduceSum(x, axes...)
	count := x.shape.Size() / sum.shape.Size()
	return Div(sum, Scalar(x.graph, x.DType(), float64(count)))
}
