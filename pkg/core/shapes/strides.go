// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"iter"
	"slices"

	"github.com/pkg/errors"
)

// Strides returns the strides for each axis of the shape, assuming a "row-major" layout
// in memory, the one used everywhere in GoMLX.
//
// Notice the strides are **not in bytes**, but in indices.
func (s Shape) Strides() (strides []int) {
	return RowMajorStrides(s.Dimensions)
}

// RowMajorStrides returns the row-major strides for the given dimensions: the last axis is
// the fastest moving one.
func RowMajorStrides(dimensions []int) (strides []int) {
	rank := len(dimensions)
	if rank == 0 {
		return
	}
	strides = make([]int, rank)
	currentStride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = currentStride
		currentStride *= dimensions[axis]
	}
	return
}

// StrideOrderToFillOrder converts a "stride order" (for each axis, its rank from the fastest
// moving, 0, to the slowest) to a "fill order" (the list of axes, from the fastest moving to the
// slowest).
//
// Example: the channels-last layout of an NCHW tensor has stride order [3, 0, 2, 1], and fill
// order [1, 3, 2, 0].
func StrideOrderToFillOrder(strideOrder []int) ([]int, error) {
	if err := checkPermutation(strideOrder); err != nil {
		return nil, errors.WithMessage(err, "invalid stride order")
	}
	fillOrder := make([]int, len(strideOrder))
	for axis, pos := range strideOrder {
		fillOrder[pos] = axis
	}
	return fillOrder, nil
}

// FillOrderedStrides returns the strides of the dimensions when the axes are laid out in memory
// following fillOrder: fillOrder[0] is the fastest moving axis (stride 1).
func FillOrderedStrides(dimensions []int, fillOrder []int) ([]int, error) {
	if len(fillOrder) != len(dimensions) {
		return nil, errors.Errorf("fill order %v has %d axes, but dimensions %v have rank %d",
			fillOrder, len(fillOrder), dimensions, len(dimensions))
	}
	if err := checkPermutation(fillOrder); err != nil {
		return nil, errors.WithMessage(err, "invalid fill order")
	}
	strides := make([]int, len(dimensions))
	nextStride := 1
	for _, axis := range fillOrder {
		strides[axis] = nextStride
		nextStride *= dimensions[axis]
	}
	return strides, nil
}

// StrideOrderedStrides returns the strides of the dimensions for the given stride order.
// See StrideOrderToFillOrder.
func StrideOrderedStrides(dimensions []int, strideOrder []int) ([]int, error) {
	fillOrder, err := StrideOrderToFillOrder(strideOrder)
	if err != nil {
		return nil, err
	}
	return FillOrderedStrides(dimensions, fillOrder)
}

func checkPermutation(axes []int) error {
	seen := make([]bool, len(axes))
	for _, axis := range axes {
		if axis < 0 || axis >= len(axes) || seen[axis] {
			return errors.Errorf("%v is not a permutation of the axes 0..%d", axes, len(axes)-1)
		}
		seen[axis] = true
	}
	return nil
}

// Iter iterates sequentially over all possible indices of the given shape.
//
// It yields the flat index (counter) and a slice of indices for each axis.
//
// To avoid allocating the slice of indices, the yielded indices is owned by the Iter() method:
// don't change it inside the loop.
func (s Shape) Iter() iter.Seq2[int, []int] {
	return func(yield func(int, []int) bool) {
		if !s.Ok() {
			return
		}
		rank := s.Rank()
		indices := make([]int, rank)
		if rank == 0 {
			_ = yield(0, indices)
			return
		}
		size := s.Size()
		for flatIdx := 0; flatIdx < size; flatIdx++ {
			if !yield(flatIdx, indices) {
				return
			}
			// Increment indices, last axis first.
			for axis := rank - 1; axis >= 0; axis-- {
				indices[axis]++
				if indices[axis] < s.Dimensions[axis] {
					break
				}
				indices[axis] = 0
			}
		}
	}
}

// Permute returns the dimensions permuted: result[i] = dimensions[permutation[i]].
func Permute(dimensions []int, permutation []int) []int {
	result := make([]int, len(permutation))
	for ii, axis := range permutation {
		result[ii] = dimensions[axis]
	}
	return result
}

// IsRowMajor returns whether the strides correspond to the row-major layout of the dimensions.
func IsRowMajor(dimensions, strides []int) bool {
	return slices.Equal(RowMajorStrides(dimensions), strides)
}
