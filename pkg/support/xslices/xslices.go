// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices holds small generic slice helpers missing from the standard slices package.
package xslices

import "golang.org/x/exp/constraints"

// Copy returns a new (shallow) copy of slice, or nil if it is empty.
func Copy[T any](slice []T) []T {
	if len(slice) == 0 {
		return nil
	}
	slice2 := make([]T, len(slice))
	copy(slice2, slice)
	return slice2
}

// Map returns fn applied to every element of in, in order.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// Iota returns a slice of incremental values, starting with start and of length n.
// E.g.: Iota(3.0, 2) -> []float64{3.0, 4.0}
func Iota[T constraints.Integer | constraints.Float](start T, n int) (slice []T) {
	slice = make([]T, n)
	for ii := range slice {
		slice[ii] = start + T(ii)
	}
	return
}
