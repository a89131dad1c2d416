// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"math"
	"reflect"

	"github.com/pkg/errors"
)

// Equal checks weather t == otherTensor.
// If they are the same pointer, they are considered equal.
// If the shapes are different, it returns false.
// If either side is invalid (nil), it panics.
//
// Slow implementation: fine for small tensors, but write something specialized for the DType if speed is desired.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	t.AssertValid()
	otherTensor.AssertValid()
	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	equal := true
	t.MustConstFlatData(func(flat0 any) {
		otherTensor.MustConstFlatData(func(flat1 any) {
			t0V := reflect.ValueOf(flat0)
			t1V := reflect.ValueOf(flat1)
			for ii := range t0V.Len() {
				if !t0V.Index(ii).Equal(t1V.Index(ii)) {
					equal = false
					return
				}
			}
		})
	})
	return equal
}

// Mismatch describes the first element where two tensors are not close, see Tensor.FirstMismatch.
type Mismatch struct {
	// Index in the flat (row-major) data.
	Index int

	// Got is the value in the tensor being checked, Want the value in the reference tensor.
	Got, Want float64
}

// IsClose reports whether got is within tolerance of want: |got - want| <= atol + rtol*|want|.
// NaN is never close to anything. Infinities are close only to the same infinity.
func IsClose(got, want, atol, rtol float64) bool {
	if math.IsNaN(got) || math.IsNaN(want) {
		return false
	}
	if got == want {
		return true
	}
	if math.IsInf(got, 0) || math.IsInf(want, 0) {
		return false
	}
	return math.Abs(got-want) <= atol+rtol*math.Abs(want)
}

// FirstMismatch compares t (the values obtained) with want (the reference), element by element, after
// converting both to float64, and returns the first element that is not close (see IsClose).
//
// It returns nil if all elements are close. Shapes must have the same dimensions (dtypes may differ),
// otherwise it panics.
func (t *Tensor) FirstMismatch(want *Tensor, atol, rtol float64) *Mismatch {
	t.AssertValid()
	want.AssertValid()
	if !t.shape.EqualDimensions(want.shape) {
		panic(errors.Errorf("FirstMismatch: shapes don't match, got %s and want %s", t.shape, want.shape))
	}
	gotValues := t.ToFloat64s()
	wantValues := gotValues
	if want != t {
		wantValues = want.ToFloat64s()
	}
	for ii, got := range gotValues {
		if !IsClose(got, wantValues[ii], atol, rtol) {
			return &Mismatch{Index: ii, Got: got, Want: wantValues[ii]}
		}
	}
	return nil
}

// AllClose returns whether t and want have the same dimensions and all their elements are close
// within the given absolute and relative tolerances. See IsClose.
func (t *Tensor) AllClose(want *Tensor, atol, rtol float64) bool {
	if !t.shape.EqualDimensions(want.shape) {
		return false
	}
	return t.FirstMismatch(want, atol, rtol) == nil
}

// InDelta checks weather Abs(t - otherTensor) <= delta for every element.
// If the shapes are different, it returns false.
func (t *Tensor) InDelta(otherTensor *Tensor, delta float64) bool {
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	return t.FirstMismatch(otherTensor, delta, 0) == nil
}
