// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a `Tensor`, a representation of a multidimensional array.
//
// Tensors are multidimensional arrays (from scalar with 0 dimensions, to arbitrarily large dimensions), defined
// by their shape (a data type and its axes' dimensions) and their actual content, stored as a flat (1D), row-major,
// Go slice of the corresponding dtype.
//
// The main use of tensors is to be used as inputs and outputs of models: eager execution, AOT compiled artifacts
// and the buffers pre-allocated for a native call to write into.
//
// There are various ways to construct a Tensor from local data:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - EmptyLike(t *Tensor): creates a tensor with the same shape as t, and zero values. Used to pre-allocate
//     output buffers.
//
//   - FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int): creates a Tensor with the
//     given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
//
//   - FromValue[S MultiDimensionSlice](value S): Generic conversion works with the scalar supported `DType`s
//     as well as with any arbitrary multidimensional slice of them. Slices of rank > 1 must be regular, that is
//     all the sub-slices must have the same shape. Example:
//
//     t := FromValue([][]float{{1,2}, {3, 5}, {7, 11}})`
//
//   - FromAnyValue(value any): same as FromValue but non-generic, it takes an anonymous type `any`. The exception
//     is if `value` is already a tensor, then it is a no-op, and it returns the tensor itself.
//
// The flat data is accessed with ConstFlatData and MutableFlatData, that lock the tensor during the access.
package tensors

import (
	"reflect"
	"sync"

	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Tensor represents a multidimensional array (from scalar with 0 dimensions, to arbitrarily large dimensions), defined
// by their shape, a data type (dtypes.DType) and its axes' dimensions, and their actual content stored as a flat (1D)
// array of values.
//
// The flat data is owned by the Tensor, and protected by a mutex: it should only be accessed with
// ConstFlatData or MutableFlatData (or their generic versions).
type Tensor struct {
	// shape of the tensor.
	shape shapes.Shape

	// mu protects the flat data, but not the shape, which is considered immutable (only changed
	// when Tensor is finalized).
	mu sync.Mutex

	// flat holds the array with actual data, a slice of the Go type for the dtype of the shape.
	flat any
}

// newEmptyTensor returns a Tensor object initialized only with the shape, but no actual storage.
func newEmptyTensor(shape shapes.Shape) *Tensor {
	return &Tensor{
		shape: shape,
	}
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
//
// It panics if you provide an invalid shape.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		panic(errors.New("invalid shape"))
	}
	t := newEmptyTensor(shape.Clone())
	t.flat = reflect.MakeSlice(reflect.SliceOf(t.shape.DType.GoType()), t.Size(), t.Size()).Interface()
	return t
}

// EmptyLike returns a new Tensor with the same shape (dtype and dimensions) as t, initialized with zeros.
//
// It only reads t's shape, never its contents.
func EmptyLike(t *Tensor) *Tensor {
	return FromShape(t.Shape())
}

// Shape of the tensor, includes DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
// It is a shortcut to `Tensor.Shape().DType`.
func (t *Tensor) DType() dtypes.DType {
	if t == nil {
		return dtypes.InvalidDType
	}
	return t.shape.DType
}

// Rank returns the rank of the tensor's shape.
// It is a shortcut to `Tensor.Shape().Rank()`.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar returns whether the tensor represents a scalar value.
// It is a shortcut to `Tensor.Shape().IsScalar()`.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size returns the number of elements in the tensor.
// It is a shortcut to `Tensor.Shape().Size()`.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor. An alias to Tensor.Shape().Memory().
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Ok returns whether the Tensor is in a valid state: it is not nil, and it hasn't been finalized.
func (t *Tensor) Ok() bool {
	return t != nil && t.shape.Ok() && t.flat != nil
}

// CheckValid returns an error if it's nil, has been finalized, or if its shape is invalid.
func (t *Tensor) CheckValid() error {
	if t == nil {
		return errors.New("Tensor is nil")
	}
	if !t.shape.Ok() {
		return errors.New("Tensor shape is invalid")
	}
	if t.flat == nil {
		return errors.New("Tensor has been finalized")
	}
	return nil
}

// AssertValid panics if it's nil, has been finalized, or if its shape is invalid.
func (t *Tensor) AssertValid() {
	err := t.CheckValid()
	if err != nil {
		panic(err)
	}
}

// FinalizeAll immediately frees the associated data and leave Tensor in an invalid state.
//
// It's the caller's responsibility to ensure the tensor is not being used elsewhere
// (like in the middle of an execution).
func (t *Tensor) FinalizeAll() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flat = nil
	t.shape = shapes.Invalid()
}

// Clone creates a deep copy of the Tensor.
func (t *Tensor) Clone() (*Tensor, error) {
	var clone *Tensor
	err := t.ConstFlatData(func(flat any) {
		clone = newEmptyTensor(t.shape.Clone())
		flatV := reflect.ValueOf(flat)
		size := flatV.Len()
		cloneFlatV := reflect.MakeSlice(flatV.Type(), size, size)
		reflect.Copy(cloneFlatV, flatV)
		clone.flat = cloneFlatV.Interface()
	})
	if err != nil {
		return nil, err
	}
	return clone, nil
}

// MustClone is like Clone, but panics on error.
func (t *Tensor) MustClone() *Tensor {
	clone, err := t.Clone()
	must(err)
	return clone
}

// CopyFrom copies the contents of tFrom into t. Both must have the same shape.
//
// Used by runtimes to write results into pre-allocated output buffers.
func (t *Tensor) CopyFrom(tFrom *Tensor) error {
	if t == tFrom {
		return nil
	}
	if err := t.CheckValid(); err != nil {
		return err
	}
	if err := tFrom.CheckValid(); err != nil {
		return err
	}
	if !t.shape.Equal(tFrom.shape) {
		return errors.Errorf("Tensor.CopyFrom: shapes don't match, destination is %s, source is %s", t.shape, tFrom.shape)
	}
	return tFrom.ConstFlatData(func(src any) {
		t.mu.Lock()
		defer t.mu.Unlock()
		reflect.Copy(reflect.ValueOf(t.flat), reflect.ValueOf(src))
	})
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
