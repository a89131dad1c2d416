// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package native

import (
	"reflect"

	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/aot/pkg/core/tensors"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// buffer holds the value of one slot during execution. Buffers are never modified after being written,
// so they can be shared between slots (e.g. by Reshape).
type buffer struct {
	shape shapes.Shape
	flat  any
}

// newBuffer allocates a zero initialized buffer.
func newBuffer(shape shapes.Shape) *buffer {
	size := shape.Size()
	return &buffer{
		shape: shape,
		flat:  reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), size, size).Interface(),
	}
}

// bufferFromTensor copies the tensor contents into a new buffer.
func bufferFromTensor(t *tensors.Tensor) (*buffer, error) {
	var b *buffer
	err := t.ConstFlatData(func(flat any) {
		b = newBuffer(t.Shape().Clone())
		reflect.Copy(reflect.ValueOf(b.flat), reflect.ValueOf(flat))
	})
	return b, err
}

// copyToTensor copies the buffer contents into t, that must have the same shape.
func (b *buffer) copyToTensor(t *tensors.Tensor) error {
	return t.MutableFlatData(func(flat any) {
		reflect.Copy(reflect.ValueOf(flat), reflect.ValueOf(b.flat))
	})
}

// toFloat32 converts a half precision buffer to float32.
func (b *buffer) toFloat32() *buffer {
	shape := b.shape.Clone()
	shape.DType = dtypes.Float32
	out := newBuffer(shape)
	outFlat := out.flat.([]float32)
	switch flat := b.flat.(type) {
	case []float16.Float16:
		for ii, v := range flat {
			outFlat[ii] = v.Float32()
		}
	case []bfloat16.BFloat16:
		for ii, v := range flat {
			outFlat[ii] = v.Float32()
		}
	default:
		exceptions.Panicf("toFloat32: unsupported dtype %s", b.shape.DType)
	}
	return out
}

// fromFloat32 converts a float32 buffer to the given half precision dtype.
func (b *buffer) fromFloat32(dtype dtypes.DType) *buffer {
	shape := b.shape.Clone()
	shape.DType = dtype
	out := newBuffer(shape)
	inFlat := b.flat.([]float32)
	switch flat := out.flat.(type) {
	case []float16.Float16:
		for ii, v := range inFlat {
			flat[ii] = float16.Fromfloat32(v)
		}
	case []bfloat16.BFloat16:
		for ii, v := range inFlat {
			flat[ii] = bfloat16.FromFloat32(v)
		}
	default:
		exceptions.Panicf("fromFloat32: unsupported dtype %s", dtype)
	}
	return out
}
