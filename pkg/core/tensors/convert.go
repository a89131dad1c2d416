// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// ToFloat64s returns a copy of the tensor's flat data converted to float64.
// Booleans are converted to 0 or 1.
//
// It panics for invalid tensors or unsupported dtypes.
func (t *Tensor) ToFloat64s() []float64 {
	var out []float64
	t.MustConstFlatData(func(flat any) {
		out = make([]float64, t.Size())
		switch data := flat.(type) {
		case []float32:
			for ii, v := range data {
				out[ii] = float64(v)
			}
		case []float64:
			copy(out, data)
		case []float16.Float16:
			for ii, v := range data {
				out[ii] = float64(v.Float32())
			}
		case []bfloat16.BFloat16:
			for ii, v := range data {
				out[ii] = float64(v.Float32())
			}
		case []int8:
			convertToFloat64s(out, data)
		case []int16:
			convertToFloat64s(out, data)
		case []int32:
			convertToFloat64s(out, data)
		case []int64:
			convertToFloat64s(out, data)
		case []uint8:
			convertToFloat64s(out, data)
		case []uint16:
			convertToFloat64s(out, data)
		case []uint32:
			convertToFloat64s(out, data)
		case []uint64:
			convertToFloat64s(out, data)
		case []bool:
			for ii, v := range data {
				if v {
					out[ii] = 1
				}
			}
		default:
			exceptions.Panicf("ToFloat64s: dtype %s not supported", t.DType())
		}
	})
	return out
}

// FromFloat64s creates a tensor of the given shape from float64 values, converting them to the shape's dtype.
// Integer dtypes truncate, and booleans are set to true for any non-zero value.
//
// It panics if the number of values doesn't match the shape size, or for unsupported dtypes.
func FromFloat64s(shape shapes.Shape, values []float64) *Tensor {
	if len(values) != shape.Size() {
		exceptions.Panicf("FromFloat64s(%s): got %d values, but shape has size %d", shape, len(values), shape.Size())
	}
	t := FromShape(shape)
	t.MustMutableFlatData(func(flat any) {
		switch data := flat.(type) {
		case []float32:
			for ii, v := range values {
				data[ii] = float32(v)
			}
		case []float64:
			copy(data, values)
		case []float16.Float16:
			for ii, v := range values {
				data[ii] = float16.Fromfloat32(float32(v))
			}
		case []bfloat16.BFloat16:
			for ii, v := range values {
				data[ii] = bfloat16.FromFloat32(float32(v))
			}
		case []int8:
			convertFromFloat64s(data, values)
		case []int16:
			convertFromFloat64s(data, values)
		case []int32:
			convertFromFloat64s(data, values)
		case []int64:
			convertFromFloat64s(data, values)
		case []uint8:
			convertFromFloat64s(data, values)
		case []uint16:
			convertFromFloat64s(data, values)
		case []uint32:
			convertFromFloat64s(data, values)
		case []uint64:
			convertFromFloat64s(data, values)
		case []bool:
			for ii, v := range values {
				data[ii] = v != 0
			}
		default:
			exceptions.Panicf("FromFloat64s: dtype %s not supported", shape.DType)
		}
	})
	return t
}

type realNumber interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

func convertToFloat64s[T realNumber](out []float64, data []T) {
	for ii, v := range data {
		out[ii] = float64(v)
	}
}

func convertFromFloat64s[T realNumber](data []T, values []float64) {
	for ii, v := range values {
		data[ii] = T(v)
	}
}
