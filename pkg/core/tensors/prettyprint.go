// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

var (
	typeFloat16  = reflect.TypeOf(float16.Float16(0))
	typeBFloat16 = reflect.TypeOf(bfloat16.BFloat16(0))
)

// summaryEdgeItems is the number of leading and trailing items printed on each axis, when the axis is
// larger than twice that.
const summaryEdgeItems = 3

// TensorStringDefaultPrecision used by Tensor.String.
const TensorStringDefaultPrecision = 4

// String converts to string, if not too large. It uses t.Summary(precision=4).
func (t *Tensor) String() string {
	if !t.Ok() {
		return "<invalid tensor>"
	}
	return t.Summary(TensorStringDefaultPrecision)
}

// Summary returns a multi-line summary of the Tensor's content.
// Axes larger than 6 elements only print the first and last 3, separated by an ellipsis.
// Inspired by numpy output.
func (t *Tensor) Summary(precision int) string {
	var buf bytes.Buffer
	w := func(format string, args ...any) { _, _ = fmt.Fprintf(&buf, format, args...) }
	wValue := func(v reflect.Value) {
		switch {
		case v.Type() == typeFloat16:
			w("%.*g", precision, v.Interface().(float16.Float16).Float32())
			return
		case v.Type() == typeBFloat16:
			w("%.*g", precision, v.Interface().(bfloat16.BFloat16).Float32())
			return
		}
		switch v.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			w("%d", v.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			w("%d", v.Uint())
		case reflect.Bool:
			w("%v", v.Bool())
		default:
			w("%.*g", precision, v.Interface())
		}
	}

	dims := t.shape.Dimensions
	strides := t.shape.Strides()
	t.MustConstFlatData(func(flat any) {
		values := reflect.ValueOf(flat)
		w("%s", t.shape)
		if len(dims) == 0 {
			w("(")
			wValue(values.Index(0))
			w(")")
			return
		}

		var printAxis func(axis, offset int)
		printAxis = func(axis, offset int) {
			dim := dims[axis]
			w("{")
			last := axis == len(dims)-1
			for ii := 0; ii < dim; ii++ {
				if dim > 2*summaryEdgeItems && ii == summaryEdgeItems {
					if last {
						w(", ...")
					} else {
						w(",\n%s...", strings.Repeat(" ", axis+1))
					}
					ii = dim - summaryEdgeItems - 1
					continue
				}
				if ii > 0 {
					if last {
						w(", ")
					} else {
						w(",\n%s", strings.Repeat(" ", axis+1))
					}
				}
				if last {
					wValue(values.Index(offset + ii))
				} else {
					printAxis(axis+1, offset+ii*strides[axis])
				}
			}
			w("}")
		}
		if len(dims) > 1 {
			w("\n")
		}
		printAxis(0, 0)
	})
	return buf.String()
}
