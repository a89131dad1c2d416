// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"bytes"
	"encoding/gob"
	"math"
	"path/filepath"
	"testing"

	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromValue(t *testing.T) {
	tensor := FromValue([][]float32{{1, 2, 3}, {4, 5, 6}})
	assert.Equal(t, dtypes.Float32, tensor.DType())
	assert.Equal(t, []int{2, 3}, tensor.Shape().Dimensions)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, CopyFlatData[float32](tensor))
	assert.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, tensor.Value())

	scalar := FromValue(int32(7))
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, int32(7), ToScalar[int32](scalar))
	assert.Equal(t, int32(7), scalar.Value())

	ints := FromValue([]int{1, 2, 3})
	assert.Equal(t, dtypes.Int64, ints.DType())
	assert.Equal(t, []int64{1, 2, 3}, CopyFlatData[int64](ints))

	// Irregular shapes panic.
	require.Panics(t, func() { FromValue([][]float32{{1, 2}, {3}}) })

	// Tensors are returned as is.
	assert.Same(t, tensor, FromAnyValue(tensor))
}

func TestFromFlatDataAndDimensions(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 2, 2)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, tensor.Value())
	require.Panics(t, func() { FromFlatDataAndDimensions([]float64{1, 2, 3}, 2, 2) })

	filled := FromScalarAndDimensions(float32(3), 2)
	assert.Equal(t, []float32{3, 3}, CopyFlatData[float32](filled))

	empty := FromShape(shapes.Make(dtypes.Int32, 3))
	assert.Equal(t, []int32{0, 0, 0}, CopyFlatData[int32](empty))
	like := EmptyLike(tensor)
	assert.True(t, like.Shape().Equal(tensor.Shape()))
	assert.Equal(t, []float64{0, 0, 0, 0}, CopyFlatData[float64](like))
}

func TestFlatDataAccess(t *testing.T) {
	tensor := FromValue([]float32{1, 2})
	require.NoError(t, MutableFlatData(tensor, func(flat []float32) {
		flat[1] = 10
	}))
	assert.Equal(t, []float32{1, 10}, CopyFlatData[float32](tensor))

	// Wrong generic type.
	require.Error(t, ConstFlatData(tensor, func(flat []float64) {}))
	require.Error(t, AssignFlatData(tensor, []float32{1, 2, 3}))
	require.NoError(t, AssignFlatData(tensor, []float32{5, 6}))
	assert.Equal(t, []float32{5, 6}, CopyFlatData[float32](tensor))

	clone := tensor.MustClone()
	MustMutableFlatData(clone, func(flat []float32) { flat[0] = -1 })
	assert.Equal(t, []float32{5, 6}, CopyFlatData[float32](tensor))

	dst := EmptyLike(tensor)
	require.NoError(t, dst.CopyFrom(tensor))
	assert.True(t, dst.Equal(tensor))
	require.Error(t, dst.CopyFrom(FromValue([]float32{1})))

	tensor.FinalizeAll()
	assert.False(t, tensor.Ok())
	require.Error(t, tensor.ConstFlatData(func(any) {}))
	var nilTensor *Tensor
	require.Error(t, nilTensor.CheckValid())
}

func TestSerialize(t *testing.T) {
	tensor := FromValue([][]int64{{1, 2}, {3, 4}, {5, 6}})
	var buf bytes.Buffer
	require.NoError(t, tensor.GobSerialize(gob.NewEncoder(&buf)))
	loaded, err := GobDeserialize(gob.NewDecoder(&buf))
	require.NoError(t, err)
	assert.True(t, tensor.Equal(loaded))

	buf.Reset()
	list := []*Tensor{tensor, FromValue(float32(1))}
	require.NoError(t, GobSerializeList(gob.NewEncoder(&buf), list))
	loadedList, err := GobDeserializeList(gob.NewDecoder(&buf))
	require.NoError(t, err)
	require.Len(t, loadedList, 2)
	assert.True(t, loadedList[1].Equal(list[1]))

	filePath := filepath.Join(t.TempDir(), "tensor.bin")
	require.NoError(t, tensor.Save(filePath))
	loaded, err = Load(filePath)
	require.NoError(t, err)
	assert.True(t, tensor.Equal(loaded))
	_, err = Load(filepath.Join(t.TempDir(), "missing.bin"))
	require.Error(t, err)
}

func TestCompare(t *testing.T) {
	want := FromValue([]float32{1, 2, 100})
	got := FromValue([]float32{1.0005, 2, 100.05})
	assert.True(t, got.AllClose(want, 1e-3, 1e-3))
	assert.False(t, got.Equal(want))

	got = FromValue([]float32{1, 2.01, 100})
	mismatch := got.FirstMismatch(want, 1e-3, 1e-3)
	require.NotNil(t, mismatch)
	assert.Equal(t, 1, mismatch.Index)
	assert.InDelta(t, 2.01, mismatch.Got, 1e-6)
	assert.Equal(t, 2.0, mismatch.Want)

	// Different dtypes, same dimensions, are compared by value.
	assert.True(t, FromValue([]float64{1, 2, 100}).AllClose(want, 0, 0))
	assert.False(t, FromValue([]float32{1, 2}).AllClose(want, 1, 1))

	assert.False(t, IsClose(math.NaN(), math.NaN(), 1, 1))
	assert.True(t, IsClose(math.Inf(1), math.Inf(1), 0, 0))
	assert.False(t, IsClose(math.Inf(1), math.Inf(-1), 1, 1))
	assert.True(t, want.InDelta(FromValue([]float32{1.1, 2, 100}), 0.2))
}

func TestConvert(t *testing.T) {
	shape := shapes.Make(dtypes.Float16, 3)
	half := FromFloat64s(shape, []float64{0.5, -1, 2})
	assert.Equal(t, []float64{0.5, -1, 2}, half.ToFloat64s())

	bf := FromFloat64s(shapes.Make(dtypes.BFloat16, 2), []float64{1, 0.25})
	assert.Equal(t, []float64{1, 0.25}, bf.ToFloat64s())

	ints := FromFloat64s(shapes.Make(dtypes.Int32, 2), []float64{1.7, -2})
	assert.Equal(t, []int32{1, -2}, CopyFlatData[int32](ints))

	bools := FromFloat64s(shapes.Make(dtypes.Bool, 2), []float64{0, 3})
	assert.Equal(t, []bool{false, true}, CopyFlatData[bool](bools))
	assert.Equal(t, []float64{0, 1}, bools.ToFloat64s())
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "(Int32)(3)", FromValue(int32(3)).String())
	assert.Equal(t, "(Float32)[3]{1, 2.5, 3}", FromValue([]float32{1, 2.5, 3}).String())
	assert.Equal(t, "(Int64)[8]{0, 1, 2, ..., 5, 6, 7}",
		FromValue([]int64{0, 1, 2, 3, 4, 5, 6, 7}).String())
	assert.Equal(t, "(Int32)[2 2]\n{{1, 2},\n {3, 4}}", FromValue([][]int32{{1, 2}, {3, 4}}).String())
}
