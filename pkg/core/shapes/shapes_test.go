// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 24, shape1.Size())
	require.Equal(t, 4*24, int(shape1.Memory()))
	require.Equal(t, 2, shape1.Dim(-1))
	require.Equal(t, "(Float32)[4 3 2]", shape1.String())

	require.True(t, shape1.Equal(shape1.Clone()))
	require.False(t, shape1.Equal(Make(dtypes.Float64, 4, 3, 2)))
	require.True(t, shape1.EqualDimensions(Make(dtypes.Float64, 4, 3, 2)))
	require.Panics(t, func() { _ = Make(dtypes.Float32, 0, 3) })
	require.Panics(t, func() { _ = shape1.Dim(3) })
}

func TestSerialization(t *testing.T) {
	for _, s := range []Shape{Make(dtypes.Float32), Make(dtypes.Int64, 3, 1, 7)} {
		buf := &bytes.Buffer{}
		require.NoError(t, s.GobSerialize(gob.NewEncoder(buf)))
		s2, err := GobDeserialize(gob.NewDecoder(buf))
		require.NoError(t, err)
		require.True(t, s.Equal(s2), "deserialized %s, wanted %s", s2, s)
	}
}

func TestStrides(t *testing.T) {
	assert.Equal(t, []int{12, 4, 1}, Make(dtypes.Float32, 2, 3, 4).Strides())
	assert.Nil(t, Make(dtypes.Float32).Strides())

	// Channels-last layout of NCHW: C is the fastest axis, then W, H and N.
	dims := []int{2, 3, 4, 5}
	fillOrder, err := StrideOrderToFillOrder([]int{3, 0, 2, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 2, 0}, fillOrder)
	strides, err := StrideOrderedStrides(dims, []int{3, 0, 2, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{60, 1, 15, 3}, strides)
	assert.False(t, IsRowMajor(dims, strides))
	assert.True(t, IsRowMajor(dims, RowMajorStrides(dims)))

	_, err = StrideOrderedStrides(dims, []int{0, 0, 1, 2})
	require.Error(t, err)
	_, err = FillOrderedStrides(dims, []int{0, 1})
	require.Error(t, err)
}

func TestIter(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3)
	var got [][]int
	for flatIdx, indices := range s.Iter() {
		require.Equal(t, len(got), flatIdx)
		got = append(got, append([]int(nil), indices...))
	}
	assert.Equal(t, [][]int{{0, 0}, {0, 1}, {0, 2}, {1, 0}, {1, 1}, {1, 2}}, got)

	count := 0
	for range Make(dtypes.Float32).Iter() {
		count++
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, []int{4, 2, 3}, Permute([]int{2, 3, 4}, []int{2, 0, 1}))
}
