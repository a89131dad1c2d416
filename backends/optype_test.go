// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
)

func TestOpTypeString(t *testing.T) {
	for op := OpTypeInvalid; op < OpTypeLast; op++ {
		assert.NotEmpty(t, op.String(), "OpType %d has no name", int(op))
	}
	assert.Equal(t, "Dot", OpTypeDot.String())
	assert.Equal(t, "OpType(1000)", OpType(1000).String())
	assert.True(t, OpTypeSin.IsUnary())
	assert.False(t, OpTypeAdd.IsUnary())
	assert.True(t, OpTypeMin.IsBinary())
}

func TestCapabilities(t *testing.T) {
	c := Capabilities{
		Operations: map[OpType]bool{OpTypeSin: true, OpTypeAdd: true},
		DTypes:     map[dtypes.DType]bool{dtypes.Float32: true, dtypes.Int32: true},
	}
	assert.True(t, c.Supports(OpTypeSin, dtypes.Float32))
	assert.False(t, c.Supports(OpTypeSin, dtypes.Int32))
	assert.True(t, c.Supports(OpTypeAdd, dtypes.Int32))
	assert.False(t, c.Supports(OpTypeAdd, dtypes.Float64))
	assert.False(t, c.Supports(OpTypeDot, dtypes.Float32))

	c2 := c.Clone()
	c2.Operations[OpTypeDot] = true
	assert.False(t, c.Supports(OpTypeDot, dtypes.Float32))
	assert.True(t, c2.Supports(OpTypeDot, dtypes.Float32))
}

func TestOutputSpatialDim(t *testing.T) {
	c := DefaultConvConfig()
	assert.Equal(t, 2, c.OutputSpatialDim(0, 3, 2))
	c.Strides = [2]int{2, 2}
	assert.Equal(t, 0, c.OutputSpatialDim(0, 4, 5), "kernel larger than the input")
	assert.Equal(t, 1, c.OutputSpatialDim(1, 5, 5))
	c.Padding = [2]int{1, 1}
	assert.Equal(t, 2, c.OutputSpatialDim(0, 4, 5))
	c.Dilations = [2]int{2, 2}
	assert.Equal(t, 0, c.OutputSpatialDim(1, 4, 5), "dilated kernel spans 9 elements")
}
