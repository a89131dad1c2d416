// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package initializer

import (
	"testing"

	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
)

func TestInitializers(t *testing.T) {
	shape := shapes.Make(dtypes.Float32, 8, 4)
	a := Uniform(NewRNG(42), -1, 1)(shape)
	b := Uniform(NewRNG(42), -1, 1)(shape)
	assert.True(t, a.Equal(b), "same seed should generate the same values")
	for _, v := range a.ToFloat64s() {
		assert.GreaterOrEqual(t, v, -1.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	c := Normal(NewRNG(43), 1)(shape)
	assert.False(t, a.Equal(c))

	limitSquared := 0.5 // limit = sqrt(3 / ((4+8)/2))
	glorot := GlorotUniform(NewRNG(1))(shape)
	for _, v := range glorot.ToFloat64s() {
		assert.LessOrEqual(t, v*v, limitSquared+1e-6)
	}
	assert.Equal(t, make([]float64, 8), GlorotUniform(NewRNG(1))(shapes.Make(dtypes.Float32, 8)).ToFloat64s())

	ints := Normal(NewRNG(1), 1)(shapes.Make(dtypes.Int32, 3))
	assert.Equal(t, []float64{0, 0, 0}, ints.ToFloat64s())
	assert.Equal(t, []float64{1, 1}, One(shapes.Make(dtypes.Float64, 2)).ToFloat64s())
}
