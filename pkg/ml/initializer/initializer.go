// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package initializer generates the initial values of model parameters and of random test inputs.
//
// Values are generated on the host, with a math/rand/v2 generator, so they are reproducible given the seed.
package initializer

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/aot/pkg/core/tensors"
)

// Initializer returns a new tensor of the given shape.
type Initializer func(shape shapes.Shape) *tensors.Tensor

var (
	// Zero initializes tensors with zero.
	Zero Initializer = func(shape shapes.Shape) *tensors.Tensor {
		return tensors.FromShape(shape)
	}

	// One initializes tensors with one.
	One Initializer = func(shape shapes.Shape) *tensors.Tensor {
		return constant(shape, 1)
	}
)

// NewRNG returns a deterministic random number generator for the given seed.
func NewRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func constant(shape shapes.Shape, value float64) *tensors.Tensor {
	values := make([]float64, shape.Size())
	for ii := range values {
		values[ii] = value
	}
	return tensors.FromFloat64s(shape, values)
}

func generate(shape shapes.Shape, fn func() float64) *tensors.Tensor {
	if !shape.DType.IsFloat() {
		return tensors.FromShape(shape)
	}
	values := make([]float64, shape.Size())
	for ii := range values {
		values[ii] = fn()
	}
	return tensors.FromFloat64s(shape, values)
}

// Normal returns an initializer that generates random normal values with the given standard deviation
// and mean set to 0.
//
// Non-float tensors are initialized to 0 instead.
func Normal(rng *rand.Rand, stddev float64) Initializer {
	return func(shape shapes.Shape) *tensors.Tensor {
		return generate(shape, func() float64 { return rng.NormFloat64() * stddev })
	}
}

// Uniform returns an initializer that generates random uniform values from [min, max).
//
// Non-float tensors are initialized with zero instead.
func Uniform(rng *rand.Rand, minValue, maxValue float64) Initializer {
	return func(shape shapes.Shape) *tensors.Tensor {
		return generate(shape, func() float64 { return minValue + rng.Float64()*(maxValue-minValue) })
	}
}

// GlorotUniform returns a Glorot uniform initializer, also called Xavier uniform initializer.
//
// It draws samples from a uniform distribution within `[-limit, limit]`, where
// `limit = sqrt(3 / ((fan_in + fan_out)/2))`. It assumes the shapes are the ones of the weights of
// layers.Linear ([outputs, inputs]) or layers.Conv2D ([outputs, inputs, kH, kW]).
//
// It initializes biases (anything with rank <= 1) to zeros.
func GlorotUniform(rng *rand.Rand) Initializer {
	return func(shape shapes.Shape) *tensors.Tensor {
		if shape.Rank() <= 1 {
			return tensors.FromShape(shape)
		}
		fanIn, fanOut := computeFanInFanOut(shape)
		scale := max(1.0, float64(fanIn+fanOut)/2.0)
		limit := math.Sqrt(3.0 / scale)
		return Uniform(rng, -limit, limit)(shape)
	}
}

// computeFanInFanOut of weights [outputs, inputs, spatial...].
func computeFanInFanOut(shape shapes.Shape) (fanIn, fanOut int) {
	receptiveField := 1
	for _, dim := range shape.Dimensions[2:] {
		receptiveField *= dim
	}
	return shape.Dimensions[1] * receptiveField, shape.Dimensions[0] * receptiveField
}
