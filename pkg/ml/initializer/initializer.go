// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package initializer provides weight initializers for layers: functions that create the concrete initial value
// of a weight, given its shape.
package initializer

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kerasgraph/pkg/core/shapes"
	"github.com/gomlx/kerasgraph/pkg/core/tensors"
)

// Initializer creates the initial value of a weight with the given shape, which must be fully defined.
type Initializer func(shape shapes.Shape) *tensors.Tensor

var (
	// Zero initializes weights with zero.
	Zero Initializer = func(shape shapes.Shape) *tensors.Tensor {
		return tensors.FromShape(shape)
	}

	// One initializes weights with one.
	One Initializer = Constant(1)
)

// Constant returns an initializer that sets all values to value.
func Constant(value float64) Initializer {
	return func(shape shapes.Shape) *tensors.Tensor {
		assertDefined(shape)
		return tensors.Full(shape.DType, value, shape.Dimensions...)
	}
}

func assertDefined(shape shapes.Shape) {
	if !shape.IsFullyDefined() {
		exceptions.Panicf("initializer: shape %s is not fully defined", shape)
	}
}

// randomInitializer creates an initializer drawing values from sample, with a random number generator seeded
// with seed. Calls to the initializer continue the same random stream.
//
// Non-float weights are initialized with zero.
func randomInitializer(seed uint64, sample func(rng *rand.Rand, shape shapes.Shape) []float64) Initializer {
	var mu sync.Mutex
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return func(shape shapes.Shape) *tensors.Tensor {
		assertDefined(shape)
		if !shape.DType.IsFloat() {
			return tensors.FromShape(shape)
		}
		mu.Lock()
		values := sample(rng, shape)
		mu.Unlock()
		t, err := tensors.FromFloat64s(shape, values)
		if err != nil {
			panic(err)
		}
		return t
	}
}

// Uniform returns an initializer that generates random uniform values from [min, max).
//
// Non-float weights are initialized with zero instead.
func Uniform(seed uint64, minValue, maxValue float64) Initializer {
	return randomInitializer(seed, func(rng *rand.Rand, shape shapes.Shape) []float64 {
		values := make([]float64, shape.Size())
		for ii := range values {
			values[ii] = minValue + rng.Float64()*(maxValue-minValue)
		}
		return values
	})
}

// Normal returns an initializer that generates random normal values with the given standard deviation
// and mean set to 0.
//
// Non-float weights are initialized with zero instead.
func Normal(seed uint64, stddev float64) Initializer {
	return randomInitializer(seed, func(rng *rand.Rand, shape shapes.Shape) []float64 {
		values := make([]float64, shape.Size())
		for ii := range values {
			values[ii] = rng.NormFloat64() * stddev
		}
		return values
	})
}

// GlorotUniform returns a Glorot uniform initializer, also called Xavier uniform initializer.
//
// It draws samples from a uniform distribution within `[-limit, limit]`, where
// `limit = sqrt(3 / ((fan_in + fan_out)/2))` (`fan_in` is the number of input units in the weight tensor and
// fan_out is the number of output units).
//
// It initializes biases (anything with rank <= 1) to zeros.
//
// Non-float weights are initialized with zero instead.
func GlorotUniform(seed uint64) Initializer {
	return randomInitializer(seed, func(rng *rand.Rand, shape shapes.Shape) []float64 {
		values := make([]float64, shape.Size())
		if shape.Rank() <= 1 {
			// Zero-bias.
			return values
		}
		fanIn, fanOut := computeFanInFanOut(shape)
		scale := max(1.0, float64(fanIn+fanOut)/2.0)
		limit := math.Sqrt(3.0 / scale)
		for ii := range values {
			values[ii] = (rng.Float64()*2 - 1) * limit
		}
		return values
	})
}

// computeFanInFanOut of a weight expected to be the kernel of a dense layer (or a convolution).
func computeFanInFanOut(shape shapes.Shape) (fanIn, fanOut int) {
	rank := shape.Rank()
	switch rank {
	case 0: // Scalar.
		fanIn = 1
		fanOut = fanIn
	case 1: // 1D shape, like a bias term in a dense layer.
		fanIn = 0
		fanOut = fanIn
	case 2: // 2D shape, weights of a dense layer.
		fanIn = shape.Dimensions[0]
		fanOut = shape.Dimensions[1]
	default: // Assuming convolution kernels (2D, 3D, or more):
		receptiveFieldSize := 1
		for _, dim := range shape.Dimensions[:rank-2] {
			receptiveFieldSize *= dim
		}
		fanIn = shape.Dimensions[rank-2] * receptiveFieldSize
		fanOut = shape.Dimensions[rank-1] * receptiveFieldSize
	}
	return
}
