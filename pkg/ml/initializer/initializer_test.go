// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package initializer

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kerasgraph/pkg/core/shapes"
	"github.com/gomlx/kerasgraph/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
)

func TestConstants(t *testing.T) {
	shape := shapes.Make(dtypes.Float32, 2, 3)
	assert.Equal(t, [][]float32{{0, 0, 0}, {0, 0, 0}}, Zero(shape).Value())
	assert.Equal(t, [][]float32{{1, 1, 1}, {1, 1, 1}}, One(shape).Value())
	assert.Equal(t, []int32{7, 7}, Constant(7)(shapes.Make(dtypes.Int32, 2)).Value())
	assert.Panics(t, func() { One(shapes.Make(dtypes.Float32, shapes.AnyDim, 3)) })
}

func TestUniform(t *testing.T) {
	shape := shapes.Make(dtypes.Float64, 100, 10)
	values := tensors.CopyFlatData[float64](Uniform(42, -2, 3)(shape))
	minValue, maxValue := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		minValue = min(minValue, v)
		maxValue = max(maxValue, v)
	}
	assert.GreaterOrEqual(t, minValue, -2.0)
	assert.Less(t, maxValue, 3.0)
	assert.Less(t, minValue, -1.5)
	assert.Greater(t, maxValue, 2.5)

	// Same seed, same values; the stream continues across calls.
	init1, init2 := Uniform(7, 0, 1), Uniform(7, 0, 1)
	small := shapes.Make(dtypes.Float32, 4)
	first := init1(small)
	assert.True(t, first.Equal(init2(small)))
	assert.False(t, first.Equal(init1(small)))

	// Non-float weights are zero.
	assert.Equal(t, []int64{0, 0}, Uniform(1, 5, 6)(shapes.Make(dtypes.Int64, 2)).Value())
}

func TestNormal(t *testing.T) {
	values := tensors.CopyFlatData[float64](Normal(1, 0.5)(shapes.Make(dtypes.Float64, 10_000)))
	var sum, sum2 float64
	for _, v := range values {
		sum += v
		sum2 += v * v
	}
	mean := sum / float64(len(values))
	stddev := math.Sqrt(sum2/float64(len(values)) - mean*mean)
	assert.InDelta(t, 0, mean, 0.05)
	assert.InDelta(t, 0.5, stddev, 0.05)
}

func TestGlorotUniform(t *testing.T) {
	init := GlorotUniform(3)
	kernel := tensors.CopyFlatData[float32](init(shapes.Make(dtypes.Float32, 4, 2)))
	limit := math.Sqrt(3.0 / 3.0)
	nonZero := 0
	for _, v := range kernel {
		assert.LessOrEqual(t, math.Abs(float64(v)), limit)
		if v != 0 {
			nonZero++
		}
	}
	assert.Positive(t, nonZero)
	assert.Equal(t, []float32{0, 0, 0}, init(shapes.Make(dtypes.Float32, 3)).Value())

	fanIn, fanOut := computeFanInFanOut(shapes.Make(dtypes.Float32, 3, 3, 8, 16))
	assert.Equal(t, 72, fanIn)
	assert.Equal(t, 144, fanOut)
}
