// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/x448/float16"
)

func TestSummary(t *testing.T) {
	assert.Equal(t, "(Float32)(1.5)", FromValue(float32(1.5)).Summary(3))
	assert.Equal(t, "(Int32)[3] {1, 2, 3}", FromValue([]int32{1, 2, 3}).Summary(3))
	assert.Equal(t, "(Uint8)[8] {0, 1, 2, ..., 5, 6, 7}",
		FromValue([]uint8{0, 1, 2, 3, 4, 5, 6, 7}).Summary(3))
	assert.Equal(t, "(Float64)[2 2]\n{{0.333, 1},\n {2, 3}}",
		FromValue([][]float64{{1.0 / 3, 1}, {2, 3}}).Summary(3))
	assert.Equal(t, "(Float16)[1] {0.5}", FromValue([]float16.Float16{float16.Fromfloat32(0.5)}).Summary(3))

	rows := make([][]int64, 7)
	for ii := range rows {
		rows[ii] = []int64{int64(ii)}
	}
	assert.Equal(t, "(Int64)[7 1]\n{{0},\n {1},\n {2},\n ...,\n {4},\n {5},\n {6}}", FromValue(rows).Summary(3))

	assert.Equal(t, "(Float32)[0 2]", Zeros(dtypes.Float32, 0, 2).Summary(3))

	finalized := FromValue([]float32{1})
	finalized.Finalize()
	assert.Equal(t, "Tensor(Float32)[1](finalized)", finalized.Summary(3))
}
