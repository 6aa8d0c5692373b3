// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"math"
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kerasgraph/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

type native interface {
	constraints.Integer | constraints.Float
}

func toFloat64s[T native](flat []T) []float64 {
	out := make([]float64, len(flat))
	for ii, v := range flat {
		out[ii] = float64(v)
	}
	return out
}

func fromFloat64s[T native](values []float64) []T {
	out := make([]T, len(values))
	for ii, v := range values {
		out[ii] = T(v)
	}
	return out
}

// ToFloat64s returns a copy of the tensor values converted to float64.
// Useful for operations that work on any dtype.
func ToFloat64s(t *Tensor) []float64 {
	var out []float64
	t.ConstFlatData(func(flatAny any) {
		switch flat := flatAny.(type) {
		case []float16.Float16:
			out = make([]float64, len(flat))
			for ii, v := range flat {
				out[ii] = float64(v.Float32())
			}
		case []float32:
			out = toFloat64s(flat)
		case []float64:
			out = toFloat64s(flat)
		case []int8:
			out = toFloat64s(flat)
		case []int16:
			out = toFloat64s(flat)
		case []int32:
			out = toFloat64s(flat)
		case []int64:
			out = toFloat64s(flat)
		case []uint8:
			out = toFloat64s(flat)
		case []uint16:
			out = toFloat64s(flat)
		case []uint32:
			out = toFloat64s(flat)
		case []uint64:
			out = toFloat64s(flat)
		}
	})
	return out
}

// FromFloat64s creates a tensor with the given shape from float64 values, converted to the shape's dtype.
//
// It returns an error if the shape is not fully defined, the dtype is not supported, the number of values is
// wrong, or if a value converted to an integer dtype is not finite or doesn't fit in it. Values converted to an
// integer dtype are truncated towards zero.
func FromFloat64s(shape shapes.Shape, values []float64) (*Tensor, error) {
	if !shape.IsFullyDefined() {
		return nil, errors.Errorf("tensors.FromFloat64s(%s): shape must be fully defined", shape)
	}
	if len(values) != shape.Size() {
		return nil, errors.Errorf("tensors.FromFloat64s(%s): got %d values, wanted %d", shape, len(values), shape.Size())
	}
	if lower, upper, isInteger := integerRange(shape.DType); isInteger {
		for ii, v := range values {
			if math.IsNaN(v) || math.Trunc(v) < lower || math.Trunc(v) >= upper {
				return nil, errors.Errorf("tensors.FromFloat64s(%s): value #%d is %g, it can't be converted to the integer dtype",
					shape, ii, v)
			}
		}
	}
	var flat any
	switch shape.DType {
	case dtypes.Float16:
		f16 := make([]float16.Float16, len(values))
		for ii, v := range values {
			f16[ii] = float16.Fromfloat32(float32(v))
		}
		flat = f16
	case dtypes.Float32:
		flat = fromFloat64s[float32](values)
	case dtypes.Float64:
		flat = fromFloat64s[float64](values)
	case dtypes.Int8:
		flat = fromFloat64s[int8](values)
	case dtypes.Int16:
		flat = fromFloat64s[int16](values)
	case dtypes.Int32:
		flat = fromFloat64s[int32](values)
	case dtypes.Int64:
		flat = fromFloat64s[int64](values)
	case dtypes.Uint8:
		flat = fromFloat64s[uint8](values)
	case dtypes.Uint16:
		flat = fromFloat64s[uint16](values)
	case dtypes.Uint32:
		flat = fromFloat64s[uint32](values)
	case dtypes.Uint64:
		flat = fromFloat64s[uint64](values)
	default:
		return nil, errors.Errorf("tensors.FromFloat64s(%s): dtype not supported", shape)
	}
	return newTensor(shape.Clone(), flat), nil
}

// integerRange returns the range [lower, upper) of values representable by an integer dtype.
// isInteger is false for other dtypes.
func integerRange(dtype dtypes.DType) (lower, upper float64, isInteger bool) {
	goType := GoTypeForDType(dtype)
	if goType == nil {
		return 0, 0, false
	}
	switch goType.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		half := math.Ldexp(1, goType.Bits()-1)
		return -half, half, true
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return 0, math.Ldexp(1, goType.Bits()), true
	default:
		return 0, 0, false
	}
}

// ConvertDType returns a new tensor with the values of t converted to dtype.
// If t already has the dtype, it returns a Clone.
//
// It fails if dtype is not supported, or if dtype is an integer type and t holds values that are not finite or
// out of its range.
func ConvertDType(t *Tensor, dtype dtypes.DType) (*Tensor, error) {
	if t.DType() == dtype {
		return t.Clone(), nil
	}
	if !IsSupported(dtype) {
		return nil, errors.Errorf("cannot convert tensor %s to unsupported dtype %s", t.Shape(), dtype)
	}
	converted, err := FromFloat64s(t.Shape().WithDType(dtype), ToFloat64s(t))
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to convert tensor %s to %s", t.Shape(), dtype)
	}
	return converted, nil
}
