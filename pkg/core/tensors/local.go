// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kerasgraph/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

var float16Type = reflect.TypeOf(float16.Float16(0))

// DTypeForType returns the DType corresponding to the Go type, or dtypes.InvalidDType if it's not supported.
func DTypeForType(t reflect.Type) dtypes.DType {
	if t == float16Type {
		return dtypes.Float16
	}
	switch t.Kind() {
	case reflect.Float32:
		return dtypes.Float32
	case reflect.Float64:
		return dtypes.Float64
	case reflect.Int8:
		return dtypes.Int8
	case reflect.Int16:
		return dtypes.Int16
	case reflect.Int32:
		return dtypes.Int32
	case reflect.Int64:
		return dtypes.Int64
	case reflect.Uint8:
		return dtypes.Uint8
	case reflect.Uint16:
		return dtypes.Uint16
	case reflect.Uint32:
		return dtypes.Uint32
	case reflect.Uint64:
		return dtypes.Uint64
	default:
		return dtypes.InvalidDType
	}
}

// GoTypeForDType returns the Go type used to store values of the given DType, or nil if not supported.
func GoTypeForDType(dtype dtypes.DType) reflect.Type {
	switch dtype {
	case dtypes.Float16:
		return float16Type
	case dtypes.Float32:
		return reflect.TypeOf(float32(0))
	case dtypes.Float64:
		return reflect.TypeOf(float64(0))
	case dtypes.Int8:
		return reflect.TypeOf(int8(0))
	case dtypes.Int16:
		return reflect.TypeOf(int16(0))
	case dtypes.Int32:
		return reflect.TypeOf(int32(0))
	case dtypes.Int64:
		return reflect.TypeOf(int64(0))
	case dtypes.Uint8:
		return reflect.TypeOf(uint8(0))
	case dtypes.Uint16:
		return reflect.TypeOf(uint16(0))
	case dtypes.Uint32:
		return reflect.TypeOf(uint32(0))
	case dtypes.Uint64:
		return reflect.TypeOf(uint64(0))
	default:
		return nil
	}
}

// IsSupported returns whether tensors of the given dtype can be created.
func IsSupported(dtype dtypes.DType) bool {
	return GoTypeForDType(dtype) != nil
}

// DTypeOf returns the DType for the generic type T.
func DTypeOf[T Supported]() dtypes.DType {
	var v T
	return DTypeForType(reflect.TypeOf(v))
}

// FromShape returns a Tensor with the given shape, filled with zeros.
//
// It panics if the shape is not fully defined or the dtype is not supported.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.IsFullyDefined() {
		exceptions.Panicf("tensors.FromShape(%s): shape must be fully defined", shape)
	}
	goType := GoTypeForDType(shape.DType)
	if goType == nil {
		exceptions.Panicf("tensors.FromShape(%s): dtype not supported", shape)
	}
	size := shape.Size()
	flat := reflect.MakeSlice(reflect.SliceOf(goType), size, size).Interface()
	return newTensor(shape.Clone(), flat)
}

// FromScalar creates a tensor with the given scalar.
func FromScalar[T Supported](value T) *Tensor {
	return FromScalarAndDimensions(value)
}

// FromScalarAndDimensions creates a tensor with the given dimensions, filled with the
// given scalar value replicated everywhere.
func FromScalarAndDimensions[T Supported](value T, dimensions ...int) *Tensor {
	shape := shapes.Make(DTypeOf[T](), dimensions...)
	flat := make([]T, shape.Size())
	for ii := range flat {
		flat[ii] = value
	}
	return newTensor(shape, flat)
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with the flattened values given in `data`.
// The data is copied to the Tensor.
//
// It panics if the size of data is wrong for the shape.
func FromFlatDataAndDimensions[T Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(DTypeOf[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d",
			shape, len(data), shape.Size())
	}
	flat := make([]T, len(data))
	copy(flat, data)
	return newTensor(shape, flat)
}

// Ones returns a tensor of the given dtype and dimensions filled with 1.
func Ones(dtype dtypes.DType, dimensions ...int) *Tensor {
	return Full(dtype, 1, dimensions...)
}

// Zeros returns a tensor of the given dtype and dimensions filled with 0.
func Zeros(dtype dtypes.DType, dimensions ...int) *Tensor {
	return FromShape(shapes.Make(dtype, dimensions...))
}

// Full returns a tensor of the given dtype and dimensions filled with value, converted to dtype.
func Full(dtype dtypes.DType, value float64, dimensions ...int) *Tensor {
	shape := shapes.Make(dtype, dimensions...)
	values := make([]float64, shape.Size())
	for ii := range values {
		values[ii] = value
	}
	t, err := FromFloat64s(shape, values)
	if err != nil {
		panic(err)
	}
	return t
}

// FromValue returns a tensor constructed from the given multidimensional slice (or scalar).
// If the rank of the `value` is larger than 1, the shape of all sub-slices must be the same.
//
// It panics if the shape is not regular or the type is not supported. See FromAnyValue for a version
// that returns an error.
func FromValue(value any) *Tensor {
	t, err := FromAnyValue(value)
	if err != nil {
		panic(err)
	}
	return t
}

// FromAnyValue is a version of FromValue that returns an error.
// If the value is a tensor already, it is simply returned.
func FromAnyValue(value any) (*Tensor, error) {
	if valueT, ok := value.(*Tensor); ok {
		return valueT, nil
	}
	shape, err := shapeForValue(value)
	if err != nil {
		return nil, errors.WithMessagef(err, "cannot create tensor from %T", value)
	}
	size := shape.Size()
	flatV := reflect.MakeSlice(reflect.SliceOf(GoTypeForDType(shape.DType)), size, size)
	if shape.IsScalar() {
		flatV.Index(0).Set(reflect.ValueOf(value))
	} else {
		copySlicesRecursively(flatV, reflect.ValueOf(value), strides(shape.Dimensions))
	}
	return newTensor(shape, flatV.Interface()), nil
}

// strides returns the row-major strides for the dimensions.
func strides(dimensions []int) []int {
	s := make([]int, len(dimensions))
	current := 1
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		s[axis] = current
		current *= dimensions[axis]
	}
	return s
}

// copySlicesRecursively copy values on a multi-dimension slice to a flat data slice
// assuming the strides for each dimension.
func copySlicesRecursively(data reflect.Value, mdSlice reflect.Value, axesStrides []int) {
	if len(axesStrides) == 1 {
		reflect.Copy(data, mdSlice)
		return
	}
	numElements := mdSlice.Len()
	for ii := 0; ii < numElements; ii++ {
		subData := data.Slice(ii*axesStrides[0], (ii+1)*axesStrides[0])
		copySlicesRecursively(subData, mdSlice.Index(ii), axesStrides[1:])
	}
}

// convertDataToSlices takes data as a flat slice and creates a multidimensional slice with the given dimensions that
// points to the given data.
func convertDataToSlices(dataV reflect.Value, dimensions ...int) reflect.Value {
	if len(dimensions) <= 1 {
		return dataV
	}
	resultT := dataV.Type().Elem()
	for range dimensions {
		resultT = reflect.SliceOf(resultT)
	}
	return createSlicesRecursively(resultT, dataV, dimensions, strides(dimensions))
}

func createSlicesRecursively(resultT reflect.Type, data reflect.Value, dimensions []int, axesStrides []int) reflect.Value {
	if len(axesStrides) == 1 {
		return data
	}
	numElements := dimensions[0]
	slice := reflect.MakeSlice(resultT, numElements, numElements)
	for ii := 0; ii < numElements; ii++ {
		subData := data.Slice(ii*axesStrides[0], (ii+1)*axesStrides[0])
		slice.Index(ii).Set(createSlicesRecursively(resultT.Elem(), subData, dimensions[1:], axesStrides[1:]))
	}
	return slice
}

func shapeForValue(v any) (shapes.Shape, error) {
	if v == nil {
		return shapes.Invalid(), errors.New("nil value")
	}
	var shape shapes.Shape
	err := shapeForValueRecursive(&shape, reflect.ValueOf(v), reflect.TypeOf(v))
	return shape, err
}

func shapeForValueRecursive(shape *shapes.Shape, v reflect.Value, t reflect.Type) error {
	if t.Kind() != reflect.Slice {
		shape.DType = DTypeForType(t)
		if shape.DType == dtypes.InvalidDType {
			return errors.Errorf("cannot convert type %s to a tensor value (type not supported)", t)
		}
		return nil
	}
	if v.Len() == 0 {
		return errors.Errorf("value with empty slice not valid for tensor conversion: %s", t)
	}
	shape.Dimensions = append(shape.Dimensions, v.Len())
	shapePrefix := shape.Clone()
	if err := shapeForValueRecursive(shape, v.Index(0), t.Elem()); err != nil {
		return err
	}
	for ii := 1; ii < v.Len(); ii++ {
		shapeTest := shapePrefix.Clone()
		if err := shapeForValueRecursive(&shapeTest, v.Index(ii), t.Elem()); err != nil {
			return err
		}
		if !shape.Equal(shapeTest) {
			return errors.Errorf("sub-slices have irregular shapes, found shapes %s and %s", shape, shapeTest)
		}
	}
	return nil
}
