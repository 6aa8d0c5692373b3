// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a `Tensor`, a concrete multidimensional array stored in host memory.
//
// Tensors are the concrete values fed to and returned by the symbolic graph executor (see package exec).
// They are defined by their shape (a data type and its axes' dimensions) and a flat Go slice holding
// the values in row-major order.
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions[T Supported](value T, dimensions ...int): creates a Tensor with the
//     given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions[T Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
//
//   - FromValue(value any): conversion from a scalar or an arbitrary multidimensional slice of a supported
//     type. Slices of rank > 1 must be regular.
//
// Every Tensor created is counted as "live" until it is finalized (see Tensor.Finalize), and the number of
// live tensors in the process is available with NumLive. This is what the executor's probe uses to detect
// leaked intermediate values.
package tensors

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kerasgraph/pkg/core/shapes"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// Supported lists the Go types that can be stored in a Tensor.
type Supported interface {
	float16.Float16 | float32 | float64 | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}

// Tensor represents a multidimensional array, defined by its shape and its flat content.
//
// Tensors are treated as immutable once created: operations create new tensors. The only mutation
// is Finalize, which releases the storage.
type Tensor struct {
	shape shapes.Shape

	// mu protects flat.
	mu sync.Mutex

	// flat holds a []T for the tensor's DType. It is nil after the tensor is finalized.
	flat any

	finalized atomic.Bool
}

var numLive atomic.Int64

// NumLive returns the number of tensors created and not yet finalized in the process.
func NumLive() int {
	return int(numLive.Load())
}

// newTensor takes ownership of flat, which must be a []T matching shape.DType.
func newTensor(shape shapes.Shape, flat any) *Tensor {
	numLive.Add(1)
	return &Tensor{shape: shape, flat: flat}
}

// Shape of the tensor, includes DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
func (t *Tensor) DType() dtypes.DType {
	if t == nil {
		return dtypes.InvalidDType
	}
	return t.shape.DType
}

// Rank returns the rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar returns whether the tensor represents a scalar value.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Ok returns whether the Tensor is in a valid state: it is not nil, and it hasn't been finalized.
func (t *Tensor) Ok() bool {
	return t != nil && !t.finalized.Load()
}

// IsFinalized returns true if the tensor has already been finalized, and its data freed.
func (t *Tensor) IsFinalized() bool {
	return t == nil || t.finalized.Load()
}

// AssertValid panics if the tensor is nil or was finalized.
func (t *Tensor) AssertValid() {
	if t == nil {
		exceptions.Panicf("tensor is nil")
	}
	if t.finalized.Load() {
		exceptions.Panicf("tensor %s already finalized", t.shape)
	}
}

// Finalize releases the storage of the tensor immediately, instead of waiting for the GC.
// The tensor is no longer valid afterward. Finalizing a tensor more than once is a no-op.
func (t *Tensor) Finalize() {
	if t == nil {
		return
	}
	if !t.finalized.CompareAndSwap(false, true) {
		klog.V(3).Infof("tensors.Finalize(): tensor %s already finalized", t.shape)
		return
	}
	t.mu.Lock()
	t.flat = nil
	t.mu.Unlock()
	numLive.Add(-1)
}

// ConstFlatData calls accessFn with the flat slice ([]T for the tensor's dtype) holding the values.
// The slice must not be changed or retained after accessFn returns.
//
// It panics if the tensor was finalized.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	t.AssertValid()
	t.mu.Lock()
	defer t.mu.Unlock()
	accessFn(t.flat)
}

// ConstFlatData is the generic version of Tensor.ConstFlatData.
// It panics if T doesn't match the tensor's DType.
func ConstFlatData[T Supported](t *Tensor, accessFn func(flat []T)) {
	t.ConstFlatData(func(flatAny any) {
		flat, ok := flatAny.([]T)
		if !ok {
			var v T
			exceptions.Panicf("ConstFlatData[%T] is incompatible with Tensor's dtype %s", v, t.shape.DType)
		}
		accessFn(flat)
	})
}

// CopyFlatData returns a copy of the flat data of the Tensor.
// It panics if T doesn't match the tensor's DType.
func CopyFlatData[T Supported](t *Tensor) []T {
	var flatCopy []T
	ConstFlatData(t, func(flat []T) {
		flatCopy = make([]T, len(flat))
		copy(flatCopy, flat)
	})
	return flatCopy
}

// ToScalar returns the scalar value of the Tensor.
// It panics if T doesn't match the tensor's DType, or if the tensor is not a scalar.
func ToScalar[T Supported](t *Tensor) T {
	if !t.shape.IsScalar() {
		var v T
		exceptions.Panicf("ToScalar[%T] requires scalar Tensor, got shape %s instead", v, t.shape)
	}
	var value T
	ConstFlatData(t, func(flat []T) { value = flat[0] })
	return value
}

// Clone returns a new tensor with a copy of the values.
func (t *Tensor) Clone() *Tensor {
	var clone *Tensor
	t.ConstFlatData(func(flat any) {
		flatV := reflect.ValueOf(flat)
		cloneV := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
		reflect.Copy(cloneV, flatV)
		clone = newTensor(t.shape.Clone(), cloneV.Interface())
	})
	return clone
}

// Value returns a multidimensional slice (except if the shape is a scalar) containing a copy of the values stored
// in the tensor.
// This is expensive and usually only used for smaller tensors in tests and to print results.
func (t *Tensor) Value() any {
	var mdSlice any
	t.ConstFlatData(func(flat any) {
		flatV := reflect.ValueOf(flat)
		if t.shape.IsScalar() {
			mdSlice = flatV.Index(0).Interface()
			return
		}
		flatCopyV := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
		reflect.Copy(flatCopyV, flatV)
		mdSlice = convertDataToSlices(flatCopyV, t.shape.Dimensions...).Interface()
	})
	return mdSlice
}

// Equal checks whether t and other have the same shape and values.
// If they are the same pointer, they are considered equal.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == other {
		return true
	}
	if !t.shape.Equal(other.shape) {
		return false
	}
	// Flat slices are never mutated, so it's safe to compare them outside the locks.
	var flat, otherFlat any
	t.ConstFlatData(func(f any) { flat = f })
	other.ConstFlatData(func(f any) { otherFlat = f })
	return reflect.DeepEqual(flat, otherFlat)
}

// maxSizeToPrint is the largest number of elements String will print.
const maxSizeToPrint = 64

// String implements fmt.Stringer. Large tensors only have their shape and memory printed.
func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(nil)"
	}
	if t.IsFinalized() {
		return fmt.Sprintf("Tensor%s(finalized)", t.shape)
	}
	if t.Size() > maxSizeToPrint {
		return fmt.Sprintf("Tensor%s(%s)", t.shape, humanize.Bytes(uint64(t.Memory())))
	}
	return fmt.Sprintf("%s%v", t.shape, t.Value())
}
