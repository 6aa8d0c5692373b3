// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape and associated tools.
//
// Shape represents the shape (rank, dimensions and DType) of either a concrete Tensor or the declared
// shape of a symbolic node in a computation Graph. DType indicates the type of the unit element, and is
// defined in github.com/gomlx/gopjrt/dtypes.
//
// Symbolic shapes may be only partially known:
//
//   - An axis with dimension AnyDim (-1) accepts any size.
//   - A DType set to dtypes.InvalidDType means the element type is unknown, and any dtype is accepted.
//   - A shape created with UnknownRank has no known rank, and any value is accepted.
//
// Concrete tensors always have fully defined shapes.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a Tensor.
//   - Axis: is the index of a dimension on a multidimensional Tensor.
//   - Dimension: the size of a multi-dimensions Tensor in one of its axes.
//   - Scalar: is a shape where there are no axes (or dimensions), only a single value
//     of the associated DType.
//
// Example: The multi-dimensional array `[][]int32{{0, 1, 2}, {3, 4, 5}}` if converted to a Tensor
// would have shape `(Int32)[2 3]`. A symbolic batch of those would be declared as
// `shapes.Make(dtypes.Int32, shapes.AnyDim, 3)`, printed as `(Int32)[? 3]`.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// AnyDim is used as a dimension of a symbolic Shape to indicate that axis accepts any size.
const AnyDim = -1

// Shape represents the shape of either a Tensor or the declared shape
// of a symbolic node.
//
// Use Make to create a new shape. See example in package shapes documentation.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int

	// RankUnknown is set for symbolic shapes whose rank is not known. Dimensions is ignored in that case.
	RankUnknown bool
}

// Make returns a Shape structure filled with the values given.
// Dimensions can be AnyDim, for symbolic shapes.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions), DType: dtype}
	for _, dim := range dimensions {
		if dim < 0 && dim != AnyDim {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension < 0", s)
		}
	}
	return s
}

// UnknownRank returns a symbolic shape for which only the dtype (which can also be dtypes.InvalidDType) is known.
func UnknownRank(dtype dtypes.DType) Shape {
	return Shape{DType: dtype, RankUnknown: true}
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid concrete Shape: known dtype and known rank.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType && !s.RankUnknown }

// Rank of the shape, that is, the number of dimensions. It returns -1 if the rank is unknown.
func (s Shape) Rank() int {
	if s.RankUnknown {
		return -1
	}
	return len(s.Dimensions)
}

// IsScalar returns whether the shape represents a scalar, that is there are no dimensions (rank==0).
func (s Shape) IsScalar() bool { return !s.RankUnknown && len(s.Dimensions) == 0 }

// HasDType returns whether the dtype is known.
func (s Shape) HasDType() bool { return s.DType != dtypes.InvalidDType }

// IsFullyDefined returns whether rank, every dimension and the dtype are known.
func (s Shape) IsFullyDefined() bool {
	if !s.Ok() {
		return false
	}
	return !slices.Contains(s.Dimensions, AnyDim)
}

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if s.RankUnknown || adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// Shape returns a shallow copy of itself. It implements the HasShape interface.
func (s Shape) Shape() Shape { return s }

// String implements stringer, pretty-prints the shape. Unknown axes are printed as "?".
func (s Shape) String() string {
	dtype := "?"
	if s.HasDType() {
		dtype = s.DType.String()
	}
	if s.RankUnknown {
		return fmt.Sprintf("(%s)[...]", dtype)
	}
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", dtype)
	}
	parts := make([]string, len(s.Dimensions))
	for ii, dim := range s.Dimensions {
		if dim == AnyDim {
			parts[ii] = "?"
		} else {
			parts[ii] = fmt.Sprintf("%d", dim)
		}
	}
	return fmt.Sprintf("(%s)[%s]", dtype, strings.Join(parts, " "))
}

// Size returns the number of elements of DType are needed for this shape. It's the product of all dimensions.
// It returns -1 if the shape is not fully defined.
func (s Shape) Size() (size int) {
	if s.RankUnknown || slices.Contains(s.Dimensions, AnyDim) {
		return -1
	}
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the memory used to store an array of the given shape, the same as the size in bytes.
// It returns 0 if the shape is not fully defined.
func (s Shape) Memory() uintptr {
	if !s.IsFullyDefined() {
		return 0
	}
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares two shapes for equality: dtype, rank and dimensions are compared.
// Wildcards only match other wildcards.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType || s.RankUnknown != s2.RankUnknown {
		return false
	}
	if s.RankUnknown {
		return true
	}
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// EqualDimensions compares two shapes for equality of dimensions. Dtypes can be different.
func (s Shape) EqualDimensions(s2 Shape) bool {
	if s.RankUnknown || s2.RankUnknown {
		return s.RankUnknown == s2.RankUnknown
	}
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	s2.DType = s.DType
	s2.RankUnknown = s.RankUnknown
	s2.Dimensions = slices.Clone(s.Dimensions)
	return
}

// WithDType returns a copy of the shape with the dtype replaced.
func (s Shape) WithDType(dtype dtypes.DType) Shape {
	s2 := s.Clone()
	s2.DType = dtype
	return s2
}

// HasShape is an interface for objects that have an associated Shape.
// Tensors and graph nodes implement the interface, and so does Shape itself.
type HasShape interface {
	Shape() Shape
}

// CheckDims checks that the shape has the given dimensions and rank. A value of AnyDim in
// dimensions means it can take any value and is not checked.
//
// It returns an error if the rank is different or if any of the dimensions don't match.
func (s Shape) CheckDims(dimensions ...int) error {
	if s.Rank() != len(dimensions) {
		return errors.Errorf("shape (%s) has incompatible rank %d (wanted %d)", s, s.Rank(), len(dimensions))
	}
	for ii, wantDim := range dimensions {
		if wantDim != AnyDim && s.Dimensions[ii] != wantDim {
			return errors.Errorf("shape (%s) axis %d has dimension %d, wanted %d (shape wanted=%v)",
				s, ii, s.Dimensions[ii], wantDim, dimensions)
		}
	}
	return nil
}

// AssertDims checks that the shape has the given dimensions and rank. A value of AnyDim in
// dimensions means it can take any value and is not checked.
//
// It panics if it doesn't match.
func (s Shape) AssertDims(dimensions ...int) {
	err := s.CheckDims(dimensions...)
	if err != nil {
		exceptions.Panicf("shapes.AssertDims(%v): %+v", dimensions, err)
	}
}

// AssertRank checks that the shape has the given rank, and panics otherwise.
func (s Shape) AssertRank(rank int) {
	if s.Rank() != rank {
		exceptions.Panicf("shapes.AssertRank(%d): shape %s has rank %d", rank, s, s.Rank())
	}
}
