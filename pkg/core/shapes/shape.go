// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape and associated tools.
//
// Shape represents the shape (dimensions and DType) of either an Array or the expected
// shape of a step output in a computation Graph. DType indicates the type of the unit element,
// see github.com/gomlx/gopjrt/dtypes.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of an Array.
//   - Axis: the index of a dimension. Sometimes used interchangeably with Dimension, but here we
//     try to refer to a dimension index as "axis" (plural axes), and its size as its dimension.
//   - Dimension: the size of an Array in one of its axes. It can be 0, in which case the shape
//     holds no elements.
//   - Scalar: a shape with no axes, holding a single value of the associated DType.
//
// Example: a 2x3 matrix of float32 has shape `(float32)[2 3]`: rank 2, axis 0 has dimension 2 and
// axis 1 has dimension 3. It could be created with `shapes.Make(dtypes.Float32, 2, 3)`.
package shapes

import (
	"fmt"
	"math"
	"math/bits"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// ErrShapeMismatch is returned (wrapped) when shapes are not compatible for an operation.
var ErrShapeMismatch = errors.New("shape mismatch")

// DefaultDType is the dtype used when one is not given explicitly.
const DefaultDType = dtypes.Float32

// Shape represents the shape of either an Array or the expected shape of the value from a
// computation step.
//
// Use Make to create a new shape. See example in package shapes documentation.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape structure filled with the values given.
//
// Dimensions can be 0, but it panics if any dimension is negative.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions), DType: dtype}
	for _, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with negative dimension", s)
		}
	}
	return s
}

// Scalar returns a scalar Shape for the given dtype.
func Scalar(dtype dtypes.DType) Shape {
	return Shape{DType: dtype}
}

// FromDimensions returns a shape of the DefaultDType with the given dimensions.
//
// It returns an error wrapping ErrShapeMismatch if any dimension is negative, or if the shape is too large
// to be addressed (see CheckSize).
func FromDimensions(dimensions ...int) (Shape, error) {
	s := Shape{DType: DefaultDType, Dimensions: slices.Clone(dimensions)}
	if err := s.CheckSize(); err != nil {
		return Shape{}, err
	}
	return s, nil
}

// CheckSize returns an error wrapping ErrShapeMismatch if any dimension is negative or if the number of bytes
// needed to store the shape (Memory) overflows an int.
//
// Size and Memory are only meaningful for shapes that pass this check.
func (s Shape) CheckSize() error {
	hasZero := false
	for axis, dim := range s.Dimensions {
		if dim < 0 {
			return errors.Wrapf(ErrShapeMismatch, "invalid negative dimension %d for axis %d in %s", dim, axis, s)
		}
		if dim == 0 {
			hasZero = true
		}
	}
	if hasZero {
		return nil
	}
	memory := uint64(s.DType.Memory())
	for _, dim := range s.Dimensions {
		hi, lo := bits.Mul64(memory, uint64(dim))
		if hi != 0 || lo > math.MaxInt {
			return errors.Wrapf(ErrShapeMismatch, "shape %s is too large: its size overflows", s)
		}
		memory = lo
	}
	return nil
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape. A "zero" shape, that is just instantiating it with Shape{} will be invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar, that is there are no dimensions (rank==0).
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// Size returns the number of elements of DType needed for this shape. It's the product of all dimensions,
// 1 for a scalar.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the number of bytes used to store an array of the given shape.
func (s Shape) Memory() int {
	return int(s.DType.Memory()) * s.Size()
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && slices.Equal(s.Dimensions, s2.Dimensions)
}

// Elementwise returns the shape of the result of an elementwise operation between s and other.
//
// Only structurally equal shapes are compatible, there is no broadcasting. Otherwise, it returns an
// error wrapping ErrShapeMismatch.
func (s Shape) Elementwise(other Shape) (Shape, error) {
	if !s.Ok() || !other.Ok() {
		return Shape{}, errors.Wrapf(ErrShapeMismatch, "invalid shape in elementwise operation between %s and %s", s, other)
	}
	if !s.Equal(other) {
		return Shape{}, errors.Wrapf(ErrShapeMismatch, "elementwise operation between %s and %s", s, other)
	}
	return s.Clone(), nil
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// String implements stringer, pretty-prints the shape.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}
