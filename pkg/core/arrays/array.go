// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package arrays implements Array, a materialized multidimensional value stored in device memory.
//
// An Array is defined by its shape (dtype and dimensions) and a backends.Buffer holding its contents
// on one device. Arrays are immutable: operations create new arrays, and a copy is only made
// explicitly, with Array.Clone.
//
// Arrays are created with:
//
//   - Constant(device, shape, value): every element set to value.
//   - Scalar(device, value): a scalar of the default dtype (Float32).
//   - FromValues(device, shape, values): the flat values given, in row-major order.
//   - The elementwise operations Add, Sub, Mul, Div and Neg.
//
// The device memory is released when Array.Finalize is called or, failing that, when the Array is
// garbage collected.
package arrays

import (
	"fmt"

	"github.com/gomlx/lazygrad/backends"
	"github.com/gomlx/lazygrad/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Array is an immutable multidimensional value stored on a device.
type Array struct {
	shape  shapes.Shape
	buffer *backends.Buffer
}

// newUninitialized allocates an array of the given shape on device, with undefined contents.
func newUninitialized(device *backends.Device, shape shapes.Shape) (*Array, error) {
	if device == nil {
		return nil, errors.New("nil device")
	}
	if !shape.Ok() {
		return nil, errors.Wrapf(shapes.ErrShapeMismatch, "invalid shape %s", shape)
	}
	if err := checkDType(shape.DType); err != nil {
		return nil, err
	}
	if err := shape.CheckSize(); err != nil {
		return nil, err
	}
	return &Array{shape: shape.Clone(), buffer: backends.NewBuffer(device, shape.Memory())}, nil
}

// Constant returns a new array on device with every element set to value.
func Constant(device *backends.Device, shape shapes.Shape, value float64) (*Array, error) {
	a, err := newUninitialized(device, shape)
	if err != nil {
		return nil, err
	}
	if err = device.Fill(shape.DType, a.buffer, shape.Size(), value); err != nil {
		a.Finalize()
		return nil, errors.WithMessagef(err, "arrays.Constant(%s, %g)", shape, value)
	}
	return a, nil
}

// Scalar returns a new scalar array of the default dtype on device.
func Scalar(device *backends.Device, value float64) (*Array, error) {
	return Constant(device, shapes.Scalar(shapes.DefaultDType), value)
}

// FromValues returns a new array on device with the given flat values (row-major order).
//
// len(values) must match shape.Size().
func FromValues(device *backends.Device, shape shapes.Shape, values []float64) (*Array, error) {
	if len(values) != shape.Size() {
		return nil, errors.Wrapf(shapes.ErrShapeMismatch, "arrays.FromValues(%s) given %d values, wanted %d",
			shape, len(values), shape.Size())
	}
	data, err := encodeValues(shape.DType, values)
	if err != nil {
		return nil, err
	}
	a, err := newUninitialized(device, shape)
	if err != nil {
		return nil, err
	}
	if err = device.Upload(a.buffer, data); err != nil {
		a.Finalize()
		return nil, errors.WithMessagef(err, "arrays.FromValues(%s)", shape)
	}
	return a, nil
}

// Shape of the array. It is owned by the array and shouldn't be changed.
func (a *Array) Shape() shapes.Shape { return a.shape }

// Device where the array is stored.
func (a *Array) Device() *backends.Device { return a.buffer.Device() }

// Buffer holding the contents of the array.
func (a *Array) Buffer() *backends.Buffer { return a.buffer }

// IsValid returns whether the array is not nil and was not finalized.
func (a *Array) IsValid() bool {
	return a != nil && a.buffer.IsValid()
}

func (a *Array) check() error {
	if a == nil {
		return errors.New("nil array")
	}
	if !a.buffer.IsValid() {
		return errors.Wrapf(backends.ErrFinalizedBuffer, "array %s", a.shape)
	}
	return nil
}

// Clone returns a new array on the same device, with a copy of the contents.
func (a *Array) Clone() (*Array, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	clone := &Array{shape: a.shape.Clone(), buffer: backends.NewBufferColocated(a.buffer, a.buffer.Size())}
	if err := a.Device().CopyBuffer(clone.buffer, a.buffer); err != nil {
		clone.Finalize()
		return nil, errors.WithMessagef(err, "cloning array %s", a.shape)
	}
	return clone, nil
}

// Values downloads the contents of the array, converted to float64, in row-major order.
//
// An array with no elements returns an empty (non-nil) slice.
func (a *Array) Values() ([]float64, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	data := make([]byte, a.shape.Memory())
	if err := a.Device().Download(data, a.buffer); err != nil {
		return nil, errors.WithMessagef(err, "reading values of array %s", a.shape)
	}
	return decodeValues(a.shape.DType, data, a.shape.Size())
}

// ToScalar returns the value of a scalar array.
//
// It returns an error wrapping shapes.ErrShapeMismatch if the array is not a scalar.
func (a *Array) ToScalar() (float64, error) {
	if err := a.check(); err != nil {
		return 0, err
	}
	if !a.shape.IsScalar() {
		return 0, errors.Wrapf(shapes.ErrShapeMismatch, "ToScalar() called on non-scalar array %s", a.shape)
	}
	values, err := a.Values()
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

// Finalize releases the device memory immediately. It is safe to call it more than once.
// The array must not be used afterward.
func (a *Array) Finalize() {
	if a == nil {
		return
	}
	a.buffer.Finalize()
}

// String implements fmt.Stringer.
func (a *Array) String() string {
	if a == nil {
		return "Array(nil)"
	}
	if !a.IsValid() {
		return fmt.Sprintf("Array(%s, finalized)", a.shape)
	}
	values, err := a.Values()
	if err != nil {
		return fmt.Sprintf("Array(%s, %s, error: %v)", a.shape, a.Device(), err)
	}
	if a.shape.IsScalar() {
		return fmt.Sprintf("%s(%g)", a.shape, values[0])
	}
	return fmt.Sprintf("%s%v", a.shape, values)
}
