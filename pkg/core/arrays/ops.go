// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arrays

import (
	"github.com/gomlx/lazygrad/backends"
	"github.com/pkg/errors"
)

// binaryOp creates a new array with the elementwise op applied to lhs and rhs.
//
// Both must be on the same device (or it returns an error wrapping backends.ErrHardwareMismatch) and
// have equal shapes (or it returns an error wrapping shapes.ErrShapeMismatch).
func binaryOp(op backends.OpType, lhs, rhs *Array) (*Array, error) {
	if err := lhs.check(); err != nil {
		return nil, errors.WithMessagef(err, "%s lhs", op)
	}
	if err := rhs.check(); err != nil {
		return nil, errors.WithMessagef(err, "%s rhs", op)
	}
	device, err := backends.SameDevice(lhs.Device(), rhs.Device())
	if err != nil {
		return nil, errors.WithMessagef(err, "%s(%s, %s)", op, lhs.shape, rhs.shape)
	}
	shape, err := lhs.shape.Elementwise(rhs.shape)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s", op)
	}
	out, err := newUninitialized(device, shape)
	if err != nil {
		return nil, err
	}
	if err = device.Binary(op, shape.DType, lhs.buffer, rhs.buffer, out.buffer, shape.Size()); err != nil {
		out.Finalize()
		return nil, errors.WithMessagef(err, "%s(%s, %s)", op, lhs.shape, rhs.shape)
	}
	return out, nil
}

func unaryOp(op backends.OpType, x *Array) (*Array, error) {
	if err := x.check(); err != nil {
		return nil, errors.WithMessagef(err, "%s", op)
	}
	device := x.Device()
	out, err := newUninitialized(device, x.shape)
	if err != nil {
		return nil, err
	}
	if err = device.Unary(op, x.shape.DType, x.buffer, out.buffer, x.shape.Size()); err != nil {
		out.Finalize()
		return nil, errors.WithMessagef(err, "%s(%s)", op, x.shape)
	}
	return out, nil
}

// Add returns lhs + rhs, elementwise.
func Add(lhs, rhs *Array) (*Array, error) { return binaryOp(backends.OpTypeAdd, lhs, rhs) }

// Sub returns lhs - rhs, elementwise.
func Sub(lhs, rhs *Array) (*Array, error) { return binaryOp(backends.OpTypeSub, lhs, rhs) }

// Mul returns lhs * rhs, elementwise.
func Mul(lhs, rhs *Array) (*Array, error) { return binaryOp(backends.OpTypeMul, lhs, rhs) }

// Div returns lhs / rhs, elementwise.
func Div(lhs, rhs *Array) (*Array, error) { return binaryOp(backends.OpTypeDiv, lhs, rhs) }

// Neg returns -x, elementwise.
func Neg(x *Array) (*Array, error) { return unaryOp(backends.OpTypeNeg, x) }
