// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/lazygrad/backends"
	"github.com/gomlx/lazygrad/pkg/core/arrays"
	"github.com/gomlx/lazygrad/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Operator is the contract of an operation that can be appended as a step to a Graph.
//
// New operators can be added by implementing it, the Graph and Grad don't need to know about them.
// Operators are expected to be immutable after being added to a Graph.
type Operator interface {
	// Name of the operator, used for pretty-printing and error messages.
	Name() string

	// NumInputs is the number of inputs the operator takes.
	NumInputs() int

	// NumOutputs is the number of outputs the operator produces.
	NumOutputs() int

	// PerformShape returns the shapes of the outputs given the shapes of the inputs,
	// or an error (usually wrapping shapes.ErrShapeMismatch) if they are not compatible.
	PerformShape(inputs []shapes.Shape) ([]shapes.Shape, error)

	// PerformHardware returns the device where the outputs will be stored, given the devices of the inputs,
	// or an error (usually wrapping backends.ErrHardwareMismatch) if they are not compatible.
	PerformHardware(inputs []*backends.Device) (*backends.Device, error)

	// Perform computes the outputs. It must not modify the inputs, and the outputs must be new arrays
	// owned by the caller.
	Perform(inputs []*arrays.Array) ([]*arrays.Array, error)

	// Gradient returns, for each input, the gradient of the final target with respect to it: x are the
	// inputs, y the outputs and gy the gradients with respect to each output.
	//
	// The gradients are symbolic: they are new nodes added to the same graph, which makes it possible to
	// differentiate them again.
	Gradient(x, y, gy []Node) ([]Node, error)
}

// finalizer is implemented by operators that hold resources (e.g.: ConstantOp) released by Graph.Finalize.
type finalizer interface {
	Finalize()
}

// gradientFn runs fn, converting panics of the node sugar functions into errors.
func gradientFn(fn func() []Node) (grads []Node, err error) {
	err = exceptions.TryCatch[error](func() { grads = fn() })
	return
}

// checkNumInputs returns an error if the operator is given the wrong number of inputs.
func checkNumInputs[T any](op interface {
	Name() string
	NumInputs() int
}, inputs []T) error {
	if len(inputs) != op.NumInputs() {
		return errors.Wrapf(ErrInvalidGraph, "operator %s takes %d inputs, %d given", op.Name(), op.NumInputs(), len(inputs))
	}
	return nil
}
