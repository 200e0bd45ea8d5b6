// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/lazygrad/backends"
	"github.com/gomlx/lazygrad/pkg/core/arrays"
	"github.com/gomlx/lazygrad/pkg/core/shapes"
	"github.com/pkg/errors"
)

// ConstantOp is an operator with no inputs that outputs a copy of a captured array.
//
// It owns the captured array, which is released by Graph.Finalize.
type ConstantOp struct {
	value *arrays.Array
}

// NewConstantOp returns a ConstantOp that takes ownership of value.
func NewConstantOp(value *arrays.Array) *ConstantOp {
	return &ConstantOp{value: value}
}

// Value returns the captured array. It is owned by the operator and shouldn't be finalized.
func (op *ConstantOp) Value() *arrays.Array { return op.value }

func (op *ConstantOp) Name() string    { return "Constant" }
func (op *ConstantOp) NumInputs() int  { return 0 }
func (op *ConstantOp) NumOutputs() int { return 1 }

func (op *ConstantOp) PerformShape(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if err := checkNumInputs(op, inputs); err != nil {
		return nil, err
	}
	return []shapes.Shape{op.value.Shape().Clone()}, nil
}

func (op *ConstantOp) PerformHardware(inputs []*backends.Device) (*backends.Device, error) {
	if err := checkNumInputs(op, inputs); err != nil {
		return nil, err
	}
	if !op.value.IsValid() {
		return nil, errors.Wrapf(backends.ErrFinalizedBuffer, "constant %s", op.value.Shape())
	}
	return op.value.Device(), nil
}

func (op *ConstantOp) Perform(inputs []*arrays.Array) ([]*arrays.Array, error) {
	if err := checkNumInputs(op, inputs); err != nil {
		return nil, err
	}
	value, err := op.value.Clone()
	if err != nil {
		return nil, err
	}
	return []*arrays.Array{value}, nil
}

// Gradient of a constant: there are no inputs, so no gradients.
func (op *ConstantOp) Gradient(x, y, gy []Node) ([]Node, error) {
	return []Node{}, nil
}

// Finalize releases the captured array.
func (op *ConstantOp) Finalize() {
	op.value.Finalize()
}

// elementwiseOp implements the shape, hardware and compute parts of the elementwise operators.
// Each operator embeds it and adds its Gradient.
type elementwiseOp struct {
	opType backends.OpType
}

func (op elementwiseOp) Name() string { return op.opType.String() }

func (op elementwiseOp) NumInputs() int {
	if op.opType.IsUnary() {
		return 1
	}
	return 2
}

func (op elementwiseOp) NumOutputs() int { return 1 }

// PerformShape requires all inputs to have the same shape.
func (op elementwiseOp) PerformShape(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if err := checkNumInputs(op, inputs); err != nil {
		return nil, err
	}
	output := inputs[0].Clone()
	for _, input := range inputs[1:] {
		var err error
		output, err = output.Elementwise(input)
		if err != nil {
			return nil, errors.WithMessagef(err, "operator %s", op.Name())
		}
	}
	return []shapes.Shape{output}, nil
}

// PerformHardware requires all inputs to be on the same device.
func (op elementwiseOp) PerformHardware(inputs []*backends.Device) (*backends.Device, error) {
	if err := checkNumInputs(op, inputs); err != nil {
		return nil, err
	}
	device, err := backends.SameDevice(inputs...)
	if err != nil {
		return nil, errors.WithMessagef(err, "operator %s", op.Name())
	}
	return device, nil
}

func (op elementwiseOp) Perform(inputs []*arrays.Array) ([]*arrays.Array, error) {
	if err := checkNumInputs(op, inputs); err != nil {
		return nil, err
	}
	var (
		output *arrays.Array
		err    error
	)
	switch op.opType {
	case backends.OpTypeAdd:
		output, err = arrays.Add(inputs[0], inputs[1])
	case backends.OpTypeSub:
		output, err = arrays.Sub(inputs[0], inputs[1])
	case backends.OpTypeMul:
		output, err = arrays.Mul(inputs[0], inputs[1])
	case backends.OpTypeDiv:
		output, err = arrays.Div(inputs[0], inputs[1])
	case backends.OpTypeNeg:
		output, err = arrays.Neg(inputs[0])
	default:
		err = errors.Errorf("elementwise operation %s not implemented", op.opType)
	}
	if err != nil {
		return nil, err
	}
	return []*arrays.Array{output}, nil
}

// AddOp computes x0 + x1.
type AddOp struct{ elementwiseOp }

// NewAddOp returns the operator for x0 + x1.
func NewAddOp() *AddOp { return &AddOp{elementwiseOp{backends.OpTypeAdd}} }

// Gradient: [gy, gy].
func (op *AddOp) Gradient(x, y, gy []Node) ([]Node, error) {
	return []Node{gy[0], gy[0]}, nil
}

// SubOp computes x0 - x1.
type SubOp struct{ elementwiseOp }

// NewSubOp returns the operator for x0 - x1.
func NewSubOp() *SubOp { return &SubOp{elementwiseOp{backends.OpTypeSub}} }

// Gradient: [gy, -gy].
func (op *SubOp) Gradient(x, y, gy []Node) ([]Node, error) {
	return gradientFn(func() []Node {
		return []Node{gy[0], Neg(gy[0])}
	})
}

// MulOp computes x0 * x1.
type MulOp struct{ elementwiseOp }

// NewMulOp returns the operator for x0 * x1.
func NewMulOp() *MulOp { return &MulOp{elementwiseOp{backends.OpTypeMul}} }

// Gradient: [gy * x1, gy * x0].
func (op *MulOp) Gradient(x, y, gy []Node) ([]Node, error) {
	return gradientFn(func() []Node {
		return []Node{Mul(gy[0], x[1]), Mul(gy[0], x[0])}
	})
}

// DivOp computes x0 / x1.
type DivOp struct{ elementwiseOp }

// NewDivOp returns the operator for x0 / x1.
func NewDivOp() *DivOp { return &DivOp{elementwiseOp{backends.OpTypeDiv}} }

// Gradient: [gy / x1, -y * gy / x1], reusing the output y = x0 / x1.
func (op *DivOp) Gradient(x, y, gy []Node) ([]Node, error) {
	return gradientFn(func() []Node {
		gx0 := Div(gy[0], x[1])
		return []Node{gx0, Mul(Neg(y[0]), gx0)}
	})
}

// NegOp computes -x0.
type NegOp struct{ elementwiseOp }

// NewNegOp returns the operator for -x0.
func NewNegOp() *NegOp { return &NegOp{elementwiseOp{backends.OpTypeNeg}} }

// Gradient: [-gy].
func (op *NegOp) Gradient(x, y, gy []Node) ([]Node, error) {
	return gradientFn(func() []Node {
		return []Node{Neg(gy[0])}
	})
}

// Compile-time checks that the operators implement Operator.
var (
	_ Operator = (*ConstantOp)(nil)
	_ Operator = (*AddOp)(nil)
	_ Operator = (*SubOp)(nil)
	_ Operator = (*MulOp)(nil)
	_ Operator = (*DivOp)(nil)
	_ Operator = (*NegOp)(nil)
)
