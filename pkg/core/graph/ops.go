// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/pkg/errors"
)

// This file holds the arithmetic sugar on nodes: each function appends one step to the graph of its operands.
//
// They panic with an error on failure (nodes from different graphs, incompatible shapes or devices).
// The error wraps one of ErrInvalidGraph, shapes.ErrShapeMismatch or backends.ErrHardwareMismatch, and can
// be recovered with exceptions.TryCatch[error].

// AddOperator appends a step applying op to the inputs, which must all be from the same graph, and returns its outputs.
// Unlike the sugar functions, it returns an error instead of panicking.
func AddOperator(op Operator, inputs ...Node) ([]Node, error) {
	if len(inputs) == 0 {
		return nil, errors.Wrapf(ErrInvalidGraph, "AddOperator(%s) with no inputs: use Graph.AddStep instead", op.Name())
	}
	g, err := sameGraph(inputs...)
	if err != nil {
		return nil, errors.WithMessagef(err, "operator %s", op.Name())
	}
	addrs := make([]NodeAddress, len(inputs))
	for ii, input := range inputs {
		addrs[ii] = input.address
	}
	outputAddrs, err := g.AddStep(op, addrs...)
	if err != nil {
		return nil, err
	}
	outputs := make([]Node, len(outputAddrs))
	for ii, addr := range outputAddrs {
		outputs[ii] = Node{graph: g, address: addr}
	}
	return outputs, nil
}

// mustAddOperator is like AddOperator for single output operators, but panics on error.
func mustAddOperator(op Operator, inputs ...Node) Node {
	outputs, err := AddOperator(op, inputs...)
	if err != nil {
		panic(err)
	}
	return outputs[0]
}

// Add returns a node with lhs + rhs, elementwise.
func Add(lhs, rhs Node) Node { return mustAddOperator(NewAddOp(), lhs, rhs) }

// Sub returns a node with lhs - rhs, elementwise.
func Sub(lhs, rhs Node) Node { return mustAddOperator(NewSubOp(), lhs, rhs) }

// Mul returns a node with lhs * rhs, elementwise.
func Mul(lhs, rhs Node) Node { return mustAddOperator(NewMulOp(), lhs, rhs) }

// Div returns a node with lhs / rhs, elementwise.
func Div(lhs, rhs Node) Node { return mustAddOperator(NewDivOp(), lhs, rhs) }

// Neg returns a node with -x, elementwise.
func Neg(x Node) Node { return mustAddOperator(NewNegOp(), x) }
