// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/gomlx/lazygrad/backends"
	"github.com/gomlx/lazygrad/pkg/core/arrays"
	"github.com/gomlx/lazygrad/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Node is a handle to one output of one step of a Graph.
//
// Nodes are small values, meant to be passed around by value. Two nodes are equal (==) if they
// refer to the same output of the same graph.
type Node struct {
	graph   *Graph
	address NodeAddress
}

// Graph the node belongs to.
func (n Node) Graph() *Graph { return n.graph }

// Address of the node in its graph.
func (n Node) Address() NodeAddress { return n.address }

// IsValid returns whether the node refers to an existing output of a valid graph.
func (n Node) IsValid() bool {
	if n.graph == nil {
		return false
	}
	n.graph.mu.Lock()
	defer n.graph.mu.Unlock()
	return n.graph.checkValidLocked() == nil && n.graph.checkAddressLocked(n.address) == nil
}

// step returns the step of the node, or nil if the node is not valid.
func (n Node) step() *Step {
	if n.graph == nil {
		return nil
	}
	n.graph.mu.Lock()
	defer n.graph.mu.Unlock()
	if n.graph.checkValidLocked() != nil || n.graph.checkAddressLocked(n.address) != nil {
		return nil
	}
	return n.graph.steps[n.address.Step]
}

// Shape of the value of the node. It is known without calculating it.
//
// It returns an invalid shape if the node is not valid.
func (n Node) Shape() shapes.Shape {
	step := n.step()
	if step == nil {
		return shapes.Invalid()
	}
	return step.OutputShape(n.address.Output)
}

// Device where the value of the node is stored. It is known without calculating it.
//
// It returns nil if the node is not valid.
func (n Node) Device() *backends.Device {
	step := n.step()
	if step == nil {
		return nil
	}
	return step.Device()
}

// Calculate returns the value of the node, see Graph.Calculate.
// The returned array is owned by the caller.
func (n Node) Calculate() (*arrays.Array, error) {
	return n.graph.Calculate(n.address)
}

// ToScalar calculates the node and returns its value, if it is a scalar.
func (n Node) ToScalar() (float64, error) {
	value, err := n.Calculate()
	if err != nil {
		return 0, err
	}
	defer value.Finalize()
	return value.ToScalar()
}

// Values calculates the node and returns its flat values, converted to float64.
func (n Node) Values() ([]float64, error) {
	value, err := n.Calculate()
	if err != nil {
		return nil, err
	}
	defer value.Finalize()
	return value.Values()
}

// String implements fmt.Stringer.
func (n Node) String() string {
	if n.graph == nil {
		return "Node(nil graph)"
	}
	return fmt.Sprintf("Node(%s %s)", n.address, n.Shape())
}

// sameGraph returns the graph shared by all nodes, or an error wrapping ErrInvalidGraph.
func sameGraph(nodes ...Node) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, errors.Wrap(ErrInvalidGraph, "no nodes given")
	}
	g := nodes[0].graph
	if g == nil {
		return nil, errors.Wrapf(ErrInvalidGraph, "node #0 has no graph")
	}
	for ii, node := range nodes[1:] {
		if node.graph != g {
			return nil, errors.Wrapf(ErrInvalidGraph, "node #%d is from a different graph than node #0", ii+1)
		}
	}
	return g, nil
}

// addConstant appends a ConstantOp with value to g. The graph takes ownership of value, even on error.
func addConstant(g *Graph, value *arrays.Array) (Node, error) {
	op := NewConstantOp(value)
	addrs, err := g.AddStep(op)
	if err != nil {
		op.Finalize()
		return Node{}, err
	}
	return Node{graph: g, address: addrs[0]}, nil
}

// FromArray returns a constant node with a copy of value. The caller keeps ownership of value.
func FromArray(g *Graph, value *arrays.Array) (Node, error) {
	clone, err := value.Clone()
	if err != nil {
		return Node{}, errors.WithMessage(err, "FromArray")
	}
	return addConstant(g, clone)
}

// Fill returns a constant node of the given shape, on device, with every element set to value.
func Fill(g *Graph, device *backends.Device, shape shapes.Shape, value float64) (Node, error) {
	array, err := arrays.Constant(device, shape, value)
	if err != nil {
		return Node{}, errors.WithMessagef(err, "Fill(%s, %g)", shape, value)
	}
	return addConstant(g, array)
}

// FromScalar returns a constant scalar node of the default dtype (Float32) on device.
func FromScalar(g *Graph, device *backends.Device, value float64) (Node, error) {
	return Fill(g, device, shapes.Scalar(shapes.DefaultDType), value)
}

// fillLike returns a constant node with the shape and device of x, filled with value.
// It panics on error.
func fillLike(x Node, value float64) Node {
	if x.graph == nil {
		panic(errors.Wrap(ErrInvalidGraph, "node has no graph"))
	}
	step := x.step()
	if step == nil {
		panic(errors.Wrapf(ErrInvalidGraph, "node %s is not valid", x.address))
	}
	n, err := Fill(x.graph, step.Device(), step.OutputShape(x.address.Output), value)
	if err != nil {
		panic(err)
	}
	return n
}

// ZerosLike returns a constant node with the shape and device of x, filled with 0.
func ZerosLike(x Node) Node { return fillLike(x, 0) }

// OnesLike returns a constant node with the shape and device of x, filled with 1.
func OnesLike(x Node) Node { return fillLike(x, 1) }
