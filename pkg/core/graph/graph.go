// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph implements an append-only computation graph with memoized lazy evaluation and
// symbolic reverse-mode automatic differentiation.
//
// The main elements in the package are:
//
//   - Graph: an append-only list of steps. Each step applies an Operator to outputs of earlier steps,
//     so the order in which steps are added is always a valid topological order.
//   - Operator: the contract of an operation, see ConstantOp, AddOp, SubOp, MulOp, DivOp and NegOp.
//     Operators infer their output shapes and device, compute their outputs and define their
//     gradients symbolically, as new nodes of the same graph.
//   - Node: a handle to one output of one step. Nodes are built with FromScalar, Fill or FromArray, and
//     combined with Add, Sub, Mul, Div and Neg.
//   - Grad: reverse-mode differentiation. The gradients it returns are nodes of the same graph, so they
//     can be differentiated again, to any order.
//
// Values are only computed when requested with Graph.Calculate (or Node.Calculate, Node.ToScalar and
// Node.Values), and each step is computed at most once: its outputs are cached in the graph.
//
// Example:
//
//	g := graph.New()
//	x, _ := graph.FromScalar(g, device, 5)
//	y := graph.Mul(graph.Mul(x, x), x)
//	grads, _ := graph.Grad(y, x)
//	dydx, _ := grads[0].ToScalar() // 75
//
// A Graph is safe for concurrent use: each call holds the graph lock for its duration.
package graph

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gomlx/lazygrad/backends"
	"github.com/gomlx/lazygrad/pkg/core/arrays"
	"github.com/gomlx/lazygrad/pkg/core/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// NodeAddress identifies one output of one step in a Graph.
type NodeAddress struct {
	// Step is the index of the step in the graph.
	Step int

	// Output is the index of the output in the step.
	Output int
}

// String implements fmt.Stringer.
func (addr NodeAddress) String() string {
	return fmt.Sprintf("#%d:%d", addr.Step, addr.Output)
}

// Step is one operation in a Graph: an Operator applied to the outputs of earlier steps.
//
// Its accessors only expose data that never changes after the step is added.
type Step struct {
	index        int
	op           Operator
	inputs       []NodeAddress
	outputShapes []shapes.Shape
	device       *backends.Device

	// outputs are the cached results, nil until the step is calculated.
	outputs []*arrays.Array
}

// Index of the step in the graph.
func (s *Step) Index() int { return s.index }

// Operator of the step.
func (s *Step) Operator() Operator { return s.op }

// Inputs returns the addresses of the inputs of the step. They always refer to earlier steps.
func (s *Step) Inputs() []NodeAddress { return append([]NodeAddress(nil), s.inputs...) }

// NumOutputs of the step.
func (s *Step) NumOutputs() int { return len(s.outputShapes) }

// OutputShape returns the shape of the given output.
func (s *Step) OutputShape(output int) shapes.Shape { return s.outputShapes[output] }

// Device where the outputs of the step are stored.
func (s *Step) Device() *backends.Device { return s.device }

// String implements fmt.Stringer.
func (s *Step) String() string {
	parts := make([]string, len(s.inputs))
	for ii, input := range s.inputs {
		parts[ii] = input.String()
	}
	outputs := make([]string, len(s.outputShapes))
	for ii, shape := range s.outputShapes {
		outputs[ii] = shape.String()
	}
	return fmt.Sprintf("%s(%s) -> %s on %s", s.op.Name(), strings.Join(parts, ", "), strings.Join(outputs, ", "), s.device)
}

// Graph is an append-only computation graph.
//
// Steps can only be added, never modified or removed. Their outputs are computed lazily, when
// requested with Calculate, and cached.
type Graph struct {
	mu        sync.Mutex
	name      string
	steps     []*Step
	finalized bool
}

var graphCount atomic.Int64

// New constructs an empty Graph.
//
// If it is finalized (see Graph.Finalize), resources are released immediately (instead of waiting for the GC), and
// the Graph can no longer be used.
func New() *Graph {
	return &Graph{name: fmt.Sprintf("graph_#%d", graphCount.Add(1)-1)}
}

// WithName sets the name of the Graph, used for pretty-printing, and returns the Graph itself.
func (g *Graph) WithName(name string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.name = name
	return g
}

// Name of the Graph.
func (g *Graph) Name() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.name
}

// IsValid returns whether the Graph is not nil and not finalized.
func (g *Graph) IsValid() bool {
	if g == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.finalized
}

// checkValidLocked returns an error if the graph is nil or already finalized.
func (g *Graph) checkValidLocked() error {
	if g.finalized {
		return errors.Wrapf(ErrInvalidGraph, "graph %q has been finalized already", g.name)
	}
	return nil
}

// checkAddressLocked returns an error if addr doesn't refer to an existing step output.
func (g *Graph) checkAddressLocked(addr NodeAddress) error {
	if addr.Step < 0 || addr.Step >= len(g.steps) {
		return errors.Wrapf(ErrInvalidGraph, "address %s refers to a non-existing step, graph %q has %d steps",
			addr, g.name, len(g.steps))
	}
	if numOutputs := g.steps[addr.Step].NumOutputs(); addr.Output < 0 || addr.Output >= numOutputs {
		return errors.Wrapf(ErrInvalidGraph, "address %s refers to a non-existing output, step #%d has %d outputs",
			addr, addr.Step, numOutputs)
	}
	return nil
}

// AddStep appends a step applying op to the given inputs, and returns the addresses of its outputs.
//
// The output shapes and device are inferred (see Operator.PerformShape and Operator.PerformHardware)
// immediately, so incompatible inputs are reported here. Nothing is computed.
func (g *Graph) AddStep(op Operator, inputs ...NodeAddress) ([]NodeAddress, error) {
	if g == nil {
		return nil, errors.Wrap(ErrInvalidGraph, "nil graph")
	}
	if op == nil {
		return nil, errors.New("AddStep given a nil operator")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkValidLocked(); err != nil {
		return nil, err
	}
	if err := checkNumInputs(op, inputs); err != nil {
		return nil, err
	}
	inputShapes := make([]shapes.Shape, len(inputs))
	inputDevices := make([]*backends.Device, len(inputs))
	for ii, input := range inputs {
		if err := g.checkAddressLocked(input); err != nil {
			return nil, errors.WithMessagef(err, "input #%d of %s", ii, op.Name())
		}
		inputStep := g.steps[input.Step]
		inputShapes[ii] = inputStep.outputShapes[input.Output]
		inputDevices[ii] = inputStep.device
	}
	device, err := op.PerformHardware(inputDevices)
	if err != nil {
		return nil, errors.WithMessagef(err, "adding %s to graph %q", op.Name(), g.name)
	}
	outputShapes, err := op.PerformShape(inputShapes)
	if err != nil {
		return nil, errors.WithMessagef(err, "adding %s to graph %q", op.Name(), g.name)
	}
	if len(outputShapes) != op.NumOutputs() {
		return nil, errors.Errorf("operator %s returned %d output shapes, but it has %d outputs",
			op.Name(), len(outputShapes), op.NumOutputs())
	}

	step := &Step{
		index:        len(g.steps),
		op:           op,
		inputs:       append([]NodeAddress(nil), inputs...),
		outputShapes: outputShapes,
		device:       device,
	}
	g.steps = append(g.steps, step)
	outputs := make([]NodeAddress, len(outputShapes))
	for ii := range outputs {
		outputs[ii] = NodeAddress{Step: step.index, Output: ii}
	}
	klog.V(2).Infof("graph %q: added step #%d: %s", g.name, step.index, step)
	return outputs, nil
}

// NumSteps returns the number of steps in the graph.
func (g *Graph) NumSteps() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.steps)
}

// Step returns the step with the given index.
func (g *Graph) Step(index int) (*Step, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkValidLocked(); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(g.steps) {
		return nil, errors.Wrapf(ErrInvalidGraph, "step #%d doesn't exist, graph %q has %d steps", index, g.name, len(g.steps))
	}
	return g.steps[index], nil
}

// IsCalculated returns whether the outputs of the step with the given index are cached.
func (g *Graph) IsCalculated(index int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return index >= 0 && index < len(g.steps) && g.steps[index].outputs != nil
}

// Calculate returns the value of the output at addr, computing (and caching) it and its dependencies
// if needed.
//
// The returned array is a copy owned by the caller: it is not affected by the graph being finalized,
// and it can be finalized by the caller.
func (g *Graph) Calculate(addr NodeAddress) (*arrays.Array, error) {
	if g == nil {
		return nil, errors.Wrap(ErrInvalidGraph, "nil graph")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkValidLocked(); err != nil {
		return nil, err
	}
	if err := g.checkAddressLocked(addr); err != nil {
		return nil, err
	}
	value, err := g.calculateLocked(addr)
	if err != nil {
		return nil, err
	}
	return value.Clone()
}

// calculateLocked returns the cached value of addr, computing its step (and dependencies) first if needed.
// The returned array is owned by the graph.
func (g *Graph) calculateLocked(addr NodeAddress) (*arrays.Array, error) {
	step := g.steps[addr.Step]
	if step.outputs != nil {
		return step.outputs[addr.Output], nil
	}
	inputs := make([]*arrays.Array, len(step.inputs))
	inputShapes := make([]shapes.Shape, len(step.inputs))
	inputDevices := make([]*backends.Device, len(step.inputs))
	for ii, input := range step.inputs {
		value, err := g.calculateLocked(input)
		if err != nil {
			return nil, err
		}
		inputs[ii] = value
		inputShapes[ii] = value.Shape()
		inputDevices[ii] = value.Device()
	}
	if _, err := step.op.PerformHardware(inputDevices); err != nil {
		return nil, errors.WithMessagef(err, "calculating step #%d %s", step.index, step.op.Name())
	}
	if _, err := step.op.PerformShape(inputShapes); err != nil {
		return nil, errors.WithMessagef(err, "calculating step #%d %s", step.index, step.op.Name())
	}
	outputs, err := step.op.Perform(inputs)
	if err != nil {
		return nil, errors.WithMessagef(err, "calculating step #%d %s", step.index, step.op.Name())
	}
	if err = step.checkOutputs(outputs); err != nil {
		for _, output := range outputs {
			output.Finalize()
		}
		return nil, err
	}
	step.outputs = outputs
	klog.V(2).Infof("graph %q: calculated step #%d %s", g.name, step.index, step.op.Name())
	return outputs[addr.Output], nil
}

// checkOutputs verifies the outputs of Operator.Perform match what was inferred when the step was added.
func (s *Step) checkOutputs(outputs []*arrays.Array) error {
	if len(outputs) != len(s.outputShapes) {
		return errors.Errorf("step #%d %s returned %d outputs, wanted %d", s.index, s.op.Name(), len(outputs), len(s.outputShapes))
	}
	for ii, output := range outputs {
		if !output.IsValid() {
			return errors.Errorf("step #%d %s returned a nil or finalized output #%d", s.index, s.op.Name(), ii)
		}
		if !output.Shape().Equal(s.outputShapes[ii]) {
			return errors.Wrapf(shapes.ErrShapeMismatch, "step #%d %s output #%d has shape %s, wanted %s",
				s.index, s.op.Name(), ii, output.Shape(), s.outputShapes[ii])
		}
		if output.Device() != s.device {
			return errors.Wrapf(backends.ErrHardwareMismatch, "step #%d %s output #%d is on %s, wanted %s",
				s.index, s.op.Name(), ii, output.Device(), s.device)
		}
	}
	return nil
}

// Finalize releases the cached values and the resources held by the operators (e.g.: the values of constants)
// immediately, instead of waiting for the GC.
//
// The graph is left in an unusable state. It is safe to call it more than once.
func (g *Graph) Finalize() {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, step := range g.steps {
		for _, output := range step.outputs {
			output.Finalize()
		}
		step.outputs = nil
		if f, ok := step.op.(finalizer); ok {
			f.Finalize()
		}
	}
	g.steps = nil
	g.finalized = true
}

// String converts the Graph to a multiline string with a description of all its steps.
func (g *Graph) String() string {
	if g == nil {
		return "Graph(nil)!?"
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.finalized {
		return fmt.Sprintf("Invalid Graph %q (already finalized)", g.name)
	}
	parts := []string{fmt.Sprintf("Graph %q: %d steps", g.name, len(g.steps))}
	for _, step := range g.steps {
		var calculated string
		if step.outputs != nil {
			calculated = " (*)"
		}
		parts = append(parts, fmt.Sprintf("\t#%d\t%s%s", step.index, step, calculated))
	}
	return strings.Join(parts, "\n")
}
