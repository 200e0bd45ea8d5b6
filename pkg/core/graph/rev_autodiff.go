// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/lazygrad/pkg/core/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// This file implements reverse-mode automatic differentiation, accumulating VJPs (Vector Jacobian Products)
// from the root node back to the selected nodes.
//
// Conventions:
//
//   - root: the node being differentiated, y in Grad.
//   - selected nodes: the nodes with respect to which the gradient of root is requested, xs in Grad.
//   - VJP: the accumulated gradient of root with respect to one output of one step. The VJP of a step output is
//     the sum of the contributions of every step consuming it.
//
// The VJPs are nodes of the same graph: differentiating them again gives higher order derivatives.

// reverseGraph holds, for each step up to the root, the information needed for the backward traversal.
type reverseGraph struct {
	graph *Graph
	root  Node

	// steps are the steps from 0 to root.Step.
	steps []*Step

	// included is true for steps the root depends on.
	included []bool

	// useful is true for steps on a path to one of the selected nodes: only for those VJPs are needed.
	useful []bool

	// vjps holds the accumulated VJP of each step output.
	vjps map[NodeAddress]Node
}

func newReverseGraph(g *Graph, root Node, selected []Node) (*reverseGraph, error) {
	rootIdx := root.address.Step
	rg := &reverseGraph{
		graph:    g,
		root:     root,
		steps:    make([]*Step, rootIdx+1),
		included: make([]bool, rootIdx+1),
		useful:   make([]bool, rootIdx+1),
		vjps:     make(map[NodeAddress]Node),
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkValidLocked(); err != nil {
		return nil, err
	}
	for _, node := range append([]Node{root}, selected...) {
		if err := g.checkAddressLocked(node.address); err != nil {
			return nil, err
		}
	}
	copy(rg.steps, g.steps[:rootIdx+1])

	rg.included[rootIdx] = true
	for idx := rootIdx; idx >= 0; idx-- {
		if !rg.included[idx] {
			continue
		}
		for _, input := range rg.steps[idx].inputs {
			rg.included[input.Step] = true
		}
	}

	for _, node := range selected {
		if node.address.Step <= rootIdx {
			rg.useful[node.address.Step] = true
		}
	}
	for idx, step := range rg.steps {
		if !rg.included[idx] || rg.useful[idx] {
			continue
		}
		for _, input := range step.inputs {
			if rg.useful[input.Step] {
				rg.useful[idx] = true
				break
			}
		}
	}
	return rg, nil
}

// needsVJP returns whether the VJP of the step at idx needs to be calculated.
func (rg *reverseGraph) needsVJP(idx int) bool {
	return rg.included[idx] && rg.useful[idx]
}

// accumulate adds vjp to the accumulated VJP of addr.
func (rg *reverseGraph) accumulate(addr NodeAddress, vjp Node) {
	if previous, found := rg.vjps[addr]; found {
		rg.vjps[addr] = Add(previous, vjp)
		return
	}
	rg.vjps[addr] = vjp
}

// backPropagate visits the steps in reverse order, pushing the VJPs of each step's outputs to its inputs.
//
// Steps are ordered topologically, so by the time a step is visited all steps consuming its outputs were
// already visited and its VJPs are complete.
func (rg *reverseGraph) backPropagate() {
	g := rg.graph
	rootIdx := rg.root.address.Step
	rg.vjps[rg.root.address] = OnesLike(rg.root)
	if !rg.needsVJP(rootIdx) {
		return
	}

	for idx := rootIdx; idx >= 0; idx-- {
		step := rg.steps[idx]
		if !rg.needsVJP(idx) || len(step.inputs) == 0 {
			continue
		}
		needInputs := false
		for _, input := range step.inputs {
			if rg.needsVJP(input.Step) {
				needInputs = true
				break
			}
		}
		if !needInputs {
			continue
		}

		numOutputs := step.NumOutputs()
		outputs := make([]Node, numOutputs)
		vjps := make([]Node, numOutputs)
		hasVJP := false
		for ii := range numOutputs {
			outputs[ii] = Node{graph: g, address: NodeAddress{Step: idx, Output: ii}}
			if vjp, found := rg.vjps[outputs[ii].address]; found {
				vjps[ii] = vjp
				hasVJP = true
			}
		}
		if !hasVJP {
			// No gradient arrives at this step.
			continue
		}
		for ii := range numOutputs {
			if vjps[ii].graph == nil {
				vjps[ii] = ZerosLike(outputs[ii])
			}
		}

		inputs := make([]Node, len(step.inputs))
		for ii, input := range step.inputs {
			inputs[ii] = Node{graph: g, address: input}
		}
		inputVJPs, err := step.op.Gradient(inputs, outputs, vjps)
		if err != nil {
			panic(errors.WithMessagef(err, "gradient of step #%d %s", idx, step.op.Name()))
		}
		if len(inputVJPs) != len(inputs) {
			panic(errors.Errorf("gradient of step #%d %s returned %d gradients, but it has %d inputs",
				idx, step.op.Name(), len(inputVJPs), len(inputs)))
		}
		for ii, input := range inputs {
			if !rg.needsVJP(input.address.Step) {
				continue
			}
			vjp := inputVJPs[ii]
			if vjp.graph != g {
				panic(errors.Wrapf(ErrInvalidGraph, "gradient of step #%d %s for input #%d is not in the same graph",
					idx, step.op.Name(), ii))
			}
			if vjpShape, inputShape := vjp.Shape(), input.Shape(); !vjpShape.Equal(inputShape) {
				panic(errors.Wrapf(shapes.ErrShapeMismatch, "gradient of step #%d %s for input #%d has shape %s, wanted %s",
					idx, step.op.Name(), ii, vjpShape, inputShape))
			}
			rg.accumulate(input.address, vjp)
		}
		klog.V(2).Infof("graph %q: back-propagated step #%d %s", g.name, idx, step.op.Name())
	}
}

// Grad returns the gradients of y with respect to each of xs, in the same order (repeated xs get repeated
// gradients).
//
// The gradients are new nodes in the same graph, calculated lazily like any other node, and
// can be differentiated again for higher order derivatives. Contributions of the different paths from
// an x to y are summed. The gradient with respect to an x that y doesn't depend on is filled with zeros.
//
// y doesn't need to be a scalar: the backward pass is seeded with ones of the shape of y, which gives the
// gradient of the sum of y.
//
// All nodes must be from the same graph, otherwise it returns an error wrapping ErrInvalidGraph.
func Grad(y Node, xs ...Node) ([]Node, error) {
	if len(xs) == 0 {
		return []Node{}, nil
	}
	g, err := sameGraph(append([]Node{y}, xs...)...)
	if err != nil {
		return nil, errors.WithMessage(err, "Grad")
	}
	rg, err := newReverseGraph(g, y, xs)
	if err != nil {
		return nil, errors.WithMessage(err, "Grad")
	}
	grads := make([]Node, len(xs))
	err = exceptions.TryCatch[error](func() {
		rg.backPropagate()
		for ii, x := range xs {
			if vjp, found := rg.vjps[x.address]; found {
				grads[ii] = vjp
			} else {
				grads[ii] = ZerosLike(x)
			}
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "Grad(%s)", y.address)
	}
	return grads, nil
}
