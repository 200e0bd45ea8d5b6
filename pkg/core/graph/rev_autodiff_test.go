// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"fmt"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/lazygrad/pkg/core/arrays"
	. "github.com/gomlx/lazygrad/pkg/core/graph"
	"github.com/gomlx/lazygrad/pkg/core/graph/graphtest"
	"github.com/gomlx/lazygrad/pkg/core/shapes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireGrads calculates the gradients of y with respect to xs and compares them to want.
func requireGrads(t *testing.T, want []float64, y Node, xs ...Node) []Node {
	t.Helper()
	grads, err := Grad(y, xs...)
	require.NoError(t, err)
	require.Len(t, grads, len(xs))
	for ii, grad := range grads {
		got, err := grad.ToScalar()
		require.NoError(t, err)
		require.Equalf(t, want[ii], got, "gradient #%d of %s", ii, y)
	}
	return grads
}

func TestGrad_Scenario(t *testing.T) {
	g := New()
	a := graphtest.Scalar(t, g, 1)
	b := graphtest.Scalar(t, g, 2)
	c := graphtest.Scalar(t, g, 3)
	y := Add(a, Mul(Neg(b), c))
	graphtest.RequireScalar(t, -5, y, 0)
	requireGrads(t, []float64{1, -3, -2}, y, a, b, c)
}

func TestGrad_Operators(t *testing.T) {
	g := New()
	a := graphtest.Scalar(t, g, 3)
	b := graphtest.Scalar(t, g, 2)
	requireGrads(t, []float64{1, 1}, Add(a, b), a, b)
	requireGrads(t, []float64{1, -1}, Sub(a, b), a, b)
	requireGrads(t, []float64{2, 3}, Mul(a, b), a, b)
	requireGrads(t, []float64{0.5, -0.75}, Div(a, b), a, b)
	requireGrads(t, []float64{-1}, Neg(a), a)
}

func TestGrad_Diamond(t *testing.T) {
	g := New()
	x := graphtest.Scalar(t, g, 123)
	requireGrads(t, []float64{246}, Mul(x, x), x)

	// Longer diamond: y = (x+x) * (x-(-x)) = 4x^2, dy/dx = 8x.
	y := Mul(Add(x, x), Sub(x, Neg(x)))
	requireGrads(t, []float64{8 * 123}, y, x)
}

func TestGrad_SelfAndUnrelated(t *testing.T) {
	g := New()
	x := graphtest.Scalar(t, g, 5)
	z := graphtest.Scalar(t, g, 7)
	y := Mul(x, x)
	requireGrads(t, []float64{1}, x, x)
	requireGrads(t, []float64{1}, y, y)
	requireGrads(t, []float64{0}, y, z)

	// Repeated xs get repeated gradients, in the order requested.
	grads := requireGrads(t, []float64{0, 10, 10, 0}, y, z, x, x, z)
	assert.Equal(t, grads[1], grads[2])

	// Nodes created after y are unrelated to y.
	later := Mul(y, x)
	requireGrads(t, []float64{0}, y, later)

	grads, err := Grad(y)
	require.NoError(t, err)
	assert.NotNil(t, grads)
	assert.Empty(t, grads)
}

func TestGrad_UnreachableStillSeeds(t *testing.T) {
	g := New()
	x := graphtest.Scalar(t, g, 5)
	z := graphtest.Scalar(t, g, 7)
	y := Mul(x, x)
	numSteps := g.NumSteps()
	requireGrads(t, []float64{0}, y, z)
	// The seed (ones like y) and the zeros for z.
	assert.Equal(t, numSteps+2, g.NumSteps())
}

func TestGrad_HigherOrder(t *testing.T) {
	g := New()
	x := graphtest.Scalar(t, g, 5)
	y := Mul(Mul(x, x), x)
	graphtest.RequireScalar(t, 125, y, 0)

	want := []float64{75, 30, 6, 0, 0}
	current := y
	for order, w := range want {
		grads, err := Grad(current, x)
		require.NoError(t, err)
		graphtest.RequireScalar(t, w, grads[0], 0)
		fmt.Printf("\td^%dy/dx^%d = %g\n", order+1, order+1, w)
		current = grads[0]
	}
}

func TestGrad_MixedPartials(t *testing.T) {
	g := New()
	a := graphtest.Scalar(t, g, 2)
	b := graphtest.Scalar(t, g, 3)
	y := Mul(Mul(a, a), b)
	graphtest.RequireScalar(t, 12, y, 0)

	grads := requireGrads(t, []float64{12, 4}, y, a, b)
	ya, yb := grads[0], grads[1]

	grads = requireGrads(t, []float64{6, 4}, ya, a, b)
	yaa, yab := grads[0], grads[1]
	grads = requireGrads(t, []float64{4, 0}, yb, a, b)
	yba, ybb := grads[0], grads[1]

	requireGrads(t, []float64{0, 2}, yaa, a, b)
	requireGrads(t, []float64{2, 0}, yab, a, b)
	requireGrads(t, []float64{2, 0}, yba, a, b)
	requireGrads(t, []float64{0, 0}, ybb, a, b)
}

func TestGrad_NonScalar(t *testing.T) {
	g := New()
	device := graphtest.BuildTestDevice()
	x := must.M1(FromArray(g, must.M1(arrays.FromValues(device, shapes.Make(dtypes.Float32, 3), []float64{1, 2, 3}))))
	c := must.M1(Fill(g, device, shapes.Make(dtypes.Float32, 3), 2))
	y := Div(Mul(x, x), c)
	grads, err := Grad(y, x, c)
	require.NoError(t, err)
	graphtest.RequireValues(t, []float64{1, 2, 3}, grads[0], 0)
	graphtest.RequireValues(t, []float64{-0.25, -1, -2.25}, grads[1], 0)
	assert.True(t, grads[0].Shape().Equal(x.Shape()))
}

func TestGrad_Lazy(t *testing.T) {
	g := New()
	x := graphtest.Scalar(t, g, 5)
	y := Mul(x, x)
	grads := must.M1(Grad(y, x))
	for idx := range g.NumSteps() {
		assert.Falsef(t, g.IsCalculated(idx), "Grad must not calculate step #%d", idx)
	}
	graphtest.RequireScalar(t, 10, grads[0], 0)
	graphtest.PrintGraph(g)
}

func TestGrad_Pruning(t *testing.T) {
	g := New()
	x := graphtest.Scalar(t, g, 2)
	z := graphtest.Scalar(t, g, 3)
	// The branch z*z doesn't depend on x: no gradient nodes should be created for it.
	y := Add(Mul(x, x), Mul(z, z))
	numSteps := g.NumSteps()
	requireGrads(t, []float64{4}, y, x)
	// Seed, Add's gradient (none: pass-through), Mul's gradient (2 Muls) and the Add at the merge.
	assert.Equal(t, numSteps+4, g.NumSteps())
}

// badGradOp is an Add whose gradient returns the wrong number of nodes.
type badGradOp struct{ *AddOp }

func (op badGradOp) Gradient(x, y, gy []Node) ([]Node, error) {
	return []Node{gy[0]}, nil
}

func TestGrad_BadOperatorGradient(t *testing.T) {
	g := New()
	a := graphtest.Scalar(t, g, 1)
	outputs := must.M1(AddOperator(badGradOp{NewAddOp()}, a, a))
	_, err := Grad(outputs[0], a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 1 gradients")
	assert.False(t, errors.Is(err, ErrInvalidGraph))
}
