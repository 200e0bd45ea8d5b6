// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())
	require.False(t, Shape{}.Ok())

	shape0 := Scalar(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, shape0.Memory())
	require.Equal(t, "(Float64)", shape0.String())

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, shape1.Memory())
	require.Equal(t, "(Float32)[4 3 2]", shape1.String())

	empty := Make(dtypes.Float32, 0)
	require.Equal(t, 0, empty.Size())
	require.Equal(t, 0, empty.Memory())

	require.Panics(t, func() { _ = Make(dtypes.Float32, 2, -1) })
}

func TestMake_CopiesDimensions(t *testing.T) {
	dims := []int{2, 3}
	shape := Make(dtypes.Float32, dims...)
	dims[0] = 7
	require.Equal(t, []int{2, 3}, shape.Dimensions)

	clone := shape.Clone()
	clone.Dimensions[1] = 5
	require.Equal(t, []int{2, 3}, shape.Dimensions)
}

func TestFromDimensions(t *testing.T) {
	shape, err := FromDimensions(3)
	require.NoError(t, err)
	require.Equal(t, DefaultDType, shape.DType)
	require.True(t, shape.Equal(Make(dtypes.Float32, 3)))

	shape, err = FromDimensions()
	require.NoError(t, err)
	require.True(t, shape.IsScalar())

	_, err = FromDimensions(1, -2)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestDim(t *testing.T) {
	shape := Make(dtypes.Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 3, shape.Dim(1))
	require.Equal(t, 2, shape.Dim(2))
	require.Equal(t, 4, shape.Dim(-3))
	require.Equal(t, 3, shape.Dim(-2))
	require.Equal(t, 2, shape.Dim(-1))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
}

func TestElementwise(t *testing.T) {
	a := Make(dtypes.Float32, 3)
	got, err := a.Elementwise(Make(dtypes.Float32, 3))
	require.NoError(t, err)
	require.True(t, got.Equal(a))

	got, err = Scalar(dtypes.Float32).Elementwise(Scalar(dtypes.Float32))
	require.NoError(t, err)
	require.True(t, got.IsScalar())

	for _, other := range []Shape{
		Scalar(dtypes.Float32),     // No broadcasting.
		Make(dtypes.Float32, 3, 1), // Different rank.
		Make(dtypes.Float32, 4),    // Different dimension.
		Make(dtypes.Float64, 3),    // Different dtype.
		Invalid(),
	} {
		_, err = a.Elementwise(other)
		require.Errorf(t, err, "%s and %s should not be compatible", a, other)
		require.True(t, errors.Is(err, ErrShapeMismatch))
	}
}

func TestCheckSize(t *testing.T) {
	require.NoError(t, Make(dtypes.Float32, 1024, 1024, 1024).CheckSize())
	require.NoError(t, Scalar(dtypes.Float64).CheckSize())
	// A zero dimension makes the shape empty, however large the other dimensions are.
	require.NoError(t, Make(dtypes.Float32, 1<<62, 4, 0).CheckSize())

	for _, shape := range []Shape{
		Make(dtypes.Float32, 1<<32, 1<<32), // Size wraps to 0.
		Make(dtypes.Float32, 3, 1<<62),     // Size wraps to a negative number.
		Make(dtypes.Float64, 1<<61),        // Size fits, Memory doesn't.
		{DType: dtypes.Float32, Dimensions: []int{2, -1}},
	} {
		err := shape.CheckSize()
		require.Errorf(t, err, "shape %v should have failed", shape.Dimensions)
		require.True(t, errors.Is(err, ErrShapeMismatch))
	}

	_, err := FromDimensions(1<<32, 1<<32)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrShapeMismatch))
}
