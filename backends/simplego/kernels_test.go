// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"fmt"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/lazygrad/backends"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func allocFloat32(b *Backend, values ...float32) backends.Handle {
	h := b.Allocate(4 * len(values))
	copy(viewAs[float32](b.memory[h], len(values)), values)
	return h
}

func float32Values(b *Backend, h backends.Handle, n int) []float32 {
	return append([]float32{}, viewAs[float32](b.memory[h], n)...)
}

func TestFill(t *testing.T) {
	b := must.M1(New(""))
	out := b.Allocate(3 * 8)
	require.NoError(t, b.Fill(dtypes.Float64, out, 3, 123))
	assert.Equal(t, []float64{123, 123, 123}, viewAs[float64](b.memory[out], 3))

	out16 := b.Allocate(2 * 2)
	require.NoError(t, b.Fill(dtypes.Float16, out16, 2, 1.5))
	assert.Equal(t, float32(1.5), viewAs[float16.Float16](b.memory[out16], 2)[1].Float32())

	// Empty fill is a no-op.
	empty := b.Allocate(0)
	require.NoError(t, b.Fill(dtypes.Float32, empty, 0, 7))

	require.Error(t, b.Fill(dtypes.Int32, out, 1, 1))
	require.Error(t, b.Fill(dtypes.Float64, out, 4, 1))
}

func TestBinary(t *testing.T) {
	b := must.M1(New(""))
	lhs := allocFloat32(b, 3, 4, 5)
	rhs := allocFloat32(b, 2, 8, -1)
	out := b.Allocate(3 * 4)
	for op, want := range map[backends.OpType][]float32{
		backends.OpTypeAdd: {5, 12, 4},
		backends.OpTypeSub: {1, -4, 6},
		backends.OpTypeMul: {6, 32, -5},
		backends.OpTypeDiv: {1.5, 0.5, -5},
	} {
		require.NoError(t, b.Binary(op, dtypes.Float32, lhs, rhs, out, 3))
		assert.Equalf(t, want, float32Values(b, out, 3), "op=%s", op)
	}

	// Output aliasing the input.
	require.NoError(t, b.Binary(backends.OpTypeAdd, dtypes.Float32, lhs, lhs, lhs, 3))
	assert.Equal(t, []float32{6, 8, 10}, float32Values(b, lhs, 3))

	require.Error(t, b.Binary(backends.OpTypeNeg, dtypes.Float32, lhs, rhs, out, 3))
	require.Error(t, b.Binary(backends.OpTypeAdd, dtypes.Int64, lhs, rhs, out, 3))
}

func TestBinary_Float16(t *testing.T) {
	b := must.M1(New(""))
	lhs, rhs, out := b.Allocate(4), b.Allocate(4), b.Allocate(4)
	copy(viewAs[float16.Float16](b.memory[lhs], 2), []float16.Float16{float16.Fromfloat32(3), float16.Fromfloat32(1)})
	copy(viewAs[float16.Float16](b.memory[rhs], 2), []float16.Float16{float16.Fromfloat32(2), float16.Fromfloat32(4)})
	require.NoError(t, b.Binary(backends.OpTypeDiv, dtypes.Float16, lhs, rhs, out, 2))
	got := viewAs[float16.Float16](b.memory[out], 2)
	assert.Equal(t, float32(1.5), got[0].Float32())
	assert.Equal(t, float32(0.25), got[1].Float32())
}

func TestUnary(t *testing.T) {
	b := must.M1(New(""))
	x := allocFloat32(b, 1, -2, 0)
	out := b.Allocate(3 * 4)
	require.NoError(t, b.Unary(backends.OpTypeNeg, dtypes.Float32, x, out, 3))
	assert.Equal(t, []float32{-1, 2, 0}, float32Values(b, out, 3))
	require.Error(t, b.Unary(backends.OpTypeMul, dtypes.Float32, x, out, 3))
}

func TestKernels_Parallel(t *testing.T) {
	for _, parallelism := range []int{0, 3, -1} {
		b := must.M1(New(fmt.Sprintf("parallelism=%d", parallelism)))
		n := 5*minParallelChunk + 17
		x := b.Allocate(n * 8)
		out := b.Allocate(n * 8)
		require.NoError(t, b.Fill(dtypes.Float64, x, n, 2))
		require.NoError(t, b.Binary(backends.OpTypeMul, dtypes.Float64, x, x, out, n))
		require.NoError(t, b.Unary(backends.OpTypeNeg, dtypes.Float64, out, out, n))
		for ii, v := range viewAs[float64](b.memory[out], n) {
			if v != -4 {
				t.Fatalf("parallelism=%d: out[%d]=%g, wanted -4", parallelism, ii, v)
			}
		}
	}
}
