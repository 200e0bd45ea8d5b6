// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/lazygrad/backends"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// minParallelChunk is the smallest number of elements handled by one goroutine in the elementwise kernels.
const minParallelChunk = 32 * 1024

// regions returns the memory of the handles, each with at least size bytes.
func (b *Backend) regions(size int, handles ...backends.Handle) ([][]byte, error) {
	regions := make([][]byte, len(handles))
	for ii, handle := range handles {
		data, err := b.region(handle, size)
		if err != nil {
			return nil, err
		}
		regions[ii] = data
	}
	return regions, nil
}

func checkKernelDType(dtype dtypes.DType) error {
	switch dtype {
	case dtypes.Float32, dtypes.Float64, dtypes.Float16:
		return nil
	}
	return errors.Errorf("%s: dtype %s not supported", BackendName, dtype)
}

// Fill implements backends.Hardware.
func (b *Backend) Fill(dtype dtypes.DType, out backends.Handle, numElements int, value float64) error {
	if err := checkKernelDType(dtype); err != nil {
		return err
	}
	data, err := b.region(out, numElements*int(dtype.Memory()))
	if err != nil {
		return err
	}
	switch dtype {
	case dtypes.Float32:
		execFill(b, viewAs[float32](data, numElements), float32(value))
	case dtypes.Float64:
		execFill(b, viewAs[float64](data, numElements), value)
	case dtypes.Float16:
		execFill(b, viewAs[float16.Float16](data, numElements), float16.Fromfloat32(float32(value)))
	}
	return nil
}

func execFill[T any](b *Backend, out []T, value T) {
	b.workers.ParallelFor(len(out), minParallelChunk, func(start, end int) {
		for ii := start; ii < end; ii++ {
			out[ii] = value
		}
	})
}

// Binary implements backends.Hardware.
//
// The output handle may be the same as one of the inputs.
func (b *Backend) Binary(op backends.OpType, dtype dtypes.DType, lhs, rhs, out backends.Handle, numElements int) error {
	if !op.IsBinary() {
		return errors.Errorf("%s: %s is not a binary operation", BackendName, op)
	}
	if err := checkKernelDType(dtype); err != nil {
		return err
	}
	regions, err := b.regions(numElements*int(dtype.Memory()), lhs, rhs, out)
	if err != nil {
		return err
	}
	switch dtype {
	case dtypes.Float32:
		execBinary(b, binaryFn[float32](op),
			viewAs[float32](regions[0], numElements), viewAs[float32](regions[1], numElements), viewAs[float32](regions[2], numElements))
	case dtypes.Float64:
		execBinary(b, binaryFn[float64](op),
			viewAs[float64](regions[0], numElements), viewAs[float64](regions[1], numElements), viewAs[float64](regions[2], numElements))
	case dtypes.Float16:
		fn := binaryFn[float32](op)
		execBinary(b, func(x, y float16.Float16) float16.Float16 { return float16.Fromfloat32(fn(x.Float32(), y.Float32())) },
			viewAs[float16.Float16](regions[0], numElements), viewAs[float16.Float16](regions[1], numElements),
			viewAs[float16.Float16](regions[2], numElements))
	}
	return nil
}

func binaryFn[T constraints.Float](op backends.OpType) func(a, b T) T {
	switch op {
	case backends.OpTypeAdd:
		return func(a, b T) T { return a + b }
	case backends.OpTypeSub:
		return func(a, b T) T { return a - b }
	case backends.OpTypeMul:
		return func(a, b T) T { return a * b }
	case backends.OpTypeDiv:
		return func(a, b T) T { return a / b }
	}
	return nil
}

func execBinary[T any](b *Backend, fn func(a, b T) T, lhs, rhs, out []T) {
	b.workers.ParallelFor(len(out), minParallelChunk, func(start, end int) {
		for ii := start; ii < end; ii++ {
			out[ii] = fn(lhs[ii], rhs[ii])
		}
	})
}

// Unary implements backends.Hardware.
//
// The output handle may be the same as the input.
func (b *Backend) Unary(op backends.OpType, dtype dtypes.DType, x, out backends.Handle, numElements int) error {
	if !op.IsUnary() {
		return errors.Errorf("%s: %s is not a unary operation", BackendName, op)
	}
	if err := checkKernelDType(dtype); err != nil {
		return err
	}
	regions, err := b.regions(numElements*int(dtype.Memory()), x, out)
	if err != nil {
		return err
	}
	switch dtype {
	case dtypes.Float32:
		execUnary(b, unaryFn[float32](op), viewAs[float32](regions[0], numElements), viewAs[float32](regions[1], numElements))
	case dtypes.Float64:
		execUnary(b, unaryFn[float64](op), viewAs[float64](regions[0], numElements), viewAs[float64](regions[1], numElements))
	case dtypes.Float16:
		fn := unaryFn[float32](op)
		execUnary(b, func(a float16.Float16) float16.Float16 { return float16.Fromfloat32(fn(a.Float32())) },
			viewAs[float16.Float16](regions[0], numElements), viewAs[float16.Float16](regions[1], numElements))
	}
	return nil
}

func unaryFn[T constraints.Float](op backends.OpType) func(a T) T {
	switch op {
	case backends.OpTypeNeg:
		return func(a T) T { return -a }
	}
	return nil
}

func execUnary[T any](b *Backend, fn func(a T) T, x, out []T) {
	b.workers.ParallelFor(len(out), minParallelChunk, func(start, end int) {
		for ii := start; ii < end; ii++ {
			out[ii] = fn(x[ii])
		}
	})
}
