// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arrays

import (
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

func checkDType(dtype dtypes.DType) error {
	switch dtype {
	case dtypes.Float32, dtypes.Float64, dtypes.Float16:
		return nil
	}
	return errors.Errorf("dtype %s not supported, only Float32, Float64 and Float16", dtype)
}

// asBytes returns the raw bytes of the flat slice, without copying.
func asBytes[T any](flat []T) []byte {
	if len(flat) == 0 {
		return []byte{}
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&flat[0])), len(flat)*int(unsafe.Sizeof(zero)))
}

// encodeValues converts values to the host representation of dtype.
func encodeValues(dtype dtypes.DType, values []float64) ([]byte, error) {
	switch dtype {
	case dtypes.Float64:
		return asBytes(values), nil
	case dtypes.Float32:
		flat := make([]float32, len(values))
		for ii, v := range values {
			flat[ii] = float32(v)
		}
		return asBytes(flat), nil
	case dtypes.Float16:
		flat := make([]float16.Float16, len(values))
		for ii, v := range values {
			flat[ii] = float16.Fromfloat32(float32(v))
		}
		return asBytes(flat), nil
	}
	return nil, checkDType(dtype)
}

// decodeValues converts numElements values of dtype stored in data to float64.
func decodeValues(dtype dtypes.DType, data []byte, numElements int) ([]float64, error) {
	values := make([]float64, numElements)
	if numElements == 0 {
		return values, nil
	}
	ptr := unsafe.Pointer(&data[0])
	switch dtype {
	case dtypes.Float64:
		copy(values, unsafe.Slice((*float64)(ptr), numElements))
	case dtypes.Float32:
		for ii, v := range unsafe.Slice((*float32)(ptr), numElements) {
			values[ii] = float64(v)
		}
	case dtypes.Float16:
		for ii, v := range unsafe.Slice((*float16.Float16)(ptr), numElements) {
			values[ii] = float64(v.Float32())
		}
	default:
		return nil, checkDType(dtype)
	}
	return values, nil
}
