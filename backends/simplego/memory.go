// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"unsafe"
)

// alignedBytes returns a zeroed byte slice of the given size, backed by 8-byte aligned memory, so it can be
// reinterpreted as any of the supported dtypes.
func alignedBytes(size int) []byte {
	if size == 0 {
		return []byte{}
	}
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
}

// viewAs reinterprets the first numElements elements of data as a slice of T, without copying.
func viewAs[T any](data []byte, numElements int) []T {
	if numElements == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), numElements)
}
