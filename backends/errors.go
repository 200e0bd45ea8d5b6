// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "github.com/pkg/errors"

var (
	// ErrHardwareMismatch is returned (wrapped) when values that must live on the same Device don't.
	ErrHardwareMismatch = errors.New("hardware mismatch")

	// ErrOutOfMemory is the panic value (wrapped) used by Hardware.Allocate when the allocator is exhausted.
	ErrOutOfMemory = errors.New("device out of memory")

	// ErrFinalizedBuffer is returned (wrapped) when a Buffer is used after being finalized.
	ErrFinalizedBuffer = errors.New("buffer already finalized")
)
