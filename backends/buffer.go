// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Buffer owns one region of device memory.
//
// It is bound to the Device that allocated it for its whole life, and the memory is released through that same
// Device exactly once: when Finalize is called or, if it never is, when the Buffer is garbage collected.
//
// A Buffer is never duplicated implicitly: copies of the contents are made with Device.CopyBuffer into a
// new Buffer.
type Buffer struct {
	device *Device
	handle Handle
	size   int

	finalized atomic.Bool
	cleanup   runtime.Cleanup
}

// leakedBuffer holds what is needed to release a Buffer that was garbage collected without being finalized.
type leakedBuffer struct {
	device *Device
	handle Handle
	size   int
}

func releaseLeakedBuffer(leaked leakedBuffer) {
	klog.V(1).Infof("releasing buffer of %s on %s that was not finalized", humanize.IBytes(uint64(leaked.size)), leaked.device)
	leaked.device.deallocate(leaked.handle, leaked.size)
}

// NewBuffer allocates size bytes on device.
//
// The contents are undefined: callers must initialize them (Device.Fill, Device.Upload, Device.CopyBuffer or
// a kernel output) before reading.
//
// It panics (with an error wrapping ErrOutOfMemory) if the device allocator is exhausted.
func NewBuffer(device *Device, size int) *Buffer {
	if size < 0 {
		panic(errors.Errorf("NewBuffer(%s): invalid negative size %d", device, size))
	}
	b := &Buffer{
		device: device,
		handle: device.allocate(size),
		size:   size,
	}
	b.cleanup = runtime.AddCleanup(b, releaseLeakedBuffer, leakedBuffer{device: device, handle: b.handle, size: size})
	return b
}

// NewBufferColocated allocates size bytes on the same device as other.
func NewBufferColocated(other *Buffer, size int) *Buffer {
	return NewBuffer(other.device, size)
}

// Device that owns the buffer memory.
func (b *Buffer) Device() *Device { return b.device }

// Size in bytes of the buffer.
func (b *Buffer) Size() int { return b.size }

// Handle of the device memory. Only meaningful to the owning Device's Hardware.
func (b *Buffer) Handle() Handle { return b.handle }

// IsValid returns whether the buffer is not nil and was not finalized yet.
func (b *Buffer) IsValid() bool {
	return b != nil && !b.finalized.Load()
}

// Finalize releases the device memory immediately.
//
// It is safe to call it more than once: only the first call releases the memory.
// The buffer must not be used afterward.
func (b *Buffer) Finalize() {
	if b == nil || b.finalized.Swap(true) {
		return
	}
	b.cleanup.Stop()
	b.device.deallocate(b.handle, b.size)
}

// String implements fmt.Stringer.
func (b *Buffer) String() string {
	if b == nil {
		return "Buffer(nil)"
	}
	if !b.IsValid() {
		return fmt.Sprintf("Buffer(finalized, %s)", b.device)
	}
	return fmt.Sprintf("Buffer(%s, %s)", humanize.IBytes(uint64(b.size)), b.device)
}
