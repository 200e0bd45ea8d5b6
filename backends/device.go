// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Device is the exclusive-access context of one Hardware.
//
// All calls to the underlying Hardware are serialized by the Device lock, which is held only for the
// duration of each call, never across calls.
//
// Devices are compared by identity: use the pointer, not the contents.
type Device struct {
	mu sync.Mutex
	hw Hardware
	id uuid.UUID

	// memoryInUse and numBuffers track live allocations made through this device.
	memoryInUse atomic.Int64
	numBuffers  atomic.Int64
}

// NewDevice returns a new Device taking ownership of hw.
// The hw should not be used directly after that.
func NewDevice(hw Hardware) *Device {
	return &Device{hw: hw, id: uuid.New()}
}

// Name of the underlying Hardware.
func (d *Device) Name() string { return d.hw.Name() }

// ID uniquely identifies the device in logs.
func (d *Device) ID() uuid.UUID { return d.id }

// String implements fmt.Stringer.
func (d *Device) String() string {
	if d == nil {
		return "Device(nil)"
	}
	return fmt.Sprintf("%s[%s]", d.hw.Name(), d.id.String()[:8])
}

// MemoryInUse returns the number of bytes currently held by live buffers of this device.
func (d *Device) MemoryInUse() int64 { return d.memoryInUse.Load() }

// NumBuffers returns the number of live buffers of this device.
func (d *Device) NumBuffers() int64 { return d.numBuffers.Load() }

// MemoryReport returns a human-readable summary of the live memory of the device.
func (d *Device) MemoryReport() string {
	return fmt.Sprintf("%s: %s in %s buffers", d, humanize.IBytes(uint64(d.MemoryInUse())), humanize.Comma(d.NumBuffers()))
}

// SameDevice returns the device shared by all the given devices, or an error wrapping ErrHardwareMismatch
// if they are not all the same instance.
func SameDevice(devices ...*Device) (*Device, error) {
	if len(devices) == 0 {
		return nil, errors.Wrapf(ErrHardwareMismatch, "no devices given")
	}
	first := devices[0]
	if first == nil {
		return nil, errors.Wrapf(ErrHardwareMismatch, "device #0 is nil")
	}
	for ii, device := range devices[1:] {
		if device != first {
			return nil, errors.Wrapf(ErrHardwareMismatch, "device #%d (%s) differs from device #0 (%s)", ii+1, device, first)
		}
	}
	return first, nil
}

// Finalizer is an optional interface a Hardware can implement to release its resources when its Device is
// finalized.
type Finalizer interface {
	Finalize()
}

// Finalize releases the resources of the underlying Hardware, if it implements Finalizer.
//
// It returns an error if there are still live buffers on the device: they must be finalized first.
// Calling it more than once is safe.
func (d *Device) Finalize() error {
	if n := d.NumBuffers(); n > 0 {
		return errors.Errorf("cannot finalize %s: %s buffers (%s) still alive", d, humanize.Comma(n), humanize.IBytes(uint64(d.MemoryInUse())))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.hw.(Finalizer); ok {
		f.Finalize()
	}
	return nil
}

func (d *Device) allocate(size int) Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	handle := d.hw.Allocate(size)
	d.memoryInUse.Add(int64(size))
	d.numBuffers.Add(1)
	return handle
}

func (d *Device) deallocate(handle Handle, size int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hw.Deallocate(handle, size)
	d.memoryInUse.Add(-int64(size))
	d.numBuffers.Add(-1)
}

// checkBuffers makes sure all buffers are valid and owned by this device.
func (d *Device) checkBuffers(buffers ...*Buffer) error {
	for ii, buf := range buffers {
		if buf == nil {
			return errors.Errorf("buffer #%d is nil", ii)
		}
		if buf.device != d {
			return errors.Wrapf(ErrHardwareMismatch, "buffer #%d is on device %s, not on %s", ii, buf.device, d)
		}
		if !buf.IsValid() {
			return errors.Wrapf(ErrFinalizedBuffer, "buffer #%d", ii)
		}
	}
	return nil
}

// Fill sets the first numElements elements of out to value.
func (d *Device) Fill(dtype dtypes.DType, out *Buffer, numElements int, value float64) error {
	if err := d.checkBuffers(out); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hw.Fill(dtype, out.handle, numElements, value)
}

// Upload copies the host bytes in src to the start of dst.
func (d *Device) Upload(dst *Buffer, src []byte) error {
	if err := d.checkBuffers(dst); err != nil {
		return err
	}
	if len(src) > dst.size {
		return errors.Errorf("cannot upload %d bytes to buffer of %d bytes", len(src), dst.size)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hw.CopyFromHost(dst.handle, src)
}

// Download copies the start of src to the host bytes in dst.
func (d *Device) Download(dst []byte, src *Buffer) error {
	if err := d.checkBuffers(src); err != nil {
		return err
	}
	if len(dst) > src.size {
		return errors.Errorf("cannot download %d bytes from buffer of %d bytes", len(dst), src.size)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hw.CopyToHost(dst, src.handle)
}

// CopyBuffer copies the contents of src to dst, both on this device.
// dst must be at least as large as src.
func (d *Device) CopyBuffer(dst, src *Buffer) error {
	if err := d.checkBuffers(dst, src); err != nil {
		return err
	}
	if dst.size < src.size {
		return errors.Errorf("cannot copy buffer of %d bytes into buffer of %d bytes", src.size, dst.size)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hw.Copy(dst.handle, src.handle, src.size)
}

// Binary runs the elementwise binary kernel op over numElements elements.
func (d *Device) Binary(op OpType, dtype dtypes.DType, lhs, rhs, out *Buffer, numElements int) error {
	if !op.IsBinary() {
		return errors.Errorf("op %s is not a binary elementwise operation", op)
	}
	if err := d.checkBuffers(lhs, rhs, out); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hw.Binary(op, dtype, lhs.handle, rhs.handle, out.handle, numElements)
}

// Unary runs the elementwise unary kernel op over numElements elements.
func (d *Device) Unary(op OpType, dtype dtypes.DType, x, out *Buffer, numElements int) error {
	if !op.IsUnary() {
		return errors.Errorf("op %s is not a unary elementwise operation", op)
	}
	if err := d.checkBuffers(x, out); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hw.Unary(op, dtype, x.handle, out.handle, numElements)
}
