// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements a simple, portable backend that keeps device memory in the host (Go) heap.
//
// It supports the Float32, Float64 and Float16 dtypes.
//
// Configuration is a comma-separated list of options:
//
//   - "max_memory=<size>": limits the total memory allocated, e.g. "max_memory=512MiB". Allocating beyond
//     it panics with backends.ErrOutOfMemory. Default is unlimited.
//   - "parallelism=<n>": maximum number of goroutines used by a single large kernel. 0 disables
//     parallelism, -1 is unlimited. Default is runtime.NumCPU().
//
// Example: LAZYGRAD_BACKEND="go:max_memory=1GiB,parallelism=4".
package simplego

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/lazygrad/backends"
	"github.com/gomlx/lazygrad/internal/workerspool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in LAZYGRAD_BACKEND to specify this backend.
const BackendName = "go"

// Registers New() as the constructor for the "go" backend.
func init() {
	backends.Register(BackendName, func(config string) (backends.Hardware, error) {
		return New(config)
	})
}

// Backend implements the backends.Hardware interface on host memory.
//
// It is not safe for concurrent use: wrap it with backends.NewDevice.
type Backend struct {
	// memory maps handles to the allocated regions.
	memory     map[backends.Handle][]byte
	nextHandle backends.Handle

	inUse     int64
	maxMemory int64 // 0 means unlimited.

	workers *workerspool.Pool
}

// Compile-time check that simplego.Backend implements backends.Hardware.
var _ backends.Hardware = &Backend{}

// New constructs a new SimpleGo Backend with the given configuration (see package documentation).
func New(config string) (*Backend, error) {
	b := &Backend{
		memory:     make(map[backends.Handle][]byte),
		nextHandle: 1,
		workers:    workerspool.NewDefault(),
	}
	for _, option := range strings.Split(config, ",") {
		option = strings.TrimSpace(option)
		if option == "" {
			continue
		}
		key, value, found := strings.Cut(option, "=")
		if !found {
			return nil, errors.Errorf("invalid option %q for backend %q: options are formatted as <key>=<value>", option, BackendName)
		}
		switch key {
		case "max_memory":
			maxMemory, err := humanize.ParseBytes(value)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid max_memory=%q for backend %q", value, BackendName)
			}
			b.maxMemory = int64(maxMemory)
		case "parallelism":
			parallelism, err := strconv.Atoi(value)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid parallelism=%q for backend %q", value, BackendName)
			}
			b.workers = workerspool.New(parallelism)
		default:
			return nil, errors.Errorf("unknown option %q for backend %q", key, BackendName)
		}
	}
	return b, nil
}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return BackendName
}

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	parts := []string{"Simple Go Portable Backend", fmt.Sprintf("%d workers", b.workers.MaxParallelism())}
	if b.maxMemory > 0 {
		parts = append(parts, "max memory "+humanize.IBytes(uint64(b.maxMemory)))
	}
	return strings.Join(parts, ", ")
}

// MemoryInUse returns the number of bytes currently allocated.
func (b *Backend) MemoryInUse() int64 { return b.inUse }

// NumAllocations returns the number of live allocations.
func (b *Backend) NumAllocations() int { return len(b.memory) }

// Allocate implements backends.Hardware.
func (b *Backend) Allocate(size int) backends.Handle {
	if b.maxMemory > 0 && b.inUse+int64(size) > b.maxMemory {
		panic(errors.Wrapf(backends.ErrOutOfMemory, "%s: allocating %s with %s in use exceeds max_memory=%s",
			BackendName, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(b.inUse)), humanize.IBytes(uint64(b.maxMemory))))
	}
	handle := b.nextHandle
	b.nextHandle++
	b.memory[handle] = alignedBytes(size)
	b.inUse += int64(size)
	return handle
}

// Deallocate implements backends.Hardware.
func (b *Backend) Deallocate(handle backends.Handle, size int) {
	data, found := b.memory[handle]
	if !found {
		klog.Errorf("%s: Deallocate(handle=%d, size=%d) of unknown handle, probably deallocated twice", BackendName, handle, size)
		return
	}
	if len(data) != size {
		klog.Errorf("%s: Deallocate(handle=%d, size=%d) but handle was allocated with size %d", BackendName, handle, size, len(data))
	}
	delete(b.memory, handle)
	b.inUse -= int64(len(data))
}

// region returns the memory for the handle, with at least size bytes.
func (b *Backend) region(handle backends.Handle, size int) ([]byte, error) {
	data, found := b.memory[handle]
	if !found {
		return nil, errors.Errorf("%s: invalid handle %d", BackendName, handle)
	}
	if len(data) < size {
		return nil, errors.Errorf("%s: handle %d holds %d bytes, %d required", BackendName, handle, len(data), size)
	}
	return data, nil
}

// CopyFromHost implements backends.Hardware.
func (b *Backend) CopyFromHost(dst backends.Handle, src []byte) error {
	data, err := b.region(dst, len(src))
	if err != nil {
		return err
	}
	copy(data, src)
	return nil
}

// CopyToHost implements backends.Hardware.
func (b *Backend) CopyToHost(dst []byte, src backends.Handle) error {
	data, err := b.region(src, len(dst))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

// Copy implements backends.Hardware.
func (b *Backend) Copy(dst, src backends.Handle, size int) error {
	dstData, err := b.region(dst, size)
	if err != nil {
		return err
	}
	srcData, err := b.region(src, size)
	if err != nil {
		return err
	}
	copy(dstData[:size], srcData[:size])
	return nil
}

// Finalize releases all memory held by the backend. Handles become invalid.
func (b *Backend) Finalize() {
	if len(b.memory) > 0 {
		klog.Warningf("%s: finalizing backend with %d live allocations (%s)", BackendName, len(b.memory), humanize.IBytes(uint64(b.inUse)))
	}
	clear(b.memory)
	b.inUse = 0
}
