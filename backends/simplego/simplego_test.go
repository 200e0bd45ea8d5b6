// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/lazygrad/backends"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func TestNew(t *testing.T) {
	b := must.M1(New(""))
	assert.Equal(t, BackendName, b.Name())
	assert.Zero(t, b.maxMemory)
	assert.True(t, b.workers.IsEnabled())

	b = must.M1(New("max_memory=1KiB, parallelism=0"))
	assert.Equal(t, int64(1024), b.maxMemory)
	assert.False(t, b.workers.IsEnabled())
	assert.Contains(t, b.Description(), "1.0 KiB")

	b = must.M1(New("parallelism=-1"))
	assert.True(t, b.workers.IsUnlimited())

	for _, config := range []string{"max_memory", "max_memory=lots", "parallelism=many", "foo=bar"} {
		_, err := New(config)
		require.Errorf(t, err, "config %q should have failed", config)
	}
}

func TestRegistered(t *testing.T) {
	device := must.M1(backends.NewWithConfig("go:parallelism=2"))
	assert.Equal(t, BackendName, device.Name())
	device = must.M1(backends.NewWithConfig(BackendName))
	assert.Equal(t, BackendName, device.Name())
}

func TestAllocate(t *testing.T) {
	b := must.M1(New(""))
	h0 := b.Allocate(12)
	h1 := b.Allocate(0)
	assert.NotEqual(t, h0, h1)
	assert.Equal(t, int64(12), b.MemoryInUse())
	assert.Equal(t, 2, b.NumAllocations())

	// Freshly allocated memory is zeroed and 8-byte aligned.
	data := must.M1(b.region(h0, 12))
	assert.Equal(t, make([]byte, 12), data)
	assert.Len(t, viewAs[float64](data, 1), 1)

	b.Deallocate(h0, 12)
	b.Deallocate(h1, 0)
	assert.Zero(t, b.MemoryInUse())
	assert.Zero(t, b.NumAllocations())

	// Double deallocation is logged and ignored.
	b.Deallocate(h0, 12)
	assert.Zero(t, b.MemoryInUse())
}

func TestAllocate_OutOfMemory(t *testing.T) {
	b := must.M1(New("max_memory=16"))
	h := b.Allocate(16)
	err := exceptions.TryCatch[error](func() { b.Allocate(1) })
	require.Error(t, err)
	require.True(t, errors.Is(err, backends.ErrOutOfMemory), "got error %+v", err)
	assert.Equal(t, int64(16), b.MemoryInUse())

	b.Deallocate(h, 16)
	h = b.Allocate(8)
	b.Deallocate(h, 8)
	assert.Zero(t, b.MemoryInUse())
}

func TestCopy(t *testing.T) {
	b := must.M1(New(""))
	src := b.Allocate(4)
	dst := b.Allocate(4)
	require.NoError(t, b.CopyFromHost(src, []byte{1, 2, 3, 4}))
	require.NoError(t, b.Copy(dst, src, 4))
	got := make([]byte, 4)
	require.NoError(t, b.CopyToHost(got, dst))
	assert.Equal(t, []byte{1, 2, 3, 4}, got)

	require.Error(t, b.CopyFromHost(src, make([]byte, 5)))
	require.Error(t, b.CopyToHost(got, backends.InvalidHandle))

	b.Finalize()
	assert.Zero(t, b.NumAllocations())
	require.Error(t, b.CopyToHost(got, dst))
}
