// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool bounds the number of goroutines used to split elementwise work.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool limits how many goroutines run work concurrently.
//
// The zero value is not usable, use New.
type Pool struct {
	// maxParallelism is the limit of goroutines running tasks.
	// 0 disables parallelism, a negative value means unlimited.
	maxParallelism int

	mu         sync.Mutex
	numRunning int
}

// New returns a new Pool with the given parallelism.
// 0 disables parallelism (all work runs inline) and a negative value means unlimited.
func New(maxParallelism int) *Pool {
	return &Pool{maxParallelism: maxParallelism}
}

// NewDefault returns a Pool with parallelism set to runtime.NumCPU().
func NewDefault() *Pool {
	return New(runtime.NumCPU())
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism returns the limit of goroutines running tasks. See New.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// tryReserve reserves a slot to run a goroutine, if one is available.
func (w *Pool) tryReserve() bool {
	if w.IsUnlimited() {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.numRunning >= w.maxParallelism {
		return false
	}
	w.numRunning++
	return true
}

func (w *Pool) release() {
	if w.IsUnlimited() {
		return
	}
	w.mu.Lock()
	w.numRunning--
	w.mu.Unlock()
}

// ParallelFor calls fn over contiguous chunks [start, end) covering [0, numItems), and returns
// when all calls are done.
//
// Chunks have at least minChunk items. Chunks that can't get a free worker run inline in the
// calling goroutine, so ParallelFor never blocks waiting for workers and is safe to nest.
func (w *Pool) ParallelFor(numItems, minChunk int, fn func(start, end int)) {
	if numItems <= 0 {
		return
	}
	minChunk = max(minChunk, 1)
	numChunks := numItems / minChunk
	if w.IsUnlimited() {
		numChunks = min(numChunks, runtime.NumCPU())
	} else {
		numChunks = min(numChunks, w.maxParallelism)
	}
	if !w.IsEnabled() || numChunks <= 1 {
		fn(0, numItems)
		return
	}

	chunkSize := (numItems + numChunks - 1) / numChunks
	var wg sync.WaitGroup
	for start := 0; start < numItems; start += chunkSize {
		end := min(start+chunkSize, numItems)
		if end < numItems && w.tryReserve() {
			wg.Add(1)
			go func(start, end int) {
				defer wg.Done()
				defer w.release()
				fn(start, end)
			}(start, end)
			continue
		}
		fn(start, end)
	}
	wg.Wait()
}
