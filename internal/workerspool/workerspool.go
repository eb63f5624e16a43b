// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs loops over voxel ranges in parallel, with a soft limit on the number of
// goroutines.
//
// The work of each range must be independent of the others: results don't depend on the parallelism.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool of workers used to split loops over voxels.
//
// A Pool with maxParallelism 0 runs everything inline, and with maxParallelism < 0 it has no limit.
type Pool struct {
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning is decreased.
	numRunning     int
}

// New returns a Pool with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	return NewWithParallelism(runtime.NumCPU())
}

// NewWithParallelism returns a Pool with the given maxParallelism: 0 disables parallelism, and < 0 is unlimited.
func NewWithParallelism(maxParallelism int) *Pool {
	w := &Pool{maxParallelism: maxParallelism}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// Inline is a Pool that runs everything in the calling goroutine.
var Inline = NewWithParallelism(0)

// MaxParallelism returns the soft-target for parallelism: 0 means disabled, -1 means unlimited.
func (w *Pool) MaxParallelism() int {
	if w == nil {
		return 0
	}
	return w.maxParallelism
}

// SetMaxParallelism should only be called before any work is started.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	w.maxParallelism = maxParallelism
}

// lockedIsFull returns whether all available workers are in use. It must be called with w.mu locked.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// start runs task in a goroutine once a worker is available.
func (w *Pool) start(task func()) {
	if w.maxParallelism < 0 {
		go task()
		return
	}
	w.mu.Lock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.numRunning++
	w.mu.Unlock()
	go func() {
		task()
		w.mu.Lock()
		w.numRunning--
		w.cond.Signal()
		w.mu.Unlock()
	}()
}

// MinChunk is the default minimum number of items processed per goroutine by ParallelFor.
const MinChunk = 4096

// ParallelFor calls fn(start, end) over consecutive ranges covering [0, n), and returns when all are done.
//
// Ranges have at least minChunk items (except the last). If the pool is nil, disabled, or n is small,
// fn(0, n) is called inline.
func (w *Pool) ParallelFor(n, minChunk int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if minChunk < 1 {
		minChunk = 1
	}
	parallelism := w.MaxParallelism()
	if parallelism < 0 {
		parallelism = runtime.NumCPU()
	}
	numChunks := min(parallelism, (n+minChunk-1)/minChunk)
	if numChunks <= 1 {
		fn(0, n)
		return
	}
	chunkSize := (n + numChunks - 1) / numChunks
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		w.start(func() {
			defer wg.Done()
			fn(start, end)
		})
	}
	wg.Wait()
}
