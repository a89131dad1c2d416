// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs kernel work in goroutines, with a soft limit on parallelism.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool of workers. It's safe for concurrent use.
type Pool struct {
	// maxParallelism is a soft target on the limit of parallel work to do.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Should be signaled whenever numRunning is decreased.
	numRunning     int
}

// New returns a new Pool of workers with the given parallelism. If maxParallelism is 0 it uses runtime.NumCPU().
// If it is 1, all work is run inline.
func New(maxParallelism int) *Pool {
	if maxParallelism <= 0 {
		maxParallelism = runtime.NumCPU()
	}
	w := &Pool{maxParallelism: maxParallelism}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// MaxParallelism is the soft-target for parallelism.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// WaitToStart waits until there is a worker available to run the task, and starts it in a goroutine.
//
// If maxParallelism is 1, it runs the task inline and returns when it is finished.
func (w *Pool) WaitToStart(task func()) {
	if w.maxParallelism == 1 {
		task()
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.numRunning >= w.maxParallelism {
		w.cond.Wait()
	}
	w.numRunning++
	go func() {
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.cond.Signal()
			w.mu.Unlock()
		}()
		task()
	}()
}

// NumRunning returns the number of tasks currently running in goroutines.
func (w *Pool) NumRunning() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.numRunning
}

// ParallelFor splits the range [0, n) in contiguous chunks of at least minChunk elements, and calls fn for each
// chunk in parallel. It returns when all chunks are done.
//
// The chunk boundaries only depend on n, minChunk and the pool parallelism, never on timing.
// If fn panics in any chunk, ParallelFor re-panics with the first value after all chunks are done.
func (w *Pool) ParallelFor(n, minChunk int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	numChunks := min(w.maxParallelism, (n+minChunk-1)/max(minChunk, 1))
	if numChunks <= 1 {
		fn(0, n)
		return
	}
	chunkSize := (n + numChunks - 1) / numChunks
	var (
		wg         sync.WaitGroup
		panicOnce  sync.Once
		panicValue any
	)
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		w.WaitToStart(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panicOnce.Do(func() { panicValue = r })
				}
			}()
			fn(start, end)
		})
	}
	wg.Wait()
	if panicValue != nil {
		panic(panicValue)
	}
}
