// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestParallelFor(t *testing.T) {
	defer goleak.VerifyNone(t)
	for _, parallelism := range []int{1, 3, 8} {
		pool := New(parallelism)
		assert.Equal(t, parallelism, pool.MaxParallelism())
		counts := make([]int, 1000)
		var mu sync.Mutex
		var chunks [][2]int
		pool.ParallelFor(len(counts), 10, func(start, end int) {
			for ii := start; ii < end; ii++ {
				counts[ii]++
			}
			mu.Lock()
			chunks = append(chunks, [2]int{start, end})
			mu.Unlock()
		})
		for ii, count := range counts {
			assert.Equal(t, 1, count, "element %d processed %d times with parallelism %d", ii, count, parallelism)
		}
		assert.Len(t, chunks, parallelism)
	}

	// Small ranges are not split.
	calls := 0
	New(4).ParallelFor(5, 10, func(start, end int) {
		calls++
		assert.Equal(t, 0, start)
		assert.Equal(t, 5, end)
	})
	assert.Equal(t, 1, calls)
}

func TestWaitToStart(t *testing.T) {
	defer goleak.VerifyNone(t)
	pool := New(2)
	var wg sync.WaitGroup
	var mu sync.Mutex
	maxRunning, running := 0, 0
	for range 10 {
		wg.Add(1)
		pool.WaitToStart(func() {
			defer wg.Done()
			mu.Lock()
			running++
			maxRunning = max(maxRunning, running)
			mu.Unlock()
			mu.Lock()
			running--
			mu.Unlock()
		})
	}
	wg.Wait()
	assert.LessOrEqual(t, maxRunning, 2)
}

func TestParallelForPanic(t *testing.T) {
	defer goleak.VerifyNone(t)
	pool := New(4)
	assert.PanicsWithValue(t, "chunk failed", func() {
		pool.ParallelFor(100, 1, func(start, end int) {
			if start == 0 {
				panic("chunk failed")
			}
		})
	})
}
