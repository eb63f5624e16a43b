// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallelFor(t *testing.T) {
	const n = 10_003
	for _, parallelism := range []int{0, 1, 3, -1} {
		pool := NewWithParallelism(parallelism)
		visited := make([]int32, n)
		var calls atomic.Int32
		pool.ParallelFor(n, 100, func(start, end int) {
			calls.Add(1)
			for ii := start; ii < end; ii++ {
				visited[ii]++
			}
		})
		for ii, count := range visited {
			require.Equalf(t, int32(1), count, "parallelism=%d, item %d visited %d times", parallelism, ii, count)
		}
		switch parallelism {
		case 0, 1:
			assert.Equal(t, int32(1), calls.Load())
		case 3:
			assert.Equal(t, int32(3), calls.Load())
		}
	}

	// Nil pool runs inline.
	var nilPool *Pool
	var sum int
	nilPool.ParallelFor(10, 1, func(start, end int) {
		for ii := start; ii < end; ii++ {
			sum += ii
		}
	})
	assert.Equal(t, 45, sum)
}
