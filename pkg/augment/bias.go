// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/synthseg/internal/workerspool"
	"github.com/gomlx/synthseg/pkg/volumes"
)

// BiasField multiplies every channel of the image by exp(field), where field is a SmoothField with one
// channel of standard deviation std.
func BiasField(rng *rand.Rand, img *volumes.Image, factor, std float64, kind Interpolation, pool *workerspool.Pool) {
	field := SmoothField(rng, img.Dims, 1, factor, std, kind, pool)
	channels := img.Channels
	pool.ParallelFor(img.NumVoxels(), workerspool.MinChunk, func(start, end int) {
		for voxel := start; voxel < end; voxel++ {
			bias := float32(math.Exp(field.Data[voxel]))
			for c := range channels {
				img.Data[voxel*channels+c] *= bias
			}
		}
	})
}
