// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"math/rand/v2"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
)

// RandomCropOffset draws the crop offset of each axis uniformly from [0, dims[axis]-shape[axis]].
// No random number is drawn for axes where shape matches dims.
func RandomCropOffset(rng *rand.Rand, dims, shape []int) []int {
	offset := make([]int, len(dims))
	for axis, d := range dims {
		if slack := d - shape[axis]; slack > 0 {
			offset[axis] = rng.IntN(slack + 1)
		} else if slack < 0 {
			exceptions.Panicf("crop shape %v larger than volume %v", shape, dims)
		}
	}
	return offset
}

// RandomCrop crops image and labels to shape at the same random offset.
func RandomCrop(rng *rand.Rand, s *Sample, shape []int) {
	if slices.Equal(s.Image.Dims, shape) {
		return
	}
	offset := RandomCropOffset(rng, s.Image.Dims, shape)
	s.Image = must.M1(s.Image.Crop(offset, shape))
	s.Labels = must.M1(s.Labels.Crop(offset, shape))
}
