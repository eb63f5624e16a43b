// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/synthseg/pkg/volumes"
)

// AddNoise adds N(0, std) noise to every value of the image.
func AddNoise(rng *rand.Rand, img *volumes.Image, std float64) {
	for ii := range img.Data {
		img.Data[ii] += float32(normal(rng, std))
	}
}

// ClipIntensities clips every value of the image to [minValue, maxValue].
func ClipIntensities(img *volumes.Image, minValue, maxValue float64) {
	lo, hi := float32(minValue), float32(maxValue)
	for ii, value := range img.Data {
		img.Data[ii] = min(max(value, lo), hi)
	}
}

// NormalizeChannels rescales each channel independently to [0, 1]. Constant channels become 0.
//
// It panics if the image has NaN or infinite values.
func NormalizeChannels(img *volumes.Image) {
	channels := img.Channels
	for c := range channels {
		lo, hi := math.Inf(1), math.Inf(-1)
		for ii := c; ii < len(img.Data); ii += channels {
			value := float64(img.Data[ii])
			if math.IsNaN(value) || math.IsInf(value, 0) {
				exceptions.Panicf("image has non-finite value %g in channel %d", value, c)
			}
			lo = math.Min(lo, value)
			hi = math.Max(hi, value)
		}
		scale := 0.0
		if hi > lo {
			scale = 1 / (hi - lo)
		}
		for ii := c; ii < len(img.Data); ii += channels {
			img.Data[ii] = float32((float64(img.Data[ii]) - lo) * scale)
		}
	}
}

// RandomGamma raises each channel (expected in [0, 1]) independently to the power exp(g), g ~ N(0, std).
func RandomGamma(rng *rand.Rand, img *volumes.Image, std float64) []float64 {
	channels := img.Channels
	gammas := make([]float64, channels)
	for c := range channels {
		gammas[c] = math.Exp(normal(rng, std))
		for ii := c; ii < len(img.Data); ii += channels {
			img.Data[ii] = float32(math.Pow(float64(img.Data[ii]), gammas[c]))
		}
	}
	return gammas
}
