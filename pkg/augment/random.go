// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// NewRNG returns the random number generator for a seed.
func NewRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// symmetric draws from U[-bound, bound].
func symmetric(rng *rand.Rand, bound float64) float64 {
	return distuv.Uniform{Min: -bound, Max: bound, Src: rng}.Rand()
}

// normal draws from N(0, std).
func normal(rng *rand.Rand, std float64) float64 {
	return distuv.Normal{Mu: 0, Sigma: std, Src: rng}.Rand()
}

// coinFlip returns true with probability p.
func coinFlip(rng *rand.Rand, p float64) bool {
	return distuv.Bernoulli{P: p, Src: rng}.Rand() == 1
}
