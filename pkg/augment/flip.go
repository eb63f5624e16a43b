// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"math/rand/v2"

	"github.com/gomlx/synthseg/pkg/labels"
	"github.com/gomlx/synthseg/pkg/volumes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// LeftRightAxis returns the volume axis pointing left-right: the first RAS axis of the reference affine
// (the identity if nil).
func LeftRightAxis(reference *mat.Dense, nDims int) (int, error) {
	if nDims > 3 {
		return 0, errors.Errorf("can't derive the left-right axis of a volume with %d spatial dimensions", nDims)
	}
	axes, err := volumes.RASAxes(reference, nDims)
	if err != nil {
		return 0, errors.WithMessage(err, "deriving the left-right axis from the reference affine")
	}
	return axes[0], nil
}

// RandomFlip mirrors image and labels along axis with probability 0.5, and swaps the lateral labels
// of the (dense encoded) label map with lut.
func RandomFlip(rng *rand.Rand, s *Sample, axis int, lut *labels.LookupTable) bool {
	if !coinFlip(rng, 0.5) {
		return false
	}
	Flip(s, axis, lut)
	return true
}

// Flip mirrors image and labels along axis and swaps the lateral labels. Applying it twice restores
// the original sample.
func Flip(s *Sample, axis int, lut *labels.LookupTable) {
	s.Image.FlipAxis(axis)
	s.Labels.FlipAxis(axis)
	if lut != nil {
		lut.Swap(s.Labels)
	}
}
