// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"math"
	"math/rand/v2"
	"slices"

	"github.com/gomlx/bsplines"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/synthseg/internal/workerspool"
	"github.com/gomlx/synthseg/pkg/volumes"
)

// Field is a dense float64 volume, used for displacement and bias fields.
type Field = volumes.Volume[float64]

// CoarseShape returns the shape of the coarse grid of a field with the given factor: each axis is
// ceil(d*factor), at least 2 (and at most d).
func CoarseShape(shape []int, factor float64) []int {
	coarse := make([]int, len(shape))
	for axis, d := range shape {
		c := int(math.Ceil(float64(d) * factor))
		coarse[axis] = min(d, max(2, c))
	}
	return coarse
}

// SmoothField samples a random smooth field of the given shape with channels values per voxel.
//
// Values are drawn from N(0, std) on a coarse grid (see CoarseShape) and upsampled to the full shape with
// the given interpolation. The draws are done in the calling goroutine in a fixed order, so the field only
// depends on the state of rng.
func SmoothField(rng *rand.Rand, shape []int, channels int, factor, std float64, kind Interpolation,
	pool *workerspool.Pool) *Field {
	coarse := volumes.New[float64](CoarseShape(shape, factor), channels)
	for ii := range coarse.Data {
		coarse.Data[ii] = normal(rng, std)
	}
	return Upsample(coarse, shape, kind, pool)
}

// Upsample resizes the field to the given shape, one axis at a time.
func Upsample(field *Field, shape []int, kind Interpolation, pool *workerspool.Pool) *Field {
	if len(shape) != field.NumDims() {
		exceptions.Panicf("Upsample: field %s and target shape %v have different ranks", field, shape)
	}
	for axis, d := range shape {
		if field.Dims[axis] != d {
			field = resizeAxis(field, axis, d, kind, pool)
		}
	}
	return field
}

// weight of a source index on an output index.
type weight struct {
	src int
	w   float64
}

// interpolationWeights returns, for each of the newDim output positions, the weights of the n input
// positions. Output position 0 is aligned with input 0, and newDim-1 with n-1.
func interpolationWeights(kind Interpolation, n, newDim int) [][]weight {
	weights := make([][]weight, newDim)
	position := func(ii int) float64 {
		if newDim == 1 {
			return 0
		}
		return float64(ii) / float64(newDim-1)
	}
	if n == 1 {
		for ii := range weights {
			weights[ii] = []weight{{0, 1}}
		}
		return weights
	}
	switch kind {
	case Linear:
		for ii := range weights {
			x := position(ii) * float64(n-1)
			j0 := min(int(math.Floor(x)), n-2)
			f := x - float64(j0)
			weights[ii] = []weight{{j0, 1 - f}, {j0 + 1, f}}
		}
	case BSpline:
		// The spline is linear in its control points: evaluate the basis of each one.
		degree := min(3, n-1)
		unit := make([]float64, n)
		for j := range n {
			unit[j] = 1
			b := bsplines.NewRegular(degree, n).WithControlPoints(slices.Clone(unit)).
				WithExtrapolation(bsplines.ExtrapolateLinear)
			unit[j] = 0
			for ii := range weights {
				if w := b.Evaluate(position(ii)); math.Abs(w) > 1e-9 {
					weights[ii] = append(weights[ii], weight{j, w})
				}
			}
		}
	default:
		exceptions.Panicf("unknown interpolation %s", kind)
	}
	return weights
}

// resizeAxis interpolates the field along one axis to the new dimension.
func resizeAxis(field *Field, axis, newDim int, kind Interpolation, pool *workerspool.Pool) *Field {
	n := field.Dims[axis]
	newDims := slices.Clone(field.Dims)
	newDims[axis] = newDim
	out := volumes.New[float64](newDims, field.Channels)
	out.Affine = field.Affine
	weights := interpolationWeights(kind, n, newDim)
	outer := 1
	for _, d := range field.Dims[:axis] {
		outer *= d
	}
	inner := field.Channels
	for _, d := range field.Dims[axis+1:] {
		inner *= d
	}
	numRows := outer * newDim
	pool.ParallelFor(numRows, max(1, workerspool.MinChunk/inner), func(start, end int) {
		for row := start; row < end; row++ {
			o, ii := row/newDim, row%newDim
			dst := out.Data[row*inner : (row+1)*inner]
			for _, w := range weights[ii] {
				src := field.Data[(o*n+w.src)*inner : (o*n+w.src+1)*inner]
				for k, value := range src {
					dst[k] += w.w * value
				}
			}
		}
	})
	return out
}
