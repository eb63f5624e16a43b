// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Affine transform in voxel coordinates, applied around the center c of the volume:
// x -> c + Linear·(x - c) + Translation.
type Affine struct {
	Linear      *mat.Dense
	Translation []float64
}

// IdentityAffine for the given number of spatial dimensions.
func IdentityAffine(nDims int) *Affine {
	linear := mat.NewDense(nDims, nDims, nil)
	for ii := range nDims {
		linear.Set(ii, ii, 1)
	}
	return &Affine{Linear: linear, Translation: make([]float64, nDims)}
}

// IsIdentity returns whether the transform is exactly the identity.
func (a *Affine) IsIdentity() bool {
	n, _ := a.Linear.Dims()
	for row := range n {
		if a.Translation[row] != 0 {
			return false
		}
		for col := range n {
			want := 0.0
			if row == col {
				want = 1
			}
			if a.Linear.At(row, col) != want {
				return false
			}
		}
	}
	return true
}

// shearIndices are the off-diagonal positions of the shearing matrix, for 2 and 3 dimensions.
var shearIndices = map[int][][2]int{
	2: {{0, 1}, {1, 0}},
	3: {{0, 1}, {0, 2}, {1, 0}, {1, 2}, {2, 0}, {2, 1}},
}

// SampleAffine draws a random affine transform: Linear = Rotation·Shearing·Scaling, plus a translation.
//
// Each component is drawn only if its bound in p is > 0, in the order scaling, rotation, shearing and
// translation. Rotation and shearing are only defined for 2 and 3 dimensions.
func SampleAffine(rng *rand.Rand, nDims int, p *Params) *Affine {
	a := IdentityAffine(nDims)
	scaling := eye(nDims)
	if p.ScalingBounds > 0 {
		for ii := range nDims {
			scaling.Set(ii, ii, 1+symmetric(rng, p.ScalingBounds))
		}
	}
	rotation := eye(nDims)
	if p.RotationBounds > 0 && (nDims == 2 || nDims == 3) {
		rotation = rotationMatrix(rng, nDims, p.RotationBounds)
	}
	shearing := eye(nDims)
	if p.ShearingBounds > 0 && (nDims == 2 || nDims == 3) {
		for _, idx := range shearIndices[nDims] {
			shearing.Set(idx[0], idx[1], symmetric(rng, p.ShearingBounds))
		}
	}
	if p.TranslationBounds > 0 {
		for ii := range nDims {
			a.Translation[ii] = symmetric(rng, p.TranslationBounds)
		}
	}
	a.Linear.Product(rotation, shearing, scaling)
	return a
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for ii := range n {
		m.Set(ii, ii, 1)
	}
	return m
}

// rotationMatrix with angles drawn from U[-boundDegrees, boundDegrees]: one angle in 2D, three (around
// each axis, composed as Rx·Ry·Rz) in 3D.
func rotationMatrix(rng *rand.Rand, nDims int, boundDegrees float64) *mat.Dense {
	radians := func() float64 { return symmetric(rng, boundDegrees) * math.Pi / 180 }
	if nDims == 2 {
		theta := radians()
		c, s := math.Cos(theta), math.Sin(theta)
		return mat.NewDense(2, 2, []float64{c, -s, s, c})
	}
	ax, ay, az := radians(), radians(), radians()
	cx, sx := math.Cos(ax), math.Sin(ax)
	cy, sy := math.Cos(ay), math.Sin(ay)
	cz, sz := math.Cos(az), math.Sin(az)
	rx := mat.NewDense(3, 3, []float64{1, 0, 0, 0, cx, -sx, 0, sx, cx})
	ry := mat.NewDense(3, 3, []float64{cy, 0, sy, 0, 1, 0, -sy, 0, cy})
	rz := mat.NewDense(3, 3, []float64{cz, -sz, 0, sz, cz, 0, 0, 0, 1})
	r := mat.NewDense(3, 3, nil)
	r.Product(rx, ry, rz)
	return r
}
