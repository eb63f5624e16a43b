// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package volumes

import (
	"math"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Identity returns a 4x4 identity affine.
func Identity() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// RASAxes returns, for each of the world directions Right, Anterior and Superior (only the first nDims),
// the volume axis that is mostly aligned with it.
//
// If two world directions map to the same axis (very oblique affines), the duplicate is reassigned to the
// axis left unused.
func RASAxes(affine *mat.Dense, nDims int) ([]int, error) {
	if nDims < 1 || nDims > 3 {
		return nil, errors.Errorf("RASAxes supports 1 to 3 spatial dimensions, got %d", nDims)
	}
	if affine == nil {
		affine = Identity()
	}
	var inv mat.Dense
	if err := inv.Inverse(affine); err != nil {
		return nil, errors.Wrapf(err, "affine matrix is not invertible")
	}
	axes := make([]int, nDims)
	for world := range nDims {
		best, bestValue := 0, -1.0
		for axis := range nDims {
			if value := math.Abs(inv.At(axis, world)); value > bestValue {
				best, bestValue = axis, value
			}
		}
		axes[world] = best
	}
	for axis := range nDims {
		if slices.Contains(axes, axis) {
			continue
		}
		// Reassign the last duplicate to the missing axis.
		for world := nDims - 1; world >= 0; world-- {
			if slices.Index(axes, axes[world]) != world {
				klog.V(1).Infof("RASAxes: oblique affine, reassigning world direction %d from axis %d to %d",
					world, axes[world], axis)
				axes[world] = axis
				break
			}
		}
	}
	return axes, nil
}

// AlignToRAS returns a copy of the volume with its axes permuted and flipped such that axis 0 grows towards
// Right, axis 1 towards Anterior and axis 2 towards Superior. The returned Affine is updated accordingly.
//
// Volumes without an affine are returned unchanged (as a copy).
func AlignToRAS[T Number](v *Volume[T]) (*Volume[T], error) {
	if v.Affine == nil {
		return v.Clone(), nil
	}
	nDims := v.NumDims()
	if nDims > 3 {
		return nil, errors.Errorf("AlignToRAS supports up to 3 spatial dimensions, volume has %d", nDims)
	}
	axes, err := RASAxes(v.Affine, nDims)
	if err != nil {
		return nil, err
	}
	out, err := v.Permute(axes)
	if err != nil {
		return nil, err
	}
	affine := mat.DenseCopyOf(v.Affine)
	for ii, src := range axes {
		for row := range 4 {
			affine.Set(row, ii, v.Affine.At(row, src))
		}
	}
	for axis := range nDims {
		if affine.At(axis, axis) >= 0 {
			continue
		}
		out.FlipAxis(axis)
		n := float64(out.Dims[axis] - 1)
		for row := range 3 {
			affine.Set(row, 3, affine.At(row, 3)+affine.At(row, axis)*n)
			affine.Set(row, axis, -affine.At(row, axis))
		}
	}
	out.Affine = affine
	return out, nil
}
