// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"slices"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ResolveCropShape returns the output shape of the augmentation given the native volume shape, the
// requested crop shape (may be empty, or a single value used for every axis) and the divisibility
// requirement divBy (ignored if <= 1):
//
//   - A requested crop larger than the volume is clamped to the volume shape, with a warning.
//   - Each axis is rounded down to a multiple of divBy, with a warning if it changes the requested crop.
//   - Without a requested crop, the native shape is rounded down the same way.
//
// It fails if rounding leaves an axis empty (an axis smaller than divBy). This is stricter than rounding
// alone, which would return a zero-sized axis and only fail later when cropping: here it is reported as a
// configuration error when the pipeline is built.
func ResolveCropShape(nativeShape, cropShape []int, divBy int) ([]int, error) {
	n := len(nativeShape)
	if n == 0 {
		return nil, errors.New("ResolveCropShape: empty native shape")
	}
	var shape []int
	switch len(cropShape) {
	case 0:
		shape = slices.Clone(nativeShape)
	case 1:
		shape = slices.Repeat([]int{cropShape[0]}, n)
	case n:
		shape = slices.Clone(cropShape)
	default:
		return nil, errors.Errorf("crop shape %v doesn't match the %d spatial dimensions of the volumes %v",
			cropShape, n, nativeShape)
	}
	for axis, d := range shape {
		if d < 1 {
			return nil, errors.Errorf("invalid crop shape %v", cropShape)
		}
		if d > nativeShape[axis] {
			shape[axis] = nativeShape[axis]
		}
	}
	if len(cropShape) > 0 && !slices.Equal(shape, expandShape(cropShape, n)) {
		klog.Warningf("crop shape %v is larger than the volumes %v, clamped to %v", cropShape, nativeShape, shape)
	}
	if divBy > 1 {
		rounded := make([]int, n)
		for axis, d := range shape {
			rounded[axis] = (d / divBy) * divBy
			if rounded[axis] == 0 {
				return nil, errors.Errorf("crop shape %v (volumes %v) has axis %d smaller than the required divisor %d",
					shape, nativeShape, axis, divBy)
			}
		}
		if !slices.Equal(rounded, shape) {
			if len(cropShape) > 0 {
				klog.Warningf("crop shape %v is not divisible by %d, rounded down to %v", shape, divBy, rounded)
			} else {
				klog.Infof("volume shape %v is not divisible by %d, cropping to %v", shape, divBy, rounded)
			}
		}
		shape = rounded
	}
	return shape, nil
}

func expandShape(shape []int, n int) []int {
	if len(shape) == 1 && n > 1 {
		return slices.Repeat([]int{shape[0]}, n)
	}
	return shape
}
