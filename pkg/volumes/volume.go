// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package volumes holds dense n-dimensional volumes (images and label maps) and the tools to list, read and
// write them.
//
// A Volume is stored channels-last in row-major (C) order: the flat index of voxel `(i0, i1, ..., c)` is
// `((i0*d1 + i1)*d2 + ...)*channels + c`. Label maps always have one channel.
package volumes

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Number is the set of voxel types a Volume can hold.
type Number interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~int64 | ~float32 | ~float64
}

// Volume is a dense array of voxels with a spatial shape and a number of channels.
type Volume[T Number] struct {
	// Dims is the spatial shape.
	Dims []int

	// Channels per voxel, at least 1.
	Channels int

	// Data holds NumVoxels()*Channels values.
	Data []T

	// Affine is the 4x4 voxel-to-world transform, if known. It may be nil.
	Affine *mat.Dense
}

// Image is a volume of intensities.
type Image = Volume[float32]

// Labels is a single channel volume of label ids.
type Labels = Volume[int32]

// New creates a zero-filled volume.
func New[T Number](dims []int, channels int) *Volume[T] {
	v := &Volume[T]{Dims: slices.Clone(dims), Channels: channels}
	v.Data = make([]T, v.Size())
	return v
}

// FromData creates a volume backed by the given data, which must have the exact size.
func FromData[T Number](data []T, dims []int, channels int) (*Volume[T], error) {
	v := &Volume[T]{Dims: slices.Clone(dims), Channels: channels, Data: data}
	if channels < 1 {
		return nil, errors.Errorf("volume with %d channels", channels)
	}
	if len(data) != v.Size() {
		return nil, errors.Errorf("volume data has %d values, but shape %v with %d channels needs %d",
			len(data), dims, channels, v.Size())
	}
	return v, nil
}

// NumDims returns the number of spatial dimensions.
func (v *Volume[T]) NumDims() int { return len(v.Dims) }

// NumVoxels returns the number of spatial positions.
func (v *Volume[T]) NumVoxels() int {
	n := 1
	for _, d := range v.Dims {
		n *= d
	}
	return n
}

// Size returns the total number of values, NumVoxels() * Channels.
func (v *Volume[T]) Size() int { return v.NumVoxels() * v.Channels }

// String implements fmt.Stringer.
func (v *Volume[T]) String() string {
	var zero T
	return fmt.Sprintf("Volume[%T]%v(channels=%d)", zero, v.Dims, v.Channels)
}

// Strides returns, for each spatial axis, the distance in voxels (not values) between neighbours.
func (v *Volume[T]) Strides() []int {
	return Strides(v.Dims)
}

// Strides of a row-major spatial shape, in voxels.
func Strides(dims []int) []int {
	strides := make([]int, len(dims))
	s := 1
	for axis := len(dims) - 1; axis >= 0; axis-- {
		strides[axis] = s
		s *= dims[axis]
	}
	return strides
}

// Clone returns a deep copy.
func (v *Volume[T]) Clone() *Volume[T] {
	c := &Volume[T]{
		Dims:     slices.Clone(v.Dims),
		Channels: v.Channels,
		Data:     slices.Clone(v.Data),
	}
	if v.Affine != nil {
		c.Affine = mat.DenseCopyOf(v.Affine)
	}
	return c
}

// SameSpatialShape returns whether both volumes have the same spatial shape.
func SameSpatialShape[T1, T2 Number](v1 *Volume[T1], v2 *Volume[T2]) bool {
	return slices.Equal(v1.Dims, v2.Dims)
}

// Index returns the flat index of the given voxel position and channel.
func (v *Volume[T]) Index(pos []int, channel int) int {
	idx := 0
	for axis, p := range pos {
		idx = idx*v.Dims[axis] + p
	}
	return idx*v.Channels + channel
}

// At returns the value at the given voxel and channel.
func (v *Volume[T]) At(pos []int, channel int) T { return v.Data[v.Index(pos, channel)] }

// Set the value at the given voxel and channel.
func (v *Volume[T]) Set(pos []int, channel int, value T) { v.Data[v.Index(pos, channel)] = value }

// Channel returns a single channel volume with a copy of the given channel.
func (v *Volume[T]) Channel(channel int) *Volume[T] {
	out := New[T](v.Dims, 1)
	for voxel := range v.NumVoxels() {
		out.Data[voxel] = v.Data[voxel*v.Channels+channel]
	}
	return out
}

// Convert returns a copy of the volume with values converted to type T2.
func Convert[T2, T1 Number](v *Volume[T1]) *Volume[T2] {
	out := &Volume[T2]{Dims: slices.Clone(v.Dims), Channels: v.Channels, Affine: v.Affine}
	out.Data = make([]T2, len(v.Data))
	for ii, value := range v.Data {
		out.Data[ii] = T2(value)
	}
	return out
}

// FlipAxis mirrors the volume in place along the given spatial axis.
func (v *Volume[T]) FlipAxis(axis int) {
	dim := v.Dims[axis]
	if dim < 2 {
		return
	}
	// Each "row" along axis has stride `inner` values; `outer` blocks of dim*inner values.
	inner := v.Channels
	for a := axis + 1; a < len(v.Dims); a++ {
		inner *= v.Dims[a]
	}
	outer := len(v.Data) / (dim * inner)
	for o := range outer {
		base := o * dim * inner
		for lo, hi := 0, dim-1; lo < hi; lo, hi = lo+1, hi-1 {
			loRow := v.Data[base+lo*inner : base+(lo+1)*inner]
			hiRow := v.Data[base+hi*inner : base+(hi+1)*inner]
			for ii := range loRow {
				loRow[ii], hiRow[ii] = hiRow[ii], loRow[ii]
			}
		}
	}
}

// Permute returns a new volume whose axis ii is the axis perm[ii] of v.
func (v *Volume[T]) Permute(perm []int) (*Volume[T], error) {
	n := len(v.Dims)
	if len(perm) != n {
		return nil, errors.Errorf("permutation %v doesn't match %d spatial axes", perm, n)
	}
	seen := make([]bool, n)
	for _, p := range perm {
		if p < 0 || p >= n || seen[p] {
			return nil, errors.Errorf("invalid axes permutation %v", perm)
		}
		seen[p] = true
	}
	newDims := make([]int, n)
	for ii, p := range perm {
		newDims[ii] = v.Dims[p]
	}
	out := New[T](newDims, v.Channels)
	srcStrides := v.Strides()
	pos := make([]int, n)
	for voxel := range out.NumVoxels() {
		srcVoxel := 0
		for ii := range n {
			srcVoxel += pos[ii] * srcStrides[perm[ii]]
		}
		copy(out.Data[voxel*v.Channels:(voxel+1)*v.Channels], v.Data[srcVoxel*v.Channels:(srcVoxel+1)*v.Channels])
		increment(pos, newDims)
	}
	return out, nil
}

// Crop returns a copy of the sub-volume starting at offset with the given spatial shape.
func (v *Volume[T]) Crop(offset, shape []int) (*Volume[T], error) {
	if len(offset) != len(v.Dims) || len(shape) != len(v.Dims) {
		return nil, errors.Errorf("crop offset %v and shape %v must have %d axes", offset, shape, len(v.Dims))
	}
	for axis := range v.Dims {
		if offset[axis] < 0 || shape[axis] < 1 || offset[axis]+shape[axis] > v.Dims[axis] {
			return nil, errors.Errorf("crop offset %v, shape %v out of bounds for volume %v", offset, shape, v.Dims)
		}
	}
	out := New[T](shape, v.Channels)
	srcStrides := v.Strides()
	last := len(shape) - 1
	rowLen := shape[last] * v.Channels
	pos := make([]int, len(shape))
	outRows := out.NumVoxels() / shape[last]
	for row := range outRows {
		src := 0
		for axis := range shape {
			src += (pos[axis] + offset[axis]) * srcStrides[axis]
		}
		copy(out.Data[row*rowLen:(row+1)*rowLen], v.Data[src*v.Channels:src*v.Channels+rowLen])
		// Move to the next row: increment all but the last axis.
		increment(pos[:last], shape[:last])
	}
	return out, nil
}

// increment pos as an odometer over dims, the last axis moving fastest.
func increment(pos, dims []int) {
	for axis := len(dims) - 1; axis >= 0; axis-- {
		pos[axis]++
		if pos[axis] < dims[axis] {
			return
		}
		pos[axis] = 0
	}
}
