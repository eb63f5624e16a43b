// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package volumes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// iota3D returns a [2,3,4] volume with values 0..23.
func iota3D() *Volume[int32] {
	v := New[int32]([]int{2, 3, 4}, 1)
	for ii := range v.Data {
		v.Data[ii] = int32(ii)
	}
	return v
}

func TestVolumeIndexing(t *testing.T) {
	v := iota3D()
	assert.Equal(t, 3, v.NumDims())
	assert.Equal(t, 24, v.NumVoxels())
	assert.Equal(t, []int{12, 4, 1}, v.Strides())
	assert.Equal(t, int32(1*12+2*4+3), v.At([]int{1, 2, 3}, 0))
	v.Set([]int{0, 1, 0}, 0, -1)
	assert.Equal(t, int32(-1), v.Data[4])

	_, err := FromData([]float32{1, 2, 3}, []int{2, 2}, 1)
	require.Error(t, err)
	rgb, err := FromData([]float32{1, 2, 3, 4, 5, 6}, []int{2}, 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 5}, rgb.Channel(1).Data)
}

func TestFlipAxis(t *testing.T) {
	v := iota3D()
	original := v.Clone()
	v.FlipAxis(1)
	assert.Equal(t, original.At([]int{1, 0, 2}, 0), v.At([]int{1, 2, 2}, 0))
	assert.Equal(t, original.At([]int{0, 1, 3}, 0), v.At([]int{0, 1, 3}, 0))
	v.FlipAxis(1)
	assert.Equal(t, original.Data, v.Data)

	// Multi-channel: channels move together.
	rgb, err := FromData([]float32{1, 2, 3, 4, 5, 6}, []int{2}, 3)
	require.NoError(t, err)
	rgb.FlipAxis(0)
	assert.Equal(t, []float32{4, 5, 6, 1, 2, 3}, rgb.Data)
}

func TestPermuteAndCrop(t *testing.T) {
	v := iota3D()
	p, err := v.Permute([]int{2, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2, 3}, p.Dims)
	assert.Equal(t, v.At([]int{1, 2, 3}, 0), p.At([]int{3, 1, 2}, 0))
	_, err = v.Permute([]int{0, 0, 1})
	require.Error(t, err)

	c, err := v.Crop([]int{1, 1, 2}, []int{1, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, []int32{18, 19, 22, 23}, c.Data)
	_, err = v.Crop([]int{1, 1, 3}, []int{1, 2, 2})
	require.Error(t, err)
}

func TestAlignToRAS(t *testing.T) {
	// Axis 0 of the volume points to Anterior, axis 1 to Left (negative Right).
	v := New[float32]([]int{2, 3}, 1)
	for ii := range v.Data {
		v.Data[ii] = float32(ii)
	}
	v.Affine = mat.NewDense(4, 4, []float64{
		0, -1, 0, 10,
		1, 0, 0, 20,
		0, 0, 1, 30,
		0, 0, 0, 1,
	})
	axes, err := RASAxes(v.Affine, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, axes)

	aligned, err := AlignToRAS(v)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, aligned.Dims)
	assert.InDelta(t, 1.0, aligned.Affine.At(0, 0), 1e-9)
	assert.InDelta(t, 1.0, aligned.Affine.At(1, 1), 1e-9)
	// New voxel (0, 0) is old voxel (0, 2): world x = 10 - 2.
	assert.InDelta(t, 8.0, aligned.Affine.At(0, 3), 1e-9)
	assert.Equal(t, v.At([]int{0, 2}, 0), aligned.At([]int{0, 0}, 0))
	assert.Equal(t, v.At([]int{1, 0}, 0), aligned.At([]int{2, 1}, 0))
}
